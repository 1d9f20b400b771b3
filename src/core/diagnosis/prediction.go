package diagnosis

import (
	"errors"

	"github.com/shopspring/decimal"
)

// confidencePlaces 置信度保留的小数位数
const confidencePlaces = 4

// ErrEmptyPredictions 预测结果为空
var ErrEmptyPredictions = errors.New("预测结果为空")

// Prediction 单个类别的预测结果
type Prediction struct {
	Code       string
	Confidence decimal.Decimal
}

// PredictionSet 病害代码到置信度的有序映射，创建后不可修改。
// 顺序与上游返回顺序一致，重复的代码覆盖先前的值但保留原位置。
type PredictionSet struct {
	entries []Prediction
}

// NewPredictionSet 创建预测结果集，置信度四舍五入到4位小数
func NewPredictionSet(predictions []Prediction) (PredictionSet, error) {
	entries := make([]Prediction, 0, len(predictions))
	index := make(map[string]int, len(predictions))

	for _, p := range predictions {
		p.Confidence = p.Confidence.Round(confidencePlaces)
		if i, ok := index[p.Code]; ok {
			entries[i].Confidence = p.Confidence
			continue
		}
		index[p.Code] = len(entries)
		entries = append(entries, p)
	}

	if len(entries) == 0 {
		return PredictionSet{}, ErrEmptyPredictions
	}
	return PredictionSet{entries: entries}, nil
}

// FromFloat 使用浮点置信度构造预测
func FromFloat(code string, confidence float64) Prediction {
	return Prediction{Code: code, Confidence: decimal.NewFromFloat(confidence)}
}

// Len 返回类别数量
func (s PredictionSet) Len() int {
	return len(s.entries)
}

// Entries 返回预测结果副本
func (s PredictionSet) Entries() []Prediction {
	out := make([]Prediction, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get 查询某个类别的置信度
func (s PredictionSet) Get(code string) (decimal.Decimal, bool) {
	for _, p := range s.entries {
		if p.Code == code {
			return p.Confidence, true
		}
	}
	return decimal.Zero, false
}

// Top 返回置信度最高的预测，置信度相同时先出现者优先
func (s PredictionSet) Top() (Prediction, bool) {
	if len(s.entries) == 0 {
		return Prediction{}, false
	}
	top := s.entries[0]
	for _, p := range s.entries[1:] {
		if p.Confidence.GreaterThan(top.Confidence) {
			top = p
		}
	}
	return top, true
}

// Floats 转换为 code -> float64 映射，用于响应和持久化
func (s PredictionSet) Floats() map[string]float64 {
	out := make(map[string]float64, len(s.entries))
	for _, p := range s.entries {
		out[p.Code] = p.Confidence.InexactFloat64()
	}
	return out
}
