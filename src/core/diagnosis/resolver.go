package diagnosis

import (
	"github.com/shopspring/decimal"
)

// 严重程度
const (
	SeverityHealthy  = "健康"
	SeverityMild     = "轻度"
	SeverityModerate = "中度"
	SeveritySevere   = "重度"
)

var (
	severeThreshold   = decimal.RequireFromString("0.8")
	moderateThreshold = decimal.RequireFromString("0.5")
)

// Outcome 诊断结果，由预测结果集和分类表推导
type Outcome struct {
	Code       string
	Confidence decimal.Decimal
	Name       string
	Symptoms   string
	Treatment  string
	Severity   string
}

// Resolver 诊断解析器
type Resolver struct {
	taxonomy *Taxonomy
}

// NewResolver 创建诊断解析器
func NewResolver(taxonomy *Taxonomy) *Resolver {
	return &Resolver{taxonomy: taxonomy}
}

// Taxonomy 返回使用的分类表
func (r *Resolver) Taxonomy() *Taxonomy {
	return r.taxonomy
}

// Resolve 选出置信度最高的类别并计算严重程度
func (r *Resolver) Resolve(set PredictionSet) (Outcome, error) {
	top, ok := set.Top()
	if !ok {
		return Outcome{}, ErrEmptyPredictions
	}

	disease, _ := r.taxonomy.Lookup(top.Code)
	return Outcome{
		Code:       top.Code,
		Confidence: top.Confidence,
		Name:       disease.Name,
		Symptoms:   disease.Symptoms,
		Treatment:  disease.Treatment,
		Severity:   r.Severity(top.Code, top.Confidence),
	}, nil
}

// Severity 严重程度判定，阈值为严格大于
func (r *Resolver) Severity(code string, confidence decimal.Decimal) string {
	if r.taxonomy.IsHealthy(code) {
		return SeverityHealthy
	}
	switch {
	case confidence.GreaterThan(severeThreshold):
		return SeveritySevere
	case confidence.GreaterThan(moderateThreshold):
		return SeverityModerate
	default:
		return SeverityMild
	}
}
