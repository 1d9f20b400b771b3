package mock

import (
	"context"
	"fmt"
	"math/rand"

	"scnai-plant-server/src/core/diagnosis"
	"scnai-plant-server/src/core/providers/inference"
	"scnai-plant-server/src/core/utils"
)

// Provider 本地开发用的随机识别提供者，不访问网络
type Provider struct {
	codes  []string
	logger *utils.TaggedLogger
}

// NewProvider 创建随机识别提供者
func NewProvider(config *inference.Config, logger *utils.Logger) (*Provider, error) {
	if len(config.Codes) == 0 {
		return nil, fmt.Errorf("mock识别提供者需要至少一个病害代码")
	}
	return &Provider{
		codes:  append([]string(nil), config.Codes...),
		logger: logger.WithTag("inference"),
	}, nil
}

// Initialize 初始化提供者
func (p *Provider) Initialize() error {
	p.logger.Warn("使用mock识别提供者，结果为随机生成", map[string]interface{}{
		"codes": len(p.codes),
	})
	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}

// Predict 返回归一化后的随机置信度
func (p *Provider) Predict(ctx context.Context, image []byte, filename string) (diagnosis.PredictionSet, error) {
	if err := ctx.Err(); err != nil {
		return diagnosis.PredictionSet{}, &inference.Error{Message: "请求已取消", Err: err}
	}

	weights := make([]float64, len(p.codes))
	var total float64
	for i := range weights {
		weights[i] = rand.Float64() + 0.01
		total += weights[i]
	}

	predictions := make([]diagnosis.Prediction, len(p.codes))
	for i, code := range p.codes {
		predictions[i] = diagnosis.FromFloat(code, weights[i]/total)
	}
	return diagnosis.NewPredictionSet(predictions)
}

// Health mock 提供者始终可用
func (p *Provider) Health(ctx context.Context) error {
	return nil
}

func init() {
	inference.Register("mock", func(config *inference.Config, logger *utils.Logger) (inference.Provider, error) {
		return NewProvider(config, logger)
	})
}
