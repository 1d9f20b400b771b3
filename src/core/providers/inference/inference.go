package inference

import (
	"context"
	"fmt"
	"time"

	"scnai-plant-server/src/core/diagnosis"
	"scnai-plant-server/src/core/providers"
	"scnai-plant-server/src/core/utils"
)

// Config 识别服务配置
type Config struct {
	Type           string
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Codes          []string // 可识别的病害代码，mock 使用
}

// Provider 图像识别提供者接口
type Provider interface {
	providers.Provider
	// Predict 对图片进行一次识别，不做重试
	Predict(ctx context.Context, image []byte, filename string) (diagnosis.PredictionSet, error)
	// Health 检查远程服务是否可用
	Health(ctx context.Context) error
}

// Error 识别服务调用失败
type Error struct {
	Message    string
	StatusCode int    // 上游HTTP状态码，未收到响应时为0
	Body       string // 上游响应体，可能被截断
	Err        error
}

func (e *Error) Error() string {
	msg := "调用AI服务失败: " + e.Message
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += " - " + e.Body
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Factory 识别提供者工厂函数类型
type Factory func(config *Config, logger *utils.Logger) (Provider, error)

var (
	factories = make(map[string]Factory)
)

// Register 注册识别提供者工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 创建识别提供者实例
func Create(name string, config *Config, logger *utils.Logger) (Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未知的识别提供者: %s", name)
	}

	provider, err := factory(config, logger)
	if err != nil {
		return nil, fmt.Errorf("创建识别提供者失败: %v", err)
	}

	if err := provider.Initialize(); err != nil {
		return nil, fmt.Errorf("初始化识别提供者失败: %v", err)
	}

	return provider, nil
}
