package providers

import (
	"scnai-plant-server/src/core/types"
)

// Provider 所有提供者的基础接口
type Provider interface {
	Initialize() error
	Cleanup() error
}

// Message 对话消息
type Message = types.Message
