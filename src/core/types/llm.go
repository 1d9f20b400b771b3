package types

import (
	"context"
)

// 对话角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 对话消息结构
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IsHistoryRole 历史消息只允许 user 和 assistant
func IsHistoryRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// Provider 基础提供者接口
type Provider interface {
	Initialize() error
	Cleanup() error
}

// LLMStream 流式响应读取器
//
// Recv 每次返回一段非空文本；收到结束标记后返回 io.EOF，
// 连接在结束标记前关闭时返回 llm.ErrStreamTruncated，读取失败返回底层错误。
type LLMStream interface {
	Recv() (string, error)
	Close() error
}

// LLMProvider 大语言模型提供者接口
type LLMProvider interface {
	Provider
	// OpenStream 发起流式请求，返回时上游已响应2xx
	OpenStream(ctx context.Context, messages []Message) (LLMStream, error)
}
