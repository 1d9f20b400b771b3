package chat

import "fmt"

// 流式事件类型
const (
	EventStart    = "start"
	EventChunk    = "chunk"
	EventComplete = "complete"
	EventError    = "error"
)

// StreamEvent 推送给调用方的流式事件
type StreamEvent struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// IsTerminal 是否为结束事件
func (e StreamEvent) IsTerminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Turn 一次问答请求
type Turn struct {
	Message   string
	History   []Message
	SessionID string
	UserID    int64
}

// UpstreamError 对话会话失败原因，作为 error 事件的内容
type UpstreamError struct {
	Reason string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
