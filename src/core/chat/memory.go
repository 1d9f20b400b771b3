package chat

import (
	"context"
)

// TurnRecord 一轮完成的问答
type TurnRecord struct {
	UserID    int64
	SessionID string
	Question  string
	Answer    string
	ModelName string
}

// HistoryStore 定义对话历史持久化接口
type HistoryStore interface {
	// SaveTurn 保存一轮问答
	SaveTurn(ctx context.Context, record TurnRecord) error

	// LoadHistory 按时间顺序返回该用户在会话中最近的 limit 条消息
	LoadHistory(ctx context.Context, userID int64, sessionID string, limit int) ([]Message, error)
}
