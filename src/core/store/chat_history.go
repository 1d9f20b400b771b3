package store

import (
	"context"

	"gorm.io/gorm"

	"scnai-plant-server/src/core/chat"
	"scnai-plant-server/src/models"
)

// ChatHistoryStore 对话历史仓储
type ChatHistoryStore struct {
	db *gorm.DB
}

// NewChatHistoryStore 创建对话历史仓储
func NewChatHistoryStore(db *gorm.DB) *ChatHistoryStore {
	return &ChatHistoryStore{db: db}
}

// SaveTurn 在同一事务中保存问题和回答
func (s *ChatHistoryStore) SaveTurn(ctx context.Context, record chat.TurnRecord) error {
	rows := []models.ChatHistory{
		{
			UserID:    record.UserID,
			SessionID: record.SessionID,
			Role:      models.ChatRoleUser,
			Message:   record.Question,
		},
		{
			UserID:    record.UserID,
			SessionID: record.SessionID,
			Role:      models.ChatRoleAssistant,
			Message:   record.Answer,
			ModelName: record.ModelName,
		},
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	return wrap("保存对话历史", err)
}

// LoadHistory 返回用户在会话中最近的 limit 条消息，按时间正序；
// 其他用户在同一会话ID下的消息不可见
func (s *ChatHistoryStore) LoadHistory(ctx context.Context, userID int64, sessionID string, limit int) ([]chat.Message, error) {
	var rows []models.ChatHistory
	query := s.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrap("查询对话历史", err)
	}

	messages := make([]chat.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		messages = append(messages, chat.Message{Role: rows[i].Role, Content: rows[i].Message})
	}
	return messages, nil
}
