package chat

import (
	"strings"

	"scnai-plant-server/src/core/types"
)

type Message = types.Message

// DialogueManager 组装一次请求的对话上下文
type DialogueManager struct {
	systemPrompt string
	maxHistory   int
	dialogue     []Message
}

// NewDialogueManager 创建对话管理器实例，maxHistory<=0 表示不限制
func NewDialogueManager(systemPrompt string, maxHistory int) *DialogueManager {
	return &DialogueManager{
		systemPrompt: systemPrompt,
		maxHistory:   maxHistory,
		dialogue:     make([]Message, 0),
	}
}

// LoadHistory 载入历史消息，丢弃非法角色和空内容，只保留最近 maxHistory 条
func (dm *DialogueManager) LoadHistory(history []Message) {
	kept := make([]Message, 0, len(history))
	for _, msg := range history {
		if !types.IsHistoryRole(msg.Role) || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		kept = append(kept, msg)
	}
	if dm.maxHistory > 0 && len(kept) > dm.maxHistory {
		kept = kept[len(kept)-dm.maxHistory:]
	}
	dm.dialogue = append(dm.dialogue, kept...)
}

// Put 添加新消息到对话
func (dm *DialogueManager) Put(message Message) {
	dm.dialogue = append(dm.dialogue, message)
}

// GetLLMDialogue 获取发送给模型的完整消息列表，系统提示在最前
func (dm *DialogueManager) GetLLMDialogue() []Message {
	if dm.systemPrompt == "" {
		return dm.dialogue
	}
	dialogue := make([]Message, 0, len(dm.dialogue)+1)
	dialogue = append(dialogue, Message{Role: types.RoleSystem, Content: dm.systemPrompt})
	dialogue = append(dialogue, dm.dialogue...)
	return dialogue
}
