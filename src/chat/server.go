package chat

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"scnai-plant-server/src/core/auth"
	corechat "scnai-plant-server/src/core/chat"
	"scnai-plant-server/src/core/types"
	"scnai-plant-server/src/core/utils"
)

const (
	// sseEventName SSE事件名，事件类型放在data的type字段中
	sseEventName = "message"
	// SessionHeader 响应头中返回的会话ID
	SessionHeader = "X-Session-Id"
	// ErrorCode 请求格式错误时返回的错误码
	ErrorCode = "CHAT_FAILED"
)

// Opener 打开一次流式问答
type Opener interface {
	Open(ctx context.Context, turn corechat.Turn) <-chan corechat.StreamEvent
}

// StreamRequest 问答请求体
type StreamRequest struct {
	Message   string          `json:"message"`
	History   []types.Message `json:"history"`
	SessionID string          `json:"sessionId"`
}

type DefaultChatService struct {
	logger *utils.Logger
	relay  Opener
	model  string
	guards []gin.HandlerFunc
}

// NewDefaultChatService 构造函数，guards 为问答接口前置的中间件
func NewDefaultChatService(logger *utils.Logger, relay Opener, model string, guards ...gin.HandlerFunc) *DefaultChatService {
	return &DefaultChatService{
		logger: logger,
		relay:  relay,
		model:  model,
		guards: guards,
	}
}

// Start 实现 ChatService 接口
func (s *DefaultChatService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	apiGroup.GET("/chat", s.handleGet)
	apiGroup.POST("/chat/stream", append(s.guards, s.handleStream)...)

	s.logger.Info("Chat HTTP服务路由注册完成")
	return nil
}

func (s *DefaultChatService) handleGet(c *gin.Context) {
	c.JSON(http.StatusOK, types.Ok(gin.H{
		"status": "running",
		"model":  s.model,
	}, "智能问答服务运行正常"))
}

// handleStream 以SSE推送问答事件，每个事件的data为JSON编码的 StreamEvent
func (s *DefaultChatService) handleStream(c *gin.Context) {
	var req StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.Fail(ErrorCode, "请求格式不正确"))
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	turn := corechat.Turn{
		Message:   req.Message,
		History:   req.History,
		SessionID: sessionID,
		UserID:    auth.UserID(c),
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header(SessionHeader, sessionID)

	events := s.relay.Open(c.Request.Context(), turn)
	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(sseEventName, ev)
		return !ev.IsTerminal()
	})

	s.logger.Debug("问答会话结束", map[string]interface{}{
		"session_id": sessionID,
		"user_id":    turn.UserID,
	})
}
