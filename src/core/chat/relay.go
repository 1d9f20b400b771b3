package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"scnai-plant-server/src/configs"
	"scnai-plant-server/src/core/metrics"
	"scnai-plant-server/src/core/providers/llm"
	"scnai-plant-server/src/core/types"
	"scnai-plant-server/src/core/utils"
)

const (
	defaultMaxSessions    = 64
	defaultSessionTimeout = 120 * time.Second
	eventBuffer           = 16
	persistTimeout        = 5 * time.Second
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateStarted
	stateStreaming
	stateCompleted
	stateFailed
)

// Relay 将上游流式对话转换为统一的事件序列
type Relay struct {
	provider types.LLMProvider
	history  HistoryStore
	config   *configs.ChatConfig
	sessions *semaphore.Weighted
	timeout  time.Duration
	logger   *utils.TaggedLogger
	now      func() time.Time
}

// NewRelay 创建对话中继，history 可以为 nil
func NewRelay(provider types.LLMProvider, history HistoryStore, config *configs.ChatConfig, logger *utils.Logger) *Relay {
	maxSessions := config.MaxSessions
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	timeout := config.SessionTimeout
	if timeout <= 0 {
		timeout = defaultSessionTimeout
	}
	return &Relay{
		provider: provider,
		history:  history,
		config:   config,
		sessions: semaphore.NewWeighted(maxSessions),
		timeout:  timeout,
		logger:   logger.WithTag("chat"),
		now:      time.Now,
	}
}

// Open 在独立goroutine中运行一次会话。
// 返回的通道按产生顺序投递事件，以恰好一个 complete 或 error 事件结束后关闭；
// ctx 取消时上游请求随之取消，通道关闭且不保证有结束事件。
func (r *Relay) Open(ctx context.Context, turn Turn) <-chan StreamEvent {
	events := make(chan StreamEvent, eventBuffer)
	go r.run(ctx, turn, events)
	return events
}

// session 单次会话状态，只在会话goroutine内访问
type session struct {
	ctx    context.Context
	events chan<- StreamEvent
	state  sessionState
}

func (s *session) send(ev StreamEvent) bool {
	if s.state == stateCompleted || s.state == stateFailed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		s.state = stateFailed
		return false
	}
}

func (s *session) fail(err error) {
	s.send(StreamEvent{Type: EventError, Content: err.Error()})
	s.state = stateFailed
	metrics.ChatSessionsTotal.WithLabelValues(EventError).Inc()
}

func (s *session) complete(text string) bool {
	ok := s.send(StreamEvent{Type: EventComplete, Content: text})
	if ok {
		s.state = stateCompleted
		metrics.ChatSessionsTotal.WithLabelValues(EventComplete).Inc()
	}
	return ok
}

func (r *Relay) run(ctx context.Context, turn Turn, events chan<- StreamEvent) {
	defer close(events)
	s := &session{ctx: ctx, events: events, state: stateIdle}

	if strings.TrimSpace(turn.Message) == "" {
		s.fail(&UpstreamError{Reason: "消息不能为空"})
		return
	}

	if !r.sessions.TryAcquire(1) {
		r.logger.Warn("对话会话数已达上限", map[string]interface{}{
			"max_sessions": r.config.MaxSessions,
		})
		s.fail(&UpstreamError{Reason: "当前咨询人数过多，请稍后再试"})
		return
	}
	defer r.sessions.Release(1)

	metrics.ChatSessionsInFlight.Inc()
	defer metrics.ChatSessionsInFlight.Dec()

	sessionCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stream, err := r.provider.OpenStream(sessionCtx, r.buildMessages(ctx, turn))
	if err != nil {
		r.logger.Error("打开对话流失败", map[string]interface{}{
			"session_id": turn.SessionID,
			"error":      err.Error(),
		})
		s.fail(r.describe(ctx, sessionCtx, err))
		return
	}
	defer stream.Close()

	if !s.send(StreamEvent{Type: EventStart, Timestamp: r.now().UnixMilli()}) {
		return
	}
	s.state = stateStarted

	var answer strings.Builder
	for {
		part, err := stream.Recv()
		if err == nil {
			answer.WriteString(part)
			if !s.send(StreamEvent{Type: EventChunk, Content: part}) {
				return
			}
			s.state = stateStreaming
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
		case errors.Is(err, llm.ErrStreamTruncated) && answer.Len() > 0 && sessionCtx.Err() == nil:
			r.logger.Warn("上游未发送结束标记，按已接收内容完成", map[string]interface{}{
				"session_id": turn.SessionID,
				"length":     answer.Len(),
			})
		default:
			r.logger.Error("读取对话流失败", map[string]interface{}{
				"session_id": turn.SessionID,
				"error":      err.Error(),
			})
			s.fail(r.describe(ctx, sessionCtx, err))
			return
		}
		break
	}

	if s.complete(answer.String()) {
		r.persist(ctx, turn, answer.String())
	}
}

// buildMessages 系统提示 + 历史 + 本轮问题
func (r *Relay) buildMessages(ctx context.Context, turn Turn) []Message {
	dm := NewDialogueManager(r.config.SystemPrompt, r.config.MaxHistory)

	history := turn.History
	if len(history) == 0 && turn.SessionID != "" && r.history != nil {
		loaded, err := r.history.LoadHistory(ctx, turn.UserID, turn.SessionID, r.config.MaxHistory)
		if err != nil {
			r.logger.Warn("加载会话历史失败", map[string]interface{}{
				"session_id": turn.SessionID,
				"user_id":    turn.UserID,
				"error":      err.Error(),
			})
		}
		history = loaded
	}

	dm.LoadHistory(history)
	dm.Put(Message{Role: types.RoleUser, Content: turn.Message})
	return dm.GetLLMDialogue()
}

func (r *Relay) describe(ctx, sessionCtx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return &UpstreamError{Reason: "请求已取消", Err: ctx.Err()}
	case errors.Is(sessionCtx.Err(), context.DeadlineExceeded):
		return &UpstreamError{Reason: "AI响应超时"}
	case errors.Is(err, llm.ErrStreamTruncated):
		return &UpstreamError{Reason: "AI服务未返回内容"}
	}

	var lerr *llm.Error
	if errors.As(err, &lerr) {
		return &UpstreamError{Reason: "调用AI服务失败", Err: err}
	}
	return &UpstreamError{Reason: "读取AI响应失败", Err: err}
}

func (r *Relay) persist(ctx context.Context, turn Turn, answer string) {
	if turn.SessionID == "" || r.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	err := r.history.SaveTurn(ctx, TurnRecord{
		UserID:    turn.UserID,
		SessionID: turn.SessionID,
		Question:  turn.Message,
		Answer:    answer,
		ModelName: r.config.ModelName,
	})
	if err != nil {
		r.logger.Error("保存对话历史失败", map[string]interface{}{
			"session_id": turn.SessionID,
			"error":      err.Error(),
		})
	}
}
