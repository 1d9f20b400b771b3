package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scnai-plant-server/src/configs"
	"scnai-plant-server/src/core/providers/llm"
	"scnai-plant-server/src/core/providers/llm/openai"
	"scnai-plant-server/src/core/types"
	"scnai-plant-server/src/core/utils"
)

type fakeStream struct {
	ctx   context.Context
	parts []string
	final error
	hang  bool
}

func (s *fakeStream) Recv() (string, error) {
	if len(s.parts) > 0 {
		part := s.parts[0]
		s.parts = s.parts[1:]
		return part, nil
	}
	if s.hang {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	return "", s.final
}

func (s *fakeStream) Close() error { return nil }

type fakeProvider struct {
	mu       sync.Mutex
	openErr  error
	parts    []string
	final    error
	hang     bool
	messages []types.Message
	ctx      context.Context
}

func (p *fakeProvider) Initialize() error { return nil }
func (p *fakeProvider) Cleanup() error    { return nil }

func (p *fakeProvider) OpenStream(ctx context.Context, messages []types.Message) (types.LLMStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = messages
	p.ctx = ctx
	if p.openErr != nil {
		return nil, p.openErr
	}
	return &fakeStream{ctx: ctx, parts: append([]string(nil), p.parts...), final: p.final, hang: p.hang}, nil
}

type fakeHistory struct {
	mu         sync.Mutex
	saved      []TurnRecord
	loaded     []Message
	// owner 不为0时只对该用户返回 loaded
	owner      int64
	loadedUser int64
}

func (h *fakeHistory) SaveTurn(ctx context.Context, record TurnRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saved = append(h.saved, record)
	return nil
}

func (h *fakeHistory) LoadHistory(ctx context.Context, userID int64, sessionID string, limit int) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loadedUser = userID
	if h.owner != 0 && h.owner != userID {
		return nil, nil
	}
	return h.loaded, nil
}

func testConfig() *configs.ChatConfig {
	return &configs.ChatConfig{
		ModelName:      "deepseek-chat",
		SystemPrompt:   "你是植物病虫害助手",
		SessionTimeout: 2 * time.Second,
		MaxSessions:    4,
		MaxHistory:     4,
	}
}

func drain(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("事件通道未关闭")
			return out
		}
	}
}

func eventTypes(events []StreamEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func assertSingleTerminal(t *testing.T, events []StreamEvent) {
	t.Helper()
	terminals := 0
	for _, ev := range events {
		if ev.IsTerminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
	require.NotEmpty(t, events)
	assert.True(t, events[len(events)-1].IsTerminal())
}

func TestRelayStreamsChunksAndCompletes(t *testing.T) {
	provider := &fakeProvider{parts: []string{"你好", "世界"}, final: io.EOF}
	relay := NewRelay(provider, nil, testConfig(), utils.NewNopLogger())
	relay.now = func() time.Time { return time.UnixMilli(1700000000000) }

	events := drain(t, relay.Open(context.Background(), Turn{Message: "霜霉病怎么防治"}))

	assert.Equal(t, []string{EventStart, EventChunk, EventChunk, EventComplete}, eventTypes(events))
	assert.Equal(t, int64(1700000000000), events[0].Timestamp)
	assert.Equal(t, "你好", events[1].Content)
	assert.Equal(t, "世界", events[2].Content)
	assert.Equal(t, "你好世界", events[3].Content)
	assertSingleTerminal(t, events)
}

func TestRelayOpenFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "HTTP 500", err: &llm.Error{Message: "调用对话服务失败", StatusCode: 500}},
		{name: "连接失败", err: &llm.Error{Message: "连接对话服务失败", Err: errors.New("connection refused")}},
		{name: "缺少密钥", err: &llm.Error{Message: "对话API密钥未配置"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := NewRelay(&fakeProvider{openErr: tt.err}, nil, testConfig(), utils.NewNopLogger())
			events := drain(t, relay.Open(context.Background(), Turn{Message: "你好"}))

			require.Len(t, events, 1)
			assert.Equal(t, EventError, events[0].Type)
			assert.Contains(t, events[0].Content, "调用AI服务失败")
		})
	}
}

func TestRelayTruncatedStream(t *testing.T) {
	t.Run("已有内容按完成处理", func(t *testing.T) {
		provider := &fakeProvider{parts: []string{"部分", "回答"}, final: llm.ErrStreamTruncated}
		relay := NewRelay(provider, nil, testConfig(), utils.NewNopLogger())
		events := drain(t, relay.Open(context.Background(), Turn{Message: "q"}))

		assert.Equal(t, []string{EventStart, EventChunk, EventChunk, EventComplete}, eventTypes(events))
		assert.Equal(t, "部分回答", events[3].Content)
	})

	t.Run("无内容按失败处理", func(t *testing.T) {
		provider := &fakeProvider{final: llm.ErrStreamTruncated}
		relay := NewRelay(provider, nil, testConfig(), utils.NewNopLogger())
		events := drain(t, relay.Open(context.Background(), Turn{Message: "q"}))

		assert.Equal(t, []string{EventStart, EventError}, eventTypes(events))
	})
}

func TestRelayReadErrorMidStream(t *testing.T) {
	provider := &fakeProvider{parts: []string{"一"}, final: errors.New("connection reset by peer")}
	relay := NewRelay(provider, nil, testConfig(), utils.NewNopLogger())
	events := drain(t, relay.Open(context.Background(), Turn{Message: "q"}))

	assert.Equal(t, []string{EventStart, EventChunk, EventError}, eventTypes(events))
	assert.Contains(t, events[2].Content, "connection reset by peer")
	assertSingleTerminal(t, events)
}

func TestRelaySessionTimeout(t *testing.T) {
	config := testConfig()
	config.SessionTimeout = 50 * time.Millisecond
	provider := &fakeProvider{parts: []string{"慢"}, hang: true}
	relay := NewRelay(provider, nil, config, utils.NewNopLogger())

	events := drain(t, relay.Open(context.Background(), Turn{Message: "q"}))

	assert.Equal(t, []string{EventStart, EventChunk, EventError}, eventTypes(events))
	assert.Equal(t, "AI响应超时", events[2].Content)
}

func TestRelayCallerCancellation(t *testing.T) {
	provider := &fakeProvider{parts: []string{"x"}, hang: true}
	relay := NewRelay(provider, nil, testConfig(), utils.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	events := relay.Open(ctx, Turn{Message: "q"})

	first := <-events
	assert.Equal(t, EventStart, first.Type)
	cancel()

	drain(t, events)

	provider.mu.Lock()
	upstream := provider.ctx
	provider.mu.Unlock()
	assert.Error(t, upstream.Err())
}

func TestRelaySessionCap(t *testing.T) {
	config := testConfig()
	config.MaxSessions = 1
	provider := &fakeProvider{hang: true}
	relay := NewRelay(provider, nil, config, utils.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	first := relay.Open(ctx, Turn{Message: "q1"})
	require.Equal(t, EventStart, (<-first).Type)

	events := drain(t, relay.Open(context.Background(), Turn{Message: "q2"}))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)

	cancel()
	drain(t, first)
}

func TestRelayEmptyMessage(t *testing.T) {
	provider := &fakeProvider{final: io.EOF}
	relay := NewRelay(provider, nil, testConfig(), utils.NewNopLogger())

	events := drain(t, relay.Open(context.Background(), Turn{Message: "  "}))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Nil(t, provider.messages)
}

func TestRelayBuildsMessages(t *testing.T) {
	provider := &fakeProvider{final: io.EOF}
	relay := NewRelay(provider, nil, testConfig(), utils.NewNopLogger())

	history := []Message{
		{Role: "user", Content: "h1"},
		{Role: "assistant", Content: "h2"},
		{Role: "system", Content: "忽略我"},
		{Role: "user", Content: "h3"},
		{Role: "assistant", Content: ""},
		{Role: "assistant", Content: "h4"},
		{Role: "user", Content: "h5"},
	}
	drain(t, relay.Open(context.Background(), Turn{Message: "问题", History: history}))

	require.Len(t, provider.messages, 6)
	assert.Equal(t, Message{Role: "system", Content: "你是植物病虫害助手"}, provider.messages[0])
	assert.Equal(t, "h2", provider.messages[1].Content)
	assert.Equal(t, "h5", provider.messages[4].Content)
	assert.Equal(t, Message{Role: "user", Content: "问题"}, provider.messages[5])
}

func TestRelayPersistsSessionTurns(t *testing.T) {
	provider := &fakeProvider{parts: []string{"答"}, final: io.EOF}
	history := &fakeHistory{loaded: []Message{{Role: "user", Content: "上一问"}, {Role: "assistant", Content: "上一答"}}}
	relay := NewRelay(provider, history, testConfig(), utils.NewNopLogger())

	drain(t, relay.Open(context.Background(), Turn{Message: "新问题", SessionID: "s-1", UserID: 7}))

	require.Len(t, history.saved, 1)
	assert.Equal(t, TurnRecord{
		UserID:    7,
		SessionID: "s-1",
		Question:  "新问题",
		Answer:    "答",
		ModelName: "deepseek-chat",
	}, history.saved[0])

	require.Len(t, provider.messages, 4)
	assert.Equal(t, "上一问", provider.messages[1].Content)

	// 无会话ID不保存
	drain(t, relay.Open(context.Background(), Turn{Message: "再问"}))
	assert.Len(t, history.saved, 1)
}

func TestRelayLoadsHistoryForTurnUser(t *testing.T) {
	provider := &fakeProvider{parts: []string{"答"}, final: io.EOF}
	history := &fakeHistory{owner: 7, loaded: []Message{{Role: "user", Content: "别人的问题"}, {Role: "assistant", Content: "别人的回答"}}}
	relay := NewRelay(provider, history, testConfig(), utils.NewNopLogger())

	// 其他用户使用相同会话ID时看不到该会话的历史
	drain(t, relay.Open(context.Background(), Turn{Message: "我的问题", SessionID: "s-1", UserID: 8}))

	assert.Equal(t, int64(8), history.loadedUser)
	require.Len(t, provider.messages, 2)
	assert.Equal(t, "我的问题", provider.messages[1].Content)
}

func TestRelayWithOpenAIProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"叶片\"}}]}\n\n")
		io.WriteString(w, "data: {broken\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"发黄\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	provider, err := openai.NewProvider(&llm.Config{
		ModelName:      "deepseek-chat",
		BaseURL:        server.URL,
		APIKey:         "sk-test",
		ConnectTimeout: time.Second,
	}, utils.NewNopLogger())
	require.NoError(t, err)

	relay := NewRelay(provider, nil, testConfig(), utils.NewNopLogger())
	events := drain(t, relay.Open(context.Background(), Turn{Message: "q"}))

	assert.Equal(t, []string{EventStart, EventChunk, EventChunk, EventComplete}, eventTypes(events))
	assert.Equal(t, "叶片发黄", events[3].Content)
}

func TestRelayWithOpenAIProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer server.Close()

	provider, err := openai.NewProvider(&llm.Config{BaseURL: server.URL, APIKey: "sk-test", ConnectTimeout: time.Second}, utils.NewNopLogger())
	require.NoError(t, err)

	relay := NewRelay(provider, nil, testConfig(), utils.NewNopLogger())
	events := drain(t, relay.Open(context.Background(), Turn{Message: "q"}))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Content, "500")
}
