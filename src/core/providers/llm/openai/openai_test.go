package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scnai-plant-server/src/core/providers/llm"
	"scnai-plant-server/src/core/types"
	"scnai-plant-server/src/core/utils"
)

func newTestProvider(t *testing.T, apiKey string, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewProvider(&llm.Config{
		ModelName:      "deepseek-chat",
		BaseURL:        server.URL + "/v1/chat/completions",
		APIKey:         apiKey,
		Temperature:    0.7,
		MaxTokens:      2000,
		ConnectTimeout: time.Second,
	}, utils.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, p.Initialize())
	return p
}

func writeLines(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, l := range lines {
		io.WriteString(w, l+"\n\n")
	}
}

func collect(t *testing.T, s types.LLMStream) ([]string, error) {
	t.Helper()
	var parts []string
	for {
		part, err := s.Recv()
		if err != nil {
			return parts, err
		}
		parts = append(parts, part)
	}
}

func TestOpenStreamRequest(t *testing.T) {
	p := newTestProvider(t, "sk-test", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "deepseek-chat", body["model"])
		assert.Equal(t, true, body["stream"])
		assert.EqualValues(t, 2000, body["max_tokens"])
		assert.InDelta(t, 0.7, body["temperature"], 0.0001)
		msgs := body["messages"].([]interface{})
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])

		writeLines(w,
			`data: {"choices":[{"index":0,"delta":{"content":"你好"}}]}`,
			`data: {"choices":[{"index":0,"delta":{"content":"！"}}]}`,
			`data: [DONE]`,
		)
	})

	s, err := p.OpenStream(context.Background(), []types.Message{
		{Role: types.RoleSystem, Content: "sys"},
		{Role: types.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	defer s.Close()

	parts, err := collect(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"你好", "！"}, parts)

	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamSkipsMalformedAndEmptyLines(t *testing.T) {
	p := newTestProvider(t, "sk-test", func(w http.ResponseWriter, r *http.Request) {
		writeLines(w,
			`: keep-alive`,
			`data: {not json`,
			`data: {"choices":[]}`,
			`data: {"choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
			`event: ping`,
			`data:{"choices":[{"index":0,"delta":{"content":"A"}}]}`,
			`data: [DONE]`,
		)
	})

	s, err := p.OpenStream(context.Background(), []types.Message{{Role: types.RoleUser, Content: "q"}})
	require.NoError(t, err)
	defer s.Close()

	parts, err := collect(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"A"}, parts)
}

func TestStreamTruncated(t *testing.T) {
	p := newTestProvider(t, "sk-test", func(w http.ResponseWriter, r *http.Request) {
		writeLines(w, `data: {"choices":[{"index":0,"delta":{"content":"半句"}}]}`)
	})

	s, err := p.OpenStream(context.Background(), []types.Message{{Role: types.RoleUser, Content: "q"}})
	require.NoError(t, err)
	defer s.Close()

	parts, err := collect(t, s)
	assert.ErrorIs(t, err, llm.ErrStreamTruncated)
	assert.Equal(t, []string{"半句"}, parts)
}

func TestOpenStreamFailures(t *testing.T) {
	t.Run("非2xx状态", func(t *testing.T) {
		p := newTestProvider(t, "sk-test", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":{"message":"invalid api key"}}`)
		})
		_, err := p.OpenStream(context.Background(), nil)
		var lerr *llm.Error
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, http.StatusUnauthorized, lerr.StatusCode)
		assert.Contains(t, lerr.Body, "invalid api key")
	})

	t.Run("缺少API密钥", func(t *testing.T) {
		called := false
		p := newTestProvider(t, "", func(w http.ResponseWriter, r *http.Request) {
			called = true
		})
		_, err := p.OpenStream(context.Background(), nil)
		var lerr *llm.Error
		require.ErrorAs(t, err, &lerr)
		assert.False(t, called)
	})

	t.Run("连接失败", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		p, err := NewProvider(&llm.Config{BaseURL: url, APIKey: "k", ConnectTimeout: time.Second}, utils.NewNopLogger())
		require.NoError(t, err)
		_, err = p.OpenStream(context.Background(), nil)
		var lerr *llm.Error
		require.ErrorAs(t, err, &lerr)
		assert.Zero(t, lerr.StatusCode)
	})
}

func TestStreamCancelledMidway(t *testing.T) {
	release := make(chan struct{})
	p := newTestProvider(t, "sk-test", func(w http.ResponseWriter, r *http.Request) {
		writeLines(w, `data: {"choices":[{"index":0,"delta":{"content":"x"}}]}`)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := p.OpenStream(ctx, []types.Message{{Role: types.RoleUser, Content: "q"}})
	require.NoError(t, err)
	defer s.Close()

	part, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "x", part)

	cancel()
	_, err = s.Recv()
	require.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF))
}

func TestInitializeRequiresURL(t *testing.T) {
	p, err := NewProvider(&llm.Config{APIKey: "k"}, utils.NewNopLogger())
	require.NoError(t, err)
	assert.Error(t, p.Initialize())
}
