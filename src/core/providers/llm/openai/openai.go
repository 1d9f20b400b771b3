package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"scnai-plant-server/src/core/providers/llm"
	"scnai-plant-server/src/core/types"
	"scnai-plant-server/src/core/utils"
)

const (
	dataPrefix  = "data:"
	doneMarker  = "[DONE]"
	maxLineSize = 1 << 20
	maxErrBody  = 512
)

// Provider OpenAI兼容接口的LLM提供者
type Provider struct {
	*llm.BaseProvider
	client    *http.Client
	maxTokens int
	logger    *utils.TaggedLogger
}

// 注册提供者
func init() {
	llm.Register("openai", func(config *llm.Config, logger *utils.Logger) (llm.Provider, error) {
		return NewProvider(config, logger)
	})
}

// NewProvider 创建OpenAI提供者
func NewProvider(config *llm.Config, logger *utils.Logger) (*Provider, error) {
	provider := &Provider{
		BaseProvider: llm.NewBaseProvider(config),
		maxTokens:    config.MaxTokens,
		logger:       logger.WithTag("llm"),
	}
	if provider.maxTokens <= 0 {
		provider.maxTokens = 500
	}

	// 不设置整体超时，流式响应的时长由调用方的 context 控制
	dialer := &net.Dialer{Timeout: config.ConnectTimeout}
	provider.client = &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: config.ConnectTimeout,
		},
	}
	return provider, nil
}

// Initialize 初始化提供者
func (p *Provider) Initialize() error {
	config := p.Config()
	if config.BaseURL == "" {
		return fmt.Errorf("缺少对话接口地址")
	}
	if config.APIKey == "" {
		p.logger.Warn("未配置对话API密钥，智能问答将不可用")
	}
	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	p.client.CloseIdleConnections()
	return nil
}

// OpenStream 发起流式对话请求，返回时已收到2xx响应
func (p *Provider) OpenStream(ctx context.Context, messages []types.Message) (types.LLMStream, error) {
	config := p.Config()
	if config.APIKey == "" {
		return nil, &llm.Error{Message: "对话API密钥未配置"}
	}

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	body, err := json.Marshal(openai.ChatCompletionRequest{
		Model:       config.ModelName,
		Messages:    chatMessages,
		Stream:      true,
		MaxTokens:   p.maxTokens,
		Temperature: float32(config.Temperature),
	})
	if err != nil {
		return nil, &llm.Error{Message: "序列化请求失败", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &llm.Error{Message: "构建请求失败", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &llm.Error{Message: "连接对话服务失败", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		p.logger.Error("对话服务返回错误状态", map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(data),
		})
		return nil, &llm.Error{
			Message:    "调用对话服务失败",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &stream{body: resp.Body, scanner: scanner, logger: p.logger}, nil
}

// stream 逐行解析 data: 前缀的事件
type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *utils.TaggedLogger
	done    bool
}

func (s *stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == doneMarker {
			s.done = true
			return "", io.EOF
		}

		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			s.logger.Debug("跳过无法解析的数据行", map[string]interface{}{
				"line":  payload,
				"error": err.Error(),
			})
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}

	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", llm.ErrStreamTruncated
}

func (s *stream) Close() error {
	return s.body.Close()
}
