package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"scnai-plant-server/src/core/diagnosis"
	"scnai-plant-server/src/core/providers/inference"
	"scnai-plant-server/src/core/utils"
)

const (
	predictPath = "/predict"
	healthPath  = "/health"
	fileField   = "file"

	// maxResponseBody 上游响应体读取上限
	maxResponseBody = 1 << 20
	// maxErrorBody 错误信息中保留的响应体长度
	maxErrorBody = 512
)

// Provider 调用远程识别服务的提供者
type Provider struct {
	config *inference.Config
	client *http.Client
	logger *utils.TaggedLogger
}

type predictionItem struct {
	Class      string           `json:"class"`
	Confidence *decimal.Decimal `json:"confidence"`
}

// NewProvider 创建远程识别提供者
func NewProvider(config *inference.Config, logger *utils.Logger) (*Provider, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("缺少识别服务地址")
	}

	dialer := &net.Dialer{Timeout: config.ConnectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: config.ReadTimeout,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Provider{
		config: config,
		client: &http.Client{Transport: transport},
		logger: logger.WithTag("inference"),
	}, nil
}

// Initialize 初始化提供者
func (p *Provider) Initialize() error {
	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.config.BaseURL, "/") + path
}

// Predict 以 multipart 表单上传图片并解析预测结果
func (p *Provider) Predict(ctx context.Context, image []byte, filename string) (diagnosis.PredictionSet, error) {
	body, contentType, err := buildMultipart(image, filename)
	if err != nil {
		return diagnosis.PredictionSet{}, &inference.Error{Message: "构建请求失败", Err: err}
	}

	// 读取超时覆盖响应头之后的整个响应体
	if p.config.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ConnectTimeout+p.config.ReadTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(predictPath), body)
	if err != nil {
		return diagnosis.PredictionSet{}, &inference.Error{Message: "构建请求失败", Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Error("调用识别服务失败", map[string]interface{}{
			"url":   req.URL.String(),
			"error": err.Error(),
		})
		return diagnosis.PredictionSet{}, &inference.Error{Message: "无法连接识别服务", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return diagnosis.PredictionSet{}, &inference.Error{
			Message:    "读取响应失败",
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Error("识别服务返回错误状态", map[string]interface{}{
			"status": resp.StatusCode,
			"body":   truncate(string(data)),
		})
		return diagnosis.PredictionSet{}, &inference.Error{
			Message:    "识别服务返回错误",
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data)),
		}
	}

	set, err := parsePredictions(data)
	if err != nil {
		return diagnosis.PredictionSet{}, &inference.Error{
			Message:    "识别结果格式错误",
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data)),
			Err:        err,
		}
	}

	p.logger.Info("识别完成", map[string]interface{}{
		"classes":     set.Len(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return set, nil
}

// Health 检查识别服务健康状态
func (p *Provider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(healthPath), nil)
	if err != nil {
		return &inference.Error{Message: "构建请求失败", Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return &inference.Error{Message: "无法连接识别服务", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &inference.Error{
			Message:    "识别服务不可用",
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}
	return nil
}

func buildMultipart(image []byte, filename string) (*bytes.Buffer, string, error) {
	if filename == "" {
		filename = "image.jpg"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fileField, escapeQuotes(filename)))
	header.Set("Content-Type", http.DetectContentType(image))

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

// parsePredictions 支持 all_predictions 列表和 label/confidence 两种格式
func parsePredictions(data []byte) (diagnosis.PredictionSet, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return diagnosis.PredictionSet{}, fmt.Errorf("响应不是JSON对象: %v", err)
	}

	if list, ok := raw["all_predictions"]; ok {
		var items []predictionItem
		if err := json.Unmarshal(list, &items); err != nil {
			return diagnosis.PredictionSet{}, fmt.Errorf("all_predictions 格式错误: %v", err)
		}
		if len(items) == 0 {
			return diagnosis.PredictionSet{}, diagnosis.ErrEmptyPredictions
		}
		predictions := make([]diagnosis.Prediction, 0, len(items))
		for i, item := range items {
			if err := checkPrediction(item.Class, item.Confidence); err != nil {
				return diagnosis.PredictionSet{}, fmt.Errorf("第%d条预测无效: %v", i, err)
			}
			predictions = append(predictions, diagnosis.Prediction{Code: item.Class, Confidence: *item.Confidence})
		}
		return diagnosis.NewPredictionSet(predictions)
	}

	labelRaw, hasLabel := raw["label"]
	confRaw, hasConf := raw["confidence"]
	if !hasLabel || !hasConf {
		if msg, ok := raw["error"]; ok {
			return diagnosis.PredictionSet{}, fmt.Errorf("识别服务报告错误: %s", string(msg))
		}
		return diagnosis.PredictionSet{}, fmt.Errorf("缺少 all_predictions 或 label/confidence 字段")
	}

	var label string
	if err := json.Unmarshal(labelRaw, &label); err != nil {
		return diagnosis.PredictionSet{}, fmt.Errorf("label 格式错误: %v", err)
	}
	var confidence decimal.Decimal
	if err := json.Unmarshal(confRaw, &confidence); err != nil {
		return diagnosis.PredictionSet{}, fmt.Errorf("confidence 格式错误: %v", err)
	}
	if err := checkPrediction(label, &confidence); err != nil {
		return diagnosis.PredictionSet{}, err
	}
	return diagnosis.NewPredictionSet([]diagnosis.Prediction{{Code: label, Confidence: confidence}})
}

var one = decimal.NewFromInt(1)

func checkPrediction(code string, confidence *decimal.Decimal) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("类别为空")
	}
	if confidence == nil {
		return fmt.Errorf("类别 %s 缺少置信度", code)
	}
	if confidence.IsNegative() || confidence.GreaterThan(one) {
		return fmt.Errorf("类别 %s 置信度超出范围: %s", code, confidence.String())
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "..."
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}

func init() {
	inference.Register("remote", func(config *inference.Config, logger *utils.Logger) (inference.Provider, error) {
		return NewProvider(config, logger)
	})
}
