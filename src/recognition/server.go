package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"scnai-plant-server/src/configs"
	"scnai-plant-server/src/core/auth"
	"scnai-plant-server/src/core/diagnosis"
	"scnai-plant-server/src/core/image"
	"scnai-plant-server/src/core/providers/inference"
	"scnai-plant-server/src/core/types"
	"scnai-plant-server/src/core/utils"
)

const (
	imageField = "image"
	// multipart 表单中除图片外的其他字段预留大小
	formOverhead  = 1 << 20
	healthTimeout = 5 * time.Second
)

// HealthChecker 识别服务健康检查
type HealthChecker interface {
	Health(ctx context.Context) error
}

type DefaultRecognitionService struct {
	logger     *utils.Logger
	config     *configs.UploadConfig
	recognizer *Recognizer
	health     HealthChecker
	taxonomy   *diagnosis.Taxonomy
	guards     []gin.HandlerFunc
}

// NewDefaultRecognitionService 构造函数，guards 为识别接口前置的中间件（认证、限流）
func NewDefaultRecognitionService(
	config *configs.UploadConfig,
	logger *utils.Logger,
	recognizer *Recognizer,
	health HealthChecker,
	taxonomy *diagnosis.Taxonomy,
	guards ...gin.HandlerFunc,
) *DefaultRecognitionService {
	return &DefaultRecognitionService{
		logger:     logger,
		config:     config,
		recognizer: recognizer,
		health:     health,
		taxonomy:   taxonomy,
		guards:     guards,
	}
}

// Start 实现 RecognitionService 接口，注册所有识别相关路由
func (s *DefaultRecognitionService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	// GET用于状态检查，POST用于图片识别
	apiGroup.GET("/recognition", s.handleGet)
	apiGroup.POST("/recognition", append(s.guards, s.handlePost)...)

	s.logger.Info("Recognition HTTP服务路由注册完成")
	return nil
}

// handleGet 处理GET请求（状态检查）
func (s *DefaultRecognitionService) handleGet(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := gin.H{
		"status":   "running",
		"diseases": s.taxonomy.Codes(),
	}
	if err := s.health.Health(ctx); err != nil {
		s.logger.Warn("识别服务健康检查失败", map[string]interface{}{
			"error": err.Error(),
		})
		status["inference"] = "unavailable"
		status["error"] = err.Error()
	} else {
		status["inference"] = "healthy"
	}

	c.JSON(http.StatusOK, types.Ok(status, "病虫害识别服务运行正常"))
}

// handlePost 处理POST请求（图片识别）
func (s *DefaultRecognitionService) handlePost(c *gin.Context) {
	req, err := s.parseMultipartRequest(c)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("识别请求解析失败: %v", err))
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = auth.UserID(c)

	result, err := s.recognizer.Recognize(c.Request.Context(), *req)
	if err != nil {
		status, message := classifyError(err)
		if status == http.StatusInternalServerError {
			s.logger.Error(fmt.Sprintf("识别请求处理失败: %v", err))
		}
		s.respondError(c, status, message)
		return
	}

	c.JSON(http.StatusOK, types.Ok(NewRecognitionResponse(result.Record), "识别成功"))
}

// parseMultipartRequest 解析multipart表单
func (s *DefaultRecognitionService) parseMultipartRequest(c *gin.Context) (*Request, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxFileSize+formOverhead)

	header, err := c.FormFile(imageField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return nil, fmt.Errorf("文件大小不能超过%dMB", s.config.MaxFileSize/1024/1024)
		}
		return nil, fmt.Errorf("请上传图片文件")
	}

	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("读取图片数据失败: %v", err)
	}
	defer file.Close()

	// 多读一个字节，超限由校验器统一处理
	data, err := io.ReadAll(io.LimitReader(file, s.config.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("读取图片数据失败: %v", err)
	}

	lat, err := parseCoordinate(c.PostForm("latitude"), 90)
	if err != nil {
		return nil, fmt.Errorf("纬度格式不正确: %v", err)
	}
	lng, err := parseCoordinate(c.PostForm("longitude"), 180)
	if err != nil {
		return nil, fmt.Errorf("经度格式不正确: %v", err)
	}

	return &Request{
		Image: image.UploadedImage{
			Data:         data,
			ContentType:  header.Header.Get("Content-Type"),
			Size:         header.Size,
			OriginalName: header.Filename,
		},
		Area:      strings.TrimSpace(c.PostForm("area")),
		Latitude:  lat,
		Longitude: lng,
	}, nil
}

// parseCoordinate 解析可选的经纬度，空值返回无效的 NullDecimal
func parseCoordinate(value string, limit int64) (decimal.NullDecimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if d.Abs().GreaterThan(decimal.NewFromInt(limit)) {
		return decimal.NullDecimal{}, fmt.Errorf("超出范围: %s", value)
	}
	return decimal.NewNullDecimal(d.Round(7)), nil
}

// genericFailure 存储和数据库错误对外的统一提示，细节只写日志
const genericFailure = "识别失败，请稍后重试"

// classifyError 错误类型到HTTP状态码和提示信息
func classifyError(err error) (int, string) {
	var verr *image.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, verr.Reason
	}
	var ierr *inference.Error
	if errors.As(err, &ierr) {
		return http.StatusBadGateway, "识别失败: " + err.Error()
	}
	return http.StatusInternalServerError, genericFailure
}

func (s *DefaultRecognitionService) respondError(c *gin.Context, status int, message string) {
	c.JSON(status, types.Fail(ErrorCode, message))
}
