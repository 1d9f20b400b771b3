package records

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"scnai-plant-server/src/core/auth"
	"scnai-plant-server/src/core/store"
	"scnai-plant-server/src/core/types"
	"scnai-plant-server/src/core/utils"
	"scnai-plant-server/src/models"
	"scnai-plant-server/src/recognition"
)

const (
	defaultPage     = 1
	defaultPageSize = 10
	maxPageSize     = 100
	// maxPage 保证 (page-1)*pageSize 在任何平台上都不溢出
	maxPage         = math.MaxInt32 / maxPageSize
)

// 错误码
const (
	ErrorCodeNotFound = "RECORD_NOT_FOUND"
	ErrorCodeQuery    = "QUERY_FAILED"
)

// RecordReader 识别记录查询
type RecordReader interface {
	FindByID(ctx context.Context, userID int64, id uint) (*models.RecognitionRecord, error)
	ListByUser(ctx context.Context, userID int64, page, pageSize int) (store.Page[models.RecognitionRecord], error)
	CountByUser(ctx context.Context, userID int64) (int64, error)
	CountByDisease(ctx context.Context, userID int64) ([]store.DiseaseCount, error)
}

// RecordList 分页列表响应
type RecordList struct {
	Total      int64                             `json:"total"`
	Page       int                               `json:"page"`
	PageSize   int                               `json:"pageSize"`
	TotalPages int                               `json:"totalPages"`
	Records    []recognition.RecognitionResponse `json:"records"`
}

// DiseaseStat 单个病害的统计
type DiseaseStat struct {
	DiseaseType     string `json:"diseaseType"`
	DiseaseTypeName string `json:"diseaseTypeName"`
	Count           int64  `json:"count"`
}

// Stats 统计响应
type Stats struct {
	TotalRecognitions int64         `json:"totalRecognitions"`
	Diseases          []DiseaseStat `json:"diseases"`
}

type DefaultRecordsService struct {
	logger *utils.Logger
	reader RecordReader
	guards []gin.HandlerFunc
}

// NewDefaultRecordsService 构造函数，所有接口都经过 guards
func NewDefaultRecordsService(logger *utils.Logger, reader RecordReader, guards ...gin.HandlerFunc) *DefaultRecordsService {
	return &DefaultRecordsService{
		logger: logger,
		reader: reader,
		guards: guards,
	}
}

// Start 注册记录查询路由
func (s *DefaultRecordsService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	group := apiGroup.Group("/records", s.guards...)
	// 列表响应体积较大，按客户端 Accept-Encoding 压缩
	group.Use(gzip.Gzip(gzip.DefaultCompression))
	group.GET("", s.handleList)
	group.GET("/stats", s.handleStats)
	group.GET("/:id", s.handleGet)

	s.logger.Info("Records HTTP服务路由注册完成")
	return nil
}

func (s *DefaultRecordsService) handleList(c *gin.Context) {
	page := queryInt(c, "page", defaultPage)
	if page < 1 {
		page = defaultPage
	}
	page = min(page, maxPage)
	pageSize := queryInt(c, "pageSize", defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	result, err := s.reader.ListByUser(c.Request.Context(), auth.UserID(c), page, pageSize)
	if err != nil {
		s.queryFailed(c, "查询失败", err)
		return
	}

	list := RecordList{
		Total:      result.Total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: result.TotalPages(),
		Records:    make([]recognition.RecognitionResponse, 0, len(result.Items)),
	}
	for i := range result.Items {
		list.Records = append(list.Records, recognition.NewRecognitionResponse(&result.Items[i]))
	}
	c.JSON(http.StatusOK, types.Ok(list, ""))
}

func (s *DefaultRecordsService) handleGet(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusNotFound, types.Fail(ErrorCodeNotFound, "记录不存在"))
		return
	}

	record, err := s.reader.FindByID(c.Request.Context(), auth.UserID(c), uint(id))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, types.Fail(ErrorCodeNotFound, "记录不存在"))
		return
	}
	if err != nil {
		s.queryFailed(c, "查询失败", err)
		return
	}
	c.JSON(http.StatusOK, types.Ok(recognition.NewRecognitionResponse(record), ""))
}

func (s *DefaultRecordsService) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.UserID(c)

	total, err := s.reader.CountByUser(ctx, userID)
	if err != nil {
		s.queryFailed(c, "统计失败", err)
		return
	}
	counts, err := s.reader.CountByDisease(ctx, userID)
	if err != nil {
		s.queryFailed(c, "统计失败", err)
		return
	}

	stats := Stats{TotalRecognitions: total, Diseases: make([]DiseaseStat, 0, len(counts))}
	for _, dc := range counts {
		stats.Diseases = append(stats.Diseases, DiseaseStat{
			DiseaseType:     dc.DiseaseType,
			DiseaseTypeName: dc.DiseaseTypeName,
			Count:           dc.Total,
		})
	}
	c.JSON(http.StatusOK, types.Ok(stats, ""))
}

func (s *DefaultRecordsService) queryFailed(c *gin.Context, message string, err error) {
	s.logger.Error(message, map[string]interface{}{
		"path":  c.FullPath(),
		"error": err.Error(),
	})
	c.JSON(http.StatusInternalServerError, types.Fail(ErrorCodeQuery, message))
}

// queryInt 读取整数查询参数，缺失或非法时返回默认值
func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}
