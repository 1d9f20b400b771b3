package recognition

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"scnai-plant-server/src/core/diagnosis"
	"scnai-plant-server/src/core/image"
	"scnai-plant-server/src/core/metrics"
	"scnai-plant-server/src/core/providers/inference"
	"scnai-plant-server/src/core/utils"
	"scnai-plant-server/src/models"
)

// BlobStore 图片存储
type BlobStore interface {
	Save(data []byte, originalName string) (*image.StoredImage, error)
	Delete(name string) error
}

// Classifier 图片识别
type Classifier interface {
	Predict(ctx context.Context, image []byte, filename string) (diagnosis.PredictionSet, error)
}

// RecordSaver 识别记录持久化
type RecordSaver interface {
	Save(ctx context.Context, record *models.RecognitionRecord) error
}

// Request 一次识别请求
type Request struct {
	Image     image.UploadedImage
	UserID    int64
	Area      string
	Latitude  decimal.NullDecimal
	Longitude decimal.NullDecimal
}

// Result 识别成功的结果
type Result struct {
	Record      *models.RecognitionRecord
	Outcome     diagnosis.Outcome
	Predictions diagnosis.PredictionSet
}

// Recognizer 串联 校验 → 存储 → 识别 → 诊断 → 保存记录
type Recognizer struct {
	validator  *image.UploadValidator
	blobs      BlobStore
	classifier Classifier
	resolver   *diagnosis.Resolver
	records    RecordSaver
	logger     *utils.TaggedLogger
	now        func() time.Time
}

// NewRecognizer 创建识别流程编排器
func NewRecognizer(
	validator *image.UploadValidator,
	blobs BlobStore,
	classifier Classifier,
	resolver *diagnosis.Resolver,
	records RecordSaver,
	logger *utils.Logger,
) *Recognizer {
	return &Recognizer{
		validator:  validator,
		blobs:      blobs,
		classifier: classifier,
		resolver:   resolver,
		records:    records,
		logger:     logger.WithTag("recognition"),
		now:        time.Now,
	}
}

// Recognize 执行一次识别。任一步骤失败立即返回，不会保存记录；
// 识别或保存失败时已存储的图片会被删除。
func (r *Recognizer) Recognize(ctx context.Context, req Request) (*Result, error) {
	if err := r.validator.Validate(req.Image); err != nil {
		metrics.RecognitionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	stored, err := r.blobs.Save(req.Image.Data, req.Image.OriginalName)
	if err != nil {
		r.logger.Error("保存图片失败", map[string]interface{}{
			"user_id": req.UserID,
			"error":   err.Error(),
		})
		metrics.RecognitionsTotal.WithLabelValues("storage_error").Inc()
		return nil, err
	}

	start := r.now()
	predictions, err := r.classifier.Predict(ctx, req.Image.Data, stored.Name)
	metrics.InferenceDurationSeconds.Observe(r.now().Sub(start).Seconds())
	if err != nil {
		r.discard(stored)
		metrics.RecognitionsTotal.WithLabelValues("inference_error").Inc()
		return nil, asInferenceError(err)
	}

	outcome, err := r.resolver.Resolve(predictions)
	if err != nil {
		r.discard(stored)
		metrics.RecognitionsTotal.WithLabelValues("inference_error").Inc()
		return nil, asInferenceError(err)
	}

	raw, err := json.Marshal(predictions.Floats())
	if err != nil {
		r.discard(stored)
		return nil, err
	}

	record := &models.RecognitionRecord{
		UserID:          req.UserID,
		PlantName:       models.DefaultPlantName,
		ImageURL:        stored.URL,
		ThumbnailURL:    stored.ThumbnailURL,
		DiseaseType:     outcome.Code,
		DiseaseTypeName: outcome.Name,
		Confidence:      outcome.Confidence,
		Severity:        outcome.Severity,
		Area:            req.Area,
		Status:          models.DefaultRecordStatus,
		Symptoms:        outcome.Symptoms,
		TreatmentPlan:   outcome.Treatment,
		RawPredictions:  datatypes.JSON(raw),
		IdentifyTime:    r.now(),
	}
	r.locate(record, req)

	if err := r.records.Save(ctx, record); err != nil {
		r.logger.Error("保存识别记录失败", map[string]interface{}{
			"user_id": req.UserID,
			"error":   err.Error(),
		})
		r.discard(stored)
		metrics.RecognitionsTotal.WithLabelValues("persistence_error").Inc()
		return nil, err
	}

	metrics.RecognitionsTotal.WithLabelValues("success").Inc()
	metrics.DiagnosesTotal.WithLabelValues(outcome.Code, outcome.Severity).Inc()
	r.logger.Info("识别完成", map[string]interface{}{
		"record_id":  record.ID,
		"user_id":    req.UserID,
		"disease":    outcome.Code,
		"confidence": outcome.Confidence.String(),
		"severity":   outcome.Severity,
	})

	return &Result{Record: record, Outcome: outcome, Predictions: predictions}, nil
}

// locate 优先使用请求中的经纬度，缺失时尝试读取图片EXIF
func (r *Recognizer) locate(record *models.RecognitionRecord, req Request) {
	if req.Latitude.Valid && req.Longitude.Valid {
		record.LocationLat = req.Latitude
		record.LocationLng = req.Longitude
		return
	}
	if loc, ok := image.ReadLocation(req.Image.Data); ok {
		record.LocationLat = decimal.NewNullDecimal(loc.Latitude)
		record.LocationLng = decimal.NewNullDecimal(loc.Longitude)
	}
}

func (r *Recognizer) discard(stored *image.StoredImage) {
	if err := r.blobs.Delete(stored.Name); err != nil {
		r.logger.Warn("删除图片失败", map[string]interface{}{
			"name":  stored.Name,
			"error": err.Error(),
		})
	}
}

func asInferenceError(err error) error {
	var ierr *inference.Error
	if errors.As(err, &ierr) {
		return err
	}
	return &inference.Error{Message: "识别结果无效", Err: err}
}
