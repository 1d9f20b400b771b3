package recognition

import (
	"encoding/json"

	"scnai-plant-server/src/models"
)

// IdentifyTimeLayout 识别时间的展示格式
const IdentifyTimeLayout = "2006-01-02 15:04:05"

// ErrorCode 识别失败时返回的错误码
const ErrorCode = "RECOGNITION_FAILED"

// RecognitionResponse 识别结果（兼容前端字段命名）
type RecognitionResponse struct {
	ID              uint               `json:"id"`
	PlantName       string             `json:"plantName"`
	DiseaseType     string             `json:"diseaseType"`
	DiseaseTypeName string             `json:"diseaseTypeName"`
	Confidence      float64            `json:"confidence"`
	Severity        string             `json:"severity"`
	IdentifyTime    string             `json:"identifyTime"`
	ImageURL        string             `json:"imageUrl"`
	ThumbnailURL    string             `json:"thumbnailUrl,omitempty"`
	Symptoms        string             `json:"symptoms"`
	TreatmentPlan   string             `json:"treatmentPlan"`
	Area            string             `json:"area,omitempty"`
	Latitude        *float64           `json:"latitude,omitempty"`
	Longitude       *float64           `json:"longitude,omitempty"`
	Status          string             `json:"status"`
	RawPredictions  map[string]float64 `json:"rawPredictions,omitempty"`
}

// NewRecognitionResponse 由持久化记录构造响应
func NewRecognitionResponse(record *models.RecognitionRecord) RecognitionResponse {
	resp := RecognitionResponse{
		ID:              record.ID,
		PlantName:       record.PlantName,
		DiseaseType:     record.DiseaseType,
		DiseaseTypeName: record.DiseaseTypeName,
		Confidence:      record.Confidence.InexactFloat64(),
		Severity:        record.Severity,
		IdentifyTime:    record.IdentifyTime.Format(IdentifyTimeLayout),
		ImageURL:        record.ImageURL,
		ThumbnailURL:    record.ThumbnailURL,
		Symptoms:        record.Symptoms,
		TreatmentPlan:   record.TreatmentPlan,
		Area:            record.Area,
		Status:          record.Status,
	}
	if record.LocationLat.Valid && record.LocationLng.Valid {
		lat := record.LocationLat.Decimal.InexactFloat64()
		lng := record.LocationLng.Decimal.InexactFloat64()
		resp.Latitude, resp.Longitude = &lat, &lng
	}
	if len(record.RawPredictions) > 0 {
		var raw map[string]float64
		if err := json.Unmarshal(record.RawPredictions, &raw); err == nil {
			resp.RawPredictions = raw
		}
	}
	return resp
}
