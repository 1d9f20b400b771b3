package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// 识别记录默认值
const (
	DefaultPlantName    = "丝瓜"
	DefaultRecordStatus = "未处理"
)

// RecognitionRecord 病虫害识别记录，创建后不再修改
type RecognitionRecord struct {
	ID              uint                `gorm:"primaryKey"`
	UserID          int64               `gorm:"index;not null"`
	PlantName       string              `gorm:"size:100"`
	ImageURL        string              `gorm:"not null"`
	ThumbnailURL    string
	DiseaseType     string              `gorm:"size:50;not null"`
	DiseaseTypeName string              `gorm:"size:50;not null"`
	Confidence      decimal.Decimal     `gorm:"type:decimal(5,4);not null"`
	Severity        string              `gorm:"size:20;not null"`
	Area            string              `gorm:"size:50"`
	LocationLat     decimal.NullDecimal `gorm:"type:decimal(10,7)"`
	LocationLng     decimal.NullDecimal `gorm:"type:decimal(10,7)"`
	Status          string              `gorm:"size:20"`
	Symptoms        string              `gorm:"type:text"`
	TreatmentPlan   string              `gorm:"type:text"`
	RawPredictions  datatypes.JSON      // 上游返回的全部类别置信度
	IdentifyTime    time.Time           `gorm:"index"`
	CreatedAt       time.Time
}

// 对话消息角色
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatHistory 对话历史，一轮问答保存为两条
type ChatHistory struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    int64  `gorm:"index;not null"`
	SessionID string `gorm:"size:100;index;not null"`
	Role      string `gorm:"size:20;not null"`
	Message   string `gorm:"type:text;not null"`
	ModelName string `gorm:"size:50"`
	CreatedAt time.Time
}

// All 需要自动迁移的模型
func All() []interface{} {
	return []interface{}{
		&RecognitionRecord{},
		&ChatHistory{},
	}
}
