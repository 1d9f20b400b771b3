package store

import (
	"context"

	"gorm.io/gorm"

	"scnai-plant-server/src/models"
)

// Page 分页查询结果
type Page[T any] struct {
	Items    []T
	Total    int64
	Page     int
	PageSize int
}

// TotalPages 总页数
func (p Page[T]) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return int((p.Total + int64(p.PageSize) - 1) / int64(p.PageSize))
}

// RecordStore 识别记录仓储
type RecordStore struct {
	db *gorm.DB
}

// NewRecordStore 创建识别记录仓储
func NewRecordStore(db *gorm.DB) *RecordStore {
	return &RecordStore{db: db}
}

// Save 插入一条新记录，成功后回填ID
func (s *RecordStore) Save(ctx context.Context, record *models.RecognitionRecord) error {
	return wrap("保存识别记录", s.db.WithContext(ctx).Create(record).Error)
}

// FindByID 查询用户自己的一条记录
func (s *RecordStore) FindByID(ctx context.Context, userID int64, id uint) (*models.RecognitionRecord, error) {
	var record models.RecognitionRecord
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&record).Error
	if err != nil {
		return nil, wrap("查询识别记录", err)
	}
	return &record, nil
}

// ListByUser 按识别时间倒序分页查询，page 从1开始
func (s *RecordStore) ListByUser(ctx context.Context, userID int64, page, pageSize int) (Page[models.RecognitionRecord], error) {
	result := Page[models.RecognitionRecord]{Page: page, PageSize: pageSize}

	query := s.db.WithContext(ctx).
		Model(&models.RecognitionRecord{}).
		Where("user_id = ?", userID).
		Session(&gorm.Session{})
	if err := query.Count(&result.Total).Error; err != nil {
		return result, wrap("统计识别记录", err)
	}
	// 超出最后一页直接返回空结果，偏移量也就不会溢出
	if pageSize > 0 && int64(page-1) >= (result.Total+int64(pageSize)-1)/int64(pageSize) {
		return result, nil
	}

	err := query.
		Order("identify_time DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&result.Items).Error
	if err != nil {
		return result, wrap("查询识别记录", err)
	}
	return result, nil
}

// CountByUser 统计用户的识别次数
func (s *RecordStore) CountByUser(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.RecognitionRecord{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, wrap("统计识别记录", err)
}

// DiseaseCount 按病害代码的识别次数
type DiseaseCount struct {
	DiseaseType     string
	DiseaseTypeName string
	Total           int64
}

// CountByDisease 按病害分组统计用户的识别次数，次数多的在前
func (s *RecordStore) CountByDisease(ctx context.Context, userID int64) ([]DiseaseCount, error) {
	var counts []DiseaseCount
	err := s.db.WithContext(ctx).
		Model(&models.RecognitionRecord{}).
		Select("disease_type, MAX(disease_type_name) AS disease_type_name, COUNT(*) AS total").
		Where("user_id = ?", userID).
		Group("disease_type").
		Order("total DESC, disease_type").
		Scan(&counts).Error
	if err != nil {
		return nil, wrap("统计识别记录", err)
	}
	return counts, nil
}
