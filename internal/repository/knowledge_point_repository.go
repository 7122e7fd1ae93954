package repository

import (
	"context"
	"k12_agent_backend/internal/model"

	"gorm.io/gorm"
)

type KnowledgePointRepository struct {
	DB *gorm.DB
}

func NewKnowledgePointRepository(db *gorm.DB) *KnowledgePointRepository {
	return &KnowledgePointRepository{DB: db}
}

func (r *KnowledgePointRepository) Save(ctx context.Context, kp *model.KnowledgePoint) error {
	return r.DB.WithContext(ctx).Save(kp).Error
}

func (r *KnowledgePointRepository) FindByIDs(ctx context.Context, ids []string) ([]model.KnowledgePoint, error) {
	var points []model.KnowledgePoint
	if len(ids) == 0 {
		return points, nil
	}
	err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&points).Error
	return points, err
}

func (r *KnowledgePointRepository) FoundationalIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.DB.WithContext(ctx).Model(&model.KnowledgePoint{}).
		Where("foundational = ?", true).
		Pluck("id", &ids).Error
	return ids, err
}
