package repository

import (
	"context"
	"k12_agent_backend/internal/model"

	"gorm.io/gorm"
)

type ResourceRepository struct {
	DB *gorm.DB
}

func NewResourceRepository(db *gorm.DB) *ResourceRepository {
	return &ResourceRepository{DB: db}
}

func (r *ResourceRepository) Create(ctx context.Context, resource *model.LearningResource) error {
	return r.DB.WithContext(ctx).Create(resource).Error
}

// FindFor 覆盖 kpID 的资源，contentTypes 为空时不过滤类型，按评分降序
func (r *ResourceRepository) FindFor(ctx context.Context, kpID string, contentTypes []model.ContentType, limit int) ([]model.LearningResource, error) {
	var rows []model.LearningResource
	query := r.DB.WithContext(ctx).
		Where("status = 1").
		Where("knowledge_point_ids LIKE ?", knowledgePointLike(kpID))
	if len(contentTypes) > 0 {
		query = query.Where("content_type IN ?", contentTypes)
	}
	if err := query.Order("rating DESC").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	resources := make([]model.LearningResource, 0, len(rows))
	for _, res := range rows {
		if !res.CoversKnowledgePoint(kpID) {
			continue
		}
		resources = append(resources, res)
		if limit > 0 && len(resources) >= limit {
			break
		}
	}
	return resources, nil
}
