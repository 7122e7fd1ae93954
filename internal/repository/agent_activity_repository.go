package repository

import (
	"context"
	"k12_agent_backend/internal/model"

	"gorm.io/gorm"
)

type AgentActivityRepository struct {
	DB *gorm.DB
}

func NewAgentActivityRepository(db *gorm.DB) *AgentActivityRepository {
	return &AgentActivityRepository{DB: db}
}

func (r *AgentActivityRepository) Create(ctx context.Context, log *model.AgentActivityLog) error {
	return r.DB.WithContext(ctx).Create(log).Error
}

func (r *AgentActivityRepository) FindByUser(ctx context.Context, userID uint, limit int) ([]model.AgentActivityLog, error) {
	var logs []model.AgentActivityLog
	query := r.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&logs).Error
	return logs, err
}

func (r *AgentActivityRepository) CreateRecommendationLogs(ctx context.Context, logs []model.RecommendationLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).Create(&logs).Error
}
