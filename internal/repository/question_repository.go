package repository

import (
	"context"
	"fmt"
	"k12_agent_backend/internal/model"

	"gorm.io/gorm"
)

type QuestionRepository struct {
	DB *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{DB: db}
}

func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return r.DB.WithContext(ctx).Create(q).Error
}

func (r *QuestionRepository) FindByID(ctx context.Context, id uint) (*model.Question, error) {
	var q model.Question
	err := r.DB.WithContext(ctx).First(&q, id).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// knowledgePointLike knowledge_point_ids 以 JSON 数组存储，先用 LIKE 粗筛
func knowledgePointLike(kpID string) string {
	return fmt.Sprintf("%%%q%%", kpID)
}

// FindCandidates 启用状态、覆盖 kpID 且难度在 [minLevel,maxLevel] 内的题目
func (r *QuestionRepository) FindCandidates(ctx context.Context, kpID string, minLevel, maxLevel, limit int) ([]model.Question, error) {
	var rows []model.Question
	err := r.DB.WithContext(ctx).
		Where("status = ? AND difficulty_level BETWEEN ? AND ?", model.QuestionEnabled, minLevel, maxLevel).
		Where("knowledge_point_ids LIKE ?", knowledgePointLike(kpID)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	questions := make([]model.Question, 0, len(rows))
	for _, q := range rows {
		if !q.CoversKnowledgePoint(kpID) {
			continue
		}
		questions = append(questions, q)
		if limit > 0 && len(questions) >= limit {
			break
		}
	}
	return questions, nil
}
