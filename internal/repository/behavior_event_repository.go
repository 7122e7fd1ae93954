package repository

import (
	"context"
	"k12_agent_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type BehaviorEventRepository struct {
	DB *gorm.DB
}

func NewBehaviorEventRepository(db *gorm.DB) *BehaviorEventRepository {
	return &BehaviorEventRepository{DB: db}
}

func (r *BehaviorEventRepository) Create(ctx context.Context, event *model.BehaviorEvent) error {
	return r.DB.WithContext(ctx).Create(event).Error
}

// FindRecent 按时间倒序返回 since 之后的行为
func (r *BehaviorEventRepository) FindRecent(ctx context.Context, studentID uint, since time.Time, limit int) ([]model.BehaviorEvent, error) {
	var events []model.BehaviorEvent
	query := r.DB.WithContext(ctx).
		Where("student_id = ? AND timestamp >= ?", studentID, since).
		Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}

func (r *BehaviorEventRepository) FindLatest(ctx context.Context, studentID uint) (*model.BehaviorEvent, error) {
	var event model.BehaviorEvent
	err := r.DB.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("timestamp DESC").Order("id DESC").
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

type questionUsage struct {
	QuestionID uint
	Uses       int64
}

// CountQuestionUsage 统计 since 之后各题目被作答的次数（所有学生）
func (r *BehaviorEventRepository) CountQuestionUsage(ctx context.Context, questionIDs []uint, since time.Time) (map[uint]int64, error) {
	result := make(map[uint]int64, len(questionIDs))
	if len(questionIDs) == 0 {
		return result, nil
	}
	var rows []questionUsage
	err := r.DB.WithContext(ctx).Model(&model.BehaviorEvent{}).
		Select("question_id, COUNT(*) AS uses").
		Where("action_type = ? AND question_id IN ? AND timestamp >= ?", model.ActionAnswerQuestion, questionIDs, since).
		Group("question_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.QuestionID] = row.Uses
	}
	return result, nil
}
