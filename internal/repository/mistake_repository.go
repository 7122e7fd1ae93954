package repository

import (
	"context"
	"errors"
	"k12_agent_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type MistakeRepository struct {
	DB *gorm.DB
}

func NewMistakeRepository(db *gorm.DB) *MistakeRepository {
	return &MistakeRepository{DB: db}
}

func (r *MistakeRepository) FindOpen(ctx context.Context, studentID uint, limit int) ([]model.MistakeEntry, error) {
	var entries []model.MistakeEntry
	query := r.DB.WithContext(ctx).
		Where("student_id = ? AND status = ?", studentID, model.MistakeOpen).
		Order("updated_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&entries).Error
	return entries, err
}

// Record 同一题目已有未解决错题时累加复习次数，否则新建
func (r *MistakeRepository) Record(ctx context.Context, studentID, questionID uint, wrongAnswer string) (*model.MistakeEntry, error) {
	var entry model.MistakeEntry
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("student_id = ? AND question_id = ? AND status = ?", studentID, questionID, model.MistakeOpen).
			First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			entry = model.MistakeEntry{
				StudentID:   studentID,
				QuestionID:  questionID,
				WrongAnswer: wrongAnswer,
				Status:      model.MistakeOpen,
			}
			return tx.Create(&entry).Error
		}
		if err != nil {
			return err
		}
		entry.WrongAnswer = wrongAnswer
		entry.ReviewCount++
		return tx.Save(&entry).Error
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Resolve 返回被标记为已解决的条数
func (r *MistakeRepository) Resolve(ctx context.Context, studentID, questionID uint, at time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.MistakeEntry{}).
		Where("student_id = ? AND question_id = ? AND status = ?", studentID, questionID, model.MistakeOpen).
		Updates(map[string]interface{}{
			"status":        model.MistakeResolved,
			"last_reviewed": at,
			"review_count":  gorm.Expr("review_count + 1"),
		})
	return res.RowsAffected, res.Error
}
