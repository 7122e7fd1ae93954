package repository

import (
	"context"
	"errors"
	"k12_agent_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type MasteryRepository struct {
	DB *gorm.DB
}

func NewMasteryRepository(db *gorm.DB) *MasteryRepository {
	return &MasteryRepository{DB: db}
}

func (r *MasteryRepository) FindByStudent(ctx context.Context, studentID uint) ([]model.KnowledgeMastery, error) {
	var masteries []model.KnowledgeMastery
	err := r.DB.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("knowledge_point_id").
		Find(&masteries).Error
	return masteries, err
}

func (r *MasteryRepository) Find(ctx context.Context, studentID uint, kpID string) (*model.KnowledgeMastery, error) {
	var m model.KnowledgeMastery
	err := r.DB.WithContext(ctx).
		Where("student_id = ? AND knowledge_point_id = ?", studentID, kpID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindWeak 掌握度低于 threshold 的知识点，按掌握度升序
func (r *MasteryRepository) FindWeak(ctx context.Context, studentID uint, threshold float64, limit int) ([]model.KnowledgeMastery, error) {
	var masteries []model.KnowledgeMastery
	query := r.DB.WithContext(ctx).
		Where("student_id = ? AND mastery_level < ?", studentID, threshold).
		Order("mastery_level ASC").Order("knowledge_point_id")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&masteries).Error
	return masteries, err
}

// FindReviewCandidates 掌握度在 [min,max] 且最近练习早于 staleBefore 的知识点
func (r *MasteryRepository) FindReviewCandidates(ctx context.Context, studentID uint, min, max float64, staleBefore time.Time, limit int) ([]model.KnowledgeMastery, error) {
	var masteries []model.KnowledgeMastery
	query := r.DB.WithContext(ctx).
		Where("student_id = ? AND mastery_level >= ? AND mastery_level <= ?", studentID, min, max).
		Where("last_practice_time IS NOT NULL AND last_practice_time < ?", staleBefore).
		Order("last_practice_time ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&masteries).Error
	return masteries, err
}

// Upsert 在事务内读取（不存在则以初始掌握度创建）、修改并保存
func (r *MasteryRepository) Upsert(ctx context.Context, studentID uint, kpID string, fn func(m *model.KnowledgeMastery) error) (*model.KnowledgeMastery, error) {
	var result model.KnowledgeMastery
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("student_id = ? AND knowledge_point_id = ?", studentID, kpID).First(&result).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result = model.KnowledgeMastery{
				StudentID:        studentID,
				KnowledgePointID: kpID,
				MasteryLevel:     model.InitialMasteryLevel,
			}
		} else if err != nil {
			return err
		}
		if err := fn(&result); err != nil {
			return err
		}
		return tx.Save(&result).Error
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
