package repository

import (
	"context"
	"k12_agent_backend/internal/model"

	"gorm.io/gorm"
)

type ProfileRepository struct {
	DB *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{DB: db}
}

// FirstOrCreate 不存在时写入默认画像
func (r *ProfileRepository) FirstOrCreate(ctx context.Context, studentID uint) (*model.StudentProfile, error) {
	var profile model.StudentProfile
	err := r.DB.WithContext(ctx).
		Where("student_id = ?", studentID).
		Attrs(*model.NewDefaultProfile(studentID)).
		FirstOrCreate(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepository) Save(ctx context.Context, profile *model.StudentProfile) error {
	return r.DB.WithContext(ctx).Save(profile).Error
}
