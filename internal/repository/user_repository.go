package repository

import (
	"context"
	"k12_agent_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type UserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.DB.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	err := r.DB.WithContext(ctx).First(&user, id).Error
	return &user, err
}

func (r *UserRepository) TouchLastSeen(ctx context.Context, id uint, at time.Time) error {
	return r.DB.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Update("last_seen", at).
		Error
}

func (r *UserRepository) AddRelation(ctx context.Context, rel *model.StudentRelation) error {
	return r.DB.WithContext(ctx).
		Where("student_id = ? AND related_user_id = ?", rel.StudentID, rel.RelatedUserID).
		FirstOrCreate(rel).Error
}

// FindRelatedUsers 学生关联的教师或家长
func (r *UserRepository) FindRelatedUsers(ctx context.Context, studentID uint, relation model.RelationType) ([]uint, error) {
	var ids []uint
	err := r.DB.WithContext(ctx).Model(&model.StudentRelation{}).
		Where("student_id = ? AND relation = ?", studentID, relation).
		Pluck("related_user_id", &ids).Error
	return ids, err
}

// FindStudentsOf 教师或家长关联的学生
func (r *UserRepository) FindStudentsOf(ctx context.Context, userID uint, relation model.RelationType) ([]model.User, error) {
	var users []model.User
	err := r.DB.WithContext(ctx).
		Joins("JOIN student_relations ON student_relations.student_id = users.id AND student_relations.deleted_at IS NULL").
		Where("student_relations.related_user_id = ? AND student_relations.relation = ?", userID, relation).
		Order("users.id").
		Find(&users).Error
	return users, err
}
