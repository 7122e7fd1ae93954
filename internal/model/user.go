package model

import (
	"time"
)

type UserRole string

const (
	Student UserRole = "student"
	Teacher UserRole = "teacher"
	Parent  UserRole = "parent"
	Admin   UserRole = "admin"
)

// ParseUserRole 未知角色返回 false
func ParseUserRole(s string) (UserRole, bool) {
	switch UserRole(s) {
	case Student, Teacher, Parent, Admin:
		return UserRole(s), true
	}
	return "", false
}

// swagger:model User
type User struct {
	BaseModel
	Name     string    `gorm:"size:100;not null" json:"name"`
	Email    string    `gorm:"size:100;unique;not null" json:"email"`
	Role     UserRole  `gorm:"type:varchar(20);default:'student'" json:"role"`
	Disabled bool      `gorm:"default:false" json:"disabled"`
	LastSeen time.Time `json:"lastSeen"`
}

func (User) TableName() string {
	return "users"
}

type RelationType string

const (
	RelationTeacher RelationType = "teacher"
	RelationParent  RelationType = "parent"
)

// StudentRelation 学生与教师/家长的关联，跨角色通知据此确定接收人
type StudentRelation struct {
	BaseModel
	StudentID     uint         `gorm:"uniqueIndex:idx_student_related;not null" json:"studentId"`
	RelatedUserID uint         `gorm:"uniqueIndex:idx_student_related;not null" json:"relatedUserId"`
	Relation      RelationType `gorm:"type:varchar(20);index;not null" json:"relation"`
}

func (StudentRelation) TableName() string {
	return "student_relations"
}
