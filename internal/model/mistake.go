package model

import "time"

type MistakeStatus int

const (
	MistakeOpen     MistakeStatus = 1
	MistakeResolved MistakeStatus = 2
)

// MistakeEntry 错题集
type MistakeEntry struct {
	BaseModel
	StudentID    uint          `gorm:"index:idx_mistake_student_question;not null" json:"studentId"`
	QuestionID   uint          `gorm:"index:idx_mistake_student_question;not null" json:"questionId"`
	WrongAnswer  string        `gorm:"type:text" json:"wrongAnswer"`
	ReviewCount  int           `gorm:"default:0" json:"reviewCount"`
	Status       MistakeStatus `gorm:"default:1;index" json:"status"`
	LastReviewed *time.Time    `json:"lastReviewed"`
}

func (MistakeEntry) TableName() string {
	return "mistake_entries"
}
