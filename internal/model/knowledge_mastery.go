package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	MasteredThreshold   = 0.8
	InitialMasteryLevel = 0.5
)

// KnowledgeMastery 学生对单个知识点的掌握度(0.0 - 1.0)
type KnowledgeMastery struct {
	ID               uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	StudentID        uint       `gorm:"uniqueIndex:idx_student_kp;not null" json:"studentId"`
	KnowledgePointID string     `gorm:"uniqueIndex:idx_student_kp;type:varchar(64);not null" json:"knowledgePointId"`
	MasteryLevel     float64    `gorm:"not null;default:0" json:"masteryLevel"`
	LastPracticeTime *time.Time `json:"lastPracticeTime"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (KnowledgeMastery) TableName() string {
	return "knowledge_masteries"
}

func (m *KnowledgeMastery) BeforeSave(tx *gorm.DB) error {
	m.MasteryLevel = Clamp01(m.MasteryLevel)
	return nil
}

// DaysSincePractice 从未练习返回 false
func (m *KnowledgeMastery) DaysSincePractice(now time.Time) (int, bool) {
	if m.LastPracticeTime == nil {
		return 0, false
	}
	return int(now.Sub(*m.LastPracticeTime).Hours() / 24), true
}
