package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	DefaultAbilityScore     = 0.5
	DefaultAttentionMinutes = 30
	DefaultLearningStyle    = "mixed"
	DefaultPreferredContent = "mixed"
)

// StudentProfile 学生画像，每个学生一行，首次访问时创建
type StudentProfile struct {
	ID                       uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	StudentID                uint      `gorm:"uniqueIndex;not null" json:"studentId"`
	LearningStyle            string    `gorm:"size:50" json:"learningStyle"`
	AbilityVisual            float64   `json:"abilityVisual"`
	AbilityVerbal            float64   `json:"abilityVerbal"`
	AbilityLogical           float64   `json:"abilityLogical"`
	AbilityMathematical      float64   `json:"abilityMathematical"`
	AttentionDurationMinutes int       `json:"attentionDurationMinutes"`
	PreferredContentType     string    `gorm:"size:50" json:"preferredContentType"`
	CreatedAt                time.Time `json:"createdAt"`
	UpdatedAt                time.Time `json:"updatedAt"`
}

func (StudentProfile) TableName() string {
	return "student_profiles"
}

func NewDefaultProfile(studentID uint) *StudentProfile {
	return &StudentProfile{
		StudentID:                studentID,
		LearningStyle:            DefaultLearningStyle,
		AbilityVisual:            DefaultAbilityScore,
		AbilityVerbal:            DefaultAbilityScore,
		AbilityLogical:           DefaultAbilityScore,
		AbilityMathematical:      DefaultAbilityScore,
		AttentionDurationMinutes: DefaultAttentionMinutes,
		PreferredContentType:     DefaultPreferredContent,
	}
}

func (p *StudentProfile) BeforeSave(tx *gorm.DB) error {
	p.Clamp()
	return nil
}

func (p *StudentProfile) Clamp() {
	p.AbilityVisual = Clamp01(p.AbilityVisual)
	p.AbilityVerbal = Clamp01(p.AbilityVerbal)
	p.AbilityLogical = Clamp01(p.AbilityLogical)
	p.AbilityMathematical = Clamp01(p.AbilityMathematical)
	if p.AttentionDurationMinutes < 1 {
		p.AttentionDurationMinutes = 1
	}
}

func (p *StudentProfile) AverageAbility() float64 {
	return (p.AbilityVisual + p.AbilityVerbal + p.AbilityLogical + p.AbilityMathematical) / 4
}

// DifficultyPreference 根据平均能力推断适合的题目难度（1-4）
func (p *StudentProfile) DifficultyPreference() int {
	avg := p.AverageAbility()
	switch {
	case avg >= 0.8:
		return 4
	case avg >= 0.6:
		return 3
	case avg >= 0.4:
		return 2
	default:
		return 1
	}
}
