package model

import "slices"

const (
	DefaultQuestionQuality = 0.7
	DefaultQuestionSeconds = 120
)

type QuestionStatus int

const (
	QuestionDisabled QuestionStatus = 0
	QuestionEnabled  QuestionStatus = 1
)

// Question 题库题目
type Question struct {
	BaseModel
	Content           string         `gorm:"type:text;not null" json:"content"`
	Type              string         `gorm:"size:50" json:"type"`
	DifficultyLevel   int            `gorm:"index;not null" json:"difficultyLevel"` // 1-5
	QualityScore      *float64       `json:"qualityScore"`
	KnowledgePointIDs []string       `gorm:"type:text;serializer:json" json:"knowledgePointIds"`
	EstimatedSeconds  int            `gorm:"default:0" json:"estimatedSeconds"`
	Status            QuestionStatus `gorm:"default:1" json:"status"`
}

func (Question) TableName() string {
	return "questions"
}

func (q *Question) Quality() float64 {
	if q.QualityScore == nil {
		return DefaultQuestionQuality
	}
	return Clamp01(*q.QualityScore)
}

func (q *Question) ExpectedSeconds() int {
	if q.EstimatedSeconds <= 0 {
		return DefaultQuestionSeconds
	}
	return q.EstimatedSeconds
}

func (q *Question) CoversKnowledgePoint(id string) bool {
	return slices.Contains(q.KnowledgePointIDs, id)
}
