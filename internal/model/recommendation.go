package model

import (
	"time"
)

type RecommendationType string

const (
	RecPracticeQuestions RecommendationType = "practice_questions"
	RecVideoContent      RecommendationType = "video_content"
	RecMistakeAnalysis   RecommendationType = "mistake_analysis"
	RecLearningPath      RecommendationType = "learning_path"
)

const (
	MinRecommendationPriority = 1
	MaxRecommendationPriority = 5
	MaxRecommendations        = 5
)

// Recommendation 推荐结果，不落库
type Recommendation struct {
	Type              RecommendationType     `json:"type"`
	Title             string                 `json:"title"`
	Description       string                 `json:"description"`
	Priority          int                    `json:"priority"` // 1-5，越大越优先
	KnowledgePointIDs []string               `json:"knowledgePointIds"`
	EstimatedMinutes  int                    `json:"estimatedMinutes"`
	Payload           map[string]interface{} `json:"payload,omitempty"`
}

// ClampPriority 将优先级限制在 1-5
func ClampPriority(p int) int {
	if p < MinRecommendationPriority {
		return MinRecommendationPriority
	}
	if p > MaxRecommendationPriority {
		return MaxRecommendationPriority
	}
	return p
}

// RecommendationLog 推荐生成记录（agent.trace_recommendations 开启时写入）
type RecommendationLog struct {
	ID                 uint               `gorm:"primaryKey;autoIncrement" json:"id"`
	StudentID          uint               `gorm:"index;not null" json:"studentId"`
	RecommendationType RecommendationType `gorm:"type:varchar(32);not null" json:"recommendationType"`
	Title              string             `gorm:"size:255" json:"title"`
	Priority           int                `json:"priority"`
	KnowledgePointIDs  []string           `gorm:"type:text;serializer:json" json:"knowledgePointIds"`
	Source             string             `gorm:"size:32" json:"source"` // rule / ai
	CreatedAt          time.Time          `gorm:"index" json:"createdAt"`
}

func (RecommendationLog) TableName() string {
	return "recommendation_logs"
}
