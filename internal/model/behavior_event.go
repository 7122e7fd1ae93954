package model

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrBehaviorEventImmutable = errors.New("behavior events are append-only")

type BehaviorActionType string

const (
	ActionStartLearning    BehaviorActionType = "start_learning"
	ActionAnswerQuestion   BehaviorActionType = "answer_question"
	ActionViewContent      BehaviorActionType = "view_content"
	ActionRequestHelp      BehaviorActionType = "request_help"
	ActionCompleteHomework BehaviorActionType = "complete_homework"
	ActionOther            BehaviorActionType = "other"
)

// NormalizeActionType 未知行为归为 other，原始类型另存于 RawType
func NormalizeActionType(raw string) BehaviorActionType {
	switch t := BehaviorActionType(raw); t {
	case ActionStartLearning, ActionAnswerQuestion, ActionViewContent, ActionRequestHelp, ActionCompleteHomework:
		return t
	}
	return ActionOther
}

// BehaviorEvent 学习行为日志，只追加不修改
type BehaviorEvent struct {
	ID              uint                   `gorm:"primaryKey;autoIncrement" json:"id"`
	StudentID       uint                   `gorm:"index:idx_behavior_student_time;not null" json:"studentId"`
	ActionType      BehaviorActionType     `gorm:"type:varchar(32);index;not null" json:"actionType"`
	RawType         string                 `gorm:"size:64" json:"rawType"`
	QuestionID      uint                   `gorm:"index;default:0" json:"questionId,omitempty"`
	DurationSeconds int                    `gorm:"default:0" json:"durationSeconds"`
	Payload         map[string]interface{} `gorm:"type:text;serializer:json" json:"payload"`
	SessionID       string                 `gorm:"size:64;index" json:"sessionId"`
	Timestamp       time.Time              `gorm:"index:idx_behavior_student_time;not null" json:"timestamp"`
}

func (BehaviorEvent) TableName() string {
	return "behavior_events"
}

func (e *BehaviorEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ActionType == "" {
		e.ActionType = NormalizeActionType(e.RawType)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return nil
}

func (BehaviorEvent) BeforeUpdate(tx *gorm.DB) error {
	return ErrBehaviorEventImmutable
}

func (BehaviorEvent) BeforeDelete(tx *gorm.DB) error {
	return ErrBehaviorEventImmutable
}

// IsCorrectAnswer 读取答题事件的 is_correct 字段
func (e *BehaviorEvent) IsCorrectAnswer() bool {
	if e.ActionType != ActionAnswerQuestion {
		return false
	}
	v, _ := e.Payload["is_correct"].(bool)
	return v
}
