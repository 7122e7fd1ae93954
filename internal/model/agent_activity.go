package model

import "time"

// AgentActivityLog 记录 Agent 生命周期与通知投递，与学习行为日志分开存放
type AgentActivityLog struct {
	ID           uint                   `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint                   `gorm:"index;not null" json:"userId"`
	AgentType    string                 `gorm:"size:64" json:"agentType"`
	ActivityType string                 `gorm:"size:64;index" json:"activityType"`
	Data         map[string]interface{} `gorm:"type:text;serializer:json" json:"data"`
	CreatedAt    time.Time              `json:"createdAt"`
}

func (AgentActivityLog) TableName() string {
	return "agent_activity_logs"
}
