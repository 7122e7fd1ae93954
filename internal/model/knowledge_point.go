package model

import (
	"time"
)

// KnowledgePoint 知识点；Foundational 标记基础概念，用于推荐紧急度计算
type KnowledgePoint struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title        string    `gorm:"size:255;not null" json:"title"`
	ParentID     string    `gorm:"type:varchar(64);index" json:"parentId"`
	Foundational bool      `gorm:"default:false" json:"foundational"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (KnowledgePoint) TableName() string {
	return "knowledge_points"
}
