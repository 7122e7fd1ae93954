package model

import "slices"

type ContentType string

const (
	ContentVideo     ContentType = "video"
	ContentImage     ContentType = "image"
	ContentAnimation ContentType = "animation"
	ContentText      ContentType = "text"
	ContentAudio     ContentType = "audio"
	ContentDocument  ContentType = "document"
)

// VisualContentTypes / VerbalContentTypes 按学习风格筛选资源
var (
	VisualContentTypes = []ContentType{ContentVideo, ContentImage, ContentAnimation}
	VerbalContentTypes = []ContentType{ContentText, ContentAudio, ContentDocument}
)

// LearningResource represents a learning resource
// swagger:model LearningResource
type LearningResource struct {
	BaseModel
	Title             string      `gorm:"size:255;not null" json:"title"`
	ContentType       ContentType `gorm:"type:varchar(20);index;not null" json:"contentType"`
	URL               string      `gorm:"size:500;not null" json:"url"`
	DurationSeconds   int         `gorm:"default:0" json:"durationSeconds"` // 视频时长（秒）
	DifficultyLevel   int         `gorm:"default:1" json:"difficultyLevel"`
	Rating            float64     `gorm:"default:0" json:"rating"`
	KnowledgePointIDs []string    `gorm:"type:text;serializer:json" json:"knowledgePointIds"`
	Status            int         `gorm:"default:1" json:"status"`
}

func (LearningResource) TableName() string {
	return "learning_resources"
}

func (r *LearningResource) CoversKnowledgePoint(id string) bool {
	return slices.Contains(r.KnowledgePointIDs, id)
}
