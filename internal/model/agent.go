package model

import (
	"time"
)

type SessionType string

const (
	SessionNew        SessionType = "new"
	SessionContinuing SessionType = "continuing"
)

type ContextType string

const (
	ContextStudy    ContextType = "study"
	ContextHomework ContextType = "homework"
	ContextExam     ContextType = "exam"
	ContextReview   ContextType = "review"
	ContextGeneral  ContextType = "general"
)

// ParseContextType 未知值归为 general
func ParseContextType(s string) ContextType {
	switch c := ContextType(s); c {
	case ContextStudy, ContextHomework, ContextExam, ContextReview:
		return c
	}
	return ContextGeneral
}

// SessionContext Agent 会话上下文
type SessionContext struct {
	SessionType    SessionType `json:"sessionType"`
	ContextType    ContextType `json:"contextType"`
	FocusLevel     float64     `json:"focusLevel"`
	LastActivity   time.Time   `json:"lastActivity"`
	ActionCount    int         `json:"actionCount"`
	LastActionType string      `json:"lastActionType,omitempty"`
}

// AgentSession 内存中的 Agent 会话
type AgentSession struct {
	UserID    uint           `json:"userId"`
	Role      UserRole       `json:"role"`
	SessionID string         `json:"sessionId"`
	StartTime time.Time      `json:"startTime"`
	Active    bool           `json:"active"`
	Context   SessionContext `json:"context"`
}

// AgentAction 客户端提交的动作；Timestamp 为客户端时间，仅作参考
type AgentAction struct {
	Type      string                 `json:"type" binding:"required"`
	Data      map[string]interface{} `json:"data"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
}

func (a AgentAction) ContextString(key string) string {
	if s, ok := a.Context[key].(string); ok {
		return s
	}
	return ""
}

// ContextTypeHint 读取 context.context_type，其次 context.type
func (a AgentAction) ContextTypeHint() string {
	if s := a.ContextString("context_type"); s != "" {
		return s
	}
	return a.ContextString("type")
}

type AgentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AgentResponse Agent 处理结果；出错时 Type 为 error
type AgentResponse struct {
	Type            string                 `json:"type"`
	Content         string                 `json:"content"`
	Data            map[string]interface{} `json:"data,omitempty"`
	Recommendations []Recommendation       `json:"recommendations,omitempty"`
	Error           *AgentError            `json:"error,omitempty"`
}

const ResponseTypeError = "error"

func NewErrorResponse(code, message string) *AgentResponse {
	return &AgentResponse{
		Type:    ResponseTypeError,
		Content: message,
		Error:   &AgentError{Code: code, Message: message},
	}
}

func (r *AgentResponse) IsError() bool {
	return r != nil && r.Error != nil
}
