package util

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound      = errors.New("用户不存在")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidState      = errors.New("agent is not in a valid state for this operation")
	ErrNoAgentForRole    = errors.New("no agent configured for role")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrGenerationTimeout = errors.New("text generation timed out")
	ErrGeneratorDisabled = errors.New("text generator not configured")
)

// StorageError 持久化层错误，调用方通常降级为默认值
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// InvalidStateError Agent 状态不允许当前操作
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: agent state is %s", e.Op, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// GenerationError 文本生成失败（超时、网络、上游错误）
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("text generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ConfigurationError 角色没有对应的 Agent 等配置问题
type ConfigurationError struct {
	Role string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for role %q: %v", e.Role, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ErrorCode 将错误映射为 AgentResponse 中的错误码
func ErrorCode(err error) string {
	var (
		stateErr *InvalidStateError
		cfgErr   *ConfigurationError
		genErr   *GenerationError
		storeErr *StorageError
	)
	switch {
	case errors.As(err, &stateErr):
		return "invalid_state"
	case errors.As(err, &cfgErr):
		return "configuration_error"
	case errors.As(err, &genErr):
		return "generation_error"
	case errors.As(err, &storeErr):
		return "storage_error"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	}
	return "internal_error"
}
