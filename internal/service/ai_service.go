package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"k12_agent_backend/internal/config"
	"k12_agent_backend/internal/model"
	"k12_agent_backend/internal/util"
	"k12_agent_backend/pkg/logger"
	"k12_agent_backend/pkg/monitoring"
	"k12_agent_backend/pkg/tracing"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// TextGenerator 文本生成协作者，roleCtx 决定系统提示词
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, roleCtx RoleContext) (string, error)
}

type RoleContext struct {
	Role   model.UserRole
	Extras map[string]interface{}
}

var systemPrompts = map[model.UserRole]string{
	model.Student: "你是一个专业的K12教育AI助手，专门为学生提供个性化学习指导。",
	model.Teacher: "你是一个专业的K12教育AI助手，专门为教师提供教学支持和学情分析。",
	model.Parent:  "你是一个专业的K12教育AI助手，专门为家长提供孩子学习情况分析和建议。",
	model.Admin:   "你是一个专业的K12教育AI助手，专门为管理员提供数据分析和系统优化建议。",
}

func systemPrompt(role model.UserRole) string {
	if p, ok := systemPrompts[role]; ok {
		return p
	}
	return systemPrompts[model.Student]
}

// AIService OpenAI 兼容的 chat/completions 客户端
type AIService struct {
	mu     sync.RWMutex
	config config.AIConfig
	client *http.Client
}

func NewAIService(cfg config.AIConfig) *AIService {
	return &AIService{config: cfg, client: &http.Client{}}
}

// UpdateConfig 配置热更新
func (s *AIService) UpdateConfig(cfg config.AIConfig) {
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
}

func (s *AIService) Config() config.AIConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []AIChatMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate 调用上游生成文本；超时返回包装 ErrGenerationTimeout 的 GenerationError
func (s *AIService) Generate(ctx context.Context, prompt string, roleCtx RoleContext) (text string, err error) {
	cfg := s.Config()
	if cfg.BaseURL == "" {
		return "", &util.GenerationError{Err: util.ErrGeneratorDisabled}
	}

	ctx, span := tracing.StartSpan(ctx, "ai.generate",
		attribute.String("ai.model", cfg.Model),
		attribute.String("ai.role", string(roleCtx.Role)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if timeout := cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	text, err = s.complete(ctx, cfg, []AIChatMessage{
		{Role: "system", Content: systemPrompt(roleCtx.Role)},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", util.ErrGenerationTimeout, err)
		}
		logger.Log.Warn("AI generation failed", zap.String("role", string(roleCtx.Role)), zap.Error(err))
		return "", &util.GenerationError{Err: err}
	}
	return text, nil
}

func (s *AIService) complete(ctx context.Context, cfg config.AIConfig, messages []AIChatMessage) (string, error) {
	reqBody := ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    messages,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(cfg.BaseURL, "/")+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("AI API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("AI API error: %s", result.Error.Message)
	}

	if len(result.Choices) > 0 {
		return result.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("AI returned no choices")
}

// GenerateJSON 要求返回 JSON；解析失败时返回 {error, raw_response, success:false}，只有生成失败才返回 error
func GenerateJSON(ctx context.Context, gen TextGenerator, prompt string, roleCtx RoleContext) (map[string]interface{}, error) {
	raw, err := gen.Generate(ctx, prompt+"\n\n请以JSON格式回复，确保返回的内容是有效的JSON格式。", roleCtx)
	if err != nil {
		return nil, err
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &out); err != nil {
		return map[string]interface{}{
			"error":        "JSON解析失败",
			"raw_response": raw,
			"success":      false,
		}, nil
	}
	return out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// generateWithFallback 生成失败时返回 fallback 并记录指标
func generateWithFallback(ctx context.Context, gen TextGenerator, prompt string, roleCtx RoleContext, fallback string) (string, bool) {
	if gen == nil {
		monitoring.GenerationFallbacks.WithLabelValues("disabled").Inc()
		return fallback, false
	}
	text, err := gen.Generate(ctx, prompt, roleCtx)
	if err != nil || strings.TrimSpace(text) == "" {
		reason := "error"
		switch {
		case errors.Is(err, util.ErrGenerationTimeout), errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, util.ErrGeneratorDisabled):
			reason = "disabled"
		case err == nil:
			reason = "empty"
		}
		monitoring.GenerationFallbacks.WithLabelValues(reason).Inc()
		return fallback, false
	}
	return text, true
}
