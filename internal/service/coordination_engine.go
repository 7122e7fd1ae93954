package service

import (
	"context"
	"errors"
	"fmt"
	"k12_agent_backend/internal/config"
	"k12_agent_backend/internal/model"
	"k12_agent_backend/internal/util"
	"k12_agent_backend/pkg/logger"
	"k12_agent_backend/pkg/monitoring"
	"k12_agent_backend/pkg/tracing"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultEvictInterval = time.Minute
	maxDispatchAttempts  = 2
)

// 这些行为会改变掌握度或错题，需要清除推荐缓存
var cacheInvalidatingActions = map[model.BehaviorActionType]bool{
	model.ActionAnswerQuestion:   true,
	model.ActionCompleteHomework: true,
}

type AgentSessionSummary struct {
	UserID     uint                 `json:"userId"`
	Role       model.UserRole       `json:"role"`
	SessionID  string               `json:"sessionId"`
	State      string               `json:"state"`
	StartTime  time.Time            `json:"startTime"`
	LastActive time.Time            `json:"lastActive"`
	Context    model.SessionContext `json:"context"`
	Created    bool                 `json:"created"`
	Startup    *StartupResult       `json:"startup,omitempty"`
}

func summarizeAgent(agent Agent) *AgentSessionSummary {
	session := agent.Session()
	return &AgentSessionSummary{
		UserID:     session.UserID,
		Role:       session.Role,
		SessionID:  session.SessionID,
		State:      agent.State().String(),
		StartTime:  session.StartTime,
		LastActive: agent.LastActive(),
		Context:    session.Context,
	}
}

type BulkAction struct {
	UserID uint              `json:"userId" binding:"required"`
	Action model.AgentAction `json:"action" binding:"required"`
}

type BulkResult struct {
	UserID   uint                 `json:"userId"`
	Response *model.AgentResponse `json:"response"`
}

// CoordinationEngine 管理所有用户的 Agent 并分发行为
type CoordinationEngine struct {
	rt       *AgentRuntime
	registry *AgentRegistry
	cache    *RecommendationCache
	bus      *NotificationBus

	bulkLimit     atomic.Int32
	idleTimeout   atomic.Int64
	evictInterval time.Duration
}

func NewCoordinationEngine(rt *AgentRuntime, cache *RecommendationCache, bus *NotificationBus, cfg config.AgentConfig) *CoordinationEngine {
	e := &CoordinationEngine{
		rt:            rt,
		registry:      NewAgentRegistry(),
		cache:         cache,
		bus:           bus,
		evictInterval: defaultEvictInterval,
	}
	e.applyAgentConfig(cfg)
	return e
}

func (e *CoordinationEngine) applyAgentConfig(cfg config.AgentConfig) {
	limit := cfg.BulkConcurrency
	if limit <= 0 {
		limit = config.DefaultAgentConfig().BulkConcurrency
	}
	e.bulkLimit.Store(int32(limit))
	e.idleTimeout.Store(int64(cfg.IdleTimeout()))
}

// ApplyConfig 配置热更新
func (e *CoordinationEngine) ApplyConfig(cfg *config.Config) {
	e.rt.SetSettings(SettingsFromConfig(cfg))
	e.rt.Store.ApplySettings(cfg.Agent)
	e.rt.Engine.SetTrace(cfg.Agent.TraceRecommendations)
	if e.cache != nil {
		e.cache.SetTTL(cfg.Agent.RecommendationCacheTTL())
	}
	if updater, ok := e.rt.Generator.(interface{ UpdateConfig(config.AIConfig) }); ok {
		updater.UpdateConfig(cfg.AI)
	}
	e.applyAgentConfig(cfg.Agent)
	logger.Log.Info("Agent configuration reloaded",
		zap.Duration("sessionGap", cfg.Agent.SessionGap()),
		zap.Float64("masterySmoothing", cfg.Agent.MasterySmoothing),
		zap.Int("bulkConcurrency", cfg.Agent.BulkConcurrency),
	)
}

func (e *CoordinationEngine) Registry() *AgentRegistry {
	return e.registry
}

// resolveRole 查不到用户时按学生处理
func (e *CoordinationEngine) resolveRole(ctx context.Context, userID uint) model.UserRole {
	role, err := e.rt.Store.UserRole(ctx, userID)
	if err != nil {
		if !errors.Is(err, util.ErrUserNotFound) {
			logger.Log.Warn("Failed to resolve user role, defaulting to student", zap.Uint("userId", userID), zap.Error(err))
		}
		return model.Student
	}
	if _, ok := model.ParseUserRole(string(role)); !ok {
		return model.Student
	}
	return role
}

// ensureAgent Agent 在启动完成后才登记，其他请求不会拿到未激活的 Agent
func (e *CoordinationEngine) ensureAgent(ctx context.Context, userID uint) (Agent, *StartupResult, error) {
	for attempt := 0; attempt < maxDispatchAttempts; attempt++ {
		var startup *StartupResult
		agent, created, err := e.registry.GetOrCreate(userID, func() (Agent, error) {
			agent, err := NewAgentForRole(e.rt, userID, e.resolveRole(ctx, userID))
			if err != nil {
				return nil, err
			}
			startup, err = agent.Startup(ctx)
			if err != nil {
				return nil, err
			}
			monitoring.ActiveAgents.WithLabelValues(string(agent.Role())).Inc()
			return agent, nil
		})
		if err != nil {
			return nil, nil, err
		}
		if agent.State() == StateShutdown {
			e.remove(userID, agent)
			continue
		}
		if !created {
			startup = nil
		}
		return agent, startup, nil
	}
	return nil, nil, &util.InvalidStateError{Op: "initialize", State: StateShutdown.String()}
}

func (e *CoordinationEngine) remove(userID uint, agent Agent) {
	if e.registry.Remove(userID, agent) {
		monitoring.ActiveAgents.WithLabelValues(string(agent.Role())).Dec()
	}
}

// Initialize 为用户创建并启动 Agent；已存在时直接返回当前会话
func (e *CoordinationEngine) Initialize(ctx context.Context, userID uint) (*AgentSessionSummary, error) {
	agent, startup, err := e.ensureAgent(ctx, userID)
	if err != nil {
		logger.Log.Warn("Agent initialization failed", zap.Uint("userId", userID), zap.Error(err))
		return nil, err
	}
	summary := summarizeAgent(agent)
	summary.Created = startup != nil
	summary.Startup = startup
	return summary, nil
}

// Dispatch 不返回 error，失败时返回 type 为 error 的响应
func (e *CoordinationEngine) Dispatch(ctx context.Context, userID uint, action model.AgentAction) (resp *model.AgentResponse) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "agent.dispatch",
		attribute.Int("user.id", int(userID)),
		attribute.String("action.type", action.Type),
	)
	var dispatchErr error
	defer func() {
		if r := recover(); r != nil {
			dispatchErr = fmt.Errorf("panic: %v", r)
			logger.Log.Error("Agent dispatch panicked", zap.Uint("userId", userID), zap.Any("panic", r), zap.Stack("stack"))
			resp = model.NewErrorResponse("internal_error", "处理请求时发生内部错误")
		}
		status := "ok"
		if resp.IsError() {
			status = "error"
		}
		monitoring.AgentDispatchCounter.WithLabelValues(action.Type, status).Inc()
		monitoring.ObserveSince(monitoring.AgentDispatchDuration, start, action.Type)
		tracing.EndSpan(span, dispatchErr)
	}()

	var agent Agent
	for attempt := 0; attempt < maxDispatchAttempts; attempt++ {
		var err error
		agent, _, err = e.ensureAgent(ctx, userID)
		if err != nil {
			dispatchErr = err
			return model.NewErrorResponse(util.ErrorCode(err), err.Error())
		}
		resp, err = agent.ProcessAction(ctx, action)
		if err == nil {
			dispatchErr = nil
			break
		}
		dispatchErr = err
		// 并发关闭后重新创建一次
		if errors.Is(err, util.ErrInvalidState) && agent.State() == StateShutdown {
			e.remove(userID, agent)
			continue
		}
		logger.Log.Warn("Agent action failed", zap.Uint("userId", userID), zap.String("action", action.Type), zap.Error(err))
		return model.NewErrorResponse(util.ErrorCode(err), err.Error())
	}
	if dispatchErr != nil {
		return model.NewErrorResponse(util.ErrorCode(dispatchErr), dispatchErr.Error())
	}

	if agent.Role() == model.Student {
		if cacheInvalidatingActions[model.NormalizeActionType(action.Type)] {
			e.cache.Invalidate(ctx, userID)
		}
		e.notifyCrossRole(ctx, userID, action, resp)
	}
	return resp
}

// crossRoleTriggers 行为类型或处理结果命中的通知触发条件
func crossRoleTriggers(action model.AgentAction, resp *model.AgentResponse) map[model.RelationType][]string {
	triggers := map[model.RelationType][]string{}
	add := func(rel model.RelationType, trigger string, allowed []string) {
		for _, t := range allowed {
			if t != trigger {
				continue
			}
			for _, existing := range triggers[rel] {
				if existing == trigger {
					return
				}
			}
			triggers[rel] = append(triggers[rel], trigger)
			return
		}
	}

	add(model.RelationTeacher, action.Type, util.TeacherNotifyTriggers)
	add(model.RelationParent, action.Type, util.ParentNotifyTriggers)
	if resp != nil {
		if util.MapBool(resp.Data, "learning_difficulty") {
			add(model.RelationTeacher, "learning_difficulty", util.TeacherNotifyTriggers)
		}
		if util.MapBool(resp.Data, "low_performance") {
			add(model.RelationParent, "low_performance", util.ParentNotifyTriggers)
		}
	}
	return triggers
}

// notifyCrossRole 通知失败不影响 dispatch 结果
func (e *CoordinationEngine) notifyCrossRole(ctx context.Context, studentID uint, action model.AgentAction, resp *model.AgentResponse) {
	if e.bus == nil {
		return
	}
	for relation, triggers := range crossRoleTriggers(action, resp) {
		recipients, err := e.rt.Store.RelatedUsers(ctx, studentID, relation)
		if err != nil {
			logger.Log.Warn("Failed to resolve notification recipients",
				zap.Uint("studentId", studentID), zap.String("relation", string(relation)), zap.Error(err))
			continue
		}
		for _, trigger := range triggers {
			for _, recipientID := range recipients {
				e.bus.Publish(NotificationEvent{
					ID:            uuid.NewString(),
					Trigger:       trigger,
					StudentID:     studentID,
					RecipientID:   recipientID,
					RecipientRole: model.UserRole(relation),
					Payload: map[string]interface{}{
						"action_type":   action.Type,
						"response_type": resp.Type,
					},
					CreatedAt: e.rt.Now(),
				})
			}
		}
	}
}

// BulkDispatch 并发处理，结果与输入一一对应
func (e *CoordinationEngine) BulkDispatch(ctx context.Context, items []BulkAction) []BulkResult {
	results := make([]BulkResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(e.bulkLimit.Load()))
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Log.Error("Bulk dispatch panicked", zap.Uint("userId", item.UserID), zap.Any("panic", r))
					results[i] = BulkResult{UserID: item.UserID, Response: model.NewErrorResponse("internal_error", "处理请求时发生内部错误")}
				}
			}()
			results[i] = BulkResult{UserID: item.UserID, Response: e.Dispatch(gctx, item.UserID, item.Action)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *CoordinationEngine) GetStatus(userID uint) (*AgentSessionSummary, error) {
	agent, ok := e.registry.Get(userID)
	if !ok {
		return nil, util.ErrAgentNotFound
	}
	return summarizeAgent(agent), nil
}

func (e *CoordinationEngine) Shutdown(ctx context.Context, userID uint) error {
	agent, ok := e.registry.Get(userID)
	if !ok {
		return util.ErrAgentNotFound
	}
	err := agent.Shutdown(ctx)
	e.remove(userID, agent)
	return err
}

func (e *CoordinationEngine) ShutdownAll(ctx context.Context) {
	count := 0
	e.registry.Range(func(userID uint, agent Agent) bool {
		if err := agent.Shutdown(ctx); err != nil {
			logger.Log.Warn("Agent shutdown failed", zap.Uint("userId", userID), zap.Error(err))
		}
		e.remove(userID, agent)
		count++
		return true
	})
	logger.Log.Info("All agents shut down", zap.Int("count", count))
}

// Recommendations 先查缓存；aiPowered 时使用文本生成，失败回退到规则推荐
func (e *CoordinationEngine) Recommendations(ctx context.Context, studentID uint, rc *RecommendationContext, aiPowered bool) ([]model.Recommendation, error) {
	field := rc.CacheKey()
	if aiPowered {
		field += "|ai"
	}
	if recs, ok := e.cache.Get(ctx, studentID, field); ok {
		return recs, nil
	}

	var (
		recs []model.Recommendation
		err  error
	)
	if aiPowered {
		recs, err = e.rt.Engine.GenerateAIPowered(ctx, studentID, rc)
	} else {
		recs, err = e.rt.Engine.Generate(ctx, studentID, rc)
	}
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, studentID, field, recs)
	return recs, nil
}

// StartIdleEviction 定期关闭长时间无活动的 Agent；超时为 0 时不淘汰
func (e *CoordinationEngine) StartIdleEviction(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.evictInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.evictIdle(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (e *CoordinationEngine) evictIdle(ctx context.Context) int {
	timeout := time.Duration(e.idleTimeout.Load())
	if timeout <= 0 {
		return 0
	}
	cutoff := e.rt.Now().Add(-timeout)
	evicted := 0
	e.registry.Range(func(userID uint, agent Agent) bool {
		if agent.LastActive().After(cutoff) {
			return true
		}
		if err := agent.Shutdown(ctx); err != nil {
			logger.Log.Warn("Idle agent shutdown failed", zap.Uint("userId", userID), zap.Error(err))
		}
		e.remove(userID, agent)
		evicted++
		return true
	})
	if evicted > 0 {
		logger.Log.Info("Evicted idle agents", zap.Int("count", evicted), zap.Duration("idleTimeout", timeout))
	}
	return evicted
}
