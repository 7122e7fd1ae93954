package service

import (
	"context"
	"k12_agent_backend/internal/config"
	"k12_agent_backend/internal/model"
	"k12_agent_backend/internal/util"
	"k12_agent_backend/pkg/logger"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AgentState int32

const (
	StateInactive AgentState = iota
	StateActive
	StateShutdown
)

func (s AgentState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Agent 每个用户一个，状态只能 Inactive -> Active -> Shutdown
type Agent interface {
	Startup(ctx context.Context) (*StartupResult, error)
	ProcessAction(ctx context.Context, action model.AgentAction) (*model.AgentResponse, error)
	Shutdown(ctx context.Context) error
	Session() model.AgentSession
	Role() model.UserRole
	State() AgentState
	LastActive() time.Time
}

// PreparedAction 由推荐转换而来的前端动作
type PreparedAction struct {
	Type              string                 `json:"type"`
	Priority          int                    `json:"priority"`
	KnowledgePointIDs []string               `json:"knowledgePointIds,omitempty"`
	Data              map[string]interface{} `json:"data,omitempty"`
}

type StartupResult struct {
	Session         model.AgentSession     `json:"session"`
	IsNewSession    bool                   `json:"isNewSession"`
	Progress        *ProgressSummary       `json:"progress,omitempty"`
	Behavior        *BehaviorAnalysis      `json:"behavior,omitempty"`
	Overview        map[string]interface{} `json:"overview,omitempty"`
	Recommendations []model.Recommendation `json:"recommendations"`
	Actions         []PreparedAction       `json:"actions"`
}

// AgentSettings 所有 Agent 共享的运行参数，支持热更新
type AgentSettings struct {
	MasterySmoothing  float64
	SessionGap        time.Duration
	GenerationTimeout time.Duration
}

func SettingsFromConfig(cfg *config.Config) AgentSettings {
	return AgentSettings{
		MasterySmoothing:  cfg.Agent.MasterySmoothing,
		SessionGap:        cfg.Agent.SessionGap(),
		GenerationTimeout: cfg.AI.Timeout(),
	}
}

// AgentRuntime Agent 的共享依赖
type AgentRuntime struct {
	Store     *KnowledgeStore
	Engine    *RecommendationEngine
	Generator TextGenerator
	Now       func() time.Time

	settings atomic.Pointer[AgentSettings]
}

func NewAgentRuntime(store *KnowledgeStore, engine *RecommendationEngine, gen TextGenerator, settings AgentSettings) *AgentRuntime {
	rt := &AgentRuntime{Store: store, Engine: engine, Generator: gen, Now: time.Now}
	rt.SetSettings(settings)
	return rt
}

func (rt *AgentRuntime) SetSettings(s AgentSettings) {
	if s.MasterySmoothing <= 0 || s.MasterySmoothing > 1 {
		s.MasterySmoothing = config.DefaultAgentConfig().MasterySmoothing
	}
	if s.SessionGap <= 0 {
		s.SessionGap = time.Hour
	}
	rt.settings.Store(&s)
}

func (rt *AgentRuntime) Settings() AgentSettings {
	return *rt.settings.Load()
}

// generate 文本生成带超时，失败时返回 fallback
func (rt *AgentRuntime) generate(ctx context.Context, prompt string, role model.UserRole, fallback string) (string, bool) {
	if timeout := rt.Settings().GenerationTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return generateWithFallback(ctx, rt.Generator, prompt, RoleContext{Role: role}, fallback)
}

// baseAgent 状态机与会话管理，具体角色嵌入使用
type baseAgent struct {
	rt        *AgentRuntime
	agentType string

	// mu 串行化同一 Agent 上的操作
	mu         sync.Mutex
	state      atomic.Int32
	session    model.AgentSession
	sessionMu  sync.RWMutex
	lastActive atomic.Int64
}

func (a *baseAgent) initBase(rt *AgentRuntime, userID uint, role model.UserRole, agentType string) {
	a.rt = rt
	a.agentType = agentType
	a.session = model.AgentSession{
		UserID:    userID,
		Role:      role,
		SessionID: uuid.NewString(),
		Context: model.SessionContext{
			ContextType: model.ContextGeneral,
			FocusLevel:  defaultFocusLevel,
		},
	}
	a.touch()
}

func (a *baseAgent) State() AgentState {
	return AgentState(a.state.Load())
}

func (a *baseAgent) Role() model.UserRole {
	a.sessionMu.RLock()
	defer a.sessionMu.RUnlock()
	return a.session.Role
}

func (a *baseAgent) Session() model.AgentSession {
	a.sessionMu.RLock()
	defer a.sessionMu.RUnlock()
	return a.session
}

func (a *baseAgent) LastActive() time.Time {
	return time.Unix(0, a.lastActive.Load())
}

func (a *baseAgent) touch() {
	a.lastActive.Store(a.rt.Now().UnixNano())
}

func (a *baseAgent) updateSession(fn func(s *model.AgentSession)) {
	a.sessionMu.Lock()
	fn(&a.session)
	a.sessionMu.Unlock()
}

// activate Inactive -> Active，调用方需持有 a.mu
func (a *baseAgent) activate() error {
	if !a.state.CompareAndSwap(int32(StateInactive), int32(StateActive)) {
		return &util.InvalidStateError{Op: "startup", State: a.State().String()}
	}
	now := a.rt.Now()
	a.updateSession(func(s *model.AgentSession) {
		s.StartTime = now
		s.Active = true
		s.Context.LastActivity = now
	})
	a.touch()
	return nil
}

func (a *baseAgent) requireActive(op string) error {
	if st := a.State(); st != StateActive {
		return &util.InvalidStateError{Op: op, State: st.String()}
	}
	return nil
}

// recordAction 更新会话上下文中的计数
func (a *baseAgent) recordAction(actionType string) {
	now := a.rt.Now()
	a.updateSession(func(s *model.AgentSession) {
		s.Context.ActionCount++
		s.Context.LastActionType = actionType
		s.Context.LastActivity = now
	})
	a.touch()
}

// shutdown 幂等；首次关闭时记录会话时长
func (a *baseAgent) shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := AgentState(a.state.Swap(int32(StateShutdown)))
	if prev == StateShutdown {
		return nil
	}
	session := a.Session()
	a.updateSession(func(s *model.AgentSession) { s.Active = false })
	if prev == StateInactive {
		return nil
	}

	duration := a.rt.Now().Sub(session.StartTime)
	logger.Log.Info("Agent shutdown",
		zap.Uint("userId", session.UserID),
		zap.String("agentType", a.agentType),
		zap.String("sessionId", session.SessionID),
		zap.Duration("sessionDuration", duration),
		zap.Int("actionCount", session.Context.ActionCount),
	)
	err := a.rt.Store.LogAgentActivity(ctx, session.UserID, a.agentType, "agent_shutdown", map[string]interface{}{
		"session_id":       session.SessionID,
		"session_duration": duration.Seconds(),
		"action_count":     session.Context.ActionCount,
		"context_type":     session.Context.ContextType,
	})
	if err != nil {
		logger.Log.Warn("Failed to log agent shutdown", zap.Uint("userId", session.UserID), zap.Error(err))
	}
	return nil
}

func (a *baseAgent) logStartup(ctx context.Context, data map[string]interface{}) {
	session := a.Session()
	if data == nil {
		data = map[string]interface{}{}
	}
	data["session_id"] = session.SessionID
	if err := a.rt.Store.LogAgentActivity(ctx, session.UserID, a.agentType, "agent_startup", data); err != nil {
		logger.Log.Warn("Failed to log agent startup", zap.Uint("userId", session.UserID), zap.Error(err))
	}
}

// prepareActions 每条推荐对应一个动作
func prepareActions(recs []model.Recommendation) []PreparedAction {
	actions := make([]PreparedAction, 0, len(recs))
	for _, rec := range recs {
		action := PreparedAction{
			Priority:          rec.Priority,
			KnowledgePointIDs: rec.KnowledgePointIDs,
			Data:              rec.Payload,
		}
		switch rec.Type {
		case model.RecPracticeQuestions:
			action.Type = "push_questions"
		case model.RecVideoContent:
			action.Type = "recommend_video"
		case model.RecMistakeAnalysis:
			action.Type = "mistake_analysis"
		case model.RecLearningPath:
			action.Type = "learning_path"
		default:
			continue
		}
		actions = append(actions, action)
	}
	return actions
}
