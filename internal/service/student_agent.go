package service

import (
	"context"
	"fmt"
	"k12_agent_backend/internal/model"
	"k12_agent_backend/internal/util"
	"k12_agent_backend/pkg/logger"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	behaviorWindow         = 24 * time.Hour
	contextEventCount      = 5
	focusBaselineSeconds   = 1800.0
	minPatternEvents       = 5
	difficultyWrongAnswers = 3
	extendedSessionSeconds = 7200
	progressWeakThreshold  = 0.6
	progressWeakLimit      = 5
	nextGoalCount          = 3
	efficiencyBoost        = 1.2
	defaultPlannedMinutes  = 30
	defaultFocusLevel      = 0.5
	defaultEfficiency      = 0.5
	studentAgentType       = "student"
	teacherAgentType       = "teacher"
	parentAgentType        = "parent"
)

type ProgressSummary struct {
	MasteredCount   int         `json:"masteredCount"`
	TotalCount      int         `json:"totalCount"`
	OverallProgress float64     `json:"overallProgress"`
	WeakPoints      []WeakPoint `json:"weakPoints"`
	NextGoals       []string    `json:"nextGoals"`
}

type BehaviorAnalysis struct {
	Active           bool           `json:"active"`
	EventCount       int            `json:"eventCount"`
	Patterns         []string       `json:"patterns"`
	Efficiency       float64        `json:"efficiency"`
	ConsecutiveWrong int            `json:"consecutiveWrong"`
	DifficultySignal bool           `json:"difficultySignal"`
	ExtendedSession  bool           `json:"extendedSession"`
	Stats            *LearningStats `json:"stats,omitempty"`
}

// StudentAgent 学生学习助手
type StudentAgent struct {
	baseAgent
}

func NewStudentAgent(rt *AgentRuntime, userID uint) *StudentAgent {
	a := &StudentAgent{}
	a.initBase(rt, userID, model.Student, studentAgentType)
	return a
}

func (a *StudentAgent) Startup(ctx context.Context) (*StartupResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.activate(); err != nil {
		return nil, err
	}
	userID := a.Session().UserID

	isNew, err := a.detectNewSession(ctx, userID)
	if err != nil {
		logger.Log.Warn("Session detection failed, treating as new session", zap.Uint("userId", userID), zap.Error(err))
	}
	recent, err := a.rt.Store.RecentEvents(ctx, userID, behaviorWindow, 0)
	if err != nil {
		logger.Log.Warn("Failed to load recent events", zap.Uint("userId", userID), zap.Error(err))
	}

	sessionType := model.SessionContinuing
	if isNew {
		sessionType = model.SessionNew
	}
	a.updateSession(func(s *model.AgentSession) {
		s.Context.SessionType = sessionType
		s.Context.ContextType = inferContextType(recent)
		s.Context.FocusLevel = focusLevel(recent)
	})

	result := &StartupResult{IsNewSession: isNew}
	rc := &RecommendationContext{SessionType: sessionType, ContextType: a.Session().Context.ContextType}
	if isNew {
		result.Progress = a.progressSummary(ctx, userID)
	} else {
		result.Behavior = a.analyzeBehavior(ctx, userID, recent)
		rc.DifficultySignal = result.Behavior.DifficultySignal
		rc.ExtendedSession = result.Behavior.ExtendedSession
	}

	recs, err := a.rt.Engine.Generate(ctx, userID, rc)
	if err != nil {
		logger.Log.Warn("Startup recommendations failed", zap.Uint("userId", userID), zap.Error(err))
		recs = []model.Recommendation{}
	}
	result.Recommendations = recs
	result.Actions = prepareActions(recs)
	result.Session = a.Session()

	a.logStartup(ctx, map[string]interface{}{
		"session_type":         sessionType,
		"context_type":         result.Session.Context.ContextType,
		"recommendation_count": len(recs),
	})
	logger.Log.Info("Student agent started",
		zap.Uint("userId", userID),
		zap.String("sessionType", string(sessionType)),
		zap.Int("recommendations", len(recs)),
	)
	return result, nil
}

func (a *StudentAgent) Shutdown(ctx context.Context) error {
	return a.shutdown(ctx)
}

// detectNewSession 距上一次行为超过会话间隔（默认 1 小时）即为新会话
func (a *StudentAgent) detectNewSession(ctx context.Context, userID uint) (bool, error) {
	last, err := a.rt.Store.LastEvent(ctx, userID)
	if err != nil {
		return true, err
	}
	if last == nil {
		return true, nil
	}
	return a.rt.Now().Sub(last.Timestamp) > a.rt.Settings().SessionGap, nil
}

// inferContextType 根据最近几条行为的原始类型判断学习场景
func inferContextType(events []model.BehaviorEvent) model.ContextType {
	if len(events) == 0 {
		return model.ContextGeneral
	}
	n := len(events)
	if n > contextEventCount {
		n = contextEventCount
	}
	for _, e := range events[:n] {
		raw := strings.ToLower(e.RawType)
		switch {
		case strings.Contains(raw, "homework"):
			return model.ContextHomework
		case strings.Contains(raw, "exam"):
			return model.ContextExam
		case strings.Contains(raw, "review"):
			return model.ContextReview
		}
	}
	return model.ContextStudy
}

func focusLevel(events []model.BehaviorEvent) float64 {
	total, n := 0, 0
	for _, e := range events {
		if e.DurationSeconds > 0 {
			total += e.DurationSeconds
			n++
		}
	}
	if n == 0 {
		return defaultFocusLevel
	}
	return model.Clamp01(float64(total) / float64(n) / focusBaselineSeconds)
}

func (a *StudentAgent) progressSummary(ctx context.Context, userID uint) *ProgressSummary {
	summary := &ProgressSummary{WeakPoints: []WeakPoint{}, NextGoals: []string{}}

	masteries, err := a.rt.Store.Masteries(ctx, userID)
	if err != nil {
		logger.Log.Warn("Failed to load masteries", zap.Uint("userId", userID), zap.Error(err))
	}
	for _, m := range masteries {
		if m.MasteryLevel >= model.MasteredThreshold {
			summary.MasteredCount++
		}
	}
	summary.TotalCount = len(masteries)
	total := summary.TotalCount
	if total < 1 {
		total = 1
	}
	summary.OverallProgress = float64(summary.MasteredCount) / float64(total)

	weak, err := a.rt.Engine.WeakPoints(ctx, userID, progressWeakThreshold, progressWeakLimit)
	if err != nil {
		logger.Log.Warn("Failed to load weak points", zap.Uint("userId", userID), zap.Error(err))
		return summary
	}
	summary.WeakPoints = weak
	for i := 0; i < len(weak) && i < nextGoalCount; i++ {
		summary.NextGoals = append(summary.NextGoals, fmt.Sprintf("提高 %s 的掌握程度", weak[i].KnowledgePointID))
	}
	return summary
}

// analyzeBehavior events 为最近 24 小时内的行为，时间倒序
func (a *StudentAgent) analyzeBehavior(ctx context.Context, userID uint, events []model.BehaviorEvent) *BehaviorAnalysis {
	analysis := &BehaviorAnalysis{
		Active:     len(events) > 0,
		EventCount: len(events),
		Patterns:   behaviorPatterns(events),
		Efficiency: learningEfficiency(events),
	}
	analysis.ConsecutiveWrong = consecutiveWrongAnswers(events)
	analysis.DifficultySignal = analysis.ConsecutiveWrong >= difficultyWrongAnswers
	analysis.ExtendedSession = recentDuration(events, contextEventCount) > extendedSessionSeconds

	stats, err := a.rt.Store.LearningStats(ctx, userID, behaviorWindow)
	if err != nil {
		logger.Log.Warn("Failed to compute learning stats", zap.Uint("userId", userID), zap.Error(err))
	}
	analysis.Stats = stats
	return analysis
}

func behaviorPatterns(events []model.BehaviorEvent) []string {
	patterns := []string{}
	if len(events) < minPatternEvents {
		return patterns
	}

	hours := make(map[int]int)
	total := 0
	for _, e := range events {
		hours[e.Timestamp.Hour()]++
		total += e.DurationSeconds
	}
	best, bestCount := 0, -1
	for h := 0; h < 24; h++ {
		if hours[h] > bestCount {
			best, bestCount = h, hours[h]
		}
	}
	patterns = append(patterns, fmt.Sprintf("最活跃时间: %d点", best))

	if float64(total)/float64(len(events)) > focusBaselineSeconds {
		patterns = append(patterns, "长时间学习习惯")
	} else {
		patterns = append(patterns, "短时间学习习惯")
	}
	return patterns
}

func learningEfficiency(events []model.BehaviorEvent) float64 {
	answered, correct := 0, 0
	for i := range events {
		if events[i].ActionType != model.ActionAnswerQuestion {
			continue
		}
		answered++
		if events[i].IsCorrectAnswer() {
			correct++
		}
	}
	if answered == 0 {
		return defaultEfficiency
	}
	return model.Clamp01(float64(correct) / float64(answered) * efficiencyBoost)
}

// consecutiveWrongAnswers 从最近一次答题往前数连续答错的次数
func consecutiveWrongAnswers(events []model.BehaviorEvent) int {
	n := 0
	for i := range events {
		if events[i].ActionType != model.ActionAnswerQuestion {
			continue
		}
		if events[i].IsCorrectAnswer() {
			break
		}
		n++
	}
	return n
}

func recentDuration(events []model.BehaviorEvent, count int) int {
	total := 0
	for i := 0; i < len(events) && i < count; i++ {
		total += events[i].DurationSeconds
	}
	return total
}

func (a *StudentAgent) ProcessAction(ctx context.Context, action model.AgentAction) (*model.AgentResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireActive("process_action"); err != nil {
		return nil, err
	}
	if action.Data == nil {
		action.Data = map[string]interface{}{}
	}
	session := a.Session()

	event := a.buildEvent(session, action)
	if err := a.rt.Store.RecordEvent(ctx, event); err != nil {
		logger.Log.Warn("Failed to record behavior event",
			zap.Uint("userId", session.UserID),
			zap.String("action", action.Type),
			zap.Error(err),
		)
	}
	if _, err := a.rt.Store.RefreshProfile(ctx, event); err != nil {
		logger.Log.Warn("Failed to refresh profile", zap.Uint("userId", session.UserID), zap.Error(err))
	}
	a.recordAction(action.Type)
	if hint := action.ContextTypeHint(); hint != "" {
		a.updateSession(func(s *model.AgentSession) {
			s.Context.ContextType = model.ParseContextType(hint)
		})
	}

	if action.Type == "ai_chat" {
		return a.handleAIChat(ctx, action)
	}
	switch event.ActionType {
	case model.ActionStartLearning:
		return a.handleStartLearning(ctx, action)
	case model.ActionAnswerQuestion:
		return a.handleAnswerQuestion(ctx, action, event)
	case model.ActionViewContent:
		return a.handleViewContent(ctx, action)
	case model.ActionRequestHelp:
		return a.handleRequestHelp(ctx, action)
	case model.ActionCompleteHomework:
		return a.handleCompleteHomework(ctx, action)
	}
	return a.handleGeneralAction(action), nil
}

func (a *StudentAgent) buildEvent(session model.AgentSession, action model.AgentAction) *model.BehaviorEvent {
	// 行为时间以服务端为准，客户端时间只保存在 payload 中
	payload := make(map[string]interface{}, len(action.Data)+1)
	for k, v := range action.Data {
		payload[k] = v
	}
	if action.Timestamp != nil && !action.Timestamp.IsZero() {
		payload["client_timestamp"] = action.Timestamp.UTC().Format(time.RFC3339)
	}
	duration := util.MapInt(action.Data, "duration")
	if duration == 0 {
		duration = util.MapInt(action.Data, "time_spent")
	}
	return &model.BehaviorEvent{
		StudentID:       session.UserID,
		ActionType:      model.NormalizeActionType(action.Type),
		RawType:         action.Type,
		QuestionID:      util.MapUint(action.Data, "question_id"),
		DurationSeconds: duration,
		Payload:         payload,
		SessionID:       session.SessionID,
		Timestamp:       a.rt.Now(),
	}
}
