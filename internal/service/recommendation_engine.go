package service

import (
	"context"
	"fmt"
	"k12_agent_backend/internal/model"
	"k12_agent_backend/internal/util"
	"k12_agent_backend/pkg/logger"
	"k12_agent_backend/pkg/monitoring"
	"k12_agent_backend/pkg/tracing"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RecommendationContext Agent 传入的当前会话信号
type RecommendationContext struct {
	SessionType      model.SessionType `json:"sessionType,omitempty"`
	ContextType      model.ContextType `json:"contextType,omitempty"`
	DifficultySignal bool              `json:"difficultySignal,omitempty"`
	ExtendedSession  bool              `json:"extendedSession,omitempty"`
	Note             string            `json:"note,omitempty"`
}

// CacheKey 用于区分不同上下文的缓存
func (c *RecommendationContext) CacheKey() string {
	if c == nil {
		return "default"
	}
	return fmt.Sprintf("%s|%s|%t|%t|%s", c.SessionType, c.ContextType, c.DifficultySignal, c.ExtendedSession, c.Note)
}

type WeakPoint struct {
	KnowledgePointID  string  `json:"knowledgePointId"`
	MasteryLevel      float64 `json:"masteryLevel"`
	Urgency           float64 `json:"urgency"`
	DaysSincePractice *int    `json:"daysSincePractice"`
	Foundational      bool    `json:"foundational"`
}

type ScoredQuestion struct {
	ID                uint     `json:"id"`
	Content           string   `json:"content"`
	Type              string   `json:"type"`
	Difficulty        int      `json:"difficulty"`
	Score             float64  `json:"score"`
	EstimatedSeconds  int      `json:"estimatedSeconds"`
	KnowledgePointIDs []string `json:"knowledgePointIds"`
}

type ReviewItem struct {
	KnowledgePointID  string  `json:"knowledgePointId"`
	MasteryLevel      float64 `json:"masteryLevel"`
	ForgettingRisk    float64 `json:"forgettingRisk"`
	DaysSincePractice int     `json:"daysSincePractice"`
	ReviewPriority    float64 `json:"reviewPriority"`
}

type LearningPathStep struct {
	Step               int      `json:"step"`
	KnowledgePointID   string   `json:"knowledgePointId"`
	CurrentMastery     float64  `json:"currentMastery"`
	TargetMastery      float64  `json:"targetMastery"`
	EstimatedMinutes   int      `json:"estimatedMinutes"`
	RecommendedActions []string `json:"recommendedActions"`
}

// RecommendationEngine 基于知识库数据为学生排序学习项目，只读
type RecommendationEngine struct {
	store *KnowledgeStore
	gen   TextGenerator
	trace atomic.Bool
	now   func() time.Time
}

func NewRecommendationEngine(store *KnowledgeStore, gen TextGenerator, trace bool) *RecommendationEngine {
	e := &RecommendationEngine{store: store, gen: gen, now: time.Now}
	e.trace.Store(trace)
	return e
}

func (e *RecommendationEngine) SetTrace(enabled bool) {
	e.trace.Store(enabled)
}

// Generate 最多 5 条，按优先级降序（同优先级保持生成顺序）
func (e *RecommendationEngine) Generate(ctx context.Context, studentID uint, rc *RecommendationContext) (recs []model.Recommendation, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "recommendation.generate", attribute.Int("student.id", int(studentID)))
	defer func() {
		monitoring.ObserveSince(monitoring.RecommendationDuration, start, "rule")
		span.SetAttributes(attribute.Int("recommendation.count", len(recs)))
		tracing.EndSpan(span, err)
	}()

	profile, err := e.store.GetProfile(ctx, studentID)
	if err != nil {
		logger.Log.Warn("Using default profile for recommendations", zap.Uint("studentId", studentID), zap.Error(err))
	}

	weak, err := e.WeakPoints(ctx, studentID, WeakMasteryThreshold, WeakPointLimit)
	if err != nil {
		logger.Log.Warn("Weak point lookup failed", zap.Uint("studentId", studentID), zap.Error(err))
		weak = nil
	}

	if rc != nil {
		recs = append(recs, e.contextRecommendations(ctx, rc, weak)...)
	}

	difficulty := profile.DifficultyPreference()
	for _, wp := range weakestFirst(weak, ReinforcementPoints) {
		questions, err := e.RecommendQuestions(ctx, wp.KnowledgePointID, difficulty, QuestionsPerPoint)
		if err != nil {
			logger.Log.Warn("Question recommendation failed", zap.String("knowledgePointId", wp.KnowledgePointID), zap.Error(err))
			continue
		}
		if len(questions) == 0 {
			continue
		}
		recs = append(recs, model.Recommendation{
			Type:              model.RecPracticeQuestions,
			Title:             fmt.Sprintf("巩固练习：%s", wp.KnowledgePointID),
			Description:       fmt.Sprintf("当前掌握度 %.0f%%，建议完成 %d 道针对性练习", wp.MasteryLevel*100, len(questions)),
			Priority:          PriorityFromUrgency(wp.Urgency),
			KnowledgePointIDs: []string{wp.KnowledgePointID},
			EstimatedMinutes:  len(questions) * 2,
			Payload: map[string]interface{}{
				"focus":     "reinforcement",
				"urgency":   wp.Urgency,
				"questions": questions,
			},
		})
	}

	if rec, ok := learningPathRecommendation(weak); ok {
		recs = append(recs, rec)
	}

	if rec, ok := e.resourceRecommendation(ctx, profile, weak); ok {
		recs = append(recs, rec)
	}

	if rec, ok := e.reviewRecommendation(ctx, studentID); ok {
		recs = append(recs, rec)
	}

	if rec, ok := e.mistakeRecommendation(ctx, studentID); ok {
		recs = append(recs, rec)
	}

	recs = rankRecommendations(recs)
	e.traceRecommendations(ctx, studentID, "rule", recs)
	return recs, nil
}

// rankRecommendations 稳定排序后截断
func rankRecommendations(recs []model.Recommendation) []model.Recommendation {
	for i := range recs {
		recs[i].Priority = model.ClampPriority(recs[i].Priority)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority > recs[j].Priority
	})
	if len(recs) > model.MaxRecommendations {
		recs = recs[:model.MaxRecommendations]
	}
	if recs == nil {
		recs = []model.Recommendation{}
	}
	return recs
}

// WeakPoints 掌握度低于 threshold 的知识点，按紧急度降序
func (e *RecommendationEngine) WeakPoints(ctx context.Context, studentID uint, threshold float64, limit int) ([]WeakPoint, error) {
	masteries, err := e.store.WeakMasteries(ctx, studentID, threshold, limit)
	if err != nil {
		return nil, err
	}
	if len(masteries) == 0 {
		return []WeakPoint{}, nil
	}
	foundational := e.store.FoundationalSet(ctx)
	now := e.now()

	points := make([]WeakPoint, 0, len(masteries))
	for _, m := range masteries {
		days, practiced := m.DaysSincePractice(now)
		wp := WeakPoint{
			KnowledgePointID: m.KnowledgePointID,
			MasteryLevel:     m.MasteryLevel,
			Foundational:     foundational[m.KnowledgePointID],
		}
		if practiced {
			d := days
			wp.DaysSincePractice = &d
		}
		wp.Urgency = UrgencyScore(m.MasteryLevel, days, practiced, wp.Foundational)
		points = append(points, wp)
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Urgency > points[j].Urgency
	})
	return points, nil
}

// weakestFirst 按掌握度升序取前 n 个，不修改 points
func weakestFirst(points []WeakPoint, n int) []WeakPoint {
	out := append([]WeakPoint(nil), points...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MasteryLevel < out[j].MasteryLevel
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// RecommendQuestions 难度在 difficulty±1 的候选题，按评分取前 n
func (e *RecommendationEngine) RecommendQuestions(ctx context.Context, kpID string, difficulty, n int) ([]ScoredQuestion, error) {
	candidates, err := e.store.CandidateQuestions(ctx, kpID, difficulty-1, difficulty+1, 0)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []ScoredQuestion{}, nil
	}

	ids := make([]uint, len(candidates))
	for i, q := range candidates {
		ids[i] = q.ID
	}
	usage, err := e.store.QuestionUsageCount(ctx, ids, e.now().Add(-UsageWindow))
	if err != nil {
		logger.Log.Warn("Question usage lookup failed, assuming fresh", zap.Error(err))
	}

	scored := make([]ScoredQuestion, 0, len(candidates))
	for i := range candidates {
		q := &candidates[i]
		scored = append(scored, ScoredQuestion{
			ID:                q.ID,
			Content:           q.Content,
			Type:              q.Type,
			Difficulty:        q.DifficultyLevel,
			Score:             QuestionScore(q, difficulty, usage[q.ID]),
			EstimatedSeconds:  q.ExpectedSeconds(),
			KnowledgePointIDs: q.KnowledgePointIDs,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if n > 0 && len(scored) > n {
		scored = scored[:n]
	}
	return scored, nil
}

func learningPathRecommendation(weak []WeakPoint) (model.Recommendation, bool) {
	if len(weak) == 0 {
		return model.Recommendation{}, false
	}
	steps := make([]LearningPathStep, 0, LearningPathMaxSteps)
	kps := make([]string, 0, LearningPathMaxSteps)
	total := 0
	for i := 0; i < len(weak) && i < LearningPathMaxSteps; i++ {
		wp := weak[i]
		minutes := StepMinutes(wp.MasteryLevel)
		steps = append(steps, LearningPathStep{
			Step:               i + 1,
			KnowledgePointID:   wp.KnowledgePointID,
			CurrentMastery:     wp.MasteryLevel,
			TargetMastery:      LearningPathTarget,
			EstimatedMinutes:   minutes,
			RecommendedActions: RecommendedActions(wp.MasteryLevel),
		})
		kps = append(kps, wp.KnowledgePointID)
		total += minutes
	}
	return model.Recommendation{
		Type:              model.RecLearningPath,
		Title:             "个性化学习路径",
		Description:       fmt.Sprintf("共 %d 个步骤，按紧急度依次巩固薄弱知识点", len(steps)),
		Priority:          4,
		KnowledgePointIDs: kps,
		EstimatedMinutes:  total,
		Payload: map[string]interface{}{
			"steps":      steps,
			"totalSteps": len(steps),
		},
	}, true
}

func (e *RecommendationEngine) resourceRecommendation(ctx context.Context, profile *model.StudentProfile, weak []WeakPoint) (model.Recommendation, bool) {
	types := ContentTypesForStyle(profile)
	var resources []model.LearningResource
	var kps []string
	for i := 0; i < len(weak) && i < ResourcePoints && len(resources) < MaxResources; i++ {
		found, err := e.store.ResourcesFor(ctx, weak[i].KnowledgePointID, types, ResourcesPerPoint)
		if err != nil {
			logger.Log.Warn("Resource lookup failed", zap.String("knowledgePointId", weak[i].KnowledgePointID), zap.Error(err))
			continue
		}
		if len(found) > 0 {
			kps = append(kps, weak[i].KnowledgePointID)
		}
		resources = append(resources, found...)
	}
	if len(resources) == 0 {
		return model.Recommendation{}, false
	}
	if len(resources) > MaxResources {
		resources = resources[:MaxResources]
	}
	minutes := 0
	for _, r := range resources {
		minutes += r.DurationSeconds / 60
	}
	return model.Recommendation{
		Type:              model.RecVideoContent,
		Title:             "推荐学习资源",
		Description:       fmt.Sprintf("为薄弱知识点挑选了 %d 个学习资源", len(resources)),
		Priority:          3,
		KnowledgePointIDs: kps,
		EstimatedMinutes:  minutes,
		Payload:           map[string]interface{}{"resources": resources},
	}, true
}

// ReviewItems 遗忘风险超过阈值的复习项，按 risk·(1-m) 降序
func (e *RecommendationEngine) ReviewItems(ctx context.Context, studentID uint) ([]ReviewItem, error) {
	now := e.now()
	candidates, err := e.store.ReviewCandidates(ctx, studentID, ReviewMinMastery, ReviewMaxMastery, now.Add(-ReviewStaleAfter), ReviewCandidateLimit)
	if err != nil {
		return nil, err
	}
	items := make([]ReviewItem, 0, len(candidates))
	for _, m := range candidates {
		days, practiced := m.DaysSincePractice(now)
		risk := ForgettingRisk(m.MasteryLevel, days, practiced)
		if risk <= ForgettingRiskCutoff {
			continue
		}
		items = append(items, ReviewItem{
			KnowledgePointID:  m.KnowledgePointID,
			MasteryLevel:      m.MasteryLevel,
			ForgettingRisk:    risk,
			DaysSincePractice: days,
			ReviewPriority:    risk * (1 - m.MasteryLevel),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ReviewPriority > items[j].ReviewPriority
	})
	return items, nil
}

func (e *RecommendationEngine) reviewRecommendation(ctx context.Context, studentID uint) (model.Recommendation, bool) {
	items, err := e.ReviewItems(ctx, studentID)
	if err != nil {
		logger.Log.Warn("Review lookup failed", zap.Uint("studentId", studentID), zap.Error(err))
		return model.Recommendation{}, false
	}
	if len(items) == 0 {
		return model.Recommendation{}, false
	}
	kps := make([]string, len(items))
	for i, it := range items {
		kps[i] = it.KnowledgePointID
	}
	return model.Recommendation{
		Type:              model.RecPracticeQuestions,
		Title:             "及时复习",
		Description:       fmt.Sprintf("%d 个知识点存在遗忘风险，建议安排复习", len(items)),
		Priority:          5,
		KnowledgePointIDs: kps,
		EstimatedMinutes:  len(items) * 3,
		Payload: map[string]interface{}{
			"focus": "review",
			"items": items,
		},
	}, true
}

func (e *RecommendationEngine) mistakeRecommendation(ctx context.Context, studentID uint) (model.Recommendation, bool) {
	mistakes, err := e.store.OpenMistakes(ctx, studentID, 10)
	if err != nil {
		logger.Log.Warn("Mistake lookup failed", zap.Uint("studentId", studentID), zap.Error(err))
		return model.Recommendation{}, false
	}
	if len(mistakes) == 0 {
		return model.Recommendation{}, false
	}
	questionIDs := make([]uint, len(mistakes))
	for i, m := range mistakes {
		questionIDs[i] = m.QuestionID
	}
	return model.Recommendation{
		Type:             model.RecMistakeAnalysis,
		Title:            "错题回顾",
		Description:      fmt.Sprintf("你有 %d 道错题尚未解决，回顾错因能有效避免再犯", len(mistakes)),
		Priority:         4,
		EstimatedMinutes: len(mistakes) * 3,
		Payload:          map[string]interface{}{"questionIds": questionIDs},
	}, true
}

// contextRecommendations 会话信号触发的推荐
func (e *RecommendationEngine) contextRecommendations(ctx context.Context, rc *RecommendationContext, weak []WeakPoint) []model.Recommendation {
	var recs []model.Recommendation
	if rc.DifficultySignal {
		rec := model.Recommendation{
			Type:             model.RecVideoContent,
			Title:            "概念讲解视频",
			Description:      "最近连续答错，先看一段概念讲解再继续练习",
			Priority:         5,
			EstimatedMinutes: 10,
			Payload:          map[string]interface{}{"focus": "concept"},
		}
		if len(weak) > 0 {
			kp := weak[0].KnowledgePointID
			rec.KnowledgePointIDs = []string{kp}
			videos, err := e.store.ResourcesFor(ctx, kp, []model.ContentType{model.ContentVideo}, 1)
			if err == nil && len(videos) > 0 {
				rec.Payload["resource"] = videos[0]
				if m := videos[0].DurationSeconds / 60; m > 0 {
					rec.EstimatedMinutes = m
				}
			}
		}
		recs = append(recs, rec)
	}
	if rc.SessionType == model.SessionNew {
		recs = append(recs, model.Recommendation{
			Type:             model.RecPracticeQuestions,
			Title:            "每日练习",
			Description:      "新的学习开始了，先用几道题热热身",
			Priority:         3,
			EstimatedMinutes: 10,
			Payload:          map[string]interface{}{"focus": "daily"},
		})
	}
	return recs
}

func (e *RecommendationEngine) traceRecommendations(ctx context.Context, studentID uint, source string, recs []model.Recommendation) {
	if !e.trace.Load() || len(recs) == 0 {
		return
	}
	if err := e.store.LogRecommendations(ctx, studentID, source, recs); err != nil {
		logger.Log.Warn("Failed to trace recommendations", zap.Uint("studentId", studentID), zap.Error(err))
	}
}

// GenerateAIPowered 由文本生成服务给出推荐，任何失败都回退到 Generate
func (e *RecommendationEngine) GenerateAIPowered(ctx context.Context, studentID uint, rc *RecommendationContext) ([]model.Recommendation, error) {
	if e.gen == nil {
		return e.Generate(ctx, studentID, rc)
	}
	start := time.Now()

	profile, _ := e.store.GetProfile(ctx, studentID)
	stats, _ := e.store.LearningStats(ctx, studentID, 7*24*time.Hour)
	weak, _ := e.WeakPoints(ctx, studentID, WeakMasteryThreshold, WeakPointLimit)

	names := make([]string, 0, ReinforcementPoints)
	for i := 0; i < len(weak) && i < ReinforcementPoints; i++ {
		names = append(names, weak[i].KnowledgePointID)
	}
	note := ""
	if rc != nil {
		note = rc.Note
	}

	prompt := fmt.Sprintf(`基于以下学生学习数据，生成5个个性化学习推荐：

学生画像：
- 学习风格：%s
- 注意力持续时间：%d分钟
- 偏好内容类型：%s

学习行为分析：
- 最近一周学习次数：%d
- 学习一致性：%.2f

薄弱知识点：%s

当前上下文：%s

请返回 {"recommendations": [...]}，每条推荐包含字段：
- type: 推荐类型（practice/review/concept/resource/path/mistake）
- title: 推荐标题
- description: 详细描述
- priority: 优先级（1-5）
- estimated_time: 预估时间（分钟）
- knowledge_point_ids: 相关知识点
- reasoning: 推荐理由`,
		profile.LearningStyle, profile.AttentionDurationMinutes, profile.PreferredContentType,
		stats.SessionCount, stats.ConsistencyScore,
		strings.Join(names, "、"), note)

	resp, err := GenerateJSON(ctx, e.gen, prompt, RoleContext{Role: model.Student, Extras: map[string]interface{}{"context": "recommendation_generation"}})
	if err != nil {
		monitoring.GenerationFallbacks.WithLabelValues("recommendation").Inc()
		return e.Generate(ctx, studentID, rc)
	}
	recs := parseAIRecommendations(resp)
	if len(recs) == 0 {
		monitoring.GenerationFallbacks.WithLabelValues("recommendation").Inc()
		return e.Generate(ctx, studentID, rc)
	}
	recs = rankRecommendations(recs)
	monitoring.ObserveSince(monitoring.RecommendationDuration, start, "ai")
	e.traceRecommendations(ctx, studentID, "ai", recs)
	return recs, nil
}

var aiRecommendationTypes = map[string]model.RecommendationType{
	"practice":           model.RecPracticeQuestions,
	"practice_questions": model.RecPracticeQuestions,
	"review":             model.RecPracticeQuestions,
	"concept":            model.RecVideoContent,
	"resource":           model.RecVideoContent,
	"video_content":      model.RecVideoContent,
	"path":               model.RecLearningPath,
	"learning_path":      model.RecLearningPath,
	"mistake":            model.RecMistakeAnalysis,
	"mistake_analysis":   model.RecMistakeAnalysis,
}

// parseAIRecommendations 丢弃类型无法识别或缺少标题的条目
func parseAIRecommendations(resp map[string]interface{}) []model.Recommendation {
	if ok, exists := resp["success"].(bool); exists && !ok {
		return nil
	}
	items, _ := resp["recommendations"].([]interface{})
	recs := make([]model.Recommendation, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rawType := strings.ToLower(util.MapString(m, "type"))
		recType, ok := aiRecommendationTypes[rawType]
		title := util.MapString(m, "title")
		if !ok || title == "" {
			continue
		}
		rec := model.Recommendation{
			Type:              recType,
			Title:             title,
			Description:       util.MapString(m, "description"),
			Priority:          model.ClampPriority(util.MapInt(m, "priority")),
			KnowledgePointIDs: util.MapStrings(m, "knowledge_point_ids"),
			EstimatedMinutes:  util.MapInt(m, "estimated_time"),
			Payload:           map[string]interface{}{"source": "ai"},
		}
		if rawType == "review" {
			rec.Payload["focus"] = "review"
		}
		if reasoning := util.MapString(m, "reasoning"); reasoning != "" {
			rec.Payload["reasoning"] = reasoning
		}
		recs = append(recs, rec)
	}
	return recs
}
