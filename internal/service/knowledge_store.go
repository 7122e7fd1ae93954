package service

import (
	"context"
	"errors"
	"k12_agent_backend/internal/config"
	"k12_agent_backend/internal/model"
	"k12_agent_backend/internal/repository"
	"k12_agent_backend/internal/util"
	"k12_agent_backend/pkg/logger"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultRecentEventLimit = 50
	studentLockStripes      = 64
)

// LearningStats 学习统计（由最近行为推导）
type LearningStats struct {
	TotalTimeSeconds   int     `json:"totalTimeSeconds"`
	SessionCount       int     `json:"sessionCount"`
	AvgSessionDuration float64 `json:"avgSessionDuration"`
	MostActiveHour     *int    `json:"mostActiveHour"`
	ConsistencyScore   float64 `json:"consistencyScore"`
}

// KnowledgeStore 汇总学生画像、行为日志与掌握度
type KnowledgeStore struct {
	UserRepo     *repository.UserRepository
	EventRepo    *repository.BehaviorEventRepository
	ProfileRepo  *repository.ProfileRepository
	MasteryRepo  *repository.MasteryRepository
	PointRepo    *repository.KnowledgePointRepository
	QuestionRepo *repository.QuestionRepository
	ResourceRepo *repository.ResourceRepository
	MistakeRepo  *repository.MistakeRepository
	ActivityRepo *repository.AgentActivityRepository

	mu           sync.RWMutex
	foundational map[string]bool
	sessionGap   time.Duration
	eventLimit   int

	studentLocks [studentLockStripes]sync.Mutex
	now          func() time.Time
}

func NewKnowledgeStore(db *gorm.DB, agentCfg config.AgentConfig) *KnowledgeStore {
	s := &KnowledgeStore{
		UserRepo:     repository.NewUserRepository(db),
		EventRepo:    repository.NewBehaviorEventRepository(db),
		ProfileRepo:  repository.NewProfileRepository(db),
		MasteryRepo:  repository.NewMasteryRepository(db),
		PointRepo:    repository.NewKnowledgePointRepository(db),
		QuestionRepo: repository.NewQuestionRepository(db),
		ResourceRepo: repository.NewResourceRepository(db),
		MistakeRepo:  repository.NewMistakeRepository(db),
		ActivityRepo: repository.NewAgentActivityRepository(db),
		now:          time.Now,
	}
	s.ApplySettings(agentCfg)
	return s
}

// ApplySettings 配置热更新
func (s *KnowledgeStore) ApplySettings(cfg config.AgentConfig) {
	set := make(map[string]bool, len(cfg.FoundationalConcepts))
	for _, id := range cfg.FoundationalConcepts {
		set[id] = true
	}
	s.mu.Lock()
	s.foundational = set
	s.sessionGap = cfg.SessionGap()
	s.eventLimit = cfg.RecentEventLimit
	s.mu.Unlock()
}

func (s *KnowledgeStore) settings() (time.Duration, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gap, limit := s.sessionGap, s.eventLimit
	if gap <= 0 {
		gap = time.Hour
	}
	if limit <= 0 {
		limit = DefaultRecentEventLimit
	}
	return gap, limit
}

func (s *KnowledgeStore) lockStudent(studentID uint) func() {
	m := &s.studentLocks[studentID%studentLockStripes]
	m.Lock()
	return m.Unlock
}

// GetProfile 不存在时创建默认画像；存储失败时返回默认画像和 StorageError
func (s *KnowledgeStore) GetProfile(ctx context.Context, studentID uint) (*model.StudentProfile, error) {
	profile, err := s.ProfileRepo.FirstOrCreate(ctx, studentID)
	if err != nil {
		return model.NewDefaultProfile(studentID), util.NewStorageError("get_profile", err)
	}
	return profile, nil
}

func (s *KnowledgeStore) RecordEvent(ctx context.Context, event *model.BehaviorEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.EventRepo.Create(ctx, event); err != nil {
		return util.NewStorageError("record_event", err)
	}
	return nil
}

// RecentEvents 最近 window 内的行为，时间倒序；limit<=0 时使用配置的默认值
func (s *KnowledgeStore) RecentEvents(ctx context.Context, studentID uint, window time.Duration, limit int) ([]model.BehaviorEvent, error) {
	if limit <= 0 {
		_, limit = s.settings()
	}
	events, err := s.EventRepo.FindRecent(ctx, studentID, s.now().Add(-window), limit)
	if err != nil {
		return nil, util.NewStorageError("recent_events", err)
	}
	return events, nil
}

// LastEvent 没有任何行为时返回 nil, nil
func (s *KnowledgeStore) LastEvent(ctx context.Context, studentID uint) (*model.BehaviorEvent, error) {
	event, err := s.EventRepo.FindLatest(ctx, studentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, util.NewStorageError("last_event", err)
	}
	return event, nil
}

// LearningStats 基于最近 N 条行为（agent.recent_event_limit）统计
func (s *KnowledgeStore) LearningStats(ctx context.Context, studentID uint, window time.Duration) (*LearningStats, error) {
	gap, limit := s.settings()
	events, err := s.EventRepo.FindRecent(ctx, studentID, s.now().Add(-window), limit)
	if err != nil {
		return &LearningStats{}, util.NewStorageError("learning_stats", err)
	}
	return computeLearningStats(events, window, gap), nil
}

// computeLearningStats events 为时间倒序
func computeLearningStats(events []model.BehaviorEvent, window, gap time.Duration) *LearningStats {
	stats := &LearningStats{}
	if len(events) == 0 {
		return stats
	}

	hourCounts := make(map[int]int)
	days := make(map[string]struct{})
	var prev time.Time
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		stats.TotalTimeSeconds += e.DurationSeconds
		hourCounts[e.Timestamp.Hour()]++
		days[e.Timestamp.Format(util.DateFormat)] = struct{}{}
		if i == len(events)-1 || e.Timestamp.Sub(prev) > gap {
			stats.SessionCount++
		}
		prev = e.Timestamp
	}

	stats.AvgSessionDuration = float64(stats.TotalTimeSeconds) / float64(stats.SessionCount)

	best, bestCount := 0, -1
	for hour := 0; hour < 24; hour++ {
		if hourCounts[hour] > bestCount {
			best, bestCount = hour, hourCounts[hour]
		}
	}
	stats.MostActiveHour = &best

	windowDays := math.Ceil(window.Hours() / 24)
	if windowDays < 1 {
		windowDays = 1
	}
	stats.ConsistencyScore = model.Clamp01(float64(len(days)) / windowDays)
	return stats
}

func (s *KnowledgeStore) Masteries(ctx context.Context, studentID uint) ([]model.KnowledgeMastery, error) {
	masteries, err := s.MasteryRepo.FindByStudent(ctx, studentID)
	if err != nil {
		return nil, util.NewStorageError("masteries", err)
	}
	return masteries, nil
}

func (s *KnowledgeStore) WeakMasteries(ctx context.Context, studentID uint, threshold float64, limit int) ([]model.KnowledgeMastery, error) {
	masteries, err := s.MasteryRepo.FindWeak(ctx, studentID, threshold, limit)
	if err != nil {
		return nil, util.NewStorageError("weak_masteries", err)
	}
	return masteries, nil
}

func (s *KnowledgeStore) ReviewCandidates(ctx context.Context, studentID uint, min, max float64, staleBefore time.Time, limit int) ([]model.KnowledgeMastery, error) {
	masteries, err := s.MasteryRepo.FindReviewCandidates(ctx, studentID, min, max, staleBefore, limit)
	if err != nil {
		return nil, util.NewStorageError("review_candidates", err)
	}
	return masteries, nil
}

// UpdateMastery 同一学生的读改写串行执行，并在事务中完成
func (s *KnowledgeStore) UpdateMastery(ctx context.Context, studentID uint, kpID string, fn func(m *model.KnowledgeMastery) error) (*model.KnowledgeMastery, error) {
	unlock := s.lockStudent(studentID)
	defer unlock()

	m, err := s.MasteryRepo.Upsert(ctx, studentID, kpID, fn)
	if err != nil {
		return nil, util.NewStorageError("update_mastery", err)
	}
	return m, nil
}

// RefreshProfile 根据单条行为增量更新画像
func (s *KnowledgeStore) RefreshProfile(ctx context.Context, event *model.BehaviorEvent) (*model.StudentProfile, error) {
	unlock := s.lockStudent(event.StudentID)
	defer unlock()

	profile, err := s.ProfileRepo.FirstOrCreate(ctx, event.StudentID)
	if err != nil {
		return nil, util.NewStorageError("refresh_profile", err)
	}
	if !applyProfileSignal(profile, event) {
		return profile, nil
	}
	if err := s.ProfileRepo.Save(ctx, profile); err != nil {
		return nil, util.NewStorageError("refresh_profile", err)
	}
	return profile, nil
}

// applyProfileSignal 返回画像是否有变化
func applyProfileSignal(p *model.StudentProfile, e *model.BehaviorEvent) bool {
	changed := false
	switch e.ActionType {
	case model.ActionAnswerQuestion:
		delta := -0.02
		if e.IsCorrectAnswer() {
			delta = 0.02
		}
		p.AbilityLogical += delta
		p.AbilityMathematical += delta
		changed = true
	case model.ActionViewContent:
		switch model.ContentType(util.MapString(e.Payload, "content_type")) {
		case model.ContentVideo, model.ContentImage, model.ContentAnimation:
			p.AbilityVisual += 0.01
			changed = true
		case model.ContentText, model.ContentDocument, model.ContentAudio:
			p.AbilityVerbal += 0.01
			changed = true
		}
	}
	if e.DurationSeconds > 0 {
		observed := float64(e.DurationSeconds) / 60
		current := float64(p.AttentionDurationMinutes)
		next := int(math.Round(current + (observed-current)/5))
		if next != p.AttentionDurationMinutes {
			p.AttentionDurationMinutes = next
			changed = true
		}
	}
	p.Clamp()
	return changed
}

// CandidateQuestions 覆盖知识点且难度在 [minLevel,maxLevel] 的题目
func (s *KnowledgeStore) CandidateQuestions(ctx context.Context, kpID string, minLevel, maxLevel, limit int) ([]model.Question, error) {
	questions, err := s.QuestionRepo.FindCandidates(ctx, kpID, minLevel, maxLevel, limit)
	if err != nil {
		return nil, util.NewStorageError("candidate_questions", err)
	}
	return questions, nil
}

func (s *KnowledgeStore) QuestionUsageCount(ctx context.Context, questionIDs []uint, since time.Time) (map[uint]int64, error) {
	usage, err := s.EventRepo.CountQuestionUsage(ctx, questionIDs, since)
	if err != nil {
		return map[uint]int64{}, util.NewStorageError("question_usage", err)
	}
	return usage, nil
}

func (s *KnowledgeStore) Question(ctx context.Context, id uint) (*model.Question, error) {
	q, err := s.QuestionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, util.NewStorageError("question", err)
	}
	return q, nil
}

func (s *KnowledgeStore) ResourcesFor(ctx context.Context, kpID string, types []model.ContentType, limit int) ([]model.LearningResource, error) {
	resources, err := s.ResourceRepo.FindFor(ctx, kpID, types, limit)
	if err != nil {
		return nil, util.NewStorageError("resources", err)
	}
	return resources, nil
}

func (s *KnowledgeStore) OpenMistakes(ctx context.Context, studentID uint, limit int) ([]model.MistakeEntry, error) {
	entries, err := s.MistakeRepo.FindOpen(ctx, studentID, limit)
	if err != nil {
		return nil, util.NewStorageError("open_mistakes", err)
	}
	return entries, nil
}

func (s *KnowledgeStore) RecordMistake(ctx context.Context, studentID, questionID uint, wrongAnswer string) error {
	if _, err := s.MistakeRepo.Record(ctx, studentID, questionID, wrongAnswer); err != nil {
		return util.NewStorageError("record_mistake", err)
	}
	return nil
}

func (s *KnowledgeStore) ResolveMistake(ctx context.Context, studentID, questionID uint) (bool, error) {
	n, err := s.MistakeRepo.Resolve(ctx, studentID, questionID, s.now())
	if err != nil {
		return false, util.NewStorageError("resolve_mistake", err)
	}
	return n > 0, nil
}

// FoundationalSet 配置中的基础概念与知识点表中标记的并集
func (s *KnowledgeStore) FoundationalSet(ctx context.Context) map[string]bool {
	s.mu.RLock()
	set := make(map[string]bool, len(s.foundational))
	for id := range s.foundational {
		set[id] = true
	}
	s.mu.RUnlock()

	ids, err := s.PointRepo.FoundationalIDs(ctx)
	if err != nil {
		logger.Log.Warn("Failed to load foundational knowledge points", zap.Error(err))
		return set
	}
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func (s *KnowledgeStore) IsFoundational(ctx context.Context, kpID string) bool {
	return s.FoundationalSet(ctx)[kpID]
}

// UserRole 查不到用户时返回 ErrUserNotFound
func (s *KnowledgeStore) UserRole(ctx context.Context, userID uint) (model.UserRole, error) {
	user, err := s.UserRepo.FindByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", util.ErrUserNotFound
	}
	if err != nil {
		return "", util.NewStorageError("user_role", err)
	}
	return user.Role, nil
}

func (s *KnowledgeStore) RelatedUsers(ctx context.Context, studentID uint, relation model.RelationType) ([]uint, error) {
	ids, err := s.UserRepo.FindRelatedUsers(ctx, studentID, relation)
	if err != nil {
		return nil, util.NewStorageError("related_users", err)
	}
	return ids, nil
}

func (s *KnowledgeStore) StudentsOf(ctx context.Context, userID uint, relation model.RelationType) ([]model.User, error) {
	users, err := s.UserRepo.FindStudentsOf(ctx, userID, relation)
	if err != nil {
		return nil, util.NewStorageError("students_of", err)
	}
	return users, nil
}

func (s *KnowledgeStore) LogAgentActivity(ctx context.Context, userID uint, agentType, activityType string, data map[string]interface{}) error {
	entry := &model.AgentActivityLog{
		UserID:       userID,
		AgentType:    agentType,
		ActivityType: activityType,
		Data:         data,
		CreatedAt:    s.now(),
	}
	if err := s.ActivityRepo.Create(ctx, entry); err != nil {
		return util.NewStorageError("log_agent_activity", err)
	}
	return nil
}

func (s *KnowledgeStore) AgentActivities(ctx context.Context, userID uint, limit int) ([]model.AgentActivityLog, error) {
	logs, err := s.ActivityRepo.FindByUser(ctx, userID, limit)
	if err != nil {
		return nil, util.NewStorageError("agent_activities", err)
	}
	return logs, nil
}

func (s *KnowledgeStore) LogRecommendations(ctx context.Context, studentID uint, source string, recs []model.Recommendation) error {
	now := s.now()
	logs := make([]model.RecommendationLog, 0, len(recs))
	for _, r := range recs {
		logs = append(logs, model.RecommendationLog{
			StudentID:          studentID,
			RecommendationType: r.Type,
			Title:              r.Title,
			Priority:           r.Priority,
			KnowledgePointIDs:  r.KnowledgePointIDs,
			Source:             source,
			CreatedAt:          now,
		})
	}
	if err := s.ActivityRepo.CreateRecommendationLogs(ctx, logs); err != nil {
		return util.NewStorageError("log_recommendations", err)
	}
	return nil
}
