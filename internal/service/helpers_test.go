package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"k12_agent_backend/internal/config"
	"k12_agent_backend/internal/model"
	"k12_agent_backend/pkg/database"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	delay   time.Duration
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, roleCtx RoleContext) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	reply, err, delay := f.reply, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type testEnv struct {
	db     *gorm.DB
	store  *KnowledgeStore
	engine *RecommendationEngine
	gen    *fakeGenerator
	rt     *AgentRuntime
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	agentCfg := config.DefaultAgentConfig()
	require.NoError(t, database.Migrate(db, agentCfg.FoundationalConcepts))

	env := &testEnv{
		db:  db,
		gen: &fakeGenerator{reply: "AI 回复"},
		now: time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }

	env.store = NewKnowledgeStore(db, agentCfg)
	env.store.now = clock
	env.engine = NewRecommendationEngine(env.store, env.gen, false)
	env.engine.now = clock
	env.rt = NewAgentRuntime(env.store, env.engine, env.gen, AgentSettings{
		MasterySmoothing:  agentCfg.MasterySmoothing,
		SessionGap:        agentCfg.SessionGap(),
		GenerationTimeout: 200 * time.Millisecond,
	})
	env.rt.Now = clock
	return env
}

var userSeq struct {
	mu sync.Mutex
	n  int
}

func (env *testEnv) addUser(t *testing.T, role model.UserRole) uint {
	t.Helper()
	userSeq.mu.Lock()
	userSeq.n++
	n := userSeq.n
	userSeq.mu.Unlock()

	user := &model.User{Name: fmt.Sprintf("%s-%d", role, n), Email: fmt.Sprintf("u%d@example.com", n), Role: role}
	require.NoError(t, env.store.UserRepo.Create(context.Background(), user))
	return user.ID
}

func (env *testEnv) relate(t *testing.T, studentID, userID uint, rel model.RelationType) {
	t.Helper()
	require.NoError(t, env.store.UserRepo.AddRelation(context.Background(), &model.StudentRelation{
		StudentID:     studentID,
		RelatedUserID: userID,
		Relation:      rel,
	}))
}

func (env *testEnv) addEvent(t *testing.T, studentID uint, rawType string, ago time.Duration, duration int, payload map[string]interface{}) {
	t.Helper()
	require.NoError(t, env.store.RecordEvent(context.Background(), &model.BehaviorEvent{
		StudentID:       studentID,
		RawType:         rawType,
		DurationSeconds: duration,
		Payload:         payload,
		Timestamp:       env.now.Add(-ago),
	}))
}

func (env *testEnv) addAnswer(t *testing.T, studentID, questionID uint, correct bool, ago time.Duration, duration int) {
	t.Helper()
	require.NoError(t, env.store.RecordEvent(context.Background(), &model.BehaviorEvent{
		StudentID:       studentID,
		RawType:         string(model.ActionAnswerQuestion),
		QuestionID:      questionID,
		DurationSeconds: duration,
		Payload:         map[string]interface{}{"question_id": questionID, "is_correct": correct},
		Timestamp:       env.now.Add(-ago),
	}))
}

// setMastery practicedAgo 为负数表示从未练习
func (env *testEnv) setMastery(t *testing.T, studentID uint, kp string, level float64, practicedAgo time.Duration) {
	t.Helper()
	m := &model.KnowledgeMastery{StudentID: studentID, KnowledgePointID: kp, MasteryLevel: level}
	if practicedAgo >= 0 {
		at := env.now.Add(-practicedAgo)
		m.LastPracticeTime = &at
	}
	require.NoError(t, env.db.Create(m).Error)
}

func (env *testEnv) mastery(t *testing.T, studentID uint, kp string) float64 {
	t.Helper()
	m, err := env.store.MasteryRepo.Find(context.Background(), studentID, kp)
	require.NoError(t, err)
	return m.MasteryLevel
}

func (env *testEnv) addQuestion(t *testing.T, difficulty int, kps ...string) uint {
	t.Helper()
	q := &model.Question{
		Content:           "题目 " + kps[0],
		Type:              "choice",
		DifficultyLevel:   difficulty,
		KnowledgePointIDs: kps,
		Status:            model.QuestionEnabled,
	}
	require.NoError(t, env.store.QuestionRepo.Create(context.Background(), q))
	return q.ID
}

func (env *testEnv) countEvents(t *testing.T, studentID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.db.Model(&model.BehaviorEvent{}).Where("student_id = ?", studentID).Count(&n).Error)
	return n
}

const day = 24 * time.Hour
