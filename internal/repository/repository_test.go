package repository

import (
	"context"
	"testing"
	"time"

	"k12_agent_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.StudentRelation{},
		&model.BehaviorEvent{},
		&model.StudentProfile{},
		&model.KnowledgeMastery{},
		&model.KnowledgePoint{},
		&model.Question{},
		&model.LearningResource{},
		&model.MistakeEntry{},
		&model.AgentActivityLog{},
		&model.RecommendationLog{},
	))
	return db
}

func TestBehaviorEventsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewBehaviorEventRepository(newTestDB(t))

	event := &model.BehaviorEvent{StudentID: 1, RawType: "answer_question", Timestamp: time.Now().UTC()}
	require.NoError(t, repo.Create(ctx, event))
	assert.Equal(t, model.ActionAnswerQuestion, event.ActionType)

	err := repo.DB.Model(event).Update("duration_seconds", 10).Error
	assert.ErrorIs(t, err, model.ErrBehaviorEventImmutable)

	err = repo.DB.Delete(event).Error
	assert.ErrorIs(t, err, model.ErrBehaviorEventImmutable)
}

func TestFindRecentOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewBehaviorEventRepository(newTestDB(t))
	now := time.Now().UTC()

	for i, ago := range []time.Duration{3 * time.Hour, time.Minute, 48 * time.Hour, 30 * time.Minute} {
		require.NoError(t, repo.Create(ctx, &model.BehaviorEvent{
			StudentID:       1,
			RawType:         "view_content",
			DurationSeconds: i,
			Timestamp:       now.Add(-ago),
		}))
	}
	require.NoError(t, repo.Create(ctx, &model.BehaviorEvent{StudentID: 2, RawType: "view_content", Timestamp: now}))

	events, err := repo.FindRecent(ctx, 1, now.Add(-24*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].DurationSeconds)
	assert.Equal(t, 3, events[1].DurationSeconds)

	latest, err := repo.FindLatest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.DurationSeconds)
}

func TestCountQuestionUsage(t *testing.T) {
	ctx := context.Background()
	repo := NewBehaviorEventRepository(newTestDB(t))
	now := time.Now().UTC()

	add := func(student, question uint, at time.Time) {
		require.NoError(t, repo.Create(ctx, &model.BehaviorEvent{
			StudentID: student, RawType: "answer_question", QuestionID: question, Timestamp: at,
		}))
	}
	add(1, 10, now)
	add(2, 10, now.Add(-time.Hour))
	add(1, 11, now.Add(-40*24*time.Hour))

	usage, err := repo.CountQuestionUsage(ctx, []uint{10, 11, 12}, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage[10])
	assert.Zero(t, usage[11])
	assert.Zero(t, usage[12])
}

func TestProfileFirstOrCreateDefaults(t *testing.T) {
	ctx := context.Background()
	repo := NewProfileRepository(newTestDB(t))

	profile, err := repo.FirstOrCreate(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, uint(7), profile.StudentID)
	assert.InDelta(t, 0.5, profile.AbilityLogical, 1e-9)
	assert.Equal(t, 30, profile.AttentionDurationMinutes)

	profile.AbilityVisual = 1.7
	require.NoError(t, repo.Save(ctx, profile))

	again, err := repo.FirstOrCreate(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, again.ID)
	assert.InDelta(t, 1.0, again.AbilityVisual, 1e-9)
}

func TestMasteryUpsertAndQueries(t *testing.T) {
	ctx := context.Background()
	repo := NewMasteryRepository(newTestDB(t))
	now := time.Now().UTC()

	set := func(kp string, level float64, practiced *time.Time) {
		_, err := repo.Upsert(ctx, 1, kp, func(m *model.KnowledgeMastery) error {
			m.MasteryLevel = level
			m.LastPracticeTime = practiced
			return nil
		})
		require.NoError(t, err)
	}
	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-24 * time.Hour)
	set("kp_a", 0.2, nil)
	set("kp_b", 0.65, &recent)
	set("kp_c", 0.75, &old)
	set("kp_d", 1.4, &recent)

	m, err := repo.Find(ctx, 1, "kp_d")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.MasteryLevel, 1e-9)

	created, err := repo.Upsert(ctx, 1, "kp_new", func(m *model.KnowledgeMastery) error {
		assert.InDelta(t, model.InitialMasteryLevel, m.MasteryLevel, 1e-9)
		return nil
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	weak, err := repo.FindWeak(ctx, 1, 0.7, 10)
	require.NoError(t, err)
	require.Len(t, weak, 3)
	assert.Equal(t, "kp_a", weak[0].KnowledgePointID)
	assert.Equal(t, "kp_new", weak[1].KnowledgePointID)
	assert.Equal(t, "kp_b", weak[2].KnowledgePointID)

	review, err := repo.FindReviewCandidates(ctx, 1, 0.6, 0.85, now.Add(-7*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, "kp_c", review[0].KnowledgePointID)

	all, err := repo.FindByStudent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestQuestionCandidatesFilterByKnowledgePoint(t *testing.T) {
	ctx := context.Background()
	repo := NewQuestionRepository(newTestDB(t))

	create := func(level int, kps ...string) {
		require.NoError(t, repo.Create(ctx, &model.Question{
			Content: "q", DifficultyLevel: level, KnowledgePointIDs: kps, Status: model.QuestionEnabled,
		}))
	}
	create(2, "kp_1")
	create(3, "kp_1", "kp_2")
	create(5, "kp_1")
	create(2, "kp_10")

	questions, err := repo.FindCandidates(ctx, "kp_1", 1, 3, 10)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	for _, q := range questions {
		assert.True(t, q.CoversKnowledgePoint("kp_1"))
	}
}

func TestMistakeRecordAndResolve(t *testing.T) {
	ctx := context.Background()
	repo := NewMistakeRepository(newTestDB(t))

	first, err := repo.Record(ctx, 1, 42, "A")
	require.NoError(t, err)
	second, err := repo.Record(ctx, 1, 42, "B")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, second.ReviewCount)
	assert.Equal(t, "B", second.WrongAnswer)

	open, err := repo.FindOpen(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	n, err := repo.Resolve(ctx, 1, 42, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	open, err = repo.FindOpen(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestStudentRelations(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t))

	student := &model.User{Name: "s", Email: "s@example.com", Role: model.Student}
	teacher := &model.User{Name: "t", Email: "t@example.com", Role: model.Teacher}
	parent := &model.User{Name: "p", Email: "p@example.com", Role: model.Parent}
	for _, u := range []*model.User{student, teacher, parent} {
		require.NoError(t, repo.Create(ctx, u))
	}
	require.NoError(t, repo.AddRelation(ctx, &model.StudentRelation{StudentID: student.ID, RelatedUserID: teacher.ID, Relation: model.RelationTeacher}))
	require.NoError(t, repo.AddRelation(ctx, &model.StudentRelation{StudentID: student.ID, RelatedUserID: teacher.ID, Relation: model.RelationTeacher}))
	require.NoError(t, repo.AddRelation(ctx, &model.StudentRelation{StudentID: student.ID, RelatedUserID: parent.ID, Relation: model.RelationParent}))

	teachers, err := repo.FindRelatedUsers(ctx, student.ID, model.RelationTeacher)
	require.NoError(t, err)
	assert.Equal(t, []uint{teacher.ID}, teachers)

	children, err := repo.FindStudentsOf(ctx, parent.ID, model.RelationParent)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, student.ID, children[0].ID)
}
