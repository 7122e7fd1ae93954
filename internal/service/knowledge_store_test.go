package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"k12_agent_backend/internal/config"
	"k12_agent_backend/internal/model"
	"k12_agent_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLearningStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid := env.addUser(t, model.Student)

	env.addEvent(t, sid, "view_content", 30*time.Minute, 600, nil)
	env.addEvent(t, sid, "answer_question", 50*time.Minute, 300, nil)
	env.addEvent(t, sid, "start_learning", 5*time.Hour, 1200, nil)
	env.addEvent(t, sid, "homework_submit", 2*day, 600, nil)
	env.addEvent(t, sid, "view_content", 10*day, 600, nil)

	stats, err := env.store.LearningStats(ctx, sid, 7*day)
	require.NoError(t, err)
	assert.Equal(t, 2700, stats.TotalTimeSeconds)
	assert.Equal(t, 3, stats.SessionCount)
	assert.InDelta(t, 900, stats.AvgSessionDuration, 1e-9)
	require.NotNil(t, stats.MostActiveHour)
	assert.Equal(t, 14, *stats.MostActiveHour)
	assert.InDelta(t, 2.0/7.0, stats.ConsistencyScore, 1e-9)
}

func TestLearningStatsBoundedByRecentLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid := env.addUser(t, model.Student)

	cfg := config.DefaultAgentConfig()
	cfg.RecentEventLimit = 2
	env.store.ApplySettings(cfg)

	env.addEvent(t, sid, "view_content", 10*time.Minute, 100, nil)
	env.addEvent(t, sid, "view_content", 20*time.Minute, 200, nil)
	env.addEvent(t, sid, "view_content", 30*time.Minute, 400, nil)

	stats, err := env.store.LearningStats(ctx, sid, 7*day)
	require.NoError(t, err)
	assert.Equal(t, 300, stats.TotalTimeSeconds)
	assert.Equal(t, 1, stats.SessionCount)
}

func TestLearningStatsEmpty(t *testing.T) {
	env := newTestEnv(t)
	stats, err := env.store.LearningStats(context.Background(), env.addUser(t, model.Student), 7*day)
	require.NoError(t, err)
	assert.Zero(t, stats.SessionCount)
	assert.Nil(t, stats.MostActiveHour)
}

func TestRecentEventsAndLastEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid := env.addUser(t, model.Student)

	last, err := env.store.LastEvent(ctx, sid)
	require.NoError(t, err)
	assert.Nil(t, last)

	env.addEvent(t, sid, "homework_submit", 3*time.Hour, 0, nil)
	env.addEvent(t, sid, "view_content", time.Hour, 0, nil)
	env.addEvent(t, sid, "start_learning", 2*day, 0, nil)

	events, err := env.store.RecentEvents(ctx, sid, day, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.ActionViewContent, events[0].ActionType)
	assert.Equal(t, model.ActionOther, events[1].ActionType)
	assert.Equal(t, "homework_submit", events[1].RawType)

	last, err = env.store.LastEvent(ctx, sid)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "view_content", last.RawType)
}

func TestRefreshProfileNudgesAbilities(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid := env.addUser(t, model.Student)

	profile, err := env.store.RefreshProfile(ctx, &model.BehaviorEvent{
		StudentID:  sid,
		ActionType: model.ActionAnswerQuestion,
		Payload:    map[string]interface{}{"is_correct": true},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.52, profile.AbilityLogical, 1e-9)
	assert.InDelta(t, 0.52, profile.AbilityMathematical, 1e-9)

	profile, err = env.store.RefreshProfile(ctx, &model.BehaviorEvent{
		StudentID:       sid,
		ActionType:      model.ActionViewContent,
		DurationSeconds: 80 * 60,
		Payload:         map[string]interface{}{"content_type": "video"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.51, profile.AbilityVisual, 1e-9)
	assert.Equal(t, 40, profile.AttentionDurationMinutes)

	stored, err := env.store.GetProfile(ctx, sid)
	require.NoError(t, err)
	assert.InDelta(t, 0.51, stored.AbilityVisual, 1e-9)
	assert.Equal(t, 40, stored.AttentionDurationMinutes)
}

func TestApplyProfileSignalClamps(t *testing.T) {
	p := model.NewDefaultProfile(1)
	p.AbilityLogical = 0.995
	p.AbilityMathematical = 0.01
	applyProfileSignal(p, &model.BehaviorEvent{ActionType: model.ActionAnswerQuestion, Payload: map[string]interface{}{"is_correct": true}})
	assert.Equal(t, 1.0, p.AbilityLogical)

	applyProfileSignal(p, &model.BehaviorEvent{ActionType: model.ActionAnswerQuestion})
	applyProfileSignal(p, &model.BehaviorEvent{ActionType: model.ActionAnswerQuestion})
	assert.Equal(t, 0.0, p.AbilityMathematical)
}

func TestUpdateMasteryIsSerialized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid := env.addUser(t, model.Student)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.store.UpdateMastery(ctx, sid, "fractions", func(m *model.KnowledgeMastery) error {
				m.MasteryLevel += 0.01
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.InDelta(t, model.InitialMasteryLevel+0.1, env.mastery(t, sid, "fractions"), 1e-9)
}

func TestUserRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role, err := env.store.UserRole(ctx, env.addUser(t, model.Teacher))
	require.NoError(t, err)
	assert.Equal(t, model.Teacher, role)

	_, err = env.store.UserRole(ctx, 9999)
	assert.ErrorIs(t, err, util.ErrUserNotFound)
}

func TestFoundationalSetMergesConfigAndGraph(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.PointRepo.Save(ctx, &model.KnowledgePoint{ID: "number_sense", Title: "数感", Foundational: true}))

	assert.True(t, env.store.IsFoundational(ctx, "basic_arithmetic"))
	assert.True(t, env.store.IsFoundational(ctx, "number_sense"))
	assert.False(t, env.store.IsFoundational(ctx, "fractions"))
}
