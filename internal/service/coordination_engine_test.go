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

type collected struct {
	mu     sync.Mutex
	events []NotificationEvent
}

func (c *collected) Deliver(ctx context.Context, event NotificationEvent) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	return nil
}

func (c *collected) snapshot() []NotificationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]NotificationEvent(nil), c.events...)
}

func newTestCoordinator(t *testing.T, env *testEnv) (*CoordinationEngine, *collected) {
	t.Helper()
	bus := NewNotificationBus(16)
	sink := &collected{}
	bus.Subscribe(sink)
	bus.Start(context.Background())
	t.Cleanup(bus.Close)

	cfg := config.DefaultAgentConfig()
	cfg.BulkConcurrency = 4
	return NewCoordinationEngine(env.rt, NewRecommendationCache(nil, 0), bus, cfg), sink
}

func TestCoordinatorInitializeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	coord, _ := newTestCoordinator(t, env)
	ctx := context.Background()
	sid := env.addUser(t, model.Student)

	first, err := coord.Initialize(ctx, sid)
	require.NoError(t, err)
	assert.True(t, first.Created)
	require.NotNil(t, first.Startup)
	assert.Equal(t, "active", first.State)

	second, err := coord.Initialize(ctx, sid)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Nil(t, second.Startup)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 1, coord.Registry().Len())
}

func TestCoordinatorConcurrentDispatchSharesOneAgent(t *testing.T) {
	env := newTestEnv(t)
	coord, _ := newTestCoordinator(t, env)
	sid := env.addUser(t, model.Student)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := coord.Dispatch(context.Background(), sid, model.AgentAction{Type: "start_learning"})
			assert.False(t, resp.IsError())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, coord.Registry().Len())
	status, err := coord.GetStatus(sid)
	require.NoError(t, err)
	assert.Equal(t, 8, status.Context.ActionCount)

	activities, err := env.store.AgentActivities(context.Background(), sid, 50)
	require.NoError(t, err)
	startups := 0
	for _, a := range activities {
		if a.ActivityType == "agent_startup" {
			startups++
		}
	}
	assert.Equal(t, 1, startups)
}

func TestCoordinatorDispatchAdminReturnsErrorResponse(t *testing.T) {
	env := newTestEnv(t)
	coord, _ := newTestCoordinator(t, env)
	admin := env.addUser(t, model.Admin)

	resp := coord.Dispatch(context.Background(), admin, model.AgentAction{Type: "start_learning"})
	require.True(t, resp.IsError())
	assert.Equal(t, model.ResponseTypeError, resp.Type)
	assert.Equal(t, "configuration_error", resp.Error.Code)
	assert.Zero(t, coord.Registry().Len())

	_, err := coord.Initialize(context.Background(), admin)
	var cfgErr *util.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCoordinatorUnknownUserDefaultsToStudent(t *testing.T) {
	env := newTestEnv(t)
	coord, _ := newTestCoordinator(t, env)

	summary, err := coord.Initialize(context.Background(), 4242)
	require.NoError(t, err)
	assert.Equal(t, model.Student, summary.Role)
}

func TestCoordinatorStatusAndShutdown(t *testing.T) {
	env := newTestEnv(t)
	coord, _ := newTestCoordinator(t, env)
	ctx := context.Background()
	sid := env.addUser(t, model.Student)

	_, err := coord.GetStatus(sid)
	assert.ErrorIs(t, err, util.ErrAgentNotFound)
	assert.ErrorIs(t, coord.Shutdown(ctx, sid), util.ErrAgentNotFound)

	_, err = coord.Initialize(ctx, sid)
	require.NoError(t, err)
	require.NoError(t, coord.Shutdown(ctx, sid))
	_, err = coord.GetStatus(sid)
	assert.ErrorIs(t, err, util.ErrAgentNotFound)

	// 关闭后再次分发会创建新的 Agent
	resp := coord.Dispatch(ctx, sid, model.AgentAction{Type: "start_learning"})
	assert.False(t, resp.IsError())
	assert.Equal(t, 1, coord.Registry().Len())
}

func TestCoordinatorBulkDispatchKeepsOrder(t *testing.T) {
	env := newTestEnv(t)
	coord, _ := newTestCoordinator(t, env)
	admin := env.addUser(t, model.Admin)

	items := []BulkAction{}
	ids := []uint{}
	for i := 0; i < 6; i++ {
		id := env.addUser(t, model.Student)
		ids = append(ids, id)
		items = append(items, BulkAction{UserID: id, Action: model.AgentAction{Type: "start_learning"}})
	}
	items = append(items, BulkAction{UserID: admin, Action: model.AgentAction{Type: "start_learning"}})

	results := coord.BulkDispatch(context.Background(), items)
	require.Len(t, results, len(items))
	for i, id := range ids {
		assert.Equal(t, id, results[i].UserID)
		assert.Equal(t, "learning_guidance", results[i].Response.Type)
	}
	assert.True(t, results[len(results)-1].Response.IsError())
	assert.Equal(t, admin, results[len(results)-1].UserID)
}

func TestCoordinatorNotifiesTeacherOnDifficulty(t *testing.T) {
	env := newTestEnv(t)
	coord, sink := newTestCoordinator(t, env)
	sid := env.addUser(t, model.Student)
	teacher := env.addUser(t, model.Teacher)
	parent := env.addUser(t, model.Parent)
	env.relate(t, sid, teacher, model.RelationTeacher)
	env.relate(t, sid, parent, model.RelationParent)
	q := env.addQuestion(t, 2, "fractions")

	for i := 0; i < 3; i++ {
		resp := coord.Dispatch(context.Background(), sid, model.AgentAction{
			Type: "answer_question",
			Data: map[string]interface{}{"question_id": float64(q), "is_correct": false, "time_spent": float64(30)},
		})
		require.False(t, resp.IsError())
	}

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	event := sink.snapshot()[0]
	assert.Equal(t, "learning_difficulty", event.Trigger)
	assert.Equal(t, teacher, event.RecipientID)
	assert.Equal(t, model.Teacher, event.RecipientRole)
	assert.Equal(t, sid, event.StudentID)
	assert.NotEmpty(t, event.ID)
}

func TestCoordinatorNotifiesOnHomework(t *testing.T) {
	env := newTestEnv(t)
	coord, sink := newTestCoordinator(t, env)
	sid := env.addUser(t, model.Student)
	teacher := env.addUser(t, model.Teacher)
	parent := env.addUser(t, model.Parent)
	env.relate(t, sid, teacher, model.RelationTeacher)
	env.relate(t, sid, parent, model.RelationParent)

	resp := coord.Dispatch(context.Background(), sid, model.AgentAction{
		Type: "complete_homework",
		Data: map[string]interface{}{"score": float64(40)},
	})
	require.False(t, resp.IsError())

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	byTrigger := map[string]uint{}
	for _, e := range sink.snapshot() {
		byTrigger[e.Trigger] = e.RecipientID
	}
	assert.Equal(t, teacher, byTrigger["complete_homework"])
	assert.Equal(t, parent, byTrigger["low_performance"])
}

func TestCrossRoleTriggers(t *testing.T) {
	triggers := crossRoleTriggers(model.AgentAction{Type: "view_content"}, &model.AgentResponse{Type: "content_feedback"})
	assert.Empty(t, triggers)

	triggers = crossRoleTriggers(
		model.AgentAction{Type: "homework_submit"},
		&model.AgentResponse{Data: map[string]interface{}{"low_performance": true}},
	)
	assert.Equal(t, []string{"homework_submit"}, triggers[model.RelationTeacher])
	assert.Equal(t, []string{"low_performance"}, triggers[model.RelationParent])
}

func TestCoordinatorEvictsIdleAgents(t *testing.T) {
	env := newTestEnv(t)
	coord, _ := newTestCoordinator(t, env)
	ctx := context.Background()

	assert.Zero(t, coord.evictIdle(ctx))

	cfg := config.DefaultAgentConfig()
	cfg.IdleTimeoutMinutes = 30
	coord.applyAgentConfig(cfg)

	idle := env.addUser(t, model.Student)
	busy := env.addUser(t, model.Student)
	_, err := coord.Initialize(ctx, idle)
	require.NoError(t, err)

	env.now = env.now.Add(40 * time.Minute)
	_, err = coord.Initialize(ctx, busy)
	require.NoError(t, err)

	assert.Equal(t, 1, coord.evictIdle(ctx))
	_, err = coord.GetStatus(idle)
	assert.ErrorIs(t, err, util.ErrAgentNotFound)
	_, err = coord.GetStatus(busy)
	assert.NoError(t, err)
}

func TestCoordinatorShutdownAll(t *testing.T) {
	env := newTestEnv(t)
	coord, _ := newTestCoordinator(t, env)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := coord.Initialize(ctx, env.addUser(t, model.Student))
		require.NoError(t, err)
	}
	coord.ShutdownAll(ctx)
	assert.Zero(t, coord.Registry().Len())
}

func TestCoordinatorRecommendationsWithoutCache(t *testing.T) {
	env := newTestEnv(t)
	coord, _ := newTestCoordinator(t, env)
	sid := env.addUser(t, model.Student)
	env.setMastery(t, sid, "fractions", 0.2, 3*day)
	env.addQuestion(t, 2, "fractions")

	recs, err := coord.Recommendations(context.Background(), sid, &RecommendationContext{}, false)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.LessOrEqual(t, len(recs), model.MaxRecommendations)
}
