package service

import (
	"context"
	"testing"
	"time"

	"k12_agent_backend/internal/model"
	"k12_agent_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startStudent(t *testing.T, env *testEnv, sid uint) (*StudentAgent, *StartupResult) {
	t.Helper()
	agent := NewStudentAgent(env.rt, sid)
	result, err := agent.Startup(context.Background())
	require.NoError(t, err)
	return agent, result
}

func TestStudentStartupDetectsNewSession(t *testing.T) {
	env := newTestEnv(t)
	sid := env.addUser(t, model.Student)
	env.addEvent(t, sid, "view_content", 61*time.Minute, 300, nil)
	env.setMastery(t, sid, "fractions", 0.3, 2*day)
	env.setMastery(t, sid, "decimals", 0.9, 2*day)

	agent, result := startStudent(t, env, sid)

	assert.True(t, result.IsNewSession)
	assert.Equal(t, model.SessionNew, result.Session.Context.SessionType)
	assert.Equal(t, StateActive, agent.State())
	require.NotNil(t, result.Progress)
	assert.Nil(t, result.Behavior)
	assert.Equal(t, 2, result.Progress.TotalCount)
	assert.Equal(t, 1, result.Progress.MasteredCount)
	require.NotEmpty(t, result.Progress.WeakPoints)
	assert.Equal(t, "fractions", result.Progress.WeakPoints[0].KnowledgePointID)
	assert.Equal(t, []string{"提高 fractions 的掌握程度"}, result.Progress.NextGoals)

	activities, err := env.store.AgentActivities(context.Background(), sid, 10)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "agent_startup", activities[0].ActivityType)
}

func TestStudentStartupContinuingSessionAnalyzesBehavior(t *testing.T) {
	env := newTestEnv(t)
	sid := env.addUser(t, model.Student)
	q := env.addQuestion(t, 2, "fractions")
	env.addAnswer(t, sid, q, true, 40*time.Minute, 60)
	env.addAnswer(t, sid, q, false, 30*time.Minute, 60)
	env.addAnswer(t, sid, q, false, 20*time.Minute, 60)
	env.addAnswer(t, sid, q, false, 10*time.Minute, 60)

	_, result := startStudent(t, env, sid)

	assert.False(t, result.IsNewSession)
	assert.Equal(t, model.ContextStudy, result.Session.Context.ContextType)
	require.NotNil(t, result.Behavior)
	assert.Nil(t, result.Progress)
	assert.Equal(t, 4, result.Behavior.EventCount)
	assert.Equal(t, 3, result.Behavior.ConsecutiveWrong)
	assert.True(t, result.Behavior.DifficultySignal)
	assert.False(t, result.Behavior.ExtendedSession)
	assert.InDelta(t, 0.3, result.Behavior.Efficiency, 1e-9)
	require.NotNil(t, result.Behavior.Stats)
	assert.Equal(t, 1, result.Behavior.Stats.SessionCount)
}

func TestStudentStartupInfersHomeworkContext(t *testing.T) {
	env := newTestEnv(t)
	sid := env.addUser(t, model.Student)
	env.addEvent(t, sid, "homework_submit", 5*time.Minute, 0, nil)

	_, result := startStudent(t, env, sid)
	assert.Equal(t, model.ContextHomework, result.Session.Context.ContextType)
	assert.InDelta(t, defaultFocusLevel, result.Session.Context.FocusLevel, 1e-9)
}

func TestStudentAgentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid := env.addUser(t, model.Student)
	agent := NewStudentAgent(env.rt, sid)

	_, err := agent.ProcessAction(ctx, model.AgentAction{Type: "start_learning"})
	var stateErr *util.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "inactive", stateErr.State)

	_, err = agent.Startup(ctx)
	require.NoError(t, err)
	_, err = agent.Startup(ctx)
	assert.ErrorIs(t, err, util.ErrInvalidState)

	env.now = env.now.Add(10 * time.Minute)
	require.NoError(t, agent.Shutdown(ctx))
	require.NoError(t, agent.Shutdown(ctx))
	assert.Equal(t, StateShutdown, agent.State())
	assert.False(t, agent.Session().Active)

	_, err = agent.ProcessAction(ctx, model.AgentAction{Type: "start_learning"})
	assert.ErrorIs(t, err, util.ErrInvalidState)

	activities, err := env.store.AgentActivities(ctx, sid, 10)
	require.NoError(t, err)
	shutdowns := 0
	for _, a := range activities {
		if a.ActivityType == "agent_shutdown" {
			shutdowns++
			assert.InDelta(t, 600.0, a.Data["session_duration"], 1e-9)
		}
	}
	assert.Equal(t, 1, shutdowns)
}

func TestStudentAnswerQuestionWrong(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid := env.addUser(t, model.Student)
	q := env.addQuestion(t, 2, "fractions")
	env.addAnswer(t, sid, q, false, 3*time.Minute, 60)
	env.addAnswer(t, sid, q, false, 2*time.Minute, 60)

	agent, _ := startStudent(t, env, sid)
	before := env.countEvents(t, sid)

	resp, err := agent.ProcessAction(ctx, model.AgentAction{
		Type: "answer_question",
		Data: map[string]interface{}{"question_id": float64(q), "is_correct": false, "time_spent": float64(60), "answer": "1/3"},
	})
	require.NoError(t, err)

	assert.Equal(t, "answer_feedback", resp.Type)
	assert.Equal(t, before+1, env.countEvents(t, sid))
	assert.Equal(t, false, resp.Data["is_correct"])
	assert.Equal(t, true, resp.Data["learning_difficulty"])
	assert.InDelta(t, 0.47, env.mastery(t, sid, "fractions"), 1e-9)

	mistakes, err := env.store.OpenMistakes(ctx, sid, 10)
	require.NoError(t, err)
	require.Len(t, mistakes, 1)
	assert.Equal(t, q, mistakes[0].QuestionID)
	assert.Equal(t, "1/3", mistakes[0].WrongAnswer)

	session := agent.Session()
	assert.Equal(t, 1, session.Context.ActionCount)
	assert.Equal(t, "answer_question", session.Context.LastActionType)
}

func TestStudentAnswerQuestionCorrectResolvesMistake(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid := env.addUser(t, model.Student)
	q := env.addQuestion(t, 2, "fractions")
	require.NoError(t, env.store.RecordMistake(ctx, sid, q, "2"))

	agent, _ := startStudent(t, env, sid)
	resp, err := agent.ProcessAction(ctx, model.AgentAction{
		Type: "answer_question",
		Data: map[string]interface{}{"question_id": float64(q), "is_correct": true, "time_spent": float64(30)},
	})
	require.NoError(t, err)

	assert.Equal(t, true, resp.Data["is_correct"])
	assert.NotContains(t, resp.Data, "learning_difficulty")
	assert.InDelta(t, 0.65, env.mastery(t, sid, "fractions"), 1e-9)

	mistakes, err := env.store.OpenMistakes(ctx, sid, 10)
	require.NoError(t, err)
	assert.Empty(t, mistakes)
}

func TestStudentRequestHelpFallsBackOnTimeout(t *testing.T) {
	env := newTestEnv(t)
	sid := env.addUser(t, model.Student)
	env.gen.delay = time.Second

	agent, _ := startStudent(t, env, sid)
	start := time.Now()
	resp, err := agent.ProcessAction(context.Background(), model.AgentAction{
		Type: "request_help",
		Data: map[string]interface{}{"help_type": "method", "question": "怎么通分？"},
	})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, "ai_help", resp.Type)
	assert.Equal(t, helpFallbacks["method"], resp.Content)
	assert.Equal(t, false, resp.Data["generated"])
	assert.Equal(t, followUpQuestions["method"], resp.Data["follow_up_questions"])
}

func TestStudentRequestHelpUsesGenerator(t *testing.T) {
	env := newTestEnv(t)
	sid := env.addUser(t, model.Student)
	env.gen.reply = "先找最小公倍数"

	agent, _ := startStudent(t, env, sid)
	resp, err := agent.ProcessAction(context.Background(), model.AgentAction{
		Type: "request_help",
		Data: map[string]interface{}{"help_type": "unknown"},
	})
	require.NoError(t, err)
	assert.Equal(t, "先找最小公倍数", resp.Content)
	assert.Equal(t, "concept", resp.Data["help_type"])
	assert.Equal(t, true, resp.Data["generated"])
}

func TestStudentRequestHelpReadsActionContext(t *testing.T) {
	env := newTestEnv(t)
	sid := env.addUser(t, model.Student)

	agent, _ := startStudent(t, env, sid)
	resp, err := agent.ProcessAction(context.Background(), model.AgentAction{
		Type: "request_help",
		Data: map[string]interface{}{"help_type": "example"},
		Context: map[string]interface{}{
			"context_type":        "exam",
			"question":            "二次函数的顶点怎么求？",
			"knowledge_point_ids": []interface{}{"quadratic_function"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ai_help", resp.Type)

	require.Equal(t, 1, env.gen.calls())
	prompt := env.gen.prompts[0]
	assert.Contains(t, prompt, "二次函数的顶点怎么求？")
	assert.Contains(t, prompt, "quadratic_function")
	assert.Equal(t, model.ContextExam, agent.Session().Context.ContextType)
}

func TestStudentContextTypeFallsBackToTypeKey(t *testing.T) {
	env := newTestEnv(t)
	sid := env.addUser(t, model.Student)

	agent, _ := startStudent(t, env, sid)
	_, err := agent.ProcessAction(context.Background(), model.AgentAction{
		Type:    "view_content",
		Data:    map[string]interface{}{"content_type": "text"},
		Context: map[string]interface{}{"type": "review"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ContextReview, agent.Session().Context.ContextType)
}

func TestStudentEventUsesServerClock(t *testing.T) {
	env := newTestEnv(t)
	sid := env.addUser(t, model.Student)

	agent, _ := startStudent(t, env, sid)
	stale := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := agent.ProcessAction(context.Background(), model.AgentAction{
		Type:      "view_content",
		Data:      map[string]interface{}{"content_type": "video", "duration": float64(60)},
		Timestamp: &stale,
	})
	require.NoError(t, err)

	events, err := env.store.RecentEvents(context.Background(), sid, 30*day, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Timestamp.Equal(env.now))
	assert.Equal(t, "2000-01-01T00:00:00Z", events[0].Payload["client_timestamp"])

	last, err := env.store.LastEvent(context.Background(), sid)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Timestamp.Equal(env.now))
}

func TestStudentCompleteHomeworkLowScore(t *testing.T) {
	env := newTestEnv(t)
	sid := env.addUser(t, model.Student)
	env.setMastery(t, sid, "fractions", 0.3, 2*day)
	env.addQuestion(t, 2, "fractions")

	agent, _ := startStudent(t, env, sid)
	resp, err := agent.ProcessAction(context.Background(), model.AgentAction{
		Type:    "complete_homework",
		Context: map[string]interface{}{"context_type": "homework"},
		Data:    map[string]interface{}{"homework_id": float64(7), "score": float64(45)},
	})
	require.NoError(t, err)

	assert.Equal(t, "homework_feedback", resp.Type)
	assert.Equal(t, true, resp.Data["low_performance"])
	assert.NotEmpty(t, resp.Recommendations)
	assert.Equal(t, model.ContextHomework, agent.Session().Context.ContextType)
}

func TestStudentViewContentComprehension(t *testing.T) {
	env := newTestEnv(t)
	sid := env.addUser(t, model.Student)

	agent, _ := startStudent(t, env, sid)
	resp, err := agent.ProcessAction(context.Background(), model.AgentAction{
		Type: "view_content",
		Data: map[string]interface{}{"content_type": "video", "duration": float64(expectedViewSeconds[model.ContentVideo] * 2)},
	})
	require.NoError(t, err)
	assert.Equal(t, "content_feedback", resp.Type)
	assert.InDelta(t, 1.0, resp.Data["comprehension_score"], 1e-9)
}

func TestStudentUnknownActionIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	sid := env.addUser(t, model.Student)
	agent, _ := startStudent(t, env, sid)

	resp, err := agent.ProcessAction(context.Background(), model.AgentAction{Type: "bookmark"})
	require.NoError(t, err)
	assert.Equal(t, "general_response", resp.Type)

	last, err := env.store.LastEvent(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, model.ActionOther, last.ActionType)
	assert.Equal(t, "bookmark", last.RawType)
}

func TestPrepareActions(t *testing.T) {
	actions := prepareActions([]model.Recommendation{
		{Type: model.RecPracticeQuestions, Priority: 5},
		{Type: model.RecVideoContent, Priority: 4},
		{Type: model.RecommendationType("study_plan"), Priority: 3},
	})
	require.Len(t, actions, 2)
	assert.Equal(t, "push_questions", actions[0].Type)
	assert.Equal(t, "recommend_video", actions[1].Type)
}
