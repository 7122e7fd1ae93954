package service

import (
	"context"
	"strings"
	"testing"

	"k12_agent_backend/internal/model"
	"k12_agent_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAgentForRole(t *testing.T) {
	env := newTestEnv(t)

	agent, err := NewAgentForRole(env.rt, 1, model.Student)
	require.NoError(t, err)
	assert.IsType(t, &StudentAgent{}, agent)
	assert.Equal(t, StateInactive, agent.State())

	agent, err = NewAgentForRole(env.rt, 2, model.Parent)
	require.NoError(t, err)
	assert.Equal(t, model.Parent, agent.Role())

	_, err = NewAgentForRole(env.rt, 3, model.Admin)
	var cfgErr *util.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "admin", cfgErr.Role)
	assert.ErrorIs(t, err, util.ErrNoAgentForRole)
}

func TestTeacherAgentClassInsight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	teacher := env.addUser(t, model.Teacher)
	strong := env.addUser(t, model.Student)
	weak := env.addUser(t, model.Student)
	other := env.addUser(t, model.Student)
	env.relate(t, strong, teacher, model.RelationTeacher)
	env.relate(t, weak, teacher, model.RelationTeacher)
	env.setMastery(t, strong, "fractions", 0.9, day)
	env.setMastery(t, weak, "fractions", 0.3, day)
	env.setMastery(t, other, "fractions", 0.1, day)

	agent := NewTeacherAgent(env.rt, teacher)
	result, err := agent.Startup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Overview["student_count"])
	assert.Equal(t, []uint{weak}, result.Overview["struggling_students"])

	env.gen.reply = "班级整体良好"
	resp, err := agent.ProcessAction(ctx, model.AgentAction{Type: "class_insight"})
	require.NoError(t, err)
	assert.Equal(t, "class_insight", resp.Type)
	assert.Equal(t, "班级整体良好", resp.Content)
	assert.InDelta(t, 0.6, resp.Data["average_mastery"], 1e-9)
	assert.Equal(t, true, resp.Data["generated"])

	require.Equal(t, 1, env.gen.calls())
	assert.True(t, strings.Contains(env.gen.prompts[0], "fractions"))
}

func TestTeacherAgentFallbackInsight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	teacher := env.addUser(t, model.Teacher)
	env.rt.Generator = nil

	agent := NewTeacherAgent(env.rt, teacher)
	_, err := agent.Startup(ctx)
	require.NoError(t, err)
	resp, err := agent.ProcessAction(ctx, model.AgentAction{Type: "class_insight"})
	require.NoError(t, err)
	assert.Equal(t, "班级共 0 名学生，平均掌握度 0%，需要重点关注 0 名学生。", resp.Content)
	assert.Equal(t, false, resp.Data["generated"])
}

func TestGuardianActionsGoToActivityLog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	teacher := env.addUser(t, model.Teacher)
	student := env.addUser(t, model.Student)
	env.relate(t, student, teacher, model.RelationTeacher)

	agent := NewTeacherAgent(env.rt, teacher)
	_, err := agent.Startup(ctx)
	require.NoError(t, err)
	resp, err := agent.ProcessAction(ctx, model.AgentAction{
		Type: "student_detail",
		Data: map[string]interface{}{"student_id": float64(student)},
	})
	require.NoError(t, err)
	assert.Equal(t, "student_detail", resp.Type)

	assert.Zero(t, env.countEvents(t, teacher))
	assert.Zero(t, env.countEvents(t, student))

	logs, err := env.store.AgentActivities(ctx, teacher, 10)
	require.NoError(t, err)
	var types []string
	for _, l := range logs {
		types = append(types, l.ActivityType)
	}
	assert.Contains(t, types, "student_detail")
}

func TestParentAgentChildReport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	parent := env.addUser(t, model.Parent)
	child := env.addUser(t, model.Student)
	env.relate(t, child, parent, model.RelationParent)
	env.setMastery(t, child, "fractions", 0.4, day)
	q := env.addQuestion(t, 2, "fractions")
	require.NoError(t, env.store.RecordMistake(ctx, child, q, "3"))
	env.rt.Generator = nil

	agent := NewParentAgent(env.rt, parent)
	result, err := agent.Startup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Overview["child_count"])

	resp, err := agent.ProcessAction(ctx, model.AgentAction{Type: "child_report"})
	require.NoError(t, err)
	assert.Equal(t, "child_report", resp.Type)
	assert.Contains(t, resp.Content, "40%")
	assert.Contains(t, resp.Content, "1 道错题")

	children := resp.Data["children"].([]StudentSummary)
	require.Len(t, children, 1)
	assert.Equal(t, []string{"fractions"}, children[0].WeakPoints)
}

func TestParentAgentRequiresStartup(t *testing.T) {
	env := newTestEnv(t)
	agent := NewParentAgent(env.rt, env.addUser(t, model.Parent))

	_, err := agent.ProcessAction(context.Background(), model.AgentAction{Type: "child_report"})
	assert.ErrorIs(t, err, util.ErrInvalidState)
	require.NoError(t, agent.Shutdown(context.Background()))
	assert.Equal(t, StateShutdown, agent.State())
}
