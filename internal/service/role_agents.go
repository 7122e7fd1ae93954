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
	summaryWeakLimit    = 3
	summaryMistakeLimit = 50
	summaryStatsWindow  = 7 * 24 * time.Hour
	strugglingMastery   = 0.6
)

type agentFactory func(rt *AgentRuntime, userID uint) Agent

// 角色与 Agent 的对应关系；管理员没有 Agent
var agentFactories = map[model.UserRole]agentFactory{
	model.Student: func(rt *AgentRuntime, userID uint) Agent { return NewStudentAgent(rt, userID) },
	model.Teacher: func(rt *AgentRuntime, userID uint) Agent { return NewTeacherAgent(rt, userID) },
	model.Parent:  func(rt *AgentRuntime, userID uint) Agent { return NewParentAgent(rt, userID) },
}

// NewAgentForRole 角色没有对应 Agent 时返回 ConfigurationError
func NewAgentForRole(rt *AgentRuntime, userID uint, role model.UserRole) (Agent, error) {
	factory, ok := agentFactories[role]
	if !ok {
		return nil, &util.ConfigurationError{Role: string(role), Err: util.ErrNoAgentForRole}
	}
	return factory(rt, userID), nil
}

// StudentSummary 教师、家长视角下的学生学情
type StudentSummary struct {
	StudentID      uint           `json:"studentId"`
	Name           string         `json:"name"`
	AverageMastery float64        `json:"averageMastery"`
	MasteredCount  int            `json:"masteredCount"`
	KnowledgeCount int            `json:"knowledgeCount"`
	WeakPoints     []string       `json:"weakPoints"`
	OpenMistakes   int            `json:"openMistakes"`
	Stats          *LearningStats `json:"stats,omitempty"`
	LastSeen       time.Time      `json:"lastSeen"`
}

func summarizeStudent(ctx context.Context, rt *AgentRuntime, student model.User) StudentSummary {
	summary := StudentSummary{
		StudentID:  student.ID,
		Name:       student.Name,
		WeakPoints: []string{},
		LastSeen:   student.LastSeen,
	}

	masteries, err := rt.Store.Masteries(ctx, student.ID)
	if err != nil {
		logger.Log.Warn("Failed to load masteries for summary", zap.Uint("studentId", student.ID), zap.Error(err))
	}
	total := 0.0
	for _, m := range masteries {
		total += m.MasteryLevel
		if m.MasteryLevel >= model.MasteredThreshold {
			summary.MasteredCount++
		}
	}
	summary.KnowledgeCount = len(masteries)
	if len(masteries) > 0 {
		summary.AverageMastery = total / float64(len(masteries))
	}

	if weak, err := rt.Engine.WeakPoints(ctx, student.ID, WeakMasteryThreshold, summaryWeakLimit); err == nil {
		for _, wp := range weak {
			summary.WeakPoints = append(summary.WeakPoints, wp.KnowledgePointID)
		}
	}
	if mistakes, err := rt.Store.OpenMistakes(ctx, student.ID, summaryMistakeLimit); err == nil {
		summary.OpenMistakes = len(mistakes)
	}
	if stats, err := rt.Store.LearningStats(ctx, student.ID, summaryStatsWindow); err == nil {
		summary.Stats = stats
	}
	return summary
}

func describeSummaries(summaries []StudentSummary) string {
	var b strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&b, "- %s：平均掌握度 %.0f%%，已掌握 %d/%d 个知识点，未订正错题 %d 道",
			s.Name, s.AverageMastery*100, s.MasteredCount, s.KnowledgeCount, s.OpenMistakes)
		if len(s.WeakPoints) > 0 {
			fmt.Fprintf(&b, "，薄弱知识点：%s", strings.Join(s.WeakPoints, "、"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// guardianAgent 教师与家长 Agent 的共同部分，按关联关系查看学生
type guardianAgent struct {
	baseAgent
	relation model.RelationType
}

func (a *guardianAgent) Shutdown(ctx context.Context) error {
	return a.shutdown(ctx)
}

func (a *guardianAgent) students(ctx context.Context) []model.User {
	userID := a.Session().UserID
	students, err := a.rt.Store.StudentsOf(ctx, userID, a.relation)
	if err != nil {
		logger.Log.Warn("Failed to load related students", zap.Uint("userId", userID), zap.Error(err))
		return nil
	}
	return students
}

// summaries studentID 为 0 时返回全部关联学生
func (a *guardianAgent) summaries(ctx context.Context, studentID uint) []StudentSummary {
	out := []StudentSummary{}
	for _, s := range a.students(ctx) {
		if studentID != 0 && s.ID != studentID {
			continue
		}
		out = append(out, summarizeStudent(ctx, a.rt, s))
	}
	return out
}

func (a *guardianAgent) startup(ctx context.Context, overview func(ctx context.Context) map[string]interface{}) (*StartupResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.activate(); err != nil {
		return nil, err
	}
	result := &StartupResult{
		IsNewSession:    true,
		Overview:        overview(ctx),
		Recommendations: []model.Recommendation{},
		Actions:         []PreparedAction{},
	}
	result.Session = a.Session()
	a.logStartup(ctx, map[string]interface{}{"relation": a.relation})
	logger.Log.Info("Agent started", zap.Uint("userId", result.Session.UserID), zap.String("agentType", a.agentType))
	return result, nil
}

// beginAction 教师/家长的动作只写入 Agent 活动日志，BehaviorEvent 只记录学生本人的学习行为
func (a *guardianAgent) beginAction(ctx context.Context, action model.AgentAction) error {
	if err := a.requireActive("process_action"); err != nil {
		return err
	}
	a.recordAction(action.Type)
	session := a.Session()
	if err := a.rt.Store.LogAgentActivity(ctx, session.UserID, a.agentType, action.Type, action.Data); err != nil {
		logger.Log.Warn("Failed to log agent action", zap.Uint("userId", session.UserID), zap.Error(err))
	}
	return nil
}

func (a *guardianAgent) chat(ctx context.Context, action model.AgentAction) *model.AgentResponse {
	message := util.MapString(action.Data, "message")
	reply, generated := a.rt.generate(ctx, message, a.Role(), "抱歉，AI助手暂时无法回答，请稍后再试。")
	return &model.AgentResponse{
		Type:    "ai_chat",
		Content: reply,
		Data:    map[string]interface{}{"message": message, "generated": generated},
	}
}

// TeacherAgent 教学助手，面向所教学生
type TeacherAgent struct {
	guardianAgent
}

func NewTeacherAgent(rt *AgentRuntime, userID uint) *TeacherAgent {
	a := &TeacherAgent{}
	a.relation = model.RelationTeacher
	a.initBase(rt, userID, model.Teacher, teacherAgentType)
	return a
}

func (a *TeacherAgent) Startup(ctx context.Context) (*StartupResult, error) {
	return a.startup(ctx, a.classOverview)
}

func (a *TeacherAgent) classOverview(ctx context.Context) map[string]interface{} {
	summaries := a.summaries(ctx, 0)
	struggling := []uint{}
	total := 0.0
	for _, s := range summaries {
		total += s.AverageMastery
		if s.KnowledgeCount > 0 && s.AverageMastery < strugglingMastery {
			struggling = append(struggling, s.StudentID)
		}
	}
	avg := 0.0
	if len(summaries) > 0 {
		avg = total / float64(len(summaries))
	}
	return map[string]interface{}{
		"student_count":       len(summaries),
		"average_mastery":     avg,
		"struggling_students": struggling,
		"students":            summaries,
	}
}

func (a *TeacherAgent) ProcessAction(ctx context.Context, action model.AgentAction) (*model.AgentResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.beginAction(ctx, action); err != nil {
		return nil, err
	}
	switch action.Type {
	case "class_insight":
		return a.classInsight(ctx), nil
	case "student_detail":
		summaries := a.summaries(ctx, util.MapUint(action.Data, "student_id"))
		return &model.AgentResponse{
			Type:    "student_detail",
			Content: fmt.Sprintf("共 %d 名学生", len(summaries)),
			Data:    map[string]interface{}{"students": summaries},
		}, nil
	case "ai_chat":
		return a.chat(ctx, action), nil
	}
	return &model.AgentResponse{
		Type:    "general_response",
		Content: "已收到",
		Data:    map[string]interface{}{"action_type": action.Type},
	}, nil
}

func (a *TeacherAgent) classInsight(ctx context.Context) *model.AgentResponse {
	overview := a.classOverview(ctx)
	summaries, _ := overview["students"].([]StudentSummary)

	fallback := fmt.Sprintf("班级共 %d 名学生，平均掌握度 %.0f%%，需要重点关注 %d 名学生。",
		len(summaries), overview["average_mastery"].(float64)*100, len(overview["struggling_students"].([]uint)))
	prompt := "以下是班级学生的学情数据，请分析整体学习情况，指出需要重点关注的学生和知识点，并给出教学建议：\n" +
		describeSummaries(summaries)
	insight, generated := a.rt.generate(ctx, prompt, model.Teacher, fallback)
	overview["generated"] = generated
	return &model.AgentResponse{Type: "class_insight", Content: insight, Data: overview}
}

// ParentAgent 家长助手，面向自己的孩子
type ParentAgent struct {
	guardianAgent
}

func NewParentAgent(rt *AgentRuntime, userID uint) *ParentAgent {
	a := &ParentAgent{}
	a.relation = model.RelationParent
	a.initBase(rt, userID, model.Parent, parentAgentType)
	return a
}

func (a *ParentAgent) Startup(ctx context.Context) (*StartupResult, error) {
	return a.startup(ctx, func(ctx context.Context) map[string]interface{} {
		children := a.summaries(ctx, 0)
		return map[string]interface{}{
			"child_count": len(children),
			"children":    children,
		}
	})
}

func (a *ParentAgent) ProcessAction(ctx context.Context, action model.AgentAction) (*model.AgentResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.beginAction(ctx, action); err != nil {
		return nil, err
	}
	switch action.Type {
	case "child_report":
		return a.childReport(ctx, util.MapUint(action.Data, "student_id")), nil
	case "ai_chat":
		return a.chat(ctx, action), nil
	}
	return &model.AgentResponse{
		Type:    "general_response",
		Content: "已收到",
		Data:    map[string]interface{}{"action_type": action.Type},
	}, nil
}

func (a *ParentAgent) childReport(ctx context.Context, studentID uint) *model.AgentResponse {
	children := a.summaries(ctx, studentID)
	if len(children) == 0 {
		return &model.AgentResponse{
			Type:    "child_report",
			Content: "暂未找到孩子的学习数据",
			Data:    map[string]interface{}{"children": children, "generated": false},
		}
	}

	fallback := fmt.Sprintf("孩子平均掌握度 %.0f%%，还有 %d 道错题待订正。建议每天安排固定的学习时间，并关注薄弱知识点的练习。",
		children[0].AverageMastery*100, children[0].OpenMistakes)
	prompt := "以下是孩子最近的学习情况，请用家长容易理解的语言总结孩子的学习表现，并给出家庭辅导建议：\n" +
		describeSummaries(children)
	report, generated := a.rt.generate(ctx, prompt, model.Parent, fallback)
	return &model.AgentResponse{
		Type:    "child_report",
		Content: report,
		Data:    map[string]interface{}{"children": children, "generated": generated},
	}
}
