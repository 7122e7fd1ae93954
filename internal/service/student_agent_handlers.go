package service

import (
	"context"
	"fmt"
	"k12_agent_backend/internal/model"
	"k12_agent_backend/internal/util"
	"k12_agent_backend/pkg/logger"
	"strings"

	"go.uber.org/zap"
)

const (
	nextQuestionCount     = 3
	relatedResourceLimit  = 3
	lowPerformanceScore   = 60
	difficultyLookback    = 10
	maxQuestionDifficulty = 5
)

// 内容类型对应的预期浏览时长（秒）
var expectedViewSeconds = map[model.ContentType]int{
	model.ContentVideo:     300,
	model.ContentAnimation: 180,
	model.ContentText:      180,
	model.ContentDocument:  240,
	model.ContentAudio:     180,
	model.ContentImage:     60,
}

var helpFallbacks = map[string]string{
	"question": "先把题目中的已知条件和问题分别写出来，再回想相关的公式或方法，一步一步尝试。",
	"concept":  "建议先回顾教材中该概念的定义和例题，再用自己的话复述一遍。",
	"method":   "可以先做一道简单的同类题，总结解题步骤后再尝试当前题目。",
}

var followUpQuestions = map[string][]string{
	"question": {"这道题的已知条件有哪些？", "能否画图帮助理解？", "和之前做过的哪道题类似？"},
	"concept":  {"能举一个生活中的例子吗？", "这个概念和哪些知识点有关？"},
	"method":   {"这个方法适用于哪些题型？", "有没有更简单的解法？"},
}

// SmoothMastery 指数平滑更新掌握度，用时越长权重越低
func SmoothMastery(current, alpha float64, correct bool, expectedSeconds, spentSeconds int) float64 {
	target := 1.0
	if !correct {
		target = current - 0.1
		if target < 0 {
			target = 0
		}
	}
	if expectedSeconds <= 0 {
		expectedSeconds = model.DefaultQuestionSeconds
	}
	weight := 1.0
	if spentSeconds > expectedSeconds {
		weight = float64(expectedSeconds) / float64(spentSeconds)
	}
	return model.Clamp01(current + alpha*weight*(target-current))
}

func actionKnowledgePoints(data map[string]interface{}) []string {
	if ids := util.MapStrings(data, "knowledge_point_ids"); len(ids) > 0 {
		return ids
	}
	return util.MapStrings(data, "knowledge_point_id")
}

func (a *StudentAgent) profile(ctx context.Context, userID uint) *model.StudentProfile {
	profile, err := a.rt.Store.GetProfile(ctx, userID)
	if err != nil {
		logger.Log.Warn("Using default profile", zap.Uint("userId", userID), zap.Error(err))
	}
	return profile
}

func (a *StudentAgent) resourcesFor(ctx context.Context, profile *model.StudentProfile, kps []string, exclude uint) []model.LearningResource {
	resources := []model.LearningResource{}
	seen := map[uint]bool{exclude: true}
	types := ContentTypesForStyle(profile)
	for _, kp := range kps {
		found, err := a.rt.Store.ResourcesFor(ctx, kp, types, relatedResourceLimit)
		if err != nil {
			logger.Log.Warn("Resource lookup failed", zap.String("knowledgePointId", kp), zap.Error(err))
			continue
		}
		for _, r := range found {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			resources = append(resources, r)
			if len(resources) >= relatedResourceLimit {
				return resources
			}
		}
	}
	return resources
}

func (a *StudentAgent) questionsFor(ctx context.Context, kps []string, difficulty int, exclude uint) []ScoredQuestion {
	if difficulty < 1 {
		difficulty = 1
	}
	if difficulty > maxQuestionDifficulty {
		difficulty = maxQuestionDifficulty
	}
	out := []ScoredQuestion{}
	seen := map[uint]bool{exclude: true}
	for _, kp := range kps {
		questions, err := a.rt.Engine.RecommendQuestions(ctx, kp, difficulty, nextQuestionCount+1)
		if err != nil {
			logger.Log.Warn("Question recommendation failed", zap.String("knowledgePointId", kp), zap.Error(err))
			continue
		}
		for _, q := range questions {
			if seen[q.ID] {
				continue
			}
			seen[q.ID] = true
			out = append(out, q)
			if len(out) >= nextQuestionCount {
				return out
			}
		}
	}
	return out
}

func (a *StudentAgent) handleStartLearning(ctx context.Context, action model.AgentAction) (*model.AgentResponse, error) {
	userID := a.Session().UserID
	subject := util.MapString(action.Data, "subject")
	topic := util.MapString(action.Data, "topic")
	kps := actionKnowledgePoints(action.Data)
	planned := util.MapInt(action.Data, "planned_duration")
	if planned <= 0 {
		planned = defaultPlannedMinutes
	}
	profile := a.profile(ctx, userID)

	fallback := "开始学习吧！建议先花几分钟回顾上次学过的内容，再进入新知识的学习和练习。"
	prompt := fmt.Sprintf("学生准备开始学习，科目：%s，主题：%s，计划时长：%d分钟，学习风格：%s。请给出简短的学习建议。",
		subject, topic, planned, profile.LearningStyle)
	suggestion, generated := a.rt.generate(ctx, prompt, model.Student, fallback)

	breakMinutes := profile.AttentionDurationMinutes
	if breakMinutes > planned {
		breakMinutes = planned
	}
	return &model.AgentResponse{
		Type:    "learning_guidance",
		Content: suggestion,
		Data: map[string]interface{}{
			"subject":            subject,
			"topic":              topic,
			"suggestions":        suggestion,
			"generated":          generated,
			"resources":          a.resourcesFor(ctx, profile, kps, 0),
			"estimated_duration": planned,
			"focus_tips": []string{
				fmt.Sprintf("每学习 %d 分钟休息 5 分钟", breakMinutes),
				"学习时把手机放在视线之外",
			},
		},
	}, nil
}

func (a *StudentAgent) handleAnswerQuestion(ctx context.Context, action model.AgentAction, event *model.BehaviorEvent) (*model.AgentResponse, error) {
	userID := a.Session().UserID
	questionID := event.QuestionID
	correct := util.MapBool(action.Data, "is_correct")
	spent := util.MapInt(action.Data, "time_spent")

	expected := model.DefaultQuestionSeconds
	kps := actionKnowledgePoints(action.Data)
	if questionID > 0 {
		q, err := a.rt.Store.Question(ctx, questionID)
		if err != nil {
			logger.Log.Warn("Question lookup failed", zap.Uint("questionId", questionID), zap.Error(err))
		} else {
			expected = q.ExpectedSeconds()
			if len(q.KnowledgePointIDs) > 0 {
				kps = q.KnowledgePointIDs
			}
		}
	}

	alpha := a.rt.Settings().MasterySmoothing
	updates := make(map[string]float64, len(kps))
	for _, kp := range kps {
		m, err := a.rt.Store.UpdateMastery(ctx, userID, kp, func(m *model.KnowledgeMastery) error {
			m.MasteryLevel = SmoothMastery(m.MasteryLevel, alpha, correct, expected, spent)
			now := a.rt.Now()
			m.LastPracticeTime = &now
			return nil
		})
		if err != nil {
			logger.Log.Warn("Mastery update failed", zap.Uint("userId", userID), zap.String("knowledgePointId", kp), zap.Error(err))
			continue
		}
		updates[kp] = m.MasteryLevel
	}

	if questionID > 0 {
		if correct {
			if _, err := a.rt.Store.ResolveMistake(ctx, userID, questionID); err != nil {
				logger.Log.Warn("Failed to resolve mistake", zap.Uint("questionId", questionID), zap.Error(err))
			}
		} else if err := a.rt.Store.RecordMistake(ctx, userID, questionID, util.MapString(action.Data, "answer")); err != nil {
			logger.Log.Warn("Failed to record mistake", zap.Uint("questionId", questionID), zap.Error(err))
		}
	}

	difficulty := a.profile(ctx, userID).DifficultyPreference()
	feedback := "回答正确，继续保持！"
	if correct {
		difficulty++
	} else {
		difficulty--
		feedback = "这道题答错了，已加入错题本。建议先回顾相关知识点，再做几道基础题巩固。"
	}
	if spent > expected*2 {
		feedback += " 这道题用时较长，可以多练习同类题目提高熟练度。"
	}

	data := map[string]interface{}{
		"feedback":         feedback,
		"is_correct":       correct,
		"question_id":      questionID,
		"next_questions":   a.questionsFor(ctx, kps, difficulty, questionID),
		"knowledge_update": len(updates) > 0,
		"mastery_updates":  updates,
	}
	if !correct && a.strugglingRecently(ctx, userID) {
		data["learning_difficulty"] = true
	}
	return &model.AgentResponse{Type: "answer_feedback", Content: feedback, Data: data}, nil
}

// strugglingRecently 最近连续答错达到阈值
func (a *StudentAgent) strugglingRecently(ctx context.Context, userID uint) bool {
	events, err := a.rt.Store.RecentEvents(ctx, userID, behaviorWindow, difficultyLookback)
	if err != nil {
		return false
	}
	return consecutiveWrongAnswers(events) >= difficultyWrongAnswers
}

func (a *StudentAgent) handleViewContent(ctx context.Context, action model.AgentAction) (*model.AgentResponse, error) {
	userID := a.Session().UserID
	contentType := model.ContentType(util.MapString(action.Data, "content_type"))
	contentID := util.MapUint(action.Data, "content_id")
	duration := util.MapInt(action.Data, "duration")
	kps := actionKnowledgePoints(action.Data)

	expected, ok := expectedViewSeconds[contentType]
	if !ok {
		expected = model.DefaultQuestionSeconds
	}
	comprehension := model.Clamp01(float64(duration) / float64(expected))

	profile := a.profile(ctx, userID)
	content := "内容已浏览完毕，做几道练习巩固一下吧。"
	if comprehension < 0.5 {
		content = "浏览时间较短，建议再仔细看一遍重点部分。"
	}
	return &model.AgentResponse{
		Type:    "content_feedback",
		Content: content,
		Data: map[string]interface{}{
			"content_id":           contentID,
			"comprehension_score":  comprehension,
			"related_exercises":    a.questionsFor(ctx, kps, profile.DifficultyPreference(), 0),
			"continue_suggestions": a.resourcesFor(ctx, profile, kps, contentID),
		},
	}, nil
}

func (a *StudentAgent) handleRequestHelp(ctx context.Context, action model.AgentAction) (*model.AgentResponse, error) {
	userID := a.Session().UserID
	helpType := util.MapString(action.Data, "help_type")
	if _, ok := helpFallbacks[helpType]; !ok {
		helpType = "concept"
	}
	question := util.MapString(action.Data, "question")
	if question == "" {
		question = action.ContextString("question")
	}
	if question == "" {
		question = util.MapString(action.Data, "context")
	}
	kps := actionKnowledgePoints(action.Data)
	if len(kps) == 0 {
		kps = actionKnowledgePoints(action.Context)
	}
	profile := a.profile(ctx, userID)

	var b strings.Builder
	fmt.Fprintf(&b, "学生请求帮助，类型：%s。", helpType)
	if question != "" {
		fmt.Fprintf(&b, "问题内容：%s。", question)
	}
	if len(kps) > 0 {
		fmt.Fprintf(&b, "相关知识点：%s。", strings.Join(kps, "、"))
	}
	fmt.Fprintf(&b, "学生的学习风格是%s，请用适合K12学生理解的语言给出引导，不要直接给出最终答案。", profile.LearningStyle)

	help, generated := a.rt.generate(ctx, b.String(), model.Student, helpFallbacks[helpType])
	return &model.AgentResponse{
		Type:    "ai_help",
		Content: help,
		Data: map[string]interface{}{
			"help_type":           helpType,
			"help_content":        help,
			"generated":           generated,
			"resources":           a.resourcesFor(ctx, profile, kps, 0),
			"follow_up_questions": followUpQuestions[helpType],
		},
	}, nil
}

func (a *StudentAgent) handleCompleteHomework(ctx context.Context, action model.AgentAction) (*model.AgentResponse, error) {
	session := a.Session()
	score := util.MapInt(action.Data, "score")

	recs, err := a.rt.Engine.Generate(ctx, session.UserID, &RecommendationContext{
		SessionType: session.Context.SessionType,
		ContextType: model.ContextHomework,
	})
	if err != nil {
		logger.Log.Warn("Homework recommendations failed", zap.Uint("userId", session.UserID), zap.Error(err))
		recs = []model.Recommendation{}
	}

	var content string
	switch {
	case score >= 90:
		content = "作业完成得非常好！"
	case score >= lowPerformanceScore:
		content = "作业已完成，注意订正错题。"
	default:
		content = "这次作业还有提升空间，建议按照下面的推荐进行复习。"
	}
	data := map[string]interface{}{
		"homework_id": util.MapUint(action.Data, "homework_id"),
		"score":       score,
	}
	if _, ok := action.Data["score"]; ok && score < lowPerformanceScore {
		data["low_performance"] = true
	}
	return &model.AgentResponse{
		Type:            "homework_feedback",
		Content:         content,
		Data:            data,
		Recommendations: recs,
	}, nil
}

func (a *StudentAgent) handleAIChat(ctx context.Context, action model.AgentAction) (*model.AgentResponse, error) {
	message := util.MapString(action.Data, "message")
	reply, generated := a.rt.generate(ctx, message, model.Student, "抱歉，AI助手暂时无法回答，请稍后再试。")
	return &model.AgentResponse{
		Type:    "ai_chat",
		Content: reply,
		Data: map[string]interface{}{
			"message":   message,
			"generated": generated,
		},
	}, nil
}

func (a *StudentAgent) handleGeneralAction(action model.AgentAction) *model.AgentResponse {
	return &model.AgentResponse{
		Type:    "general_response",
		Content: "已记录你的学习行为",
		Data:    map[string]interface{}{"action_type": action.Type},
	}
}
