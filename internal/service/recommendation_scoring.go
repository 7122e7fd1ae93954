package service

import (
	"k12_agent_backend/internal/model"
	"math"
	"time"
)

// 推荐评分参数
const (
	WeakMasteryThreshold   = 0.7
	WeakPointLimit         = 10
	ReinforcementPoints    = 3
	QuestionsPerPoint      = 5
	LearningPathMaxSteps   = 5
	LearningPathTarget     = 0.8
	ReviewMinMastery       = 0.6
	ReviewMaxMastery       = 0.85
	ReviewStaleAfter       = 7 * 24 * time.Hour
	ReviewCandidateLimit   = 5
	ForgettingRiskCutoff   = 0.3
	ResourcePoints         = 3
	ResourcesPerPoint      = 3
	MaxResources           = 5
	UsageWindow            = 30 * 24 * time.Hour
	foundationalDependency = 1.0
	defaultDependency      = 0.5
)

// UrgencyScore 0.4(1-m) + 0.3·min(days/30,1) + 0.3·dep，从未练习按时间项满分计
func UrgencyScore(mastery float64, daysSincePractice int, practiced bool, foundational bool) float64 {
	urgency := (1 - model.Clamp01(mastery)) * 0.4
	if practiced {
		urgency += math.Min(float64(daysSincePractice)/30, 1) * 0.3
	} else {
		urgency += 0.3
	}
	dep := defaultDependency
	if foundational {
		dep = foundationalDependency
	}
	urgency += dep * 0.3
	return model.Clamp01(urgency)
}

// PriorityFromUrgency [0,1] 映射到 1-5
func PriorityFromUrgency(urgency float64) int {
	return model.ClampPriority(1 + int(math.Round(4*model.Clamp01(urgency))))
}

// QuestionScore 难度匹配 40%、质量 30%、新鲜度 20%、知识点覆盖 10%
func QuestionScore(q *model.Question, targetDifficulty int, recentUses int64) float64 {
	diff := math.Abs(float64(q.DifficultyLevel - targetDifficulty))
	score := math.Max(0, 1-diff/5) * 0.4
	score += q.Quality() * 0.3
	score += UsageFreshness(recentUses) * 0.2
	score += math.Min(float64(len(q.KnowledgePointIDs))/5, 1) * 0.1
	return math.Min(score, 1)
}

// UsageFreshness 近 30 天使用越多越不新鲜
func UsageFreshness(uses int64) float64 {
	return math.Max(0, 1-float64(uses)/10)
}

// ForgettingRisk 1 - m·e^(-0.1·days/30)
func ForgettingRisk(mastery float64, daysSincePractice int, practiced bool) float64 {
	if !practiced {
		return 1
	}
	risk := 1 - model.Clamp01(mastery)*math.Exp(-0.1*float64(daysSincePractice)/30)
	return model.Clamp01(risk)
}

// StepMinutes 学习路径单步预估时间：30 + 60·(0.8 - m)
func StepMinutes(mastery float64) int {
	return int(30 + (LearningPathTarget-mastery)*60)
}

// RecommendedActions 按掌握度区间给出学习建议
func RecommendedActions(mastery float64) []string {
	switch {
	case mastery < 0.3:
		return []string{"观看基础概念讲解视频", "阅读相关教材章节", "完成基础练习题"}
	case mastery < 0.6:
		return []string{"复习基础概念", "完成进阶练习题", "总结常见错误"}
	default:
		return []string{"完成挑战性练习", "应用到综合题目中", "教授他人巩固理解"}
	}
}

// ContentTypesForStyle 偏好内容为 mixed 时不过滤
func ContentTypesForStyle(profile *model.StudentProfile) []model.ContentType {
	if profile == nil || profile.PreferredContentType == model.DefaultPreferredContent {
		return nil
	}
	switch profile.LearningStyle {
	case "visual":
		return model.VisualContentTypes
	case "verbal":
		return model.VerbalContentTypes
	}
	return nil
}
