package util

const (
	DateFormat = "2006-01-02"
)

// Redis key 前缀
const (
	RecommendationCachePrefix = "agent:recommendations:"
	NotificationChannel       = "agent_notification_channel"
	OnlineUsersKey            = "agent:online_users"
)

// 跨角色通知触发条件
var (
	TeacherNotifyTriggers = []string{"homework_submit", "exam_complete", "learning_difficulty", "complete_homework"}
	ParentNotifyTriggers  = []string{"low_performance", "attendance_issue", "behavioral_concern"}
)
