package model

import "time"

// Statistics is the per-user snapshot recomputed from daily logs.
type Statistics struct {
	UserID                   string    `json:"user_id"`
	CurrentStreak            int       `json:"current_streak"`
	LongestStreak            int       `json:"longest_streak"`
	TotalLogs                int       `json:"total_logs"`
	TotalChallengesCompleted int       `json:"total_challenges_completed"`
	PerfectDays              int       `json:"perfect_days"`
	AverageCompliance        float64   `json:"average_compliance"`
	LastCalculated           time.Time `json:"last_calculated"`
}

// Achievement requirement types.
const (
	RequirementStreakDays          = "streak_days"
	RequirementTotalLogs           = "total_logs"
	RequirementChallengesCompleted = "challenges_completed"
	RequirementPerfectDays         = "perfect_days"
)

type Achievement struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	BadgeIcon        string `json:"badge_icon"`
	Category         string `json:"category"`
	RequirementType  string `json:"requirement_type"`
	RequirementValue int    `json:"requirement_value"`
}

type UserAchievement struct {
	UserID        string       `json:"user_id"`
	AchievementID string       `json:"achievement_id"`
	UnlockedAt    time.Time    `json:"unlocked_at"`
	Achievement   *Achievement `json:"achievement,omitempty"`
}

// DefaultAchievements seeds stores that start empty.
var DefaultAchievements = []Achievement{
	{ID: "first-log", Title: "First Step", Description: "Log your first day", BadgeIcon: "footprints", Category: "consistency", RequirementType: RequirementTotalLogs, RequirementValue: 1},
	{ID: "week-streak", Title: "Iron Week", Description: "Log seven days in a row", BadgeIcon: "flame", Category: "consistency", RequirementType: RequirementStreakDays, RequirementValue: 7},
	{ID: "month-streak", Title: "Unbroken", Description: "Log thirty days in a row", BadgeIcon: "shield", Category: "consistency", RequirementType: RequirementStreakDays, RequirementValue: 30},
	{ID: "centurion", Title: "Centurion", Description: "Log one hundred days", BadgeIcon: "scroll", Category: "volume", RequirementType: RequirementTotalLogs, RequirementValue: 100},
	{ID: "perfect-ten", Title: "Perfect Ten", Description: "Rate ten days a full 5", BadgeIcon: "star", Category: "quality", RequirementType: RequirementPerfectDays, RequirementValue: 10},
	{ID: "finisher", Title: "Finisher", Description: "Complete a challenge", BadgeIcon: "trophy", Category: "challenges", RequirementType: RequirementChallengesCompleted, RequirementValue: 1},
}
