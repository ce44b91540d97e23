package mq

import "time"

// Routing keys on the events exchange.
const (
	RoutingKeyDailyLogChanged = "dailylog.changed"
	RoutingKeyStatsUpdated    = "stats.updated"
)

// Change kinds carried by DailyLogChangedPayload.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// DailyLogChangedPayload is emitted after every committed upsert or delete.
type DailyLogChangedPayload struct {
	EventID    string    `json:"event_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	UserID     string    `json:"user_id"`
	LogID      string    `json:"log_id"`
	LogDate    string    `json:"log_date"`
	Change     string    `json:"change"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StatsUpdatedPayload is pushed to realtime subscribers after a recompute.
type StatsUpdatedPayload struct {
	UserID         string    `json:"user_id"`
	CurrentStreak  int       `json:"current_streak"`
	LongestStreak  int       `json:"longest_streak"`
	TotalLogs      int       `json:"total_logs"`
	NewlyUnlocked  []string  `json:"newly_unlocked,omitempty"`
	LastCalculated time.Time `json:"last_calculated"`
}
