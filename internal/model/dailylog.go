package model

import "time"

// DateLayout is the calendar-day format used for log dates on the wire and in storage.
const DateLayout = "2006-01-02"

// Mood values accepted on a daily log. The empty string means "not set".
const (
	MoodGreat     = "great"
	MoodOkay      = "okay"
	MoodDifficult = "difficult"
)

var Moods = []string{MoodGreat, MoodOkay, MoodDifficult}

const (
	MinComplianceRating     = 1
	MaxComplianceRating     = 5
	DefaultComplianceRating = 5
	MaxJournalRunes         = 10000
)

// DailyLog is one user's record for one calendar day. (UserID, LogDate) is unique.
type DailyLog struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	LogDate             string    `json:"log_date"`
	ComplianceRating    int       `json:"compliance_rating"`
	JournalEntry        string    `json:"journal_entry"`
	Mood                string    `json:"mood"`
	CompletedChallenges []string  `json:"completed_challenges"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// UpsertInput carries the mutable fields of a daily log plus its key.
type UpsertInput struct {
	UserID              string   `json:"-"`
	LogDate             string   `json:"log_date"`
	ComplianceRating    int      `json:"compliance_rating"`
	JournalEntry        string   `json:"journal_entry"`
	Mood                string   `json:"mood"`
	CompletedChallenges []string `json:"completed_challenges"`
}

// IsValidMood reports whether m is one of Moods or empty.
func IsValidMood(m string) bool {
	if m == "" {
		return true
	}
	for _, v := range Moods {
		if v == m {
			return true
		}
	}
	return false
}

// TodayLog is the server's view of "today": the date it resolves to in the
// server timezone and the log for that date, nil when there is none yet.
type TodayLog struct {
	Date string    `json:"date"`
	Log  *DailyLog `json:"log"`
}
