package model

import "time"

const (
	ChallengeStatusActive    = "active"
	ChallengeStatusCompleted = "completed"
	ChallengeStatusFailed    = "failed"
	ChallengeStatusAbandoned = "abandoned"
)

// Challenge is a catalogue entry users can enroll in.
type Challenge struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`   // physical | mental | social | productivity | wellness
	Difficulty   string    `json:"difficulty"` // easy | medium | hard | extreme
	DurationDays int       `json:"duration_days"`
	IsSystem     bool      `json:"is_system"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserChallenge is an enrollment of a user in a challenge.
type UserChallenge struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	ChallengeID      string     `json:"challenge_id"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	TargetCompletion *time.Time `json:"target_completion,omitempty"`
	Challenge        *Challenge `json:"challenge,omitempty"`
}

// Title returns the challenge title or a placeholder when it was not joined in.
func (uc UserChallenge) Title() string {
	if uc.Challenge == nil || uc.Challenge.Title == "" {
		return "Challenge " + uc.ChallengeID
	}
	return uc.Challenge.Title
}
