// Package logform is the daily log form: it owns the unsaved draft, the
// create/edit/cancel/submit transitions and the three read views the form
// is rendered from.
package logform

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"ironwill/internal/errs"
	"ironwill/internal/model"
)

// RecentLimit is the size of the history view.
const RecentLimit = 30

var (
	ErrAlreadyLogged = errors.New("today is already logged, edit it instead")
	ErrNotEditing    = errors.New("no draft to submit")
)

// API is the store as seen by the form.
type API interface {
	TodaysLog(ctx context.Context) (model.TodayLog, error)
	DailyLogs(ctx context.Context, limit int) ([]model.DailyLog, error)
	ActiveChallenges(ctx context.Context) ([]model.UserChallenge, error)
	UpsertDailyLog(ctx context.Context, in model.UpsertInput) (model.DailyLog, error)
}

type Draft struct {
	LogDate             string
	ComplianceRating    int
	JournalEntry        string
	Mood                string
	CompletedChallenges []string
}

func (d Draft) Has(challengeID string) bool {
	return slices.Contains(d.CompletedChallenges, challengeID)
}

// Controller is not safe for concurrent use.
type Controller struct {
	api API
	now func() time.Time
	loc *time.Location

	// today's date as last reported by the server
	todayDate string

	creating  bool
	editingID string
	draft     Draft

	// ids already recorded on the log being edited; they stay toggleable
	// even when the challenge is no longer active
	recorded []string

	banner error
	notice string

	today      Query[*model.DailyLog]
	recent     Query[[]model.DailyLog]
	challenges Query[[]model.UserChallenge]
}

func NewController(api API) *Controller {
	return &Controller{
		api:        api,
		now:        time.Now,
		loc:        time.UTC,
		today:      loading[*model.DailyLog](),
		recent:     loading[[]model.DailyLog](),
		challenges: loading[[]model.UserChallenge](),
	}
}

// WithClock sets the clock used for today's date until the server has
// reported one.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// WithLocation sets the timezone of the clock fallback; it should match the
// server's app.timezone. Default UTC.
func (c *Controller) WithLocation(loc *time.Location) *Controller {
	if loc != nil {
		c.loc = loc
	}
	return c
}

// TodayDate is the date a new log is created for: the server's today when
// known, otherwise the clock in the configured location.
func (c *Controller) TodayDate() string {
	if c.todayDate != "" {
		return c.todayDate
	}
	return c.now().In(c.loc).Format(model.DateLayout)
}

func (c *Controller) Today() Query[*model.DailyLog] { return c.today }
func (c *Controller) Recent() Query[[]model.DailyLog] { return c.recent }
func (c *Controller) Challenges() Query[[]model.UserChallenge] { return c.challenges }
func (c *Controller) Creating() bool { return c.creating }
func (c *Controller) EditingID() string { return c.editingID }
func (c *Controller) Editing() bool { return c.creating || c.editingID != "" }
func (c *Controller) Banner() error { return c.banner }
func (c *Controller) Notice() string { return c.notice }
func (c *Controller) DismissBanner() { c.banner = nil }

// Draft returns a copy of the current draft.
func (c *Controller) Draft() Draft {
	d := c.draft
	d.CompletedChallenges = slices.Clone(c.draft.CompletedChallenges)
	return d
}

// Refresh reloads today, the recent history and the active challenges
// concurrently. Each view records its own outcome; the first error is
// also returned.
func (c *Controller) Refresh(ctx context.Context) error {
	c.today = loading[*model.DailyLog]()
	c.recent = loading[[]model.DailyLog]()
	c.challenges = loading[[]model.UserChallenge]()

	var (
		g          errgroup.Group
		today      Query[*model.DailyLog]
		recent     Query[[]model.DailyLog]
		challenges Query[[]model.UserChallenge]
		todayDate  string
	)
	g.Go(func() error {
		t, err := c.api.TodaysLog(ctx)
		if err != nil {
			today = result[*model.DailyLog](nil, err)
			return fmt.Errorf("load today's log: %w", err)
		}
		todayDate = t.Date
		today = result(t.Log, nil)
		return nil
	})
	g.Go(func() error {
		logs, err := c.api.DailyLogs(ctx, RecentLimit)
		recent = result(logs, err)
		if err != nil {
			return fmt.Errorf("load recent logs: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		list, err := c.api.ActiveChallenges(ctx)
		challenges = result(list, err)
		if err != nil {
			return fmt.Errorf("load active challenges: %w", err)
		}
		return nil
	})
	err := g.Wait()

	c.today, c.recent, c.challenges = today, recent, challenges
	if todayDate != "" {
		c.todayDate = todayDate
	}
	return err
}

// StartCreate opens a fresh draft for TodayDate. It refuses when a loaded
// view already holds a log for that date.
func (c *Controller) StartCreate() error {
	date := c.TodayDate()
	if c.loggedOn(date) {
		return ErrAlreadyLogged
	}
	c.creating = true
	c.editingID = ""
	c.recorded = nil
	c.draft = Draft{
		LogDate:             date,
		ComplianceRating:    model.DefaultComplianceRating,
		CompletedChallenges: []string{},
	}
	c.banner, c.notice = nil, ""
	return nil
}

// StartEdit loads log into the draft. Submit writes back to log's own date.
func (c *Controller) StartEdit(log model.DailyLog) {
	c.creating = false
	c.editingID = log.ID
	c.recorded = slices.Clone(log.CompletedChallenges)
	c.draft = Draft{
		LogDate:             log.LogDate,
		ComplianceRating:    log.ComplianceRating,
		JournalEntry:        log.JournalEntry,
		Mood:                log.Mood,
		CompletedChallenges: append([]string{}, log.CompletedChallenges...),
	}
	c.banner, c.notice = nil, ""
}

func (c *Controller) SetRating(r int) error {
	if err := c.requireEditing(); err != nil {
		return err
	}
	if r < model.MinComplianceRating || r > model.MaxComplianceRating {
		return errs.Invalid("compliance_rating", "must be between %d and %d, got %d",
			model.MinComplianceRating, model.MaxComplianceRating, r)
	}
	c.draft.ComplianceRating = r
	return nil
}

func (c *Controller) SetMood(m string) error {
	if err := c.requireEditing(); err != nil {
		return err
	}
	if !model.IsValidMood(m) {
		return errs.Invalid("mood", "must be one of %v or empty, got %q", model.Moods, m)
	}
	c.draft.Mood = m
	return nil
}

func (c *Controller) SetJournal(s string) error {
	if err := c.requireEditing(); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(s); n > model.MaxJournalRunes {
		return errs.Invalid("journal_entry", "is %d characters, limit is %d", n, model.MaxJournalRunes)
	}
	c.draft.JournalEntry = s
	return nil
}

// ToggleChallenge flips challengeID in the draft's completed set. Only
// loaded active challenges (or ids already on the edited log) can be toggled.
func (c *Controller) ToggleChallenge(challengeID string) error {
	if err := c.requireEditing(); err != nil {
		return err
	}
	if i := slices.Index(c.draft.CompletedChallenges, challengeID); i >= 0 {
		c.draft.CompletedChallenges = slices.Delete(c.draft.CompletedChallenges, i, i+1)
		return nil
	}
	if !c.isActive(challengeID) && !slices.Contains(c.recorded, challengeID) {
		return errs.Invalid("completed_challenges", "%q is not an active challenge", challengeID)
	}
	c.draft.CompletedChallenges = append(c.draft.CompletedChallenges, challengeID)
	return nil
}

// Cancel discards the draft without saving.
func (c *Controller) Cancel() {
	c.reset()
	c.banner = nil
}

// Submit upserts the draft. On failure the draft and the mode are kept and
// the error is stored in Banner. On success the views are refreshed; a
// refresh failure shows up in the views, not in the returned error.
func (c *Controller) Submit(ctx context.Context) (model.DailyLog, error) {
	if !c.Editing() {
		return model.DailyLog{}, ErrNotEditing
	}

	saved, err := c.api.UpsertDailyLog(ctx, model.UpsertInput{
		LogDate:             c.draft.LogDate,
		ComplianceRating:    c.draft.ComplianceRating,
		JournalEntry:        c.draft.JournalEntry,
		Mood:                c.draft.Mood,
		CompletedChallenges: slices.Clone(c.draft.CompletedChallenges),
	})
	if err != nil {
		c.banner = err
		return model.DailyLog{}, err
	}

	c.notice = ""
	if c.editingID != "" && saved.ID != c.editingID {
		c.notice = fmt.Sprintf("the log you were editing no longer exists; saved as a new log for %s", saved.LogDate)
	}
	c.reset()
	c.banner = nil

	_ = c.Refresh(ctx)
	return saved, nil
}

func (c *Controller) requireEditing() error {
	if !c.Editing() {
		return ErrNotEditing
	}
	return nil
}

func (c *Controller) loggedOn(date string) bool {
	if c.today.Status == Ready && c.today.Data != nil && c.today.Data.LogDate == date {
		return true
	}
	if c.recent.Status == Ready {
		for _, l := range c.recent.Data {
			if l.LogDate == date {
				return true
			}
		}
	}
	return false
}

func (c *Controller) isActive(challengeID string) bool {
	if c.challenges.Status != Ready {
		return false
	}
	for _, uc := range c.challenges.Data {
		if uc.ID == challengeID {
			return true
		}
	}
	return false
}

func (c *Controller) reset() {
	c.creating = false
	c.editingID = ""
	c.recorded = nil
	c.draft = Draft{}
}
