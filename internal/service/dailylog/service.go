// Package dailylog validates daily log writes and serves the read views
// (today, recent history, active challenges) on top of a Store.
package dailylog

import (
	"context"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	mqcontracts "ironwill/contracts/mq"
	"ironwill/internal/errs"
	"ironwill/internal/model"
	"ironwill/pkg/logger"
	"ironwill/pkg/metrics"
)

const (
	DefaultLimit = 30
	MaxLimit     = 365
)

type Store interface {
	UpsertDailyLog(ctx context.Context, in model.UpsertInput) (model.DailyLog, bool, error)
	GetDailyLogByDate(ctx context.Context, userID, logDate string) (model.DailyLog, error)
	GetDailyLog(ctx context.Context, userID, id string) (model.DailyLog, error)
	ListDailyLogs(ctx context.Context, userID string, limit int) ([]model.DailyLog, error)
	DeleteDailyLog(ctx context.Context, userID, id string) (model.DailyLog, error)
	ListActiveChallenges(ctx context.Context, userID string) ([]model.UserChallenge, error)
}

// ChangeListener is told about every committed write. change is one of the
// mqcontracts.Change* values.
type ChangeListener interface {
	DailyLogChanged(ctx context.Context, log model.DailyLog, change string)
}

type ChangeListenerFunc func(ctx context.Context, log model.DailyLog, change string)

func (f ChangeListenerFunc) DailyLogChanged(ctx context.Context, log model.DailyLog, change string) {
	f(ctx, log, change)
}

type Service struct {
	store     Store
	listeners []ChangeListener
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		loc:    time.Local,
		now:    time.Now,
		logger: logger,
	}
}

// WithLocation sets the timezone "today" is computed in.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithListener(l ChangeListener) *Service {
	s.listeners = append(s.listeners, l)
	return s
}

// TodayDate returns today's calendar date in the service timezone.
func (s *Service) TodayDate() string {
	return s.now().In(s.loc).Format(model.DateLayout)
}

// Today returns today's date in the service timezone and the user's log for
// it, or errs.ErrNotFound. The date is set on every return.
func (s *Service) Today(ctx context.Context, userID string) (string, model.DailyLog, error) {
	date := s.TodayDate()
	log, err := s.store.GetDailyLogByDate(ctx, userID, date)
	return date, log, err
}

// List returns up to limit logs, newest first. limit <= 0 means DefaultLimit.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]model.DailyLog, error) {
	return s.store.ListDailyLogs(ctx, userID, NormalizeLimit(limit))
}

func (s *Service) Get(ctx context.Context, userID, id string) (model.DailyLog, error) {
	return s.store.GetDailyLog(ctx, userID, id)
}

func (s *Service) ActiveChallenges(ctx context.Context, userID string) ([]model.UserChallenge, error) {
	return s.store.ListActiveChallenges(ctx, userID)
}

// Upsert validates in and writes it keyed by (UserID, LogDate). created
// reports whether a new row was inserted.
func (s *Service) Upsert(ctx context.Context, in model.UpsertInput) (model.DailyLog, bool, error) {
	log := logger.WithTrace(ctx, s.logger)

	in, err := s.Validate(ctx, in)
	if err != nil {
		metrics.IncrementDailyLogUpsert("invalid")
		log.Info("Daily log rejected", zap.String("user_id", in.UserID), zap.Error(err))
		return model.DailyLog{}, false, err
	}

	saved, created, err := s.store.UpsertDailyLog(ctx, in)
	if err != nil {
		metrics.IncrementDailyLogUpsert("error")
		log.Error("Failed to upsert daily log",
			zap.String("user_id", in.UserID),
			zap.String("log_date", in.LogDate),
			zap.Error(err),
		)
		return model.DailyLog{}, false, fmt.Errorf("upsert daily log: %w", err)
	}

	change := mqcontracts.ChangeUpdated
	if created {
		change = mqcontracts.ChangeCreated
	}
	metrics.IncrementDailyLogUpsert(change)
	s.notify(ctx, saved, change)
	return saved, created, nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) (model.DailyLog, error) {
	deleted, err := s.store.DeleteDailyLog(ctx, userID, id)
	if err != nil {
		return model.DailyLog{}, fmt.Errorf("delete daily log: %w", err)
	}
	logger.WithTrace(ctx, s.logger).Info("Daily log deleted",
		zap.String("user_id", userID),
		zap.String("id", id),
		zap.String("log_date", deleted.LogDate),
	)
	s.notify(ctx, deleted, mqcontracts.ChangeDeleted)
	return deleted, nil
}

// Validate checks in and returns it normalised: duplicate challenge ids are
// collapsed and a nil list becomes empty.
func (s *Service) Validate(ctx context.Context, in model.UpsertInput) (model.UpsertInput, error) {
	if in.UserID == "" {
		return in, reject(errs.Invalid("user_id", "is required"))
	}
	if in.ComplianceRating < model.MinComplianceRating || in.ComplianceRating > model.MaxComplianceRating {
		return in, reject(errs.Invalid("compliance_rating", "must be between %d and %d, got %d",
			model.MinComplianceRating, model.MaxComplianceRating, in.ComplianceRating))
	}
	if v := validateDate(in.LogDate); v != nil {
		return in, reject(v)
	}
	if !model.IsValidMood(in.Mood) {
		return in, reject(errs.Invalid("mood", "must be one of %v or empty, got %q", model.Moods, in.Mood))
	}
	if n := utf8.RuneCountInString(in.JournalEntry); n > model.MaxJournalRunes {
		return in, reject(errs.Invalid("journal_entry", "is %d characters, limit is %d", n, model.MaxJournalRunes))
	}

	in.CompletedChallenges = dedupe(in.CompletedChallenges)
	if len(in.CompletedChallenges) == 0 {
		return in, nil
	}

	active, err := s.store.ListActiveChallenges(ctx, in.UserID)
	if err != nil {
		return in, fmt.Errorf("load active challenges: %w", err)
	}
	known := make(map[string]struct{}, len(active))
	for _, uc := range active {
		known[uc.ID] = struct{}{}
	}
	var recorded []string
	for _, id := range in.CompletedChallenges {
		if _, ok := known[id]; ok {
			continue
		}
		// 已记录在当天日志上的挑战即使已结束也允许保留
		if recorded == nil {
			recorded, err = s.recordedChallenges(ctx, in.UserID, in.LogDate)
			if err != nil {
				return in, err
			}
		}
		if !slices.Contains(recorded, id) {
			return in, reject(errs.Invalid("completed_challenges", "%q is not an active challenge", id))
		}
	}
	return in, nil
}

// ValidateDate accepts only real calendar dates in YYYY-MM-DD form.
func ValidateDate(d string) error {
	if v := validateDate(d); v != nil {
		return v
	}
	return nil
}

func validateDate(d string) *errs.ValidationError {
	t, err := time.Parse(model.DateLayout, d)
	if err != nil || t.Format(model.DateLayout) != d {
		return errs.Invalid("log_date", "%q is not a calendar date (YYYY-MM-DD)", d)
	}
	return nil
}

func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func (s *Service) recordedChallenges(ctx context.Context, userID, logDate string) ([]string, error) {
	existing, err := s.store.GetDailyLogByDate(ctx, userID, logDate)
	if errs.IsNotFound(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load existing log: %w", err)
	}
	return existing.CompletedChallenges, nil
}

func (s *Service) notify(ctx context.Context, log model.DailyLog, change string) {
	for _, l := range s.listeners {
		l.DailyLogChanged(ctx, log, change)
	}
}

func reject(v *errs.ValidationError) error {
	metrics.IncrementValidationFailure(v.Field)
	return v
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
