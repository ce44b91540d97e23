// Package stats maintains per-user statistics snapshots (streaks, totals,
// average compliance) and unlocks achievements when a snapshot changes.
package stats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "ironwill/contracts/mq"
	"ironwill/internal/errs"
	"ironwill/internal/model"
	"ironwill/pkg/logger"
	"ironwill/pkg/metrics"
)

// Recompute triggers, used as the metrics label.
const (
	TriggerEvent   = "event"
	TriggerLazy    = "lazy"
	TriggerNightly = "nightly"
	TriggerAdmin   = "admin"
	TriggerInline  = "inline"
)

type Store interface {
	ListAllDailyLogs(ctx context.Context, userID string) ([]model.DailyLog, error)
	CountCompletedChallenges(ctx context.Context, userID string) (int, error)
	LatestLogUpdate(ctx context.Context, userID string) (time.Time, error)
	GetStatistics(ctx context.Context, userID string) (model.Statistics, error)
	SaveStatistics(ctx context.Context, s model.Statistics) error
	ListAchievements(ctx context.Context) ([]model.Achievement, error)
	ListUserAchievements(ctx context.Context, userID string) ([]model.UserAchievement, error)
	UnlockAchievements(ctx context.Context, userID string, ids []string, at time.Time) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Cache holds snapshots in front of the store. Misses and failures both
// fall through to the store.
type Cache interface {
	Get(ctx context.Context, userID string) (model.Statistics, bool)
	Set(ctx context.Context, s model.Statistics)
	Invalidate(ctx context.Context, userID string)
}

// Notifier is told about every saved snapshot.
type Notifier interface {
	StatsUpdated(ctx context.Context, payload mqcontracts.StatsUpdatedPayload)
}

type Service struct {
	store    Store
	cache    Cache
	notifier Notifier
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		loc:    time.Local,
		now:    time.Now,
		logger: logger,
	}
}

func (s *Service) WithCache(c Cache) *Service {
	s.cache = c
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

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

// Get returns the user's snapshot, recomputing it when it is missing, older
// than the newest log write, or calculated on an earlier day (the current
// streak may have lapsed since). Cached snapshots go through the same check.
func (s *Service) Get(ctx context.Context, userID string) (model.Statistics, error) {
	latest, err := s.store.LatestLogUpdate(ctx, userID)
	if err != nil {
		return model.Statistics{}, fmt.Errorf("latest log update: %w", err)
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, userID); ok && s.fresh(cached, latest) {
			return cached, nil
		}
	}

	snap, err := s.store.GetStatistics(ctx, userID)
	if err != nil && !errs.IsNotFound(err) {
		return model.Statistics{}, fmt.Errorf("get statistics: %w", err)
	}
	if err == nil && s.fresh(snap, latest) {
		if s.cache != nil {
			s.cache.Set(ctx, snap)
		}
		return snap, nil
	}

	snap, _, err = s.Recompute(ctx, userID, TriggerLazy)
	return snap, err
}

// Recompute rebuilds the snapshot from the user's logs, saves it and unlocks
// any achievements it now satisfies. It returns the newly unlocked ones.
func (s *Service) Recompute(ctx context.Context, userID, trigger string) (model.Statistics, []model.Achievement, error) {
	start := time.Now()
	log := logger.WithTrace(ctx, s.logger).With(zap.String("user_id", userID), zap.String("trigger", trigger))

	logs, err := s.store.ListAllDailyLogs(ctx, userID)
	if err != nil {
		return model.Statistics{}, nil, fmt.Errorf("list daily logs: %w", err)
	}
	completed, err := s.store.CountCompletedChallenges(ctx, userID)
	if err != nil {
		return model.Statistics{}, nil, fmt.Errorf("count completed challenges: %w", err)
	}

	now := s.now()
	snap := Compute(userID, logs, completed, now.In(s.loc).Format(model.DateLayout), now.UTC())
	if err := s.store.SaveStatistics(ctx, snap); err != nil {
		return model.Statistics{}, nil, fmt.Errorf("save statistics: %w", err)
	}

	unlocked, err := s.unlock(ctx, snap)
	if err != nil {
		// 快照已保存，成就下次重算时补发
		log.Warn("Failed to unlock achievements", zap.Error(err))
	}

	if s.cache != nil {
		s.cache.Set(ctx, snap)
	}
	if s.notifier != nil {
		s.notifier.StatsUpdated(ctx, payloadFor(snap, unlocked))
	}

	metrics.RecordStatsRecompute(trigger, time.Since(start))
	log.Debug("Statistics recomputed",
		zap.Int("current_streak", snap.CurrentStreak),
		zap.Int("longest_streak", snap.LongestStreak),
		zap.Int("total_logs", snap.TotalLogs),
		zap.Int("newly_unlocked", len(unlocked)),
	)
	return snap, unlocked, nil
}

// RecomputeAll recomputes every user with logs and returns how many succeeded.
func (s *Service) RecomputeAll(ctx context.Context, trigger string) (int, error) {
	users, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	done := 0
	for _, id := range users {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, _, err := s.Recompute(ctx, id, trigger); err != nil {
			s.logger.Error("Failed to recompute statistics", zap.String("user_id", id), zap.Error(err))
			continue
		}
		done++
	}
	s.logger.Info("Statistics recomputed for all users",
		zap.String("trigger", trigger),
		zap.Int("users", len(users)),
		zap.Int("succeeded", done),
	)
	return done, nil
}

func (s *Service) Achievements(ctx context.Context, userID string) ([]model.UserAchievement, error) {
	return s.store.ListUserAchievements(ctx, userID)
}

// DailyLogChanged recomputes inline; used when no worker consumes events.
func (s *Service) DailyLogChanged(ctx context.Context, log model.DailyLog, _ string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, log.UserID)
	}
	if _, _, err := s.Recompute(ctx, log.UserID, TriggerInline); err != nil {
		s.logger.Error("Inline statistics recompute failed", zap.String("user_id", log.UserID), zap.Error(err))
	}
}

// InvalidateCached drops the cached snapshot. API replicas register it when
// the worker owns recomputation, so the next Get goes back to the store.
func (s *Service) InvalidateCached(ctx context.Context, log model.DailyLog, _ string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, log.UserID)
	}
}

func (s *Service) unlock(ctx context.Context, snap model.Statistics) ([]model.Achievement, error) {
	catalogue, err := s.store.ListAchievements(ctx)
	if err != nil {
		return nil, err
	}
	have, err := s.store.ListUserAchievements(ctx, snap.UserID)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(have))
	for _, ua := range have {
		owned[ua.AchievementID] = true
	}

	newly := Unlockable(catalogue, snap, owned)
	if len(newly) == 0 {
		return nil, nil
	}
	ids := make([]string, len(newly))
	for i, a := range newly {
		ids[i] = a.ID
	}
	if err := s.store.UnlockAchievements(ctx, snap.UserID, ids, snap.LastCalculated); err != nil {
		return nil, err
	}
	metrics.AddAchievementsUnlocked(len(ids))
	return newly, nil
}

func (s *Service) fresh(snap model.Statistics, latest time.Time) bool {
	return !snap.LastCalculated.Before(latest) && s.sameDay(snap.LastCalculated)
}

func (s *Service) sameDay(t time.Time) bool {
	return t.In(s.loc).Format(model.DateLayout) == s.now().In(s.loc).Format(model.DateLayout)
}

func payloadFor(snap model.Statistics, unlocked []model.Achievement) mqcontracts.StatsUpdatedPayload {
	ids := make([]string, 0, len(unlocked))
	for _, a := range unlocked {
		ids = append(ids, a.ID)
	}
	return mqcontracts.StatsUpdatedPayload{
		UserID:         snap.UserID,
		CurrentStreak:  snap.CurrentStreak,
		LongestStreak:  snap.LongestStreak,
		TotalLogs:      snap.TotalLogs,
		NewlyUnlocked:  ids,
		LastCalculated: snap.LastCalculated,
	}
}
