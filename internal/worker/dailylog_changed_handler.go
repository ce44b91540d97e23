// Package worker holds the message handlers run by cmd/worker.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "ironwill/contracts/mq"
	"ironwill/internal/model"
	"ironwill/pkg/logger"
	"ironwill/pkg/mq"
	"ironwill/pkg/trace"
	"ironwill/pkg/util"
)

const (
	handlerName = "stats-recompute"
	maxRetries  = 5
)

type Deduper interface {
	AcquireOnce(ctx context.Context, handler, eventID string) bool
	Release(ctx context.Context, handler, eventID string)
}

type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type Recomputer interface {
	Recompute(ctx context.Context, userID, trigger string) (model.Statistics, []model.Achievement, error)
}

// DailyLogChangedHandler recomputes the owner's statistics for every
// dailylog.changed event.
type DailyLogChangedHandler struct {
	stats        Recomputer
	trigger      string
	deduper      Deduper
	retryCounter RetryCounter
	fallback     RetryCounter // 进程内计数，Redis 不可用时保证重试有上限
	logger       *zap.Logger
}

// NewDailyLogChangedHandler wires the handler. deduper and retryCounter may
// be nil when Redis is not configured; retries are then counted in memory.
func NewDailyLogChangedHandler(stats Recomputer, trigger string, deduper Deduper, retryCounter RetryCounter, logger *zap.Logger) *DailyLogChangedHandler {
	return &DailyLogChangedHandler{
		stats:        stats,
		trigger:      trigger,
		deduper:      deduper,
		retryCounter: retryCounter,
		fallback:     util.NewMemoryRetryCounter(),
		logger:       logger,
	}
}

func (h *DailyLogChangedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var payload mqcontracts.DailyLogChangedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.Error("Invalid DailyLogChangedPayload, dead-lettering",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		return mq.Permanent(fmt.Errorf("bad_payload: %w", err))
	}
	if payload.UserID == "" || payload.EventID == "" {
		return mq.Permanent(errors.New("bad_payload: user_id and event_id are required"))
	}

	if payload.TraceID != "" && trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, payload.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("event_id", payload.EventID),
		zap.String("user_id", payload.UserID),
		zap.String("change", payload.Change),
	)

	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, handlerName, payload.EventID) {
		return nil
	}

	_, unlocked, err := h.stats.Recompute(ctx, payload.UserID, h.trigger)
	if err != nil {
		return h.handleError(ctx, log, payload.EventID, err)
	}

	h.resetRetries(ctx, util.FormatRetryKey(handlerName, payload.EventID))
	log.Info("Statistics recomputed from event", zap.Int("newly_unlocked", len(unlocked)))
	return nil
}

// handleError decides between requeue (plain error) and dead-letter (mq.Permanent).
func (h *DailyLogChangedHandler) handleError(ctx context.Context, log *zap.Logger, eventID string, err error) error {
	retryable, reason := util.IsRetryableError(err)

	key := util.FormatRetryKey(handlerName, eventID)
	count := h.incrementRetries(ctx, log, key)

	if !util.ShouldRetry(count, maxRetries, retryable) {
		log.Error("Recompute failed permanently",
			zap.String("reason", reason),
			zap.Int64("retry", count),
			zap.Error(err),
		)
		h.resetRetries(ctx, key)
		return mq.Permanent(fmt.Errorf("%s: %w", reason, err))
	}

	log.Warn("Recompute failed, will retry",
		zap.String("reason", reason),
		zap.Int64("retry", count),
		zap.Error(err),
	)
	if h.deduper != nil {
		h.deduper.Release(ctx, handlerName, eventID)
	}
	return fmt.Errorf("%s: %w", reason, err)
}

func (h *DailyLogChangedHandler) incrementRetries(ctx context.Context, log *zap.Logger, key string) int64 {
	if h.retryCounter != nil {
		n, err := h.retryCounter.IncrementAndGet(ctx, key)
		if err == nil {
			return n
		}
		log.Warn("Retry counter unavailable, counting in memory", zap.Error(err))
	}
	n, _ := h.fallback.IncrementAndGet(ctx, key)
	return n
}

func (h *DailyLogChangedHandler) resetRetries(ctx context.Context, key string) {
	if h.retryCounter != nil {
		_ = h.retryCounter.Reset(ctx, key)
	}
	_ = h.fallback.Reset(ctx, key)
}
