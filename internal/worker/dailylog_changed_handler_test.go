package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "ironwill/contracts/mq"
	"ironwill/internal/errs"
	"ironwill/internal/model"
	"ironwill/pkg/mq"
)

type fakeDeduper struct {
	seen     map[string]bool
	released []string
}

func (d *fakeDeduper) AcquireOnce(_ context.Context, handler, eventID string) bool {
	key := handler + ":" + eventID
	if d.seen[key] {
		return false
	}
	d.seen[key] = true
	return true
}

func (d *fakeDeduper) Release(_ context.Context, handler, eventID string) {
	delete(d.seen, handler+":"+eventID)
	d.released = append(d.released, eventID)
}

type fakeCounter struct{ counts map[string]int64 }

func (c *fakeCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	c.counts[key]++
	return c.counts[key], nil
}

func (c *fakeCounter) Reset(_ context.Context, key string) error {
	delete(c.counts, key)
	return nil
}

type fakeStats struct {
	err   error
	users []string
}

func (s *fakeStats) Recompute(_ context.Context, userID, _ string) (model.Statistics, []model.Achievement, error) {
	if s.err != nil {
		return model.Statistics{}, nil, s.err
	}
	s.users = append(s.users, userID)
	return model.Statistics{UserID: userID}, nil, nil
}

func newHandler(stats *fakeStats) (*DailyLogChangedHandler, *fakeDeduper, *fakeCounter) {
	d := &fakeDeduper{seen: map[string]bool{}}
	c := &fakeCounter{counts: map[string]int64{}}
	return NewDailyLogChangedHandler(stats, "event", d, c, zap.NewNop()), d, c
}

func payload(t *testing.T, eventID string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(mqcontracts.DailyLogChangedPayload{
		EventID: eventID, UserID: "u1", LogID: "l1", LogDate: "2025-03-10", Change: mqcontracts.ChangeCreated,
	})
	require.NoError(t, err)
	return raw
}

func TestHandleRecomputesOncePerEvent(t *testing.T) {
	stats := &fakeStats{}
	h, _, _ := newHandler(stats)

	require.NoError(t, h.Handle(context.Background(), payload(t, "e1")))
	require.NoError(t, h.Handle(context.Background(), payload(t, "e1")))
	require.NoError(t, h.Handle(context.Background(), payload(t, "e2")))

	assert.Equal(t, []string{"u1", "u1"}, stats.users)
}

func TestHandleBadPayloadIsPermanent(t *testing.T) {
	h, _, _ := newHandler(&fakeStats{})

	err := h.Handle(context.Background(), json.RawMessage(`{not json`))
	var permanent *mq.PermanentError
	assert.ErrorAs(t, err, &permanent)

	err = h.Handle(context.Background(), json.RawMessage(`{"event_id":"e1"}`))
	assert.ErrorAs(t, err, &permanent)
}

func TestHandleTransientErrorRequeuesThenDeadLetters(t *testing.T) {
	stats := &fakeStats{err: errs.Transient("daily_logs.list_all", errors.New("connection refused"))}
	h, dedup, counter := newHandler(stats)
	ctx := context.Background()

	var permanent *mq.PermanentError
	for i := 0; i < maxRetries; i++ {
		err := h.Handle(ctx, payload(t, "e1"))
		require.Error(t, err)
		require.False(t, errors.As(err, &permanent), "attempt %d should requeue", i+1)
	}
	assert.Len(t, dedup.released, maxRetries)

	err := h.Handle(ctx, payload(t, "e1"))
	assert.ErrorAs(t, err, &permanent)
	assert.Empty(t, counter.counts)
}

func TestHandleNonRetryableErrorDeadLettersImmediately(t *testing.T) {
	stats := &fakeStats{err: errors.New("boom")}
	h, dedup, _ := newHandler(stats)

	err := h.Handle(context.Background(), payload(t, "e1"))
	var permanent *mq.PermanentError
	assert.ErrorAs(t, err, &permanent)
	assert.Empty(t, dedup.released)
}

func TestHandleWithoutRedisStillDeadLettersAfterMaxRetries(t *testing.T) {
	stats := &fakeStats{err: errs.Transient("daily_logs.list_all", errors.New("connection refused"))}
	h := NewDailyLogChangedHandler(stats, "event", nil, nil, zap.NewNop())
	ctx := context.Background()

	var permanent *mq.PermanentError
	for i := 0; i < maxRetries; i++ {
		err := h.Handle(ctx, payload(t, "e1"))
		require.Error(t, err)
		require.False(t, errors.As(err, &permanent), "attempt %d should requeue", i+1)
	}
	require.ErrorAs(t, h.Handle(ctx, payload(t, "e1")), &permanent)

	// 死信后计数清零，同一事件重放时重新获得重试预算
	err := h.Handle(ctx, payload(t, "e1"))
	require.Error(t, err)
	assert.False(t, errors.As(err, &permanent))
}

type brokenCounter struct{}

func (brokenCounter) IncrementAndGet(context.Context, string) (int64, error) {
	return 0, errors.New("redis: connection refused")
}

func (brokenCounter) Reset(context.Context, string) error { return nil }

func TestHandleFallsBackWhenCounterFails(t *testing.T) {
	stats := &fakeStats{err: errs.Transient("daily_logs.list_all", errors.New("connection refused"))}
	h := NewDailyLogChangedHandler(stats, "event", nil, brokenCounter{}, zap.NewNop())
	ctx := context.Background()

	var permanent *mq.PermanentError
	for i := 0; i < maxRetries; i++ {
		require.False(t, errors.As(h.Handle(ctx, payload(t, "e1")), &permanent))
	}
	assert.ErrorAs(t, h.Handle(ctx, payload(t, "e1")), &permanent)
}
