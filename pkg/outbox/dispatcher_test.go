package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ironwill/pkg/circuitbreaker"
	"ironwill/pkg/trace"
)

type memStore struct {
	mu     sync.Mutex
	events map[int64]*Event
}

func newMemStore(events ...*Event) *memStore {
	s := &memStore{events: map[int64]*Event{}}
	for _, e := range events {
		if e.Status == "" {
			e.Status = StatusPending
		}
		s.events[e.ID] = e
	}
	return s
}

func (s *memStore) GetPendingEvents(_ context.Context, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for id := int64(1); id <= int64(len(s.events)) && len(out) < limit; id++ {
		if e := s.events[id]; e != nil && e.Status == StatusPending {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) MarkAsSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[id].Status = StatusSent
	return nil
}

func (s *memStore) MarkAsFailed(_ context.Context, id int64, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.events[id]
	e.RetryCount++
	if e.RetryCount >= maxRetries {
		e.Status = StatusFailed
	}
	return nil
}

func (s *memStore) GetEventByID(_ context.Context, id int64) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[id]; ok {
		return e, nil
	}
	return nil, ErrEventNotFound
}

func (s *memStore) GetFailedEvents(_ context.Context, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for id := int64(1); id <= int64(len(s.events)); id++ {
		if e := s.events[id]; e != nil && e.Status == StatusFailed && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	fail     error
	keys     []string
	traceIDs []string
}

func (p *recordingPublisher) PublishRaw(ctx context.Context, routingKey string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.keys = append(p.keys, routingKey)
	p.traceIDs = append(p.traceIDs, trace.FromContext(ctx))
	return nil
}

func event(id int64, key string) *Event {
	return &Event{ID: id, RoutingKey: key, Payload: []byte(`{"trace_id":"t-` + key + `"}`)}
}

func TestDispatcherPublishesPendingEvents(t *testing.T) {
	store := newMemStore(event(1, "dailylog.changed"), event(2, "stats.updated"))
	pub := &recordingPublisher{}

	sent := NewDispatcher(store, pub, zap.NewNop()).ProcessPending(context.Background())

	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"dailylog.changed", "stats.updated"}, pub.keys)
	assert.Equal(t, []string{"t-dailylog.changed", "t-stats.updated"}, pub.traceIDs)
	assert.Equal(t, StatusSent, store.events[1].Status)
	assert.Equal(t, StatusSent, store.events[2].Status)
}

func TestDispatcherMarksFailuresUntilMaxRetries(t *testing.T) {
	store := newMemStore(event(1, "dailylog.changed"))
	pub := &recordingPublisher{fail: errors.New("channel closed")}
	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 100, Timeout: time.Minute}, nil)
	d := NewDispatcher(store, pub, zap.NewNop()).WithMaxRetries(2).WithBreaker(breaker)

	d.ProcessPending(context.Background())
	assert.Equal(t, StatusPending, store.events[1].Status)
	d.ProcessPending(context.Background())
	assert.Equal(t, StatusFailed, store.events[1].Status)
	assert.Equal(t, 2, store.events[1].RetryCount)
}

func TestDispatcherStopsWhenBreakerOpens(t *testing.T) {
	store := newMemStore(event(1, "a"), event(2, "b"), event(3, "c"))
	pub := &recordingPublisher{fail: errors.New("broker down")}
	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Minute}, nil)
	d := NewDispatcher(store, pub, zap.NewNop()).WithBreaker(breaker)

	assert.Zero(t, d.ProcessPending(context.Background()))

	// 第一条失败后熔断打开，其余事件未被计入重试
	assert.Equal(t, 1, store.events[1].RetryCount)
	assert.Zero(t, store.events[2].RetryCount)
	assert.Zero(t, store.events[3].RetryCount)
}

func TestReplayFailedEvents(t *testing.T) {
	failed := event(1, "dailylog.changed")
	failed.Status = StatusFailed
	store := newMemStore(failed, event(2, "other"))
	pub := &recordingPublisher{}

	n, err := NewReplayService(store, pub, zap.NewNop()).ReplayFailedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusSent, store.events[1].Status)
	assert.Equal(t, StatusPending, store.events[2].Status)
}

func TestReplayUnknownEvent(t *testing.T) {
	err := NewReplayService(newMemStore(), &recordingPublisher{}, zap.NewNop()).ReplayEvent(context.Background(), 9)
	assert.ErrorIs(t, err, ErrEventNotFound)
}
