package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "ironwill/contracts/mq"
	"ironwill/internal/errs"
	"ironwill/internal/handler"
	"ironwill/internal/httpserver"
	"ironwill/internal/logform"
	"ironwill/internal/model"
	"ironwill/internal/realtime"
	"ironwill/internal/repository/sqlite"
	"ironwill/internal/service/dailylog"
	"ironwill/internal/service/stats"
	"ironwill/pkg/util"
)

const secret = "client-test-secret"

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type env struct {
	srv   *httptest.Server
	hub   *realtime.Hub
	store *sqlite.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlite.New(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := zap.NewNop()
	clock := func() time.Time { return now }
	store.WithClock(clock)
	hub := realtime.NewHub(log)
	statsSvc := stats.NewService(store, log).WithLocation(time.UTC).WithClock(clock).WithNotifier(hub)
	logs := dailylog.NewService(store, log).WithLocation(time.UTC).WithClock(clock).WithListener(hub)

	srv := httptest.NewServer(httpserver.NewRouter(httpserver.Deps{
		Logs:       handler.NewLogHandler(logs, log),
		Challenges: handler.NewChallengeHandler(logs, log),
		Stats:      handler.NewStatsHandler(statsSvc, log),
		Realtime:   handler.NewRealtimeHandler(hub, log),
		JWTSecret:  secret,
		Logger:     log,
	}))
	t.Cleanup(srv.Close)
	return &env{srv: srv, hub: hub, store: store}
}

func (e *env) client(t *testing.T, userID string) *Client {
	t.Helper()
	tok, err := util.GenerateJWT(userID, "", secret, time.Hour)
	require.NoError(t, err)
	return New(e.srv.URL, tok, zap.NewNop())
}

func TestClientMapsErrorKinds(t *testing.T) {
	e := newEnv(t)
	c := e.client(t, "u1")
	ctx := context.Background()

	today, err := c.TodaysLog(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", today.Date)
	assert.Nil(t, today.Log)

	_, err = c.DeleteDailyLog(ctx, "missing")
	assert.True(t, errs.IsNotFound(err))

	_, err = c.UpsertDailyLog(ctx, model.UpsertInput{LogDate: "2025-03-10", ComplianceRating: 9})
	var v *errs.ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "compliance_rating", v.Field)
	assert.Contains(t, v.Reason, "between 1 and 5")

	_, err = New(e.srv.URL, "bad-token", nil).TodaysLog(ctx)
	require.Error(t, err)
	assert.False(t, errs.IsNotFound(err))
	assert.Contains(t, err.Error(), "401")
}

func TestClientTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, "", nil).DailyLogs(context.Background(), 30)
	assert.True(t, errs.IsTransient(err))

	unavailable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"temporarily unavailable, retry"}`))
	}))
	defer unavailable.Close()

	_, err = New(unavailable.URL, "", nil).Stats(context.Background())
	assert.True(t, errs.IsTransient(err))
}

func TestControllerOverHTTP(t *testing.T) {
	e := newEnv(t)
	c := e.client(t, "u1")
	ctx := context.Background()

	ch, err := e.store.CreateChallenge(ctx, model.Challenge{Title: "Meditate", Category: "mental", Difficulty: "easy", DurationDays: 10})
	require.NoError(t, err)
	uc, err := e.store.EnrollUser(ctx, "u1", ch.ID)
	require.NoError(t, err)

	form := logform.NewController(c).WithClock(func() time.Time { return now })
	require.NoError(t, form.Refresh(ctx))
	require.Len(t, form.Challenges().Data, 1)

	require.NoError(t, form.StartCreate())
	require.NoError(t, form.SetRating(4))
	require.NoError(t, form.ToggleChallenge(uc.ID))
	saved, err := form.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{uc.ID}, saved.CompletedChallenges)

	require.NotNil(t, form.Today().Data)
	assert.Equal(t, saved.ID, form.Today().Data.ID)
	assert.Len(t, form.Recent().Data, 1)

	got, err := c.GetDailyLog(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.ComplianceRating)

	snap, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalLogs)

	_, err = c.DeleteDailyLog(ctx, saved.ID)
	require.NoError(t, err)
	_, err = c.GetDailyLog(ctx, saved.ID)
	assert.True(t, errs.IsNotFound(err))
}

func TestWatchReceivesChanges(t *testing.T) {
	e := newEnv(t)
	c := e.client(t, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	msgs := make(chan realtime.Message, 4)
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, func(m realtime.Message) { msgs <- m }) }()

	require.Eventually(t, func() bool { return e.hub.Connections("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err := c.UpsertDailyLog(context.Background(), model.UpsertInput{LogDate: "2025-03-10", ComplianceRating: 5})
	require.NoError(t, err)

	select {
	case m := <-msgs:
		assert.Equal(t, mqcontracts.RoutingKeyDailyLogChanged, m.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no realtime message")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
