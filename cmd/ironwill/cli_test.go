package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ironwill/internal/handler"
	"ironwill/internal/httpserver"
	"ironwill/internal/logform"
	"ironwill/internal/repository/sqlite"
	"ironwill/internal/service/dailylog"
	"ironwill/internal/service/stats"
	"ironwill/pkg/util"
)

const cliSecret = "cli-test-secret"

func newServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlite.New(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := zap.NewNop()
	statsSvc := stats.NewService(store, log).WithLocation(time.Local)
	logs := dailylog.NewService(store, log).WithLocation(time.Local).WithListener(statsSvc)

	srv := httptest.NewServer(httpserver.NewRouter(httpserver.Deps{
		Logs:       handler.NewLogHandler(logs, log),
		Challenges: handler.NewChallengeHandler(logs, log),
		Stats:      handler.NewStatsHandler(statsSvc, log),
		JWTSecret:  cliSecret,
		Logger:     log,
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, url string, args ...string) (string, string, error) {
	t.Helper()
	tok, err := util.GenerateJWT("cli-user", "", cliSecret, time.Hour)
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--api", url, "--token", tok}, args...))
	err = cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestLogThenEditToday(t *testing.T) {
	url := newServer(t)
	today := time.Now().Format("2006-01-02")

	out, _, err := run(t, url, "today")
	require.NoError(t, err)
	assert.Contains(t, out, "No log for today ("+today+")")

	out, _, err = run(t, url, "log", "--rating", "4", "--mood", "great", "--journal", "cold shower")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved log for "+today)
	assert.Contains(t, out, "★★★★☆")

	_, _, err = run(t, url, "log", "--rating", "3")
	require.ErrorIs(t, err, logform.ErrAlreadyLogged)
	assert.Contains(t, err.Error(), "ironwill edit "+today)

	out, _, err = run(t, url, "edit", today, "--rating", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "★★★★★")
	assert.Contains(t, out, "cold shower")

	out, _, err = run(t, url, "history")
	require.NoError(t, err)
	assert.Contains(t, out, today)

	out, _, err = run(t, url, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total logs")
	assert.Contains(t, out, "perfect days")
}

func TestLogRejectsBadRating(t *testing.T) {
	url := newServer(t)

	_, _, err := run(t, url, "log", "--rating", "9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compliance_rating")

	out, _, err := run(t, url, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No logs yet.")
}

func TestEditUnknownDate(t *testing.T) {
	url := newServer(t)

	_, _, err := run(t, url, "edit", "2020-01-01", "--rating", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2020-01-01")
}

func TestMissingToken(t *testing.T) {
	t.Setenv("IRONWILL_TOKEN", "")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--api", "http://127.0.0.1:1", "today"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing token")
}
