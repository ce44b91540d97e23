package logform

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ironwill/internal/errs"
	"ironwill/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memAPI keeps logs in memory with the same (date) upsert semantics as the store.
type memAPI struct {
	mu         sync.Mutex
	today      string
	logs       map[string]model.DailyLog // by date
	challenges []model.UserChallenge
	seq        int

	failUpsert error
	failList   error
	hideDate   bool // 模拟不回传日期的旧服务端
	upserts    []model.UpsertInput
}

func newMemAPI(today string) *memAPI {
	return &memAPI{today: today, logs: map[string]model.DailyLog{}}
}

func (a *memAPI) TodaysLog(context.Context) (model.TodayLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := model.TodayLog{Date: a.today}
	if a.hideDate {
		out.Date = ""
	}
	if log, ok := a.logs[a.today]; ok {
		out.Log = &log
	}
	return out, nil
}

func (a *memAPI) DailyLogs(_ context.Context, limit int) ([]model.DailyLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failList != nil {
		return nil, a.failList
	}
	out := []model.DailyLog{}
	for _, l := range a.logs {
		out = append(out, l)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *memAPI) ActiveChallenges(context.Context) ([]model.UserChallenge, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.challenges, nil
}

func (a *memAPI) UpsertDailyLog(_ context.Context, in model.UpsertInput) (model.DailyLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.upserts = append(a.upserts, in)
	if a.failUpsert != nil {
		return model.DailyLog{}, a.failUpsert
	}
	log, ok := a.logs[in.LogDate]
	if !ok {
		a.seq++
		log = model.DailyLog{ID: "log-" + string(rune('0'+a.seq)), UserID: "u1", LogDate: in.LogDate}
	}
	log.ComplianceRating = in.ComplianceRating
	log.JournalEntry = in.JournalEntry
	log.Mood = in.Mood
	log.CompletedChallenges = in.CompletedChallenges
	a.logs[in.LogDate] = log
	return log, nil
}

func (a *memAPI) put(log model.DailyLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs[log.LogDate] = log
}

func (a *memAPI) remove(date string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.logs, date)
}

func newController(t *testing.T, api *memAPI) *Controller {
	t.Helper()
	now := time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)
	c := NewController(api).WithClock(func() time.Time { return now })
	require.NoError(t, c.Refresh(context.Background()))
	return c
}

func TestCreateScenario(t *testing.T) {
	api := newMemAPI("2025-03-10")
	c := newController(t, api)

	require.Equal(t, Ready, c.Today().Status)
	require.Nil(t, c.Today().Data)

	require.NoError(t, c.StartCreate())
	want := Draft{LogDate: "2025-03-10", ComplianceRating: 5, CompletedChallenges: []string{}}
	if diff := cmp.Diff(want, c.Draft()); diff != "" {
		t.Errorf("default draft (-want +got):\n%s", diff)
	}

	require.NoError(t, c.SetRating(4))
	require.NoError(t, c.SetMood(model.MoodOkay))
	require.NoError(t, c.SetJournal("Good day"))

	saved, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.False(t, c.Editing())
	assert.NoError(t, c.Banner())

	require.Equal(t, Ready, c.Today().Status)
	require.NotNil(t, c.Today().Data)
	assert.Equal(t, saved.ID, c.Today().Data.ID)
	assert.Equal(t, 4, c.Today().Data.ComplianceRating)
	assert.Equal(t, "okay", c.Today().Data.Mood)
	assert.Equal(t, "Good day", c.Today().Data.JournalEntry)

	assert.ErrorIs(t, c.StartCreate(), ErrAlreadyLogged)
}

func TestCreateUsesServerDateNotLocalClock(t *testing.T) {
	api := newMemAPI("2025-03-10")
	yesterday := model.DailyLog{ID: "y", UserID: "u1", LogDate: "2025-03-09", ComplianceRating: 2, JournalEntry: "precious journal"}
	api.put(yesterday)

	// 同一时刻，客户端在 UTC-14 仍是 3 月 9 日
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC).In(time.FixedZone("UTC-14", -14*3600))
	c := NewController(api).WithClock(func() time.Time { return now })
	require.NoError(t, c.Refresh(context.Background()))

	assert.Equal(t, "2025-03-10", c.TodayDate())
	require.NoError(t, c.StartCreate())
	assert.Equal(t, "2025-03-10", c.Draft().LogDate)
	require.NoError(t, c.SetRating(5))
	require.NoError(t, c.SetJournal("new day"))

	saved, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", saved.LogDate)
	assert.NotEqual(t, yesterday.ID, saved.ID)

	require.Len(t, api.upserts, 1)
	assert.Equal(t, "2025-03-10", api.upserts[0].LogDate)
	if diff := cmp.Diff(yesterday, api.logs["2025-03-09"]); diff != "" {
		t.Errorf("yesterday's log changed (-want +got):\n%s", diff)
	}
	require.NotNil(t, c.Today().Data)
	assert.Equal(t, saved.ID, c.Today().Data.ID)
}

func TestCreateFallsBackToConfiguredLocation(t *testing.T) {
	api := newMemAPI("2025-03-10")
	api.hideDate = true
	api.put(model.DailyLog{ID: "y", LogDate: "2025-03-09", ComplianceRating: 2, JournalEntry: "precious journal"})

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	c := NewController(api).
		WithClock(func() time.Time { return now }).
		WithLocation(time.FixedZone("UTC-14", -14*3600))
	require.NoError(t, c.Refresh(context.Background()))

	assert.Equal(t, "2025-03-09", c.TodayDate())
	assert.ErrorIs(t, c.StartCreate(), ErrAlreadyLogged)
	assert.False(t, c.Editing())
	assert.Empty(t, api.upserts)

	c.WithLocation(time.UTC)
	assert.Equal(t, "2025-03-10", c.TodayDate())
	require.NoError(t, c.StartCreate())
	assert.Equal(t, "2025-03-10", c.Draft().LogDate)
}

func TestEditTodayKeepsSameRow(t *testing.T) {
	api := newMemAPI("2025-03-10")
	api.put(model.DailyLog{ID: "today", LogDate: "2025-03-10", ComplianceRating: 3, JournalEntry: "meh", Mood: "okay"})
	c := newController(t, api)

	c.StartEdit(*c.Today().Data)
	assert.Equal(t, 3, c.Draft().ComplianceRating)
	require.NoError(t, c.SetMood(model.MoodDifficult))

	saved, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "today", saved.ID)
	assert.Equal(t, "difficult", saved.Mood)
	assert.Equal(t, "meh", saved.JournalEntry)
	assert.Equal(t, 3, saved.ComplianceRating)
	assert.Empty(t, c.Notice())
}

func TestEditHistoricalLogWritesItsOwnDate(t *testing.T) {
	api := newMemAPI("2025-03-10")
	api.put(model.DailyLog{ID: "old", LogDate: "2025-03-02", ComplianceRating: 2})
	c := newController(t, api)

	c.StartEdit(c.Recent().Data[0])
	require.NoError(t, c.SetRating(5))
	_, err := c.Submit(context.Background())
	require.NoError(t, err)

	require.Len(t, api.upserts, 1)
	assert.Equal(t, "2025-03-02", api.upserts[0].LogDate)
	assert.Nil(t, c.Today().Data, "today must not be written")
}

func TestEditThenCancelLeavesStoreUntouched(t *testing.T) {
	api := newMemAPI("2025-03-10")
	orig := model.DailyLog{ID: "today", LogDate: "2025-03-10", ComplianceRating: 3}
	api.put(orig)
	c := newController(t, api)

	c.StartEdit(orig)
	require.NoError(t, c.SetRating(1))
	c.Cancel()

	assert.False(t, c.Editing())
	assert.Empty(t, api.upserts)
	got, err := api.TodaysLog(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got.Log)
	assert.Equal(t, orig, *got.Log)

	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNotEditing)
}

func TestInvalidFieldsLeaveDraftUntouched(t *testing.T) {
	c := newController(t, newMemAPI("2025-03-10"))
	require.NoError(t, c.StartCreate())
	before := c.Draft()

	for _, r := range []int{0, 6, -1} {
		assert.True(t, errs.IsValidation(c.SetRating(r)), "rating %d", r)
	}
	assert.True(t, errs.IsValidation(c.SetMood("ecstatic")))
	assert.True(t, errs.IsValidation(c.ToggleChallenge("unknown")))

	if diff := cmp.Diff(before, c.Draft()); diff != "" {
		t.Errorf("draft changed (-before +after):\n%s", diff)
	}
}

func TestChecklistFlowsIntoPayload(t *testing.T) {
	api := newMemAPI("2025-03-10")
	api.challenges = []model.UserChallenge{{ID: "uc1", ChallengeID: "c1"}, {ID: "uc2", ChallengeID: "c2"}}
	c := newController(t, api)

	require.NoError(t, c.StartCreate())
	require.NoError(t, c.ToggleChallenge("uc1"))
	require.NoError(t, c.ToggleChallenge("uc2"))
	require.NoError(t, c.ToggleChallenge("uc1"))
	assert.True(t, c.Draft().Has("uc2"))
	assert.False(t, c.Draft().Has("uc1"))

	_, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"uc2"}, api.upserts[0].CompletedChallenges)
}

func TestEditKeepsRecordedChallengeToggleable(t *testing.T) {
	api := newMemAPI("2025-03-10")
	log := model.DailyLog{ID: "old", LogDate: "2025-03-01", ComplianceRating: 4, CompletedChallenges: []string{"finished"}}
	api.put(log)
	c := newController(t, api)

	c.StartEdit(log)
	require.NoError(t, c.ToggleChallenge("finished"))
	require.NoError(t, c.ToggleChallenge("finished"))
	assert.True(t, c.Draft().Has("finished"))
}

func TestSubmitFailureKeepsDraftAndShowsBanner(t *testing.T) {
	api := newMemAPI("2025-03-10")
	api.failUpsert = errs.Transient("POST /logs", errors.New("connection refused"))
	c := newController(t, api)

	require.NoError(t, c.StartCreate())
	require.NoError(t, c.SetRating(2))
	draft := c.Draft()

	_, err := c.Submit(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsTransient(c.Banner()))
	assert.True(t, c.Creating())
	assert.Equal(t, draft, c.Draft())

	api.failUpsert = nil
	_, err = c.Submit(context.Background())
	require.NoError(t, err)
	assert.NoError(t, c.Banner())
}

func TestEditOfDeletedLogSetsNotice(t *testing.T) {
	api := newMemAPI("2025-03-10")
	orig := model.DailyLog{ID: "gone", LogDate: "2025-03-05", ComplianceRating: 3}
	api.put(orig)
	c := newController(t, api)

	c.StartEdit(orig)
	api.remove("2025-03-05")

	saved, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "gone", saved.ID)
	assert.Contains(t, c.Notice(), "2025-03-05")
}

func TestRefreshDistinguishesEmptyFromFailed(t *testing.T) {
	api := newMemAPI("2025-03-10")
	api.failList = errors.New("backend down")
	c := NewController(api)

	assert.Equal(t, Loading, c.Recent().Status)
	err := c.Refresh(context.Background())
	require.Error(t, err)

	assert.Equal(t, Failed, c.Recent().Status)
	assert.Error(t, c.Recent().Err)
	assert.Equal(t, Ready, c.Today().Status)
	assert.Nil(t, c.Today().Data)
	assert.Equal(t, Ready, c.Challenges().Status)
	assert.Empty(t, c.Challenges().Data)
}
