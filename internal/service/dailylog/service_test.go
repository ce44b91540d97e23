package dailylog

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "ironwill/contracts/mq"
	"ironwill/internal/errs"
	"ironwill/internal/model"
	"ironwill/internal/repository/sqlite"
)

type recorder struct {
	mu      sync.Mutex
	changes []string
}

func (r *recorder) DailyLogChanged(_ context.Context, log model.DailyLog, change string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, log.LogDate+":"+change)
}

func newTestService(t *testing.T) (*Service, *sqlite.Store, *recorder) {
	t.Helper()
	store, err := sqlite.New(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rec := &recorder{}
	clock := func() time.Time { return time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC) }
	svc := NewService(store, zap.NewNop()).WithClock(clock).WithLocation(time.UTC).WithListener(rec)
	return svc, store, rec
}

func TestUpsertKeepsOneRowPerDay(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()

	in := model.UpsertInput{UserID: "u1", LogDate: "2025-03-10", ComplianceRating: 4, Mood: "okay", JournalEntry: "Good day"}
	first, created, err := svc.Upsert(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := svc.Upsert(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.ComplianceRating, again.ComplianceRating)
	assert.Equal(t, first.JournalEntry, again.JournalEntry)
	assert.Equal(t, first.Mood, again.Mood)

	date, today, err := svc.Today(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", date)
	assert.Equal(t, first.ID, today.ID)

	logs, err := svc.List(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, []string{"2025-03-10:created", "2025-03-10:updated"}, rec.changes)
}

func TestUpsertRejectsInvalidInput(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()

	valid := model.UpsertInput{UserID: "u1", LogDate: "2025-03-10", ComplianceRating: 3}
	cases := []struct {
		name  string
		edit  func(in *model.UpsertInput)
		field string
	}{
		{"rating zero", func(in *model.UpsertInput) { in.ComplianceRating = 0 }, "compliance_rating"},
		{"rating six", func(in *model.UpsertInput) { in.ComplianceRating = 6 }, "compliance_rating"},
		{"rating negative", func(in *model.UpsertInput) { in.ComplianceRating = -1 }, "compliance_rating"},
		{"bad date format", func(in *model.UpsertInput) { in.LogDate = "10/03/2025" }, "log_date"},
		{"impossible date", func(in *model.UpsertInput) { in.LogDate = "2025-02-30" }, "log_date"},
		{"unpadded date", func(in *model.UpsertInput) { in.LogDate = "2025-3-10" }, "log_date"},
		{"unknown mood", func(in *model.UpsertInput) { in.Mood = "ecstatic" }, "mood"},
		{"journal too long", func(in *model.UpsertInput) { in.JournalEntry = strings.Repeat("é", model.MaxJournalRunes+1) }, "journal_entry"},
		{"inactive challenge", func(in *model.UpsertInput) { in.CompletedChallenges = []string{"ghost"} }, "completed_challenges"},
		{"missing user", func(in *model.UpsertInput) { in.UserID = "" }, "user_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.edit(&in)
			_, _, err := svc.Upsert(ctx, in)
			require.Error(t, err)

			var v *errs.ValidationError
			require.ErrorAs(t, err, &v)
			assert.Equal(t, tc.field, v.Field)
		})
	}

	date, _, err := svc.Today(ctx, "u1")
	assert.True(t, errs.IsNotFound(err))
	assert.Equal(t, "2025-03-10", date)
	assert.Empty(t, rec.changes)
}

func TestUpsertAcceptsEveryRatingInRange(t *testing.T) {
	svc, _, _ := newTestService(t)
	for r := model.MinComplianceRating; r <= model.MaxComplianceRating; r++ {
		saved, _, err := svc.Upsert(context.Background(), model.UpsertInput{UserID: "u1", LogDate: "2025-03-01", ComplianceRating: r})
		require.NoError(t, err)
		assert.Equal(t, r, saved.ComplianceRating)
	}
}

func TestUpsertAcceptsActiveChallengesAndDedupes(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	c, err := store.CreateChallenge(ctx, model.Challenge{Title: "No sugar", Category: "wellness", Difficulty: "medium", DurationDays: 21})
	require.NoError(t, err)
	uc, err := store.EnrollUser(ctx, "u1", c.ID)
	require.NoError(t, err)

	saved, _, err := svc.Upsert(ctx, model.UpsertInput{
		UserID: "u1", LogDate: "2025-03-10", ComplianceRating: 5,
		CompletedChallenges: []string{uc.ID, uc.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{uc.ID}, saved.CompletedChallenges)

	// 其他用户不能勾选该挑战
	_, _, err = svc.Upsert(ctx, model.UpsertInput{
		UserID: "u2", LogDate: "2025-03-10", ComplianceRating: 5, CompletedChallenges: []string{uc.ID},
	})
	assert.True(t, errs.IsValidation(err))
}

func TestTodayUsesConfiguredLocation(t *testing.T) {
	svc, _, _ := newTestService(t)
	tokyo := time.FixedZone("JST", 9*3600)

	assert.Equal(t, "2025-03-10", svc.TodayDate())
	assert.Equal(t, "2025-03-11", svc.WithLocation(tokyo).TodayDate())
}

func TestListNormalisesLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-5))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxLimit, NormalizeLimit(10_000))

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 35; i++ {
		d := start.AddDate(0, 0, i).Format(model.DateLayout)
		_, _, err := svc.Upsert(ctx, model.UpsertInput{UserID: "u1", LogDate: d, ComplianceRating: 5})
		require.NoError(t, err)
	}

	logs, err := svc.List(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, logs, 30)
	for i := 1; i < len(logs); i++ {
		assert.Greater(t, logs[i-1].LogDate, logs[i].LogDate)
	}
	assert.Equal(t, "2025-02-04", logs[0].LogDate)
}

func TestDeleteNotifiesAndMissingIsNotFound(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()

	saved, _, err := svc.Upsert(ctx, model.UpsertInput{UserID: "u1", LogDate: "2025-03-09", ComplianceRating: 2})
	require.NoError(t, err)

	_, err = svc.Delete(ctx, "u1", saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-09:"+mqcontracts.ChangeDeleted, rec.changes[len(rec.changes)-1])

	_, err = svc.Delete(ctx, "u1", saved.ID)
	assert.True(t, errs.IsNotFound(err))
	_, err = svc.Get(ctx, "u1", saved.ID)
	assert.True(t, errs.IsNotFound(err))
}

func TestUpsertKeepsChallengesAlreadyRecordedOnThatDay(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	c, err := store.CreateChallenge(ctx, model.Challenge{Title: "Run 5k", Category: "physical", Difficulty: "medium", DurationDays: 7})
	require.NoError(t, err)
	uc, err := store.EnrollUser(ctx, "u1", c.ID)
	require.NoError(t, err)

	_, _, err = svc.Upsert(ctx, model.UpsertInput{UserID: "u1", LogDate: "2025-03-08", ComplianceRating: 5, CompletedChallenges: []string{uc.ID}})
	require.NoError(t, err)
	require.NoError(t, store.SetEnrollmentStatus(ctx, uc.ID, model.ChallengeStatusCompleted))

	edited, _, err := svc.Upsert(ctx, model.UpsertInput{UserID: "u1", LogDate: "2025-03-08", ComplianceRating: 3, CompletedChallenges: []string{uc.ID}})
	require.NoError(t, err)
	assert.Equal(t, []string{uc.ID}, edited.CompletedChallenges)

	_, _, err = svc.Upsert(ctx, model.UpsertInput{UserID: "u1", LogDate: "2025-03-09", ComplianceRating: 3, CompletedChallenges: []string{uc.ID}})
	assert.True(t, errs.IsValidation(err))
}
