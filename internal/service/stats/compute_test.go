package stats

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"ironwill/internal/model"
)

func TestComputeStreaks(t *testing.T) {
	cases := []struct {
		name             string
		dates            []string
		today            string
		current, longest int
	}{
		{"no logs", nil, "2025-03-10", 0, 0},
		{"only today", []string{"2025-03-10"}, "2025-03-10", 1, 1},
		{"ends yesterday", []string{"2025-03-07", "2025-03-08", "2025-03-09"}, "2025-03-10", 3, 3},
		{"lapsed", []string{"2025-03-01", "2025-03-02"}, "2025-03-10", 0, 2},
		{"gap resets current", []string{"2025-03-01", "2025-03-02", "2025-03-03", "2025-03-09", "2025-03-10"}, "2025-03-10", 2, 3},
		{"unordered with duplicates", []string{"2025-03-10", "2025-03-09", "2025-03-10", "2025-03-08"}, "2025-03-10", 3, 3},
		{"across month end", []string{"2025-02-27", "2025-02-28", "2025-03-01"}, "2025-03-01", 3, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			current, longest := ComputeStreaks(tc.dates, tc.today)
			assert.Equal(t, tc.current, current, "current")
			assert.Equal(t, tc.longest, longest, "longest")
		})
	}
}

func TestCompute(t *testing.T) {
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	logs := []model.DailyLog{
		{LogDate: "2025-03-08", ComplianceRating: 5},
		{LogDate: "2025-03-09", ComplianceRating: 3},
		{LogDate: "2025-03-10", ComplianceRating: 5},
	}

	got := Compute("u1", logs, 2, "2025-03-10", at)
	want := model.Statistics{
		UserID:                   "u1",
		CurrentStreak:            3,
		LongestStreak:            3,
		TotalLogs:                3,
		TotalChallengesCompleted: 2,
		PerfectDays:              2,
		AverageCompliance:        4.33,
		LastCalculated:           at,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Compute mismatch (-want +got):\n%s", diff)
	}

	empty := Compute("u1", nil, 0, "2025-03-10", at)
	assert.Zero(t, empty.TotalLogs)
	assert.Zero(t, empty.AverageCompliance)
}

func TestUnlockableSkipsOwnedAndUnmet(t *testing.T) {
	s := model.Statistics{LongestStreak: 8, TotalLogs: 8, PerfectDays: 1}
	got := Unlockable(model.DefaultAchievements, s, map[string]bool{"first-log": true})

	var ids []string
	for _, a := range got {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"week-streak"}, ids)
}
