package stats

import (
	"math"
	"sort"
	"time"

	"ironwill/internal/model"
)

// ComputeStreaks takes logged calendar dates (any order, duplicates allowed)
// and returns the current streak and the longest run of consecutive days.
// The current streak counts back from today, or from yesterday when today
// has not been logged yet; otherwise it is 0.
func ComputeStreaks(dates []string, today string) (current, longest int) {
	days := parseDays(dates)
	if len(days) == 0 {
		return 0, 0
	}

	run := 1
	longest = 1
	for i := 1; i < len(days); i++ {
		if days[i].Sub(days[i-1]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	t, err := time.Parse(model.DateLayout, today)
	if err != nil {
		return 0, longest
	}
	last := days[len(days)-1]
	if !last.Equal(t) && !last.Equal(t.AddDate(0, 0, -1)) {
		return 0, longest
	}

	current = 1
	for i := len(days) - 1; i > 0; i-- {
		if days[i].Sub(days[i-1]) != 24*time.Hour {
			break
		}
		current++
	}
	return current, longest
}

// Compute builds a statistics snapshot from the user's logs.
func Compute(userID string, logs []model.DailyLog, completedChallenges int, today string, at time.Time) model.Statistics {
	s := model.Statistics{
		UserID:                   userID,
		TotalLogs:                len(logs),
		TotalChallengesCompleted: completedChallenges,
		LastCalculated:           at,
	}
	if len(logs) == 0 {
		return s
	}

	dates := make([]string, 0, len(logs))
	sum := 0
	for _, l := range logs {
		dates = append(dates, l.LogDate)
		sum += l.ComplianceRating
		if l.ComplianceRating == model.MaxComplianceRating {
			s.PerfectDays++
		}
	}
	s.CurrentStreak, s.LongestStreak = ComputeStreaks(dates, today)
	s.AverageCompliance = math.Round(float64(sum)/float64(len(logs))*100) / 100
	return s
}

// Unlockable returns the achievements s satisfies that are not in owned.
func Unlockable(catalogue []model.Achievement, s model.Statistics, owned map[string]bool) []model.Achievement {
	var out []model.Achievement
	for _, a := range catalogue {
		if owned[a.ID] {
			continue
		}
		if progress(a.RequirementType, s) >= a.RequirementValue {
			out = append(out, a)
		}
	}
	return out
}

func progress(requirement string, s model.Statistics) int {
	switch requirement {
	case model.RequirementStreakDays:
		return s.LongestStreak
	case model.RequirementTotalLogs:
		return s.TotalLogs
	case model.RequirementChallengesCompleted:
		return s.TotalChallengesCompleted
	case model.RequirementPerfectDays:
		return s.PerfectDays
	default:
		return 0
	}
}

func parseDays(dates []string) []time.Time {
	seen := make(map[string]bool, len(dates))
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if seen[d] {
			continue
		}
		t, err := time.Parse(model.DateLayout, d)
		if err != nil {
			continue
		}
		seen[d] = true
		days = append(days, t)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
