package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"ironwill/internal/model"
)

type StatsRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewStatsRepository(db *pgxpool.Pool, logger *zap.Logger) *StatsRepository {
	return &StatsRepository{db: db, logger: logger}
}

func (r *StatsRepository) GetStatistics(ctx context.Context, userID string) (model.Statistics, error) {
	query := `
        SELECT user_id, current_streak, longest_streak, total_logs, total_challenges_completed,
               perfect_days, average_compliance, last_calculated
        FROM user_statistics
        WHERE user_id = $1
    `
	var s model.Statistics
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&s.UserID,
		&s.CurrentStreak,
		&s.LongestStreak,
		&s.TotalLogs,
		&s.TotalChallengesCompleted,
		&s.PerfectDays,
		&s.AverageCompliance,
		&s.LastCalculated,
	)
	if err != nil {
		return model.Statistics{}, mapErr("user_statistics.get", err)
	}
	return s, nil
}

func (r *StatsRepository) SaveStatistics(ctx context.Context, s model.Statistics) error {
	query := `
        INSERT INTO user_statistics (user_id, current_streak, longest_streak, total_logs,
            total_challenges_completed, perfect_days, average_compliance, last_calculated)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (user_id) DO UPDATE SET
            current_streak             = EXCLUDED.current_streak,
            longest_streak             = EXCLUDED.longest_streak,
            total_logs                 = EXCLUDED.total_logs,
            total_challenges_completed = EXCLUDED.total_challenges_completed,
            perfect_days               = EXCLUDED.perfect_days,
            average_compliance         = EXCLUDED.average_compliance,
            last_calculated            = EXCLUDED.last_calculated
    `
	_, err := r.db.Exec(ctx, query,
		s.UserID,
		s.CurrentStreak,
		s.LongestStreak,
		s.TotalLogs,
		s.TotalChallengesCompleted,
		s.PerfectDays,
		s.AverageCompliance,
		s.LastCalculated,
	)
	if err != nil {
		r.logger.Error("Failed to save statistics", zap.String("user_id", s.UserID), zap.Error(err))
		return mapErr("user_statistics.save", err)
	}
	return nil
}

func (r *StatsRepository) ListAchievements(ctx context.Context) ([]model.Achievement, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, title, description, badge_icon, category, requirement_type, requirement_value
        FROM achievements
        ORDER BY requirement_type, requirement_value
    `)
	if err != nil {
		return nil, mapErr("achievements.list", err)
	}
	defer rows.Close()

	out := []model.Achievement{}
	for rows.Next() {
		var a model.Achievement
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.BadgeIcon, &a.Category,
			&a.RequirementType, &a.RequirementValue); err != nil {
			return nil, mapErr("achievements.list: scan", err)
		}
		out = append(out, a)
	}
	return out, mapErr("achievements.list", rows.Err())
}

func (r *StatsRepository) ListUserAchievements(ctx context.Context, userID string) ([]model.UserAchievement, error) {
	rows, err := r.db.Query(ctx, `
        SELECT ua.user_id, ua.achievement_id, ua.unlocked_at,
               a.title, a.description, a.badge_icon, a.category, a.requirement_type, a.requirement_value
        FROM user_achievements ua
        JOIN achievements a ON a.id = ua.achievement_id
        WHERE ua.user_id = $1
        ORDER BY ua.unlocked_at DESC, ua.achievement_id
    `, userID)
	if err != nil {
		return nil, mapErr("user_achievements.list", err)
	}
	defer rows.Close()

	out := []model.UserAchievement{}
	for rows.Next() {
		var ua model.UserAchievement
		a := &model.Achievement{}
		if err := rows.Scan(&ua.UserID, &ua.AchievementID, &ua.UnlockedAt,
			&a.Title, &a.Description, &a.BadgeIcon, &a.Category, &a.RequirementType, &a.RequirementValue); err != nil {
			return nil, mapErr("user_achievements.list: scan", err)
		}
		a.ID = ua.AchievementID
		ua.Achievement = a
		out = append(out, ua)
	}
	return out, mapErr("user_achievements.list", rows.Err())
}

// UnlockAchievements is idempotent per (user, achievement).
func (r *StatsRepository) UnlockAchievements(ctx context.Context, userID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
        INSERT INTO user_achievements (user_id, achievement_id, unlocked_at)
        SELECT $1, unnest($2::text[]), $3
        ON CONFLICT (user_id, achievement_id) DO NOTHING
    `, userID, ids, at)
	if err != nil {
		return mapErr("user_achievements.unlock", err)
	}
	r.logger.Info("Achievements unlocked", zap.String("user_id", userID), zap.Strings("achievement_ids", ids))
	return nil
}

// SeedAchievements upserts the catalogue.
func (r *StatsRepository) SeedAchievements(ctx context.Context, catalogue []model.Achievement) error {
	for _, a := range catalogue {
		_, err := r.db.Exec(ctx, `
            INSERT INTO achievements (id, title, description, badge_icon, category, requirement_type, requirement_value)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            ON CONFLICT (id) DO UPDATE SET
                title = EXCLUDED.title,
                description = EXCLUDED.description,
                badge_icon = EXCLUDED.badge_icon,
                category = EXCLUDED.category,
                requirement_type = EXCLUDED.requirement_type,
                requirement_value = EXCLUDED.requirement_value
        `, a.ID, a.Title, a.Description, a.BadgeIcon, a.Category, a.RequirementType, a.RequirementValue)
		if err != nil {
			return mapErr("achievements.seed", err)
		}
	}
	return nil
}

// ListUserIDs returns every user with at least one daily log.
func (r *StatsRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT user_id FROM daily_logs ORDER BY user_id`)
	if err != nil {
		return nil, mapErr("daily_logs.list_users", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapErr("daily_logs.list_users: scan", err)
		}
		ids = append(ids, id)
	}
	return ids, mapErr("daily_logs.list_users", rows.Err())
}
