package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"ironwill/internal/model"
)

type ChallengeRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewChallengeRepository(db *pgxpool.Pool, logger *zap.Logger) *ChallengeRepository {
	return &ChallengeRepository{db: db, logger: logger}
}

// ListActiveChallenges returns the user's active enrollments joined with their challenge.
func (r *ChallengeRepository) ListActiveChallenges(ctx context.Context, userID string) ([]model.UserChallenge, error) {
	r.logger.Debug("Listing active challenges", zap.String("user_id", userID))

	query := `
        SELECT uc.id::text, uc.user_id, uc.challenge_id::text, uc.status, uc.started_at,
               uc.completed_at, uc.target_completion,
               c.title, c.description, c.category, c.difficulty, c.duration_days, c.is_system, c.created_at
        FROM user_challenges uc
        JOIN challenges c ON c.id = uc.challenge_id
        WHERE uc.user_id = $1 AND uc.status = 'active'
        ORDER BY uc.started_at DESC
    `

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to list active challenges", zap.Error(err))
		return nil, mapErr("user_challenges.list_active", err)
	}
	defer rows.Close()

	out := []model.UserChallenge{}
	for rows.Next() {
		var uc model.UserChallenge
		c := &model.Challenge{}
		if err := rows.Scan(
			&uc.ID,
			&uc.UserID,
			&uc.ChallengeID,
			&uc.Status,
			&uc.StartedAt,
			&uc.CompletedAt,
			&uc.TargetCompletion,
			&c.Title,
			&c.Description,
			&c.Category,
			&c.Difficulty,
			&c.DurationDays,
			&c.IsSystem,
			&c.CreatedAt,
		); err != nil {
			return nil, mapErr("user_challenges.list_active: scan", err)
		}
		c.ID = uc.ChallengeID
		uc.Challenge = c
		out = append(out, uc)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("user_challenges.list_active", err)
	}

	r.logger.Debug("Listed active challenges", zap.String("user_id", userID), zap.Int("count", len(out)))
	return out, nil
}

func (r *ChallengeRepository) CountCompletedChallenges(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_challenges WHERE user_id = $1 AND status = 'completed'`, userID,
	).Scan(&n)
	if err != nil {
		return 0, mapErr("user_challenges.count_completed", err)
	}
	return n, nil
}
