package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"ironwill/internal/errs"
	"ironwill/pkg/outbox"
	"ironwill/pkg/util"
)

// Store bundles the postgres repositories behind the method sets the
// services depend on.
type Store struct {
	*DailyLogRepository
	*ChallengeRepository
	*StatsRepository

	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *Store {
	return &Store{
		DailyLogRepository:  NewDailyLogRepository(db, outboxRepo, logger),
		ChallengeRepository: NewChallengeRepository(db, logger),
		StatsRepository:     NewStatsRepository(db, logger),
		db:                  db,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// mapErr translates driver errors into the shared error kinds.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}
	if retry, _ := util.IsRetryableError(err); retry {
		return errs.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
