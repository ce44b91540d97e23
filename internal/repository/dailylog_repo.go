package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontracts "ironwill/contracts/mq"
	"ironwill/internal/model"
	"ironwill/pkg/otel"
	"ironwill/pkg/outbox"
	"ironwill/pkg/trace"
)

const dailyLogColumns = `id::text, user_id, to_char(log_date, 'YYYY-MM-DD'), compliance_rating,
	journal_entry, mood, completed_challenges, created_at, updated_at`

type DailyLogRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewDailyLogRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *DailyLogRepository {
	return &DailyLogRepository{
		db:     db,
		outbox: outboxRepo,
		logger: logger,
	}
}

// UpsertDailyLog inserts or updates the (user, date) row and records a
// dailylog.changed outbox event in the same transaction. created reports
// whether a new row was inserted.
func (r *DailyLogRepository) UpsertDailyLog(ctx context.Context, in model.UpsertInput) (model.DailyLog, bool, error) {
	r.logger.Debug("Upserting daily log",
		zap.String("user_id", in.UserID),
		zap.String("log_date", in.LogDate),
	)

	ctx, span := otel.DBSpan(ctx, "postgresql", "upsert", "daily_logs")
	var err error
	defer func() { otel.EndDBSpan(span, err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return model.DailyLog{}, false, mapErr("daily_logs.upsert: begin", err)
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO daily_logs (id, user_id, log_date, compliance_rating, journal_entry, mood, completed_challenges)
        VALUES ($1, $2, $3::date, $4, $5, $6, $7)
        ON CONFLICT (user_id, log_date) DO UPDATE SET
            compliance_rating    = EXCLUDED.compliance_rating,
            journal_entry        = EXCLUDED.journal_entry,
            mood                 = EXCLUDED.mood,
            completed_challenges = EXCLUDED.completed_challenges,
            updated_at           = NOW()
        RETURNING ` + dailyLogColumns + `, (xmax = 0) AS inserted
    `

	var log model.DailyLog
	var created bool
	err = tx.QueryRow(ctx, query,
		uuid.NewString(),
		in.UserID,
		in.LogDate,
		in.ComplianceRating,
		in.JournalEntry,
		in.Mood,
		nonNil(in.CompletedChallenges),
	).Scan(append(scanTargets(&log), &created)...)
	if err != nil {
		r.logger.Error("Failed to upsert daily log", zap.Error(err))
		return model.DailyLog{}, false, mapErr("daily_logs.upsert", err)
	}

	change := mqcontracts.ChangeUpdated
	if created {
		change = mqcontracts.ChangeCreated
	}
	if err = r.recordChange(ctx, tx, log, change); err != nil {
		return model.DailyLog{}, false, mapErr("daily_logs.upsert: outbox", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return model.DailyLog{}, false, mapErr("daily_logs.upsert: commit", err)
	}

	r.logger.Info("Daily log upserted",
		zap.String("id", log.ID),
		zap.String("user_id", log.UserID),
		zap.String("log_date", log.LogDate),
		zap.Bool("created", created),
	)
	return log, created, nil
}

func (r *DailyLogRepository) GetDailyLogByDate(ctx context.Context, userID, logDate string) (model.DailyLog, error) {
	query := `SELECT ` + dailyLogColumns + ` FROM daily_logs WHERE user_id = $1 AND log_date = $2::date`

	var log model.DailyLog
	if err := r.db.QueryRow(ctx, query, userID, logDate).Scan(scanTargets(&log)...); err != nil {
		return model.DailyLog{}, mapErr("daily_logs.get_by_date", err)
	}
	return log, nil
}

func (r *DailyLogRepository) GetDailyLog(ctx context.Context, userID, id string) (model.DailyLog, error) {
	if _, err := uuid.Parse(id); err != nil {
		// 非法 uuid 直接视为不存在，避免 postgres 类型转换错误
		return model.DailyLog{}, mapErr("daily_logs.get", pgx.ErrNoRows)
	}
	query := `SELECT ` + dailyLogColumns + ` FROM daily_logs WHERE id = $1::uuid AND user_id = $2`

	var log model.DailyLog
	if err := r.db.QueryRow(ctx, query, id, userID).Scan(scanTargets(&log)...); err != nil {
		return model.DailyLog{}, mapErr("daily_logs.get", err)
	}
	return log, nil
}

// ListDailyLogs returns the newest limit logs by log_date.
func (r *DailyLogRepository) ListDailyLogs(ctx context.Context, userID string, limit int) ([]model.DailyLog, error) {
	r.logger.Debug("Listing daily logs", zap.String("user_id", userID), zap.Int("limit", limit))

	query := `
        SELECT ` + dailyLogColumns + `
        FROM daily_logs
        WHERE user_id = $1
        ORDER BY log_date DESC
        LIMIT $2
    `
	return r.queryLogs(ctx, "daily_logs.list", query, userID, limit)
}

// ListAllDailyLogs returns every log of the user, oldest first.
func (r *DailyLogRepository) ListAllDailyLogs(ctx context.Context, userID string) ([]model.DailyLog, error) {
	query := `
        SELECT ` + dailyLogColumns + `
        FROM daily_logs
        WHERE user_id = $1
        ORDER BY log_date ASC
    `
	return r.queryLogs(ctx, "daily_logs.list_all", query, userID)
}

// LatestLogUpdate returns the newest updated_at of the user's logs, or the zero time.
func (r *DailyLogRepository) LatestLogUpdate(ctx context.Context, userID string) (time.Time, error) {
	var latest *time.Time
	err := r.db.QueryRow(ctx, `SELECT MAX(updated_at) FROM daily_logs WHERE user_id = $1`, userID).Scan(&latest)
	if err != nil {
		return time.Time{}, mapErr("daily_logs.latest_update", err)
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return *latest, nil
}

// DeleteDailyLog removes the log and records a dailylog.changed event.
func (r *DailyLogRepository) DeleteDailyLog(ctx context.Context, userID, id string) (model.DailyLog, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.DailyLog{}, mapErr("daily_logs.delete", pgx.ErrNoRows)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return model.DailyLog{}, mapErr("daily_logs.delete: begin", err)
	}
	defer tx.Rollback(ctx)

	query := `DELETE FROM daily_logs WHERE id = $1::uuid AND user_id = $2 RETURNING ` + dailyLogColumns

	var log model.DailyLog
	if err := tx.QueryRow(ctx, query, id, userID).Scan(scanTargets(&log)...); err != nil {
		return model.DailyLog{}, mapErr("daily_logs.delete", err)
	}
	if err := r.recordChange(ctx, tx, log, mqcontracts.ChangeDeleted); err != nil {
		return model.DailyLog{}, mapErr("daily_logs.delete: outbox", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.DailyLog{}, mapErr("daily_logs.delete: commit", err)
	}

	r.logger.Info("Daily log deleted", zap.String("id", id), zap.String("user_id", userID))
	return log, nil
}

func (r *DailyLogRepository) recordChange(ctx context.Context, tx pgx.Tx, log model.DailyLog, change string) error {
	if r.outbox == nil {
		return nil
	}
	return outbox.InsertEventInTx(ctx, tx, r.outbox, "daily_log", log.ID, mqcontracts.RoutingKeyDailyLogChanged,
		mqcontracts.DailyLogChangedPayload{
			EventID:    uuid.NewString(),
			TraceID:    trace.FromContext(ctx),
			UserID:     log.UserID,
			LogID:      log.ID,
			LogDate:    log.LogDate,
			Change:     change,
			OccurredAt: time.Now().UTC(),
		})
}

func (r *DailyLogRepository) queryLogs(ctx context.Context, op, query string, args ...any) ([]model.DailyLog, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query daily logs", zap.String("op", op), zap.Error(err))
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	logs := []model.DailyLog{}
	for rows.Next() {
		var log model.DailyLog
		if err := rows.Scan(scanTargets(&log)...); err != nil {
			return nil, mapErr(op+": scan", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(op, err)
	}
	return logs, nil
}

func scanTargets(log *model.DailyLog) []any {
	return []any{
		&log.ID,
		&log.UserID,
		&log.LogDate,
		&log.ComplianceRating,
		&log.JournalEntry,
		&log.Mood,
		&log.CompletedChallenges,
		&log.CreatedAt,
		&log.UpdatedAt,
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
