// Package sqlite is the single-file store used by local runs, the CLI's
// embedded mode and the tests. It mirrors the postgres repositories.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"ironwill/internal/errs"
	"ironwill/internal/model"
	"ironwill/pkg/util"
)

// fixed width so that TEXT ordering matches time ordering
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS challenges (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL,
	difficulty    TEXT NOT NULL,
	duration_days INTEGER NOT NULL CHECK (duration_days > 0),
	is_system     INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_challenges (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	challenge_id      TEXT NOT NULL REFERENCES challenges(id),
	status            TEXT NOT NULL DEFAULT 'active',
	started_at        TEXT NOT NULL,
	completed_at      TEXT,
	target_completion TEXT
);
CREATE INDEX IF NOT EXISTS idx_user_challenges_user_status ON user_challenges(user_id, status);

CREATE TABLE IF NOT EXISTS daily_logs (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	log_date             TEXT NOT NULL,
	compliance_rating    INTEGER NOT NULL CHECK (compliance_rating BETWEEN 1 AND 5),
	journal_entry        TEXT NOT NULL DEFAULT '',
	mood                 TEXT NOT NULL DEFAULT '',
	completed_challenges TEXT NOT NULL DEFAULT '[]',
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL,
	UNIQUE(user_id, log_date)
);

CREATE TABLE IF NOT EXISTS user_statistics (
	user_id                    TEXT PRIMARY KEY,
	current_streak             INTEGER NOT NULL DEFAULT 0,
	longest_streak             INTEGER NOT NULL DEFAULT 0,
	total_logs                 INTEGER NOT NULL DEFAULT 0,
	total_challenges_completed INTEGER NOT NULL DEFAULT 0,
	perfect_days               INTEGER NOT NULL DEFAULT 0,
	average_compliance         REAL NOT NULL DEFAULT 0,
	last_calculated            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS achievements (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	badge_icon        TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	requirement_type  TEXT NOT NULL,
	requirement_value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS user_achievements (
	user_id        TEXT NOT NULL,
	achievement_id TEXT NOT NULL REFERENCES achievements(id),
	unlocked_at    TEXT NOT NULL,
	PRIMARY KEY (user_id, achievement_id)
);
`

const dailyLogColumns = `id, user_id, log_date, compliance_rating, journal_entry, mood,
	completed_challenges, created_at, updated_at`

type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// New opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func New(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite 只允许单写者；内存库也依赖单连接
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.initialize(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite store opened", zap.String("path", path))
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	for _, a := range model.DefaultAchievements {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO achievements (id, title, description, badge_icon, category, requirement_type, requirement_value)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			a.ID, a.Title, a.Description, a.BadgeIcon, a.Category, a.RequirementType, a.RequirementValue)
		if err != nil {
			return fmt.Errorf("failed to seed achievements: %w", err)
		}
	}
	return nil
}

// WithClock replaces the timestamp source for created_at/updated_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(tsLayout)
}

// ===== daily logs =====

func (s *Store) UpsertDailyLog(ctx context.Context, in model.UpsertInput) (model.DailyLog, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DailyLog{}, false, mapErr("daily_logs.upsert: begin", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM daily_logs WHERE user_id = ? AND log_date = ?`, in.UserID, in.LogDate,
	).Scan(&existing)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return model.DailyLog{}, false, mapErr("daily_logs.upsert: lookup", err)
	}

	ids, err := json.Marshal(nonNil(in.CompletedChallenges))
	if err != nil {
		return model.DailyLog{}, false, fmt.Errorf("daily_logs.upsert: encode challenges: %w", err)
	}

	now := s.stamp()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_logs (id, user_id, log_date, compliance_rating, journal_entry, mood,
			completed_challenges, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, log_date) DO UPDATE SET
			compliance_rating    = excluded.compliance_rating,
			journal_entry        = excluded.journal_entry,
			mood                 = excluded.mood,
			completed_challenges = excluded.completed_challenges,
			updated_at           = excluded.updated_at`,
		uuid.NewString(), in.UserID, in.LogDate, in.ComplianceRating, in.JournalEntry, in.Mood,
		string(ids), now, now)
	if err != nil {
		s.logger.Error("Failed to upsert daily log", zap.Error(err))
		return model.DailyLog{}, false, mapErr("daily_logs.upsert", err)
	}

	log, err := scanLog(tx.QueryRowContext(ctx,
		`SELECT `+dailyLogColumns+` FROM daily_logs WHERE user_id = ? AND log_date = ?`, in.UserID, in.LogDate))
	if err != nil {
		return model.DailyLog{}, false, mapErr("daily_logs.upsert: reload", err)
	}
	if err := tx.Commit(); err != nil {
		return model.DailyLog{}, false, mapErr("daily_logs.upsert: commit", err)
	}

	s.logger.Debug("Daily log upserted",
		zap.String("id", log.ID),
		zap.String("user_id", log.UserID),
		zap.String("log_date", log.LogDate),
		zap.Bool("created", created),
	)
	return log, created, nil
}

func (s *Store) GetDailyLogByDate(ctx context.Context, userID, logDate string) (model.DailyLog, error) {
	log, err := scanLog(s.db.QueryRowContext(ctx,
		`SELECT `+dailyLogColumns+` FROM daily_logs WHERE user_id = ? AND log_date = ?`, userID, logDate))
	if err != nil {
		return model.DailyLog{}, mapErr("daily_logs.get_by_date", err)
	}
	return log, nil
}

func (s *Store) GetDailyLog(ctx context.Context, userID, id string) (model.DailyLog, error) {
	log, err := scanLog(s.db.QueryRowContext(ctx,
		`SELECT `+dailyLogColumns+` FROM daily_logs WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		return model.DailyLog{}, mapErr("daily_logs.get", err)
	}
	return log, nil
}

func (s *Store) ListDailyLogs(ctx context.Context, userID string, limit int) ([]model.DailyLog, error) {
	return s.queryLogs(ctx, "daily_logs.list",
		`SELECT `+dailyLogColumns+` FROM daily_logs WHERE user_id = ? ORDER BY log_date DESC LIMIT ?`,
		userID, limit)
}

func (s *Store) ListAllDailyLogs(ctx context.Context, userID string) ([]model.DailyLog, error) {
	return s.queryLogs(ctx, "daily_logs.list_all",
		`SELECT `+dailyLogColumns+` FROM daily_logs WHERE user_id = ? ORDER BY log_date ASC`, userID)
}

func (s *Store) LatestLogUpdate(ctx context.Context, userID string) (time.Time, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM daily_logs WHERE user_id = ?`, userID).Scan(&latest)
	if err != nil {
		return time.Time{}, mapErr("daily_logs.latest_update", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return parseTime(latest.String)
}

func (s *Store) DeleteDailyLog(ctx context.Context, userID, id string) (model.DailyLog, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DailyLog{}, mapErr("daily_logs.delete: begin", err)
	}
	defer tx.Rollback()

	log, err := scanLog(tx.QueryRowContext(ctx,
		`SELECT `+dailyLogColumns+` FROM daily_logs WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		return model.DailyLog{}, mapErr("daily_logs.delete", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_logs WHERE id = ?`, id); err != nil {
		return model.DailyLog{}, mapErr("daily_logs.delete", err)
	}
	if err := tx.Commit(); err != nil {
		return model.DailyLog{}, mapErr("daily_logs.delete: commit", err)
	}
	return log, nil
}

// ListUserIDs returns every user with at least one daily log.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM daily_logs ORDER BY user_id`)
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

func (s *Store) queryLogs(ctx context.Context, op, query string, args ...any) ([]model.DailyLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	logs := []model.DailyLog{}
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, mapErr(op+": scan", err)
		}
		logs = append(logs, log)
	}
	return logs, mapErr(op, rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLog(row scanner) (model.DailyLog, error) {
	var (
		log                  model.DailyLog
		ids                  string
		createdAt, updatedAt string
	)
	if err := row.Scan(&log.ID, &log.UserID, &log.LogDate, &log.ComplianceRating, &log.JournalEntry,
		&log.Mood, &ids, &createdAt, &updatedAt); err != nil {
		return model.DailyLog{}, err
	}
	if err := json.Unmarshal([]byte(ids), &log.CompletedChallenges); err != nil {
		return model.DailyLog{}, fmt.Errorf("decode completed_challenges: %w", err)
	}
	log.CompletedChallenges = nonNil(log.CompletedChallenges)

	var err error
	if log.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.DailyLog{}, err
	}
	if log.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.DailyLog{}, err
	}
	return log, nil
}

// ===== challenges =====

// CreateChallenge adds a catalogue entry and returns it with its generated id.
func (s *Store) CreateChallenge(ctx context.Context, c model.Challenge) (model.Challenge, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges (id, title, description, category, difficulty, duration_days, is_system, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Description, c.Category, c.Difficulty, c.DurationDays, c.IsSystem,
		c.CreatedAt.UTC().Format(tsLayout))
	if err != nil {
		return model.Challenge{}, mapErr("challenges.create", err)
	}
	return c, nil
}

// EnrollUser starts an active enrollment of userID in challengeID.
func (s *Store) EnrollUser(ctx context.Context, userID, challengeID string) (model.UserChallenge, error) {
	uc := model.UserChallenge{
		ID:          uuid.NewString(),
		UserID:      userID,
		ChallengeID: challengeID,
		Status:      model.ChallengeStatusActive,
		StartedAt:   s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_challenges (id, user_id, challenge_id, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		uc.ID, uc.UserID, uc.ChallengeID, uc.Status, uc.StartedAt.Format(tsLayout))
	if err != nil {
		return model.UserChallenge{}, mapErr("user_challenges.enroll", err)
	}
	return uc, nil
}

// SetEnrollmentStatus moves an enrollment to status; completed stamps completed_at.
func (s *Store) SetEnrollmentStatus(ctx context.Context, id, status string) error {
	var completedAt any
	if status == model.ChallengeStatusCompleted {
		completedAt = s.stamp()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_challenges SET status = ?, completed_at = ? WHERE id = ?`, status, completedAt, id)
	if err != nil {
		return mapErr("user_challenges.set_status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user_challenges.set_status: %w", errs.ErrNotFound)
	}
	return nil
}

func (s *Store) ListActiveChallenges(ctx context.Context, userID string) ([]model.UserChallenge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uc.id, uc.user_id, uc.challenge_id, uc.status, uc.started_at, uc.completed_at, uc.target_completion,
		       c.title, c.description, c.category, c.difficulty, c.duration_days, c.is_system, c.created_at
		FROM user_challenges uc
		JOIN challenges c ON c.id = uc.challenge_id
		WHERE uc.user_id = ? AND uc.status = 'active'
		ORDER BY uc.started_at DESC`, userID)
	if err != nil {
		return nil, mapErr("user_challenges.list_active", err)
	}
	defer rows.Close()

	out := []model.UserChallenge{}
	for rows.Next() {
		var (
			uc                         model.UserChallenge
			c                          model.Challenge
			startedAt, challengeCreate string
			completedAt, target        sql.NullString
		)
		if err := rows.Scan(&uc.ID, &uc.UserID, &uc.ChallengeID, &uc.Status, &startedAt, &completedAt, &target,
			&c.Title, &c.Description, &c.Category, &c.Difficulty, &c.DurationDays, &c.IsSystem, &challengeCreate); err != nil {
			return nil, mapErr("user_challenges.list_active: scan", err)
		}
		if uc.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(challengeCreate); err != nil {
			return nil, err
		}
		if uc.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		if uc.TargetCompletion, err = parseNullTime(target); err != nil {
			return nil, err
		}
		c.ID = uc.ChallengeID
		uc.Challenge = &c
		out = append(out, uc)
	}
	return out, mapErr("user_challenges.list_active", rows.Err())
}

func (s *Store) CountCompletedChallenges(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_challenges WHERE user_id = ? AND status = 'completed'`, userID).Scan(&n)
	if err != nil {
		return 0, mapErr("user_challenges.count_completed", err)
	}
	return n, nil
}

// ===== statistics & achievements =====

func (s *Store) GetStatistics(ctx context.Context, userID string) (model.Statistics, error) {
	var (
		st   model.Statistics
		last string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, current_streak, longest_streak, total_logs, total_challenges_completed,
		       perfect_days, average_compliance, last_calculated
		FROM user_statistics WHERE user_id = ?`, userID,
	).Scan(&st.UserID, &st.CurrentStreak, &st.LongestStreak, &st.TotalLogs, &st.TotalChallengesCompleted,
		&st.PerfectDays, &st.AverageCompliance, &last)
	if err != nil {
		return model.Statistics{}, mapErr("user_statistics.get", err)
	}
	if st.LastCalculated, err = parseTime(last); err != nil {
		return model.Statistics{}, err
	}
	return st, nil
}

func (s *Store) SaveStatistics(ctx context.Context, st model.Statistics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_statistics (user_id, current_streak, longest_streak, total_logs,
			total_challenges_completed, perfect_days, average_compliance, last_calculated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			current_streak             = excluded.current_streak,
			longest_streak             = excluded.longest_streak,
			total_logs                 = excluded.total_logs,
			total_challenges_completed = excluded.total_challenges_completed,
			perfect_days               = excluded.perfect_days,
			average_compliance         = excluded.average_compliance,
			last_calculated            = excluded.last_calculated`,
		st.UserID, st.CurrentStreak, st.LongestStreak, st.TotalLogs, st.TotalChallengesCompleted,
		st.PerfectDays, st.AverageCompliance, st.LastCalculated.UTC().Format(tsLayout))
	return mapErr("user_statistics.save", err)
}

func (s *Store) ListAchievements(ctx context.Context) ([]model.Achievement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, badge_icon, category, requirement_type, requirement_value
		FROM achievements ORDER BY requirement_type, requirement_value`)
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

func (s *Store) ListUserAchievements(ctx context.Context, userID string) ([]model.UserAchievement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ua.user_id, ua.achievement_id, ua.unlocked_at,
		       a.title, a.description, a.badge_icon, a.category, a.requirement_type, a.requirement_value
		FROM user_achievements ua
		JOIN achievements a ON a.id = ua.achievement_id
		WHERE ua.user_id = ?
		ORDER BY ua.unlocked_at DESC, ua.achievement_id`, userID)
	if err != nil {
		return nil, mapErr("user_achievements.list", err)
	}
	defer rows.Close()

	out := []model.UserAchievement{}
	for rows.Next() {
		var (
			ua       model.UserAchievement
			a        model.Achievement
			unlocked string
		)
		if err := rows.Scan(&ua.UserID, &ua.AchievementID, &unlocked,
			&a.Title, &a.Description, &a.BadgeIcon, &a.Category, &a.RequirementType, &a.RequirementValue); err != nil {
			return nil, mapErr("user_achievements.list: scan", err)
		}
		if ua.UnlockedAt, err = parseTime(unlocked); err != nil {
			return nil, err
		}
		a.ID = ua.AchievementID
		ua.Achievement = &a
		out = append(out, ua)
	}
	return out, mapErr("user_achievements.list", rows.Err())
}

func (s *Store) UnlockAchievements(ctx context.Context, userID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("user_achievements.unlock: begin", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_achievements (user_id, achievement_id, unlocked_at) VALUES (?, ?, ?)
			ON CONFLICT(user_id, achievement_id) DO NOTHING`,
			userID, id, at.UTC().Format(tsLayout))
		if err != nil {
			return mapErr("user_achievements.unlock", err)
		}
	}
	return mapErr("user_achievements.unlock: commit", tx.Commit())
}

// ===== helpers =====

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}
	if retry, _ := util.IsRetryableError(err); retry {
		return errs.Transient(op, err)
	}
	if strings.Contains(err.Error(), "CHECK constraint") {
		return errs.Invalid("", "%s", err.Error())
	}
	return fmt.Errorf("%s: %w", op, err)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
