package tasks

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/doujins-org/newsfeed/pg"
)

const profileTasksTable = "profile_update_tasks"
const profileDeadLettersTable = "profile_update_dead_letters"

// DB is the subset of *pgxpool.Pool used by Repo.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repo is the Postgres-backed profile update queue.
type Repo struct {
	db    DB
	tasks string
	dead  string
}

func NewRepo(db DB, schema string) (*Repo, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	t, err := pg.Table(schema, profileTasksTable)
	if err != nil {
		return nil, err
	}
	d, err := pg.Table(schema, profileDeadLettersTable)
	if err != nil {
		return nil, err
	}
	return &Repo{db: db, tasks: t, dead: d}, nil
}

func validateEnqueue(userID, articleID string, strength float64) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(articleID) == "" {
		return fmt.Errorf("article id is required")
	}
	if math.IsNaN(strength) || math.IsInf(strength, 0) {
		return fmt.Errorf("strength must be finite")
	}
	return nil
}

// Enqueue inserts a task runnable immediately and returns its id.
func (r *Repo) Enqueue(ctx context.Context, userID, articleID string, strength float64) (int64, error) {
	if err := validateEnqueue(userID, articleID, strength); err != nil {
		return 0, err
	}
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO `+r.tasks+` (user_id, article_id, strength)
		VALUES ($1, $2, $3)
		RETURNING id
	`, userID, articleID, strength).Scan(&id)
	return id, err
}

// FetchReady leases up to limit runnable tasks by pushing next_run_at
// forward by lockAhead. Rows locked by another worker are skipped.
func (r *Repo) FetchReady(ctx context.Context, limit int, lockAhead time.Duration) ([]Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	if lockAhead <= 0 {
		lockAhead = 30 * time.Second
	}
	now := time.Now().UTC()
	next := now.Add(lockAhead)

	rows, err := r.db.Query(ctx, `
		WITH picked AS (
			SELECT id
			FROM `+r.tasks+`
			WHERE next_run_at <= $1
			ORDER BY next_run_at ASC, id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE `+r.tasks+` t
		SET next_run_at = $3,
		    started_at = COALESCE(t.started_at, $1),
		    updated_at = $1
		FROM picked p
		WHERE t.id = p.id
		RETURNING t.id, t.user_id, t.article_id, t.strength, t.attempts, t.next_run_at, t.started_at, t.created_at, t.updated_at
	`, now, limit, next)
	if err != nil {
		if pg.IsMissingRelation(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.ArticleID,
			&t.Strength,
			&t.Attempts,
			&t.NextRunAt,
			&t.StartedAt,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repo) Complete(ctx context.Context, t Task) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM `+r.tasks+`
		WHERE id = $1 AND next_run_at = $2
	`, t.ID, t.Lease().UTC())
	return err
}

// Fail records one more attempt and reschedules the task after backoff.
func (r *Repo) Fail(ctx context.Context, t Task, backoff time.Duration) error {
	secs := int64(backoff / time.Second)
	if secs < 1 {
		secs = 1
	}
	_, err := r.db.Exec(ctx, `
		UPDATE `+r.tasks+`
		SET attempts = attempts + 1,
		    next_run_at = now() + make_interval(secs => $1),
		    updated_at = now()
		WHERE id = $2 AND next_run_at = $3
	`, secs, t.ID, t.Lease().UTC())
	return err
}

// DeadLetter moves the task into the dead-letter table in one transaction.
func (r *Repo) DeadLetter(ctx context.Context, t Task, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("unknown error")
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		DELETE FROM `+r.tasks+`
		WHERE id = $1 AND next_run_at = $2
	`, t.ID, t.Lease().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Lease lost; another worker owns the task now.
		return nil
	}

	attempts := t.Attempts
	if attempts < 0 {
		attempts = 0
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO `+r.dead+` (id, user_id, article_id, strength, error, attempts, failed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7)
		ON CONFLICT (id) DO UPDATE SET
			error = EXCLUDED.error,
			attempts = EXCLUDED.attempts,
			failed_at = EXCLUDED.failed_at
	`, t.ID, t.UserID, t.ArticleID, t.Strength, cause.Error(), attempts, t.CreatedAt.UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
