package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/doujins-org/newsfeed/pg"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresOptions struct {
	Schema string
	Policy Policy
	// MaxRetries bounds optimistic retries per update. Default 5.
	MaxRetries uint64
	// RetryInterval is the first backoff interval. Default 10ms.
	RetryInterval time.Duration
}

// PostgresStore keeps preferences in <schema>.user_profiles. Updates are
// compare-and-swap on the version column and retried with exponential
// backoff when another writer wins the race.
type PostgresStore struct {
	db     DB
	table  string
	policy Policy
	retry  uint64
	ivl    time.Duration
}

var _ Store = (*PostgresStore)(nil)

var errLostRace = errors.New("lost update race")

func NewPostgresStore(db DB, opts PostgresOptions) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if err := opts.Policy.validate(); err != nil {
		return nil, err
	}
	table, err := pg.Table(opts.Schema, "user_profiles")
	if err != nil {
		return nil, err
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 10 * time.Millisecond
	}
	return &PostgresStore{db: db, table: table, policy: opts.Policy, retry: opts.MaxRetries, ivl: opts.RetryInterval}, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (Preference, bool, error) {
	var p Preference
	err := s.db.QueryRow(ctx,
		`SELECT user_id, embedding::real[], version, updated_at FROM `+s.table+` WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.Vector, &p.Version, &p.UpdatedAt)
	switch {
	case err == nil:
		return p, true, nil
	case errors.Is(err, pgx.ErrNoRows), pg.IsMissingRelation(err):
		return Preference{}, false, nil
	default:
		return Preference{}, false, fmt.Errorf("get profile: %w", err)
	}
}

func (s *PostgresStore) Update(ctx context.Context, userID string, signal []float32, strength float64) (Preference, error) {
	if strings.TrimSpace(userID) == "" {
		return Preference{}, fmt.Errorf("user id is required")
	}
	if err := s.policy.CheckSignal(signal); err != nil {
		return Preference{}, err
	}

	var out Preference
	op := func() error {
		cur, ok, err := s.Get(ctx, userID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if s.policy.Alpha(strength) == 0 {
			out = cur
			return nil
		}
		var old []float32
		if ok {
			old = cur.Vector
		}
		next := s.policy.Next(old, signal, strength)

		if !ok {
			p, err := s.insert(ctx, userID, next)
			if err != nil {
				return err
			}
			out = p
			return nil
		}
		p, err := s.swap(ctx, userID, next, cur.Version)
		if err != nil {
			return err
		}
		out = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.ivl
	b.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, s.retry), ctx))
	if errors.Is(err, errLostRace) {
		return Preference{}, fmt.Errorf("%w: user %s", ErrUpdateConflict, userID)
	}
	if err != nil {
		return Preference{}, err
	}
	return out, nil
}

func (s *PostgresStore) insert(ctx context.Context, userID string, vec []float32) (Preference, error) {
	p := Preference{UserID: userID, Vector: vec, Version: 1}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO `+s.table+` (user_id, embedding, version, updated_at)
VALUES ($1, $2, 1, now())
ON CONFLICT (user_id) DO NOTHING`,
		userID, pg.QueryVector(vec),
	)
	if err != nil {
		return Preference{}, backoff.Permanent(fmt.Errorf("insert profile: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return Preference{}, errLostRace
	}
	p.UpdatedAt = time.Now().UTC()
	return p, nil
}

func (s *PostgresStore) swap(ctx context.Context, userID string, vec []float32, version int64) (Preference, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.table+`
SET embedding = $2, version = version + 1, updated_at = now()
WHERE user_id = $1 AND version = $3`,
		userID, pg.QueryVector(vec), version,
	)
	if err != nil {
		return Preference{}, backoff.Permanent(fmt.Errorf("update profile: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return Preference{}, errLostRace
	}
	return Preference{UserID: userID, Vector: vec, Version: version + 1, UpdatedAt: time.Now().UTC()}, nil
}
