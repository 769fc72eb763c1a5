package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

const defaultRedisPrefix = "newsfeed:profile:"

type RedisOptions struct {
	Prefix     string
	Policy     Policy
	MaxRetries uint64
	// TTL expires idle profiles. Zero keeps them forever.
	TTL time.Duration
}

// RedisStore keeps preferences as JSON documents, one key per user. Updates
// run under WATCH so a concurrent writer aborts the transaction and the
// update is retried against the fresh value.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	policy Policy
	retry  uint64
	ttl    time.Duration
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

type redisDoc struct {
	Vector    []float32 `json:"vector"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewRedisStore(rdb redis.UniversalClient, opts RedisOptions) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := opts.Policy.validate(); err != nil {
		return nil, err
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultRedisPrefix
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	return &RedisStore{rdb: rdb, prefix: opts.Prefix, policy: opts.Policy, retry: opts.MaxRetries, ttl: opts.TTL, now: time.Now}, nil
}

func (s *RedisStore) key(userID string) string { return s.prefix + userID }

func (s *RedisStore) Get(ctx context.Context, userID string) (Preference, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Preference{}, false, nil
	}
	if err != nil {
		return Preference{}, false, fmt.Errorf("get profile: %w", err)
	}
	return decodeDoc(userID, raw)
}

func decodeDoc(userID string, raw []byte) (Preference, bool, error) {
	var d redisDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return Preference{}, false, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return Preference{UserID: userID, Vector: d.Vector, Version: d.Version, UpdatedAt: d.UpdatedAt}, true, nil
}

func (s *RedisStore) Update(ctx context.Context, userID string, signal []float32, strength float64) (Preference, error) {
	if strings.TrimSpace(userID) == "" {
		return Preference{}, fmt.Errorf("user id is required")
	}
	if err := s.policy.CheckSignal(signal); err != nil {
		return Preference{}, err
	}
	key := s.key(userID)

	var out Preference
	txf := func(tx *redis.Tx) error {
		var cur Preference
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if cur, _, err = decodeDoc(userID, raw); err != nil {
				return err
			}
		}
		if s.policy.Alpha(strength) == 0 {
			out = cur
			return nil
		}

		next := redisDoc{
			Vector:    s.policy.Next(cur.Vector, signal, strength),
			Version:   cur.Version + 1,
			UpdatedAt: s.now().UTC(),
		}
		b, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = Preference{UserID: userID, Vector: next.Vector, Version: next.Version, UpdatedAt: next.UpdatedAt}
		return nil
	}

	op := func() error {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil || errors.Is(err, redis.TxFailedErr) {
			return err
		}
		return backoff.Permanent(err)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, s.retry), ctx))
	if errors.Is(err, redis.TxFailedErr) {
		return Preference{}, fmt.Errorf("%w: user %s", ErrUpdateConflict, userID)
	}
	if err != nil {
		return Preference{}, fmt.Errorf("update profile: %w", err)
	}
	return out, nil
}
