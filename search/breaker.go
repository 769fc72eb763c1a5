package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/doujins-org/newsfeed/article"
)

// BreakerSettings configures BreakerStore. Zero values take the defaults
// noted on each field.
type BreakerSettings struct {
	Name string

	// MaxRequests allowed through while half-open. Default 1.
	MaxRequests uint32

	// Interval clears closed-state counts. Default 30s.
	Interval time.Duration

	// Timeout is how long the breaker stays open. Default 10s.
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker. Default 5.
	ConsecutiveFailures uint32

	OnStateChange func(name string, from, to gobreaker.State)
}

// BreakerStore guards a Store with a circuit breaker so an unhealthy vector
// store fails fast with ErrUnavailable instead of piling up requests.
// ErrNotFound and caller cancellation do not count as failures.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

var _ Store = (*BreakerStore)(nil)

func NewBreakerStore(next Store, s BreakerSettings) *BreakerStore {
	if s.Name == "" {
		s.Name = "article-store"
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Interval == 0 {
		s.Interval = 30 * time.Second
	}
	if s.Timeout == 0 {
		s.Timeout = 10 * time.Second
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	trip := s.ConsecutiveFailures
	return &BreakerStore{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        s.Name,
			MaxRequests: s.MaxRequests,
			Interval:    s.Interval,
			Timeout:     s.Timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= trip
			},
			OnStateChange: s.OnStateChange,
			IsSuccessful: func(err error) bool {
				return err == nil ||
					errors.Is(err, ErrNotFound) ||
					errors.Is(err, context.Canceled)
			},
		}),
	}
}

// State exposes the breaker state for health reporting.
func (b *BreakerStore) State() gobreaker.State { return b.cb.State() }

func (b *BreakerStore) SearchByVector(ctx context.Context, q VectorQuery) ([]article.Candidate, error) {
	return execute(b, func() ([]article.Candidate, error) { return b.next.SearchByVector(ctx, q) })
}

func (b *BreakerStore) SearchByFilter(ctx context.Context, q FilterQuery) ([]article.Candidate, error) {
	return execute(b, func() ([]article.Candidate, error) { return b.next.SearchByFilter(ctx, q) })
}

func (b *BreakerStore) SearchText(ctx context.Context, query string, limit int, filter article.Filter) ([]article.Candidate, error) {
	return execute(b, func() ([]article.Candidate, error) { return b.next.SearchText(ctx, query, limit, filter) })
}

func (b *BreakerStore) Get(ctx context.Context, id string) (article.Candidate, error) {
	return execute(b, func() (article.Candidate, error) { return b.next.Get(ctx, id) })
}

func execute[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	var zero T
	res, err := b.cb.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return zero, err
	}
	return res.(T), nil
}
