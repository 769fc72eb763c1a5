// Package profile maintains one exponentially weighted moving average
// embedding per user, fed by engagement signals.
package profile

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidVectorDimension rejects a signal whose length differs from the
	// configured embedding dimensionality.
	ErrInvalidVectorDimension = errors.New("invalid vector dimension")

	// ErrInvalidVector rejects signals with non-finite entries or no direction.
	ErrInvalidVector = errors.New("invalid vector")

	// ErrUpdateConflict is returned when optimistic retries are exhausted.
	ErrUpdateConflict = errors.New("profile update conflict")
)

// Preference is a user's stored preference vector.
type Preference struct {
	UserID    string
	Vector    []float32
	UpdatedAt time.Time
	Version   int64
}

// Reader is the read side consumed by the ranking engine. Absence is a
// normal cold-start state and reported through the bool, never an error.
type Reader interface {
	Get(ctx context.Context, userID string) (Preference, bool, error)
}

// Store adds the single mutation point. Update is an atomic
// read-modify-write: concurrent updates to the same user never tear the
// stored vector, though one of them may be retried.
type Store interface {
	Reader
	Update(ctx context.Context, userID string, signal []float32, strength float64) (Preference, error)
}
