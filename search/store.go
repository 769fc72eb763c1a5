package search

import (
	"context"
	"errors"

	"github.com/doujins-org/newsfeed/article"
)

var (
	// ErrNotFound is returned by Get when no article has the requested id.
	ErrNotFound = errors.New("article not found")

	// ErrUnavailable wraps failures of the backing store that callers may retry.
	ErrUnavailable = errors.New("article store unavailable")
)

// VectorQuery is a kNN request. K and NumCandidates are over-fetch knobs:
// callers should expect to discard some results in later filtering.
type VectorQuery struct {
	Vector        []float32
	K             int
	NumCandidates int
	Filter        article.Filter
}

// FilterQuery is a structured, non-personalized retrieval.
type FilterQuery struct {
	Filter article.Filter
	Sort   []article.Sort
	Size   int
}

// Store is the vector store adapter consumed by the ranking engine.
//
// A missing or empty index yields an empty slice and a nil error; callers
// treat that as a normal no-data condition.
type Store interface {
	// SearchByVector returns candidates in descending similarity order with
	// RetrievalScore set.
	SearchByVector(ctx context.Context, q VectorQuery) ([]article.Candidate, error)

	// SearchByFilter returns candidates in the requested sort order. Ties
	// break by ascending article id so identical queries return identical
	// slices.
	SearchByFilter(ctx context.Context, q FilterQuery) ([]article.Candidate, error)

	// SearchText runs keyword search over title and content, best-first,
	// with RetrievalScore set to the text rank.
	SearchText(ctx context.Context, query string, limit int, filter article.Filter) ([]article.Candidate, error)

	// Get returns a single article or ErrNotFound.
	Get(ctx context.Context, id string) (article.Candidate, error)
}
