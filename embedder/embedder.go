package embedder

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when the provider answers with vectors of
// a different length than configured.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder turns query text into vectors comparable with stored article
// embeddings.
type Embedder interface {
	Model() string
	Dimensions() int
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
