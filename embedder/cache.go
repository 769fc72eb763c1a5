package embedder

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached memoizes EmbedText results keyed by the whitespace-collapsed text.
// Search traffic repeats queries heavily, and embedding calls dominate its
// latency.
type Cached struct {
	Embedder
	lru *expirable.LRU[string, []float32]
}

func NewCached(next Embedder, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 1024
	}
	return &Cached{
		Embedder: next,
		lru:      expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

func (c *Cached) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := strings.Join(strings.Fields(text), " ")
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	v, err := c.Embedder.EmbedText(ctx, key)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, v)
	return v, nil
}
