package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"

	"github.com/doujins-org/newsfeed/internal/normalize"
)

type OpenAICompatibleConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int // equals the article embedding column width
	Timeout    time.Duration

	QueryPrefix   string
	MaxInputRunes int    // 0 disables truncation
	MaxRetries    uint64 // retries after the first attempt on 429 and 5xx
}

// OpenAICompatibleEmbedder embeds search queries through any /v1/embeddings
// endpoint speaking the OpenAI wire format.
type OpenAICompatibleEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	prefix     string
	maxRunes   int
	retries    uint64
	newBackoff func() backoff.BackOff
}

func NewOpenAICompatible(cfg OpenAICompatibleConfig) (*OpenAICompatibleEmbedder, error) {
	switch {
	case strings.TrimSpace(cfg.Model) == "":
		return nil, fmt.Errorf("model is required")
	case strings.TrimSpace(cfg.BaseURL) == "":
		return nil, fmt.Errorf("base URL is required")
	case cfg.Dimensions <= 0:
		return nil, fmt.Errorf("dimensions must be > 0")
	case cfg.MaxInputRunes < 0:
		return nil, fmt.Errorf("max input runes must be >= 0")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAICompatibleEmbedder{
		client:     openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		prefix:     cfg.QueryPrefix,
		maxRunes:   cfg.MaxInputRunes,
		retries:    cfg.MaxRetries,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}, nil
}

func (e *OpenAICompatibleEmbedder) Model() string   { return e.model }
func (e *OpenAICompatibleEmbedder) Dimensions() int { return e.dimensions }

func (e *OpenAICompatibleEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// EmbedTexts returns unit-length vectors in input order. Each input gets the
// query prefix and is cut to the rune limit before it is sent.
func (e *OpenAICompatibleEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = e.prefix + truncateRunes(strings.TrimSpace(t), e.maxRunes)
	}

	var resp openai.EmbeddingResponse
	op := func() error {
		var err error
		resp, err = e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      inputs,
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: e.dimensions,
		})
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(e.newBackoff(), e.retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("embed %d queries with %s: %w", len(texts), e.model, err)
	}
	return e.collect(resp, len(texts))
}

func (e *OpenAICompatibleEmbedder) collect(resp openai.EmbeddingResponse, n int) ([][]float32, error) {
	if len(resp.Data) != n {
		return nil, fmt.Errorf("expected %d embeddings, got %d", n, len(resp.Data))
	}
	out := make([][]float32, n)
	for i, row := range resp.Data {
		idx := row.Index
		if idx < 0 || idx >= n || out[idx] != nil {
			idx = i
		}
		if len(row.Embedding) != e.dimensions {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(row.Embedding), e.dimensions)
		}
		vec := normalize.UnitCopy(row.Embedding)
		if vec == nil {
			return nil, fmt.Errorf("embedding %d has zero norm", idx)
		}
		out[idx] = vec
	}
	return out, nil
}

// retryable reports rate limiting, server errors and transport failures.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == 0
	}
	return true
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
