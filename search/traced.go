package search

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/doujins-org/newsfeed/article"
)

const tracerName = "github.com/doujins-org/newsfeed/search"

// TracedStore records one span per store call. ErrNotFound is not marked as
// a span error.
type TracedStore struct {
	next   Store
	tracer trace.Tracer
}

var _ Store = (*TracedStore)(nil)

// NewTracedStore uses tp, or the global provider when tp is nil.
func NewTracedStore(next Store, tp trace.TracerProvider) *TracedStore {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracedStore{next: next, tracer: tp.Tracer(tracerName)}
}

func (t *TracedStore) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "store."+op, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func finish(span trace.Span, n int, err error) {
	defer span.End()
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(attribute.Int("store.results", n))
}

func (t *TracedStore) SearchByVector(ctx context.Context, q VectorQuery) ([]article.Candidate, error) {
	ctx, span := t.start(ctx, "search_by_vector",
		attribute.Int("knn.k", q.K),
		attribute.Int("knn.num_candidates", q.NumCandidates),
	)
	out, err := t.next.SearchByVector(ctx, q)
	finish(span, len(out), err)
	return out, err
}

func (t *TracedStore) SearchByFilter(ctx context.Context, q FilterQuery) ([]article.Candidate, error) {
	ctx, span := t.start(ctx, "search_by_filter",
		attribute.Int("filter.size", q.Size),
		attribute.String("filter.category", q.Filter.Category),
	)
	out, err := t.next.SearchByFilter(ctx, q)
	finish(span, len(out), err)
	return out, err
}

func (t *TracedStore) SearchText(ctx context.Context, query string, limit int, filter article.Filter) ([]article.Candidate, error) {
	ctx, span := t.start(ctx, "search_text", attribute.Int("text.limit", limit))
	out, err := t.next.SearchText(ctx, query, limit, filter)
	finish(span, len(out), err)
	return out, err
}

func (t *TracedStore) Get(ctx context.Context, id string) (article.Candidate, error) {
	ctx, span := t.start(ctx, "get", attribute.String("article.id", id))
	c, err := t.next.Get(ctx, id)
	n := 1
	if err != nil {
		n = 0
	}
	finish(span, n, err)
	return c, err
}
