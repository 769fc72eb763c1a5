// Package recommend is the recommendation orchestrator. It ties candidate
// retrieval, signal normalization, fusion, MMR and the presentation shuffle
// together per request, and owns the degradation policy when a dependency
// misbehaves.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/doujins-org/newsfeed/article"
	"github.com/doujins-org/newsfeed/embedder"
	"github.com/doujins-org/newsfeed/eval"
	"github.com/doujins-org/newsfeed/metrics"
	"github.com/doujins-org/newsfeed/profile"
	"github.com/doujins-org/newsfeed/rank"
	"github.com/doujins-org/newsfeed/search"
)

const (
	pathPersonalized = "personalized"
	pathColdStart    = "cold_start"

	opRecommend = "recommend"
	opTrend     = "trend"
	opCategory  = "category"
	opRelated   = "related"
	opSearch    = "search"
)

// Options wires a Service. Articles is required; Profiles and Embedder are
// optional and disable personalization and vector search when nil.
type Options struct {
	Config   Config
	Articles search.Store
	Profiles profile.Reader
	Embedder embedder.Embedder
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Service is constructed once at startup and shared read-only by all
// requests. The shuffle RNG is the only mutable state and is mutex-guarded.
type Service struct {
	cfg      Config
	articles search.Store
	profiles profile.Reader
	embedder embedder.Embedder
	log      zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	quality  qualityFilter
	tracer   trace.Tracer

	trendCache *expirable.LRU[string, []article.Candidate]

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(opts Options) (*Service, error) {
	if opts.Articles == nil {
		return nil, fmt.Errorf("article store is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Embedder != nil && opts.Embedder.Dimensions() != opts.Config.Dimensions {
		return nil, fmt.Errorf("embedder dimensions %d do not match configured %d", opts.Embedder.Dimensions(), opts.Config.Dimensions)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	seed := opts.Config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Service{
		cfg:      opts.Config,
		articles: opts.Articles,
		profiles: opts.Profiles,
		embedder: opts.Embedder,
		log:      opts.Logger.With().Str("component", "recommend").Logger(),
		metrics:  opts.Metrics,
		now:      now,
		quality: qualityFilter{
			minTitle: opts.Config.Quality.MinTitleLength,
			banWords: opts.Config.Quality.BanWords,
			dim:      opts.Config.Dimensions,
		},
		tracer: tp.Tracer("github.com/doujins-org/newsfeed/recommend"),
		rng:    rand.New(rand.NewSource(seed)),
	}
	if c := opts.Config.Cache; c.Enabled && c.Size > 0 && c.TTL > 0 {
		s.trendCache = expirable.NewLRU[string, []article.Candidate](c.Size, nil, c.TTL)
	}
	return s, nil
}

// resolveLimit applies the default and the ceiling, and rejects limits below
// floor (the MMR minimum for diversified feeds).
func (s *Service) resolveLimit(limit, floor int) (int, error) {
	if limit < 0 {
		return 0, fmt.Errorf("%w: limit must be >= 0, got %d", ErrInvalidInput, limit)
	}
	if limit == 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	if limit < floor {
		return 0, fmt.Errorf("%w: limit %d is below the minimum result count %d", ErrInvalidInput, limit, floor)
	}
	return limit, nil
}

// window is the recency cutoff, truncated to the minute so repeated
// requests share both results and cache entries.
func (s *Service) window(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return s.now().UTC().Add(-d).Truncate(time.Minute)
}

// GetRecommendations returns a personalized feed when the user has a stored
// preference vector and the trend feed otherwise.
func (s *Service) GetRecommendations(ctx context.Context, userID string, limit int, randomize bool) ([]article.RankedArticle, error) {
	ctx, span := s.startSpan(ctx, opRecommend)
	defer span.End()
	start := time.Now()
	limit, err := s.resolveLimit(limit, s.cfg.MMR.MinK)
	if err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	log := s.requestLogger(ctx, opRecommend).With().Str("user_id", userID).Logger()

	if userID == "" || s.profiles == nil {
		return s.coldStart(ctx, log, opRecommend, "", limit, randomize, start)
	}

	// The profile read and the cold-start fetch are independent; issue both
	// so a miss or a kNN failure needs no second round trip.
	var (
		pref     profile.Preference
		found    bool
		trend    []article.Candidate
		trendErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, ok, err := s.profiles.Get(gctx, userID)
		if err != nil {
			log.Warn().Err(err).Msg("profile lookup failed; serving cold start")
			s.metrics.Degraded(opRecommend, "profile_unavailable")
			return nil
		}
		pref, found = p, ok
		return nil
	})
	g.Go(func() error {
		trend, trendErr = s.trendCandidates(gctx, "")
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if found && len(pref.Vector) == s.cfg.Dimensions {
		cands, err := s.articles.SearchByVector(ctx, search.VectorQuery{
			Vector:        pref.Vector,
			K:             s.cfg.Retrieval.KNNK,
			NumCandidates: s.cfg.Retrieval.KNNNumCandidates,
			Filter: article.Filter{
				Status: s.cfg.Quality.RequiredStatus,
				Since:  s.window(s.cfg.Retrieval.RecencyWindow),
			},
		})
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("vector search failed; serving cold start")
			s.metrics.Degraded(opRecommend, "vector_search_unavailable")
		case len(cands) > 0:
			out := s.rankAndPresent(ctx, log, opRecommend, pathPersonalized, cands, true, limit, randomize)
			s.metrics.ObserveRank(opRecommend, pathPersonalized, start, len(out))
			return out, nil
		}
	} else if found {
		log.Warn().Int("dims", len(pref.Vector)).Msg("stored preference vector has wrong dimension; serving cold start")
		s.metrics.Degraded(opRecommend, "profile_dimension_mismatch")
	}

	if trendErr != nil {
		return s.degradedEmpty(log, opRecommend, trendErr, start), nil
	}
	out := s.rankAndPresent(ctx, log, opRecommend, pathColdStart, trend, false, limit, randomize)
	s.metrics.ObserveRank(opRecommend, pathColdStart, start, len(out))
	return out, nil
}

// GetTrendFeed is the non-personalized feed.
func (s *Service) GetTrendFeed(ctx context.Context, limit int) ([]article.RankedArticle, error) {
	ctx, span := s.startSpan(ctx, opTrend)
	defer span.End()
	start := time.Now()
	limit, err := s.resolveLimit(limit, s.cfg.MMR.MinK)
	if err != nil {
		return nil, err
	}
	return s.coldStart(ctx, s.requestLogger(ctx, opTrend), opTrend, "", limit, false, start)
}

// GetCategoryFeed is the trend feed restricted to one category.
func (s *Service) GetCategoryFeed(ctx context.Context, category string, limit int) ([]article.RankedArticle, error) {
	ctx, span := s.startSpan(ctx, opCategory)
	defer span.End()
	start := time.Now()
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	limit, err := s.resolveLimit(limit, s.cfg.MMR.MinK)
	if err != nil {
		return nil, err
	}
	category = s.cfg.resolveCategory(category)
	log := s.requestLogger(ctx, opCategory).With().Str("category", category).Logger()
	return s.coldStart(ctx, log, opCategory, category, limit, false, start)
}

func (s *Service) coldStart(ctx context.Context, log zerolog.Logger, op, category string, limit int, randomize bool, start time.Time) ([]article.RankedArticle, error) {
	cands, err := s.trendCandidates(ctx, category)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return s.degradedEmpty(log, op, err, start), nil
	}
	out := s.rankAndPresent(ctx, log, op, pathColdStart, cands, false, limit, randomize)
	s.metrics.ObserveRank(op, pathColdStart, start, len(out))
	return out, nil
}

// degradedEmpty turns a cold-start store failure into an empty, successful
// response: "no recommendations yet" is a displayable state.
func (s *Service) degradedEmpty(log zerolog.Logger, op string, err error, start time.Time) []article.RankedArticle {
	log.Warn().Err(err).Msg("candidate fetch failed; returning empty feed")
	s.metrics.Degraded(op, "store_unavailable")
	s.metrics.ObserveRank(op, pathColdStart, start, 0)
	return []article.RankedArticle{}
}

func (s *Service) trendCandidates(ctx context.Context, category string) ([]article.Candidate, error) {
	key := "trend|" + category
	if s.trendCache != nil {
		if v, ok := s.trendCache.Get(key); ok {
			s.metrics.CacheLookup(true)
			return v, nil
		}
		s.metrics.CacheLookup(false)
	}
	cands, err := s.articles.SearchByFilter(ctx, search.FilterQuery{
		Filter: article.Filter{
			Status:   s.cfg.Quality.RequiredStatus,
			Category: category,
			Since:    s.window(s.cfg.Retrieval.RecencyWindow),
		},
		Sort: []article.Sort{{Field: article.SortTrend, Desc: true}},
		Size: s.cfg.Retrieval.TrendPoolSize,
	})
	if err != nil {
		return nil, err
	}
	if s.trendCache != nil {
		s.trendCache.Add(key, cands)
	}
	return cands, nil
}

// rankAndPresent runs filter, normalize and fuse, MMR and the optional
// shuffle, then maps to the presentation shape.
func (s *Service) rankAndPresent(ctx context.Context, log zerolog.Logger, op, path string, cands []article.Candidate, personalized bool, limit int, randomize bool) []article.RankedArticle {
	filtered := s.quality.apply(cands, true)
	s.metrics.ObserveCandidates(op, "fetched", len(cands))
	s.metrics.ObserveCandidates(op, "filtered", len(filtered))

	scored := rank.Score(filtered, s.cfg.Fusion, personalized)
	sortScored(scored)
	selected := rank.MMR(scored, limit, s.cfg.MMR)
	if randomize {
		s.rngMu.Lock()
		selected = rank.SoftShuffle(selected, s.cfg.Shuffle, s.rng)
		s.rngMu.Unlock()
	}

	s.observeFeed(op, selected)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("recommend.path", path),
		attribute.Int("recommend.candidates", len(cands)),
		attribute.Int("recommend.filtered", len(filtered)),
		attribute.Int("recommend.returned", len(selected)),
	)
	log.Debug().
		Str("path", path).
		Str("fusion_version", s.cfg.Fusion.Version).
		Int("candidates", len(cands)).
		Int("filtered", len(filtered)).
		Int("returned", len(selected)).
		Bool("randomize", randomize).
		Msg("ranked")
	return present(selected)
}

// sortScored orders by fused score, breaking ties by id so the MMR input
// order does not depend on store result order.
func sortScored(items []rank.Scored) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Raw == items[j].Raw {
			return items[i].Candidate.ID < items[j].Candidate.ID
		}
		return items[i].Raw > items[j].Raw
	})
}

func present(items []rank.Scored) []article.RankedArticle {
	out := make([]article.RankedArticle, len(items))
	for i, it := range items {
		c := it.Candidate
		out[i] = article.RankedArticle{
			ArticleID:   c.ID,
			Title:       strings.TrimSpace(c.Title),
			Image:       c.Image,
			Source:      c.Press,
			Category:    c.Category,
			FinalScore:  it.Final(),
			TrendScore:  rank.ScoreInt(it.Trend),
			TrustScore:  rank.ScoreInt(it.Trust),
			CollectedAt: c.CollectedAt,
		}
	}
	return out
}

func (s *Service) observeFeed(op string, items []rank.Scored) {
	if s.metrics == nil || len(items) == 0 {
		return
	}
	embs := make([][]float32, len(items))
	cats := make([]string, len(items))
	for i, it := range items {
		embs[i] = it.Candidate.Embedding
		cats[i] = it.Candidate.Category
	}
	s.metrics.ObserveFeed(op, eval.IntraListSimilarity(embs), eval.CategoryCoverage(cats))
}

func (s *Service) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "recommend."+op, trace.WithAttributes(attribute.String("recommend.op", op)))
}

type requestIDKey struct{}

// WithRequestID attaches the caller's request id to log lines for ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func (s *Service) requestLogger(ctx context.Context, op string) zerolog.Logger {
	id, _ := ctx.Value(requestIDKey{}).(string)
	if id == "" {
		id = uuid.NewString()
	}
	return s.log.With().Str("op", op).Str("request_id", id).Logger()
}

// unavailable wraps store failures for operations that cannot degrade.
func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
