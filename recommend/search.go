package recommend

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doujins-org/newsfeed/article"
	"github.com/doujins-org/newsfeed/internal/textnormalize"
	"github.com/doujins-org/newsfeed/rank"
	"github.com/doujins-org/newsfeed/search"
)

// Search runs keyword and (when an embedder is wired) semantic retrieval
// concurrently and fuses the two rankings with weighted RRF. Either leg may
// fail on its own; the request fails only when no leg produced a list.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]article.RankedArticle, error) {
	ctx, span := s.startSpan(ctx, opSearch)
	defer span.End()
	start := time.Now()
	q := textnormalize.Whitespace(query)
	if q == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	limit, err := s.resolveLimit(limit, 1)
	if err != nil {
		return nil, err
	}
	log := s.requestLogger(ctx, opSearch)

	pool := s.cfg.Search.PoolSize
	if pool < limit {
		pool = limit
	}
	filter := article.Filter{Status: s.cfg.Quality.RequiredStatus}

	var (
		textHits, vecHits []article.Candidate
		textErr, vecErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		textHits, textErr = s.articles.SearchText(gctx, q, pool, filter)
		return nil
	})
	if s.embedder != nil {
		g.Go(func() error {
			vec, err := s.embedder.EmbedText(gctx, q)
			if err != nil {
				vecErr = fmt.Errorf("embed query: %w", err)
				return nil
			}
			numCandidates := s.cfg.Retrieval.KNNNumCandidates
			if numCandidates < 2*pool {
				numCandidates = 2 * pool
			}
			vecHits, vecErr = s.articles.SearchByVector(gctx, search.VectorQuery{
				Vector:        vec,
				K:             pool,
				NumCandidates: numCandidates,
				Filter:        filter,
			})
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case textErr != nil && (s.embedder == nil || vecErr != nil):
		return nil, unavailable(textErr)
	case textErr != nil:
		log.Warn().Err(textErr).Msg("text search failed; serving vector results only")
		s.metrics.Degraded(opSearch, "text_search_unavailable")
	case vecErr != nil:
		log.Warn().Err(vecErr).Msg("vector search failed; serving text results only")
		s.metrics.Degraded(opSearch, "vector_search_unavailable")
	}

	textHits = s.quality.apply(textHits, false)
	vecHits = s.quality.apply(vecHits, false)

	byID := make(map[string]article.Candidate, len(textHits)+len(vecHits))
	lists := [][]string{ids(textHits), ids(vecHits)}
	for _, c := range textHits {
		byID[c.ID] = c
	}
	for _, c := range vecHits {
		byID[c.ID] = c
	}
	hits := search.FuseRRF(lists, search.RRFOptions{
		K:       s.cfg.Search.RRFK,
		Weights: []float64{s.cfg.Search.TextWeight, s.cfg.Search.VectorWeight},
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	cands := make([]article.Candidate, len(hits))
	for i, h := range hits {
		cands[i] = byID[h.ID]
	}
	trend := rank.NormalizeBatch(cands, rank.TrendField)
	trust := rank.NormalizeBatch(cands, rank.TrustField)
	items := make([]rank.Scored, len(hits))
	for i, h := range hits {
		raw := 0.0
		if top := hits[0].Score; top > 0 {
			raw = h.Score / top
		}
		items[i] = rank.Scored{Candidate: cands[i], Raw: raw, Trend: trend[i], Trust: trust[i]}
	}

	log.Debug().
		Int("text_hits", len(textHits)).
		Int("vector_hits", len(vecHits)).
		Int("returned", len(items)).
		Msg("searched")
	s.metrics.ObserveRank(opSearch, "hybrid", start, len(items))
	return present(items), nil
}

func ids(cands []article.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}
