package recommend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doujins-org/newsfeed/article"
	"github.com/doujins-org/newsfeed/search"
)

// Related returns articles similar to articleID, diversified with MMR. The
// source article's similarity is the relevance signal, fused with trend and
// trust under the personalized profile.
func (s *Service) Related(ctx context.Context, articleID string, limit int) ([]article.RankedArticle, error) {
	ctx, span := s.startSpan(ctx, opRelated)
	defer span.End()
	start := time.Now()
	articleID = strings.TrimSpace(articleID)
	if articleID == "" {
		return nil, fmt.Errorf("%w: article id is required", ErrInvalidInput)
	}
	limit, err := s.resolveLimit(limit, s.cfg.MMR.MinK)
	if err != nil {
		return nil, err
	}
	log := s.requestLogger(ctx, opRelated).With().Str("article_id", articleID).Logger()

	src, err := s.articles.Get(ctx, articleID)
	if errors.Is(err, search.ErrNotFound) {
		return nil, fmt.Errorf("%w: article %s", ErrNotFound, articleID)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if !src.HasEmbedding(s.cfg.Dimensions) {
		log.Debug().Msg("source article has no usable embedding")
		s.metrics.ObserveRank(opRelated, pathPersonalized, start, 0)
		return []article.RankedArticle{}, nil
	}

	cands, err := s.articles.SearchByVector(ctx, search.VectorQuery{
		Vector:        src.Embedding,
		K:             s.cfg.Retrieval.KNNK,
		NumCandidates: s.cfg.Retrieval.KNNNumCandidates,
		Filter: article.Filter{
			Status:     s.cfg.Quality.RequiredStatus,
			Since:      s.window(s.cfg.Retrieval.RelatedWindow),
			ExcludeIDs: []string{articleID},
		},
	})
	if err != nil {
		return nil, unavailable(err)
	}
	out := s.rankAndPresent(ctx, log, opRelated, pathPersonalized, cands, true, limit, false)
	s.metrics.ObserveRank(opRelated, pathPersonalized, start, len(out))
	return out, nil
}
