package recommend

import (
	"github.com/doujins-org/newsfeed/article"
	"github.com/doujins-org/newsfeed/internal/textnormalize"
)

// qualityFilter drops candidates that should never be ranked: short titles
// (video stubs, live-blog placeholders), banned words, duplicates and, when
// requireEmbedding is set, missing or wrong-length vectors.
type qualityFilter struct {
	minTitle int
	banWords []string
	dim      int
}

func (q qualityFilter) titleOK(title string) bool {
	if textnormalize.Length(title) < q.minTitle {
		return false
	}
	return !textnormalize.ContainsAny(title, q.banWords)
}

func (q qualityFilter) apply(cands []article.Candidate, requireEmbedding bool) []article.Candidate {
	out := make([]article.Candidate, 0, len(cands))
	seen := make(map[string]struct{}, len(cands))
	for _, c := range cands {
		if c.ID == "" {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		if !q.titleOK(c.Title) {
			continue
		}
		if requireEmbedding && !c.HasEmbedding(q.dim) {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
