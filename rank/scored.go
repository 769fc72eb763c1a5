// Package rank is the in-memory ranking kernel: per-batch signal
// normalization, weighted fusion, MMR diversity reranking and the optional
// presentation shuffle. Nothing here performs I/O.
package rank

import (
	"math"

	"github.com/doujins-org/newsfeed/article"
)

// Scored is a candidate carrying its normalized components and fused score.
type Scored struct {
	Candidate article.Candidate

	// Normalized components in [0, 1]. Relevance is 0 on the cold-start path.
	Relevance float64
	Trend     float64
	Trust     float64

	// Raw is the unrounded fused fraction used for every comparison.
	Raw float64

	Personalized bool
}

// Final is the presentation score, round(Raw*100) clamped to [0, 100].
func (s Scored) Final() int { return ScoreInt(s.Raw) }

// ScoreInt scales a fraction to an integer percentage.
func ScoreInt(raw float64) int {
	if math.IsNaN(raw) || raw <= 0 {
		return 0
	}
	v := int(math.Round(raw * 100))
	if v > 100 {
		return 100
	}
	return v
}
