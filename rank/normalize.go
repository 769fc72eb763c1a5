package rank

import (
	"math"

	"github.com/doujins-org/newsfeed/article"
)

// Field selects one optional scalar signal from a candidate.
type Field func(article.Candidate) *float64

var (
	RetrievalField Field = func(c article.Candidate) *float64 { return c.RetrievalScore }
	TrendField     Field = func(c article.Candidate) *float64 { return c.TrendScore }
	TrustField     Field = func(c article.Candidate) *float64 { return c.TrustScore }
)

// MinMax rescales values to [0, 1] against the batch extremes. A flat batch
// maps every value to 0. Non-finite inputs count as 0.
func MinMax(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	clean := make([]float64, len(values))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		clean[i] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		return out
	}
	for i, v := range clean {
		out[i] = (v - lo) / span
	}
	return out
}

// NormalizeBatch extracts field from each candidate, defaulting missing
// values to 0 before the min-max pass.
func NormalizeBatch(cands []article.Candidate, field Field) []float64 {
	raw := make([]float64, len(cands))
	for i, c := range cands {
		if p := field(c); p != nil {
			raw[i] = *p
		}
	}
	return MinMax(raw)
}
