package rank

import (
	"fmt"
	"math"

	"github.com/doujins-org/newsfeed/article"
)

// Weights is one fusion profile. Weights must be non-negative and sum to 1 so
// fused scores stay within [0, 1].
type Weights struct {
	Relevance float64 `koanf:"relevance" validate:"gte=0,lte=1"`
	Trend     float64 `koanf:"trend" validate:"gte=0,lte=1"`
	Trust     float64 `koanf:"trust" validate:"gte=0,lte=1"`
}

// Fuse is the weighted sum of normalized components.
func (w Weights) Fuse(relevance, trend, trust float64) float64 {
	return w.Relevance*relevance + w.Trend*trend + w.Trust*trust
}

func (w Weights) sum() float64 { return w.Relevance + w.Trend + w.Trust }

// Profiles pairs the personalized and cold-start weights under one version
// label so a deployment changes both together.
type Profiles struct {
	Version      string  `koanf:"version"`
	Personalized Weights `koanf:"personalized"`
	ColdStart    Weights `koanf:"cold_start"`
}

func DefaultProfiles() Profiles {
	return Profiles{
		Version:      "v1",
		Personalized: Weights{Relevance: 0.6, Trend: 0.2, Trust: 0.2},
		ColdStart:    Weights{Trend: 0.7, Trust: 0.3},
	}
}

const weightSumTolerance = 1e-6

// Validate checks the profile invariants: both sum to 1, relevance dominates
// the personalized profile, and the cold-start profile ignores relevance.
func (p Profiles) Validate() error {
	for name, w := range map[string]Weights{"personalized": p.Personalized, "cold_start": p.ColdStart} {
		if w.Relevance < 0 || w.Trend < 0 || w.Trust < 0 {
			return fmt.Errorf("fusion %s: weights must be >= 0", name)
		}
		if math.Abs(w.sum()-1) > weightSumTolerance {
			return fmt.Errorf("fusion %s: weights must sum to 1, got %.4f", name, w.sum())
		}
	}
	if p.Personalized.Relevance < p.Personalized.Trend || p.Personalized.Relevance < p.Personalized.Trust {
		return fmt.Errorf("fusion personalized: relevance must carry the largest weight")
	}
	if p.ColdStart.Relevance != 0 {
		return fmt.Errorf("fusion cold_start: relevance weight must be 0")
	}
	return nil
}

// Score normalizes trend, trust and (when personalized) retrieval scores
// across the batch and fuses them with the matching profile. Output order
// follows input order.
func Score(cands []article.Candidate, p Profiles, personalized bool) []Scored {
	trend := NormalizeBatch(cands, TrendField)
	trust := NormalizeBatch(cands, TrustField)

	var rel []float64
	w := p.ColdStart
	if personalized {
		rel = NormalizeBatch(cands, RetrievalField)
		w = p.Personalized
	}

	out := make([]Scored, len(cands))
	for i, c := range cands {
		s := Scored{
			Candidate:    c,
			Trend:        trend[i],
			Trust:        trust[i],
			Personalized: personalized,
		}
		if personalized {
			s.Relevance = rel[i]
		}
		s.Raw = w.Fuse(s.Relevance, s.Trend, s.Trust)
		out[i] = s
	}
	return out
}
