// Package engagement converts a finished reading session into the bounded
// strength that drives profile updates.
package engagement

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidSignal rejects negative or non-finite session measurements.
var ErrInvalidSignal = errors.New("invalid engagement signal")

const (
	// SecondsPerChar is the expected reading time per character of body text.
	SecondsPerChar = 0.07

	BounceDwell  = 5 * time.Second
	BounceScroll = 0.2

	readWeight   = 0.4
	scrollWeight = 0.6
)

// Signal is one session on one article.
type Signal struct {
	Dwell time.Duration
	// ScrollDepth is the furthest scrolled fraction of the article, 0..1.
	ScrollDepth float64
	// ArticleLength is the body length in characters.
	ArticleLength int
}

// ReadRatio is dwell over expected reading time, capped at 1. Unknown
// article length yields 0.
func (s Signal) ReadRatio() float64 {
	if s.ArticleLength <= 0 {
		return 0
	}
	r := s.Dwell.Seconds() / (float64(s.ArticleLength) * SecondsPerChar)
	if r > 1 {
		return 1
	}
	return r
}

// Bounce reports a near-immediate exit: short dwell and shallow scroll.
func (s Signal) Bounce() bool {
	return s.Dwell < BounceDwell && s.ScrollDepth < BounceScroll
}

// Score returns a strength in [0, 1] rounded to three decimals. Bounces
// score 0.
func Score(s Signal) (float64, error) {
	if s.Dwell < 0 {
		return 0, fmt.Errorf("%w: negative dwell", ErrInvalidSignal)
	}
	if math.IsNaN(s.ScrollDepth) || s.ScrollDepth < 0 {
		return 0, fmt.Errorf("%w: scroll depth %v", ErrInvalidSignal, s.ScrollDepth)
	}
	if s.ScrollDepth > 1 {
		s.ScrollDepth = 1
	}
	if s.Bounce() {
		return 0, nil
	}
	raw := readWeight*s.ReadRatio() + scrollWeight*s.ScrollDepth
	return math.Round(raw*1000) / 1000, nil
}
