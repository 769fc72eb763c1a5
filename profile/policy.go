package profile

import (
	"fmt"
	"math"

	"github.com/doujins-org/newsfeed/internal/normalize"
)

const DefaultBaseRate = 0.2

// Policy is the EMA update rule shared by every store.
type Policy struct {
	Dimensions int
	// BaseRate is the learning rate at full engagement strength.
	BaseRate float64
	// Normalize L2-normalizes the vector after each blend.
	Normalize bool
}

func DefaultPolicy(dim int) Policy {
	return Policy{Dimensions: dim, BaseRate: DefaultBaseRate, Normalize: true}
}

func (p Policy) validate() error {
	if p.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be > 0")
	}
	if p.BaseRate <= 0 || p.BaseRate > 1 {
		return fmt.Errorf("base rate must be in (0, 1]")
	}
	return nil
}

// CheckSignal enforces fixed dimensionality and rejects vectors that could
// not be L2-normalized.
func (p Policy) CheckSignal(signal []float32) error {
	if len(signal) != p.Dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidVectorDimension, len(signal), p.Dimensions)
	}
	for _, v := range signal {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite entry", ErrInvalidVector)
		}
	}
	if normalize.Norm(signal) == 0 {
		return fmt.Errorf("%w: zero vector", ErrInvalidVector)
	}
	return nil
}

// Alpha is base_rate scaled by strength clamped to [0, 1]. NaN counts as 0.
func (p Policy) Alpha(strength float64) float64 {
	if math.IsNaN(strength) || strength <= 0 {
		return 0
	}
	if strength > 1 {
		strength = 1
	}
	return p.BaseRate * strength
}

// Next computes the vector that replaces old. An absent or wrong-length old
// vector is reseeded with a verbatim copy of signal. The signal must already
// have passed CheckSignal.
func (p Policy) Next(old, signal []float32, strength float64) []float32 {
	out := make([]float32, len(signal))
	if len(old) != len(signal) {
		copy(out, signal)
		return out
	}
	a := p.Alpha(strength)
	for i := range signal {
		out[i] = float32((1-a)*float64(old[i]) + a*float64(signal[i]))
	}
	if p.Normalize && !normalize.L2NormalizeInPlace(out) {
		// Exact cancellation; fall back to the signal direction.
		copy(out, signal)
		normalize.L2NormalizeInPlace(out)
	}
	return out
}
