package normalize

import "math"

// L2NormalizeInPlace normalizes vec to unit L2 norm and reports whether it
// could. Empty and all-zero vectors are left unchanged and return false.
func L2NormalizeInPlace(vec []float32) bool {
	n := Norm(vec)
	if n == 0 {
		return false
	}
	inv := 1.0 / n
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return true
}

// UnitCopy returns an L2-normalized copy of vec, or nil when vec has no
// direction.
func UnitCopy(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	if !L2NormalizeInPlace(out) {
		return nil
	}
	return out
}

// Norm is the L2 norm accumulated in float64.
func Norm(vec []float32) float64 {
	var sumSq float64
	for _, v := range vec {
		f := float64(v)
		sumSq += f * f
	}
	if sumSq <= 0 || math.IsNaN(sumSq) || math.IsInf(sumSq, 0) {
		return 0
	}
	return math.Sqrt(sumSq)
}

// Dot assumes equal lengths; extra entries of the longer slice are ignored.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Cosine returns the cosine similarity of two raw vectors. Mismatched lengths
// and zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return clampUnit(Dot(a, b) / (na * nb))
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
