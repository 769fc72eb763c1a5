package normalize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestL2NormalizeInPlace(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, L2NormalizeInPlace(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.False(t, L2NormalizeInPlace(zero))
	assert.Equal(t, []float32{0, 0}, zero)

	assert.False(t, L2NormalizeInPlace(nil))
}

func TestUnitCopy_DoesNotMutate(t *testing.T) {
	v := []float32{0, 2}
	u := UnitCopy(v)
	assert.Equal(t, []float32{0, 2}, v)
	assert.Equal(t, []float32{0, 1}, u)
	assert.Nil(t, UnitCopy([]float32{0, 0, 0}))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 3}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 1}, []float32{-2, -2}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))

	a := []float32{1, 0, 0}
	b := []float32{0.95, float32(math.Sqrt(1 - 0.95*0.95)), 0}
	assert.InDelta(t, 0.95, Cosine(a, b), 1e-6)
}
