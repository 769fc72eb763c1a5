package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseRRF(t *testing.T) {
	hits := FuseRRF([][]string{
		{"a", "b", "c"},
		{"c", "a"},
	}, RRFOptions{})
	require.Len(t, hits, 3)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0/61+1.0/62, hits[0].Score, 1e-12)
	assert.Equal(t, "c", hits[1].ID)
	assert.Equal(t, "b", hits[2].ID)
}

func TestFuseRRF_WeightsAndDuplicates(t *testing.T) {
	hits := FuseRRF([][]string{
		{"x", "x", "y"},
		{"y"},
	}, RRFOptions{K: 1, Weights: []float64{1, 3}})
	require.Len(t, hits, 2)
	assert.Equal(t, "y", hits[0].ID)
	assert.InDelta(t, 1.0/4+3.0/2, hits[0].Score, 1e-12)
	assert.InDelta(t, 1.0/2, hits[1].Score, 1e-12)
}

func TestFuseRRF_TiesByID(t *testing.T) {
	hits := FuseRRF([][]string{{"b"}, {"a"}}, RRFOptions{})
	require.Len(t, hits, 2)
	assert.Equal(t, []string{"a", "b"}, []string{hits[0].ID, hits[1].ID})
}

func TestFuseRRF_ZeroWeightDropsList(t *testing.T) {
	hits := FuseRRF([][]string{{"a"}, {"b"}}, RRFOptions{Weights: []float64{0, 1}})
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}
