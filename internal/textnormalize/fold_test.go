package textnormalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "breaking news today", Fold("  BREAKING:  News -- today! "))
	assert.Equal(t, "abc 123", Fold("ＡＢＣ　１２３"))
	assert.Equal(t, "", Fold("  ...  "))
}

func TestContainsAny(t *testing.T) {
	assert.True(t, ContainsAny("[LIVE] Election night", []string{"live"}))
	assert.True(t, ContainsAny("속보: 삼성 주가 상승", []string{"속보"}))
	assert.False(t, ContainsAny("Election night", []string{"live", ""}))
	assert.False(t, ContainsAny("anything", nil))
}

func TestLength_CountsRunes(t *testing.T) {
	assert.Equal(t, 8, Length("삼성 주가 상승 "))
	assert.Equal(t, 5, Length("  hello  "))
}

func TestASCII(t *testing.T) {
	assert.Equal(t, "cafe", ASCII("Café"))
}
