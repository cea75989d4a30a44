package loyalty

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocationMinimums(t *testing.T) {
	got, err := ParseLocationMinimums(" bog01:10000, med02:2500.5 ,")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got["BOG01"].Equal(decimal.NewFromInt(10000)))
	assert.True(t, got["MED02"].Equal(decimal.RequireFromString("2500.5")))

	empty, err := ParseLocationMinimums("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, bad := range []string{"BOG01", ":100", "BOG01:abc", "BOG01:-1"} {
		_, err := ParseLocationMinimums(bad)
		assert.Error(t, err, bad)
	}
}

func TestAmountPolicy_NoCeiling(t *testing.T) {
	p := AmountPolicy{}
	assert.NoError(t, p.Validate(decimal.NewFromInt(50_000_000), "X"))
	assert.Error(t, p.Validate(decimal.Zero, "X"))
}

func TestWrapStore(t *testing.T) {
	assert.NoError(t, WrapStore("op", nil))

	nf := &NotFoundError{Kind: KindVisit, ID: "v1"}
	assert.Same(t, nf, WrapStore("op", nf))

	wrapped := WrapStore("load visit", assert.AnError)
	assert.ErrorIs(t, wrapped, ErrStore)
	assert.ErrorIs(t, wrapped, assert.AnError)
	assert.Equal(t, OutcomeStoreError, Classify(wrapped))
}
