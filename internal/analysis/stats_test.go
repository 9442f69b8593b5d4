package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	t.Parallel()
	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	assert.InDelta(t, 5.5, Percentile(xs, 50), 1e-9)
	assert.InDelta(t, 9.55, Percentile(xs, 95), 1e-9)
	assert.InDelta(t, 1, Percentile(xs, 0), 1e-9)
	assert.InDelta(t, 10, Percentile(xs, 100), 1e-9)
}

func TestPercentileSingleValueAndEmpty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, Percentile(nil, 95))
	assert.Equal(t, 42.0, Percentile([]float64{42}, 95))
}

func TestPercentileDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	xs := []float64{3, 1, 2}
	_ = Percentile(xs, 50)
	assert.Equal(t, []float64{3, 1, 2}, xs)
}

func TestPopStd(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 2.0, PopStd([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
	assert.Equal(t, 0.0, PopStd([]float64{5, 5, 5}))
	assert.Equal(t, 0.0, PopStd(nil))
}

func TestSequenceRatio(t *testing.T) {
	t.Parallel()
	require.Equal(t, 1.0, SequenceRatio("abc", "abc"))
	assert.Equal(t, 0.0, SequenceRatio("abc", "xyz"))
	assert.Equal(t, 0.0, SequenceRatio("", ""))

	// One shared block of 4 chars out of 4+8 total.
	got := SequenceRatio("abcd", "xxabcdxx")
	assert.InDelta(t, 2.0*4/12, got, 1e-9)

	// Near-identical phishing URLs should score high.
	sim := SequenceRatio(
		"http://pay-secure.example.com/checkout",
		"http://pay-secure.example.com/checkout2",
	)
	assert.Greater(t, sim, 0.9)
}

func TestClamp01(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 1.0, Clamp01(1.5))
	assert.Equal(t, 0.25, Clamp01(0.25))
}
