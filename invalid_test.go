package basd

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRandomizeCensoredRoundTrip covers P7: randomize_censored followed by
// its inverse restores exactly the values at lower_bound/upper_bound while
// leaving non-censored entries untouched.
func TestRandomizeCensoredRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	x := []float64{-1, 0, 0, 0.5, 3, 5, 5, 5, 6, 10}
	orig := append([]float64(nil), x...)

	lowerBound, lowerThreshold := -2., 0.
	upperBound, upperThreshold := 10., 5.

	RandomizeCensoredValues(x, rng, lowerBound, lowerThreshold, true, upperBound, upperThreshold, true, false, 1, 1)

	for i, v := range orig {
		switch {
		case v <= lowerThreshold:
			require.GreaterOrEqual(t, x[i], lowerBound)
			require.LessOrEqual(t, x[i], lowerThreshold)
		case v >= upperThreshold:
			require.GreaterOrEqual(t, x[i], upperThreshold)
			require.LessOrEqual(t, x[i], upperBound)
		default:
			assert.Equal(t, v, x[i], "non-censored entries must be untouched")
		}
	}

	RandomizeCensoredValues(x, rng, lowerBound, lowerThreshold, true, upperBound, upperThreshold, true, true, 1, 1)
	for i, v := range orig {
		switch {
		case v <= lowerThreshold:
			assert.Equal(t, lowerBound, x[i])
		case v >= upperThreshold:
			assert.Equal(t, upperBound, x[i])
		default:
			assert.Equal(t, v, x[i])
		}
	}
}

func TestSampleInvalidValuesAllInvalidUsesFallback(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := []float64{math.NaN(), math.Inf(1), math.NaN()}
	out, n, ok := SampleInvalidValues(x, rng, 42)
	assert.False(t, ok)
	assert.Equal(t, 3, n)
	for _, v := range out {
		assert.Equal(t, 42., v)
	}
}

func TestSampleInvalidValuesPreservesValid(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := []float64{1, 2, math.NaN(), 4, 5}
	out, n, ok := SampleInvalidValues(x, rng, 0)
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1., out[0])
	assert.Equal(t, 2., out[1])
	assert.Equal(t, 4., out[3])
	assert.Equal(t, 5., out[4])
	assert.False(t, math.IsNaN(out[2]))
	assert.GreaterOrEqual(t, out[2], 1.)
	assert.LessOrEqual(t, out[2], 5.)
}

// TestSampleInvalidValuesFollowsLocalRankOrder checks the two-stage
// draw-then-reshuffle behavior: replacement magnitudes are assigned to the
// invalid positions in the rank order implied by the surrounding valid
// values, so a monotone series gets monotone replacements.
func TestSampleInvalidValuesFollowsLocalRankOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	increasing := []float64{1, 2, math.NaN(), 4, math.NaN(), 6, math.NaN(), 8}
	out, n, ok := SampleInvalidValues(increasing, rng, 0)
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	require.False(t, math.IsNaN(out[2]) || math.IsNaN(out[4]) || math.IsNaN(out[6]))
	assert.LessOrEqual(t, out[2], out[4], "replacements must follow the increasing local trend")
	assert.LessOrEqual(t, out[4], out[6], "replacements must follow the increasing local trend")

	decreasing := []float64{8, 6, math.NaN(), 4, math.NaN(), 2, math.NaN(), 1}
	out, _, ok = SampleInvalidValues(decreasing, rng, 0)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, out[2], out[4], "replacements must follow the decreasing local trend")
	assert.GreaterOrEqual(t, out[4], out[6], "replacements must follow the decreasing local trend")
}

func TestAllInvalid(t *testing.T) {
	assert.True(t, AllInvalid([]float64{math.NaN(), math.NaN()}, []float64{1, 2}))
	assert.False(t, AllInvalid([]float64{1, math.NaN()}, []float64{1, 2}))
}
