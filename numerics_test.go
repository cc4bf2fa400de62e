package basd

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPercentile1DMonotoneAndBounds covers P1: percentile1d is monotone
// non-decreasing in p and equals min/max at p=0/1.
func TestPercentile1DMonotoneAndBounds(t *testing.T) {
	a := []float64{5, 1, 9, 3, 7, 2, 8}
	p := []float64{0, .1, .25, .5, .75, .9, 1}
	out := Percentile1D(a, p)

	assert.Equal(t, 1., out[0], "p=0 must equal min(a)")
	assert.Equal(t, 9., out[len(out)-1], "p=1 must equal max(a)")
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i], out[i-1], "percentile1d must be monotone non-decreasing in p")
	}
}

// TestCREMatrixOrthogonal covers P2: cre_matrix(n) is orthogonal.
func TestCREMatrixOrthogonal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, n := range []int{2, 3, 5} {
		m := CREMatrix(n, func(k int) []float64 {
			out := make([]float64, k)
			for i := range out {
				out[i] = rng.NormFloat64()
			}
			return out
		})
		assertOrthogonal(t, m, n)
	}
}

// TestFixedFirstAxisMatrix covers P3: fixed_first_axis(v) is orthogonal and
// its first row equals v/|v|.
func TestFixedFirstAxisMatrix(t *testing.T) {
	v := []float64{1, 2, 2}
	norm := 3.
	n := len(v)

	m := FixedFirstAxisMatrix(v, false)
	assertOrthogonal(t, m, n)
	for i := 0; i < n; i++ {
		assert.InDelta(t, v[i]/norm, m.At(i, 0), 1e-9, "first column must equal v/|v| when transpose is false")
	}

	mt := FixedFirstAxisMatrix(v, true)
	assertOrthogonal(t, mt, n)
	for j := 0; j < n; j++ {
		assert.InDelta(t, v[j]/norm, mt.At(0, j), 1e-9, "first row must equal v/|v| when transpose is true")
	}
}

func assertOrthogonal(t *testing.T, m interface{ At(i, j int) float64 }, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var dot float64
			for k := 0; k < n; k++ {
				dot += m.At(i, k) * m.At(j, k)
			}
			want := 0.
			if i == j {
				want = 1.
			}
			assert.InDelta(t, want, dot, 1e-9, "O.O^T must equal I")
		}
	}
}

// TestCCSTransferSim2ObsIdempotentAndBounded covers P6: ccs_transfer_sim2obs
// returns f and stays within [lo, hi] when s == o.
func TestCCSTransferSim2ObsIdempotentAndBounded(t *testing.T) {
	lo, hi := 0., 1.
	obsHist := []float64{.2, .5, .8}
	simHist := obsHist
	simFut := []float64{.1, .6, .95}

	out := CCSTransferSim2Obs(obsHist, simHist, simFut, lo, hi)
	for i := range out {
		assert.InDelta(t, simFut[i], out[i], 1e-12, "s == o must return f unchanged")
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		o := rng.Float64()
		s := rng.Float64()
		f := rng.Float64()
		v := CCSTransferSim2Obs([]float64{o}, []float64{s}, []float64{f}, lo, hi)[0]
		require.GreaterOrEqual(t, v, lo)
		require.LessOrEqual(t, v, hi)
	}
}

// TestIdentityBiasCorrection covers end-to-end scenario 1: obs_hist ==
// sim_hist, additive trend preservation, no bounds, reproduces sim_fut.
func TestIdentityBiasCorrection(t *testing.T) {
	xOH := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	xSH := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	xSF := []float64{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	opts := DefaultTrendPreservingOptions()
	opts.NQuantiles = 9
	y := MapQuantilesNonParametricTrendPreserving(xOH, xSH, xSF, opts)
	for i := range y {
		assert.InDelta(t, xSF[i], y[i], 1e-9)
	}
}

// TestAdditiveShiftBiasCorrection covers end-to-end scenario 2: obs_hist is
// a constant additive shift of sim_hist, so the output equals sim_fut
// shifted by the same amount.
func TestAdditiveShiftBiasCorrection(t *testing.T) {
	xSH := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	xOH := make([]float64, len(xSH))
	for i, v := range xSH {
		xOH[i] = v + 10
	}
	xSF := []float64{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	opts := DefaultTrendPreservingOptions()
	opts.NQuantiles = 9
	y := MapQuantilesNonParametricTrendPreserving(xOH, xSH, xSF, opts)
	for i := range y {
		assert.InDelta(t, xSF[i]+10, y[i], 1e-9)
	}
}

// TestMultiplicativeZeroSimHistNoNaN covers end-to-end scenario 3: a zero in
// sim_hist must not propagate NaN (a zero sim_hist quantile gets a change
// factor of 1 instead of a division by zero).
func TestMultiplicativeZeroSimHistNoNaN(t *testing.T) {
	xOH := []float64{1, 2, 3, 4, 5}
	xSH := []float64{0, 2, 3, 4, 5}
	xSF := []float64{1, 2, 3, 4, 50}

	opts := DefaultTrendPreservingOptions()
	opts.Method = Multiplicative
	opts.NQuantiles = 4
	opts.MaxChangeFactor = 10
	y := MapQuantilesNonParametricTrendPreserving(xOH, xSH, xSF, opts)
	for _, v := range y {
		assert.False(t, math.IsNaN(v), "multiplicative mapping must not produce NaN")
	}
}

// TestDetrendSignificantVsFlat exercises SubtractTrend/AddTrend: a strong
// linear multi-year trend is detected and round-trips exactly, while a flat
// series with no real trend is left alone.
func TestDetrendSignificantVsFlat(t *testing.T) {
	years := []int{2000, 2000, 2001, 2001, 2002, 2002, 2003, 2003}
	x := []float64{0, 0, 10, 10, 20, 20, 30, 30}
	dr := SubtractTrend(x, years)
	assert.NotEqual(t, 0., dr.Trend[len(dr.Trend)-1], "a strong trend must be detected")

	restored := AddTrend(dr.Detrended, years, dr.UniqueYears, dr.Trend)
	for i := range x {
		assert.InDelta(t, x[i], restored[i], 1e-9)
	}

	rng := rand.New(rand.NewSource(7))
	flat := make([]float64, 40)
	flatYears := make([]int, 40)
	for i := range flat {
		flatYears[i] = 2000 + i/4
		flat[i] = 5 + .01*rng.NormFloat64()
	}
	drFlat := SubtractTrend(flat, flatYears)
	for _, v := range drFlat.Trend {
		assert.Equal(t, 0., v, "an insignificant trend must not be removed")
	}
}

// TestFitDistributionBeta covers end-to-end scenario 4: a beta fit over
// bounded data produces parameters within the valid domain and a CDF in
// [0, 1].
func TestFitDistributionBeta(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	betaSample := func(a, b float64, n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = sampleBetaApprox(rng, a, b)
		}
		return out
	}
	xObsHist := betaSample(2, 5, 300)
	xSimFut := betaSample(3, 3, 300)

	for i := range xObsHist {
		xObsHist[i] = .01 + xObsHist[i]*.98
		xSimFut[i] = .01 + xSimFut[i]*.98
	}

	params, ok := FitDistribution(Beta, xObsHist, .01, .98, true)
	require.True(t, ok, "beta fit should succeed on well-behaved bounded data")
	assert.True(t, CheckShapeLocScale(params))
	for _, x := range xSimFut {
		c := CDF(params, x)
		assert.GreaterOrEqual(t, c, 0.)
		assert.LessOrEqual(t, c, 1.)
	}
}

// sampleBetaApprox draws an approximate Beta(a,b) sample via the
// gamma-ratio construction, good enough for a statistical regression test.
func sampleBetaApprox(rng *rand.Rand, a, b float64) float64 {
	ga := sampleGammaApprox(rng, a)
	gb := sampleGammaApprox(rng, b)
	return ga / (ga + gb)
}

func sampleGammaApprox(rng *rand.Rand, shape float64) float64 {
	// Marsaglia-Tsang for shape >= 1; boost small shapes.
	if shape < 1 {
		u := rng.Float64()
		return sampleGammaApprox(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1./3.
	c := 1. / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < .5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// TestCCSClimatologyFactorBounded covers P9: the CCS climatology change
// factor lies in [0.1, 10].
func TestCCSClimatologyFactorBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	obsHist := make([]float64, 50)
	simHist := make([]float64, 50)
	simFut := make([]float64, 50)
	for i := range obsHist {
		obsHist[i] = rng.Float64() * 10
		simHist[i] = rng.Float64() * 10
		if i%7 == 0 {
			simHist[i] = 0
		}
		simFut[i] = rng.Float64() * 1000
	}
	out := CCSTransferSim2ObsUpperBoundClimatology(obsHist, simHist, simFut)
	for i := range out {
		if obsHist[i] == 0 {
			continue
		}
		factor := out[i] / obsHist[i]
		assert.GreaterOrEqual(t, factor, .1-1e-9)
		assert.LessOrEqual(t, factor, 10.+1e-9)
	}
}
