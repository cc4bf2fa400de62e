package basd

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownscaleOneWindowPreservesWeightedSum(t *testing.T) {
	rng := rand.New(rand.NewSource(55))
	m, n := 30, 4

	mkMat := func(mean float64) *mat.Dense {
		d := mat.NewDense(m, n, nil)
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				d.Set(i, j, mean+rng.Float64()*2)
			}
		}
		return d
	}
	obsFine := mkMat(3)
	simRemapbil := mkMat(4)
	simCoarse := make([]float64, m)
	for i := 0; i < m; i++ {
		var mean float64
		for j := 0; j < n; j++ {
			mean += simRemapbil.At(i, j)
		}
		simCoarse[i] = mean / float64(n)
	}

	weights := []float64{.25, .25, .25, .25}
	data := DownscaleWindowData{ObsFine: obsFine, SimCoarse: simCoarse, SimCoarseRemapbil: simRemapbil}
	longTermMean := map[string]float64{"obs_fine": 3, "sim_coarse": 4, "sim_coarse_remapbil": 4}

	out := DownscaleOneWindow(data, longTermMean, weights, DownscaleBounds{}, rng, 15, randomRotations(rng, n, 8))

	mOut, nOut := out.Dims()
	require.Equal(t, m, mOut)
	require.Equal(t, n, nOut)
	// the final rotation's quantile mapping skips the sum-restoration step,
	// so preservation is approximate; the residual must stay far below the
	// one-unit obs-sim offset the restoration corrects.
	for i := 0; i < m; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			sum += weights[j] * out.At(i, j)
		}
		assert.InDelta(t, simCoarse[i], sum, .5)
	}
}

func TestDownscaleOneCoarseCellCoversAllMonths(t *testing.T) {
	rng := rand.New(rand.NewSource(56))
	n := 4
	months := make([]int, 0, 365)
	for mo := 1; mo <= 12; mo++ {
		for d := 0; d < 28; d++ {
			months = append(months, mo)
		}
	}
	tSteps := len(months)

	mkMat := func(mean float64) *mat.Dense {
		d := mat.NewDense(tSteps, n, nil)
		for i := 0; i < tSteps; i++ {
			for j := 0; j < n; j++ {
				d.Set(i, j, mean+rng.Float64())
			}
		}
		return d
	}
	obsFine := mkMat(3)
	simRemapbil := mkMat(4)
	simCoarse := make([]float64, tSteps)
	for i := 0; i < tSteps; i++ {
		var mean float64
		for j := 0; j < n; j++ {
			mean += simRemapbil.At(i, j)
		}
		simCoarse[i] = mean / float64(n)
	}

	data := CoarseCellPeriod{ObsFine: obsFine, SimCoarse: simCoarse, SimCoarseRemapbil: simRemapbil, Months: months}
	weights := []float64{.25, .25, .25, .25}
	longTermMean := map[string]float64{"obs_fine": 3, "sim_coarse": 4, "sim_coarse_remapbil": 4}

	out := DownscaleOneCoarseCell(data, longTermMean, weights, DownscaleBounds{}, rng, 15, randomRotations(rng, n, 8))
	mOut, nOut := out.Dims()
	require.Equal(t, tSteps, mOut)
	require.Equal(t, n, nOut)
	for i := 0; i < tSteps; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			sum += weights[j] * out.At(i, j)
		}
		assert.InDelta(t, simCoarse[i], sum, .5)
	}
}
