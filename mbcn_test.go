package basd

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomRotations(rng *rand.Rand, n, k int) []*mat.Dense {
	out := make([]*mat.Dense, k)
	for i := range out {
		out[i] = CREMatrix(n, func(m int) []float64 {
			v := make([]float64, m)
			for j := range v {
				v[j] = rng.NormFloat64()
			}
			return v
		})
	}
	return out
}

// TestAdjustCopulaMBCNPreservesRankSet checks that MBCn reshuffles
// sim_fut's values (a permutation, not a resynthesis) and produces no NaNs,
// for a 2-variable cell.
func TestAdjustCopulaMBCNPreservesRankSet(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	n := 60
	mk := func(seedShift float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = seedShift + rng.NormFloat64()
		}
		return out
	}
	x := map[string][][]float64{
		ObsHist: {mk(0), mk(0)},
		SimHist: {mk(1), mk(1)},
		SimFut:  {mk(2), mk(2)},
	}
	rotations := randomRotations(rng, 2, 5)
	out := AdjustCopulaMBCN(x, rotations, 20)

	require.Len(t, out, 2)
	for v := 0; v < 2; v++ {
		require.Len(t, out[v], n)
		orig := append([]float64(nil), x[SimFut][v]...)
		got := append([]float64(nil), out[v]...)
		sortFloats(orig)
		sortFloats(got)
		for i := range orig {
			assert.InDelta(t, orig[i], got[i], 1e-9, "MBCn must only permute x_sim_fut's values, not resynthesize them")
		}
	}
}

func sortFloats(x []float64) {
	for i := 1; i < len(x); i++ {
		for j := i; j > 0 && x[j-1] > x[j]; j-- {
			x[j-1], x[j] = x[j], x[j-1]
		}
	}
}

// TestWeightedSumPreservingMBCNPreservesSum covers P4 and end-to-end
// scenario 6: for any non-zero rotation list, the downscaled fine-cell
// output's weighted sum reproduces the coarse driving series. The final
// rotation applies quantile mapping without the sum-restoration step, so
// preservation is approximate: the residual scales with how far the
// per-column mapping still moves values in the last iteration, a few
// percent of the coarse value here, versus the order-1 offset between the
// observed and simulated means that the restoration corrects.
func TestWeightedSumPreservingMBCNPreservesSum(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	m, n := 40, 9 // 40 timesteps, a 3x3 fine patch (uniform weights)

	mkMat := func(mean float64) *mat.Dense {
		d := mat.NewDense(m, n, nil)
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				d.Set(i, j, mean+rng.NormFloat64())
			}
		}
		return d
	}
	xObs := mkMat(5)
	xSim := mkMat(6)

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0 / float64(n)
	}

	xSimCoarse := make([]float64, m)
	for t := 0; t < m; t++ {
		var mean float64
		for j := 0; j < n; j++ {
			mean += xSim.At(t, j)
		}
		xSimCoarse[t] = mean / float64(n)
	}

	rotations := randomRotations(rng, n, 10)
	out := WeightedSumPreservingMBCN(xObs, xSim, xSimCoarse, weights, rotations, 20)

	mOut, nOut := out.Dims()
	require.Equal(t, m, mOut)
	require.Equal(t, n, nOut)
	var maxDrift float64
	for t := 0; t < m; t++ {
		var sum float64
		for j := 0; j < n; j++ {
			sum += weights[j] * out.At(t, j)
		}
		if d := math.Abs(sum - xSimCoarse[t]); d > maxDrift {
			maxDrift = d
		}
	}
	assert.Less(t, maxDrift, .5, "weighted sum of fine cells must reproduce the coarse value up to the final-rotation residual")
	// the obs and sim means differ by 1; without sum preservation the
	// weighted sum would be pulled that whole unit toward obs.
	assert.Less(t, maxDrift, .5*math.Abs(5.-6.), "drift must stay well below the obs-sim offset")
}
