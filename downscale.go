package basd

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// DownscaleBounds describes the optional physical bounds/thresholds a
// downscaled variable must respect, shared across the whole downscaling
// run (unlike bias adjustment, the reference downscaling routine uses one
// bound/threshold pair per variable, not one per period).
type DownscaleBounds struct {
	HasLowerBound     bool
	LowerBound        float64
	HasLowerThreshold bool
	LowerThreshold    float64
	HasUpperBound     bool
	UpperBound        float64
	HasUpperThreshold bool
	UpperThreshold    float64
}

// DownscaleWindowData holds the three inputs to one calendar-month (or
// other window) of statistical downscaling for a single coarse cell's fine
// neighborhood: fine-resolution observations, the coarse simulation
// (broadcast to every fine cell it covers), and that same coarse
// simulation bilinearly remapped onto the fine grid.
type DownscaleWindowData struct {
	ObsFine           *mat.Dense // M x N
	SimCoarse         []float64  // M
	SimCoarseRemapbil *mat.Dense // M x N
}

// DownscaleOneWindow applies the weighted-sum-preserving MBCn algorithm to
// one window of data for one coarse cell's fine neighborhood: invalid
// values are resampled, censored values are randomized with a high power
// (keeping most of them close to their bound so the preserved weighted sum
// stays close to the original coarse value), the modified MBCn algorithm
// downscales obs_fine/sim_coarse onto sim_coarse_remapbil's shape, and
// censored values are de-randomized back onto their bounds.
// rotationMatrices are generated once per run and shared read-only across
// all coarse cells and windows.
func DownscaleOneWindow(data DownscaleWindowData, longTermMean map[string]float64, sumWeights []float64, bounds DownscaleBounds, rng *rand.Rand, nQuantiles int, rotationMatrices []*mat.Dense) *mat.Dense {
	m, n := data.ObsFine.Dims()

	obsFineFlat := flattenColMajor(data.ObsFine)
	simCoarseRemapbilFlat := flattenColMajor(data.SimCoarseRemapbil)

	obsFineReplaced, _, _ := SampleInvalidValues(obsFineFlat, rng, longTermMean["obs_fine"])
	simCoarseReplaced, _, _ := SampleInvalidValues(data.SimCoarse, rng, longTermMean["sim_coarse"])
	remapbilReplaced, _, _ := SampleInvalidValues(simCoarseRemapbilFlat, rng, longTermMean["sim_coarse_remapbil"])

	lb, lt, ub, ut := bounds.LowerBound, bounds.LowerThreshold, bounds.UpperBound, bounds.UpperThreshold
	hasLower := bounds.HasLowerBound && bounds.HasLowerThreshold
	hasUpper := bounds.HasUpperBound && bounds.HasUpperThreshold

	RandomizeCensoredValues(obsFineReplaced, rng, lb, lt, hasLower, ub, ut, hasUpper, false, 10., 10.)
	RandomizeCensoredValues(simCoarseReplaced, rng, lb, lt, hasLower, ub, ut, hasUpper, false, 10., 10.)
	RandomizeCensoredValues(remapbilReplaced, rng, lb, lt, hasLower, ub, ut, hasUpper, false, 10., 10.)

	obsFine := unflattenColMajor(obsFineReplaced, m, n)
	simCoarseRemapbil := unflattenColMajor(remapbilReplaced, m, n)

	xSimFine := WeightedSumPreservingMBCN(obsFine, simCoarseRemapbil, simCoarseReplaced, sumWeights, rotationMatrices, nQuantiles)

	xSimFineFlat := flattenColMajor(xSimFine)
	RandomizeCensoredValues(xSimFineFlat, rng, lb, lt, hasLower, ub, ut, hasUpper, true, 1., 1.)

	return unflattenColMajor(xSimFineFlat, m, n)
}

func flattenColMajor(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

func unflattenColMajor(x []float64, rows, cols int) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	k := 0
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			m.Set(i, j, x[k])
			k++
		}
	}
	return m
}
