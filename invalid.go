package basd

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// IsInvalid reports whether v should be treated as a missing value: NaN or
// +/-Inf. No fill-value comparison is made here or in CDFGridStore.ReadCell
// (gridstore.go), which returns a NetCDF _FillValue as an ordinary number,
// so a fill value is treated as invalid only if it is stored as NaN or Inf.
func IsInvalid(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// SampleInvalidValues replaces invalid entries of a with values resampled
// from the valid entries of a: replacement magnitudes are drawn from the
// empirical quantile function of the valid values at uniformly-random
// probabilities, then assigned to the invalid positions so their rank order
// follows the rank order of the neighboring valid values (the rank curve of
// the valid values, linearly interpolated at the invalid indices), which
// mimics the local trend in the data instead of scattering replacements
// independently. If every value is invalid, every entry is set to
// ifAllInvalidUse and ok is reported false.
func SampleInvalidValues(a []float64, rng *rand.Rand, ifAllInvalidUse float64) (out []float64, nReplaced int, ok bool) {
	out = append([]float64(nil), a...)
	validIdx := make([]int, 0, len(a))
	invalidIdx := make([]int, 0)
	for i, v := range a {
		if IsInvalid(v) {
			invalidIdx = append(invalidIdx, i)
		} else {
			validIdx = append(validIdx, i)
		}
	}
	if len(invalidIdx) == 0 {
		return out, 0, true
	}
	if len(validIdx) == 0 {
		for i := range out {
			out[i] = ifAllInvalidUse
		}
		return out, len(a), false
	}
	valid := make([]float64, len(validIdx))
	for i, idx := range validIdx {
		valid[i] = a[idx]
	}

	pSampled := make([]float64, len(invalidIdx))
	for i := range pSampled {
		pSampled[i] = rng.Float64()
	}
	sampled := Percentile1D(valid, pSampled)

	if len(valid) == 1 {
		for k, idx := range invalidIdx {
			out[idx] = sampled[k]
		}
		return out, len(invalidIdx), true
	}

	// interpolate the rank curve of the valid values at the invalid indices
	// and hand out the sorted sampled magnitudes in that rank order.
	validPos := make([]float64, len(validIdx))
	for i, idx := range validIdx {
		validPos[i] = float64(idx)
	}
	validRanks := make([]float64, len(valid))
	for i, r := range rankIndices(valid) {
		validRanks[i] = float64(r)
	}
	rankAtInvalid := make([]float64, len(invalidIdx))
	for k, idx := range invalidIdx {
		rankAtInvalid[k] = interpLinearExtrapolate(float64(idx), validPos, validRanks)
	}
	rSampled := rankIndices(rankAtInvalid)
	sort.Float64s(sampled)
	for k, idx := range invalidIdx {
		out[idx] = sampled[rSampled[k]]
	}
	return out, len(invalidIdx), true
}

// interpLinearExtrapolate linearly interpolates (xp, fp) at x, continuing
// the first/last segment's slope beyond the ends of xp (which must be
// strictly increasing and hold at least two points).
func interpLinearExtrapolate(x float64, xp, fp []float64) float64 {
	n := len(xp)
	j := sort.SearchFloat64s(xp, x)
	if j <= 0 {
		j = 1
	}
	if j >= n {
		j = n - 1
	}
	x0, x1 := xp[j-1], xp[j]
	f0, f1 := fp[j-1], fp[j]
	return f0 + (f1-f0)*(x-x0)/(x1-x0)
}

// AverageValidValues returns the mean of the valid (non-invalid) entries of
// a, or ifAllInvalidUse if none are valid.
func AverageValidValues(a []float64, ifAllInvalidUse float64) float64 {
	var sum float64
	var n int
	for _, v := range a {
		if !IsInvalid(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return ifAllInvalidUse
	}
	return sum / float64(n)
}

// RandomizeCensoredValues replaces values at or beyond lowerThreshold /
// upperThreshold with random draws from the half-open interval between the
// threshold and the corresponding bound, preserving the relative rank order
// of the censored values via a random tie-breaker. Passing inverse=true
// instead collapses every censored value onto its bound (de-randomization
// is not invertible exactly, so re-censoring is used to undo a prior
// randomization pass). x is modified in place; pass a copy to preserve the
// input.
func RandomizeCensoredValues(x []float64, rng *rand.Rand, lowerBound, lowerThreshold float64, hasLower bool, upperBound, upperThreshold float64, hasUpper bool, inverse bool, lowerPower, upperPower float64) {
	if hasLower {
		randomizeCensoredCore(x, rng, lowerBound, lowerThreshold, inverse, lowerPower, true)
	}
	if hasUpper {
		randomizeCensoredCore(x, rng, upperBound, upperThreshold, inverse, upperPower, false)
	}
}

func randomizeCensoredCore(y []float64, rng *rand.Rand, bound, threshold float64, inverse bool, power float64, lower bool) {
	idx := make([]int, 0)
	for i, v := range y {
		if (lower && v <= threshold) || (!lower && v >= threshold) {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return
	}
	if inverse {
		for _, i := range idx {
			y[i] = bound
		}
		return
	}
	n := len(idx)
	draws := make([]float64, n)
	for i := range draws {
		draws[i] = bound + math.Pow(rng.Float64(), power)*(threshold-bound)
	}
	sort.Float64s(draws)

	// random tie-broken ranking of the censored subset, mirroring the
	// pandas sample(frac=1).rank(method='first') idiom in the reference
	// implementation.
	perm := rng.Perm(n)
	ranks := make([]int, n)
	sortedByValue := make([]int, n)
	for i := range sortedByValue {
		sortedByValue[i] = i
	}
	sort.SliceStable(sortedByValue, func(a, b int) bool {
		va, vb := y[idx[perm[sortedByValue[a]]]], y[idx[perm[sortedByValue[b]]]]
		if va != vb {
			return va < vb
		}
		return sortedByValue[a] < sortedByValue[b]
	})
	for rank, pos := range sortedByValue {
		ranks[perm[pos]] = rank
	}
	for localIdx, globalIdx := range idx {
		y[globalIdx] = draws[ranks[localIdx]]
	}
}

// CheckNoInvalid returns an error naming the first NaN or Inf left in an
// adjusted output series. Invalid values surviving adjustment are a hard
// failure for the cell, not a warning.
func CheckNoInvalid(x []float64) error {
	for i, v := range x {
		if IsInvalid(v) {
			return fmt.Errorf("basd: invalid value %v at time index %d in adjusted output", v, i)
		}
	}
	return nil
}

// AllInvalid reports whether any series in data contains only invalid
// values, used as the cheap cell-skip predicate before any adjustment work
// begins.
func AllInvalid(data ...[]float64) bool {
	for _, series := range data {
		hasValid := false
		for _, v := range series {
			if !IsInvalid(v) {
				hasValid = true
				break
			}
		}
		if !hasValid {
			return true
		}
	}
	return false
}
