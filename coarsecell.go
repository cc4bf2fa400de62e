package basd

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/mat"
)

// Xipm1 extracts the three points of x surrounding index i (i-1, i, i+1),
// linearly extrapolating beyond the ends of x. It builds the local 3-point
// coarse-grid neighborhood that RemapBilinear interpolates onto the fine
// cells nested inside the coarse cell at i.
func Xipm1(x []float64, i int) []float64 {
	n := len(x)
	if n < 2 {
		panic("basd: x too short")
	}
	var y0 float64
	if i == 0 {
		y0 = 2*x[0] - x[1]
	} else {
		y0 = x[i-1]
	}
	y1 := x[i]
	var y2 float64
	if i == n-1 {
		y2 = 2*x[n-1] - x[n-2]
	} else {
		y2 = x[i+1]
	}
	return []float64{y0, y1, y2}
}

// GridGeometry describes one spatial dimension's coarse-to-fine grid
// nesting, following analyze_input_grids.
type GridGeometry struct {
	DownscalingFactor int
	Ascending         bool
	Circular          bool
}

// ValidateNestedGrid checks that every spatial dimension of the fine grid is
// a uniform integer-fold refinement of the coarse grid, with consistent
// monotonicity and evenly spaced fine cells within every coarse cell, and
// reports ErrGridMismatch otherwise.
func ValidateNestedGrid(coordsCoarse, coordsFine [][]float64) ([]GridGeometry, error) {
	if len(coordsCoarse) != len(coordsFine) {
		return nil, fmt.Errorf("%w: coarse and fine grids have different numbers of spatial dimensions", ErrGridMismatch)
	}
	out := make([]GridGeometry, len(coordsCoarse))
	for dim, x := range coordsCoarse {
		y := coordsFine[dim]
		if len(x) < 2 {
			return nil, fmt.Errorf("dimension %d: %w: coarse grid too short", dim, ErrGridMismatch)
		}
		if len(y) == 0 || len(y)%len(x) != 0 {
			return nil, fmt.Errorf("dimension %d: %w: fine grid length not a multiple of coarse grid length", dim, ErrGridMismatch)
		}
		f := len(y) / len(x)
		if f <= 1 {
			return nil, fmt.Errorf("dimension %d: %w: downscaling factor must exceed 1", dim, ErrGridMismatch)
		}

		dx := diff(x)
		dy := diff(y)
		ascending := allPositive(dx) && allPositive(dy)
		descending := allNegative(dx) && allNegative(dy)
		if !ascending && !descending {
			return nil, fmt.Errorf("dimension %d: %w: inconsistent monotonicity between coarse and fine grids", dim, ErrGridMismatch)
		}

		threeSixty := 360.
		if !ascending {
			threeSixty = -360.
		}
		circular := math.Abs((x[0]-dx[0]+threeSixty)-x[len(x)-1]) < 1e-6*math.Max(1, math.Abs(x[len(x)-1]))

		if err := checkUniformFineSpacing(dy, len(x), f, dim); err != nil {
			return nil, err
		}

		expected := expectedFineCoords(x, dx, f)
		for i := range y {
			if math.Abs(y[i]-expected[i]) > 1e-6*math.Max(1, math.Abs(expected[i])) {
				return nil, fmt.Errorf("dimension %d: %w: fine grid coordinates do not match expected nested positions", dim, ErrGridMismatch)
			}
		}

		out[dim] = GridGeometry{DownscalingFactor: f, Ascending: ascending, Circular: circular}
	}
	return out, nil
}

func diff(x []float64) []float64 {
	out := make([]float64, len(x)-1)
	for i := range out {
		out[i] = x[i+1] - x[i]
	}
	return out
}

func allPositive(x []float64) bool {
	for _, v := range x {
		if v <= 0 {
			return false
		}
	}
	return true
}

func allNegative(x []float64) bool {
	for _, v := range x {
		if v >= 0 {
			return false
		}
	}
	return true
}

// checkUniformFineSpacing verifies that the relative spacing of the f fine
// sub-cells nested inside every coarse cell is the same across all coarse
// cells, i.e. that every coarse cell is subdivided in the same proportions.
func checkUniformFineSpacing(dy []float64, nCoarse, f, dim int) error {
	for j := 0; j < f-1; j++ {
		var ref float64
		haveRef := false
		for k := 0; k < nCoarse; k++ {
			idx := k*f + j
			if idx >= len(dy) {
				continue
			}
			if !haveRef {
				ref = dy[idx]
				haveRef = true
				continue
			}
			if math.Abs(dy[idx]-ref) > 1e-6*math.Max(1, math.Abs(ref)) {
				return fmt.Errorf("dimension %d: %w: non-uniform fine grid spacing within coarse cell", dim, ErrGridMismatch)
			}
		}
	}
	return nil
}

// expectedFineCoords reconstructs the coordinates every fine cell nested
// inside coarse cell x should have, given x's cell widths dx, so that the
// fine grid splits every coarse cell into f equal sub-cells.
func expectedFineCoords(x, dx []float64, f int) []float64 {
	n := len(x)
	s := make([]float64, n)
	for k := 0; k < n; k++ {
		var left, right float64
		if k == 0 {
			left = dx[0]
		} else {
			left = dx[k-1]
		}
		if k == n-1 {
			right = dx[n-2]
		} else {
			right = dx[k]
		}
		s[k] = .5 * (left + right)
	}
	t := make([]float64, f)
	for j := 0; j < f; j++ {
		t[j] = float64(j+1) / float64(f)
	}
	half := .5 * t[0]

	out := make([]float64, n*f)
	idx := 0
	for k := 0; k < n; k++ {
		base := x[k] - .5*s[k]
		for j := 0; j < f; j++ {
			out[idx] = base + s[k]*(t[j]-half)
			idx++
		}
	}
	return out
}

// GridCellWeights computes per-cell area weights for a regular
// latitude-longitude grid, taking grid cell area as proportional to
// cos(lat). dims lists the spatial dimension names in declaration order
// (excluding "time"); coords maps each dimension name to its coordinate
// values. If none of "lat", "latitude", or "rlat" is present, uniform
// weights are returned instead, following grid_cell_weights.
func GridCellWeights(dims []string, coords map[string][]float64) ([]float64, error) {
	shape := make([]int, len(dims))
	size := 1
	for i, d := range dims {
		shape[i] = len(coords[d])
		size *= shape[i]
	}
	weights := make([]float64, size)

	latNamesPotential := []string{"lat", "latitude", "rlat"}
	found := ""
	count := 0
	for _, name := range latNamesPotential {
		if _, ok := coords[name]; ok {
			found = name
			count++
		}
	}
	if count > 1 {
		return nil, fmt.Errorf("%w: found more than one of lat/latitude/rlat in coordinates", ErrGridMismatch)
	}
	if count == 0 {
		for i := range weights {
			weights[i] = 1
		}
		return weights, nil
	}

	lats := coords[found]
	for _, v := range lats {
		if v > 90 || v < -90 {
			return nil, fmt.Errorf("%w: found %s values outside [-90, 90]", ErrGridMismatch, found)
		}
	}
	latDim := -1
	for i, d := range dims {
		if d == found {
			latDim = i
		}
	}
	grid := ndIndexer(shape)
	for flat := range weights {
		idx := grid.IndexNd(flat)
		weights[flat] = math.Cos(lats[idx[latDim]] * math.Pi / 180)
	}
	return weights, nil
}

// ndIndexer builds a *sparse.DenseArray carrying only shape/stride metadata
// (no backing Elements), reused as a row-major flat<->N-d index converter
// the way the teacher's preproc.go indexes its own sparse.DenseArray grids.
func ndIndexer(shape []int) *sparse.DenseArray {
	a := &sparse.DenseArray{Shape: shape}
	a.Fix()
	return a
}

func lowerEdgeAscending(y []float64, x float64) int {
	i := sort.Search(len(y), func(i int) bool { return y[i] >= x }) - 1
	if i < 0 {
		i = 0
	}
	if i > len(y)-2 {
		i = len(y) - 2
	}
	return i
}

func lowerEdgeDescending(y []float64, x float64) int {
	i := sort.Search(len(y), func(i int) bool { return y[i] <= x }) - 1
	if i < 0 {
		i = 0
	}
	if i > len(y)-2 {
		i = len(y) - 2
	}
	return i
}

// RemapBilinear remaps ivalues from igrid onto ogrid using multilinear
// interpolation in len(igrid) spatial dimensions, broadcasting over a
// trailing dimension (such as time) carried alongside every spatial cell.
// NaNs produced where interpolation is impossible (missing neighbor data)
// are replaced by the value of igrid's central cell, following remapbil.
// igrid is expected to hold exactly 3 points per dimension, the local
// neighborhood produced by Xipm1.
func RemapBilinear(ivalues [][]float64, igrid, ogrid [][]float64, ascending []bool) [][]float64 {
	ndim := len(igrid)
	ishape := make([]int, ndim)
	for i, g := range igrid {
		ishape[i] = len(g)
	}
	oshape := make([]int, ndim)
	for i, g := range ogrid {
		oshape[i] = len(g)
	}
	trailing := len(ivalues[0])

	lowerIdx := make([][]int, ndim)
	normDist := make([][]float64, ndim)
	for d := 0; d < ndim; d++ {
		lowerIdx[d] = make([]int, oshape[d])
		normDist[d] = make([]float64, oshape[d])
		for oi, x := range ogrid[d] {
			var i int
			if ascending[d] {
				i = lowerEdgeAscending(igrid[d], x)
			} else {
				i = lowerEdgeDescending(igrid[d], x)
			}
			lowerIdx[d][oi] = i
			normDist[d][oi] = (x - igrid[d][i]) / (igrid[d][i+1] - igrid[d][i])
		}
	}

	igrid_ := ndIndexer(ishape)
	ogrid_ := ndIndexer(oshape)
	oshapeTotal := 1
	for _, s := range oshape {
		oshapeTotal *= s
	}

	centralIdx := make([]int, ndim)
	for d := range centralIdx {
		centralIdx[d] = 1
	}
	centralFlat := igrid_.Index1d(centralIdx...)

	out := make([][]float64, oshapeTotal)
	iidx := make([]int, ndim)
	ncorners := 1 << uint(ndim)
	for oflat := 0; oflat < oshapeTotal; oflat++ {
		oidx := ogrid_.IndexNd(oflat)
		result := make([]float64, trailing)
		for corner := 0; corner < ncorners; corner++ {
			weight := 1.0
			for d := 0; d < ndim; d++ {
				bit := (corner >> uint(d)) & 1
				base := lowerIdx[d][oidx[d]]
				iidx[d] = base + bit
				w := normDist[d][oidx[d]]
				if bit == 0 {
					weight *= 1 - w
				} else {
					weight *= w
				}
			}
			iflat := igrid_.Index1d(iidx...)
			for t := 0; t < trailing; t++ {
				result[t] += weight * ivalues[iflat][t]
			}
		}
		for t := 0; t < trailing; t++ {
			if math.IsNaN(result[t]) {
				result[t] = ivalues[centralFlat][t]
			}
		}
		out[oflat] = result
	}
	return out
}

// CoarseCellPeriod holds one coarse grid cell's inputs for statistical
// downscaling across a full time period: fine-resolution observations, the
// coarse simulation, that same simulation bilinearly remapped onto the fine
// grid (via RemapBilinear over the cell's Xipm1 neighborhood), and the
// calendar month of every timestep.
type CoarseCellPeriod struct {
	ObsFine           *mat.Dense // T x N, N = fine cells nested in this coarse cell
	SimCoarse         []float64  // T
	SimCoarseRemapbil *mat.Dense // T x N
	Months            []int      // length T, calendar month 1-12
}

// DownscaleOneCoarseCell runs weighted-sum-preserving MBCn downscaling for
// one coarse cell's full time period, processing one calendar month at a
// time and scattering the results back into a T x N matrix, following
// downscale_one_location.
func DownscaleOneCoarseCell(data CoarseCellPeriod, longTermMean map[string]float64, sumWeights []float64, bounds DownscaleBounds, rng *rand.Rand, nQuantiles int, rotationMatrices []*mat.Dense) *mat.Dense {
	t, n := data.ObsFine.Dims()
	out := mat.NewDense(t, n, nil)

	for month := 1; month <= 12; month++ {
		idx := MonthIndices(data.Months, month)
		if len(idx) == 0 {
			continue
		}
		window := DownscaleWindowData{
			ObsFine:           selectRows(data.ObsFine, idx),
			SimCoarse:         selectFloats(data.SimCoarse, idx),
			SimCoarseRemapbil: selectRows(data.SimCoarseRemapbil, idx),
		}
		result := DownscaleOneWindow(window, longTermMean, sumWeights, bounds, rng, nQuantiles, rotationMatrices)
		scatterRows(out, result, idx)
	}
	return out
}

func selectRows(m *mat.Dense, idx []int) *mat.Dense {
	_, cols := m.Dims()
	out := mat.NewDense(len(idx), cols, nil)
	for i, r := range idx {
		for c := 0; c < cols; c++ {
			out.Set(i, c, m.At(r, c))
		}
	}
	return out
}

func scatterRows(dst, src *mat.Dense, idx []int) {
	_, cols := dst.Dims()
	for i, r := range idx {
		for c := 0; c < cols; c++ {
			dst.Set(r, c, src.At(i, c))
		}
	}
}
