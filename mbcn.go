package basd

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// CopulaPeriods names the three time periods an MBCn adjustment operates
// over, matching the bias-adjustment pipeline's obs_hist/sim_hist/sim_fut
// convention.
const (
	ObsHist = "obs_hist"
	SimHist = "sim_hist"
	SimFut  = "sim_fut"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// rankToNormal transforms xi to a standard-normal rank score: each value's
// fractional rank (i+.5)/n is pushed through the normal quantile function,
// the copula-space representation MBCn operates in.
func rankToNormal(xi []float64) []float64 {
	n := len(xi)
	ranks := rankIndices(xi)
	out := make([]float64, n)
	for i, r := range ranks {
		out[i] = stdNormal.Quantile((float64(r) + .5) / float64(n))
	}
	return out
}

// rankIndices returns, for each element of x, its 0-based rank among x's
// own values (stable on ties).
func rankIndices(x []float64) []int {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	ranks := make([]int, len(x))
	for r, i := range idx {
		ranks[i] = r
	}
	return ranks
}

// AdjustCopulaMBCN applies the MBCn multivariate bias correction algorithm
// (iterated random rotations plus univariate additive quantile delta
// mapping in rotated rank space) to reshuffle the rank dependence structure
// of x[SimFut] onto that implied by x[ObsHist] and x[SimHist], following
// Cannon (2018) as adapted by Lange (2019). x maps each period to a slice
// of per-variable series; all series under ObsHist must share one length,
// all under SimHist another, all under SimFut a third (the three lengths
// need not match each other).
func AdjustCopulaMBCN(x map[string][][]float64, rotationMatrices []*mat.Dense, nQuantiles int) [][]float64 {
	nVariables := len(x[SimFut])

	y := make(map[string]*mat.Dense, len(x))
	for key, vars := range x {
		m := len(vars[0])
		d := mat.NewDense(nVariables, m, nil)
		for i, xi := range vars {
			normalized := rankToNormal(xi)
			for j, v := range normalized {
				d.Set(i, j, v)
			}
		}
		y[key] = d
	}

	oTotal := mat.NewDense(nVariables, nVariables, nil)
	for i := 0; i < nVariables; i++ {
		oTotal.Set(i, i, 1)
	}

	tpOpts := TrendPreservingOptions{Method: Additive, NQuantiles: nQuantiles}

	for _, o := range rotationMatrices {
		var newTotal mat.Dense
		newTotal.Mul(o, oTotal)
		oTotal = &newTotal

		for key, m := range y {
			var rotated mat.Dense
			rotated.Mul(o, m)
			y[key] = &rotated
		}

		simHist := y[SimHist]
		simFut := y[SimFut]
		obsHist := y[ObsHist]
		_, mHist := simHist.Dims()
		_, mFut := simFut.Dims()
		for i := 0; i < nVariables; i++ {
			ySimHistOld := rowOf(simHist, i, mHist)
			yObsHistRow := rowOf(obsHist, i, obsHist.RawMatrix().Cols)
			mapped := MapQuantilesNonParametricTrendPreserving(yObsHistRow, ySimHistOld, ySimHistOld, tpOpts)
			setRow(simHist, i, mapped)

			yFutRow := rowOf(simFut, i, mFut)
			mappedFut := MapQuantilesNonParametricTrendPreserving(yObsHistRow, ySimHistOld, yFutRow, tpOpts)
			setRow(simFut, i, mappedFut)
		}
	}

	var oTotalT mat.Dense
	oTotalT.CloneFrom(oTotal.T())
	var finalFut mat.Dense
	finalFut.Mul(&oTotalT, y[SimFut])

	xSimFutBa := make([][]float64, nVariables)
	_, mFut := finalFut.Dims()
	for i := 0; i < nVariables; i++ {
		yRow := rowOf(&finalFut, i, mFut)
		ranks := rankIndices(yRow)
		sorted := append([]float64(nil), x[SimFut][i]...)
		sort.Float64s(sorted)
		out := make([]float64, mFut)
		for j, r := range ranks {
			out[j] = sorted[r]
		}
		xSimFutBa[i] = out
	}
	return xSimFutBa
}

func rowOf(m *mat.Dense, i, cols int) []float64 {
	out := make([]float64, cols)
	for j := 0; j < cols; j++ {
		out[j] = m.At(i, j)
	}
	return out
}

func setRow(m *mat.Dense, i int, values []float64) {
	for j, v := range values {
		m.Set(i, j, v)
	}
}

// WeightedSumPreservingMBCN applies the downscaling variant of MBCn: it
// rotates the fine-resolution ensemble so its first axis aligns with the
// area-weighted sum of the cells, restores the simulated coarse-cell value
// exactly on that axis, iterates random rotations with per-column
// quantile mapping, and subtracts off any drift in the weighted sum after
// every rotation except the last. The area-weighted sum of the fine cells
// therefore matches the coarse driving value only approximately: the
// quantile mapping of the last rotation can leave a small residual.
//
// xObs and xSim are M x N (time steps x fine cells); xSimCoarse has M
// values. sumWeights holds the N grid-cell area weights.
func WeightedSumPreservingMBCN(xObs, xSim *mat.Dense, xSimCoarse []float64, sumWeights []float64, rotationMatrices []*mat.Dense, nQuantiles int) *mat.Dense {
	n := len(sumWeights)
	m, _ := xSim.Dims()

	oTotal := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		oTotal.Set(i, i, 1)
	}

	p := linspace(0, 1, nQuantiles+1)

	w := append([]float64(nil), sumWeights...)
	wNorm := vecNorm(w)
	for i := range w {
		w[i] /= wNorm
	}
	wSum := sumFloat(w)

	coarse := make([]float64, len(xSimCoarse))
	for i, v := range xSimCoarse {
		coarse[i] = v * wSum
	}

	nLoops := len(rotationMatrices) + 2
	for i := 0; i < nLoops; i++ {
		var o *mat.Dense
		switch {
		case i == 0:
			o = FixedFirstAxisMatrix(w, false)
		case i == nLoops-1:
			var t mat.Dense
			t.CloneFrom(oTotal.T())
			o = &t
		default:
			o = rotationMatrices[i-1]
		}

		var newTotal mat.Dense
		newTotal.Mul(oTotal, o)
		oTotal = &newTotal

		var rotSim, rotObs mat.Dense
		rotSim.Mul(xSim, o)
		rotObs.Mul(xObs, o)
		xSim = &rotSim
		xObs = &rotObs

		wMat := mat.NewDense(1, n, w)
		var wRot mat.Dense
		wRot.Mul(wMat, o)
		w = wRot.RawRowView(0)

		if i == 0 {
			for t := 0; t < m; t++ {
				xSim.Set(t, 0, coarse[t])
			}
			col0Obs := colOf(xObs, 0, m)
			qSim := Percentile1D(coarse, p)
			qObs := Percentile1D(col0Obs, p)
			mapped := MapQuantilesNonParametricWithConstantExtrapolation(col0Obs, qObs, qSim)
			setCol(xObs, 0, mapped)
		} else {
			prev := mat.DenseCopyOf(xSim)
			for j := 0; j < n; j++ {
				simCol := colOf(xSim, j, m)
				obsCol := colOf(xObs, j, m)
				qSim := Percentile1D(simCol, p)
				qObs := Percentile1D(obsCol, p)
				mapped := MapQuantilesNonParametricWithConstantExtrapolation(simCol, qSim, qObs)
				setCol(xSim, j, mapped)
			}
			if i < nLoops-1 {
				diff := mat.NewDense(m, n, nil)
				diff.Sub(xSim, prev)
				proj := make([]float64, m)
				for t := 0; t < m; t++ {
					var dot float64
					for j := 0; j < n; j++ {
						dot += diff.At(t, j) * w[j]
					}
					proj[t] = dot
				}
				for t := 0; t < m; t++ {
					for j := 0; j < n; j++ {
						xSim.Set(t, j, xSim.At(t, j)-proj[t]*w[j])
					}
				}
			}
		}
	}
	return xSim
}

func colOf(m *mat.Dense, j, rows int) []float64 {
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = m.At(i, j)
	}
	return out
}

func setCol(m *mat.Dense, j int, values []float64) {
	for i, v := range values {
		m.Set(i, j, v)
	}
}

func vecNorm(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func sumFloat(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum
}
