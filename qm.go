package basd

// ParametricOptions parameterizes MapQuantilesParametricTrendPreserving,
// following the trend-preserving parametric quantile mapping method of
// Lange (2019).
type ParametricOptions struct {
	Distribution             Distribution
	HasDistribution          bool
	TrendPreservation        TrendPreservation
	AdjustPValues            bool
	LowerBound               float64
	LowerThreshold           float64
	HasLower                 bool
	UpperBound               float64
	UpperThreshold           float64
	HasUpper                 bool
	UnconditionalCCSTransfer bool
	TrendlessBoundFrequency  bool
	NQuantiles               int
	PValueEps                float64
	MaxChangeFactor          float64
	MaxAdjustmentFactor      float64
}

// DefaultParametricOptions mirrors the defaults of the reference
// implementation's parametric quantile mapping entry point.
func DefaultParametricOptions() ParametricOptions {
	return ParametricOptions{
		TrendPreservation:   Additive,
		NQuantiles:          50,
		PValueEps:           1e-10,
		MaxChangeFactor:     100.,
		MaxAdjustmentFactor: 9.,
	}
}

func limitPValue(p, eps float64) float64 {
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}

// MapQuantilesParametricTrendPreserving adjusts x_sim_fut onto the bias
// corrected target distribution derived from x_obs_hist, x_sim_hist using
// either a fitted parametric distribution (when opts.HasDistribution) or a
// non-parametric fallback when fitting fails, following Lange (2019).
func MapQuantilesParametricTrendPreserving(xObsHist, xSimHist, xSimFut []float64, opts ParametricOptions) []float64 {
	lower := opts.HasLower
	upper := opts.HasUpper

	iObsHist := thresholdMask(xObsHist, lower, opts.LowerThreshold, upper, opts.UpperThreshold)
	iSimHist := thresholdMask(xSimHist, lower, opts.LowerThreshold, upper, opts.UpperThreshold)
	iSimFut := thresholdMask(xSimFut, lower, opts.LowerThreshold, upper, opts.UpperThreshold)

	tpOpts := TrendPreservingOptions{
		Method:              opts.TrendPreservation,
		NQuantiles:          opts.NQuantiles,
		MaxChangeFactor:     opts.MaxChangeFactor,
		MaxAdjustmentFactor: opts.MaxAdjustmentFactor,
		AdjustObs:           true,
	}
	if opts.TrendPreservation == Bounded {
		tpOpts.LowerBound, tpOpts.UpperBound = opts.LowerThreshold, opts.UpperThreshold
	}

	var xTarget []float64
	if opts.UnconditionalCCSTransfer {
		tpOpts.LowerBound, tpOpts.UpperBound = opts.LowerBound, opts.UpperBound
		xTarget = MapQuantilesNonParametricTrendPreserving(xObsHist, xSimHist, xSimFut, tpOpts)
	} else {
		xTarget = append([]float64(nil), xObsHist...)
		mapped := MapQuantilesNonParametricTrendPreserving(
			selectMask(xObsHist, iObsHist), selectMask(xSimHist, iSimHist), selectMask(xSimFut, iSimFut), tpOpts)
		writeMask(xTarget, iObsHist, mapped)
	}

	var pLowerTarget, pUpperTarget float64
	if lower {
		pl := func(x []float64) float64 { return fractionLE(x, opts.LowerThreshold) }
		if opts.TrendlessBoundFrequency {
			pLowerTarget = pl(xObsHist)
		} else {
			pLowerTarget = CCSTransferSim2Obs([]float64{pl(xObsHist)}, []float64{pl(xSimHist)}, []float64{pl(xSimFut)}, 0, 1)[0]
		}
	}
	if upper {
		pu := func(x []float64) float64 { return fractionGE(x, opts.UpperThreshold) }
		if opts.TrendlessBoundFrequency {
			pUpperTarget = pu(xObsHist)
		} else {
			pUpperTarget = CCSTransferSim2Obs([]float64{pu(xObsHist)}, []float64{pu(xSimHist)}, []float64{pu(xSimFut)}, 0, 1)[0]
		}
	}
	if lower && upper {
		total := pLowerTarget + pUpperTarget
		if total > 1+1e-10 {
			pLowerTarget /= total
			pUpperTarget /= total
		}
	}

	xSource := xSimFut
	y := append([]float64(nil), xSource...)

	iSource := make([]bool, len(xSource))
	for i := range iSource {
		iSource[i] = true
	}
	iTarget := make([]bool, len(xTarget))
	for i := range iTarget {
		iTarget[i] = true
	}

	if lower {
		var lowerThresholdSource float64
		switch {
		case pLowerTarget > 0:
			lowerThresholdSource = Percentile1D(xSource, []float64{pLowerTarget})[0]
		case upper:
			lowerThresholdSource = opts.LowerBound - 1e-10*(opts.UpperBound-opts.LowerBound)
		default:
			lowerThresholdSource = opts.LowerBound
		}
		for i, v := range xSource {
			if v <= lowerThresholdSource {
				iSource[i] = false
				y[i] = opts.LowerBound
			}
		}
		for i, v := range xTarget {
			if v <= opts.LowerThreshold {
				iTarget[i] = false
			}
		}
	}
	if upper {
		var upperThresholdSource float64
		switch {
		case pUpperTarget > 0:
			upperThresholdSource = Percentile1D(xSource, []float64{1 - pUpperTarget})[0]
		case lower:
			upperThresholdSource = opts.UpperBound + 1e-10*(opts.UpperBound-opts.LowerBound)
		default:
			upperThresholdSource = opts.UpperBound
		}
		for i, v := range xSource {
			if v >= upperThresholdSource {
				iSource[i] = false
				y[i] = opts.UpperBound
			}
		}
		for i, v := range xTarget {
			if v >= opts.UpperThreshold {
				iTarget[i] = false
			}
		}
	}

	if !anyTrue(iSource) {
		return y
	}
	if !anyTrue(iTarget) {
		return y
	}

	xSourceFit := selectMask(xSource, iSimFut)
	xTargetFit := selectMask(xTarget, iTarget)

	floc := 0.
	if lower {
		floc = opts.LowerThreshold
	}
	fscale := 0.
	hasFscale := lower && upper
	if hasFscale {
		fscale = opts.UpperThreshold - opts.LowerThreshold
	}
	if opts.Distribution == Rice || opts.Distribution == Weibull {
		hasFscale = false
	}

	var xSourceMap []float64
	if !opts.HasDistribution {
		xSourceMap = selectMask(xSource, iSource)
	} else if lower || upper {
		xSourceMap = MapQuantilesNonParametricBruteForce(selectMask(xSource, iSource), xSourceFit)
	} else {
		xSourceMap = xSource
	}

	if !opts.HasDistribution {
		pZeroOne := linspace(0, 1, opts.NQuantiles+1)
		qSourceFit := Percentile1D(xSourceMap, pZeroOne)
		qTargetFit := Percentile1D(xTargetFit, pZeroOne)
		mapped := MapQuantilesNonParametricWithConstantExtrapolation(xSourceMap, qSourceFit, qTargetFit)
		writeMask(y, iSource, mapped)
		return y
	}

	sourceParams, okSource := FitDistribution(opts.Distribution, xSourceFit, floc, fscale, hasFscale)
	targetParams, okTarget := FitDistribution(opts.Distribution, xTargetFit, floc, fscale, hasFscale)
	if !okSource || !okTarget {
		pZeroOne := linspace(0, 1, opts.NQuantiles+1)
		qSourceFit := Percentile1D(xSourceMap, pZeroOne)
		qTargetFit := Percentile1D(xTargetFit, pZeroOne)
		mapped := MapQuantilesNonParametricWithConstantExtrapolation(xSourceMap, qSourceFit, qTargetFit)
		writeMask(y, iSource, mapped)
		return y
	}

	pSource := make([]float64, len(xSourceMap))
	for i, v := range xSourceMap {
		pSource[i] = limitPValue(CDF(sourceParams, v), opts.PValueEps)
	}

	var pTarget []float64
	if opts.AdjustPValues {
		obsHistFit := selectMask(xObsHist, iObsHist)
		simHistFit := selectMask(xSimHist, iSimHist)
		obsParams, okObs := FitDistribution(opts.Distribution, obsHistFit, floc, fscale, hasFscale)
		simParams, okSim := FitDistribution(opts.Distribution, simHistFit, floc, fscale, hasFscale)
		if !okObs || !okSim {
			pTarget = pSource
		} else {
			pObsHist := make([]float64, len(obsHistFit))
			for i, v := range obsHistFit {
				pObsHist[i] = limitPValue(CDF(obsParams, v), opts.PValueEps)
			}
			pSimHist := make([]float64, len(simHistFit))
			for i, v := range simHistFit {
				pSimHist[i] = limitPValue(CDF(simParams, v), opts.PValueEps)
			}
			transferred := TransferOddsRatio(pObsHist, pSimHist, pSource)
			pTarget = make([]float64, len(transferred))
			for i, v := range transferred {
				pTarget[i] = limitPValue(v, opts.PValueEps)
			}
		}
	} else {
		pTarget = pSource
	}

	mapped := make([]float64, len(pTarget))
	for i, p := range pTarget {
		mapped[i] = PPF(targetParams, p)
	}
	writeMask(y, iSource, mapped)
	return y
}

func thresholdMask(x []float64, lower bool, lowerThreshold float64, upper bool, upperThreshold float64) []bool {
	mask := make([]bool, len(x))
	for i, v := range x {
		ok := true
		if lower && !(v > lowerThreshold) {
			ok = false
		}
		if upper && !(v < upperThreshold) {
			ok = false
		}
		mask[i] = ok
	}
	return mask
}

func selectMask(x []float64, mask []bool) []float64 {
	out := make([]float64, 0, len(x))
	for i, v := range x {
		if mask[i] {
			out = append(out, v)
		}
	}
	return out
}

func writeMask(dst []float64, mask []bool, values []float64) {
	j := 0
	for i, ok := range mask {
		if ok {
			dst[i] = values[j]
			j++
		}
	}
}

func anyTrue(mask []bool) bool {
	for _, v := range mask {
		if v {
			return true
		}
	}
	return false
}

func fractionLE(x []float64, threshold float64) float64 {
	var n int
	for _, v := range x {
		if v <= threshold {
			n++
		}
	}
	return float64(n) / float64(len(x))
}

func fractionGE(x []float64, threshold float64) float64 {
	var n int
	for _, v := range x {
		if v >= threshold {
			n++
		}
	}
	return float64(n) / float64(len(x))
}
