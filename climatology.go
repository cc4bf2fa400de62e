package basd

// AggregatePeriodic aggregates a using a running window of length
// 2*halfwin+1, treating a as periodic (wrapping at its ends). aggregator
// selects "max" or "mean". halfwin == 0 returns a unchanged.
func AggregatePeriodic(a []float64, halfwin int, aggregator string) []float64 {
	if halfwin < 0 {
		panic("basd: halfwin < 0")
	}
	if halfwin == 0 {
		return append([]float64(nil), a...)
	}
	n := len(a)
	b := make([]float64, 0, n+2*halfwin)
	b = append(b, a[n-halfwin:]...)
	b = append(b, a...)
	b = append(b, a[:halfwin]...)

	window := 2*halfwin + 1
	out := make([]float64, n)
	switch aggregator {
	case "max":
		for i := 0; i < n; i++ {
			m := b[i]
			for j := 1; j < window; j++ {
				if b[i+j] > m {
					m = b[i+j]
				}
			}
			out[i] = m
		}
	case "mean":
		for i := 0; i < n; i++ {
			var sum float64
			for j := 0; j < window; j++ {
				sum += b[i+j]
			}
			out[i] = sum / float64(window)
		}
	default:
		panic("basd: unsupported aggregator " + aggregator)
	}
	return out
}

// UpperBoundClimatologyResult is the annual cycle of smoothed daily maxima
// produced by GetUpperBoundClimatology.
type UpperBoundClimatologyResult struct {
	Values     []float64
	DoysUnique []int
}

// GetUpperBoundClimatology estimates an annual cycle of upper bounds as the
// running mean of the running maximum of multi-year per-day-of-year maxima,
// used to scale data into [0, 1] before trend-preserving adjustment of
// naturally-bounded variables such as precipitation or wind speed.
func GetUpperBoundClimatology(d []float64, doys []int, halfwin int) UpperBoundClimatologyResult {
	doysUnique := uniqueSortedInts(doys)
	n := len(doysUnique)

	byDoy := make(map[int][]float64, n)
	for i, doy := range doys {
		byDoy[doy] = append(byDoy[doy], d[i])
	}
	mydm := make([]float64, n)
	for i, doy := range doysUnique {
		vals := byDoy[doy]
		m := vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		mydm[i] = m
	}

	mydmrm := AggregatePeriodic(mydm, halfwin, "max")
	ubc := AggregatePeriodic(mydmrm, halfwin, "mean")
	return UpperBoundClimatologyResult{Values: ubc, DoysUnique: doysUnique}
}

// CCSTransferSim2ObsUpperBoundClimatology multiplicatively transfers the
// simulated climate-change signal between sim_hist and sim_fut upper-bound
// climatologies onto the observed climatology, clamping the change factor
// to [0.1, 10] to avoid unrealistic scaling.
func CCSTransferSim2ObsUpperBoundClimatology(obsHist, simHist, simFut []float64) []float64 {
	out := make([]float64, len(obsHist))
	for i := range out {
		var changeFactor float64
		if simHist[i] == 0 {
			changeFactor = 1
		} else {
			changeFactor = simFut[i] / simHist[i]
		}
		if changeFactor < .1 {
			changeFactor = .1
		}
		if changeFactor > 10 {
			changeFactor = 10
		}
		out[i] = obsHist[i] * changeFactor
	}
	return out
}

// ScaleByUpperBoundClimatology scales every value of d by the upper-bound
// climatology value for its day of the year. If divide is true, d is
// divided by the climatology (mapping it into roughly [0, 1]); otherwise d
// is multiplied by the climatology and any values that end up above their
// climatology value are capped to it (undoing the division pass exactly
// for unadjusted cells, but remaining safe after bias adjustment may have
// pushed scaled values above 1).
func ScaleByUpperBoundClimatology(d []float64, ubc UpperBoundClimatologyResult, dDoys []int, divide bool) []float64 {
	out := append([]float64(nil), d...)
	n366 := len(ubc.Values) == 366
	doyIndex := make(map[int]int, len(ubc.DoysUnique))
	for i, doy := range ubc.DoysUnique {
		doyIndex[doy] = i
	}

	scalingFactors := make([]float64, len(ubc.Values))
	for i, v := range ubc.Values {
		if divide {
			if v == 0 {
				scalingFactors[i] = 1
			} else {
				scalingFactors[i] = 1 / v
			}
		} else {
			scalingFactors[i] = v
		}
	}

	broadcast := make([]float64, len(d))
	for i, doy := range dDoys {
		var idx int
		if n366 {
			idx = doy - 1
		} else {
			idx = doyIndex[doy]
		}
		broadcast[i] = scalingFactors[idx]
	}

	for i := range out {
		out[i] *= broadcast[i]
		if !divide && out[i] > broadcast[i] {
			out[i] = broadcast[i]
		}
	}
	return out
}
