package basd

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// VariableSpec describes one climate variable's bias-adjustment settings,
// mirroring the per-variable option lists (lower_bound, distribution,
// trend_preservation, ...) the reference implementation threads through
// adjust_bias_one_location.
type VariableSpec struct {
	Name string

	HasLowerBound     bool
	LowerBound        float64
	HasLowerThreshold bool
	LowerThreshold    float64
	HasUpperBound     bool
	UpperBound        float64
	HasUpperThreshold bool
	UpperThreshold    float64

	UnconditionalCCSTransfer bool
	TrendlessBoundFrequency  bool
	Detrend                  bool

	HasDistribution   bool
	Distribution      Distribution
	TrendPreservation TrendPreservation
	AdjustPValues     bool

	// HalfwinUpperBoundClimatology, if > 0, scales this variable into
	// [0, 1] by its upper-bound climatology before adjustment and back
	// afterwards (used for naturally-bounded variables like precipitation
	// or near-surface wind speed).
	HalfwinUpperBoundClimatology int

	IfAllInvalidUse float64
}

// BiasAdjustConfig configures a full per-location bias adjustment run
// across all variables and all time windows.
type BiasAdjustConfig struct {
	Variables []VariableSpec

	NQuantiles int
	// StepSize, if > 0, selects running-window mode with this step size in
	// days; StepSize == 0 selects calendar-month mode.
	StepSize int
	// Months restricts calendar-month mode to a subset of months; empty
	// means all twelve. Ignored in running-window mode.
	Months              []int
	WindowWidth         int // default 31, running-window mode only
	PValueEps           float64
	MaxChangeFactor     float64
	MaxAdjustmentFactor float64
}

// LocationSeries holds the per-variable time series and calendar metadata
// for a single grid cell and time period.
type LocationSeries struct {
	Values [][]float64 // one slice per variable, same length as Years/Doys/Months
	Years  []int
	Doys   []int
	Months []int
}

// PeriodData groups LocationSeries for the three periods a bias adjustment
// run operates over.
type PeriodData map[string]LocationSeries

// AdjustBiasOneLocation runs the full bias-adjustment pipeline for one grid
// cell: invalid-value replacement, optional upper-bound-climatology
// rescaling, detrending, censored-value randomization, MBCn copula
// adjustment, per-variable quantile mapping, and trend/threshold/climatology
// restoration, iterated over running windows or calendar months per
// cfg.StepSize. rotationMatrices are generated once per run under the
// global seed and shared read-only across all cells and windows; pass nil
// (or a single variable) to skip the MBCn coupling step. It returns
// (nil, false) if any period's data is entirely invalid for this cell (the
// caller should skip the cell).
func AdjustBiasOneLocation(data PeriodData, cfg BiasAdjustConfig, rng *rand.Rand, rotationMatrices []*mat.Dense) ([][]float64, bool) {
	nVariables := len(cfg.Variables)

	for _, series := range data {
		for _, v := range series.Values {
			if AllInvalid(v) {
				return nil, false
			}
		}
	}

	result := make([][]float64, nVariables)
	for i := range result {
		result[i] = append([]float64(nil), data[SimFut].Values[i]...)
	}

	ubcObsHist := make([]UpperBoundClimatologyResult, nVariables)
	ubcSimHist := make([]UpperBoundClimatologyResult, nVariables)
	ubcSimFut := make([]UpperBoundClimatologyResult, nVariables)
	ubcResult := make([][]float64, nVariables)

	scaledData := PeriodData{}
	for key, series := range data {
		scaledValues := make([][]float64, nVariables)
		for i := range scaledValues {
			scaledValues[i] = append([]float64(nil), series.Values[i]...)
		}
		scaledData[key] = LocationSeries{Values: scaledValues, Years: series.Years, Doys: series.Doys, Months: series.Months}
	}

	for i, v := range cfg.Variables {
		if v.HalfwinUpperBoundClimatology <= 0 {
			continue
		}
		ubcObsHist[i] = GetUpperBoundClimatology(data[ObsHist].Values[i], data[ObsHist].Doys, v.HalfwinUpperBoundClimatology)
		ubcSimHist[i] = GetUpperBoundClimatology(data[SimHist].Values[i], data[SimHist].Doys, v.HalfwinUpperBoundClimatology)
		ubcSimFut[i] = GetUpperBoundClimatology(data[SimFut].Values[i], data[SimFut].Doys, v.HalfwinUpperBoundClimatology)

		scaledData[ObsHist].Values[i] = ScaleByUpperBoundClimatology(scaledData[ObsHist].Values[i], ubcObsHist[i], data[ObsHist].Doys, true)
		scaledData[SimHist].Values[i] = ScaleByUpperBoundClimatology(scaledData[SimHist].Values[i], ubcSimHist[i], data[SimHist].Doys, true)
		scaledData[SimFut].Values[i] = ScaleByUpperBoundClimatology(scaledData[SimFut].Values[i], ubcSimFut[i], data[SimFut].Doys, true)

		ubcResult[i] = CCSTransferSim2ObsUpperBoundClimatology(ubcObsHist[i].Values, ubcSimHist[i].Values, ubcSimFut[i].Values)
	}

	longTermMean := make(map[string][]float64, len(scaledData))
	for key, series := range scaledData {
		means := make([]float64, nVariables)
		for i, v := range series.Values {
			fallback := cfg.Variables[i].IfAllInvalidUse
			means[i] = AverageValidValues(v, fallback)
		}
		longTermMean[key] = means
	}

	windowWidth := cfg.WindowWidth
	if windowWidth == 0 {
		windowWidth = 31
	}

	if cfg.StepSize > 0 {
		centers := WindowCentersForRunningBiasAdjustment(scaledData[SimHist].Doys, cfg.StepSize)
		for _, center := range centers {
			window := PeriodData{}
			for key, series := range scaledData {
				m := WindowIndicesForRunningBiasAdjustment(series.Doys, center, windowWidth, nil)
				window[key] = sliceLocationSeries(series, m)
			}
			windowResult := AdjustBiasOneWindow(window, longTermMean, cfg, rng, rotationMatrices)

			mBA := WindowIndicesForRunningBiasAdjustment(scaledData[SimFut].Doys, center, windowWidth, nil)
			mKeep := WindowIndicesForRunningBiasAdjustment(scaledData[SimFut].Doys, center, cfg.StepSize, scaledData[SimFut].Years)
			keepSet := make(map[int]struct{}, len(mKeep))
			for _, idx := range mKeep {
				keepSet[idx] = struct{}{}
			}

			for i := range cfg.Variables {
				if cfg.Variables[i].HalfwinUpperBoundClimatology > 0 {
					doysBA := selectInts(scaledData[SimFut].Doys, mBA)
					windowResult[i] = ScaleByUpperBoundClimatology(windowResult[i], UpperBoundClimatologyResult{Values: ubcResult[i], DoysUnique: ubcSimFut[i].DoysUnique}, doysBA, false)
				}
				for j, idx := range mBA {
					if _, keep := keepSet[idx]; keep {
						result[i][idx] = windowResult[i][j]
					}
				}
			}
		}
	} else {
		months := cfg.Months
		if len(months) == 0 {
			months = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
		}
		for _, month := range months {
			window := PeriodData{}
			for key, series := range scaledData {
				m := MonthIndices(series.Months, month)
				window[key] = sliceLocationSeries(series, m)
			}
			windowResult := AdjustBiasOneWindow(window, longTermMean, cfg, rng, rotationMatrices)

			mFut := MonthIndices(scaledData[SimFut].Months, month)
			for i := range cfg.Variables {
				if cfg.Variables[i].HalfwinUpperBoundClimatology > 0 {
					doysFut := selectInts(scaledData[SimFut].Doys, mFut)
					windowResult[i] = ScaleByUpperBoundClimatology(windowResult[i], UpperBoundClimatologyResult{Values: ubcResult[i], DoysUnique: ubcSimFut[i].DoysUnique}, doysFut, false)
				}
				for j, idx := range mFut {
					result[i][idx] = windowResult[i][j]
				}
			}
		}
	}

	return result, true
}

// AdjustBiasOneWindow performs the seven-step single-window adjustment
// (invalid-value replacement, detrending, censored-value randomization,
// MBCn copula adjustment, marginal quantile mapping, threshold restoration,
// and trend restoration) described by the reference implementation's
// adjust_bias_one_month.
func AdjustBiasOneWindow(data PeriodData, longTermMean map[string][]float64, cfg BiasAdjustConfig, rng *rand.Rand, rotationMatrices []*mat.Dense) [][]float64 {
	nVariables := len(cfg.Variables)

	x := make(map[string][][]float64, len(data))
	for key, series := range data {
		vals := make([][]float64, nVariables)
		for i, v := range series.Values {
			replaced, _, _ := SampleInvalidValues(v, rng, longTermMean[key][i])
			vals[i] = replaced
		}
		x[key] = vals
	}

	trendSimFut := make([]DetrendResult, nVariables)
	haveTrend := make([]bool, nVariables)

	for key, series := range data {
		for i, spec := range cfg.Variables {
			if spec.Detrend {
				dr := SubtractTrend(x[key][i], series.Years)
				x[key][i] = dr.Detrended
				if key == SimFut {
					trendSimFut[i] = dr
					haveTrend[i] = true
				}
			}
			var lb, lt, ub, ut float64
			if spec.HasLowerBound {
				lb = spec.LowerBound
			}
			if spec.HasLowerThreshold {
				lt = spec.LowerThreshold
			}
			if spec.HasUpperBound {
				ub = spec.UpperBound
			}
			if spec.HasUpperThreshold {
				ut = spec.UpperThreshold
			}
			RandomizeCensoredValues(x[key][i], rng, lb, lt, spec.HasLowerBound && spec.HasLowerThreshold,
				ub, ut, spec.HasUpperBound && spec.HasUpperThreshold, false, 1., 1.)
		}
	}

	if nVariables > 1 && len(rotationMatrices) > 0 {
		x[SimFut] = AdjustCopulaMBCN(x, rotationMatrices, cfg.NQuantiles)
	}

	out := make([][]float64, nVariables)
	for i, spec := range cfg.Variables {
		popts := DefaultParametricOptions()
		popts.NQuantiles = cfg.NQuantiles
		if cfg.PValueEps > 0 {
			popts.PValueEps = cfg.PValueEps
		}
		if cfg.MaxChangeFactor > 0 {
			popts.MaxChangeFactor = cfg.MaxChangeFactor
		}
		if cfg.MaxAdjustmentFactor > 0 {
			popts.MaxAdjustmentFactor = cfg.MaxAdjustmentFactor
		}
		popts.Distribution = spec.Distribution
		popts.HasDistribution = spec.HasDistribution
		popts.TrendPreservation = spec.TrendPreservation
		popts.AdjustPValues = spec.AdjustPValues
		popts.HasLower = spec.HasLowerBound && spec.HasLowerThreshold
		popts.LowerBound, popts.LowerThreshold = spec.LowerBound, spec.LowerThreshold
		popts.HasUpper = spec.HasUpperBound && spec.HasUpperThreshold
		popts.UpperBound, popts.UpperThreshold = spec.UpperBound, spec.UpperThreshold
		popts.UnconditionalCCSTransfer = spec.UnconditionalCCSTransfer
		popts.TrendlessBoundFrequency = spec.TrendlessBoundFrequency

		y := MapQuantilesParametricTrendPreserving(x[ObsHist][i], x[SimHist][i], x[SimFut][i], popts)

		if spec.Detrend && haveTrend[i] {
			y = AddTrend(y, data[SimFut].Years, trendSimFut[i].UniqueYears, trendSimFut[i].Trend)
		}
		out[i] = y
	}
	return out
}

func sliceLocationSeries(series LocationSeries, m []int) LocationSeries {
	out := LocationSeries{
		Values: make([][]float64, len(series.Values)),
		Years:  selectInts(series.Years, m),
		Doys:   selectInts(series.Doys, m),
	}
	if series.Months != nil {
		out.Months = selectInts(series.Months, m)
	}
	for i, v := range series.Values {
		out.Values[i] = selectFloats(v, m)
	}
	return out
}

func selectInts(x []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}

func selectFloats(x []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}
