package basd

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is recorded in every output file's global attributes alongside
// the run options that produced it.
const Version = "1.0.0"

// RunConfig holds the global, run-wide options of a bias-adjustment or
// downscaling invocation, independent of any particular variable. It
// mirrors the reference implementation's global, variable-independent options.
type RunConfig struct {
	NQuantiles          int
	PValueEps           float64
	MaxChangeFactor     float64
	MaxAdjustmentFactor float64
	NIterations         int // number of MBCn rotation matrices
	// StepSize selects running-window mode (odd, 1..31) when > 0, or
	// calendar-month mode when 0.
	StepSize int
	// Months restricts processing to a subset of calendar months; empty
	// means all twelve. Only meaningful in calendar-month mode.
	Months            []int
	RandomizationSeed int64
	NProcesses        int
	FillValue         float64
	RepeatWarnings    bool
}

// DefaultRunConfig mirrors the reference implementation's default option
// values (bias_adjustment.py / statistical_downscaling.py OptionParser
// defaults).
func DefaultRunConfig() RunConfig {
	return RunConfig{
		NQuantiles:          50,
		PValueEps:           1e-10,
		MaxChangeFactor:     100.,
		MaxAdjustmentFactor: 9.,
		NIterations:         20,
		NProcesses:          1,
		FillValue:           1e20,
	}
}

// Validate checks the global configuration invariants that are fatal
// configuration errors: a months list confined to 1..12, and a
// step size that is either 0 (calendar-month mode) or odd and in 1..31
// (running-window mode).
func (c RunConfig) Validate() error {
	for _, m := range c.Months {
		if m < 1 || m > 12 {
			return fmt.Errorf("basd: invalid month %d, must be 1..12", m)
		}
	}
	if c.StepSize != 0 {
		if c.StepSize < 1 || c.StepSize > 31 || c.StepSize%2 == 0 {
			return fmt.Errorf("basd: invalid step size %d, must be odd and in 1..31", c.StepSize)
		}
	}
	if c.NProcesses < 1 {
		return fmt.Errorf("basd: n_processes must be >= 1")
	}
	return nil
}

// SplitCSV splits a comma-separated CLI option value the way the reference
// implementation's optparse callback does, trimming whitespace around each
// field and dropping a trailing empty field from a trailing comma.
func SplitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// SplitCSVInts parses a comma-separated CLI option value into ints,
// skipping fields that fail to parse, for options like "months" that
// restrict a run to a subset of calendar months.
func SplitCSVInts(s string) []int {
	fields := SplitCSV(s)
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// FieldAt returns the i'th comma-separated field of a per-variable CLI
// option, or the sole field if only one was supplied (letting a single
// value apply to every variable), following the reference implementation's
// "comma-split at the current variable's index" convention.
func FieldAt(csv string, i int) (string, bool) {
	fields := SplitCSV(csv)
	if len(fields) == 0 {
		return "", false
	}
	if len(fields) == 1 {
		return fields[0], true
	}
	if i >= len(fields) {
		return "", false
	}
	return fields[i], true
}

// VariableOptionSet holds one variable's raw, not-yet-parsed CLI option
// values, exactly as split out of the comma-separated per-variable flags by
// FieldAt; ParseVariableSpec interprets them into a VariableSpec.
type VariableOptionSet struct {
	Name                         string
	LowerBound, LowerThreshold   string
	UpperBound, UpperThreshold   string
	Distribution                 string
	TrendPreservation            string
	Detrend                      string
	AdjustPValues                string
	UnconditionalCCSTransfer     string
	TrendlessBoundFrequency      string
	HalfwinUpperBoundClimatology string
	IfAllInvalidUse              string
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseVariableSpec interprets a VariableOptionSet's raw CLI strings into a
// VariableSpec, validating the bound/threshold ordering and
// distribution/bounds consistency invariants.
func ParseVariableSpec(opt VariableOptionSet) (VariableSpec, error) {
	var v VariableSpec
	v.Name = opt.Name

	if lb, ok := parseFloat(opt.LowerBound); ok {
		v.HasLowerBound, v.LowerBound = true, lb
	}
	if lt, ok := parseFloat(opt.LowerThreshold); ok {
		v.HasLowerThreshold, v.LowerThreshold = true, lt
	}
	if ub, ok := parseFloat(opt.UpperBound); ok {
		v.HasUpperBound, v.UpperBound = true, ub
	}
	if ut, ok := parseFloat(opt.UpperThreshold); ok {
		v.HasUpperThreshold, v.UpperThreshold = true, ut
	}
	if v.HasLowerBound && v.HasLowerThreshold && !(v.LowerBound < v.LowerThreshold) {
		return v, fmt.Errorf("basd: variable %s: lower_bound must be < lower_threshold", opt.Name)
	}
	if v.HasUpperThreshold && v.HasUpperBound && !(v.UpperThreshold < v.UpperBound) {
		return v, fmt.Errorf("basd: variable %s: upper_threshold must be < upper_bound", opt.Name)
	}
	if v.HasLowerThreshold && v.HasUpperThreshold && !(v.LowerThreshold < v.UpperThreshold) {
		return v, fmt.Errorf("basd: variable %s: lower_threshold must be < upper_threshold", opt.Name)
	}

	switch strings.ToLower(opt.Distribution) {
	case "", "none":
		v.HasDistribution = false
	case "normal":
		v.HasDistribution, v.Distribution = true, Normal
		if v.HasLowerBound || v.HasUpperBound {
			return v, fmt.Errorf("basd: variable %s: normal distribution takes no bounds", opt.Name)
		}
	case "weibull":
		v.HasDistribution, v.Distribution = true, Weibull
		if !v.HasLowerBound || v.HasUpperBound {
			return v, fmt.Errorf("basd: variable %s: weibull distribution requires a lower bound only", opt.Name)
		}
	case "gamma":
		v.HasDistribution, v.Distribution = true, Gamma
		if !v.HasLowerBound || v.HasUpperBound {
			return v, fmt.Errorf("basd: variable %s: gamma distribution requires a lower bound only", opt.Name)
		}
	case "rice":
		v.HasDistribution, v.Distribution = true, Rice
		if !v.HasLowerBound || v.HasUpperBound {
			return v, fmt.Errorf("basd: variable %s: rice distribution requires a lower bound only", opt.Name)
		}
	case "beta":
		v.HasDistribution, v.Distribution = true, Beta
		if !v.HasLowerBound || !v.HasUpperBound {
			return v, fmt.Errorf("basd: variable %s: beta distribution requires both bounds", opt.Name)
		}
	default:
		return v, fmt.Errorf("basd: variable %s: %w: %q", opt.Name, ErrUnknownDistribution, opt.Distribution)
	}

	switch strings.ToLower(opt.TrendPreservation) {
	case "", "additive":
		v.TrendPreservation = Additive
	case "multiplicative":
		v.TrendPreservation = Multiplicative
	case "mixed":
		v.TrendPreservation = Mixed
	case "bounded":
		v.TrendPreservation = Bounded
		if !v.HasLowerThreshold || !v.HasUpperThreshold {
			return v, fmt.Errorf("basd: variable %s: bounded trend preservation requires both thresholds", opt.Name)
		}
	default:
		return v, fmt.Errorf("basd: variable %s: %w: %q", opt.Name, ErrUnknownTrendPreservation, opt.TrendPreservation)
	}

	v.Detrend = parseBool(opt.Detrend, false)
	v.AdjustPValues = parseBool(opt.AdjustPValues, false)
	v.UnconditionalCCSTransfer = parseBool(opt.UnconditionalCCSTransfer, false)
	v.TrendlessBoundFrequency = parseBool(opt.TrendlessBoundFrequency, false)

	if hw, ok := parseFloat(opt.HalfwinUpperBoundClimatology); ok {
		v.HalfwinUpperBoundClimatology = int(hw)
	}
	if fb, ok := parseFloat(opt.IfAllInvalidUse); ok {
		v.IfAllInvalidUse = fb
	} else {
		v.IfAllInvalidUse = 9.969209968386869e+36
	}

	return v, nil
}
