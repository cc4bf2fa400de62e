package main

import (
	"fmt"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/pik-isimip/basd"
)

// FileConfig is the TOML-decoded shape of a basd configuration file,
// mirroring bias_adjustment.py/statistical_downscaling.py's OptionParser
// configuration surface: one global section shared by both subcommands, and
// one Variables section whose fields are comma-joined per-variable lists
// (the same convention the reference CLI uses, so a single value still
// applies to every variable while per-variable overrides stay one flag per
// concern rather than one flag per variable).
type FileConfig struct {
	Global    GlobalConfig    `toml:"global"`
	Variables VariablesConfig `toml:"variables"`
}

// GlobalConfig holds the run-wide options, independent of any variable.
type GlobalConfig struct {
	NQuantiles          int     `toml:"n_quantiles"`
	PValueEps           float64 `toml:"p_value_eps"`
	MaxChangeFactor     float64 `toml:"max_change_factor"`
	MaxAdjustmentFactor float64 `toml:"max_adjustment_factor"`
	NIterations         int     `toml:"n_iterations"`
	StepSize            int     `toml:"step_size"`
	Months              string  `toml:"months"`
	RandomizationSeed   int64   `toml:"randomization_seed"`
	NProcesses          int     `toml:"n_processes"`
	FillValue           float64 `toml:"fill_value"`
	RepeatWarnings      bool    `toml:"repeat_warnings"`

	ObsHist   string `toml:"obs_hist"`
	SimHist   string `toml:"sim_hist"`
	SimFut    string `toml:"sim_fut"`
	SimFutBA  string `toml:"sim_fut_ba"`
	ObsFine   string `toml:"obs_fine"`
	SimCoarse string `toml:"sim_coarse"`
	SimFine   string `toml:"sim_fine"`

	// First calendar year of each input's time axis, which is assumed to
	// hold contiguous proleptic-Gregorian days starting January 1 of that
	// year. ObsFine and SimCoarse share SimCoarseStartYear.
	ObsHistStartYear   int `toml:"obs_hist_start_year"`
	SimHistStartYear   int `toml:"sim_hist_start_year"`
	SimFutStartYear    int `toml:"sim_fut_start_year"`
	SimCoarseStartYear int `toml:"sim_coarse_start_year"`
}

// VariablesConfig holds the per-variable option lists. Every field is
// comma-split at the current variable's index, exactly as FieldAt expects; a
// single value with no commas applies to every variable.
type VariablesConfig struct {
	Name                         string `toml:"name"`
	LowerBound                   string `toml:"lower_bound"`
	LowerThreshold               string `toml:"lower_threshold"`
	UpperBound                   string `toml:"upper_bound"`
	UpperThreshold               string `toml:"upper_threshold"`
	Distribution                 string `toml:"distribution"`
	TrendPreservation            string `toml:"trend_preservation"`
	Detrend                      string `toml:"detrend"`
	AdjustPValues                string `toml:"adjust_p_values"`
	UnconditionalCCSTransfer     string `toml:"unconditional_ccs_transfer"`
	TrendlessBoundFrequency      string `toml:"trendless_bound_frequency"`
	HalfwinUpperBoundClimatology string `toml:"halfwin_upper_bound_climatology"`
	IfAllInvalidUse              string `toml:"if_all_invalid_use"`
}

// runOptionAttrs collects every effective run option as a string map for
// one output file's global attributes: the global options, the current
// variable's slice of the per-variable option lists, and the library
// version, following setup_output_nc's option dump.
func runOptionAttrs(rc basd.RunConfig, months string, opt basd.VariableOptionSet) map[string]string {
	ff := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return map[string]string{
		"version":                         basd.Version,
		"n_quantiles":                     strconv.Itoa(rc.NQuantiles),
		"p_value_eps":                     ff(rc.PValueEps),
		"max_change_factor":               ff(rc.MaxChangeFactor),
		"max_adjustment_factor":           ff(rc.MaxAdjustmentFactor),
		"n_iterations":                    strconv.Itoa(rc.NIterations),
		"step_size":                       strconv.Itoa(rc.StepSize),
		"months":                          months,
		"randomization_seed":              strconv.FormatInt(rc.RandomizationSeed, 10),
		"n_processes":                     strconv.Itoa(rc.NProcesses),
		"fill_value":                      ff(rc.FillValue),
		"variable":                        opt.Name,
		"lower_bound":                     opt.LowerBound,
		"lower_threshold":                 opt.LowerThreshold,
		"upper_bound":                     opt.UpperBound,
		"upper_threshold":                 opt.UpperThreshold,
		"distribution":                    opt.Distribution,
		"trend_preservation":              opt.TrendPreservation,
		"detrend":                         opt.Detrend,
		"adjust_p_values":                 opt.AdjustPValues,
		"unconditional_ccs_transfer":      opt.UnconditionalCCSTransfer,
		"trendless_bound_frequency":       opt.TrendlessBoundFrequency,
		"halfwin_upper_bound_climatology": opt.HalfwinUpperBoundClimatology,
		"if_all_invalid_use":              opt.IfAllInvalidUse,
	}
}

// loadFileConfig decodes a TOML configuration file. Every option comes from
// the file; no command-line flag overrides its values.
func loadFileConfig(path string) (*FileConfig, error) {
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("basd: reading configuration file %s: %w", path, err)
	}
	return &fc, nil
}
