package basd

import "errors"

// Sentinel errors returned by configuration and data validation. Cell-local
// anomalies (missing data, failed distribution fits) are never represented
// as errors; see internal/warn for that path.
var (
	// ErrPeriodMismatch is returned when input series do not cover the
	// same, complete set of days for every supplied year.
	ErrPeriodMismatch = errors.New("basd: input periods are not uniform or not complete years")

	// ErrGridMismatch is returned when a fine grid is not a valid
	// integer-factor refinement of its paired coarse grid.
	ErrGridMismatch = errors.New("basd: fine grid is not a consistent refinement of the coarse grid")

	// ErrNoVariables is returned when a run is configured with zero
	// variables to process.
	ErrNoVariables = errors.New("basd: no variables configured")

	// ErrUnknownDistribution is returned when a variable names a
	// distribution family the numerics kernel does not implement.
	ErrUnknownDistribution = errors.New("basd: unknown distribution family")

	// ErrUnknownTrendPreservation is returned when a variable names a
	// trend preservation mode the kernel does not implement.
	ErrUnknownTrendPreservation = errors.New("basd: unknown trend preservation method")

	// ErrAllInvalid names the condition in which every value in a
	// required series is invalid. The location and cell drivers in this
	// package do not return it; they report that case as a skipped cell
	// through their boolean result.
	ErrAllInvalid = errors.New("basd: series contains no valid values")
)
