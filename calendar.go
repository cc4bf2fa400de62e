package basd

import (
	"fmt"
	"sort"
	"time"
)

// ValidatePeriodCoverage checks that years/doys describe a gap-free,
// complete sequence of calendar days from the first to the last year
// present, returning ErrPeriodMismatch (wrapped with key for context)
// otherwise. key names the input series in error messages ("obs_hist",
// "sim_hist", "sim_fut").
func ValidatePeriodCoverage(years, doys []int, key string) error {
	if len(years) != len(doys) {
		return fmt.Errorf("%s: %w: years and doys differ in length", key, ErrPeriodMismatch)
	}
	uniqueYears := uniqueSortedInts(years)
	if len(uniqueYears) == 0 {
		return fmt.Errorf("%s: %w: no years present", key, ErrPeriodMismatch)
	}
	ys, ye := uniqueYears[0], uniqueYears[len(uniqueYears)-1]
	if len(uniqueYears) != ye-ys+1 {
		return fmt.Errorf("%s: %w: not all years between %d and %d are covered", key, ErrPeriodMismatch, ys, ye)
	}

	var wantYears, wantDoys []int
	for _, yr := range uniqueYears {
		nDays := daysInYear(yr)
		for d := 1; d <= nDays; d++ {
			wantYears = append(wantYears, yr)
			wantDoys = append(wantDoys, d)
		}
	}
	if len(years) != len(wantYears) {
		return fmt.Errorf("%s: %w: not all days between %d-01-01 and %d-12-31 are covered", key, ErrPeriodMismatch, ys, ye)
	}
	for i := range years {
		if years[i] != wantYears[i] || doys[i] != wantDoys[i] {
			return fmt.Errorf("%s: %w: not all days between %d-01-01 and %d-12-31 are covered", key, ErrPeriodMismatch, ys, ye)
		}
	}
	return nil
}

func daysInYear(year int) int {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year+1, 1, 1, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}

// ValidateUniformDoyCoverage reports ErrPeriodMismatch if the supplied
// day-of-year series do not all cover the same number of unique days,
// a precondition for running-window bias adjustment.
func ValidateUniformDoyCoverage(doysByKey map[string][]int) error {
	var want int
	haveWant := false
	for key, doys := range doysByKey {
		n := len(uniqueSortedInts(doys))
		if !haveWant {
			want = n
			haveWant = true
			continue
		}
		if n != want {
			return fmt.Errorf("%s: %w: input data do not cover the same days of the year", key, ErrPeriodMismatch)
		}
	}
	return nil
}

// WindowCentersForRunningBiasAdjustment returns the day-of-year centers of
// the running windows used for bias adjustment, spaced stepSize days apart
// and chosen so the first and last window differ in length by at most one
// day.
func WindowCentersForRunningBiasAdjustment(doys []int, stepSize int) []int {
	doyMax := maxInt(doys)
	doyMod := doyMax % stepSize
	first := 1 + stepSize/2
	if doyMod != 0 {
		first -= (stepSize - doyMod) / 2
	}
	var out []int
	for c := first; c <= doyMax; c += stepSize {
		out = append(out, c)
	}
	return out
}

// WindowIndicesForRunningBiasAdjustment returns the indices into a
// doy-ordered series selecting the running window of the given width
// centered on windowCenter. When years is non-nil and holds a single year,
// the window around the first center wraps circularly at the series
// boundary; for multi-year data each year's window only keeps indices whose
// year label matches that year's own position in the running sequence, so
// it never extends into an adjacent year. When years is nil the window
// wraps circularly across the whole series.
func WindowIndicesForRunningBiasAdjustment(doys []int, windowCenter, windowWidth int, years []int) []int {
	var centers []int
	if windowCenter == 366 {
		for i, d := range doys {
			if d == 365 {
				centers = append(centers, i+1)
			}
		}
	} else {
		for i, d := range doys {
			if d == windowCenter {
				centers = append(centers, i)
			}
		}
	}
	h := windowWidth / 2
	n := len(doys)

	if years == nil {
		set := make(map[int]struct{})
		for _, c := range centers {
			for off := -h; off <= h; off++ {
				set[mod(c+off, n)] = struct{}{}
			}
		}
		return sortedKeys(set)
	}

	yearsUnique := uniqueSortedInts(years)
	if len(yearsUnique) == 1 {
		c := centers[0]
		var out []int
		for off := -h; off <= h; off++ {
			out = append(out, mod(c+off, n))
		}
		return out
	}

	var out []int
	for j, c := range centers {
		expectedYear := yearsUnique[j]
		for off := -h; off <= h; off++ {
			idx := mod(c+off, n)
			if years[idx] == expectedYear {
				out = append(out, idx)
			}
		}
	}
	return out
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

func maxInt(x []int) int {
	m := x[0]
	for _, v := range x[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func sortedKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// YearsDoysMonths builds the year/day-of-year/month calendar axes for n
// contiguous proleptic-Gregorian days starting at startYear-01-01, the
// calendar basd assumes for every role's time dimension.
func YearsDoysMonths(startYear, n int) (years, doys, months []int) {
	years = make([]int, n)
	doys = make([]int, n)
	months = make([]int, n)
	t := time.Date(startYear, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		years[i] = t.Year()
		doys[i] = t.YearDay()
		months[i] = int(t.Month())
		t = t.AddDate(0, 0, 1)
	}
	return years, doys, months
}

// MonthIndices returns the indices of doys (grouped by calendar month of
// the corresponding years) belonging to the given 1-12 month number, for
// calendar-month mode bias adjustment.
func MonthIndices(months []int, month int) []int {
	var out []int
	for i, m := range months {
		if m == month {
			out = append(out, i)
		}
	}
	return out
}
