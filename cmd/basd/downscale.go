package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pik-isimip/basd"
	"github.com/pik-isimip/basd/internal/warn"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
)

var downscaleCmd = &cobra.Command{
	Use:   "downscale",
	Short: "Statistically downscale a coarse simulation onto a fine observational grid",
	Long: `downscale runs weighted-sum-preserving MBCn downscaling for a single
variable, coarse cell by coarse cell, distributing each coarse time series
across the fine cells nested inside it while reproducing the coarse value as
the area-weighted mean of the fine output, following the option layout of
the reference statistical_downscaling.py command.`,
	RunE: runDownscale,
}

func runDownscale(cmd *cobra.Command, args []string) error {
	fc, err := requireConfigPath()
	if err != nil {
		return err
	}

	names := basd.SplitCSV(fc.Variables.Name)
	if len(names) != 1 {
		return fmt.Errorf("basd: downscale takes exactly one variable, got %d", len(names))
	}
	name := names[0]
	opt, _ := variableOptionSetAt(fc.Variables, name, 0)
	spec, err := basd.ParseVariableSpec(opt)
	if err != nil {
		return err
	}

	runCfg := basd.DefaultRunConfig()
	applyGlobalConfig(&runCfg, fc.Global)
	if err := runCfg.Validate(); err != nil {
		return err
	}

	obsFineFile, err := os.OpenFile(fc.Global.ObsFine, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("basd: opening obs_fine: %w", err)
	}
	defer obsFineFile.Close()
	simCoarseFile, err := os.OpenFile(fc.Global.SimCoarse, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("basd: opening sim_coarse: %w", err)
	}
	defer simCoarseFile.Close()

	obsFine, err := basd.OpenCDFGridStore(obsFineFile, []string{"time", "lat", "lon"})
	if err != nil {
		return err
	}
	simCoarse, err := basd.OpenCDFGridStore(simCoarseFile, []string{"time", "lat", "lon"})
	if err != nil {
		return err
	}

	coordsCoarse := [][]float64{simCoarse.Coords()["lat"], simCoarse.Coords()["lon"]}
	coordsFine := [][]float64{obsFine.Coords()["lat"], obsFine.Coords()["lon"]}
	geoms, err := basd.ValidateNestedGrid(coordsCoarse, coordsFine)
	if err != nil {
		return err
	}
	fLat, fLon := geoms[0].DownscalingFactor, geoms[1].DownscalingFactor

	simFineFile, err := os.Create(fc.Global.SimFine)
	if err != nil {
		return fmt.Errorf("basd: creating sim_fine: %w", err)
	}
	defer simFineFile.Close()

	if fc.Global.SimCoarseStartYear == 0 {
		return fmt.Errorf("basd: sim_coarse_start_year is required")
	}
	firstCoarseSeries, err := simCoarse.ReadCell(name, []int{0, 0})
	if err != nil {
		return fmt.Errorf("basd: probing sim_coarse time length: %w", err)
	}
	tSteps := len(firstCoarseSeries)
	years, doys, months := basd.YearsDoysMonths(fc.Global.SimCoarseStartYear, tSteps)
	if err := basd.ValidatePeriodCoverage(years, doys, "sim_coarse"); err != nil {
		return err
	}

	simFine, err := basd.CreateOutputGridStore(simFineFile, obsFine, name+"_sd", tSteps, runCfg.FillValue, "sd_", runOptionAttrs(runCfg, fc.Global.Months, opt))
	if err != nil {
		return err
	}

	io := basd.NewIOCoordinator(map[string]basd.GridStore{
		"obs_fine":   obsFine,
		"sim_coarse": simCoarse,
		"sim_fine":   simFine,
	})

	nLatCoarse, nLonCoarse := len(coordsCoarse[0]), len(coordsCoarse[1])
	shape := []int{nLatCoarse, nLonCoarse}
	jobs := make([]basd.CellJob, 0, nLatCoarse*nLonCoarse)
	for _, idx := range basd.IterateCellIndices(shape) {
		jobs = append(jobs, basd.CellJob{CellIndex: idx})
	}

	rotationMatrices := creMatrices(runCfg.RandomizationSeed, fLat*fLon, runCfg.NIterations)

	warner := warn.New(runCfg.RepeatWarnings)
	bounds := basd.DownscaleBounds{
		HasLowerBound: spec.HasLowerBound, LowerBound: spec.LowerBound,
		HasLowerThreshold: spec.HasLowerThreshold, LowerThreshold: spec.LowerThreshold,
		HasUpperBound: spec.HasUpperBound, UpperBound: spec.UpperBound,
		HasUpperThreshold: spec.HasUpperThreshold, UpperThreshold: spec.UpperThreshold,
	}

	process := func(ctx context.Context, io *basd.IOCoordinator, job basd.CellJob) (bool, error) {
		latC, lonC := job.CellIndex[0], job.CellIndex[1]

		fineLatIdx := patchIndices(latC, fLat, nLatCoarse*fLat)
		fineLonIdx := patchIndices(lonC, fLon, nLonCoarse*fLon)
		n := len(fineLatIdx) * len(fineLonIdx)

		obsFineMat := mat.NewDense(tSteps, n, nil)
		col := 0
		fineLatCoords := make([]float64, 0, len(fineLatIdx))
		fineLonCoords := make([]float64, 0, len(fineLonIdx))
		for _, fli := range fineLatIdx {
			fineLatCoords = append(fineLatCoords, coordsFine[0][fli])
		}
		for _, flj := range fineLonIdx {
			fineLonCoords = append(fineLonCoords, coordsFine[1][flj])
		}
		for _, fli := range fineLatIdx {
			for _, flj := range fineLonIdx {
				v, err := io.Load(ctx, "obs_fine", name, []int{fli, flj})
				if err != nil {
					return false, err
				}
				for t := 0; t < tSteps && t < len(v); t++ {
					obsFineMat.Set(t, col, v[t])
				}
				col++
			}
		}

		latNeighbors := neighborIndices(latC, nLatCoarse)
		lonNeighbors := neighborIndices(lonC, nLonCoarse)
		ivalues := make([][]float64, 0, len(latNeighbors)*len(lonNeighbors))
		for _, ln := range latNeighbors {
			for _, lo := range lonNeighbors {
				v, err := io.Load(ctx, "sim_coarse", name, []int{ln, lo})
				if err != nil {
					return false, err
				}
				ivalues = append(ivalues, v)
			}
		}
		igrid := [][]float64{basd.Xipm1(coordsCoarse[0], latC), basd.Xipm1(coordsCoarse[1], lonC)}
		ogrid := [][]float64{fineLatCoords, fineLonCoords}
		remapbil := basd.RemapBilinear(ivalues, igrid, ogrid, []bool{geoms[0].Ascending, geoms[1].Ascending})

		remapbilMat := mat.NewDense(tSteps, n, nil)
		for c, series := range remapbil {
			for t := 0; t < tSteps && t < len(series); t++ {
				remapbilMat.Set(t, c, series[t])
			}
		}

		simCoarseSeries, err := io.Load(ctx, "sim_coarse", name, []int{latC, lonC})
		if err != nil {
			return false, err
		}

		weights, err := basd.GridCellWeights([]string{"lat", "lon"}, map[string][]float64{"lat": fineLatCoords, "lon": fineLonCoords})
		if err != nil {
			return false, err
		}
		normalizeWeights(weights)

		if basd.AllInvalid(simCoarseSeries) {
			warner.Skip(job.CellIndex, "sim_coarse entirely invalid")
			return true, nil
		}

		longTermMean := map[string]float64{
			"obs_fine":            basd.AverageValidValues(matFlatten(obsFineMat), spec.IfAllInvalidUse),
			"sim_coarse":          basd.AverageValidValues(simCoarseSeries, spec.IfAllInvalidUse),
			"sim_coarse_remapbil": basd.AverageValidValues(matFlatten(remapbilMat), spec.IfAllInvalidUse),
		}

		data := basd.CoarseCellPeriod{
			ObsFine:           obsFineMat,
			SimCoarse:         simCoarseSeries,
			SimCoarseRemapbil: remapbilMat,
			Months:            months,
		}

		rng := rngFor(runCfg.RandomizationSeed, job.CellIndex)
		out := basd.DownscaleOneCoarseCell(data, longTermMean, weights, bounds, rng, runCfg.NQuantiles, rotationMatrices)

		col = 0
		for _, fli := range fineLatIdx {
			for _, flj := range fineLonIdx {
				series := make([]float64, tSteps)
				for t := 0; t < tSteps; t++ {
					series[t] = out.At(t, col)
				}
				if err := basd.CheckNoInvalid(series); err != nil {
					return false, fmt.Errorf("coarse cell %v, fine cell [%d %d]: %w", job.CellIndex, fli, flj, err)
				}
				if err := io.Save(ctx, "sim_fine", name+"_sd", []int{fli, flj}, series); err != nil {
					return false, err
				}
				col++
			}
		}
		return false, nil
	}

	results, err := basd.RunParallel(context.Background(), jobs, io, runCfg.NProcesses, process)
	if err != nil {
		return err
	}
	var skipped int
	for _, r := range results {
		if r.Skipped {
			skipped++
		}
	}
	fmt.Printf("downscale: processed %d coarse cells, skipped %d\n", len(results), skipped)
	return nil
}

// patchIndices returns the nFine fine-grid indices nested inside coarse cell
// c, clamped so a short trailing patch near the edge of a non-evenly-divided
// grid is never indexed out of range.
func patchIndices(c, f, nFineTotal int) []int {
	out := make([]int, 0, f)
	for j := 0; j < f; j++ {
		idx := c*f + j
		if idx >= nFineTotal {
			break
		}
		out = append(out, idx)
	}
	return out
}

// neighborIndices returns the coarse-grid indices at c-1, c, c+1, clamping
// to the grid edge (reusing the edge cell) rather than reading out of range,
// mirroring Xipm1's linear-extrapolation treatment of the edges at the
// level of grid coordinates rather than data indices.
func neighborIndices(c, n int) []int {
	clamp := func(i int) int {
		if i < 0 {
			return 0
		}
		if i >= n {
			return n - 1
		}
		return i
	}
	return []int{clamp(c - 1), clamp(c), clamp(c + 1)}
}

func normalizeWeights(w []float64) {
	var sum float64
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		return
	}
	for i := range w {
		w[i] /= sum
	}
}

func matFlatten(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			out = append(out, m.At(r, c))
		}
	}
	return out
}
