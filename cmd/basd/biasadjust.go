package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/pik-isimip/basd"
	"github.com/pik-isimip/basd/internal/warn"
)

var biasAdjustCmd = &cobra.Command{
	Use:   "bias-adjust",
	Short: "Bias-adjust simulated time series against observations",
	Long: `bias-adjust runs trend-preserving parametric quantile mapping (with
optional MBCn multivariate coupling across variables) for every grid cell,
reading obs-hist/sim-hist/sim-fut inputs and writing a bias-adjusted
sim-fut-ba output, following the option layout of the reference
bias_adjustment.py command.`,
	RunE: runBiasAdjust,
}

func runBiasAdjust(cmd *cobra.Command, args []string) error {
	fc, err := requireConfigPath()
	if err != nil {
		return err
	}

	names := basd.SplitCSV(fc.Variables.Name)
	if len(names) == 0 {
		return basd.ErrNoVariables
	}
	specs := make([]basd.VariableSpec, len(names))
	opts := make([]basd.VariableOptionSet, len(names))
	for i, name := range names {
		opt, err := variableOptionSetAt(fc.Variables, name, i)
		if err != nil {
			return err
		}
		opts[i] = opt
		specs[i], err = basd.ParseVariableSpec(opt)
		if err != nil {
			return err
		}
	}

	runCfg := basd.DefaultRunConfig()
	applyGlobalConfig(&runCfg, fc.Global)
	if err := runCfg.Validate(); err != nil {
		return err
	}

	obsHistFile, err := os.OpenFile(fc.Global.ObsHist, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("basd: opening obs_hist: %w", err)
	}
	defer obsHistFile.Close()
	simHistFile, err := os.OpenFile(fc.Global.SimHist, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("basd: opening sim_hist: %w", err)
	}
	defer simHistFile.Close()
	simFutFile, err := os.OpenFile(fc.Global.SimFut, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("basd: opening sim_fut: %w", err)
	}
	defer simFutFile.Close()

	obsHist, err := basd.OpenCDFGridStore(obsHistFile, []string{"time", "lat", "lon"})
	if err != nil {
		return err
	}
	simHist, err := basd.OpenCDFGridStore(simHistFile, []string{"time", "lat", "lon"})
	if err != nil {
		return err
	}
	simFut, err := basd.OpenCDFGridStore(simFutFile, []string{"time", "lat", "lon"})
	if err != nil {
		return err
	}

	startYears := map[string]int{
		basd.ObsHist: fc.Global.ObsHistStartYear,
		basd.SimHist: fc.Global.SimHistStartYear,
		basd.SimFut:  fc.Global.SimFutStartYear,
	}
	roleStores := map[string]*basd.CDFGridStore{
		basd.ObsHist: obsHist,
		basd.SimHist: simHist,
		basd.SimFut:  simFut,
	}
	firstCell := make([]int, len(simFut.Dims())-1)
	calendars := map[string]basd.LocationSeries{}
	doysByRole := map[string][]int{}
	for role, store := range roleStores {
		if startYears[role] == 0 {
			return fmt.Errorf("basd: %s_start_year is required", role)
		}
		series, err := store.ReadCell(names[0], firstCell)
		if err != nil {
			return fmt.Errorf("basd: probing %s time length: %w", role, err)
		}
		years, doys, months := basd.YearsDoysMonths(startYears[role], len(series))
		if err := basd.ValidatePeriodCoverage(years, doys, role); err != nil {
			return err
		}
		calendars[role] = basd.LocationSeries{Years: years, Doys: doys, Months: months}
		doysByRole[role] = doys
	}
	if runCfg.StepSize > 0 {
		if err := basd.ValidateUniformDoyCoverage(doysByRole); err != nil {
			return err
		}
	}
	nTimeFut := len(calendars[basd.SimFut].Years)

	// one output file per variable, matching the comma-separated
	// sim_fut_ba path list of the inputs.
	baPaths := basd.SplitCSV(fc.Global.SimFutBA)
	if len(baPaths) != len(names) {
		return fmt.Errorf("basd: need one sim_fut_ba path per variable, got %d paths for %d variables", len(baPaths), len(names))
	}
	stores := map[string]basd.GridStore{
		basd.ObsHist: obsHist,
		basd.SimHist: simHist,
		basd.SimFut:  simFut,
	}
	for i, name := range names {
		f, err := os.Create(baPaths[i])
		if err != nil {
			return fmt.Errorf("basd: creating sim_fut_ba for %s: %w", name, err)
		}
		defer f.Close()
		store, err := basd.CreateOutputGridStore(f, simFut, name+"_ba", nTimeFut, runCfg.FillValue, "ba_", runOptionAttrs(runCfg, fc.Global.Months, opts[i]))
		if err != nil {
			return err
		}
		stores["sim_fut_ba:"+name] = store
	}

	io := basd.NewIOCoordinator(stores)

	shape := make([]int, 0, 2)
	for _, d := range []string{"lat", "lon"} {
		shape = append(shape, len(simFut.Coords()[d]))
	}
	jobs := make([]basd.CellJob, 0, shape[0]*shape[1])
	for _, idx := range basd.IterateCellIndices(shape) {
		jobs = append(jobs, basd.CellJob{CellIndex: idx})
	}

	var rotationMatrices []*mat.Dense
	if len(names) > 1 {
		rotationMatrices = creMatrices(runCfg.RandomizationSeed, len(names), runCfg.NIterations)
	}

	warner := warn.New(runCfg.RepeatWarnings)
	cfg := basd.BiasAdjustConfig{
		Variables:           specs,
		NQuantiles:          runCfg.NQuantiles,
		StepSize:            runCfg.StepSize,
		Months:              runCfg.Months,
		PValueEps:           runCfg.PValueEps,
		MaxChangeFactor:     runCfg.MaxChangeFactor,
		MaxAdjustmentFactor: runCfg.MaxAdjustmentFactor,
	}

	process := func(ctx context.Context, io *basd.IOCoordinator, job basd.CellJob) (bool, error) {
		data := basd.PeriodData{}
		for _, role := range []string{basd.ObsHist, basd.SimHist, basd.SimFut} {
			values := make([][]float64, len(names))
			cal := calendars[role]
			for i, name := range names {
				v, err := io.Load(ctx, role, name, job.CellIndex)
				if err != nil {
					return false, err
				}
				if len(v) != len(cal.Years) {
					return false, fmt.Errorf("basd: %s variable %s at cell %v: %d time steps, want %d", role, name, job.CellIndex, len(v), len(cal.Years))
				}
				values[i] = v
			}
			data[role] = basd.LocationSeries{Values: values, Years: cal.Years, Doys: cal.Doys, Months: cal.Months}
		}

		rng := rngFor(runCfg.RandomizationSeed, job.CellIndex)
		result, ok := basd.AdjustBiasOneLocation(data, cfg, rng, rotationMatrices)
		if !ok {
			warner.Skip(job.CellIndex, "every input value invalid")
			return true, nil
		}
		for i, name := range names {
			if err := basd.CheckNoInvalid(result[i]); err != nil {
				return false, fmt.Errorf("cell %v, variable %s: %w", job.CellIndex, name, err)
			}
			if err := io.Save(ctx, "sim_fut_ba:"+name, name+"_ba", job.CellIndex, result[i]); err != nil {
				return false, err
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
	fmt.Printf("bias-adjust: processed %d cells, skipped %d\n", len(results), skipped)
	return nil
}

func variableOptionSetAt(vc VariablesConfig, name string, i int) (basd.VariableOptionSet, error) {
	field := func(csv string) string {
		v, _ := basd.FieldAt(csv, i)
		return v
	}
	return basd.VariableOptionSet{
		Name:                         name,
		LowerBound:                   field(vc.LowerBound),
		LowerThreshold:               field(vc.LowerThreshold),
		UpperBound:                   field(vc.UpperBound),
		UpperThreshold:               field(vc.UpperThreshold),
		Distribution:                 field(vc.Distribution),
		TrendPreservation:            field(vc.TrendPreservation),
		Detrend:                      field(vc.Detrend),
		AdjustPValues:                field(vc.AdjustPValues),
		UnconditionalCCSTransfer:     field(vc.UnconditionalCCSTransfer),
		TrendlessBoundFrequency:      field(vc.TrendlessBoundFrequency),
		HalfwinUpperBoundClimatology: field(vc.HalfwinUpperBoundClimatology),
		IfAllInvalidUse:              field(vc.IfAllInvalidUse),
	}, nil
}

func applyGlobalConfig(rc *basd.RunConfig, gc GlobalConfig) {
	if gc.NQuantiles > 0 {
		rc.NQuantiles = gc.NQuantiles
	}
	if gc.PValueEps > 0 {
		rc.PValueEps = gc.PValueEps
	}
	if gc.MaxChangeFactor > 0 {
		rc.MaxChangeFactor = gc.MaxChangeFactor
	}
	if gc.MaxAdjustmentFactor > 0 {
		rc.MaxAdjustmentFactor = gc.MaxAdjustmentFactor
	}
	if gc.NIterations > 0 {
		rc.NIterations = gc.NIterations
	}
	rc.StepSize = gc.StepSize
	rc.Months = basd.SplitCSVInts(gc.Months)
	rc.RandomizationSeed = gc.RandomizationSeed
	if gc.NProcesses > 0 {
		rc.NProcesses = gc.NProcesses
	}
	if gc.FillValue != 0 {
		rc.FillValue = gc.FillValue
	}
	rc.RepeatWarnings = gc.RepeatWarnings
}
