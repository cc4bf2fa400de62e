package basd

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ctessum/requestcache"
)

// CellJob identifies one unit of work for the orchestrator: either a
// bias-adjustment location or a downscaling coarse cell, named by its
// spatial index into a GridStore's non-time dimensions.
type CellJob struct {
	CellIndex []int
}

// CellResult pairs a CellJob with the outcome of processing it.
type CellResult struct {
	CellIndex []int
	Skipped   bool
	Err       error
}

// IterateCellIndices enumerates every spatial cell index for a grid whose
// non-time dimensions have the given shape, in row-major (np.ndindex)
// order, mirroring the reference implementation's iteration over
// np.ndindex(space_shape).
func IterateCellIndices(shape []int) [][]int {
	total := 1
	for _, s := range shape {
		total *= s
	}
	out := make([][]int, total)
	idx := make([]int, len(shape))
	for n := 0; n < total; n++ {
		cur := append([]int(nil), idx...)
		out[n] = cur
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

// ioRequest is the payload type the I/O coordinator's single processor
// goroutine acts on. role distinguishes the caller's GridStore (the
// bias-adjust command uses "obs_hist", "sim_hist", "sim_fut" and
// "sim_fut_ba:<variable>"; the downscale command uses "obs_fine",
// "sim_coarse" and "sim_fine").
type ioRequest struct {
	save      bool
	role      string
	variable  string
	cellIndex []int
	values    []float64
}

// IOCoordinator owns every GridStore handle exclusively and serializes all
// reads and writes through a single requestcache processor goroutine: a
// single dedicated goroutine owns all file handles. Workers never touch a
// GridStore directly; they submit LOAD/SAVE requests here and block on the
// per-request reply channel requestcache already provides.
type IOCoordinator struct {
	stores map[string]GridStore
	cache  *requestcache.Cache
}

// NewIOCoordinator starts the coordinator goroutine. stores maps each role
// name to the GridStore backing it; WriteCell targets should be opened in
// read_write mode by the caller before this is constructed.
func NewIOCoordinator(stores map[string]GridStore) *IOCoordinator {
	c := &IOCoordinator{stores: stores}
	process := func(ctx context.Context, payload interface{}) (interface{}, error) {
		req := payload.(ioRequest)
		store, ok := c.stores[req.role]
		if !ok {
			return nil, fmt.Errorf("basd: io coordinator: unknown role %q", req.role)
		}
		if req.save {
			return nil, store.WriteCell(req.variable, req.cellIndex, req.values)
		}
		return store.ReadCell(req.variable, req.cellIndex)
	}
	// numProcessors=1: every request is handled by the same goroutine, so
	// concurrent workers never race on a GridStore's underlying file handle.
	c.cache = requestcache.NewCache(process, 1)
	return c
}

func requestKey(op, role, variable string, cellIndex []int) string {
	return fmt.Sprintf("%s:%s:%s:%v", op, role, variable, cellIndex)
}

// Load reads the full time series of variable at cellIndex from the named
// role's GridStore.
func (c *IOCoordinator) Load(ctx context.Context, role, variable string, cellIndex []int) ([]float64, error) {
	req := c.cache.NewRequest(ctx, ioRequest{role: role, variable: variable, cellIndex: cellIndex},
		requestKey("load", role, variable, cellIndex))
	res, err := req.Result()
	if err != nil {
		return nil, err
	}
	return res.([]float64), nil
}

// Save writes values as the full time series of variable at cellIndex in
// the named role's GridStore. Because the coordinator runs a single
// processor goroutine, by the time Save's Result() returns, the write (and
// any sync the GridStore implementation performs) has completed, so the
// calling worker may safely advance to the next cell.
func (c *IOCoordinator) Save(ctx context.Context, role, variable string, cellIndex []int, values []float64) error {
	req := c.cache.NewRequest(ctx, ioRequest{save: true, role: role, variable: variable, cellIndex: cellIndex, values: values},
		requestKey("save", role, variable, cellIndex))
	_, err := req.Result()
	return err
}

// CellProcessor runs one cell's entire pipeline (load inputs via io, adjust
// or downscale, save outputs via io) and reports whether the cell was
// skipped (e.g. because every input value was invalid).
type CellProcessor func(ctx context.Context, io *IOCoordinator, job CellJob) (skipped bool, err error)

// RunParallel drives process over every job in jobs. When nProcesses <= 1
// it uses an in-process synchronous fast path that calls process directly on
// the calling goroutine, with no worker goroutines (I/O still goes through
// io). Otherwise it starts nProcesses-1 worker goroutines, at most
// runtime.NumCPU(), that pull jobs from a shared channel, each
// one a strictly single-threaded, purely-CPU-bound computation apart from
// its blocking calls to io.
//
// RunParallel returns the first fatal error encountered (a configuration or
// numerical error); cell-local issues are expected to have already been
// folded into a warning by process and are reported back only via the
// skipped flag.
func RunParallel(ctx context.Context, jobs []CellJob, io *IOCoordinator, nProcesses int, process CellProcessor) ([]CellResult, error) {
	results := make([]CellResult, len(jobs))

	if nProcesses <= 1 {
		for i, job := range jobs {
			skipped, err := process(ctx, io, job)
			results[i] = CellResult{CellIndex: job.CellIndex, Skipped: skipped, Err: err}
			if err != nil {
				return results, err
			}
		}
		return results, nil
	}

	nWorkers := nProcesses - 1
	if nWorkers < 1 {
		nWorkers = 1
	}
	if nWorkers > runtime.NumCPU() {
		nWorkers = runtime.NumCPU()
	}

	type indexedJob struct {
		i   int
		job CellJob
	}
	jobChan := make(chan indexedJob)
	errChan := make(chan error, nWorkers)
	done := make(chan struct{})

	for w := 0; w < nWorkers; w++ {
		go func() {
			for ij := range jobChan {
				skipped, err := process(ctx, io, ij.job)
				results[ij.i] = CellResult{CellIndex: ij.job.CellIndex, Skipped: skipped, Err: err}
				if err != nil {
					select {
					case errChan <- err:
					default:
					}
				}
			}
			done <- struct{}{}
		}()
	}

	go func() {
		for i, job := range jobs {
			jobChan <- indexedJob{i: i, job: job}
		}
		close(jobChan)
	}()

	for w := 0; w < nWorkers; w++ {
		<-done
	}

	select {
	case err := <-errChan:
		return results, err
	default:
		return results, nil
	}
}
