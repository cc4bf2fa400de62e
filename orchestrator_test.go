package basd

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memGridStore is a minimal in-memory GridStore used only to exercise the
// IOCoordinator's request/response plumbing, standing in for CDFGridStore.
type memGridStore struct {
	mu   sync.Mutex
	dims []string
	data map[string]map[string][]float64 // variable -> cellKey -> values
}

func newMemGridStore(dims []string) *memGridStore {
	return &memGridStore{dims: dims, data: make(map[string]map[string][]float64)}
}

func (m *memGridStore) Dims() []string               { return m.dims }
func (m *memGridStore) Coords() map[string][]float64 { return nil }

func (m *memGridStore) ReadCell(variable string, cellIndex []int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vals, ok := m.data[variable][fmt.Sprint(cellIndex)]
	if !ok {
		return nil, fmt.Errorf("no data for %s at %v", variable, cellIndex)
	}
	return append([]float64(nil), vals...), nil
}

func (m *memGridStore) WriteCell(variable string, cellIndex []int, values []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[variable] == nil {
		m.data[variable] = make(map[string][]float64)
	}
	m.data[variable][fmt.Sprint(cellIndex)] = append([]float64(nil), values...)
	return nil
}

func TestIterateCellIndicesRowMajor(t *testing.T) {
	got := IterateCellIndices([]int{2, 3})
	want := [][]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i], got[i])
	}
}

func TestIOCoordinatorLoadSaveRoundTrip(t *testing.T) {
	store := newMemGridStore([]string{"y", "x"})
	io := NewIOCoordinator(map[string]GridStore{"sim_fut": store})

	ctx := context.Background()
	cell := []int{1, 2}
	require.NoError(t, io.Save(ctx, "sim_fut", "tas", cell, []float64{1, 2, 3}))

	got, err := io.Load(ctx, "sim_fut", "tas", cell)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got)
}

func TestIOCoordinatorUnknownRole(t *testing.T) {
	io := NewIOCoordinator(map[string]GridStore{})
	_, err := io.Load(context.Background(), "missing", "tas", []int{0})
	assert.Error(t, err)
}

func TestRunParallelSynchronousFastPath(t *testing.T) {
	store := newMemGridStore([]string{"y", "x"})
	io := NewIOCoordinator(map[string]GridStore{"sim_fut": store})
	jobs := []CellJob{{CellIndex: []int{0}}, {CellIndex: []int{1}}, {CellIndex: []int{2}}}

	var seen []int
	process := func(ctx context.Context, io *IOCoordinator, job CellJob) (bool, error) {
		seen = append(seen, job.CellIndex[0])
		return false, nil
	}

	results, err := RunParallel(context.Background(), jobs, io, 1, process)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []int{0, 1, 2}, seen, "n_processes<=1 must process jobs in order, synchronously")
}

func TestRunParallelWorkerPoolProcessesAllJobs(t *testing.T) {
	store := newMemGridStore([]string{"y", "x"})
	io := NewIOCoordinator(map[string]GridStore{"sim_fut": store})

	n := 20
	jobs := make([]CellJob, n)
	for i := range jobs {
		jobs[i] = CellJob{CellIndex: []int{i}}
	}

	process := func(ctx context.Context, io *IOCoordinator, job CellJob) (bool, error) {
		return false, io.Save(ctx, "sim_fut", "tas", job.CellIndex, []float64{float64(job.CellIndex[0])})
	}

	results, err := RunParallel(context.Background(), jobs, io, 4, process)
	require.NoError(t, err)
	require.Len(t, results, n)
	for i, r := range results {
		assert.Equal(t, []int{i}, r.CellIndex)
		assert.False(t, r.Skipped)
		assert.NoError(t, r.Err)
	}
}

func TestRunParallelPropagatesFatalError(t *testing.T) {
	store := newMemGridStore([]string{"y", "x"})
	io := NewIOCoordinator(map[string]GridStore{"sim_fut": store})
	jobs := []CellJob{{CellIndex: []int{0}}, {CellIndex: []int{1}}}

	boom := fmt.Errorf("configuration error")
	process := func(ctx context.Context, io *IOCoordinator, job CellJob) (bool, error) {
		if job.CellIndex[0] == 0 {
			return false, boom
		}
		return false, nil
	}

	_, err := RunParallel(context.Background(), jobs, io, 1, process)
	assert.Error(t, err)
}
