package basd

import (
	"fmt"
	"os"
	"sort"

	"github.com/ctessum/cdf"
)

// GridStore abstracts reading and writing gridded climate time series held
// in chunked scientific-data files, so the worker pool in orchestrator.go
// can be driven against any backing format. CDFGridStore implements it on
// top of netCDF-like files via ctessum/cdf, following the read/write
// patterns used to load and save InMAP's own CTM data files.
type GridStore interface {
	// Dims returns the grid's dimension names in declaration order, "time"
	// first followed by the spatial dimensions.
	Dims() []string
	// Coords returns the coordinate values of every non-time dimension.
	Coords() map[string][]float64
	// ReadCell reads the full time series of variable at the given spatial
	// cell index (one index per non-time dimension, in Dims order).
	ReadCell(variable string, cellIndex []int) ([]float64, error)
	// WriteCell writes values as the full time series of variable at the
	// given spatial cell index.
	WriteCell(variable string, cellIndex []int, values []float64) error
}

// CDFGridStore is a GridStore backed by a netCDF-like ctessum/cdf file.
type CDFGridStore struct {
	f           *cdf.File
	dims        []string
	spatialDims []string
	lengths     map[string]int
	coords      map[string][]float64
}

// OpenCDFGridStore opens an existing netCDF-like file for reading or
// writing grid cell time series, caching its dimension lengths and
// coordinate variables. dims must list "time" plus every spatial dimension
// the data variables use, in the order they appear in the file.
func OpenCDFGridStore(w cdf.ReaderWriterAt, dims []string) (*CDFGridStore, error) {
	f, err := cdf.Open(w)
	if err != nil {
		return nil, fmt.Errorf("basd: opening grid store: %w", err)
	}
	return newCDFGridStore(f, dims)
}

func newCDFGridStore(f *cdf.File, dims []string) (*CDFGridStore, error) {
	// dimension lengths come from the dimension table, not the variable
	// table: a dimension (e.g. "time") need not have a coordinate variable.
	allDims := f.Header.Dimensions("")
	allLengths := f.Header.Lengths("")
	dimLength := make(map[string]int, len(allDims))
	for i, name := range allDims {
		dimLength[name] = allLengths[i]
	}

	lengths := make(map[string]int, len(dims))
	coords := make(map[string][]float64, len(dims))
	var spatialDims []string
	availableVars := f.Header.Variables()
	for _, d := range dims {
		n, ok := dimLength[d]
		if !ok {
			return nil, fmt.Errorf("basd: dimension %s not present in file", d)
		}
		lengths[d] = n
		if d == "time" {
			continue
		}
		spatialDims = append(spatialDims, d)
		if !containsString(availableVars, d) {
			continue
		}
		r := f.Reader(d, nil, nil)
		tmp := make([]float32, n)
		if _, err := r.Read(tmp); err != nil {
			return nil, fmt.Errorf("basd: reading coordinate %s: %w", d, err)
		}
		vals := make([]float64, n)
		for i, v := range tmp {
			vals[i] = float64(v)
		}
		coords[d] = vals
	}
	return &CDFGridStore{f: f, dims: dims, spatialDims: spatialDims, lengths: lengths, coords: coords}, nil
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func (g *CDFGridStore) Dims() []string               { return g.dims }
func (g *CDFGridStore) Coords() map[string][]float64 { return g.coords }

func (g *CDFGridStore) spatialPos(dim string) int {
	for i, d := range g.spatialDims {
		if d == dim {
			return i
		}
	}
	return -1
}

func (g *CDFGridStore) ReadCell(variable string, cellIndex []int) ([]float64, error) {
	varDims := g.f.Header.Dimensions(variable)
	start := make([]int, len(varDims))
	end := make([]int, len(varDims))
	n := 1
	for i, d := range varDims {
		if d == "time" {
			start[i], end[i] = 0, g.lengths["time"]
		} else {
			pos := g.spatialPos(d)
			if pos < 0 || pos >= len(cellIndex) {
				return nil, fmt.Errorf("basd: variable %s has unexpected spatial dimension %s", variable, d)
			}
			start[i], end[i] = cellIndex[pos], cellIndex[pos]+1
		}
		n *= end[i] - start[i]
	}
	r := g.f.Reader(variable, start, end)
	tmp := make([]float32, n)
	if _, err := r.Read(tmp); err != nil {
		return nil, fmt.Errorf("basd: reading %s: %w", variable, err)
	}
	out := make([]float64, n)
	for i, v := range tmp {
		out[i] = float64(v)
	}
	return out, nil
}

func (g *CDFGridStore) WriteCell(variable string, cellIndex []int, values []float64) error {
	varDims := g.f.Header.Dimensions(variable)
	start := make([]int, len(varDims))
	end := make([]int, len(varDims))
	for i, d := range varDims {
		if d == "time" {
			start[i], end[i] = 0, len(values)
		} else {
			pos := g.spatialPos(d)
			if pos < 0 || pos >= len(cellIndex) {
				return fmt.Errorf("basd: variable %s has unexpected spatial dimension %s", variable, d)
			}
			start[i], end[i] = cellIndex[pos], cellIndex[pos]+1
		}
	}
	data32 := make([]float32, len(values))
	for i, v := range values {
		data32[i] = float32(v)
	}
	w := g.f.Writer(variable, start, end)
	_, err := w.Write(data32)
	if err != nil {
		return fmt.Errorf("basd: writing %s: %w", variable, err)
	}
	return nil
}

// CreateOutputGridStore creates a new netCDF-like output file with one
// fill-valued time-series data variable, copying its spatial dimensions and
// coordinate variables from geom and stamping runOptions as global
// attributes prefixed with attrPrefix ("ba_" for bias adjustment, "sd_"
// for downscaling), following setup_output_nc. Pass the coarse
// source's grid as geom for bias adjustment output, or the fine
// observational grid as geom for statistical downscaling output (whose
// spatial grid is the fine grid even though its driving data is coarse).
// The data variable is filled entirely with fillValue before any cell is
// written, so cells skipped by the orchestrator (e.g. all-invalid inputs)
// are left at fillValue in the output rather than garbage.
func CreateOutputGridStore(w *os.File, geom GridStore, variable string, nTime int, fillValue float64, attrPrefix string, runOptions map[string]string) (*CDFGridStore, error) {
	spatialDims := make([]string, 0, len(geom.Dims()))
	for _, d := range geom.Dims() {
		if d != "time" {
			spatialDims = append(spatialDims, d)
		}
	}

	dimNames := append([]string{"time"}, spatialDims...)
	dimLengths := make([]int, len(dimNames))
	dimLengths[0] = nTime
	for i, d := range spatialDims {
		dimLengths[i+1] = len(geom.Coords()[d])
	}

	h := cdf.NewHeader(dimNames, dimLengths)

	attrNames := make([]string, 0, len(runOptions))
	for k := range runOptions {
		attrNames = append(attrNames, k)
	}
	sort.Strings(attrNames)
	for _, k := range attrNames {
		h.AddAttribute("", attrPrefix+k, runOptions[k])
	}

	for _, d := range spatialDims {
		h.AddVariable(d, []string{d}, []float32{0})
	}
	h.AddVariable(variable, dimNames, []float32{0})
	h.AddAttribute(variable, "_FillValue", []float32{float32(fillValue)})
	h.Define()

	f, err := cdf.Create(w, h)
	if err != nil {
		return nil, fmt.Errorf("basd: creating output grid store: %w", err)
	}
	if err := f.Fill(variable); err != nil {
		return nil, fmt.Errorf("basd: pre-filling %s with fill_value: %w", variable, err)
	}
	for _, d := range spatialDims {
		coord := geom.Coords()[d]
		data32 := make([]float32, len(coord))
		for i, v := range coord {
			data32[i] = float32(v)
		}
		wtr := f.Writer(d, nil, nil)
		if _, err := wtr.Write(data32); err != nil {
			return nil, fmt.Errorf("basd: writing coordinate %s: %w", d, err)
		}
	}
	if err := cdf.UpdateNumRecs(w); err != nil {
		return nil, err
	}

	return newCDFGridStore(f, dimNames)
}
