package basd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateNestedGridAccepts(t *testing.T) {
	coarse := []float64{0, 1, 2, 3}
	fine := make([]float64, 0, 12)
	for _, c := range coarse {
		for _, off := range []float64{-1. / 3, 0, 1. / 3} {
			fine = append(fine, c+off)
		}
	}
	geoms, err := ValidateNestedGrid([][]float64{coarse}, [][]float64{fine})
	require.NoError(t, err)
	require.Len(t, geoms, 1)
	assert.Equal(t, 3, geoms[0].DownscalingFactor)
	assert.True(t, geoms[0].Ascending)
}

func TestValidateNestedGridRejectsNonMultiple(t *testing.T) {
	coarse := []float64{0, 1, 2}
	fine := []float64{0, 0.5, 1, 1.5, 2} // 5 not a multiple of 3
	_, err := ValidateNestedGrid([][]float64{coarse}, [][]float64{fine})
	assert.ErrorIs(t, err, ErrGridMismatch)
}

func TestGridCellWeightsCosLat(t *testing.T) {
	dims := []string{"lat", "lon"}
	coords := map[string][]float64{
		"lat": {0, 60},
		"lon": {10, 20, 30},
	}
	w, err := GridCellWeights(dims, coords)
	require.NoError(t, err)
	require.Len(t, w, 6)
	// Rows are ordered lat-major; lat=0 rows should weigh more than lat=60 rows.
	assert.Greater(t, w[0], w[3])
}

func TestGridCellWeightsUniformFallback(t *testing.T) {
	dims := []string{"y", "x"}
	coords := map[string][]float64{"y": {1, 2}, "x": {1, 2, 3}}
	w, err := GridCellWeights(dims, coords)
	require.NoError(t, err)
	for _, v := range w {
		assert.Equal(t, 1., v)
	}
}

func TestXipm1ExtrapolatesAtEdges(t *testing.T) {
	x := []float64{10, 20, 30, 40}
	assert.Equal(t, []float64{0, 10, 20}, Xipm1(x, 0))
	assert.Equal(t, []float64{20, 30, 40}, Xipm1(x, 2))
	assert.Equal(t, []float64{30, 40, 50}, Xipm1(x, 3))
}

func TestRemapBilinear1D(t *testing.T) {
	igrid := [][]float64{{0, 1, 2}}
	ogrid := [][]float64{{0.25, 0.75, 1.5}}
	ivalues := [][]float64{{0}, {10}, {20}}
	out := RemapBilinear(ivalues, igrid, ogrid, []bool{true})
	require.Len(t, out, 3)
	assert.InDelta(t, 2.5, out[0][0], 1e-9)
	assert.InDelta(t, 7.5, out[1][0], 1e-9)
	assert.InDelta(t, 15., out[2][0], 1e-9)
}
