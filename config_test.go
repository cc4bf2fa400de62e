package basd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunConfigValidate(t *testing.T) {
	c := DefaultRunConfig()
	assert.NoError(t, c.Validate())

	c.Months = []int{1, 12, 13}
	assert.Error(t, c.Validate())

	c = DefaultRunConfig()
	c.StepSize = 4 // even, invalid
	assert.Error(t, c.Validate())

	c.StepSize = 31
	assert.NoError(t, c.Validate())

	c.StepSize = 33
	assert.Error(t, c.Validate())

	c = DefaultRunConfig()
	c.NProcesses = 0
	assert.Error(t, c.Validate())
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitCSV("a, b,c"))
	assert.Nil(t, SplitCSV(""))
	assert.Equal(t, []string{"a"}, SplitCSV("a,"))
}

func TestFieldAt(t *testing.T) {
	v, ok := FieldAt("5", 2)
	require.True(t, ok)
	assert.Equal(t, "5", v, "a single value applies to every variable")

	v, ok = FieldAt("1,2,3", 1)
	require.True(t, ok)
	assert.Equal(t, "2", v)

	_, ok = FieldAt("1,2", 5)
	assert.False(t, ok)

	_, ok = FieldAt("", 0)
	assert.False(t, ok)
}

func TestParseVariableSpecBetaRequiresBothBounds(t *testing.T) {
	_, err := ParseVariableSpec(VariableOptionSet{Name: "hurs", Distribution: "beta", LowerBound: "0"})
	assert.Error(t, err)

	v, err := ParseVariableSpec(VariableOptionSet{Name: "hurs", Distribution: "beta", LowerBound: "0", UpperBound: "100"})
	require.NoError(t, err)
	assert.Equal(t, Beta, v.Distribution)
}

func TestParseVariableSpecNormalRejectsBounds(t *testing.T) {
	_, err := ParseVariableSpec(VariableOptionSet{Name: "tas", Distribution: "normal", LowerBound: "0"})
	assert.Error(t, err)
}

func TestParseVariableSpecWeibullRequiresLowerOnly(t *testing.T) {
	_, err := ParseVariableSpec(VariableOptionSet{Name: "wind", Distribution: "weibull"})
	assert.Error(t, err, "weibull requires a lower bound")

	_, err = ParseVariableSpec(VariableOptionSet{Name: "wind", Distribution: "weibull", LowerBound: "0", UpperBound: "1"})
	assert.Error(t, err, "weibull must not take an upper bound")

	v, err := ParseVariableSpec(VariableOptionSet{Name: "wind", Distribution: "weibull", LowerBound: "0"})
	require.NoError(t, err)
	assert.Equal(t, Weibull, v.Distribution)
}

func TestParseVariableSpecBoundOrdering(t *testing.T) {
	_, err := ParseVariableSpec(VariableOptionSet{
		Name: "pr", LowerBound: "10", LowerThreshold: "5",
	})
	assert.Error(t, err, "lower_bound must be < lower_threshold")

	_, err = ParseVariableSpec(VariableOptionSet{
		Name: "pr", UpperBound: "5", UpperThreshold: "10",
	})
	assert.Error(t, err, "upper_threshold must be < upper_bound")
}

func TestParseVariableSpecBoundedTrendPreservationRequiresThresholds(t *testing.T) {
	_, err := ParseVariableSpec(VariableOptionSet{
		Name: "pr", TrendPreservation: "bounded", LowerBound: "0", UpperBound: "100",
	})
	assert.Error(t, err)

	v, err := ParseVariableSpec(VariableOptionSet{
		Name: "pr", TrendPreservation: "bounded",
		LowerBound: "0", LowerThreshold: "1", UpperThreshold: "99", UpperBound: "100",
	})
	require.NoError(t, err)
	assert.Equal(t, Bounded, v.TrendPreservation)
}

func TestParseVariableSpecDefaults(t *testing.T) {
	v, err := ParseVariableSpec(VariableOptionSet{Name: "tas"})
	require.NoError(t, err)
	assert.Equal(t, Additive, v.TrendPreservation)
	assert.False(t, v.HasDistribution)
	assert.Equal(t, 9.969209968386869e+36, v.IfAllInvalidUse)
}

func TestParseVariableSpecUnknownDistribution(t *testing.T) {
	_, err := ParseVariableSpec(VariableOptionSet{Name: "tas", Distribution: "bogus"})
	assert.ErrorIs(t, err, ErrUnknownDistribution)
}

func TestParseVariableSpecUnknownTrendPreservation(t *testing.T) {
	_, err := ParseVariableSpec(VariableOptionSet{Name: "tas", TrendPreservation: "bogus"})
	assert.ErrorIs(t, err, ErrUnknownTrendPreservation)
}
