package parlay

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAboveThreshold(t *testing.T) {
	p := Parameter{Threshold: 5000, Range: 100000, IsAboveThreshold: true}

	t.Run("below threshold clamps to zero", func(t *testing.T) {
		assert.Equal(t, 0.0, p.Normalize(4000))
	})
	t.Run("at threshold clamps to zero", func(t *testing.T) {
		assert.Equal(t, 0.0, p.Normalize(5000))
	})
	t.Run("above threshold scales by range", func(t *testing.T) {
		assert.InDelta(t, 0.05, p.Normalize(10000), 1e-9)
	})
	t.Run("beyond range clamps to one", func(t *testing.T) {
		assert.Equal(t, 1.0, p.Normalize(105000))
	})
}

func TestNormalizeBelowThreshold(t *testing.T) {
	p := Parameter{Threshold: 100, Range: 50, IsAboveThreshold: false}

	t.Run("above threshold clamps to zero", func(t *testing.T) {
		assert.Equal(t, 0.0, p.Normalize(150))
	})
	t.Run("at threshold clamps to zero", func(t *testing.T) {
		assert.Equal(t, 0.0, p.Normalize(100))
	})
	t.Run("below threshold scales by range", func(t *testing.T) {
		assert.InDelta(t, 0.5, p.Normalize(75), 1e-9)
	})
}

func TestTransformationLogarithmicUnclamped(t *testing.T) {
	require.True(t, math.IsInf(Logarithmic.Apply(0), -1))
	assert.Equal(t, 0.0, Logarithmic.Apply(1))
}

func TestEvaluateAboveThresholdLinearMultiply(t *testing.T) {
	contract := Contract{
		ID: "c1",
		Parameters: []Parameter{
			{DataType: "a", Threshold: 5000, Range: 100000, IsAboveThreshold: true, Transformation: Linear, Weight: 1.0},
			{DataType: "b", Threshold: 5000, Range: 100000, IsAboveThreshold: true, Transformation: Linear, Weight: 1.0},
		},
		CombinationMethod:  Multiply,
		MaxNormalizedValue: 10000,
	}
	eval, err := Evaluate(contract, map[string]float64{"a": 10000, "b": 105000})
	require.NoError(t, err)
	assert.InDelta(t, 0.05, eval.CombinedScore, 1e-9)
	assert.Equal(t, uint64(500), eval.Attestable)
}

func TestEvaluateBoundaryYieldsZero(t *testing.T) {
	contract := Contract{
		ID: "c2",
		Parameters: []Parameter{
			{DataType: "a", Threshold: 5000, Range: 100000, IsAboveThreshold: true, Transformation: Linear, Weight: 1.0},
		},
		CombinationMethod:  Multiply,
		MaxNormalizedValue: 10000,
	}
	eval, err := Evaluate(contract, map[string]float64{"a": 5000})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), eval.Attestable)
}

func TestEvaluateMaxClamp(t *testing.T) {
	contract := Contract{
		ID: "c3",
		Parameters: []Parameter{
			{DataType: "a", Threshold: 5000, Range: 100000, IsAboveThreshold: true, Transformation: Linear, Weight: 1.0},
		},
		CombinationMethod:  Multiply,
		MaxNormalizedValue: 10000,
	}
	eval, err := Evaluate(contract, map[string]float64{"a": 1_000_000})
	require.NoError(t, err)
	assert.Equal(t, uint64(10000), eval.Attestable)
}

func TestCombineWeightedAverageDividesBySumOfWeights(t *testing.T) {
	contract := Contract{
		ID: "c4",
		Parameters: []Parameter{
			{DataType: "a", Threshold: 0, Range: 1, IsAboveThreshold: true, Transformation: Linear, Weight: 2.0},
			{DataType: "b", Threshold: 0, Range: 1, IsAboveThreshold: true, Transformation: Linear, Weight: 1.0},
		},
		CombinationMethod:  WeightedAverage,
		MaxNormalizedValue: 100,
	}
	// a normalizes to 1.0 (value 1, range 1), b normalizes to 1.0 too.
	eval, err := Evaluate(contract, map[string]float64{"a": 1, "b": 1})
	require.NoError(t, err)
	// scores: a=2.0, b=1.0; sum=3.0; weightSum=3.0 -> combined=1.0
	assert.InDelta(t, 1.0, eval.CombinedScore, 1e-9)
	assert.Equal(t, uint64(100), eval.Attestable)
}

func TestCombineMinOnEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, combine(nil, nil, Min))
}

func TestCombineMaxNeverBelowZero(t *testing.T) {
	assert.Equal(t, 0.0, combine([]float64{-5, -1}, []float64{1, 1}, Max))
}

func TestEvaluateDeterministic(t *testing.T) {
	contract := Contract{
		ID: "c5",
		Parameters: []Parameter{
			{DataType: "a", Threshold: 10, Range: 90, IsAboveThreshold: true, Transformation: Quadratic, Weight: 1.5},
		},
		CombinationMethod:  GeometricMean,
		MaxNormalizedValue: 500,
	}
	samples := map[string]float64{"a": 55}
	first, err := Evaluate(contract, samples)
	require.NoError(t, err)
	second, err := Evaluate(contract, samples)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNbDigitsMinimumOne(t *testing.T) {
	assert.Equal(t, 1, Contract{MaxNormalizedValue: 1}.NbDigits())
	assert.Equal(t, 1, Contract{MaxNormalizedValue: 2}.NbDigits())
	assert.Equal(t, 14, Contract{MaxNormalizedValue: 10000}.NbDigits())
}

func TestDigitLabelsMostSignificantFirst(t *testing.T) {
	labels := DigitLabels(5, 4) // 0101
	assert.Equal(t, []string{"0", "1", "0", "1"}, labels)
}

func TestParseCombinationMethodRejectsUnknown(t *testing.T) {
	_, err := ParseCombinationMethod("bogus")
	assert.Error(t, err)
}
