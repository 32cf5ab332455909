package utils_test

import (
	"math"
	"testing"

	"github.com/panya30/MaxTrade-sub000/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func TestStatistics(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	assert.Equal(t, 5.0, utils.Mean(values))
	assert.InDelta(t, 2.138, utils.StdDev(values), 1e-3)
	assert.InDelta(t, 32.0/7, utils.Variance(values), 1e-9)
	assert.InDelta(t, utils.Variance(values), utils.Covariance(values, values), 1e-9)

	assert.Zero(t, utils.Mean(nil))
	assert.Zero(t, utils.StdDev([]float64{3}))
	assert.Zero(t, utils.Covariance([]float64{1, 2}, []float64{1}))
}

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}

	assert.Equal(t, 10.0, utils.Percentile(sorted, 0))
	assert.Equal(t, 10.0, utils.Percentile(sorted, 5))
	assert.Equal(t, 30.0, utils.Percentile(sorted, 50))
	assert.Equal(t, 50.0, utils.Percentile(sorted, 95))
	assert.Equal(t, 50.0, utils.Percentile(sorted, 100))
	assert.Zero(t, utils.Percentile(nil, 50))
}

func TestFiniteAndClamp(t *testing.T) {
	assert.Zero(t, utils.Finite(math.NaN()))
	assert.Zero(t, utils.Finite(math.Inf(-1)))
	assert.Equal(t, 1.5, utils.Finite(1.5))

	assert.Equal(t, 100.0, utils.Clamp(250, -100, 100))
	assert.Equal(t, -100.0, utils.Clamp(-250, -100, 100))
	assert.Equal(t, "AAPL", utils.FormatSymbol("  aapl "))
}
