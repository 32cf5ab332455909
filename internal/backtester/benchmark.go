package backtester

import (
	"math"

	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/panya30/MaxTrade-sub000/pkg/utils"
)

// CompareBenchmark compares the equity curve with a benchmark close series.
// Both series are truncated to the shorter length before daily returns are
// taken. Fewer than two aligned points yield a neutral comparison (beta 1).
func (mc *MetricsCalculator) CompareBenchmark(curve []types.EquityPoint, benchmark []types.OHLCV) *types.BenchmarkComparison {
	n := len(curve)
	if len(benchmark) < n {
		n = len(benchmark)
	}
	cmp := &types.BenchmarkComparison{Beta: 1}
	if n < 2 {
		return cmp
	}

	strategy := make([]float64, n)
	bench := make([]float64, n)
	for i := 0; i < n; i++ {
		strategy[i] = curve[i].Equity.InexactFloat64()
		bench[i] = benchmark[i].Close.InexactFloat64()
	}

	sr := seriesReturns(strategy)
	br := seriesReturns(bench)

	cmp.StrategyReturn = totalReturnPercent(strategy)
	cmp.BenchmarkReturn = totalReturnPercent(bench)
	cmp.ExcessReturn = utils.Finite(cmp.StrategyReturn - cmp.BenchmarkReturn)

	benchVar := utils.Variance(br)
	cov := utils.Covariance(sr, br)
	if benchVar > zeroStdDev*zeroStdDev {
		cmp.Beta = utils.Finite(cov / benchVar)
	}

	annStrategy := utils.Mean(sr) * TradingDaysPerYear
	annBench := utils.Mean(br) * TradingDaysPerYear
	cmp.Alpha = utils.Finite(annStrategy - (mc.riskFreeRate + cmp.Beta*(annBench-mc.riskFreeRate)))

	sdS, sdB := utils.StdDev(sr), utils.StdDev(br)
	if sdS > zeroStdDev && sdB > zeroStdDev {
		cmp.Correlation = utils.Clamp(utils.Finite(cov/(sdS*sdB)), -1, 1)
	}

	diff := make([]float64, len(sr))
	for i := range sr {
		diff[i] = sr[i] - br[i]
	}
	sdDiff := utils.StdDev(diff)
	cmp.TrackingError = utils.Finite(sdDiff * math.Sqrt(TradingDaysPerYear) * 100)
	if sdDiff > zeroStdDev {
		annExcess := utils.Mean(diff) * TradingDaysPerYear
		cmp.InformationRatio = utils.Finite(annExcess / (sdDiff * math.Sqrt(TradingDaysPerYear)))
	} else {
		cmp.TrackingError = 0
	}

	return cmp
}

func seriesReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	returns := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 {
			returns[i-1] = utils.Finite((values[i] - values[i-1]) / values[i-1])
		}
	}
	return returns
}

func totalReturnPercent(values []float64) float64 {
	if len(values) == 0 || values[0] <= 0 {
		return 0
	}
	return utils.Finite((values[len(values)-1]/values[0] - 1) * 100)
}
