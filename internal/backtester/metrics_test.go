package backtester_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/moznion/go-optional"
	"github.com/panya30/MaxTrade-sub000/internal/backtester"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func curveOf(values ...float64) []types.EquityPoint {
	curve := make([]types.EquityPoint, len(values))
	for i, v := range values {
		curve[i] = types.EquityPoint{
			Date:   day0.AddDate(0, 0, i),
			Equity: decimal.NewFromFloat(v),
			Cash:   decimal.NewFromFloat(v),
		}
	}
	return curve
}

func closingTrade(pnl string, days int) types.Trade {
	return types.Trade{
		Side:              types.OrderSideSell,
		Quantity:          d("1"),
		Price:             d("1"),
		Commission:        d("1"),
		PnL:               optional.Some(d(pnl)),
		PnLPercent:        optional.Some(0.0),
		HoldingPeriodDays: optional.Some(days),
	}
}

func assertFinite(t *testing.T, m types.PerformanceMetrics) {
	t.Helper()
	for name, v := range map[string]float64{
		"totalReturnPercent": m.TotalReturnPercent,
		"cagr":               m.CAGR,
		"volatility":         m.Volatility,
		"sharpe":             m.SharpeRatio,
		"sortino":            m.SortinoRatio,
		"calmar":             m.CalmarRatio,
		"maxDrawdown":        m.MaxDrawdown,
		"avgDrawdown":        m.AvgDrawdown,
		"winRate":            m.WinRate,
		"avgHoldingPeriod":   m.AvgHoldingPeriod,
	} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s is not finite: %v", name, v)
	}
}

func TestMaxDrawdownScenario(t *testing.T) {
	mc := backtester.NewMetricsCalculator(zap.NewNop(), 0.02)
	curve := curveOf(100000, 120000, 110000, 90000, 100000)

	m := mc.CalculateMetrics(curve, nil, d("100000"))

	assert.InDelta(t, 25.0, m.MaxDrawdown, 1e-9)
	assert.Equal(t, curve[3].Date, m.MaxDrawdownDate)
	assert.Equal(t, 3, m.MaxDrawdownDuration)
	assert.InDelta(t, (100.0/12+25+100.0/6)/3, m.AvgDrawdown, 1e-9)
	assert.Equal(t, 0.0, m.CalmarRatio, "no growth over the period")
	assertFinite(t, m)
}

func TestCalmarDividesCAGRByDrawdownPercent(t *testing.T) {
	mc := backtester.NewMetricsCalculator(zap.NewNop(), 0.02)
	m := mc.CalculateMetrics(curveOf(100000, 120000, 90000, 130000), nil, d("100000"))

	require.InDelta(t, 25.0, m.MaxDrawdown, 1e-9)
	wantCAGR := math.Pow(1.3, 252.0/4) - 1
	assert.InEpsilon(t, wantCAGR, m.CAGR, 1e-9)
	assert.InEpsilon(t, wantCAGR/25, m.CalmarRatio, 1e-9)
	assert.InEpsilon(t, 603241.425940805, m.CalmarRatio, 1e-9)
}

func TestSortinoWithDownsideReturns(t *testing.T) {
	// Daily returns +10%, -10%, +10%.
	curve := curveOf(100000, 110000, 99000, 108900)

	for _, rf := range []float64{0, 0.02} {
		daily := rf / 252
		mean := 0.1/3 - daily
		downside := 0.1 + daily // one negative excess return
		want := mean / downside * math.Sqrt(252)

		m := backtester.NewMetricsCalculator(zap.NewNop(), rf).CalculateMetrics(curve, nil, d("100000"))
		assert.InDelta(t, want, m.SortinoRatio, 1e-9, "risk-free rate %v", rf)
	}

	m := backtester.NewMetricsCalculator(zap.NewNop(), 0).CalculateMetrics(curve, nil, d("100000"))
	assert.InDelta(t, math.Sqrt(252)/3, m.SortinoRatio, 1e-9)
}

func TestFlatCurveHasZeroSharpe(t *testing.T) {
	for _, rf := range []float64{0, 0.02} {
		mc := backtester.NewMetricsCalculator(zap.NewNop(), rf)
		m := mc.CalculateMetrics(curveOf(100000, 100000, 100000, 100000), nil, d("100000"))

		assert.Equal(t, 0.0, m.SharpeRatio)
		assert.Equal(t, 0.0, m.Volatility)
		assert.Equal(t, 0.0, m.MaxDrawdown)
		assert.Equal(t, 0.0, m.CalmarRatio)
		assertFinite(t, m)
	}
}

func TestDegenerateCurvesStayFinite(t *testing.T) {
	mc := backtester.NewMetricsCalculator(zap.NewNop(), 0.02)

	empty := mc.CalculateMetrics(nil, nil, d("100000"))
	assert.True(t, empty.FinalValue.Equal(d("100000")))
	assert.Equal(t, 0, empty.TradingDays)
	assertFinite(t, empty)

	single := mc.CalculateMetrics(curveOf(105000), nil, d("100000"))
	assert.Equal(t, 1, single.TradingDays)
	assert.InDelta(t, 5.0, single.TotalReturnPercent, 1e-9)
	assertFinite(t, single)

	wipedOut := mc.CalculateMetrics(curveOf(100000, 0, 0), nil, d("100000"))
	assert.Equal(t, -1.0, wipedOut.CAGR)
	assertFinite(t, wipedOut)
}

func TestSharpeIsClamped(t *testing.T) {
	mc := backtester.NewMetricsCalculator(zap.NewNop(), 0)
	// Steady tiny gains with almost no dispersion
	values := make([]float64, 30)
	values[0] = 100000
	for i := 1; i < len(values); i++ {
		values[i] = values[i-1] * (1.001 + float64(i%2)*1e-9)
	}

	m := mc.CalculateMetrics(curveOf(values...), nil, d("100000"))
	assert.Equal(t, 100.0, m.SharpeRatio)
	assert.Equal(t, 100.0, m.SortinoRatio, "no negative returns with positive mean")
}

func TestTradeStatistics(t *testing.T) {
	mc := backtester.NewMetricsCalculator(zap.NewNop(), 0.02)
	trades := []types.Trade{
		{Side: types.OrderSideBuy, Commission: d("2")},
		closingTrade("300", 4),
		closingTrade("-100", 2),
		closingTrade("100", 6),
	}

	m := mc.CalculateMetrics(curveOf(100000, 100300), trades, d("100000"))

	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 200.0/3, m.WinRate, 1e-9)
	assert.InDelta(t, 4.0, m.ProfitFactor, 1e-9)
	assert.True(t, m.AvgWin.Equal(d("200")))
	assert.True(t, m.AvgLoss.Equal(d("100")))
	assert.True(t, m.LargestWin.Equal(d("300")))
	assert.True(t, m.LargestLoss.Equal(d("100")))
	assert.True(t, m.TotalCommission.Equal(d("5")))
	assert.InDelta(t, 4.0, m.AvgHoldingPeriod, 1e-9)
}

func TestProfitFactorWithoutLosses(t *testing.T) {
	mc := backtester.NewMetricsCalculator(zap.NewNop(), 0.02)

	m := mc.CalculateMetrics(curveOf(100000, 100100), []types.Trade{closingTrade("100", 1)}, d("100000"))
	assert.True(t, math.IsInf(m.ProfitFactor, 1))

	data, err := json.Marshal(m)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded["profitFactor"])

	none := mc.CalculateMetrics(curveOf(100000, 100000), nil, d("100000"))
	assert.Equal(t, 0.0, none.ProfitFactor)
}

func TestBenchmarkAgainstItself(t *testing.T) {
	mc := backtester.NewMetricsCalculator(zap.NewNop(), 0.02)
	values := []float64{100, 102, 101, 105, 104, 108}
	curve := curveOf(values...)
	bench := make([]types.OHLCV, len(values))
	for i, v := range values {
		bench[i] = types.OHLCV{Timestamp: curve[i].Date, Close: decimal.NewFromFloat(v)}
	}

	cmp := mc.CompareBenchmark(curve, bench)
	require.NotNil(t, cmp)
	assert.InDelta(t, 1.0, cmp.Beta, 1e-9)
	assert.InDelta(t, 1.0, cmp.Correlation, 1e-9)
	assert.InDelta(t, 0.0, cmp.Alpha, 1e-9)
	assert.Equal(t, 0.0, cmp.TrackingError)
	assert.Equal(t, 0.0, cmp.InformationRatio)
	assert.InDelta(t, 0.0, cmp.ExcessReturn, 1e-9)
	assert.InDelta(t, 8.0, cmp.StrategyReturn, 1e-9)
}

func TestBenchmarkTruncatesAndHandlesFlatSeries(t *testing.T) {
	mc := backtester.NewMetricsCalculator(zap.NewNop(), 0.02)
	curve := curveOf(100, 110, 99, 120, 130)
	bench := []types.OHLCV{
		{Close: d("50")}, {Close: d("50")}, {Close: d("50")},
	}

	cmp := mc.CompareBenchmark(curve, bench)
	assert.Equal(t, 1.0, cmp.Beta, "zero benchmark variance defaults beta to 1")
	assert.Equal(t, 0.0, cmp.Correlation)
	assert.Equal(t, 0.0, cmp.BenchmarkReturn)
	assert.InDelta(t, -1.0, cmp.StrategyReturn, 1e-9, "only the first three points are compared")
	assert.Greater(t, cmp.TrackingError, 0.0)

	short := mc.CompareBenchmark(curve, bench[:1])
	assert.Equal(t, 1.0, short.Beta)
}

func TestMonthlyReturns(t *testing.T) {
	mc := backtester.NewMetricsCalculator(zap.NewNop(), 0.02)
	curve := []types.EquityPoint{
		{Date: day0, Equity: d("100")},
		{Date: day0.AddDate(0, 0, 20), Equity: d("110")},
		{Date: day0.AddDate(0, 1, 0), Equity: d("120")},
		{Date: day0.AddDate(0, 1, 5), Equity: d("108")},
	}

	monthly := mc.CalculateMonthlyReturns(curve)
	require.Len(t, monthly, 2)
	assert.Equal(t, 2024, monthly[0].Year)
	assert.Equal(t, day0.Month(), monthly[0].Month)
	assert.InDelta(t, 10.0, monthly[0].Return, 1e-9)
	assert.InDelta(t, -10.0, monthly[1].Return, 1e-9)

	assert.Empty(t, mc.CalculateMonthlyReturns(nil))
}

func TestMonteCarloIsSeeded(t *testing.T) {
	trades := []types.Trade{
		closingTrade("1000", 1),
		closingTrade("-500", 1),
		closingTrade("2000", 1),
		closingTrade("-1500", 1),
	}
	cfg := backtester.MonteCarloConfig{Iterations: 200, Seed: 7}

	a := backtester.NewMonteCarloSimulator(zap.NewNop(), cfg).Run(trades, d("100000"))
	b := backtester.NewMonteCarloSimulator(zap.NewNop(), cfg).Run(trades, d("100000"))

	assert.Equal(t, a, b)
	assert.Equal(t, 200, a.Iterations)
	// Order does not change the final sum of P&L
	assert.InDelta(t, 1.0, a.MedianReturn, 1e-9)
	assert.GreaterOrEqual(t, a.MaxDrawdownP95, 0.0)
	assert.Equal(t, 0.0, a.ProbabilityRuin)

	empty := backtester.NewMonteCarloSimulator(zap.NewNop(), cfg).Run(nil, d("100000"))
	assert.Equal(t, 0, empty.Iterations)
}
