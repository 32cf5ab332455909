package backtester

import (
	"math"
	"time"

	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/panya30/MaxTrade-sub000/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TradingDaysPerYear is the annualization factor for daily series
const TradingDaysPerYear = 252

// ratioBound clamps Sharpe and Sortino
const ratioBound = 100.0

// zeroStdDev treats smaller deviations as a flat series
const zeroStdDev = 1e-12

// MetricsCalculator calculates performance metrics
type MetricsCalculator struct {
	logger       *zap.Logger
	riskFreeRate float64
}

// NewMetricsCalculator creates a metrics calculator for an annual risk-free rate
func NewMetricsCalculator(logger *zap.Logger, riskFreeRate float64) *MetricsCalculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsCalculator{
		logger:       logger,
		riskFreeRate: utils.Finite(riskFreeRate),
	}
}

// CalculateMetrics computes return, risk, drawdown and trade statistics.
// Every field is finite except ProfitFactor, which is +Inf when there are
// winning trades and no losing ones.
func (mc *MetricsCalculator) CalculateMetrics(
	curve []types.EquityPoint,
	trades []types.Trade,
	initialCapital decimal.Decimal,
) types.PerformanceMetrics {
	metrics := types.PerformanceMetrics{
		InitialCapital:  initialCapital,
		FinalValue:      initialCapital,
		TotalReturn:     decimal.Zero,
		AvgWin:          decimal.Zero,
		AvgLoss:         decimal.Zero,
		LargestWin:      decimal.Zero,
		LargestLoss:     decimal.Zero,
		Expectancy:      decimal.Zero,
		TotalCommission: decimal.Zero,
	}

	mc.tradeStatistics(&metrics, trades)

	if len(curve) == 0 {
		return metrics
	}

	n := len(curve)
	finalValue := curve[n-1].Equity
	metrics.FinalValue = finalValue
	metrics.TradingDays = n
	metrics.TotalReturn = finalValue.Sub(initialCapital)
	if initialCapital.IsPositive() {
		metrics.TotalReturnPercent = utils.Finite(metrics.TotalReturn.Div(initialCapital).InexactFloat64() * 100)
		metrics.CAGR = cagr(initialCapital.InexactFloat64(), finalValue.InexactFloat64(), n)
	}

	returns := dailyReturns(curve)
	metrics.Volatility = utils.Finite(utils.StdDev(returns) * math.Sqrt(TradingDaysPerYear) * 100)
	metrics.SharpeRatio = mc.sharpe(returns)
	metrics.SortinoRatio = mc.sortino(returns)

	dd := analyzeDrawdowns(curve)
	metrics.MaxDrawdown = dd.max
	metrics.MaxDrawdownDate = dd.maxDate
	metrics.MaxDrawdownDuration = dd.duration
	metrics.AvgDrawdown = dd.avg

	if metrics.MaxDrawdown > 0 {
		metrics.CalmarRatio = utils.Finite(metrics.CAGR / metrics.MaxDrawdown)
	}

	mc.logger.Debug("Metrics calculated",
		zap.Int("tradingDays", n),
		zap.Float64("totalReturnPercent", metrics.TotalReturnPercent),
		zap.Float64("sharpe", metrics.SharpeRatio),
		zap.Float64("maxDrawdown", metrics.MaxDrawdown),
	)

	return metrics
}

// tradeStatistics aggregates closed (sell) trades carrying realized P&L
func (mc *MetricsCalculator) tradeStatistics(metrics *types.PerformanceMetrics, trades []types.Trade) {
	var (
		closed, winners, losers int
		totalWins, totalLosses  decimal.Decimal
		totalPnL                decimal.Decimal
		holdingDays             int
	)

	for i := range trades {
		trade := &trades[i]
		metrics.TotalCommission = metrics.TotalCommission.Add(trade.Commission)
		if !trade.IsClosing() {
			continue
		}

		pnl := trade.PnL.Unwrap()
		closed++
		totalPnL = totalPnL.Add(pnl)
		holdingDays += trade.HoldingPeriodDays.TakeOr(0)

		switch {
		case pnl.IsPositive():
			winners++
			totalWins = totalWins.Add(pnl)
			if pnl.GreaterThan(metrics.LargestWin) {
				metrics.LargestWin = pnl
			}
		case pnl.IsNegative():
			losers++
			totalLosses = totalLosses.Add(pnl.Abs())
			if pnl.Abs().GreaterThan(metrics.LargestLoss) {
				metrics.LargestLoss = pnl.Abs()
			}
		}
	}

	metrics.TotalTrades = closed
	metrics.WinningTrades = winners
	metrics.LosingTrades = losers
	if closed == 0 {
		return
	}

	metrics.WinRate = float64(winners) / float64(closed) * 100
	metrics.Expectancy = totalPnL.Div(decimal.NewFromInt(int64(closed)))
	metrics.AvgHoldingPeriod = float64(holdingDays) / float64(closed)

	if winners > 0 {
		metrics.AvgWin = totalWins.Div(decimal.NewFromInt(int64(winners)))
	}
	if losers > 0 {
		metrics.AvgLoss = totalLosses.Div(decimal.NewFromInt(int64(losers)))
	}

	switch {
	case !totalLosses.IsZero():
		metrics.ProfitFactor = utils.Finite(totalWins.Div(totalLosses).InexactFloat64())
	case winners > 0:
		metrics.ProfitFactor = math.Inf(1)
	}
}

// sharpe returns the annualized Sharpe ratio of excess daily returns
func (mc *MetricsCalculator) sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	excess := mc.excessReturns(returns)
	sd := utils.StdDev(excess)
	if sd < zeroStdDev || math.IsNaN(sd) {
		return 0
	}
	ratio := utils.Mean(excess) / sd * math.Sqrt(TradingDaysPerYear)
	return utils.Clamp(utils.Finite(ratio), -ratioBound, ratioBound)
}

// sortino returns the annualized Sortino ratio. Downside deviation is the
// root mean square of the negative excess returns.
func (mc *MetricsCalculator) sortino(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	excess := mc.excessReturns(returns)
	mean := utils.Mean(excess)

	var sumSq float64
	var count int
	for _, r := range excess {
		if r < 0 {
			sumSq += r * r
			count++
		}
	}

	var downside float64
	if count > 0 {
		downside = math.Sqrt(sumSq / float64(count))
	}
	if downside < zeroStdDev {
		if mean > 0 {
			return ratioBound
		}
		return 0
	}

	ratio := mean / downside * math.Sqrt(TradingDaysPerYear)
	return utils.Clamp(utils.Finite(ratio), -ratioBound, ratioBound)
}

func (mc *MetricsCalculator) excessReturns(returns []float64) []float64 {
	daily := mc.riskFreeRate / TradingDaysPerYear
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - daily
	}
	return excess
}

// cagr returns the compound annual growth rate as a fraction
func cagr(initial, final float64, points int) float64 {
	years := float64(points) / TradingDaysPerYear
	if years <= 0 || initial <= 0 {
		return 0
	}
	ratio := final / initial
	if ratio <= 0 {
		return -1
	}
	return utils.Finite(math.Pow(ratio, 1/years) - 1)
}

// dailyReturns calculates fractional returns between consecutive points
func dailyReturns(curve []types.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if !prev.IsPositive() {
			returns = append(returns, 0)
			continue
		}
		r := curve[i].Equity.Sub(prev).Div(prev).InexactFloat64()
		returns = append(returns, utils.Finite(r))
	}
	return returns
}

type drawdownStats struct {
	max      float64
	maxDate  time.Time
	duration int
	avg      float64
}

// analyzeDrawdowns walks the curve with a running peak seeded by its first point
func analyzeDrawdowns(curve []types.EquityPoint) drawdownStats {
	var stats drawdownStats
	if len(curve) == 0 {
		return stats
	}

	peak := curve[0].Equity
	var run, below int
	var sum float64

	for _, point := range curve {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
		if !point.Equity.LessThan(peak) || !peak.IsPositive() {
			run = 0
			continue
		}

		dd := utils.Finite(peak.Sub(point.Equity).Div(peak).InexactFloat64() * 100)
		if dd > stats.max {
			stats.max = dd
			stats.maxDate = point.Date
		}
		sum += dd
		below++
		run++
		if run > stats.duration {
			stats.duration = run
		}
	}

	if below > 0 {
		stats.avg = sum / float64(below)
	}
	return stats
}
