// Package types provides shared type definitions for the backtesting engine.
package types

import (
	"encoding/json"
	"math"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OHLCV represents a single candlestick
type OHLCV struct {
	Symbol    string          `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Timestamp time.Time       `json:"timestamp" yaml:"timestamp"`
	Open      decimal.Decimal `json:"open" yaml:"open"`
	High      decimal.Decimal `json:"high" yaml:"high"`
	Low       decimal.Decimal `json:"low" yaml:"low"`
	Close     decimal.Decimal `json:"close" yaml:"close"`
	Volume    decimal.Decimal `json:"volume" yaml:"volume"`
}

// PriceSnapshot maps a symbol to its bar for a single trading date.
type PriceSnapshot map[string]OHLCV

// Closes extracts the close price of every bar in the snapshot.
func (s PriceSnapshot) Closes() map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(s))
	for symbol, bar := range s {
		prices[symbol] = bar.Close
	}
	return prices
}

// Position represents an open long position
type Position struct {
	Symbol               string          `json:"symbol"`
	Quantity             decimal.Decimal `json:"quantity"`
	AvgCost              decimal.Decimal `json:"avgCost"`
	CurrentPrice         decimal.Decimal `json:"currentPrice"`
	MarketValue          decimal.Decimal `json:"marketValue"`
	UnrealizedPnL        decimal.Decimal `json:"unrealizedPnl"`
	UnrealizedPnLPercent float64         `json:"unrealizedPnlPercent"`
	OpenedAt             time.Time       `json:"openedAt"`
	LastUpdated          time.Time       `json:"lastUpdated"`
}

// Trade is an immutable record of one fill. PnL, PnLPercent and
// HoldingPeriodDays are only present on sells.
type Trade struct {
	ID                string                           `json:"id"`
	Timestamp         time.Time                        `json:"timestamp"`
	Symbol            string                           `json:"symbol"`
	Side              OrderSide                        `json:"side"`
	Quantity          decimal.Decimal                  `json:"quantity"`
	Price             decimal.Decimal                  `json:"price"`
	Commission        decimal.Decimal                  `json:"commission"`
	Slippage          decimal.Decimal                  `json:"slippage"`
	PnL               optional.Option[decimal.Decimal] `json:"pnl"`
	PnLPercent        optional.Option[float64]         `json:"pnlPercent"`
	HoldingPeriodDays optional.Option[int]             `json:"holdingPeriodDays"`
}

// IsClosing reports whether the trade realized P&L.
func (t *Trade) IsClosing() bool {
	return t.Side == OrderSideSell && t.PnL.IsSome()
}

// EquityPoint is one point of the equity curve, recorded once per trading date.
type EquityPoint struct {
	Date             time.Time       `json:"date" yaml:"date"`
	Equity           decimal.Decimal `json:"equity" yaml:"equity"`
	Cash             decimal.Decimal `json:"cash" yaml:"cash"`
	Invested         decimal.Decimal `json:"invested" yaml:"invested"`
	DailyReturn      float64         `json:"dailyReturn" yaml:"dailyReturn"`
	CumulativeReturn float64         `json:"cumulativeReturn" yaml:"cumulativeReturn"`
	Drawdown         float64         `json:"drawdown" yaml:"drawdown"`
}

// PerformanceMetrics represents backtest performance metrics.
// Percent-valued fields are expressed in percent (5 means 5%); CAGR is a
// fraction (0.05 means 5%).
type PerformanceMetrics struct {
	InitialCapital     decimal.Decimal `json:"initialCapital" yaml:"initialCapital"`
	FinalValue         decimal.Decimal `json:"finalValue" yaml:"finalValue"`
	TotalReturn        decimal.Decimal `json:"totalReturn" yaml:"totalReturn"`
	TotalReturnPercent float64         `json:"totalReturnPercent" yaml:"totalReturnPercent"`
	CAGR               float64         `json:"cagr" yaml:"cagr"`
	TradingDays        int             `json:"tradingDays" yaml:"tradingDays"`

	Volatility   float64 `json:"volatility" yaml:"volatility"`
	SharpeRatio  float64 `json:"sharpeRatio" yaml:"sharpeRatio"`
	SortinoRatio float64 `json:"sortinoRatio" yaml:"sortinoRatio"`
	CalmarRatio  float64 `json:"calmarRatio" yaml:"calmarRatio"`

	MaxDrawdown         float64   `json:"maxDrawdown" yaml:"maxDrawdown"`
	MaxDrawdownDate     time.Time `json:"maxDrawdownDate" yaml:"maxDrawdownDate"`
	MaxDrawdownDuration int       `json:"maxDrawdownDuration" yaml:"maxDrawdownDuration"`
	AvgDrawdown         float64   `json:"avgDrawdown" yaml:"avgDrawdown"`

	TotalTrades      int             `json:"totalTrades" yaml:"totalTrades"`
	WinningTrades    int             `json:"winningTrades" yaml:"winningTrades"`
	LosingTrades     int             `json:"losingTrades" yaml:"losingTrades"`
	WinRate          float64         `json:"winRate" yaml:"winRate"`
	ProfitFactor     float64         `json:"profitFactor" yaml:"profitFactor"`
	AvgWin           decimal.Decimal `json:"avgWin" yaml:"avgWin"`
	AvgLoss          decimal.Decimal `json:"avgLoss" yaml:"avgLoss"`
	LargestWin       decimal.Decimal `json:"largestWin" yaml:"largestWin"`
	LargestLoss      decimal.Decimal `json:"largestLoss" yaml:"largestLoss"`
	Expectancy       decimal.Decimal `json:"expectancy" yaml:"expectancy"`
	AvgHoldingPeriod float64         `json:"avgHoldingPeriod" yaml:"avgHoldingPeriod"`
	TotalCommission  decimal.Decimal `json:"totalCommission" yaml:"totalCommission"`
}

// MarshalJSON writes an infinite profit factor (wins and no losses) as null,
// since JSON has no representation for infinity.
func (m PerformanceMetrics) MarshalJSON() ([]byte, error) {
	type alias PerformanceMetrics
	out := struct {
		alias
		ProfitFactor *float64 `json:"profitFactor"`
	}{alias: alias(m)}

	if !math.IsInf(m.ProfitFactor, 0) && !math.IsNaN(m.ProfitFactor) {
		pf := m.ProfitFactor
		out.ProfitFactor = &pf
	}

	return json.Marshal(out)
}

// BenchmarkComparison compares the strategy equity curve with a benchmark price series.
type BenchmarkComparison struct {
	StrategyReturn   float64 `json:"strategyReturn" yaml:"strategyReturn"`
	BenchmarkReturn  float64 `json:"benchmarkReturn" yaml:"benchmarkReturn"`
	ExcessReturn     float64 `json:"excessReturn" yaml:"excessReturn"`
	Alpha            float64 `json:"alpha" yaml:"alpha"`
	Beta             float64 `json:"beta" yaml:"beta"`
	Correlation      float64 `json:"correlation" yaml:"correlation"`
	TrackingError    float64 `json:"trackingError" yaml:"trackingError"`
	InformationRatio float64 `json:"informationRatio" yaml:"informationRatio"`
}

// MonthlyReturn is the return of one calendar month in percent.
type MonthlyReturn struct {
	Year   int        `json:"year" yaml:"year"`
	Month  time.Month `json:"month" yaml:"month"`
	Return float64    `json:"return" yaml:"return"`
}

// MonteCarloResult represents trade-resampling results
type MonteCarloResult struct {
	Iterations      int     `json:"iterations" yaml:"iterations"`
	MedianReturn    float64 `json:"medianReturn" yaml:"medianReturn"`
	P5Return        float64 `json:"p5Return" yaml:"p5Return"`
	P95Return       float64 `json:"p95Return" yaml:"p95Return"`
	ProbabilityRuin float64 `json:"probabilityRuin" yaml:"probabilityRuin"`
	MaxDrawdownP95  float64 `json:"maxDrawdownP95" yaml:"maxDrawdownP95"`
}
