package backtester

import (
	"sort"
	"time"

	"github.com/panya30/MaxTrade-sub000/internal/sizing"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SignalGenerator produces signals for a rebalance date from that date's
// price snapshot. It must not retain or mutate the snapshot.
type SignalGenerator func(date time.Time, snapshot types.PriceSnapshot) []types.RawSignal

// Recorder receives run telemetry. Implementations must be safe for use by
// several engines at once.
type Recorder interface {
	RunStarted()
	TradeExecuted(side types.OrderSide)
	OrderRejected(reason string)
	RunCompleted(duration time.Duration, finalEquity float64)
}

type nopRecorder struct{}

func (nopRecorder) RunStarted()                         {}
func (nopRecorder) TradeExecuted(types.OrderSide)       {}
func (nopRecorder) OrderRejected(string)                {}
func (nopRecorder) RunCompleted(time.Duration, float64) {}

// Option configures an Engine
type Option func(*Engine)

// WithRecorder reports run telemetry to r
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// Rejection reasons passed to Recorder.OrderRejected
const (
	RejectNoPrice    = "no_price"
	RejectNoPosition = "no_position"
	RejectHeld       = "already_held"
	RejectZeroSize   = "zero_size"
	RejectLedger     = "ledger_rejected"
)

// Engine simulates a strategy day by day over historical prices. A run is
// synchronous and deterministic; concurrent runs need separate engines.
type Engine struct {
	logger   *zap.Logger
	config   types.BacktestConfig
	ledger   *Ledger
	sizer    *sizing.PositionSizer
	metrics  *MetricsCalculator
	recorder Recorder

	equityCurve []types.EquityPoint
	peakEquity  decimal.Decimal
	rebalances  int
}

// NewEngine creates an engine. Missing or invalid config fields are
// replaced with defaults by BacktestConfig.Resolve; a zero RiskFreeRate is
// used as zero, so callers building the config by hand should start from
// types.DefaultBacktestConfig.
func NewEngine(logger *zap.Logger, config types.BacktestConfig, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.Resolve()

	e := &Engine{
		logger:   logger,
		config:   config,
		ledger:   NewLedger(logger.Named("ledger"), config),
		sizer:    sizing.NewPositionSizer(logger.Named("sizing"), sizing.SizingConfigFromBacktest(config)),
		metrics:  NewMetricsCalculator(logger.Named("metrics"), config.RiskFreeRate),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the resolved configuration
func (e *Engine) Config() types.BacktestConfig {
	return e.config
}

// Ledger exposes the engine's ledger for inspection after a run
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// RebalanceCount returns how many dates of the last run consulted the generator
func (e *Engine) RebalanceCount() int {
	return e.rebalances
}

// Metrics returns the calculator configured with the run's risk-free rate
func (e *Engine) Metrics() *MetricsCalculator {
	return e.metrics
}

// Run executes a backtest. It always returns a result; rejected trades are
// skipped and an empty date range yields an empty result.
func (e *Engine) Run(data types.BacktestData, generate SignalGenerator) *types.BacktestResult {
	startTime := time.Now()
	e.reset()
	e.recorder.RunStarted()

	dates, bars := tradingDates(data)

	e.logger.Info("Starting backtest",
		zap.Int("symbols", len(bars)),
		zap.Int("tradingDays", len(dates)),
		zap.String("initialCapital", e.config.InitialCapital.String()),
		zap.String("rebalance", string(e.config.RebalanceFrequency)),
	)

	if len(dates) == 0 {
		result := e.buildResult(data)
		e.recorder.RunCompleted(time.Since(startTime), result.Metrics.FinalValue.InexactFloat64())
		e.logger.Info("Backtest completed with no trading dates")
		return result
	}

	for i, date := range dates {
		snapshot := snapshotAt(bars, date)
		prices := snapshot.Closes()

		e.ledger.MarkToMarket(prices, date)

		if ShouldRebalance(e.config.RebalanceFrequency, dates, i) {
			e.rebalances++
			var raw []types.RawSignal
			if generate != nil {
				raw = generate(date, snapshot)
			}
			e.executeSignals(NormalizeSignals(raw, date), prices, date)
		}

		e.recordEquityPoint(date)
	}

	e.closeAll(bars, dates[len(dates)-1])

	result := e.buildResult(data)
	duration := time.Since(startTime)
	e.recorder.RunCompleted(duration, result.Metrics.FinalValue.InexactFloat64())

	e.logger.Info("Backtest completed",
		zap.Duration("duration", duration),
		zap.Int("trades", len(result.Trades)),
		zap.Int("rebalances", e.rebalances),
		zap.String("finalValue", result.Metrics.FinalValue.String()),
		zap.Float64("totalReturnPercent", result.Metrics.TotalReturnPercent),
		zap.Float64("sharpe", result.Metrics.SharpeRatio),
		zap.Float64("maxDrawdown", result.Metrics.MaxDrawdown),
	)

	return result
}

func (e *Engine) reset() {
	e.ledger.Reset()
	e.equityCurve = make([]types.EquityPoint, 0)
	e.peakEquity = e.config.InitialCapital
	e.rebalances = 0
}

// executeSignals runs sells first, then the highest-confidence buys that fit
// in the free position slots.
func (e *Engine) executeSignals(signals []types.Signal, prices map[string]decimal.Decimal, date time.Time) {
	buys := make([]types.Signal, 0, len(signals))

	for _, sig := range signals {
		switch sig.Action {
		case types.ActionSell:
			e.executeSell(sig, prices, date)
		case types.ActionBuy:
			buys = append(buys, sig)
		}
	}

	slots := e.config.MaxPositions - e.ledger.PositionCount()
	if slots <= 0 || len(buys) == 0 {
		return
	}
	if len(buys) > slots {
		buys = buys[:slots]
	}

	batchCash := e.ledger.Cash()
	for _, sig := range buys {
		e.executeBuy(sig, prices, date, batchCash, len(buys))
	}
}

func (e *Engine) executeSell(sig types.Signal, prices map[string]decimal.Decimal, date time.Time) {
	price, ok := prices[sig.Symbol]
	if !ok {
		e.reject(sig, RejectNoPrice)
		return
	}
	pos, ok := e.ledger.Position(sig.Symbol)
	if !ok {
		e.reject(sig, RejectNoPosition)
		return
	}
	if trade := e.ledger.Sell(sig.Symbol, pos.Quantity, price, date); trade != nil {
		e.recorder.TradeExecuted(trade.Side)
		return
	}
	e.reject(sig, RejectLedger)
}

func (e *Engine) executeBuy(sig types.Signal, prices map[string]decimal.Decimal, date time.Time, batchCash decimal.Decimal, batchSize int) {
	if _, held := e.ledger.Position(sig.Symbol); held {
		e.reject(sig, RejectHeld)
		return
	}
	price, ok := prices[sig.Symbol]
	if !ok || !price.IsPositive() {
		e.reject(sig, RejectNoPrice)
		return
	}

	size := e.sizer.CalculateSize(&sizing.SizingRequest{
		Symbol:         sig.Symbol,
		PortfolioValue: e.ledger.TotalValue(),
		AvailableCash:  e.ledger.Cash(),
		BatchCash:      batchCash,
		BatchSize:      batchSize,
		CurrentPrice:   price,
		Confidence:     sig.Confidence,
	})
	if !size.Quantity.IsPositive() {
		e.reject(sig, RejectZeroSize)
		return
	}

	if trade := e.ledger.Buy(sig.Symbol, size.Quantity, price, date); trade != nil {
		e.recorder.TradeExecuted(trade.Side)
		return
	}
	e.reject(sig, RejectLedger)
}

func (e *Engine) reject(sig types.Signal, reason string) {
	e.recorder.OrderRejected(reason)
	e.logger.Debug("Signal skipped",
		zap.String("symbol", sig.Symbol),
		zap.String("action", string(sig.Action)),
		zap.Float64("confidence", sig.Confidence),
		zap.String("reason", reason),
	)
}

// recordEquityPoint appends the end-of-day snapshot
func (e *Engine) recordEquityPoint(date time.Time) {
	initial := e.config.InitialCapital
	equity := e.ledger.TotalValue()
	cash := e.ledger.Cash()

	prev := initial
	if n := len(e.equityCurve); n > 0 {
		prev = e.equityCurve[n-1].Equity
	}
	if equity.GreaterThan(e.peakEquity) {
		e.peakEquity = equity
	}

	point := types.EquityPoint{
		Date:     date,
		Equity:   equity,
		Cash:     cash,
		Invested: equity.Sub(cash),
	}
	if prev.IsPositive() {
		point.DailyReturn = equity.Sub(prev).Div(prev).InexactFloat64() * 100
	}
	if initial.IsPositive() {
		point.CumulativeReturn = equity.Sub(initial).Div(initial).InexactFloat64() * 100
	}
	if e.peakEquity.IsPositive() {
		point.Drawdown = e.peakEquity.Sub(equity).Div(e.peakEquity).InexactFloat64() * 100
	}

	e.equityCurve = append(e.equityCurve, point)
}

// closeAll liquidates at the final date's closes. A symbol without a bar on
// that date is closed at its last mark so no position survives the run.
func (e *Engine) closeAll(bars map[string]map[int64]types.OHLCV, final time.Time) {
	prices := snapshotAt(bars, final).Closes()
	for _, pos := range e.ledger.Positions() {
		if _, ok := prices[pos.Symbol]; !ok {
			prices[pos.Symbol] = pos.CurrentPrice
		}
	}
	for _, trade := range e.ledger.CloseAll(prices, final) {
		e.recorder.TradeExecuted(trade.Side)
	}
}

func (e *Engine) buildResult(data types.BacktestData) *types.BacktestResult {
	trades := e.ledger.Trades()
	curve := make([]types.EquityPoint, len(e.equityCurve))
	copy(curve, e.equityCurve)

	result := &types.BacktestResult{
		Config:         e.config,
		Metrics:        e.metrics.CalculateMetrics(curve, trades, e.config.InitialCapital),
		EquityCurve:    curve,
		MonthlyReturns: e.metrics.CalculateMonthlyReturns(curve),
		Trades:         trades,
		FinalPositions: e.ledger.Positions(),
	}
	if len(data.Benchmark) > 0 && len(curve) > 0 {
		bench := make([]types.OHLCV, 0, len(data.Benchmark))
		for _, bar := range data.Benchmark {
			if inRange(bar.Timestamp, data.StartDate, data.EndDate) {
				bench = append(bench, bar)
			}
		}
		result.Benchmark = e.metrics.CompareBenchmark(curve, bench)
	}
	return result
}

// tradingDates returns the sorted union of bar timestamps inside the data's
// date range, plus each symbol's bars keyed by timestamp.
func tradingDates(data types.BacktestData) ([]time.Time, map[string]map[int64]types.OHLCV) {
	wanted := make(map[string]bool, len(data.Symbols))
	for _, symbol := range data.Symbols {
		wanted[symbol] = true
	}

	bars := make(map[string]map[int64]types.OHLCV, len(data.Prices))
	seen := make(map[int64]time.Time)

	for symbol, series := range data.Prices {
		if len(wanted) > 0 && !wanted[symbol] {
			continue
		}
		byTime := make(map[int64]types.OHLCV, len(series))
		for _, bar := range series {
			if !inRange(bar.Timestamp, data.StartDate, data.EndDate) {
				continue
			}
			key := bar.Timestamp.UnixNano()
			if bar.Symbol == "" {
				bar.Symbol = symbol
			}
			byTime[key] = bar
			if _, ok := seen[key]; !ok {
				seen[key] = bar.Timestamp
			}
		}
		bars[symbol] = byTime
	}

	dates := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		dates = append(dates, ts)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, bars
}

func inRange(ts, start, end time.Time) bool {
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && ts.After(end) {
		return false
	}
	return true
}

// snapshotAt builds a fresh snapshot of the bars present at date
func snapshotAt(bars map[string]map[int64]types.OHLCV, date time.Time) types.PriceSnapshot {
	key := date.UnixNano()
	snapshot := make(types.PriceSnapshot, len(bars))
	for symbol, byTime := range bars {
		if bar, ok := byTime[key]; ok {
			snapshot[symbol] = bar
		}
	}
	return snapshot
}
