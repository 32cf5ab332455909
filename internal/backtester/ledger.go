// Package backtester provides the day-by-day backtest simulation: the
// portfolio ledger, the engine loop and the performance metrics.
package backtester

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/panya30/MaxTrade-sub000/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// positionEpsilon absorbs quantity residue left by partial sells.
var positionEpsilon = decimal.NewFromFloat(1e-4)

// Ledger owns the cash balance, open positions and trade history of a single
// run. It is not safe for concurrent use; each engine owns its own ledger.
type Ledger struct {
	logger         *zap.Logger
	initialCapital decimal.Decimal
	commission     *CommissionModel
	slippage       *SlippageModel
	fractional     bool

	cash         decimal.Decimal
	positions    map[string]*types.Position
	trades       []types.Trade
	tradeSeq     int
	slippageSeed int64
}

// NewLedger creates a ledger funded with the configured initial capital
func NewLedger(logger *zap.Logger, config types.BacktestConfig) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.Resolve()
	l := &Ledger{
		logger:         logger,
		initialCapital: config.InitialCapital,
		commission:     NewCommissionModel(config.Commission),
		slippage:       NewSlippageModel(config.Slippage, nil),
		fractional:     config.AllowFractional,
		slippageSeed:   config.SlippageSeed,
	}
	l.Reset()
	return l
}

// Reset restores the ledger to its initial state: full cash, no positions,
// empty history and a restarted trade-id counter.
func (l *Ledger) Reset() {
	l.cash = l.initialCapital
	l.positions = make(map[string]*types.Position)
	l.trades = make([]types.Trade, 0)
	l.tradeSeq = 0
	l.slippage.rng = rand.New(rand.NewSource(l.slippageSeed))
}

// Cash returns available cash
func (l *Ledger) Cash() decimal.Decimal {
	return l.cash
}

// InitialCapital returns the starting cash
func (l *Ledger) InitialCapital() decimal.Decimal {
	return l.initialCapital
}

// Position returns a copy of the open position in symbol
func (l *Ledger) Position(symbol string) (types.Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions ordered by symbol
func (l *Ledger) Positions() []types.Position {
	result := make([]types.Position, 0, len(l.positions))
	for _, symbol := range l.symbols() {
		result = append(result, *l.positions[symbol])
	}
	return result
}

// PositionCount returns the number of open positions
func (l *Ledger) PositionCount() int {
	return len(l.positions)
}

// Trades returns a copy of the trade history
func (l *Ledger) Trades() []types.Trade {
	out := make([]types.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// TotalValue returns cash plus the market value of every open position
func (l *Ledger) TotalValue() decimal.Decimal {
	total := l.cash
	for _, pos := range l.positions {
		total = total.Add(pos.MarketValue)
	}
	return total
}

// CalculateCommission returns the commission charged for a fill
func (l *Ledger) CalculateCommission(quantity, price decimal.Decimal) decimal.Decimal {
	return l.commission.Calculate(quantity, price)
}

// CalculateSlippage returns the signed per-unit price adjustment for a fill
func (l *Ledger) CalculateSlippage(price decimal.Decimal, side types.OrderSide) decimal.Decimal {
	return l.slippage.Calculate(price, side)
}

// Buy opens or adds to a long position. It returns nil and leaves the ledger
// untouched when the quantity is not positive or cash is insufficient.
func (l *Ledger) Buy(symbol string, quantity, price decimal.Decimal, timestamp time.Time) *types.Trade {
	if !quantity.IsPositive() || !price.IsPositive() {
		l.logger.Debug("Buy rejected: invalid quantity or price",
			zap.String("symbol", symbol),
			zap.String("quantity", quantity.String()),
			zap.String("price", price.String()),
		)
		return nil
	}

	slip := l.CalculateSlippage(price, types.OrderSideBuy)
	execPrice := price.Add(slip)

	if !l.fractional {
		quantity = quantity.Floor()
		if !quantity.IsPositive() {
			l.logger.Debug("Buy rejected: quantity below one unit", zap.String("symbol", symbol))
			return nil
		}
	}

	commission := l.CalculateCommission(quantity, execPrice)
	totalCost := quantity.Mul(execPrice).Add(commission)
	if totalCost.GreaterThan(l.cash) {
		l.logger.Debug("Buy rejected: insufficient funds",
			zap.String("symbol", symbol),
			zap.String("cost", totalCost.String()),
			zap.String("cash", l.cash.String()),
		)
		return nil
	}

	l.cash = l.cash.Sub(totalCost)

	if pos, ok := l.positions[symbol]; ok {
		// Volume-weighted average cost
		totalQty := pos.Quantity.Add(quantity)
		totalCost := pos.Quantity.Mul(pos.AvgCost).Add(quantity.Mul(execPrice))
		pos.AvgCost = totalCost.Div(totalQty)
		pos.Quantity = totalQty
		pos.CurrentPrice = price
		pos.LastUpdated = timestamp
		revalue(pos)
	} else {
		pos := &types.Position{
			Symbol:       symbol,
			Quantity:     quantity,
			AvgCost:      execPrice,
			CurrentPrice: price,
			OpenedAt:     timestamp,
			LastUpdated:  timestamp,
		}
		revalue(pos)
		l.positions[symbol] = pos
	}

	trade := types.Trade{
		ID:                l.nextTradeID(),
		Timestamp:         timestamp,
		Symbol:            symbol,
		Side:              types.OrderSideBuy,
		Quantity:          quantity,
		Price:             execPrice,
		Commission:        commission,
		Slippage:          slip.Abs(),
		PnL:               optional.None[decimal.Decimal](),
		PnLPercent:        optional.None[float64](),
		HoldingPeriodDays: optional.None[int](),
	}
	l.trades = append(l.trades, trade)
	return &trade
}

// Sell reduces or closes a long position, never selling more than is held.
// It returns nil and leaves the ledger untouched when nothing can be sold.
func (l *Ledger) Sell(symbol string, quantity, price decimal.Decimal, timestamp time.Time) *types.Trade {
	pos, ok := l.positions[symbol]
	if !ok || !quantity.IsPositive() || !price.IsPositive() {
		l.logger.Debug("Sell rejected: no position or invalid quantity",
			zap.String("symbol", symbol),
			zap.String("quantity", quantity.String()),
		)
		return nil
	}

	slip := l.CalculateSlippage(price, types.OrderSideSell)
	execPrice := price.Add(slip)

	quantity = utils.MinDecimal(quantity, pos.Quantity)
	if !l.fractional {
		quantity = quantity.Floor()
	}
	if !quantity.IsPositive() {
		l.logger.Debug("Sell rejected: quantity below one unit", zap.String("symbol", symbol))
		return nil
	}

	commission := l.CalculateCommission(quantity, execPrice)
	proceeds := quantity.Mul(execPrice).Sub(commission)
	costBasis := quantity.Mul(pos.AvgCost)
	// Reported P&L excludes the sell commission; cash still pays it.
	pnl := proceeds.Sub(costBasis).Add(commission)

	var pnlPercent float64
	if costBasis.IsPositive() {
		pnlPercent = utils.Finite(pnl.Div(costBasis).InexactFloat64() * 100)
	}

	holdingDays := int(math.Ceil(timestamp.Sub(pos.OpenedAt).Hours() / 24))
	if holdingDays < 0 {
		holdingDays = 0
	}

	l.cash = l.cash.Add(proceeds)
	pos.Quantity = pos.Quantity.Sub(quantity)
	pos.LastUpdated = timestamp
	if pos.Quantity.LessThanOrEqual(positionEpsilon) {
		delete(l.positions, symbol)
	} else {
		revalue(pos)
	}

	trade := types.Trade{
		ID:                l.nextTradeID(),
		Timestamp:         timestamp,
		Symbol:            symbol,
		Side:              types.OrderSideSell,
		Quantity:          quantity,
		Price:             execPrice,
		Commission:        commission,
		Slippage:          slip.Abs(),
		PnL:               optional.Some(pnl),
		PnLPercent:        optional.Some(pnlPercent),
		HoldingPeriodDays: optional.Some(holdingDays),
	}
	l.trades = append(l.trades, trade)
	return &trade
}

// CloseAll sells every position that has a price in prices, in symbol order.
// Positions without a price are left open.
func (l *Ledger) CloseAll(prices map[string]decimal.Decimal, timestamp time.Time) []types.Trade {
	closed := make([]types.Trade, 0, len(l.positions))
	for _, symbol := range l.symbols() {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		if trade := l.Sell(symbol, l.positions[symbol].Quantity, price, timestamp); trade != nil {
			closed = append(closed, *trade)
		}
	}
	return closed
}

// MarkToMarket revalues every position that has a price in prices. Positions
// without a price keep their last mark.
func (l *Ledger) MarkToMarket(prices map[string]decimal.Decimal, timestamp time.Time) {
	for symbol, pos := range l.positions {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		pos.CurrentPrice = price
		pos.LastUpdated = timestamp
		revalue(pos)
	}
}

func (l *Ledger) nextTradeID() string {
	l.tradeSeq++
	return fmt.Sprintf("trade_%d", l.tradeSeq)
}

func (l *Ledger) symbols() []string {
	symbols := make([]string, 0, len(l.positions))
	for symbol := range l.positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// revalue recomputes the mark-derived fields of a position
func revalue(pos *types.Position) {
	pos.MarketValue = pos.Quantity.Mul(pos.CurrentPrice)
	costBasis := pos.Quantity.Mul(pos.AvgCost)
	pos.UnrealizedPnL = pos.MarketValue.Sub(costBasis)
	pos.UnrealizedPnLPercent = 0
	if costBasis.IsPositive() {
		pos.UnrealizedPnLPercent = utils.Finite(pos.UnrealizedPnL.Div(costBasis).InexactFloat64() * 100)
	}
}
