// Package sizing provides position sizing for backtest buy signals.
// Supports fixed, percent-of-portfolio, equal-weight and quarter-Kelly modes
// with portfolio and cash caps.
package sizing

import (
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/panya30/MaxTrade-sub000/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// fractionalPlaces bounds the precision of fractional quantities so a sized
// order never exceeds the cash it was sized against by a rounding residue.
const fractionalPlaces = 8

// worstCaseSlippageFactor is the upper bound of the randomized slippage factor.
var worstCaseSlippageFactor = decimal.NewFromFloat(1.5)

var hundred = decimal.NewFromInt(100)

// PositionSizer calculates position sizes
type PositionSizer struct {
	logger *zap.Logger
	config *SizingConfig
}

// SizingConfig configures position sizing
type SizingConfig struct {
	Mode                types.PositionSizingMode
	FixedPositionSize   decimal.Decimal // Dollar amount per position in fixed mode
	PositionSizePercent float64         // Percent of portfolio in percent mode
	MaxPositionPercent  float64         // Cap as percent of portfolio
	KellyFraction       float64         // Fraction of Kelly to use (default 0.25)
	AllowFractional     bool
	ShrinkToAffordable  bool // Cap quantity at MaxAffordable
	Commission          types.CommissionConfig
	Slippage            types.SlippageConfig
}

// DefaultSizingConfig returns the sizing defaults of a default backtest
func DefaultSizingConfig() *SizingConfig {
	return SizingConfigFromBacktest(types.DefaultBacktestConfig())
}

// SizingConfigFromBacktest derives sizing settings from a resolved backtest config
func SizingConfigFromBacktest(cfg types.BacktestConfig) *SizingConfig {
	return &SizingConfig{
		Mode:                cfg.PositionSizing,
		FixedPositionSize:   cfg.FixedPositionSize,
		PositionSizePercent: cfg.PositionSizePercent,
		MaxPositionPercent:  cfg.MaxPositionPercent,
		KellyFraction:       0.25, // Quarter Kelly
		AllowFractional:     cfg.AllowFractional,
		ShrinkToAffordable:  cfg.ShrinkToAffordable,
		Commission:          cfg.Commission,
		Slippage:            cfg.Slippage,
	}
}

// NewPositionSizer creates a new position sizer
func NewPositionSizer(logger *zap.Logger, config *SizingConfig) *PositionSizer {
	if config == nil {
		config = DefaultSizingConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PositionSizer{
		logger: logger,
		config: config,
	}
}

// SizingRequest contains inputs for position sizing
type SizingRequest struct {
	Symbol         string
	PortfolioValue decimal.Decimal
	AvailableCash  decimal.Decimal
	// BatchCash is the cash available when the buy batch started; equal-weight
	// sizing splits it across BatchSize signals.
	BatchCash    decimal.Decimal
	BatchSize    int
	CurrentPrice decimal.Decimal
	Confidence   float64 // Signal confidence (0-1)
}

// SizingResult contains the calculated position size
type SizingResult struct {
	RawTarget      decimal.Decimal `json:"rawTarget"`   // Mode target before caps
	TargetValue    decimal.Decimal `json:"targetValue"` // Dollar amount after caps
	Quantity       decimal.Decimal `json:"quantity"`
	LimitingFactor string          `json:"limitingFactor"`
	Adjustments    []string        `json:"adjustments"`
}

// CalculateSize determines the position size for one buy signal
func (ps *PositionSizer) CalculateSize(req *SizingRequest) *SizingResult {
	result := &SizingResult{
		Quantity:       decimal.Zero,
		LimitingFactor: string(ps.config.Mode),
		Adjustments:    make([]string, 0),
	}

	if !req.CurrentPrice.IsPositive() || !req.AvailableCash.IsPositive() {
		result.LimitingFactor = "no_cash_or_price"
		return result
	}

	// 1. Mode target
	target := ps.modeTarget(req)
	result.RawTarget = target

	// 2. Portfolio and cash caps
	maxPosition := req.PortfolioValue.Mul(decimal.NewFromFloat(ps.config.MaxPositionPercent)).Div(hundred)
	if target.GreaterThan(maxPosition) {
		target = maxPosition
		result.LimitingFactor = "max_position"
		result.Adjustments = append(result.Adjustments, "capped_max_position")
	}
	if target.GreaterThan(req.AvailableCash) {
		target = req.AvailableCash
		result.LimitingFactor = "available_cash"
		result.Adjustments = append(result.Adjustments, "capped_available_cash")
	}
	if target.IsNegative() {
		target = decimal.Zero
	}
	result.TargetValue = target

	// 3. Units
	quantity := target.Div(req.CurrentPrice)
	if !ps.config.AllowFractional {
		if quantity.IsPositive() && quantity.LessThan(decimal.NewFromInt(1)) &&
			req.CurrentPrice.LessThanOrEqual(req.AvailableCash) {
			quantity = decimal.NewFromInt(1)
			result.Adjustments = append(result.Adjustments, "one_unit_minimum")
		}
		quantity = quantity.Floor()
	}

	// 4. Optional affordability after slippage and commission. Without it the
	// ledger rejects a buy whose frictions push its cost over cash.
	if ps.config.ShrinkToAffordable {
		affordable := ps.MaxAffordable(req.AvailableCash, req.CurrentPrice)
		if quantity.GreaterThan(affordable) {
			quantity = affordable
			result.LimitingFactor = "affordability"
			result.Adjustments = append(result.Adjustments, "shrunk_to_affordable")
		}
	}

	if !quantity.IsPositive() {
		quantity = decimal.Zero
	}
	result.Quantity = quantity

	ps.logger.Debug("Position sized",
		zap.String("symbol", req.Symbol),
		zap.String("target", result.TargetValue.String()),
		zap.String("quantity", quantity.String()),
		zap.String("limitingFactor", result.LimitingFactor),
	)

	return result
}

// modeTarget returns the uncapped dollar target for the configured mode
func (ps *PositionSizer) modeTarget(req *SizingRequest) decimal.Decimal {
	switch ps.config.Mode {
	case types.SizingFixed:
		return ps.config.FixedPositionSize
	case types.SizingPercent:
		return req.PortfolioValue.Mul(decimal.NewFromFloat(ps.config.PositionSizePercent)).Div(hundred)
	case types.SizingKelly:
		return req.PortfolioValue.Mul(decimal.NewFromFloat(ps.KellyFraction(req.Confidence)))
	default:
		batch := req.BatchSize
		if batch < 1 {
			batch = 1
		}
		cash := req.BatchCash
		if !cash.IsPositive() {
			cash = req.AvailableCash
		}
		return cash.Div(decimal.NewFromInt(int64(batch)))
	}
}

// KellyFraction returns the portfolio fraction for a signal confidence, using
// the confidence directly as the win probability of an even-money bet.
func (ps *PositionSizer) KellyFraction(confidence float64) float64 {
	confidence = utils.Clamp(utils.Finite(confidence), 0, 1)
	fraction := (2*confidence - 1) * ps.config.KellyFraction
	if fraction < 0 {
		return 0
	}
	return fraction
}

// MaxAffordable returns the largest quantity whose cost, including
// worst-case slippage and commission, fits in cash.
func (ps *PositionSizer) MaxAffordable(cash, price decimal.Decimal) decimal.Decimal {
	if !cash.IsPositive() || !price.IsPositive() {
		return decimal.Zero
	}

	slip := price.Mul(ps.config.Slippage.Percent)
	if ps.config.Slippage.Randomize {
		slip = slip.Add(ps.config.Slippage.Fixed).Mul(worstCaseSlippageFactor)
	} else {
		slip = slip.Add(ps.config.Slippage.Fixed)
	}
	execPrice := price.Add(slip)

	comm := ps.config.Commission
	one := decimal.NewFromInt(1)

	// Proportional fee bound: q*p*(1+pct) + fixed <= cash
	byFee := cash.Sub(comm.FixedFee).Div(execPrice.Mul(one.Add(comm.PercentFee)))
	// Minimum commission bound: q*p + min <= cash
	byMin := cash.Sub(comm.MinCommission).Div(execPrice)

	affordable := utils.MinDecimal(byFee, byMin)
	if !affordable.IsPositive() {
		return decimal.Zero
	}
	if ps.config.AllowFractional {
		return affordable.Truncate(fractionalPlaces)
	}
	return affordable.Floor()
}
