package backtester

import (
	"math/rand"

	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/shopspring/decimal"
)

// SlippageModel applies fixed plus proportional slippage, always adverse to
// the trader: added to the price on buys, subtracted on sells.
type SlippageModel struct {
	Fixed     decimal.Decimal // Price offset per unit
	Percent   decimal.Decimal // Fraction of price
	Randomize bool

	rng *rand.Rand
}

// NewSlippageModel creates a slippage model. rng is only consulted when the
// config randomizes; a nil rng is seeded with 0.
func NewSlippageModel(config types.SlippageConfig, rng *rand.Rand) *SlippageModel {
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}
	return &SlippageModel{
		Fixed:     config.Fixed,
		Percent:   config.Percent,
		Randomize: config.Randomize,
		rng:       rng,
	}
}

// Calculate returns the signed per-unit price adjustment for side
func (s *SlippageModel) Calculate(price decimal.Decimal, side types.OrderSide) decimal.Decimal {
	raw := s.Fixed.Add(price.Mul(s.Percent))

	if s.Randomize {
		// Uniform factor in [0.5, 1.5)
		factor := decimal.NewFromFloat(0.5 + s.rng.Float64())
		raw = raw.Mul(factor)
	}

	if side == types.OrderSideSell {
		return raw.Neg()
	}
	return raw
}
