package backtester

import (
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/shopspring/decimal"
)

// CommissionModel charges a fixed fee plus a percentage of notional, bounded
// by a minimum and an optional maximum.
type CommissionModel struct {
	config types.CommissionConfig
}

// NewCommissionModel creates a commission model
func NewCommissionModel(config types.CommissionConfig) *CommissionModel {
	return &CommissionModel{config: config}
}

// Calculate returns clamp(fixedFee + |quantity*price|*percentFee, min, max).
// A zero MaxCommission leaves the commission uncapped.
func (c *CommissionModel) Calculate(quantity, price decimal.Decimal) decimal.Decimal {
	notional := quantity.Mul(price).Abs()
	commission := c.config.FixedFee.Add(notional.Mul(c.config.PercentFee))

	if commission.LessThan(c.config.MinCommission) {
		commission = c.config.MinCommission
	}
	if c.config.MaxCommission.IsPositive() && commission.GreaterThan(c.config.MaxCommission) {
		commission = c.config.MaxCommission
	}
	return commission
}
