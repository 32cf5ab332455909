// Package types provides configuration types for the backtesting engine.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionSizingMode selects how the engine sizes new positions
type PositionSizingMode string

const (
	SizingFixed       PositionSizingMode = "fixed"
	SizingPercent     PositionSizingMode = "percent"
	SizingEqualWeight PositionSizingMode = "equal_weight"
	SizingKelly       PositionSizingMode = "kelly"
)

// RebalanceFrequency controls how often the signal generator is consulted
type RebalanceFrequency string

const (
	RebalanceDaily     RebalanceFrequency = "daily"
	RebalanceWeekly    RebalanceFrequency = "weekly"
	RebalanceMonthly   RebalanceFrequency = "monthly"
	RebalanceQuarterly RebalanceFrequency = "quarterly"
	RebalanceNever     RebalanceFrequency = "never"
)

// CommissionConfig is the commission schedule. Fees are fractions of notional
// (0.001 = 0.1%). MinCommission <= commission <= MaxCommission holds whenever
// MaxCommission is positive. A zero MaxCommission means the commission is
// uncapped, so only the lower bound applies, as in the default config.
type CommissionConfig struct {
	FixedFee      decimal.Decimal `json:"fixedFee" yaml:"fixedFee" mapstructure:"fixedFee" validate:"gte=0"`
	PercentFee    decimal.Decimal `json:"percentFee" yaml:"percentFee" mapstructure:"percentFee" validate:"gte=0"`
	MinCommission decimal.Decimal `json:"minCommission" yaml:"minCommission" mapstructure:"minCommission" validate:"gte=0"`
	MaxCommission decimal.Decimal `json:"maxCommission" yaml:"maxCommission" mapstructure:"maxCommission" validate:"gte=0"`
}

// UnmarshalJSON accepts either the full object or a bare number, which is
// read as PercentFee with every other field zeroed.
func (c *CommissionConfig) UnmarshalJSON(data []byte) error {
	if pct, ok, err := decodeShorthand(data); err != nil {
		return fmt.Errorf("invalid commission: %w", err)
	} else if ok {
		*c = CommissionConfig{PercentFee: pct}
		return nil
	}

	type alias CommissionConfig
	a := alias(*c)
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("invalid commission: %w", err)
	}
	*c = CommissionConfig(a)
	return nil
}

// SlippageConfig is the slippage model: Fixed is a price offset, Percent a
// fraction of price. Randomize scales the raw amount by a factor in [0.5, 1.5).
type SlippageConfig struct {
	Fixed     decimal.Decimal `json:"fixed" yaml:"fixed" mapstructure:"fixed" validate:"gte=0"`
	Percent   decimal.Decimal `json:"percent" yaml:"percent" mapstructure:"percent" validate:"gte=0"`
	Randomize bool            `json:"randomize" yaml:"randomize" mapstructure:"randomize"`
}

// UnmarshalJSON accepts either the full object or a bare number (Percent).
func (s *SlippageConfig) UnmarshalJSON(data []byte) error {
	if pct, ok, err := decodeShorthand(data); err != nil {
		return fmt.Errorf("invalid slippage: %w", err)
	} else if ok {
		*s = SlippageConfig{Percent: pct}
		return nil
	}

	type alias SlippageConfig
	a := alias(*s)
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("invalid slippage: %w", err)
	}
	*s = SlippageConfig(a)
	return nil
}

// decodeShorthand reports whether data is a bare JSON number or numeric string.
func decodeShorthand(data []byte) (decimal.Decimal, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] == '{' || bytes.Equal(trimmed, []byte("null")) {
		return decimal.Zero, false, nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(trimmed); err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}

// BacktestConfig is the immutable configuration of one run.
//
// RiskFreeRate is annual. Zero is an explicit rate: only the config loader and
// decoding over DefaultBacktestConfig fill in DefaultRiskFreeRate.
// ShrinkToAffordable reduces a sized buy to what cash covers after worst-case
// slippage and commission; when off, such a buy is rejected by the ledger.
type BacktestConfig struct {
	InitialCapital      decimal.Decimal    `json:"initialCapital" yaml:"initialCapital" mapstructure:"initialCapital" validate:"gt=0"`
	Commission          CommissionConfig   `json:"commission" yaml:"commission" mapstructure:"commission"`
	Slippage            SlippageConfig     `json:"slippage" yaml:"slippage" mapstructure:"slippage"`
	PositionSizing      PositionSizingMode `json:"positionSizing" yaml:"positionSizing" mapstructure:"positionSizing" validate:"oneof=fixed percent equal_weight kelly"`
	FixedPositionSize   decimal.Decimal    `json:"fixedPositionSize" yaml:"fixedPositionSize" mapstructure:"fixedPositionSize" validate:"gte=0"`
	PositionSizePercent float64            `json:"positionSizePercent" yaml:"positionSizePercent" mapstructure:"positionSizePercent" validate:"gte=0,lte=100"`
	MaxPositions        int                `json:"maxPositions" yaml:"maxPositions" mapstructure:"maxPositions" validate:"gte=1"`
	MaxPositionPercent  float64            `json:"maxPositionPercent" yaml:"maxPositionPercent" mapstructure:"maxPositionPercent" validate:"gt=0,lte=100"`
	RebalanceFrequency  RebalanceFrequency `json:"rebalanceFrequency" yaml:"rebalanceFrequency" mapstructure:"rebalanceFrequency" validate:"oneof=daily weekly monthly quarterly never"`
	AllowFractional     bool               `json:"allowFractional" yaml:"allowFractional" mapstructure:"allowFractional"`
	RiskFreeRate        float64            `json:"riskFreeRate" yaml:"riskFreeRate" mapstructure:"riskFreeRate"`
	SlippageSeed        int64              `json:"slippageSeed" yaml:"slippageSeed" mapstructure:"slippageSeed"`
	ShrinkToAffordable  bool               `json:"shrinkToAffordable" yaml:"shrinkToAffordable" mapstructure:"shrinkToAffordable"`
}

// Default configuration values
const (
	DefaultInitialCapital      = 100000
	DefaultFixedPositionSize   = 10000
	DefaultPositionSizePercent = 5.0
	DefaultMaxPositions        = 10
	DefaultMaxPositionPercent  = 20.0
	DefaultRiskFreeRate        = 0.02
)

// DefaultBacktestConfig returns the configuration used when nothing is overridden
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		InitialCapital: decimal.NewFromInt(DefaultInitialCapital),
		Commission: CommissionConfig{
			PercentFee: decimal.NewFromFloat(0.001),
		},
		Slippage: SlippageConfig{
			Percent: decimal.NewFromFloat(0.0005),
		},
		PositionSizing:      SizingEqualWeight,
		FixedPositionSize:   decimal.NewFromInt(DefaultFixedPositionSize),
		PositionSizePercent: DefaultPositionSizePercent,
		MaxPositions:        DefaultMaxPositions,
		MaxPositionPercent:  DefaultMaxPositionPercent,
		RebalanceFrequency:  RebalanceDaily,
		RiskFreeRate:        DefaultRiskFreeRate,
	}
}

// Resolve returns a copy with every missing or out-of-range field replaced by
// its default. It never fails. RiskFreeRate, AllowFractional, SlippageSeed and
// the zero-valued frictions are kept as given, so a literal config that omits
// RiskFreeRate runs at 0. Start from DefaultBacktestConfig to get 0.02.
func (c BacktestConfig) Resolve() BacktestConfig {
	def := DefaultBacktestConfig()

	if !c.InitialCapital.IsPositive() {
		c.InitialCapital = def.InitialCapital
	}
	switch c.PositionSizing {
	case SizingFixed, SizingPercent, SizingEqualWeight, SizingKelly:
	default:
		c.PositionSizing = def.PositionSizing
	}
	if !c.FixedPositionSize.IsPositive() {
		c.FixedPositionSize = def.FixedPositionSize
	}
	if c.PositionSizePercent <= 0 {
		c.PositionSizePercent = def.PositionSizePercent
	}
	if c.MaxPositions < 1 {
		c.MaxPositions = def.MaxPositions
	}
	if c.MaxPositionPercent <= 0 {
		c.MaxPositionPercent = def.MaxPositionPercent
	} else if c.MaxPositionPercent > 100 {
		c.MaxPositionPercent = 100
	}
	switch c.RebalanceFrequency {
	case RebalanceDaily, RebalanceWeekly, RebalanceMonthly, RebalanceQuarterly, RebalanceNever:
	default:
		c.RebalanceFrequency = def.RebalanceFrequency
	}

	c.Commission.FixedFee = nonNegative(c.Commission.FixedFee)
	c.Commission.PercentFee = nonNegative(c.Commission.PercentFee)
	c.Commission.MinCommission = nonNegative(c.Commission.MinCommission)
	c.Commission.MaxCommission = nonNegative(c.Commission.MaxCommission)
	if c.Commission.MaxCommission.IsPositive() && c.Commission.MinCommission.GreaterThan(c.Commission.MaxCommission) {
		c.Commission.MaxCommission = c.Commission.MinCommission
	}
	c.Slippage.Fixed = nonNegative(c.Slippage.Fixed)
	c.Slippage.Percent = nonNegative(c.Slippage.Percent)

	return c
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// BacktestData is the price input of one run
type BacktestData struct {
	Symbols   []string           `json:"symbols"`
	Prices    map[string][]OHLCV `json:"prices"`
	StartDate time.Time          `json:"startDate"`
	EndDate   time.Time          `json:"endDate"`
	// Benchmark is an optional price series the equity curve is compared against.
	Benchmark []OHLCV `json:"benchmark,omitempty"`
}

// BacktestResult represents the results of a backtest
type BacktestResult struct {
	Config         BacktestConfig       `json:"config"`
	Metrics        PerformanceMetrics   `json:"metrics"`
	Benchmark      *BenchmarkComparison `json:"benchmark,omitempty"`
	EquityCurve    []EquityPoint        `json:"equityCurve"`
	MonthlyReturns []MonthlyReturn      `json:"monthlyReturns"`
	Trades         []Trade              `json:"trades"`
	FinalPositions []Position           `json:"finalPositions"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host          string        `json:"host" mapstructure:"host" validate:"required"`
	Port          int           `json:"port" mapstructure:"port" validate:"gt=0,lte=65535"`
	WebSocketPath string        `json:"websocketPath" mapstructure:"websocketPath"`
	DataDir       string        `json:"dataDir" mapstructure:"dataDir" validate:"required"`
	ReadTimeout   time.Duration `json:"readTimeout" mapstructure:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout" mapstructure:"writeTimeout"`
	Workers       int           `json:"workers" mapstructure:"workers" validate:"gte=1"`
}

// DefaultServerConfig returns server defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:          "localhost",
		Port:          8080,
		WebSocketPath: "/ws",
		DataDir:       "./data",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		Workers:       4,
	}
}
