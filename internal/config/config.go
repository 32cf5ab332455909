// Package config loads backtest and server configuration from files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Environment variable prefixes. BACKTEST_MAXPOSITIONS overrides maxPositions,
// BACKTEST_SERVER_PORT overrides the server port.
const (
	EnvPrefix       = "BACKTEST"
	ServerEnvPrefix = "BACKTEST_SERVER"
)

// ErrInvalidConfig is returned when a configuration fails validation
var ErrInvalidConfig = errors.New("invalid configuration")

// Loader reads configuration through viper and validates it
type Loader struct {
	logger   *zap.Logger
	validate *validator.Validate
}

// NewLoader creates a configuration loader
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		logger:   logger.Named("config"),
		validate: NewValidator(),
	}
}

// NewValidator returns a validator that understands decimal fields and the
// commission bounds rule.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	v.RegisterStructValidation(commissionBounds, types.CommissionConfig{})
	return v
}

// LoadBacktestConfig reads a run configuration. An empty path loads defaults
// plus environment overrides. Fields missing from the file keep their defaults.
func (l *Loader) LoadBacktestConfig(path string) (types.BacktestConfig, error) {
	cfg := types.DefaultBacktestConfig()

	v := newViper(EnvPrefix)
	v.SetDefault("initialCapital", cfg.InitialCapital.String())
	v.SetDefault("positionSizing", string(cfg.PositionSizing))
	v.SetDefault("fixedPositionSize", cfg.FixedPositionSize.String())
	v.SetDefault("positionSizePercent", cfg.PositionSizePercent)
	v.SetDefault("maxPositions", cfg.MaxPositions)
	v.SetDefault("maxPositionPercent", cfg.MaxPositionPercent)
	v.SetDefault("rebalanceFrequency", string(cfg.RebalanceFrequency))
	v.SetDefault("allowFractional", cfg.AllowFractional)
	v.SetDefault("riskFreeRate", cfg.RiskFreeRate)
	v.SetDefault("slippageSeed", cfg.SlippageSeed)
	v.SetDefault("shrinkToAffordable", cfg.ShrinkToAffordable)
	// Shorthand overrides: BACKTEST_COMMISSION=0.002
	_ = v.BindEnv("commission")
	_ = v.BindEnv("slippage")

	if err := l.read(v, path); err != nil {
		return cfg, err
	}
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return cfg, fmt.Errorf("failed to decode backtest config: %w", err)
	}
	if err := l.Validate(cfg); err != nil {
		return cfg, err
	}

	l.logger.Info("Loaded backtest config",
		zap.String("path", path),
		zap.String("initialCapital", cfg.InitialCapital.String()),
		zap.String("positionSizing", string(cfg.PositionSizing)),
		zap.Int("maxPositions", cfg.MaxPositions),
		zap.String("rebalance", string(cfg.RebalanceFrequency)),
	)
	return cfg, nil
}

// LoadServerConfig reads the API server configuration
func (l *Loader) LoadServerConfig(path string) (types.ServerConfig, error) {
	cfg := types.DefaultServerConfig()

	v := newViper(ServerEnvPrefix)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("websocketPath", cfg.WebSocketPath)
	v.SetDefault("dataDir", cfg.DataDir)
	v.SetDefault("readTimeout", cfg.ReadTimeout.String())
	v.SetDefault("writeTimeout", cfg.WriteTimeout.String())
	v.SetDefault("workers", cfg.Workers)

	if err := l.read(v, path); err != nil {
		return cfg, err
	}
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return cfg, fmt.Errorf("failed to decode server config: %w", err)
	}
	if err := l.Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field rules
func (l *Loader) Validate(cfg any) error {
	if err := l.validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DecodeHook converts numbers and strings into decimals, durations and the
// commission/slippage shorthand forms.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		shorthandHook,
		decimalHook,
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

func newViper(prefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func (l *Loader) read(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

var (
	decimalType    = reflect.TypeOf(decimal.Decimal{})
	commissionType = reflect.TypeOf(types.CommissionConfig{})
	slippageType   = reflect.TypeOf(types.SlippageConfig{})
)

func decimalHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	d, ok, err := toDecimal(data)
	if err != nil {
		return nil, err
	}
	if !ok {
		return data, nil
	}
	return d, nil
}

func shorthandHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != commissionType && to != slippageType {
		return data, nil
	}
	pct, ok, err := toDecimal(data)
	if err != nil {
		return nil, fmt.Errorf("invalid %s shorthand: %w", to.Name(), err)
	}
	if !ok {
		return data, nil
	}
	if to == commissionType {
		return types.CommissionConfig{PercentFee: pct}, nil
	}
	return types.SlippageConfig{Percent: pct}, nil
}

func toDecimal(data any) (decimal.Decimal, bool, error) {
	switch v := data.(type) {
	case decimal.Decimal:
		return v, true, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, false, err
		}
		return d, true, nil
	case float64:
		return decimal.NewFromFloat(v), true, nil
	case float32:
		return decimal.NewFromFloat32(v), true, nil
	case int:
		return decimal.NewFromInt(int64(v)), true, nil
	case int64:
		return decimal.NewFromInt(v), true, nil
	case int32:
		return decimal.NewFromInt32(v), true, nil
	case uint64:
		return decimal.NewFromInt(int64(v)), true, nil
	}
	return decimal.Zero, false, nil
}

func decimalValue(field reflect.Value) any {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		return d.InexactFloat64()
	}
	return nil
}

func commissionBounds(sl validator.StructLevel) {
	c := sl.Current().Interface().(types.CommissionConfig)
	if c.MaxCommission.IsPositive() && c.MinCommission.GreaterThan(c.MaxCommission) {
		sl.ReportError(c.MaxCommission, "MaxCommission", "maxCommission", "gtefield", "MinCommission")
	}
}
