package data

import (
	"math"
	"math/rand"
	"time"

	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/shopspring/decimal"
)

// SyntheticConfig describes a generated daily random walk
type SyntheticConfig struct {
	Symbol     string
	Start      time.Time
	Days       int
	StartPrice float64
	// Drift and Volatility are daily log-return mean and standard deviation
	Drift      float64
	Volatility float64
	Seed       int64
}

// DefaultSyntheticConfig returns a one-year walk starting at 100
func DefaultSyntheticConfig(symbol string, seed int64) SyntheticConfig {
	return SyntheticConfig{
		Symbol:     symbol,
		Start:      time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		Days:       252,
		StartPrice: 100,
		Drift:      0.0003,
		Volatility: 0.015,
		Seed:       seed,
	}
}

// GenerateSeries produces weekday bars from a seeded geometric random walk.
// The same config always yields the same series.
func GenerateSeries(cfg SyntheticConfig) []types.OHLCV {
	if cfg.Days <= 0 || cfg.StartPrice <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	bars := make([]types.OHLCV, 0, cfg.Days)
	price := cfg.StartPrice
	day := cfg.Start.UTC().Truncate(24 * time.Hour)

	for len(bars) < cfg.Days {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			day = day.AddDate(0, 0, 1)
			continue
		}

		open := price
		price *= math.Exp(cfg.Drift + cfg.Volatility*rng.NormFloat64())
		high := math.Max(open, price) * (1 + rng.Float64()*cfg.Volatility/2)
		low := math.Min(open, price) * (1 - rng.Float64()*cfg.Volatility/2)

		bars = append(bars, types.OHLCV{
			Symbol:    cfg.Symbol,
			Timestamp: day,
			Open:      decimal.NewFromFloat(open).Round(4),
			High:      decimal.NewFromFloat(high).Round(4),
			Low:       decimal.NewFromFloat(low).Round(4),
			Close:     decimal.NewFromFloat(price).Round(4),
			Volume:    decimal.NewFromInt(100000 + rng.Int63n(900000)),
		})
		day = day.AddDate(0, 0, 1)
	}
	return bars
}
