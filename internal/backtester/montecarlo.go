package backtester

import (
	"math/rand"
	"sort"

	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/panya30/MaxTrade-sub000/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MonteCarloConfig configures trade resampling
type MonteCarloConfig struct {
	Iterations    int     `json:"iterations" yaml:"iterations" mapstructure:"iterations"`
	Seed          int64   `json:"seed" yaml:"seed" mapstructure:"seed"`
	RuinThreshold float64 `json:"ruinThreshold" yaml:"ruinThreshold" mapstructure:"ruinThreshold"` // Equity fraction treated as ruin
}

// DefaultMonteCarloConfig returns 1000 iterations with ruin at a 50% loss
func DefaultMonteCarloConfig() MonteCarloConfig {
	return MonteCarloConfig{
		Iterations:    1000,
		RuinThreshold: 0.5,
	}
}

// MonteCarloSimulator reshuffles realized trade P&L to estimate the spread of
// outcomes a different trade ordering would have produced.
type MonteCarloSimulator struct {
	logger *zap.Logger
	config MonteCarloConfig
	rng    *rand.Rand
}

// NewMonteCarloSimulator creates a seeded simulator
func NewMonteCarloSimulator(logger *zap.Logger, config MonteCarloConfig) *MonteCarloSimulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Iterations <= 0 {
		config.Iterations = DefaultMonteCarloConfig().Iterations
	}
	if config.RuinThreshold <= 0 || config.RuinThreshold >= 1 {
		config.RuinThreshold = DefaultMonteCarloConfig().RuinThreshold
	}
	return &MonteCarloSimulator{
		logger: logger,
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Run resamples the closing trades of a run. Returns are percent of
// initial capital.
func (mc *MonteCarloSimulator) Run(trades []types.Trade, initialCapital decimal.Decimal) *types.MonteCarloResult {
	returns := make([]float64, 0, len(trades))
	for i := range trades {
		if !trades[i].IsClosing() || !initialCapital.IsPositive() {
			continue
		}
		returns = append(returns, trades[i].PnL.Unwrap().Div(initialCapital).InexactFloat64())
	}

	if len(returns) == 0 {
		return &types.MonteCarloResult{Iterations: 0}
	}

	iterations := mc.config.Iterations
	simulated := make([]float64, iterations)
	drawdowns := make([]float64, iterations)
	ruinCount := 0

	for i := 0; i < iterations; i++ {
		shuffled := mc.shuffle(returns)
		total, maxDD, ruined := mc.simulatePath(shuffled)
		simulated[i] = total * 100
		drawdowns[i] = maxDD * 100
		if ruined {
			ruinCount++
		}
	}

	sort.Float64s(simulated)
	sort.Float64s(drawdowns)

	result := &types.MonteCarloResult{
		Iterations:      iterations,
		MedianReturn:    utils.Percentile(simulated, 50),
		P5Return:        utils.Percentile(simulated, 5),
		P95Return:       utils.Percentile(simulated, 95),
		ProbabilityRuin: float64(ruinCount) / float64(iterations),
		MaxDrawdownP95:  utils.Percentile(drawdowns, 95),
	}

	mc.logger.Info("Monte Carlo simulation complete",
		zap.Int("iterations", iterations),
		zap.Int("trades", len(returns)),
		zap.Float64("medianReturn", result.MedianReturn),
		zap.Float64("p5Return", result.P5Return),
		zap.Float64("p95Return", result.P95Return),
		zap.Float64("probabilityRuin", result.ProbabilityRuin),
	)

	return result
}

func (mc *MonteCarloSimulator) shuffle(returns []float64) []float64 {
	shuffled := make([]float64, len(returns))
	copy(shuffled, returns)
	mc.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// simulatePath returns total return, max drawdown and whether the path hit ruin
func (mc *MonteCarloSimulator) simulatePath(returns []float64) (float64, float64, bool) {
	equity := 1.0
	peak := equity
	maxDD := 0.0
	ruinLevel := 1 - mc.config.RuinThreshold

	for _, r := range returns {
		equity += r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
		if equity <= ruinLevel {
			return equity - 1, maxDD, true
		}
	}
	return equity - 1, maxDD, false
}
