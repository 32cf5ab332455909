package optimization_test

import (
	"context"
	"testing"

	"github.com/panya30/MaxTrade-sub000/internal/data"
	"github.com/panya30/MaxTrade-sub000/internal/optimization"
	"github.com/panya30/MaxTrade-sub000/internal/strategy"
	"github.com/panya30/MaxTrade-sub000/internal/workers"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newOptimizer(t *testing.T, cfg optimization.Config) *optimization.Optimizer {
	t.Helper()
	poolCfg := workers.DefaultPoolConfig("optimize-test")
	poolCfg.NumWorkers = 4
	pool := workers.NewPool(zap.NewNop(), poolCfg)
	pool.Start()
	t.Cleanup(func() { _ = pool.Stop() })

	logger := zap.NewNop()
	return optimization.NewOptimizer(logger, cfg, strategy.NewRegistry(logger), workers.NewBatchRunner(logger, pool))
}

func request(days int, params ...optimization.Parameter) optimization.Request {
	sc := data.DefaultSyntheticConfig("AAA", 11)
	sc.Days = days
	sc.Volatility = 0.03
	return optimization.Request{
		Strategy:   strategy.MomentumName,
		Parameters: params,
		Config:     types.DefaultBacktestConfig(),
		Data: types.BacktestData{
			Symbols: []string{"AAA"},
			Prices:  map[string][]types.OHLCV{"AAA": data.GenerateSeries(sc)},
		},
	}
}

var periodRange = optimization.Parameter{Name: "period", Type: optimization.ParamTypeInteger, Min: 2, Max: 6, Step: 2}

func TestGridSearch(t *testing.T) {
	opt := newOptimizer(t, optimization.DefaultConfig())

	result, err := opt.Optimize(context.Background(), request(120, periodRange))
	require.NoError(t, err)

	require.Len(t, result.Evaluations, 3)
	best := result.Evaluations[0].Score
	for i, want := range []float64{2, 4, 6} {
		ev := result.Evaluations[i]
		assert.Equal(t, want, ev.Params["period"])
		assert.Empty(t, ev.Error)
		best = max(best, ev.Score)
	}
	assert.Equal(t, best, result.BestScore)
	assert.Contains(t, []float64{2, 4, 6}, result.BestParams["period"])
	assert.Equal(t, optimization.MethodGrid, result.Method)
}

func TestGridCartesianProduct(t *testing.T) {
	cfg := optimization.DefaultConfig()
	cfg.GridResolution = 2
	opt := newOptimizer(t, cfg)

	threshold := optimization.Parameter{Name: "threshold", Type: optimization.ParamTypeContinuous, Min: 0.01, Max: 0.03}
	result, err := opt.Optimize(context.Background(), request(60, periodRange, threshold))
	require.NoError(t, err)

	require.Len(t, result.Evaluations, 9)
	assert.Equal(t, 0.01, result.Evaluations[0].Params["threshold"])
	assert.Equal(t, 0.02, result.Evaluations[1].Params["threshold"])
	assert.Equal(t, 0.03, result.Evaluations[2].Params["threshold"])
	assert.Equal(t, float64(4), result.Evaluations[3].Params["period"])
}

func TestRandomSearchIsSeeded(t *testing.T) {
	cfg := optimization.DefaultConfig()
	cfg.Method = optimization.MethodRandom
	cfg.Iterations = 5
	cfg.Seed = 42

	param := optimization.Parameter{Name: "period", Type: optimization.ParamTypeInteger, Min: 2, Max: 30}
	first, err := newOptimizer(t, cfg).Optimize(context.Background(), request(60, param))
	require.NoError(t, err)
	second, err := newOptimizer(t, cfg).Optimize(context.Background(), request(60, param))
	require.NoError(t, err)

	require.Len(t, first.Evaluations, 5)
	for i := range first.Evaluations {
		p := first.Evaluations[i].Params["period"]
		assert.Equal(t, p, second.Evaluations[i].Params["period"])
		assert.GreaterOrEqual(t, p, 2.0)
		assert.LessOrEqual(t, p, 30.0)
	}
}

func TestInvalidCandidatesAreSkipped(t *testing.T) {
	opt := newOptimizer(t, optimization.DefaultConfig())

	param := optimization.Parameter{Name: "period", Type: optimization.ParamTypeDiscrete, Discrete: []float64{1, 5}}
	result, err := opt.Optimize(context.Background(), request(60, param))
	require.NoError(t, err)

	require.Len(t, result.Evaluations, 2)
	assert.NotEmpty(t, result.Evaluations[0].Error, "period below the strategy minimum")
	assert.Empty(t, result.Evaluations[1].Error)
	assert.Equal(t, float64(5), result.BestParams["period"])

	param.Discrete = []float64{0, 1}
	_, err = opt.Optimize(context.Background(), request(60, param))
	assert.ErrorIs(t, err, optimization.ErrNoCandidates)
}

func TestOptimizeRejectsBadInput(t *testing.T) {
	cfg := optimization.DefaultConfig()
	cfg.Objective = "alpha"
	_, err := newOptimizer(t, cfg).Optimize(context.Background(), request(60, periodRange))
	assert.Error(t, err)

	opt := newOptimizer(t, optimization.DefaultConfig())
	_, err = opt.Optimize(context.Background(), request(60))
	assert.Error(t, err, "empty search space")

	req := request(60, periodRange)
	req.Strategy = "martingale"
	_, err = opt.Optimize(context.Background(), req)
	assert.ErrorIs(t, err, strategy.ErrUnknownStrategy)

	_, err = opt.Optimize(context.Background(), request(60, optimization.Parameter{Name: "period", Type: optimization.ParamTypeInteger, Min: 9, Max: 3}))
	assert.Error(t, err, "max below min")
}

func TestWalkForward(t *testing.T) {
	cfg := optimization.DefaultConfig()
	cfg.NumFolds = 3
	opt := newOptimizer(t, cfg)

	req := request(120, periodRange)
	result, err := opt.WalkForward(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, result.Folds, 3)
	for i, fold := range result.Folds {
		assert.Equal(t, i+1, fold.Number)
		assert.True(t, fold.InSampleEnd.After(fold.InSampleStart))
		assert.True(t, fold.OutSampleStart.After(fold.InSampleEnd))
		assert.False(t, fold.OutSampleEnd.Before(fold.OutSampleStart))
		if i > 0 {
			assert.True(t, fold.InSampleStart.After(result.Folds[i-1].OutSampleEnd), "rolling windows do not overlap")
		}
	}
	last := result.Folds[2]
	assert.Equal(t, last.Params, result.BestParams)
	assert.Equal(t, last.OutSampleEnd, req.Data.Prices["AAA"][119].Timestamp)
	assert.Len(t, result.Evaluations, 9)
}

func TestWalkForwardAnchored(t *testing.T) {
	cfg := optimization.DefaultConfig()
	cfg.NumFolds = 3
	cfg.Anchored = true

	req := request(90, periodRange)
	result, err := newOptimizer(t, cfg).WalkForward(context.Background(), req)
	require.NoError(t, err)

	first := req.Data.Prices["AAA"][0].Timestamp
	for _, fold := range result.Folds {
		assert.Equal(t, first, fold.InSampleStart)
	}
}

func TestWalkForwardNeedsData(t *testing.T) {
	cfg := optimization.DefaultConfig()
	cfg.NumFolds = 3
	_, err := newOptimizer(t, cfg).WalkForward(context.Background(), request(4, periodRange))
	assert.ErrorIs(t, err, optimization.ErrNotEnoughData)
}

func TestObjectiveScore(t *testing.T) {
	m := types.PerformanceMetrics{SharpeRatio: 1.2, MaxDrawdown: 8, TotalReturnPercent: 15}

	score, err := optimization.ObjectiveDrawdown.Score(m)
	require.NoError(t, err)
	assert.Equal(t, -8.0, score)

	score, err = optimization.ObjectiveReturn.Score(m)
	require.NoError(t, err)
	assert.Equal(t, 15.0, score)

	_, err = optimization.Objective("alpha").Score(m)
	assert.Error(t, err)
}
