package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/panya30/MaxTrade-sub000/internal/backtester"
	"github.com/panya30/MaxTrade-sub000/internal/config"
	"github.com/panya30/MaxTrade-sub000/internal/data"
	"github.com/panya30/MaxTrade-sub000/internal/logging"
	"github.com/panya30/MaxTrade-sub000/internal/optimization"
	"github.com/panya30/MaxTrade-sub000/internal/strategy"
	"github.com/panya30/MaxTrade-sub000/internal/workers"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/panya30/MaxTrade-sub000/pkg/utils"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// runReport is what `run` prints. Result is only written with --full.
type runReport struct {
	Strategy       string                     `json:"strategy" yaml:"strategy"`
	Parameters     map[string]any             `json:"parameters" yaml:"parameters"`
	Symbols        []string                   `json:"symbols" yaml:"symbols"`
	Metrics        types.PerformanceMetrics   `json:"metrics" yaml:"metrics"`
	Benchmark      *types.BenchmarkComparison `json:"benchmark,omitempty" yaml:"benchmark,omitempty"`
	MonthlyReturns []types.MonthlyReturn      `json:"monthlyReturns" yaml:"monthlyReturns"`
	MonteCarlo     *types.MonteCarloResult    `json:"monteCarlo,omitempty" yaml:"monteCarlo,omitempty"`
	Result         *types.BacktestResult      `json:"result,omitempty" yaml:"-"`
}

// compareRow is one line of `compare` output
type compareRow struct {
	Strategy           string  `json:"strategy" yaml:"strategy"`
	TotalReturnPercent float64 `json:"totalReturnPercent" yaml:"totalReturnPercent"`
	CAGR               float64 `json:"cagr" yaml:"cagr"`
	SharpeRatio        float64 `json:"sharpeRatio" yaml:"sharpeRatio"`
	MaxDrawdown        float64 `json:"maxDrawdown" yaml:"maxDrawdown"`
	WinRate            float64 `json:"winRate" yaml:"winRate"`
	TotalTrades        int     `json:"totalTrades" yaml:"totalTrades"`
	Error              string  `json:"error,omitempty" yaml:"error,omitempty"`
}

func newLogger(cmd *cli.Command) (*zap.Logger, error) {
	return logging.New(cmd.String("log-level"), "console")
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.NewLoader(logger).LoadBacktestConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	strat, err := resolveStrategy(logger, cmd)
	if err != nil {
		return err
	}

	store, err := data.NewStore(logger, cmd.String("data"))
	if err != nil {
		return err
	}
	input, err := loadData(ctx, cmd, store)
	if err != nil {
		return err
	}

	engine := backtester.NewEngine(logger, cfg)
	result := engine.Run(input, strat.Generator())

	report := runReport{
		Strategy:       strat.Name(),
		Parameters:     strat.Parameters(),
		Symbols:        input.Symbols,
		Metrics:        result.Metrics,
		Benchmark:      result.Benchmark,
		MonthlyReturns: result.MonthlyReturns,
	}
	if n := int(cmd.Int("montecarlo")); n > 0 {
		sim := backtester.NewMonteCarloSimulator(logger, backtester.MonteCarloConfig{
			Iterations: n,
			Seed:       int64(cmd.Int("seed")),
		})
		report.MonteCarlo = sim.Run(result.Trades, result.Metrics.InitialCapital)
	}
	if cmd.Bool("full") {
		report.Result = result
	}

	out := cmd.Root().Writer
	if path := cmd.String("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	return writeOutput(out, cmd.String("format"), report)
}

func compareAction(ctx context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.NewLoader(logger).LoadBacktestConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	registry := strategy.NewRegistry(logger)
	names := cmd.StringSlice("strategies")
	if len(names) == 0 {
		names = registry.List()
	}
	strategies := make([]strategy.Strategy, len(names))
	for i, name := range names {
		if strategies[i], err = registry.Create(name, nil); err != nil {
			return err
		}
	}

	store, err := data.NewStore(logger, cmd.String("data"))
	if err != nil {
		return err
	}
	input, err := loadData(ctx, cmd, store)
	if err != nil {
		return err
	}

	poolCfg := workers.DefaultPoolConfig("compare")
	if n := int(cmd.Int("workers")); n > 0 {
		poolCfg.NumWorkers = n
	}
	pool := workers.NewPool(logger, poolCfg)
	pool.Start()
	defer pool.Stop()

	jobs := make([]workers.Job, len(strategies))
	for i, s := range strategies {
		jobs[i] = workers.Job{
			ID:           s.Name(),
			Config:       cfg,
			Data:         input,
			NewGenerator: s.Generator,
		}
	}

	results := workers.NewBatchRunner(logger, pool).RunBatch(ctx, jobs)

	rows := make([]compareRow, len(results))
	for i, res := range results {
		rows[i].Strategy = res.ID
		if res.Err != nil {
			rows[i].Error = res.Err.Error()
			continue
		}
		m := res.Result.Metrics
		rows[i].TotalReturnPercent = m.TotalReturnPercent
		rows[i].CAGR = m.CAGR
		rows[i].SharpeRatio = m.SharpeRatio
		rows[i].MaxDrawdown = m.MaxDrawdown
		rows[i].WinRate = m.WinRate
		rows[i].TotalTrades = m.TotalTrades
	}
	return writeOutput(cmd.Root().Writer, cmd.String("format"), rows)
}

func optimizeAction(ctx context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.NewLoader(logger).LoadBacktestConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	params, err := parseParameters(cmd.StringMap("range"), cmd.StringMap("choices"))
	if err != nil {
		return err
	}

	store, err := data.NewStore(logger, cmd.String("data"))
	if err != nil {
		return err
	}
	input, err := loadData(ctx, cmd, store)
	if err != nil {
		return err
	}

	poolCfg := workers.DefaultPoolConfig("optimize")
	if n := int(cmd.Int("workers")); n > 0 {
		poolCfg.NumWorkers = n
	}
	pool := workers.NewPool(logger, poolCfg)
	pool.Start()
	defer pool.Stop()

	optCfg := optimization.Config{
		Method:         optimization.Method(cmd.String("method")),
		Objective:      optimization.Objective(cmd.String("objective")),
		GridResolution: optimization.DefaultConfig().GridResolution,
		Iterations:     int(cmd.Int("iterations")),
		Seed:           int64(cmd.Int("seed")),
		InSamplePct:    cmd.Float("in-sample"),
		NumFolds:       int(cmd.Int("folds")),
		Anchored:       cmd.Bool("anchored"),
	}
	registry := strategy.NewRegistry(logger)
	opt := optimization.NewOptimizer(logger, optCfg, registry, workers.NewBatchRunner(logger, pool))

	req := optimization.Request{
		Strategy:   cmd.String("strategy"),
		Parameters: params,
		Config:     cfg,
		Data:       input,
	}

	var result *optimization.Result
	if cmd.Bool("walk-forward") {
		result, err = opt.WalkForward(ctx, req)
	} else {
		result, err = opt.Optimize(ctx, req)
	}
	if err != nil {
		return err
	}
	return writeOutput(cmd.Root().Writer, cmd.String("format"), result)
}

// parseParameters turns --range and --choices into search dimensions, sorted
// by name. A range is integer unless one of its bounds has a decimal point.
func parseParameters(ranges, choices map[string]string) ([]optimization.Parameter, error) {
	params := make([]optimization.Parameter, 0, len(ranges)+len(choices))

	for name, spec := range ranges {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid range %s=%s: want min:max[:step]", name, spec)
		}
		values := make([]float64, len(parts))
		for i, part := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid range %s=%s: %w", name, spec, err)
			}
			values[i] = v
		}

		p := optimization.Parameter{
			Name: name,
			Type: optimization.ParamTypeInteger,
			Min:  values[0],
			Max:  values[1],
		}
		if len(values) == 3 {
			p.Step = values[2]
		}
		if strings.Contains(spec, ".") {
			p.Type = optimization.ParamTypeContinuous
		}
		params = append(params, p)
	}

	for name, spec := range choices {
		if _, dup := ranges[name]; dup {
			return nil, fmt.Errorf("parameter %s given as both range and choices", name)
		}
		p := optimization.Parameter{Name: name, Type: optimization.ParamTypeDiscrete}
		for _, part := range strings.Split(spec, "|") {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid choices %s=%s: %w", name, spec, err)
			}
			p.Discrete = append(p.Discrete, v)
		}
		params = append(params, p)
	}

	if len(params) == 0 {
		return nil, errors.New("nothing to optimize: pass --range or --choices")
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params, nil
}

func strategiesAction(ctx context.Context, cmd *cli.Command) error {
	return writeOutput(cmd.Root().Writer, cmd.String("format"), strategy.NewRegistry(nil).Describe())
}

func generateAction(ctx context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := data.NewStore(logger, cmd.String("data"))
	if err != nil {
		return err
	}

	seed := int64(cmd.Int("seed"))
	for i, symbol := range cmd.StringSlice("symbols") {
		sc := data.DefaultSyntheticConfig(utils.FormatSymbol(symbol), seed+int64(i))
		sc.Days = int(cmd.Int("days"))
		sc.Start = cmd.Timestamp("start")

		bars := data.GenerateSeries(sc)
		if err := store.SaveOHLCV(sc.Symbol, bars); err != nil {
			return err
		}
		fmt.Fprintf(cmd.Root().Writer, "%s: %d bars\n", sc.Symbol, len(bars))
	}
	return nil
}

func validateAction(ctx context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := data.NewStore(logger, cmd.String("data"))
	if err != nil {
		return err
	}

	symbols := cmd.StringSlice("symbols")
	if len(symbols) == 0 {
		symbols = store.GetAvailableSymbols()
	}

	reports := make([]*data.QualityReport, 0, len(symbols))
	for _, symbol := range symbols {
		report, err := store.Validate(ctx, symbol)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	}
	return writeOutput(cmd.Root().Writer, cmd.String("format"), reports)
}

// resolveStrategy builds the registered strategy named by --strategy, or a
// replay of --signals.
func resolveStrategy(logger *zap.Logger, cmd *cli.Command) (strategy.Strategy, error) {
	name := cmd.String("strategy")
	signals := cmd.String("signals")

	if signals != "" || name == strategy.ReplayName {
		if signals == "" {
			return nil, errors.New("replay requires --signals")
		}
		return strategy.LoadReplay(logger, signals)
	}

	params := make(map[string]any, len(cmd.StringMap("param")))
	for k, v := range cmd.StringMap("param") {
		params[k] = v
	}
	return strategy.NewRegistry(logger).Create(name, params)
}

// loadData reads the requested symbols, defaulting to everything stored
// except the benchmark.
func loadData(ctx context.Context, cmd *cli.Command, store *data.Store) (types.BacktestData, error) {
	benchmark := utils.FormatSymbol(cmd.String("benchmark"))

	symbols := cmd.StringSlice("symbols")
	if len(symbols) == 0 {
		for _, s := range store.GetAvailableSymbols() {
			if s != benchmark {
				symbols = append(symbols, s)
			}
		}
	}
	if len(symbols) == 0 {
		return types.BacktestData{}, fmt.Errorf("%w in %s", data.ErrNoData, cmd.String("data"))
	}

	return store.LoadBacktestData(ctx, symbols, cmd.Timestamp("start"), cmd.Timestamp("end"), benchmark)
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
