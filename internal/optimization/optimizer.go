// Package optimization searches strategy parameter spaces by running
// backtests in parallel, with optional walk-forward validation.
package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/panya30/MaxTrade-sub000/internal/strategy"
	"github.com/panya30/MaxTrade-sub000/internal/workers"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"go.uber.org/zap"
)

var (
	// ErrNoCandidates is returned when no parameter set could be evaluated
	ErrNoCandidates = errors.New("no parameter set could be evaluated")
	// ErrNotEnoughData is returned when a walk-forward fold would be empty
	ErrNotEnoughData = errors.New("not enough trading dates for walk-forward folds")
)

// Method selects how candidates are generated
type Method string

const (
	MethodGrid   Method = "grid"
	MethodRandom Method = "random"
)

// Objective names the metric being maximized
type Objective string

const (
	ObjectiveSharpe   Objective = "sharpe"
	ObjectiveSortino  Objective = "sortino"
	ObjectiveCalmar   Objective = "calmar"
	ObjectiveReturn   Objective = "return"
	ObjectiveDrawdown Objective = "drawdown" // maximizes -MaxDrawdown
)

// Score extracts the objective from a run's metrics; higher is better
func (o Objective) Score(m types.PerformanceMetrics) (float64, error) {
	switch o {
	case ObjectiveSharpe:
		return m.SharpeRatio, nil
	case ObjectiveSortino:
		return m.SortinoRatio, nil
	case ObjectiveCalmar:
		return m.CalmarRatio, nil
	case ObjectiveReturn:
		return m.TotalReturnPercent, nil
	case ObjectiveDrawdown:
		return -m.MaxDrawdown, nil
	default:
		return 0, fmt.Errorf("unknown objective %q", o)
	}
}

// Config configures the optimizer
type Config struct {
	Method    Method    `json:"method" yaml:"method" validate:"oneof=grid random"`
	Objective Objective `json:"objective" yaml:"objective" validate:"oneof=sharpe sortino calmar return drawdown"`

	// Grid search: steps per continuous parameter without an explicit Step
	GridResolution int `json:"gridResolution" yaml:"gridResolution" validate:"gte=1"`

	// Random search
	Iterations int   `json:"iterations" yaml:"iterations" validate:"gte=1"`
	Seed       int64 `json:"seed" yaml:"seed"`

	// Walk-forward
	InSamplePct float64 `json:"inSamplePct" yaml:"inSamplePct" validate:"gt=0,lt=1"`
	NumFolds    int     `json:"numFolds" yaml:"numFolds" validate:"gte=1"`
	Anchored    bool    `json:"anchored" yaml:"anchored"` // In-sample windows all start at the first date
}

// DefaultConfig returns a grid search on the Sharpe ratio
func DefaultConfig() Config {
	return Config{
		Method:         MethodGrid,
		Objective:      ObjectiveSharpe,
		GridResolution: 10,
		Iterations:     100,
		InSamplePct:    0.7,
		NumFolds:       4,
	}
}

// ParamType represents parameter type
type ParamType string

const (
	ParamTypeContinuous ParamType = "continuous"
	ParamTypeInteger    ParamType = "integer"
	ParamTypeDiscrete   ParamType = "discrete"
)

// Parameter is one dimension of the search space
type Parameter struct {
	Name     string    `json:"name" yaml:"name" validate:"required"`
	Type     ParamType `json:"type" yaml:"type" validate:"oneof=continuous integer discrete"`
	Min      float64   `json:"min" yaml:"min"`
	Max      float64   `json:"max" yaml:"max" validate:"gtefield=Min"`
	Step     float64   `json:"step,omitempty" yaml:"step,omitempty" validate:"gte=0"`
	Discrete []float64 `json:"discrete,omitempty" yaml:"discrete,omitempty"`
}

// ParamSet represents a set of parameter values
type ParamSet map[string]float64

// Request describes one optimization
type Request struct {
	Strategy   string
	Parameters []Parameter
	Config     types.BacktestConfig
	Data       types.BacktestData
}

// Evaluation is the outcome of one candidate
type Evaluation struct {
	Params ParamSet `json:"params" yaml:"params"`
	Score  float64  `json:"score" yaml:"score"`
	Trades int      `json:"trades" yaml:"trades"`
	Error  string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Fold is one walk-forward window
type Fold struct {
	Number         int       `json:"number" yaml:"number"`
	InSampleStart  time.Time `json:"inSampleStart" yaml:"inSampleStart"`
	InSampleEnd    time.Time `json:"inSampleEnd" yaml:"inSampleEnd"`
	OutSampleStart time.Time `json:"outSampleStart" yaml:"outSampleStart"`
	OutSampleEnd   time.Time `json:"outSampleEnd" yaml:"outSampleEnd"`
	Params         ParamSet  `json:"params" yaml:"params"`
	InSampleScore  float64   `json:"inSampleScore" yaml:"inSampleScore"`
	OutSampleScore float64   `json:"outSampleScore" yaml:"outSampleScore"`
}

// Result contains optimization results
type Result struct {
	Method      Method        `json:"method" yaml:"method"`
	Objective   Objective     `json:"objective" yaml:"objective"`
	BestParams  ParamSet      `json:"bestParams" yaml:"bestParams"`
	BestScore   float64       `json:"bestScore" yaml:"bestScore"`
	Evaluations []Evaluation  `json:"evaluations" yaml:"evaluations"`
	Duration    time.Duration `json:"duration" yaml:"duration"`

	// Walk-forward only
	Folds            []Fold  `json:"folds,omitempty" yaml:"folds,omitempty"`
	OutOfSampleScore float64 `json:"outOfSampleScore,omitempty" yaml:"outOfSampleScore,omitempty"`
	Degradation      float64 `json:"degradation,omitempty" yaml:"degradation,omitempty"` // (IS - OOS) / |IS|
}

// Optimizer evaluates candidate parameter sets on a batch runner
type Optimizer struct {
	logger   *zap.Logger
	config   Config
	registry *strategy.Registry
	runner   *workers.BatchRunner
	validate *validator.Validate
}

// NewOptimizer creates an optimizer; the config is validated by each call
func NewOptimizer(logger *zap.Logger, config Config, registry *strategy.Registry, runner *workers.BatchRunner) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		logger:   logger.Named("optimizer"),
		config:   config,
		registry: registry,
		runner:   runner,
		validate: validator.New(),
	}
}

// Optimize searches the whole data range
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if err := o.check(req); err != nil {
		return nil, err
	}

	result, err := o.search(ctx, req, req.Data)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

// WalkForward splits the trading dates into folds, optimizes on each
// in-sample window and scores the winner on the following out-of-sample window.
func (o *Optimizer) WalkForward(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if err := o.check(req); err != nil {
		return nil, err
	}

	dates := tradingDates(req.Data)
	foldSize := len(dates) / o.config.NumFolds
	if foldSize < 2 {
		return nil, fmt.Errorf("%w: %d dates for %d folds", ErrNotEnoughData, len(dates), o.config.NumFolds)
	}
	isLen := int(float64(foldSize) * o.config.InSamplePct)
	isLen = max(1, min(isLen, foldSize-1))

	result := &Result{
		Method:    o.config.Method,
		Objective: o.config.Objective,
	}
	var totalIS, totalOOS float64

	for f := 0; f < o.config.NumFolds; f++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		foldStart := f * foldSize
		foldEnd := foldStart + foldSize - 1
		if f == o.config.NumFolds-1 {
			foldEnd = len(dates) - 1
		}
		isStart := foldStart
		if o.config.Anchored {
			isStart = 0
		}
		isEnd := foldStart + isLen - 1

		fold := Fold{
			Number:         f + 1,
			InSampleStart:  dates[isStart],
			InSampleEnd:    dates[isEnd],
			OutSampleStart: dates[isEnd+1],
			OutSampleEnd:   dates[foldEnd],
		}

		o.logger.Info("Walk-forward fold",
			zap.Int("fold", fold.Number),
			zap.Time("isStart", fold.InSampleStart),
			zap.Time("isEnd", fold.InSampleEnd),
			zap.Time("oosStart", fold.OutSampleStart),
			zap.Time("oosEnd", fold.OutSampleEnd),
		)

		inSample, err := o.search(ctx, req, sliceData(req.Data, fold.InSampleStart, fold.InSampleEnd))
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", fold.Number, err)
		}
		oos := o.evaluate(ctx, req, sliceData(req.Data, fold.OutSampleStart, fold.OutSampleEnd), []ParamSet{inSample.BestParams})[0]
		if oos.Error != "" {
			return nil, fmt.Errorf("fold %d out-of-sample: %s", fold.Number, oos.Error)
		}

		fold.Params = inSample.BestParams
		fold.InSampleScore = inSample.BestScore
		fold.OutSampleScore = oos.Score
		result.Folds = append(result.Folds, fold)
		result.Evaluations = append(result.Evaluations, inSample.Evaluations...)

		totalIS += fold.InSampleScore
		totalOOS += fold.OutSampleScore
	}

	n := float64(len(result.Folds))
	avgIS, avgOOS := totalIS/n, totalOOS/n
	result.OutOfSampleScore = avgOOS
	if avgIS != 0 {
		result.Degradation = (avgIS - avgOOS) / math.Abs(avgIS)
	}

	last := result.Folds[len(result.Folds)-1]
	result.BestParams = last.Params
	result.BestScore = last.OutSampleScore
	result.Duration = time.Since(start)

	o.logger.Info("Walk-forward optimization complete",
		zap.Float64("avgInSample", avgIS),
		zap.Float64("avgOutOfSample", avgOOS),
		zap.Float64("degradation", result.Degradation),
	)
	return result, nil
}

func (o *Optimizer) check(req Request) error {
	if err := o.validate.Struct(o.config); err != nil {
		return fmt.Errorf("invalid optimizer config: %w", err)
	}
	if len(req.Parameters) == 0 {
		return errors.New("no parameters to optimize")
	}
	for _, p := range req.Parameters {
		if err := o.validate.Struct(p); err != nil {
			return fmt.Errorf("invalid parameter %s: %w", p.Name, err)
		}
		if p.Type == ParamTypeDiscrete && len(p.Discrete) == 0 {
			return fmt.Errorf("invalid parameter %s: no discrete values", p.Name)
		}
	}
	if _, err := o.registry.Create(req.Strategy, nil); err != nil {
		return err
	}
	return nil
}

// search evaluates every candidate on data and keeps the best
func (o *Optimizer) search(ctx context.Context, req Request, data types.BacktestData) (*Result, error) {
	var candidates []ParamSet
	switch o.config.Method {
	case MethodRandom:
		candidates = o.randomCandidates(req.Parameters)
	default:
		candidates = o.gridCandidates(req.Parameters)
	}

	o.logger.Info("Starting parameter search",
		zap.String("strategy", req.Strategy),
		zap.String("method", string(o.config.Method)),
		zap.Int("candidates", len(candidates)),
	)

	result := &Result{
		Method:      o.config.Method,
		Objective:   o.config.Objective,
		BestScore:   math.Inf(-1),
		Evaluations: o.evaluate(ctx, req, data, candidates),
	}
	for _, ev := range result.Evaluations {
		if ev.Error == "" && ev.Score > result.BestScore {
			result.BestScore = ev.Score
			result.BestParams = ev.Params
		}
	}
	if result.BestParams == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoCandidates
	}
	return result, nil
}

// evaluate runs one backtest per candidate, in candidate order
func (o *Optimizer) evaluate(ctx context.Context, req Request, data types.BacktestData, candidates []ParamSet) []Evaluation {
	evals := make([]Evaluation, len(candidates))
	jobs := make([]workers.Job, 0, len(candidates))
	index := make([]int, 0, len(candidates))

	for i, params := range candidates {
		evals[i].Params = params
		strat, err := o.registry.Create(req.Strategy, params.toMap(req.Parameters))
		if err != nil {
			evals[i].Error = err.Error()
			continue
		}
		jobs = append(jobs, workers.Job{
			ID:           fmt.Sprintf("candidate_%d", i),
			Config:       req.Config,
			Data:         data,
			NewGenerator: strat.Generator,
		})
		index = append(index, i)
	}

	for j, res := range o.runner.RunBatch(ctx, jobs) {
		ev := &evals[index[j]]
		if res.Err != nil {
			ev.Error = res.Err.Error()
			continue
		}
		score, err := o.config.Objective.Score(res.Result.Metrics)
		if err != nil {
			ev.Error = err.Error()
			continue
		}
		ev.Score = score
		ev.Trades = res.Result.Metrics.TotalTrades
	}
	return evals
}

// gridCandidates is the Cartesian product of every parameter's grid
func (o *Optimizer) gridCandidates(params []Parameter) []ParamSet {
	grids := make([][]float64, len(params))
	for i, p := range params {
		grids[i] = o.gridValues(p)
	}

	combos := []ParamSet{{}}
	for i, p := range params {
		next := make([]ParamSet, 0, len(combos)*len(grids[i]))
		for _, c := range combos {
			for _, v := range grids[i] {
				set := make(ParamSet, len(c)+1)
				for k, cv := range c {
					set[k] = cv
				}
				set[p.Name] = v
				next = append(next, set)
			}
		}
		combos = next
	}
	return combos
}

func (o *Optimizer) gridValues(p Parameter) []float64 {
	if p.Type == ParamTypeDiscrete {
		return p.Discrete
	}

	step := p.Step
	if step == 0 {
		if p.Type == ParamTypeInteger {
			step = 1
		} else {
			step = (p.Max - p.Min) / float64(o.config.GridResolution)
		}
	}
	if step == 0 {
		return []float64{p.Min}
	}

	n := int(math.Floor((p.Max-p.Min)/step+1e-9)) + 1
	values := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v := p.Min + float64(i)*step
		if p.Type == ParamTypeInteger {
			v = math.Round(v)
		} else {
			v = math.Round(v*1e9) / 1e9
		}
		values = append(values, v)
	}
	return values
}

// randomCandidates draws Iterations sets from a generator seeded by Seed
func (o *Optimizer) randomCandidates(params []Parameter) []ParamSet {
	rng := rand.New(rand.NewSource(o.config.Seed))
	sets := make([]ParamSet, o.config.Iterations)
	for i := range sets {
		set := make(ParamSet, len(params))
		for _, p := range params {
			switch p.Type {
			case ParamTypeDiscrete:
				set[p.Name] = p.Discrete[rng.Intn(len(p.Discrete))]
			case ParamTypeInteger:
				lo, hi := int(math.Ceil(p.Min)), int(math.Floor(p.Max))
				set[p.Name] = float64(lo + rng.Intn(max(1, hi-lo+1)))
			default:
				set[p.Name] = p.Min + rng.Float64()*(p.Max-p.Min)
			}
		}
		sets[i] = set
	}
	return sets
}

// toMap converts to strategy parameters, passing integer dimensions as ints
func (s ParamSet) toMap(params []Parameter) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v
	}
	for _, p := range params {
		if v, ok := s[p.Name]; ok && p.Type == ParamTypeInteger {
			out[p.Name] = int(v)
		}
	}
	return out
}

// tradingDates is the sorted union of bar dates across symbols
func tradingDates(data types.BacktestData) []time.Time {
	seen := make(map[int64]time.Time)
	for _, bars := range data.Prices {
		for _, b := range bars {
			seen[b.Timestamp.Unix()] = b.Timestamp
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// sliceData keeps the bars in [start, end]
func sliceData(data types.BacktestData, start, end time.Time) types.BacktestData {
	out := types.BacktestData{
		Symbols:   data.Symbols,
		Prices:    make(map[string][]types.OHLCV, len(data.Prices)),
		StartDate: start,
		EndDate:   end,
		Benchmark: within(data.Benchmark, start, end),
	}
	for symbol, bars := range data.Prices {
		out.Prices[symbol] = within(bars, start, end)
	}
	return out
}

func within(bars []types.OHLCV, start, end time.Time) []types.OHLCV {
	if bars == nil {
		return nil
	}
	out := make([]types.OHLCV, 0, len(bars))
	for _, b := range bars {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out
}
