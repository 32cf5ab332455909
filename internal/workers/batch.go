package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panya30/MaxTrade-sub000/internal/backtester"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"go.uber.org/zap"
)

// Job is one backtest in a batch. NewGenerator is called once per job so
// stateful strategies never share state between runs; a nil NewGenerator
// runs the job without signals.
type Job struct {
	ID           string
	Config       types.BacktestConfig
	Data         types.BacktestData
	NewGenerator func() backtester.SignalGenerator
}

// JobResult is the outcome of one Job
type JobResult struct {
	ID       string                `json:"id"`
	Result   *types.BacktestResult `json:"result,omitempty"`
	Err      error                 `json:"-"`
	Duration time.Duration         `json:"duration"`
}

// BatchRunner runs independent backtests on a pool, one engine per job
type BatchRunner struct {
	logger *zap.Logger
	pool   *Pool
	opts   []backtester.Option
}

// NewBatchRunner creates a runner on a started pool. opts are applied to
// every engine it builds.
func NewBatchRunner(logger *zap.Logger, pool *Pool, opts ...backtester.Option) *BatchRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchRunner{
		logger: logger.Named("batch"),
		pool:   pool,
		opts:   opts,
	}
}

// RunJob runs a single job on the calling goroutine
func (b *BatchRunner) RunJob(ctx context.Context, job Job) JobResult {
	start := time.Now()
	res := JobResult{ID: job.ID}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	var generate backtester.SignalGenerator
	if job.NewGenerator != nil {
		generate = job.NewGenerator()
	}

	engine := backtester.NewEngine(b.logger.With(zap.String("job", job.ID)), job.Config, b.opts...)
	res.Result = engine.Run(job.Data, generate)
	res.Duration = time.Since(start)
	return res
}

// RunBatch runs every job and returns results in job order. A job that
// panics or cannot be scheduled reports its error without affecting the others.
func (b *BatchRunner) RunBatch(ctx context.Context, jobs []Job) []JobResult {
	results := make([]JobResult, len(jobs))

	b.logger.Info("Starting batch", zap.Int("jobs", len(jobs)))

	var wg sync.WaitGroup
	for i, job := range jobs {
		i, job := i, job // per-iteration copies (go directive is 1.21)
		results[i].ID = job.ID
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}

		wg.Add(1)
		task := TaskFunc(func(taskCtx context.Context) (err error) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Recovered: r}
					results[i].Err = fmt.Errorf("job %s: %w", job.ID, err)
				}
			}()
			results[i] = b.RunJob(taskCtx, job)
			return results[i].Err
		})

		if err := b.pool.SubmitContext(ctx, task); err != nil {
			results[i].Err = fmt.Errorf("failed to schedule job %s: %w", job.ID, err)
			wg.Done()
		}
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	b.logger.Info("Batch completed",
		zap.Int("jobs", len(jobs)),
		zap.Int("failed", failed),
	)
	return results
}
