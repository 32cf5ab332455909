// Package main is the command-line front end for running backtests against
// the local data store.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/panya30/MaxTrade-sub000/internal/optimization"
	"github.com/panya30/MaxTrade-sub000/internal/strategy"
	"github.com/urfave/cli/v3"
)

var dateLayouts = cli.TimestampConfig{Layouts: []string{strategy.DateLayout}}

func newApp() *cli.Command {
	dataFlag := &cli.StringFlag{
		Name:    "data",
		Aliases: []string{"d"},
		Usage:   "Path to the data directory",
		Value:   "data",
	}
	symbolsFlag := &cli.StringSliceFlag{
		Name:    "symbols",
		Aliases: []string{"s"},
		Usage:   "Symbols to trade; defaults to every stored symbol except the benchmark",
	}
	formatFlag := &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format (json, yaml)",
		Value:   "json",
	}
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Backtest config file (yaml, json or toml)",
	}
	rangeFlags := []cli.Flag{
		&cli.TimestampFlag{
			Name:   "start",
			Usage:  "First date in `YYYY-MM-DD` format",
			Config: dateLayouts,
		},
		&cli.TimestampFlag{
			Name:   "end",
			Usage:  "Last date in `YYYY-MM-DD` format",
			Config: dateLayouts,
		},
		&cli.StringFlag{
			Name:    "benchmark",
			Aliases: []string{"b"},
			Usage:   "Benchmark symbol the equity curve is compared against",
		},
	}

	return &cli.Command{
		Name:  "backtest",
		Usage: "Run and inspect strategy backtests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "warn",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Backtest one strategy",
				Flags: append([]cli.Flag{
					configFlag,
					dataFlag,
					symbolsFlag,
					formatFlag,
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "Strategy name, or \"replay\" with --signals",
						Value: strategy.BuyAndHoldName,
					},
					&cli.StringMapFlag{
						Name:    "param",
						Aliases: []string{"p"},
						Usage:   "Strategy parameter as `name=value`; repeatable",
					},
					&cli.StringFlag{
						Name:  "signals",
						Usage: "Replay file of signals keyed by date",
					},
					&cli.IntFlag{
						Name:  "montecarlo",
						Usage: "Monte Carlo iterations over the closed trades; 0 disables",
					},
					&cli.IntFlag{
						Name:  "seed",
						Usage: "Monte Carlo seed",
					},
					&cli.BoolFlag{
						Name:  "full",
						Usage: "Include trades and the equity curve (json only)",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the report to a file instead of stdout",
					},
				}, rangeFlags...),
				Action: runAction,
			},
			{
				Name:  "compare",
				Usage: "Backtest several strategies in parallel on the same data",
				Flags: append([]cli.Flag{
					configFlag,
					dataFlag,
					symbolsFlag,
					formatFlag,
					&cli.StringSliceFlag{
						Name:  "strategies",
						Usage: "Strategies to compare; defaults to every registered strategy",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Parallel runs; 0 uses one per CPU",
					},
				}, rangeFlags...),
				Action: compareAction,
			},
			{
				Name:  "optimize",
				Usage: "Search a strategy's parameter space, optionally walk-forward",
				Flags: append([]cli.Flag{
					configFlag,
					dataFlag,
					symbolsFlag,
					formatFlag,
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "Strategy to optimize",
						Value: strategy.MomentumName,
					},
					&cli.StringMapFlag{
						Name:    "range",
						Aliases: []string{"r"},
						Usage:   "Search range as `name=min:max[:step]`; a decimal point makes it continuous",
					},
					&cli.StringMapFlag{
						Name:  "choices",
						Usage: "Discrete values as `name=a|b|c`",
					},
					&cli.StringFlag{
						Name:  "method",
						Usage: "Search method (grid, random)",
						Value: string(optimization.MethodGrid),
					},
					&cli.StringFlag{
						Name:  "objective",
						Usage: "Metric to maximize (sharpe, sortino, calmar, return, drawdown)",
						Value: string(optimization.ObjectiveSharpe),
					},
					&cli.IntFlag{
						Name:  "iterations",
						Usage: "Random search samples",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "seed",
						Usage: "Random search seed",
					},
					&cli.BoolFlag{
						Name:  "walk-forward",
						Usage: "Validate on rolling out-of-sample windows",
					},
					&cli.IntFlag{
						Name:  "folds",
						Usage: "Walk-forward folds",
						Value: 4,
					},
					&cli.FloatFlag{
						Name:  "in-sample",
						Usage: "Fraction of each fold used for fitting",
						Value: 0.7,
					},
					&cli.BoolFlag{
						Name:  "anchored",
						Usage: "Start every in-sample window at the first date",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Parallel runs; 0 uses one per CPU",
					},
				}, rangeFlags...),
				Action: optimizeAction,
			},
			{
				Name:   "strategies",
				Usage:  "List registered strategies and their default parameters",
				Flags:  []cli.Flag{formatFlag},
				Action: strategiesAction,
			},
			{
				Name:  "generate",
				Usage: "Write synthetic daily series into the data directory",
				Flags: []cli.Flag{
					dataFlag,
					&cli.StringSliceFlag{
						Name:     "symbols",
						Aliases:  []string{"s"},
						Usage:    "Symbols to generate",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "days",
						Usage: "Trading days per series",
						Value: 252,
					},
					&cli.IntFlag{
						Name:  "seed",
						Usage: "Seed of the first symbol; each following symbol adds one",
						Value: 1,
					},
					&cli.TimestampFlag{
						Name:   "start",
						Usage:  "First date in `YYYY-MM-DD` format",
						Value:  time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
						Config: dateLayouts,
					},
				},
				Action: generateAction,
			},
			{
				Name:   "validate",
				Usage:  "Report data quality issues for stored series",
				Flags:  []cli.Flag{dataFlag, symbolsFlag, formatFlag},
				Action: validateAction,
			},
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
