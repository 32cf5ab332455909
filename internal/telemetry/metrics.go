// Package telemetry exports backtest engine activity as Prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "backtest"

// Recorder implements backtester.Recorder on a Prometheus registry. It is
// safe for concurrent runs.
type Recorder struct {
	registry    *prometheus.Registry
	runs        prometheus.Counter
	active      prometheus.Gauge
	trades      *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	duration    prometheus.Histogram
	finalEquity prometheus.Gauge
}

// NewRecorder registers the engine metrics on a fresh registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Number of backtest runs started.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of backtest runs in progress.",
		}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Number of simulated fills by side.",
		}, []string{"side"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Number of signals that did not produce a fill, by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of backtest runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		finalEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_final_equity",
			Help:      "Final equity of the most recently completed run.",
		}),
	}

	r.registry.MustRegister(
		r.runs,
		r.active,
		r.trades,
		r.rejections,
		r.duration,
		r.finalEquity,
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) RunStarted() {
	r.runs.Inc()
	r.active.Inc()
}

func (r *Recorder) TradeExecuted(side types.OrderSide) {
	r.trades.WithLabelValues(string(side)).Inc()
}

func (r *Recorder) OrderRejected(reason string) {
	r.rejections.WithLabelValues(reason).Inc()
}

func (r *Recorder) RunCompleted(elapsed time.Duration, finalEquity float64) {
	r.active.Dec()
	r.duration.Observe(elapsed.Seconds())
	r.finalEquity.Set(finalEquity)
}

// Registry exposes the underlying registry for additional collectors
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
