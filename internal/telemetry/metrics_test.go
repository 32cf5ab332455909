package telemetry_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/panya30/MaxTrade-sub000/internal/backtester"
	"github.com/panya30/MaxTrade-sub000/internal/telemetry"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func scrape(t *testing.T, rec *telemetry.Recorder) string {
	t.Helper()
	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorderExportsCounters(t *testing.T) {
	rec := telemetry.NewRecorder()

	rec.RunStarted()
	rec.TradeExecuted(types.OrderSideBuy)
	rec.TradeExecuted(types.OrderSideBuy)
	rec.TradeExecuted(types.OrderSideSell)
	rec.OrderRejected(backtester.RejectNoPrice)
	rec.RunCompleted(20*time.Millisecond, 101234.5)

	body := scrape(t, rec)
	assert.Contains(t, body, "backtest_runs_total 1")
	assert.Contains(t, body, "backtest_runs_active 0")
	assert.Contains(t, body, `backtest_trades_total{side="buy"} 2`)
	assert.Contains(t, body, `backtest_trades_total{side="sell"} 1`)
	assert.Contains(t, body, `backtest_orders_rejected_total{reason="`+backtester.RejectNoPrice+`"} 1`)
	assert.Contains(t, body, "backtest_run_duration_seconds_count 1")
	assert.Contains(t, body, "backtest_last_final_equity 101234.5")
}

func TestRecorderThroughEngine(t *testing.T) {
	rec := telemetry.NewRecorder()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := []types.OHLCV{
		{Timestamp: start, Close: decimal.NewFromInt(100)},
		{Timestamp: start.AddDate(0, 0, 1), Close: decimal.NewFromInt(110)},
	}

	engine := backtester.NewEngine(zap.NewNop(), types.DefaultBacktestConfig(), backtester.WithRecorder(rec))
	engine.Run(types.BacktestData{
		Symbols: []string{"AAA"},
		Prices:  map[string][]types.OHLCV{"AAA": bars},
	}, func(time.Time, types.PriceSnapshot) []types.RawSignal {
		return []types.RawSignal{
			types.ActionSignal{Symbol: "AAA", Action: types.ActionBuy, Confidence: 1},
			types.ActionSignal{Symbol: "ZZZ", Action: types.ActionBuy, Confidence: 0.5},
		}
	})

	body := scrape(t, rec)
	assert.Contains(t, body, "backtest_runs_total 1")
	assert.Contains(t, body, `backtest_trades_total{side="sell"} 1`)
	assert.Contains(t, body, `backtest_orders_rejected_total{reason="`+backtester.RejectNoPrice+`"} 2`)
}
