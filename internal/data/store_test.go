// Package data_test provides tests for the data store.
package data_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/panya30/MaxTrade-sub000/internal/data"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func bar(day int, close string) types.OHLCV {
	return types.OHLCV{
		Timestamp: start.AddDate(0, 0, day),
		Close:     decimal.RequireFromString(close),
		Volume:    decimal.NewFromInt(1000),
	}
}

func newStore(t *testing.T) (*data.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := data.NewStore(zap.NewNop(), dir)
	require.NoError(t, err)
	return store, dir
}

func TestStoreSaveAndLoad(t *testing.T) {
	store, dir := newStore(t)

	require.NoError(t, store.SaveOHLCV("aapl", []types.OHLCV{bar(2, "102"), bar(0, "100"), bar(1, "101")}))
	assert.FileExists(t, filepath.Join(dir, "AAPL_1d.json"))

	store.ClearCache()
	bars, err := store.LoadOHLCV(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.True(t, bars[0].Timestamp.Equal(start), "bars are sorted ascending")
	assert.True(t, bars[2].Close.Equal(decimal.NewFromInt(102)))
	assert.True(t, bars[0].High.Equal(bars[0].Close), "missing high is filled from close")
	assert.Equal(t, 1, store.GetCacheSize())

	from, to, err := store.GetDataRange("AAPL")
	require.NoError(t, err)
	assert.True(t, from.Equal(start))
	assert.True(t, to.Equal(start.AddDate(0, 0, 2)))
}

func TestStoreFiltersByTimeRange(t *testing.T) {
	store, _ := newStore(t)
	require.NoError(t, store.SaveOHLCV("MSFT", []types.OHLCV{bar(0, "10"), bar(1, "11"), bar(2, "12"), bar(3, "13")}))

	bars, err := store.LoadOHLCV(context.Background(), "MSFT", start.AddDate(0, 0, 1), start.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Close.Equal(decimal.NewFromInt(11)))

	open, err := store.LoadOHLCV(context.Background(), "MSFT", start.AddDate(0, 0, 2), time.Time{})
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestStoreMissingSymbol(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.LoadOHLCV(context.Background(), "NOPE", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, data.ErrNoData)

	_, _, err = store.GetDataRange("NOPE")
	assert.ErrorIs(t, err, data.ErrNoData)
}

func TestStoreLoadHonorsContext(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.LoadOHLCV(ctx, "AAPL", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoreAvailableSymbolsIncludesLooseFiles(t *testing.T) {
	store, dir := newStore(t)
	require.NoError(t, store.SaveOHLCV("BBB", []types.OHLCV{bar(0, "1")}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAA_1d.json"), []byte(`[{"timestamp":"2024-03-04T00:00:00Z","close":"5"}]`), 0644))

	assert.Equal(t, []string{"AAA", "BBB"}, store.GetAvailableSymbols())

	bars, err := store.LoadOHLCV(context.Background(), "aaa", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "AAA", bars[0].Symbol)
}

func TestStoreMetadataSurvivesReopen(t *testing.T) {
	store, dir := newStore(t)
	require.NoError(t, store.SaveOHLCV("SPY", []types.OHLCV{bar(0, "400"), bar(1, "401")}))

	reopened, err := data.NewStore(zap.NewNop(), dir)
	require.NoError(t, err)
	_, to, err := reopened.GetDataRange("SPY")
	require.NoError(t, err)
	assert.True(t, to.Equal(start.AddDate(0, 0, 1)))
}

func TestLoadBacktestData(t *testing.T) {
	store, _ := newStore(t)
	require.NoError(t, store.SaveOHLCV("AAA", []types.OHLCV{bar(0, "10"), bar(1, "11")}))
	require.NoError(t, store.SaveOHLCV("BBB", []types.OHLCV{bar(0, "20"), bar(1, "21")}))
	require.NoError(t, store.SaveOHLCV("SPY", []types.OHLCV{bar(0, "400"), bar(1, "404")}))

	bt, err := store.LoadBacktestData(context.Background(), []string{"aaa", "BBB"}, time.Time{}, time.Time{}, "SPY")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, bt.Symbols)
	assert.Len(t, bt.Prices["AAA"], 2)
	assert.Len(t, bt.Benchmark, 2)

	noBench, err := store.LoadBacktestData(context.Background(), []string{"AAA"}, time.Time{}, time.Time{}, "QQQ")
	require.NoError(t, err, "a missing benchmark is not fatal")
	assert.Empty(t, noBench.Benchmark)

	_, err = store.LoadBacktestData(context.Background(), []string{"AAA", "ZZZ"}, time.Time{}, time.Time{}, "")
	assert.ErrorIs(t, err, data.ErrNoData)
}

func TestQualityCheckerFlagsProblems(t *testing.T) {
	qc := data.NewQualityChecker(zap.NewNop())
	bars := []types.OHLCV{
		bar(0, "100"),
		bar(2, "101"),
		bar(1, "99"),
		bar(2, "0"),
		bar(30, "250"),
	}

	report := qc.Validate("AAA", bars)
	assert.Equal(t, 5, report.TotalBars)
	assert.False(t, report.IsUsable)

	kinds := map[string]int{}
	for _, issue := range report.Issues {
		kinds[issue.Type]++
	}
	assert.Equal(t, 1, kinds[data.IssueBadClose])
	assert.Equal(t, 1, kinds[data.IssueOutOfOrder])
	assert.Equal(t, 1, kinds[data.IssueDuplicate])
	assert.Equal(t, 1, kinds[data.IssueGap])

	cleaned := qc.Clean("AAA", bars)
	require.Len(t, cleaned, 4)
	for i := 1; i < len(cleaned); i++ {
		assert.True(t, cleaned[i].Timestamp.After(cleaned[i-1].Timestamp))
		assert.True(t, cleaned[i].Close.IsPositive())
	}
}

func TestQualityCheckerCleanSeries(t *testing.T) {
	qc := data.NewQualityChecker(zap.NewNop())

	report := qc.Validate("AAA", []types.OHLCV{bar(0, "100"), bar(1, "101"), bar(2, "102")})
	assert.True(t, report.IsUsable)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 100, report.QualityScore)

	empty := qc.Validate("AAA", nil)
	assert.False(t, empty.IsUsable)
	assert.Equal(t, data.IssueNoData, empty.Issues[0].Type)
}

func TestGenerateSeriesIsDeterministic(t *testing.T) {
	cfg := data.DefaultSyntheticConfig("SYN", 11)
	cfg.Days = 40

	a := data.GenerateSeries(cfg)
	b := data.GenerateSeries(cfg)
	require.Len(t, a, 40)
	assert.Equal(t, a, b)

	for i, bar := range a {
		wd := bar.Timestamp.Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
		assert.True(t, bar.Close.IsPositive())
		assert.True(t, bar.High.GreaterThanOrEqual(bar.Close))
		assert.True(t, bar.Low.LessThanOrEqual(bar.Close))
		if i > 0 {
			assert.True(t, bar.Timestamp.After(a[i-1].Timestamp))
		}
	}

	cfg.Seed = 12
	assert.NotEqual(t, a, data.GenerateSeries(cfg))
}
