// Package data provides market data storage and loading.
package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/panya30/MaxTrade-sub000/pkg/utils"
	"go.uber.org/zap"
)

// ErrNoData is returned when a symbol has no stored series
var ErrNoData = errors.New("no data available")

const (
	fileSuffix   = "_1d.json"
	metadataFile = "metadata.json"
)

// Store provides access to historical daily bars kept as JSON files
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	quality  *QualityChecker
	cache    map[string][]types.OHLCV
	metadata map[string]*SymbolMetadata
}

// SymbolMetadata contains metadata about available data for a symbol
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
}

// NewStore creates a new data store rooted at dataDir
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &Store{
		logger:   logger.Named("store"),
		dataDir:  dataDir,
		quality:  NewQualityChecker(logger),
		cache:    make(map[string][]types.OHLCV),
		metadata: make(map[string]*SymbolMetadata),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		store.logger.Warn("Failed to load metadata", zap.Error(err))
	}

	return store, nil
}

// LoadOHLCV loads the bars of a symbol within [start, end]. A zero start or
// end leaves that side unbounded. Loaded series are cleaned and cached.
func (s *Store) LoadOHLCV(ctx context.Context, symbol string, start, end time.Time) ([]types.OHLCV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = utils.FormatSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[symbol]; ok {
		return filterByTimeRange(cached, start, end), nil
	}

	raw, err := os.ReadFile(s.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w for %s", ErrNoData, symbol)
		}
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var bars []types.OHLCV
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse data for %s: %w", symbol, err)
	}

	bars = s.quality.Clean(symbol, bars)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}
	s.cache[symbol] = bars

	return filterByTimeRange(bars, start, end), nil
}

// SaveOHLCV writes the bars of a symbol to disk and refreshes the cache
func (s *Store) SaveOHLCV(symbol string, bars []types.OHLCV) error {
	symbol = utils.FormatSymbol(symbol)
	bars = s.quality.Clean(symbol, bars)

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := os.WriteFile(s.path(symbol), raw, 0644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	s.cache[symbol] = bars
	if len(bars) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartDate: bars[0].Timestamp,
			EndDate:   bars[len(bars)-1].Timestamp,
			BarCount:  len(bars),
		}
	}

	return s.saveMetadata()
}

// LoadBacktestData assembles the input of one run. Every symbol must have
// data; the benchmark is optional and a missing benchmark is only logged.
func (s *Store) LoadBacktestData(ctx context.Context, symbols []string, start, end time.Time, benchmark string) (types.BacktestData, error) {
	data := types.BacktestData{
		Symbols:   make([]string, 0, len(symbols)),
		Prices:    make(map[string][]types.OHLCV, len(symbols)),
		StartDate: start,
		EndDate:   end,
	}

	for _, symbol := range symbols {
		bars, err := s.LoadOHLCV(ctx, symbol, start, end)
		if err != nil {
			return data, fmt.Errorf("failed to load %s: %w", symbol, err)
		}
		symbol = utils.FormatSymbol(symbol)
		data.Symbols = append(data.Symbols, symbol)
		data.Prices[symbol] = bars
	}

	if benchmark != "" {
		bars, err := s.LoadOHLCV(ctx, benchmark, start, end)
		if err != nil {
			s.logger.Warn("Benchmark unavailable",
				zap.String("benchmark", benchmark),
				zap.Error(err),
			)
		} else {
			data.Benchmark = bars
		}
	}

	s.logger.Debug("Loaded backtest data",
		zap.Strings("symbols", data.Symbols),
		zap.Bool("benchmark", len(data.Benchmark) > 0),
	)
	return data, nil
}

// Validate loads a symbol's raw file order and reports its quality
func (s *Store) Validate(ctx context.Context, symbol string) (*QualityReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = utils.FormatSymbol(symbol)

	raw, err := os.ReadFile(s.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w for %s", ErrNoData, symbol)
		}
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	var bars []types.OHLCV
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse data for %s: %w", symbol, err)
	}
	return s.quality.Validate(symbol, bars), nil
}

// GetAvailableSymbols returns every symbol with a data file, sorted
func (s *Store) GetAvailableSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.metadata))
	for symbol := range s.metadata {
		seen[symbol] = true
	}
	if entries, err := os.ReadDir(s.dataDir); err == nil {
		for _, entry := range entries {
			name := entry.Name()
			if !entry.IsDir() && strings.HasSuffix(name, fileSuffix) {
				seen[strings.TrimSuffix(name, fileSuffix)] = true
			}
		}
	}

	symbols := make([]string, 0, len(seen))
	for symbol := range seen {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// GetDataRange returns the stored date range for a symbol
func (s *Store) GetDataRange(symbol string) (start, end time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.metadata[utils.FormatSymbol(symbol)]; ok {
		return meta.StartDate, meta.EndDate, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("%w for %s", ErrNoData, symbol)
}

// ClearCache clears the in-memory cache
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[string][]types.OHLCV)
}

// GetCacheSize returns the number of cached series
func (s *Store) GetCacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.cache)
}

func (s *Store) path(symbol string) string {
	return filepath.Join(s.dataDir, symbol+fileSuffix)
}

func (s *Store) loadMetadata() error {
	raw, err := os.ReadFile(filepath.Join(s.dataDir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return err
	}
	if metadata != nil {
		s.metadata = metadata
	}
	return nil
}

func (s *Store) saveMetadata() error {
	raw, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dataDir, metadataFile), raw, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// filterByTimeRange keeps bars within [start, end]; zero bounds are open
func filterByTimeRange(bars []types.OHLCV, start, end time.Time) []types.OHLCV {
	filtered := make([]types.OHLCV, 0, len(bars))
	for _, bar := range bars {
		if !start.IsZero() && bar.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && bar.Timestamp.After(end) {
			continue
		}
		filtered = append(filtered, bar)
	}
	return filtered
}
