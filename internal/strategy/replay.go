package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/panya30/MaxTrade-sub000/internal/backtester"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"go.uber.org/zap"
)

// DateLayout is the key format of a replay file
const DateLayout = "2006-01-02"

// ReplayStrategy replays precomputed signals keyed by trading date. Signals
// in a file may mix the action, direction and canonical shapes.
type ReplayStrategy struct {
	logger  *zap.Logger
	signals map[string][]types.RawSignal
}

// NewReplayStrategy creates a replay over signals keyed by DateLayout dates
func NewReplayStrategy(logger *zap.Logger, signals map[string][]types.RawSignal) *ReplayStrategy {
	if signals == nil {
		signals = make(map[string][]types.RawSignal)
	}
	return &ReplayStrategy{logger: logger, signals: signals}
}

// ParseReplay decodes a JSON object of {"2024-01-02": [signal, ...]}
func ParseReplay(logger *zap.Logger, raw []byte) (*ReplayStrategy, error) {
	var byDate map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byDate); err != nil {
		return nil, fmt.Errorf("failed to parse replay file: %w", err)
	}

	signals := make(map[string][]types.RawSignal, len(byDate))
	for date, items := range byDate {
		if _, err := time.Parse(DateLayout, date); err != nil {
			return nil, fmt.Errorf("invalid replay date %q: %w", date, err)
		}
		decoded, err := types.DecodeRawSignals(items)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", date, err)
		}
		signals[date] = decoded
	}
	return NewReplayStrategy(logger, signals), nil
}

// LoadReplay reads a replay file from disk
func LoadReplay(logger *zap.Logger, path string) (*ReplayStrategy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay file: %w", err)
	}
	return ParseReplay(logger, raw)
}

func (s *ReplayStrategy) Name() string { return ReplayName }
func (s *ReplayStrategy) Description() string {
	return "Replays recorded signals from a file keyed by date"
}

func (s *ReplayStrategy) Parameters() map[string]any {
	dates := make([]string, 0, len(s.signals))
	for date := range s.signals {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return map[string]any{"dates": dates}
}

// Configure rejects every parameter; a replay is fully defined by its file
func (s *ReplayStrategy) Configure(params map[string]any) error {
	if len(params) > 0 {
		return fmt.Errorf("invalid parameters: %s takes no parameters", ReplayName)
	}
	return nil
}

func (s *ReplayStrategy) Generator() backtester.SignalGenerator {
	return func(date time.Time, _ types.PriceSnapshot) []types.RawSignal {
		signals := s.signals[date.UTC().Format(DateLayout)]
		out := make([]types.RawSignal, len(signals))
		copy(out, signals)
		return out
	}
}
