package strategy

import (
	"math"
	"sort"
	"time"

	"github.com/panya30/MaxTrade-sub000/internal/backtester"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"go.uber.org/zap"
)

// Built-in strategy names
const (
	MomentumName      = "momentum"
	MeanReversionName = "mean_reversion"
	BuyAndHoldName    = "buy_and_hold"
	ReplayName        = "replay"
)

// MomentumParams configures MomentumStrategy
type MomentumParams struct {
	Period    int     `mapstructure:"period" validate:"gte=2,lte=250"`
	Threshold float64 `mapstructure:"threshold" validate:"gt=0,lt=1"`
}

// MomentumStrategy buys when the close has risen more than Threshold over
// Period bars and sells when it has fallen by as much. It emits
// action-shaped signals.
type MomentumStrategy struct {
	logger *zap.Logger
	params MomentumParams
}

// NewMomentumStrategy creates a momentum strategy with default parameters
func NewMomentumStrategy(logger *zap.Logger) *MomentumStrategy {
	return &MomentumStrategy{
		logger: logger,
		params: MomentumParams{Period: 14, Threshold: 0.02},
	}
}

func (s *MomentumStrategy) Name() string { return MomentumName }
func (s *MomentumStrategy) Description() string {
	return "Trades based on price momentum over a lookback period"
}
func (s *MomentumStrategy) Parameters() map[string]any { return encodeParams(s.params) }

func (s *MomentumStrategy) Configure(params map[string]any) error {
	next := s.params
	if err := decodeParams(params, &next); err != nil {
		return err
	}
	s.params = next
	return nil
}

func (s *MomentumStrategy) Generator() backtester.SignalGenerator {
	p := s.params
	history := newCloseHistory(p.Period + 1)

	return func(date time.Time, snapshot types.PriceSnapshot) []types.RawSignal {
		history.add(snapshot)

		var signals []types.RawSignal
		for _, symbol := range sortedSymbols(snapshot) {
			closes := history.closes(symbol)
			if len(closes) <= p.Period || closes[0] <= 0 {
				continue
			}
			momentum := closes[len(closes)-1]/closes[0] - 1

			var action types.SignalAction
			switch {
			case momentum > p.Threshold:
				action = types.ActionBuy
			case momentum < -p.Threshold:
				action = types.ActionSell
			default:
				continue
			}
			signals = append(signals, types.ActionSignal{
				Symbol:     symbol,
				Action:     action,
				Confidence: math.Min(1, math.Abs(momentum)/(2*p.Threshold)),
				Factors:    map[string]float64{"momentum": momentum},
				Timestamp:  date,
			})
		}
		return signals
	}
}

// closeHistory keeps a bounded window of closes per symbol
type closeHistory struct {
	size   int
	series map[string][]float64
}

func newCloseHistory(size int) *closeHistory {
	return &closeHistory{size: size, series: make(map[string][]float64)}
}

func (h *closeHistory) add(snapshot types.PriceSnapshot) {
	for symbol, bar := range snapshot {
		s := append(h.series[symbol], bar.Close.InexactFloat64())
		if len(s) > h.size {
			s = s[len(s)-h.size:]
		}
		h.series[symbol] = s
	}
}

func (h *closeHistory) closes(symbol string) []float64 {
	return h.series[symbol]
}

func sortedSymbols(snapshot types.PriceSnapshot) []string {
	symbols := make([]string, 0, len(snapshot))
	for symbol := range snapshot {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
