package strategy

import (
	"time"

	"github.com/panya30/MaxTrade-sub000/internal/backtester"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"go.uber.org/zap"
)

// BuyAndHoldParams configures BuyAndHoldStrategy
type BuyAndHoldParams struct {
	Confidence float64 `mapstructure:"confidence" validate:"gte=0,lte=1"`
}

// BuyAndHoldStrategy buys every symbol it sees on the first call and never
// trades again. It emits canonical signals.
type BuyAndHoldStrategy struct {
	logger *zap.Logger
	params BuyAndHoldParams
}

// NewBuyAndHoldStrategy creates a buy-and-hold strategy
func NewBuyAndHoldStrategy(logger *zap.Logger) *BuyAndHoldStrategy {
	return &BuyAndHoldStrategy{
		logger: logger,
		params: BuyAndHoldParams{Confidence: 1},
	}
}

func (s *BuyAndHoldStrategy) Name() string { return BuyAndHoldName }
func (s *BuyAndHoldStrategy) Description() string {
	return "Buys every symbol on the first date and holds"
}
func (s *BuyAndHoldStrategy) Parameters() map[string]any { return encodeParams(s.params) }

func (s *BuyAndHoldStrategy) Configure(params map[string]any) error {
	next := s.params
	if err := decodeParams(params, &next); err != nil {
		return err
	}
	s.params = next
	return nil
}

func (s *BuyAndHoldStrategy) Generator() backtester.SignalGenerator {
	confidence := s.params.Confidence
	done := false

	return func(date time.Time, snapshot types.PriceSnapshot) []types.RawSignal {
		if done || len(snapshot) == 0 {
			return nil
		}
		done = true

		signals := make([]types.RawSignal, 0, len(snapshot))
		for _, symbol := range sortedSymbols(snapshot) {
			signals = append(signals, types.Signal{
				Symbol:     symbol,
				Action:     types.ActionBuy,
				Confidence: confidence,
				Strength:   confidence,
				Timestamp:  date,
			})
		}
		return signals
	}
}
