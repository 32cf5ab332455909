package strategy

import (
	"math"
	"time"

	"github.com/panya30/MaxTrade-sub000/internal/backtester"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/panya30/MaxTrade-sub000/pkg/utils"
	"go.uber.org/zap"
)

// MeanReversionParams configures MeanReversionStrategy
type MeanReversionParams struct {
	Period     int     `mapstructure:"period" validate:"gte=3,lte=250"`
	StdDevMult float64 `mapstructure:"stdDevMult" validate:"gt=0,lte=5"`
}

// MeanReversionStrategy goes long below the lower Bollinger band and short
// above the upper band. It emits direction-shaped signals whose strength
// grows with the distance from the mean.
type MeanReversionStrategy struct {
	logger *zap.Logger
	params MeanReversionParams
}

// NewMeanReversionStrategy creates a mean reversion strategy with default parameters
func NewMeanReversionStrategy(logger *zap.Logger) *MeanReversionStrategy {
	return &MeanReversionStrategy{
		logger: logger,
		params: MeanReversionParams{Period: 20, StdDevMult: 2},
	}
}

func (s *MeanReversionStrategy) Name() string { return MeanReversionName }
func (s *MeanReversionStrategy) Description() string {
	return "Trades when price deviates from moving average by multiple standard deviations"
}
func (s *MeanReversionStrategy) Parameters() map[string]any { return encodeParams(s.params) }

func (s *MeanReversionStrategy) Configure(params map[string]any) error {
	next := s.params
	if err := decodeParams(params, &next); err != nil {
		return err
	}
	s.params = next
	return nil
}

func (s *MeanReversionStrategy) Generator() backtester.SignalGenerator {
	p := s.params
	history := newCloseHistory(p.Period)

	return func(date time.Time, snapshot types.PriceSnapshot) []types.RawSignal {
		history.add(snapshot)

		var signals []types.RawSignal
		for _, symbol := range sortedSymbols(snapshot) {
			closes := history.closes(symbol)
			if len(closes) < p.Period {
				continue
			}
			mean := utils.Mean(closes)
			std := utils.StdDev(closes)
			if std <= 0 {
				continue
			}
			current := closes[len(closes)-1]
			z := (current - mean) / std

			var direction types.SignalDirection
			switch {
			case z < -p.StdDevMult:
				direction = types.DirectionLong
			case z > p.StdDevMult:
				direction = types.DirectionShort
			default:
				continue
			}
			signals = append(signals, types.DirectionSignal{
				Symbol:    symbol,
				Direction: direction,
				Strength:  math.Min(1, math.Abs(z)/(2*p.StdDevMult)),
				Factors:   map[string]float64{"zScore": z, "sma": mean},
				Timestamp: date,
			})
		}
		return signals
	}
}
