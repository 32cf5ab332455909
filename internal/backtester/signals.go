package backtester

import (
	"math"
	"sort"
	"time"

	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/panya30/MaxTrade-sub000/pkg/utils"
)

// NormalizeSignal decodes any signal variant into the canonical Signal.
// Unrecognized shapes and actions become a hold with default confidence.
// A zero timestamp is replaced by fallback.
func NormalizeSignal(raw types.RawSignal, fallback time.Time) types.Signal {
	var sig types.Signal

	switch s := raw.(type) {
	case types.Signal:
		sig = normalizeCanonical(s)
	case *types.Signal:
		if s != nil {
			sig = normalizeCanonical(*s)
		} else {
			sig = holdSignal("")
		}
	case types.ActionSignal:
		sig = normalizeAction(s)
	case *types.ActionSignal:
		if s != nil {
			sig = normalizeAction(*s)
		} else {
			sig = holdSignal("")
		}
	case types.DirectionSignal:
		sig = normalizeDirection(s)
	case *types.DirectionSignal:
		if s != nil {
			sig = normalizeDirection(*s)
		} else {
			sig = holdSignal("")
		}
	case *types.UnknownSignal:
		sig = holdSignal("")
		if s != nil {
			sig.Symbol = s.Symbol
			sig.Timestamp = s.Timestamp
		}
	case nil:
		sig = holdSignal("")
	default:
		sig = holdSignal(raw.SignalSymbol())
		if u, ok := raw.(types.UnknownSignal); ok {
			sig.Timestamp = u.Timestamp
		}
	}

	if sig.Timestamp.IsZero() {
		sig.Timestamp = fallback
	}
	return sig
}

// NormalizeSignals normalizes a batch and orders it by descending confidence.
// Signals of equal confidence keep their generator order.
func NormalizeSignals(raw []types.RawSignal, fallback time.Time) []types.Signal {
	signals := make([]types.Signal, 0, len(raw))
	for _, r := range raw {
		signals = append(signals, NormalizeSignal(r, fallback))
	}
	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Confidence > signals[j].Confidence
	})
	return signals
}

func holdSignal(symbol string) types.Signal {
	return types.Signal{
		Symbol:     symbol,
		Action:     types.ActionHold,
		Confidence: types.DefaultSignalConfidence,
		Strength:   types.DefaultSignalConfidence,
	}
}

func normalizeCanonical(s types.Signal) types.Signal {
	if !validAction(s.Action) {
		return withContext(holdSignal(s.Symbol), s.Factors, s.Timestamp, s.Metadata)
	}
	s.Confidence = clampConfidence(s.Confidence)
	s.Strength = utils.Finite(s.Strength)
	return s
}

func normalizeAction(s types.ActionSignal) types.Signal {
	if !validAction(s.Action) {
		return withContext(holdSignal(s.Symbol), s.Factors, s.Timestamp, s.Metadata)
	}
	confidence := clampConfidence(s.Confidence)
	return types.Signal{
		Symbol:     s.Symbol,
		Action:     s.Action,
		Confidence: confidence,
		Strength:   confidence,
		Factors:    s.Factors,
		Timestamp:  s.Timestamp,
		Metadata:   s.Metadata,
	}
}

func normalizeDirection(s types.DirectionSignal) types.Signal {
	action := types.ActionHold
	switch s.Direction {
	case types.DirectionLong:
		action = types.ActionBuy
	case types.DirectionShort:
		action = types.ActionSell
	}
	return types.Signal{
		Symbol:     s.Symbol,
		Action:     action,
		Confidence: clampConfidence(s.Strength),
		Strength:   utils.Finite(s.Strength),
		Factors:    s.Factors,
		Timestamp:  s.Timestamp,
		Metadata:   s.Metadata,
	}
}

func withContext(sig types.Signal, factors map[string]float64, ts time.Time, meta map[string]any) types.Signal {
	sig.Factors = factors
	sig.Timestamp = ts
	sig.Metadata = meta
	return sig
}

func validAction(a types.SignalAction) bool {
	switch a {
	case types.ActionBuy, types.ActionSell, types.ActionHold:
		return true
	}
	return false
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return types.DefaultSignalConfidence
	}
	return utils.Clamp(c, 0, 1)
}
