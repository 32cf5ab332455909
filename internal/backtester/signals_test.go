package backtester_test

import (
	"math"
	"testing"
	"time"

	"github.com/panya30/MaxTrade-sub000/internal/backtester"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type NormalizeSignalTestSuite struct {
	suite.Suite
	date time.Time
}

func TestNormalizeSignalSuite(t *testing.T) {
	suite.Run(t, new(NormalizeSignalTestSuite))
}

func (s *NormalizeSignalTestSuite) SetupTest() {
	s.date = day0
}

func (s *NormalizeSignalTestSuite) TestActionShape() {
	sig := backtester.NormalizeSignal(types.ActionSignal{Symbol: "AAA", Action: types.ActionSell, Confidence: 0.8}, s.date)
	s.Equal(types.ActionSell, sig.Action)
	s.Equal(0.8, sig.Confidence)
	s.Equal(0.8, sig.Strength)
	s.Equal(s.date, sig.Timestamp)
}

func (s *NormalizeSignalTestSuite) TestDirectionShape() {
	tests := []struct {
		direction  types.SignalDirection
		strength   float64
		action     types.SignalAction
		confidence float64
	}{
		{types.DirectionLong, 0.7, types.ActionBuy, 0.7},
		{types.DirectionShort, 1.4, types.ActionSell, 1},
		{types.DirectionLong, -0.2, types.ActionBuy, 0},
		{"sideways", 0.9, types.ActionHold, 0.9},
	}
	for _, tt := range tests {
		sig := backtester.NormalizeSignal(&types.DirectionSignal{Symbol: "BBB", Direction: tt.direction, Strength: tt.strength}, s.date)
		s.Equal(tt.action, sig.Action, "direction %s", tt.direction)
		s.Equal(tt.confidence, sig.Confidence, "direction %s", tt.direction)
		s.Equal(tt.strength, sig.Strength)
	}
}

func (s *NormalizeSignalTestSuite) TestCanonicalShapeIsClamped() {
	sig := backtester.NormalizeSignal(types.Signal{Symbol: "CCC", Action: types.ActionBuy, Confidence: 3, Strength: 2}, s.date)
	s.Equal(types.ActionBuy, sig.Action)
	s.Equal(1.0, sig.Confidence)
	s.Equal(2.0, sig.Strength)

	nan := backtester.NormalizeSignal(types.Signal{Symbol: "CCC", Action: types.ActionBuy, Confidence: math.NaN()}, s.date)
	s.Equal(types.DefaultSignalConfidence, nan.Confidence)
}

func (s *NormalizeSignalTestSuite) TestUnrecognizedShapesHold() {
	cases := []types.RawSignal{
		types.UnknownSignal{Symbol: "DDD"},
		types.ActionSignal{Symbol: "DDD", Action: "moon", Confidence: 0.9},
		nil,
		(*types.ActionSignal)(nil),
	}
	for _, raw := range cases {
		sig := backtester.NormalizeSignal(raw, s.date)
		s.Equal(types.ActionHold, sig.Action)
		s.Equal(types.DefaultSignalConfidence, sig.Confidence)
	}
}

func TestNormalizeSignalsOrdersByConfidence(t *testing.T) {
	raw := []types.RawSignal{
		types.ActionSignal{Symbol: "A", Action: types.ActionBuy, Confidence: 0.5},
		types.DirectionSignal{Symbol: "B", Direction: types.DirectionLong, Strength: 0.9},
		types.ActionSignal{Symbol: "C", Action: types.ActionBuy, Confidence: 0.5},
		types.Signal{Symbol: "D", Action: types.ActionSell, Confidence: 0.7},
	}

	signals := backtester.NormalizeSignals(raw, day0)
	require.Len(t, signals, 4)

	symbols := make([]string, len(signals))
	for i, sig := range signals {
		symbols[i] = sig.Symbol
	}
	assert.Equal(t, []string{"B", "D", "A", "C"}, symbols)
}

func TestDecodedSignalsNormalize(t *testing.T) {
	raw, err := types.DecodeRawSignals([]byte(`[
		{"symbol": "AAA", "action": "buy", "confidence": 0.6},
		{"symbol": "BBB", "direction": "short", "strength": 0.4},
		{"symbol": "CCC", "score": 12}
	]`))
	require.NoError(t, err)

	signals := backtester.NormalizeSignals(raw, day0)
	require.Len(t, signals, 3)
	assert.Equal(t, types.ActionBuy, signals[0].Action)
	assert.Equal(t, "CCC", signals[1].Symbol)
	assert.Equal(t, types.ActionHold, signals[1].Action)
	assert.Equal(t, types.ActionSell, signals[2].Action)
}

func TestShouldRebalance(t *testing.T) {
	mon := time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC) // Monday
	dates := []time.Time{
		mon,
		mon.AddDate(0, 0, 1), // Tue 30 Jan
		mon.AddDate(0, 0, 7), // Mon 5 Feb: new week and month
		mon.AddDate(0, 0, 8), // Tue 6 Feb
		mon.AddDate(0, 2, 3), // 1 Apr: new quarter
	}

	tests := []struct {
		freq types.RebalanceFrequency
		want []bool
	}{
		{types.RebalanceDaily, []bool{true, true, true, true, true}},
		{types.RebalanceWeekly, []bool{true, false, true, false, true}},
		{types.RebalanceMonthly, []bool{true, false, true, false, true}},
		{types.RebalanceQuarterly, []bool{true, false, false, false, true}},
		{types.RebalanceNever, []bool{true, false, false, false, false}},
	}
	for _, tt := range tests {
		for i := range dates {
			assert.Equal(t, tt.want[i], backtester.ShouldRebalance(tt.freq, dates, i), "%s index %d", tt.freq, i)
		}
	}
}
