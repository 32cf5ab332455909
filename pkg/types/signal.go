package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// SignalAction is the canonical trade intent of a signal.
type SignalAction string

const (
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
	ActionHold SignalAction = "hold"
)

// SignalDirection is the intent used by direction-shaped signals.
type SignalDirection string

const (
	DirectionLong  SignalDirection = "long"
	DirectionShort SignalDirection = "short"
)

// DefaultSignalConfidence is assigned to signals whose shape is not recognized.
const DefaultSignalConfidence = 0.5

// RawSignal is any signal shape a generator may emit. The engine decodes
// every RawSignal into the canonical Signal before use. Known variants are
// Signal, ActionSignal and DirectionSignal; anything else becomes a hold.
type RawSignal interface {
	SignalSymbol() string
}

// Signal is the canonical signal record used by the engine.
type Signal struct {
	Symbol     string             `json:"symbol"`
	Action     SignalAction       `json:"action"`
	Confidence float64            `json:"confidence"`
	Strength   float64            `json:"strength"`
	Factors    map[string]float64 `json:"factors,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
}

// ActionSignal is the {action, confidence} shape.
type ActionSignal struct {
	Symbol     string             `json:"symbol"`
	Action     SignalAction       `json:"action"`
	Confidence float64            `json:"confidence"`
	Factors    map[string]float64 `json:"factors,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
}

// DirectionSignal is the {direction, strength} shape.
type DirectionSignal struct {
	Symbol    string             `json:"symbol"`
	Direction SignalDirection    `json:"direction"`
	Strength  float64            `json:"strength"`
	Factors   map[string]float64 `json:"factors,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
}

// UnknownSignal carries a signal whose shape matched neither variant.
type UnknownSignal struct {
	Symbol    string         `json:"symbol"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func (s Signal) SignalSymbol() string          { return s.Symbol }
func (s ActionSignal) SignalSymbol() string    { return s.Symbol }
func (s DirectionSignal) SignalSymbol() string { return s.Symbol }
func (s UnknownSignal) SignalSymbol() string   { return s.Symbol }

// DecodeRawSignal decodes one JSON signal object into its variant. An object
// with an "action" field is an ActionSignal, one with a "direction" field is a
// DirectionSignal; any other object decodes to UnknownSignal.
func DecodeRawSignal(data []byte) (RawSignal, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse signal: %w", err)
	}

	switch {
	case fields["action"] != nil:
		var s ActionSignal
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse action signal: %w", err)
		}
		return s, nil
	case fields["direction"] != nil:
		var s DirectionSignal
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse direction signal: %w", err)
		}
		return s, nil
	}

	var s UnknownSignal
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse signal: %w", err)
	}
	s.Fields = generic
	if symbol, ok := generic["symbol"].(string); ok {
		s.Symbol = symbol
	}
	if ts, ok := generic["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			s.Timestamp = parsed
		}
	}
	return s, nil
}

// DecodeRawSignals decodes a JSON array of heterogeneous signal objects.
func DecodeRawSignals(data []byte) ([]RawSignal, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse signal list: %w", err)
	}

	signals := make([]RawSignal, 0, len(items))
	for i, item := range items {
		s, err := DecodeRawSignal(item)
		if err != nil {
			return nil, fmt.Errorf("signal %d: %w", i, err)
		}
		signals = append(signals, s)
	}
	return signals, nil
}
