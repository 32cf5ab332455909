// Package strategy provides signal generators that drive the backtest engine.
package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/panya30/MaxTrade-sub000/internal/backtester"
	"go.uber.org/zap"
)

// ErrUnknownStrategy is returned when a strategy name is not registered
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy builds signal generators. Each call to Generator returns a
// generator with fresh state so one strategy value can serve many runs.
type Strategy interface {
	Name() string
	Description() string
	// Parameters returns the current parameter values
	Parameters() map[string]any
	// Configure overrides parameters by name; unknown names are an error
	Configure(params map[string]any) error
	Generator() backtester.SignalGenerator
}

// Info describes a registered strategy
type Info struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry manages available strategies.
type Registry struct {
	logger    *zap.Logger
	factories map[string]func() Strategy
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the built-in strategies
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger:    logger.Named("strategy"),
		factories: make(map[string]func() Strategy),
	}

	r.Register(MomentumName, func() Strategy { return NewMomentumStrategy(r.logger) })
	r.Register(MeanReversionName, func() Strategy { return NewMeanReversionStrategy(r.logger) })
	r.Register(BuyAndHoldName, func() Strategy { return NewBuyAndHoldStrategy(r.logger) })

	return r
}

// Register registers a strategy factory, replacing any previous one
func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create builds a configured strategy instance by name
func (r *Registry) Create(name string, params map[string]any) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}

	s := factory()
	if len(params) > 0 {
		if err := s.Configure(params); err != nil {
			return nil, fmt.Errorf("failed to configure %s: %w", name, err)
		}
	}
	return s, nil
}

// List returns the registered names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns name, description and default parameters of every strategy
func (r *Registry) Describe() []Info {
	names := r.List()
	infos := make([]Info, 0, len(names))
	for _, name := range names {
		s, err := r.Create(name, nil)
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Name:        s.Name(),
			Description: s.Description(),
			Parameters:  s.Parameters(),
		})
	}
	return infos
}

var validate = validator.New()

// decodeParams overlays params onto target and validates the result
func decodeParams(params map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

// encodeParams flattens a parameter struct into a map keyed by mapstructure tag
func encodeParams(params any) map[string]any {
	out := make(map[string]any)
	if err := mapstructure.Decode(params, &out); err != nil {
		return nil
	}
	return out
}
