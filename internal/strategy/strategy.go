// Package strategy implements the evaluator library: per-(strategy, symbol)
// indicator state plus the decision logic that turns a tick and a
// portfolio snapshot into zero or more orders.
package strategy

import (
	"sync"

	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PortfolioSnapshot is the read-only view of portfolio state an Evaluator
// may consult. Evaluators MUST NOT mutate it.
type PortfolioSnapshot struct {
	Equity    decimal.Decimal
	Cash      decimal.Decimal
	Positions map[string]*types.Position // symbol -> position (signed qty)
}

// PositionQty returns the signed quantity for symbol, or zero if flat.
func (s PortfolioSnapshot) PositionQty(symbol string) decimal.Decimal {
	if p, ok := s.Positions[symbol]; ok {
		return p.Quantity
	}
	return decimal.Zero
}

// Evaluator is the strategy contract: a single tagged-variant abstraction
// in place of a shared inheritance base class. Per-symbol indicator state
// is owned by the evaluator instance itself.
type Evaluator interface {
	// Name identifies the evaluator for logging, registry lookup, and
	// per-(strategy, symbol) attribution keys.
	Name() string
	// OnTick consumes a tick and a portfolio snapshot and returns zero or
	// more orders. It must not mutate snapshot and must be deterministic
	// given its own state and inputs.
	OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order
	// WarmupDone reports whether the evaluator's indicator state for
	// symbol has accumulated enough history to emit a non-exit order.
	WarmupDone(symbol string) bool
	// Reset clears all per-symbol state.
	Reset()
}

// Parameter describes one configurable knob of an evaluator, exposed on
// the config/UI surface.
type Parameter struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Type        string      `json:"type"` // "int", "float", "bool", "string"
	Default     interface{} `json:"default"`
	Min         interface{} `json:"min,omitempty"`
	Max         interface{} `json:"max,omitempty"`
	Current     interface{} `json:"current"`
}

// Config bundles the sizing and risk knobs shared by every built-in
// evaluator: quantity is computed from a configured dollar position size
// and capped at a per-symbol maximum position.
type Config struct {
	PositionSizeUSD decimal.Decimal
	MaxPosition     decimal.Decimal
	EnableShorting  bool
}

// DefaultConfig returns conservative evaluator sizing defaults.
func DefaultConfig() Config {
	return Config{
		PositionSizeUSD: decimal.NewFromInt(10000),
		MaxPosition:     decimal.NewFromInt(1000),
		EnableShorting:  false,
	}
}

// sizeOrder computes floor(position_size/price) capped at max_position.
// Returns zero if price is non-positive.
func sizeOrder(cfg Config, price decimal.Decimal) decimal.Decimal {
	if price.Sign() <= 0 {
		return decimal.Zero
	}
	qty := cfg.PositionSizeUSD.Div(price).Floor()
	if qty.GreaterThan(cfg.MaxPosition) {
		qty = cfg.MaxPosition
	}
	return qty
}

func marketOrder(symbol string, side types.OrderSide, qty decimal.Decimal) types.Order {
	return types.Order{
		Symbol:   symbol,
		Side:     side,
		Type:     types.OrderTypeMarket,
		Quantity: qty,
		Status:   types.OrderStatusPending,
	}
}

// Registry manages available evaluator factories, by name.
type Registry struct {
	logger      *zap.Logger
	evaluators  map[string]func() Evaluator
	mu          sync.RWMutex
}

// NewRegistry creates a registry pre-populated with every built-in
// evaluator.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{logger: logger, evaluators: make(map[string]func() Evaluator)}

	r.Register("sma_crossover", func() Evaluator { return NewSMACrossover(DefaultConfig(), 3, 5) })
	r.Register("rsi", func() Evaluator { return NewRSIStrategy(DefaultConfig(), 14, decimal.NewFromInt(30), decimal.NewFromInt(70)) })
	r.Register("bollinger_bands", func() Evaluator { return NewBollingerStrategy(DefaultConfig(), 20, decimal.NewFromFloat(2)) })
	r.Register("macd", func() Evaluator { return NewMACDStrategy(DefaultConfig(), 12, 26, 9) })
	r.Register("donchian_breakout", func() Evaluator { return NewDonchianBreakout(DefaultConfig(), 20, 10) })
	r.Register("adx_trend", func() Evaluator { return NewADXTrend(DefaultConfig(), 14, decimal.NewFromInt(25)) })
	r.Register("opening_range_breakout", func() Evaluator { return NewOpeningRangeBreakout(DefaultConfig(), 30, decimal.NewFromFloat(0.001), decimal.NewFromFloat(0.05)) })
	r.Register("cross_sectional_momentum", func() Evaluator { return NewCrossSectionalMomentum(DefaultConfig(), 20, 10, 3) })
	r.Register("vwap_reversion", func() Evaluator { return NewVWAPReversion(DefaultConfig(), decimal.NewFromFloat(0.5)) })
	r.Register("zscore_mean_reversion", func() Evaluator { return NewZScoreMeanReversion(DefaultConfig(), 20, decimal.NewFromFloat(2)) })
	r.Register("stochastic", func() Evaluator { return NewStochasticStrategy(DefaultConfig(), 14, 3, 3) })
	r.Register("keltner_channel", func() Evaluator { return NewKeltnerChannel(DefaultConfig(), 20, 10, decimal.NewFromFloat(2)) })
	r.Register("rate_of_change", func() Evaluator { return NewRateOfChange(DefaultConfig(), 10, decimal.NewFromInt(2)) })
	r.Register("volume_breakout", func() Evaluator { return NewVolumeBreakout(DefaultConfig(), 20, decimal.NewFromFloat(2)) })
	r.Register("multi_indicator_reversion", func() Evaluator { return NewMultiIndicatorReversion(DefaultConfig()) })
	r.Register("pairs_trading", func() Evaluator { return NewPairsTrading(DefaultConfig(), "", "", 20, decimal.NewFromFloat(2)) })
	r.Register("dca", func() Evaluator { return NewDCA(DefaultConfig(), 24, decimal.NewFromFloat(0.05)) })
	r.Register("grid", func() Evaluator { return NewGrid(DefaultConfig(), decimal.NewFromFloat(0.01), 5) })

	return r
}

// Register adds or replaces an evaluator factory under name.
func (r *Registry) Register(name string, factory func() Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[name] = factory
}

// Create instantiates a new evaluator by name.
func (r *Registry) Create(name string) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.evaluators[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// List returns all registered evaluator names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.evaluators))
	for name := range r.evaluators {
		names = append(names, name)
	}
	return names
}
