// Package risk implements the stop-loss and circuit-breaker engine: a
// portfolio-level breaker checked ahead of any per-position stop, plus
// fixed and trailing percentage stops per open position.
package risk

import (
	"sync"

	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StopLossConfig configures position-level stops and the portfolio
// circuit breaker. Percent fields are whole percents (2 means 2%).
type StopLossConfig struct {
	PositionStopPct       decimal.Decimal
	TrailingStopPct       decimal.Decimal
	PortfolioStopPct      decimal.Decimal // daily loss, percent
	MaxDrawdownPct        decimal.Decimal
	UseTrailingStops      bool
	EnableCircuitBreaker  bool
}

// DefaultStopLossConfig returns 2% fixed stop, 3% trailing, 5% daily
// loss breaker, 10% max drawdown.
func DefaultStopLossConfig() StopLossConfig {
	return StopLossConfig{
		PositionStopPct:      decimal.NewFromFloat(2),
		TrailingStopPct:      decimal.NewFromFloat(3),
		PortfolioStopPct:     decimal.NewFromFloat(5),
		MaxDrawdownPct:       decimal.NewFromFloat(10),
		UseTrailingStops:     false,
		EnableCircuitBreaker: true,
	}
}

// Manager tracks per-position stops and the portfolio circuit breaker.
// Once tripped, the breaker is a one-way latch for the session: Reset
// must be called explicitly (e.g. at the start of a new trading day) to
// re-arm it.
type Manager struct {
	logger *zap.Logger
	config StopLossConfig

	mu               sync.Mutex
	stops            map[string]*types.PositionStop
	dailyStartValue  decimal.Decimal
	highWaterMark    decimal.Decimal
	breakerTripped   bool
}

// NewManager creates a risk manager seeded with the portfolio's starting
// value for both the daily-loss baseline and the drawdown high-water mark.
func NewManager(logger *zap.Logger, config StopLossConfig, initialPortfolioValue decimal.Decimal) *Manager {
	return &Manager{
		logger:          logger.Named("risk"),
		config:          config,
		stops:           make(map[string]*types.PositionStop),
		dailyStartValue: initialPortfolioValue,
		highWaterMark:   initialPortfolioValue,
	}
}

// AddPositionStop registers (or replaces) the stop for a newly opened
// position. quantity's sign determines whether the stop sits below (long)
// or above (short) the entry price.
func (m *Manager) AddPositionStop(symbol string, entryPrice, quantity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addPositionStopLocked(symbol, entryPrice, quantity)
}

func (m *Manager) addPositionStopLocked(symbol string, entryPrice, quantity decimal.Decimal) {
	kind := types.StopKindFixedPct
	stopPct := m.config.PositionStopPct
	if m.config.UseTrailingStops {
		kind = types.StopKindTrailing
		stopPct = m.config.TrailingStopPct
	}

	pct := stopPct.Div(decimal.NewFromInt(100))
	var stopPrice decimal.Decimal
	if quantity.IsPositive() {
		stopPrice = entryPrice.Mul(decimal.NewFromInt(1).Sub(pct))
	} else {
		stopPrice = entryPrice.Mul(decimal.NewFromInt(1).Add(pct))
	}

	m.stops[symbol] = &types.PositionStop{
		Symbol:           symbol,
		EntryPrice:       entryPrice,
		StopPrice:        stopPrice,
		HighestPriceSeen: entryPrice,
		Kind:             kind,
	}
}

// RemovePositionStop stops tracking a symbol (called once a position is
// fully closed).
func (m *Manager) RemovePositionStop(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stops, symbol)
}

// CheckStops runs the circuit breaker first; if it trips, every open
// position is returned as a market exit order and per-position stops are
// not separately evaluated this call. Otherwise each open position's stop
// is updated (if trailing) and checked, and a market exit order is
// returned for any that triggered.
func (m *Manager) CheckStops(
	currentPrices map[string]decimal.Decimal,
	portfolioValue decimal.Decimal,
	positions map[string]*types.Position,
) []types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.checkCircuitBreakerLocked(portfolioValue) {
		return m.exitAllLocked(positions)
	}

	var exits []types.Order
	for symbol, pos := range positions {
		if pos.IsFlat() {
			continue
		}
		price, ok := currentPrices[symbol]
		if !ok {
			continue
		}

		stop, ok := m.stops[symbol]
		if !ok {
			m.addPositionStopLocked(symbol, pos.AvgCost, pos.Quantity)
			stop = m.stops[symbol]
		}

		if stop.Kind == types.StopKindTrailing {
			m.updateTrailingStopLocked(stop, price, pos.Quantity)
		}

		if isStopTriggered(stop, price, pos.Quantity) {
			side := types.OrderSideSell
			if pos.IsShort() {
				side = types.OrderSideBuy
			}
			exits = append(exits, types.Order{
				Symbol: symbol, Side: side, Type: types.OrderTypeMarket,
				Quantity: pos.Quantity.Abs(), Status: types.OrderStatusPending,
			})
			delete(m.stops, symbol)
		}
	}

	return exits
}

// checkCircuitBreakerLocked checks daily loss first, then drawdown from
// the high-water mark. Once tripped this session, it stays tripped.
func (m *Manager) checkCircuitBreakerLocked(portfolioValue decimal.Decimal) bool {
	if !m.config.EnableCircuitBreaker {
		return false
	}
	if m.breakerTripped {
		return true
	}

	if portfolioValue.GreaterThan(m.highWaterMark) {
		m.highWaterMark = portfolioValue
	}

	if !m.dailyStartValue.IsZero() {
		dailyLossPct := m.dailyStartValue.Sub(portfolioValue).Div(m.dailyStartValue).Mul(decimal.NewFromInt(100))
		if dailyLossPct.GreaterThanOrEqual(m.config.PortfolioStopPct) {
			m.breakerTripped = true
			m.logger.Warn("circuit breaker tripped: daily loss limit")
			return true
		}
	}

	if !m.highWaterMark.IsZero() {
		drawdownPct := m.highWaterMark.Sub(portfolioValue).Div(m.highWaterMark).Mul(decimal.NewFromInt(100))
		if drawdownPct.GreaterThanOrEqual(m.config.MaxDrawdownPct) {
			m.breakerTripped = true
			m.logger.Warn("circuit breaker tripped: max drawdown")
			return true
		}
	}

	return false
}

func (m *Manager) updateTrailingStopLocked(stop *types.PositionStop, price, quantity decimal.Decimal) {
	pct := m.config.TrailingStopPct.Div(decimal.NewFromInt(100))

	if quantity.IsPositive() {
		if price.GreaterThan(stop.HighestPriceSeen) {
			stop.HighestPriceSeen = price
			newStop := price.Mul(decimal.NewFromInt(1).Sub(pct))
			if newStop.GreaterThan(stop.StopPrice) {
				stop.StopPrice = newStop
			}
		}
		return
	}

	if price.LessThan(stop.HighestPriceSeen) {
		stop.HighestPriceSeen = price
		newStop := price.Mul(decimal.NewFromInt(1).Add(pct))
		if newStop.LessThan(stop.StopPrice) {
			stop.StopPrice = newStop
		}
	}
}

func isStopTriggered(stop *types.PositionStop, price, quantity decimal.Decimal) bool {
	if quantity.IsPositive() {
		return price.LessThanOrEqual(stop.StopPrice)
	}
	return price.GreaterThanOrEqual(stop.StopPrice)
}

func (m *Manager) exitAllLocked(positions map[string]*types.Position) []types.Order {
	var exits []types.Order
	for symbol, pos := range positions {
		if pos.IsFlat() {
			continue
		}
		side := types.OrderSideSell
		if pos.IsShort() {
			side = types.OrderSideBuy
		}
		exits = append(exits, types.Order{
			Symbol: symbol, Side: side, Type: types.OrderTypeMarket,
			Quantity: pos.Quantity.Abs(), Status: types.OrderStatusPending,
		})
		delete(m.stops, symbol)
	}
	return exits
}

// IsBreakerTripped reports whether the circuit breaker has latched open.
func (m *Manager) IsBreakerTripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakerTripped
}

// ResetDailyTracking resets the daily-loss baseline; call at the start of
// each new trading day. It does not re-arm a tripped circuit breaker.
func (m *Manager) ResetDailyTracking(currentPortfolioValue decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyStartValue = currentPortfolioValue
}

// Reset re-arms a tripped circuit breaker. Callers should only use this
// between sessions, not mid-session.
func (m *Manager) Reset(currentPortfolioValue decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerTripped = false
	m.dailyStartValue = currentPortfolioValue
	m.highWaterMark = currentPortfolioValue
	m.stops = make(map[string]*types.PositionStop)
}
