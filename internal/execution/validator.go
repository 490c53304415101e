package execution

import (
	"sync"
	"time"

	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ValidationConfig bundles the order-manager acceptance limits for the
// four checks the validator runs: rate limiting, available capital,
// per-position sizing, and total exposure.
type ValidationConfig struct {
	MaxOrdersPerMinute         int
	MaxOrdersPerSymbolPerMinute int
	MaxPositionSize            decimal.Decimal
	MaxPositionValue           decimal.Decimal
	MaxTotalExposure           decimal.Decimal
	MinCashBuffer              decimal.Decimal
}

// DefaultValidationConfig returns conservative validator limits.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxOrdersPerMinute:          60,
		MaxOrdersPerSymbolPerMinute: 20,
		MaxPositionSize:             decimal.NewFromInt(10000),
		MaxPositionValue:            decimal.NewFromInt(500000),
		MaxTotalExposure:            decimal.NewFromInt(1000000),
		MinCashBuffer:               decimal.Zero,
	}
}

// Validator runs the order-manager acceptance pipeline: a sliding-window
// rate limit, a capital check for limit buys, a per-position size/value
// check, and a total-exposure check, each short-circuiting on the first
// rejection.
type Validator struct {
	logger *zap.Logger
	config ValidationConfig

	mu             sync.Mutex
	globalOrderLog []time.Time
	symbolOrderLog map[string][]time.Time
}

// NewValidator creates a validator with the given limits.
func NewValidator(logger *zap.Logger, config ValidationConfig) *Validator {
	return &Validator{
		logger:         logger.Named("order-validator"),
		config:         config,
		symbolOrderLog: make(map[string][]time.Time),
	}
}

// ValidateOrder runs the four checks in order and returns (false, reason)
// for the first rejection, or (true, "") if the order is accepted. now is
// the decision time; positions and cash describe current portfolio state
// as of now. Callers must call RecordOrder after a successful submission
// to advance the rate-limit windows.
func (v *Validator) ValidateOrder(
	order types.Order,
	now time.Time,
	cash decimal.Decimal,
	positions map[string]*types.Position,
) (accepted bool, reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if reason := v.checkRateLimitLocked(order.Symbol, now); reason != "" {
		return false, reason
	}
	if reason := v.checkCapital(order, cash); reason != "" {
		return false, reason
	}
	if reason := v.checkPositionLimits(order, positions); reason != "" {
		return false, reason
	}
	if reason := v.checkTotalExposure(order, positions); reason != "" {
		return false, reason
	}

	return true, ""
}

const rateLimitWindow = 60 * time.Second

func (v *Validator) checkRateLimitLocked(symbol string, now time.Time) string {
	cutoff := now.Add(-rateLimitWindow)

	v.globalOrderLog = expireBefore(v.globalOrderLog, cutoff)
	if v.config.MaxOrdersPerMinute > 0 && len(v.globalOrderLog) >= v.config.MaxOrdersPerMinute {
		return "rate limit exceeded: global orders per minute"
	}

	log := expireBefore(v.symbolOrderLog[symbol], cutoff)
	v.symbolOrderLog[symbol] = log
	if v.config.MaxOrdersPerSymbolPerMinute > 0 && len(log) >= v.config.MaxOrdersPerSymbolPerMinute {
		return "rate limit exceeded: per-symbol orders per minute"
	}

	return ""
}

func expireBefore(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && log[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return log
	}
	return append([]time.Time{}, log[i:]...)
}

// checkCapital rejects a LIMIT BUY whose notional (plus the configured
// cash buffer) exceeds available cash. Market orders and sells are not
// capital-constrained here; the matching engine settles their actual
// cash effect on fill.
func (v *Validator) checkCapital(order types.Order, cash decimal.Decimal) string {
	if order.Type != types.OrderTypeLimit || order.Side != types.OrderSideBuy {
		return ""
	}
	notional := order.Quantity.Mul(order.Price)
	if notional.Add(v.config.MinCashBuffer).GreaterThan(cash) {
		return "insufficient capital for limit buy"
	}
	return ""
}

func (v *Validator) checkPositionLimits(order types.Order, positions map[string]*types.Position) string {
	existingQty := decimal.Zero
	if pos, ok := positions[order.Symbol]; ok {
		existingQty = pos.Quantity
	}

	delta := order.Quantity
	if order.Side == types.OrderSideSell {
		delta = delta.Neg()
	}
	resultingQty := existingQty.Add(delta).Abs()

	if !v.config.MaxPositionSize.IsZero() && resultingQty.GreaterThan(v.config.MaxPositionSize) {
		return "position size limit exceeded"
	}

	price := order.Price
	if price.IsZero() {
		if pos, ok := positions[order.Symbol]; ok {
			price = pos.CurrentPrice
		}
	}
	resultingValue := resultingQty.Mul(price)
	if !v.config.MaxPositionValue.IsZero() && resultingValue.GreaterThan(v.config.MaxPositionValue) {
		return "position value limit exceeded"
	}

	return ""
}

func (v *Validator) checkTotalExposure(order types.Order, positions map[string]*types.Position) string {
	if v.config.MaxTotalExposure.IsZero() {
		return ""
	}

	total := decimal.Zero
	for symbol, pos := range positions {
		price := pos.CurrentPrice
		if symbol == order.Symbol && !order.Price.IsZero() {
			price = order.Price
		}
		total = total.Add(pos.Quantity.Abs().Mul(price))
	}

	delta := order.Quantity
	if order.Side == types.OrderSideSell {
		delta = delta.Neg()
	}
	existingQty := decimal.Zero
	if pos, ok := positions[order.Symbol]; ok {
		existingQty = pos.Quantity
	}
	price := order.Price
	if price.IsZero() {
		if pos, ok := positions[order.Symbol]; ok {
			price = pos.CurrentPrice
		}
	}
	oldExposure := existingQty.Abs().Mul(price)
	newExposure := existingQty.Add(delta).Abs().Mul(price)
	total = total.Sub(oldExposure).Add(newExposure)

	if total.GreaterThan(v.config.MaxTotalExposure) {
		return "total exposure limit exceeded"
	}
	return ""
}

// RecordOrder advances the rate-limit windows for an accepted order.
func (v *Validator) RecordOrder(symbol string, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.globalOrderLog = append(v.globalOrderLog, now)
	v.symbolOrderLog[symbol] = append(v.symbolOrderLog[symbol], now)
}
