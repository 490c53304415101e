// Package meta implements the adaptive multi-strategy allocator: it runs
// N sub-strategies against every tick, tracks each one's performance in
// an independent "shadow book" (the meta-strategy's own idea of what
// each sub-strategy owns, separate from the ground-truth portfolio), and
// periodically rebalances capital toward the strongest performers.
package meta

import (
	"math"
	"sort"
	"sync"

	"github.com/quantframe/streamalpha/internal/sizing"
	"github.com/quantframe/streamalpha/internal/strategy"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// sub binds one evaluator to its shadow performance record.
type sub struct {
	name      string
	evaluator strategy.Evaluator
	perf      *types.StrategyPerformanceRecord
}

// Config configures the allocator: how often to rebalance, the
// allocation floor/ceiling per sub-strategy, how much history to keep
// for the Sharpe score, and which scoring method to rebalance by.
type Config struct {
	RebalancePeriod     int // ticks between rebalances
	MinAllocation       decimal.Decimal
	MaxAllocation       decimal.Decimal
	PerformanceLookback int // max PnLHistory entries kept per sub-strategy
	Method              types.AllocationMethod
	// Sizer, when set, caps each sub-strategy's order budget by a
	// fractional-Kelly estimate from its own trade record instead of the
	// flat 90% of allocated capital. Needs ten attributed trades before
	// it takes effect.
	Sizer *sizing.PositionSizer
}

// DefaultConfig returns a 360-tick rebalance (six hours at 1-minute bars), a 5%-40%
// allocation band, and 'pnl' scoring.
func DefaultConfig() Config {
	return Config{
		RebalancePeriod:     360,
		MinAllocation:       decimal.NewFromFloat(0.05),
		MaxAllocation:       decimal.NewFromFloat(0.40),
		PerformanceLookback: 360,
		Method:              types.AllocationMethodPnL,
	}
}

// Allocator runs a fixed set of named evaluators with dynamic capital
// weighting. It implements strategy.Evaluator itself, so it can be used
// anywhere a single evaluator is expected.
type Allocator struct {
	logger *zap.Logger
	config Config

	mu            sync.Mutex
	subs          map[string]*sub
	order         []string // stable iteration order for deterministic rebalance logging
	prices        map[string]decimal.Decimal
	tickCount     int
	lastRebalance int
}

// NewAllocator creates an allocator over the given named evaluators, each
// starting at an equal allocation.
func NewAllocator(logger *zap.Logger, config Config, evaluators map[string]strategy.Evaluator) *Allocator {
	equalWeight := decimal.NewFromInt(1)
	if len(evaluators) > 0 {
		equalWeight = equalWeight.Div(decimal.NewFromInt(int64(len(evaluators))))
	}

	a := &Allocator{
		logger: logger.Named("meta"),
		config: config,
		subs:   make(map[string]*sub, len(evaluators)),
		prices: make(map[string]decimal.Decimal),
	}

	for name, ev := range evaluators {
		a.subs[name] = &sub{
			name:      name,
			evaluator: ev,
			perf: &types.StrategyPerformanceRecord{
				Name:              name,
				CurrentAllocation: equalWeight,
				TargetAllocation:  equalWeight,
				EntryPrices:       make(map[string]decimal.Decimal),
				OpenQty:           make(map[string]decimal.Decimal),
			},
		}
		a.order = append(a.order, name)
	}
	sort.Strings(a.order)

	return a
}

// Name identifies this evaluator for registry/logging purposes.
func (a *Allocator) Name() string { return "adaptive_portfolio" }

// WarmupDone reports true once every sub-strategy is warmed up for symbol.
func (a *Allocator) WarmupDone(symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.subs {
		if !s.evaluator.WarmupDone(symbol) {
			return false
		}
	}
	return true
}

// Reset clears every sub-strategy's state and shadow book.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.subs {
		s.evaluator.Reset()
		s.perf.EntryPrices = make(map[string]decimal.Decimal)
		s.perf.OpenQty = make(map[string]decimal.Decimal)
		s.perf.PnLHistory = nil
		s.perf.TotalPnL = decimal.Zero
		s.perf.RecentPnL = decimal.Zero
		s.perf.TradeCount = 0
		s.perf.Wins = 0
		s.perf.Losses = 0
	}
	a.tickCount = 0
	a.lastRebalance = 0
}

// OnTick runs every sub-strategy on the tick, rescales each sub-strategy's
// orders to its current target allocation of total capital, attributes
// realized P&L to the shadow book, and rebalances allocations when the
// configured number of ticks has elapsed.
func (a *Allocator) OnTick(tick types.Tick, snapshot strategy.PortfolioSnapshot) []types.Order {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tickCount++
	a.prices[tick.Symbol] = tick.Price
	if a.tickCount-a.lastRebalance >= a.config.RebalancePeriod {
		a.rebalanceLocked(a.prices)
		a.lastRebalance = a.tickCount
	}

	var orders []types.Order
	for _, name := range a.order {
		s := a.subs[name]
		subOrders := s.evaluator.OnTick(tick, snapshot)
		if len(subOrders) == 0 {
			continue
		}

		allocation := s.perf.TargetAllocation
		strategyCapital := snapshot.Equity.Mul(allocation)
		maxValue := strategyCapital.Mul(decimal.NewFromFloat(0.9))
		if kelly := a.kellyBudgetLocked(s, tick.Price, strategyCapital); !kelly.IsZero() && kelly.LessThan(maxValue) {
			maxValue = kelly
		}

		for _, order := range subOrders {
			orderPrice := tick.Price
			orderValue := order.Quantity.Mul(orderPrice)

			scaled := order
			if orderValue.GreaterThan(maxValue) && !orderPrice.IsZero() {
				scaledQty := maxValue.Div(orderPrice).Floor()
				if scaledQty.LessThanOrEqual(decimal.Zero) {
					a.logger.Debug("sub-strategy order scaled to zero, rejected",
						zap.String("strategy", name), zap.String("symbol", order.Symbol))
					continue
				}
				scaled.Quantity = scaledQty
			}

			a.attributeLocked(s, scaled, orderPrice)
			orders = append(orders, scaled)
		}
	}

	return orders
}

// kellyBudgetLocked asks the optional position sizer for a dollar cap
// derived from the sub-strategy's own attributed trade record. Returns
// zero when no sizer is configured or the record is still too thin to
// estimate win statistics.
func (a *Allocator) kellyBudgetLocked(s *sub, price, strategyCapital decimal.Decimal) decimal.Decimal {
	if a.config.Sizer == nil || s.perf.TradeCount < 10 || price.Sign() <= 0 {
		return decimal.Zero
	}

	winRate := float64(s.perf.Wins) / float64(s.perf.TradeCount)
	avgWin, avgLoss := 0.0, 0.0
	wins, losses := 0, 0
	for _, pnl := range s.perf.PnLHistory {
		f, _ := pnl.Float64()
		if f > 0 {
			avgWin += f
			wins++
		} else if f < 0 {
			avgLoss += -f
			losses++
		}
	}
	if wins > 0 {
		avgWin /= float64(wins)
	}
	if losses > 0 {
		avgLoss /= float64(losses)
	}

	result := a.config.Sizer.CalculateSize(&sizing.SizingRequest{
		PortfolioValue: strategyCapital,
		CurrentPrice:   price,
		StopLoss:       price.Mul(decimal.NewFromFloat(0.98)),
		WinRate:        winRate,
		AvgWin:         avgWin,
		AvgLoss:        avgLoss,
	})
	return result.PositionSize
}

// attributeLocked updates the sub-strategy's shadow book and realized
// P&L for one scaled order, keyed per (strategy, symbol).
func (a *Allocator) attributeLocked(s *sub, order types.Order, price decimal.Decimal) {
	qty := s.perf.OpenQty[order.Symbol]

	if order.Side == types.OrderSideBuy {
		s.perf.EntryPrices[order.Symbol] = price
		s.perf.OpenQty[order.Symbol] = qty.Add(order.Quantity)
		return
	}

	if entry, ok := s.perf.EntryPrices[order.Symbol]; ok {
		closeQty := decimal.Min(order.Quantity, qty)
		pnl := price.Sub(entry).Mul(closeQty)

		s.perf.TotalPnL = s.perf.TotalPnL.Add(pnl)
		s.perf.RecentPnL = s.perf.RecentPnL.Add(pnl)
		s.perf.TradeCount++
		if pnl.IsPositive() {
			s.perf.Wins++
		} else {
			s.perf.Losses++
		}

		s.perf.PnLHistory = append(s.perf.PnLHistory, pnl)
		if len(s.perf.PnLHistory) > a.config.PerformanceLookback {
			s.perf.PnLHistory = s.perf.PnLHistory[len(s.perf.PnLHistory)-a.config.PerformanceLookback:]
		}

		if a.config.Sizer != nil {
			a.config.Sizer.AddTradeResult(&sizing.TradeResult{
				Symbol: order.Symbol,
				Entry:  entry,
				Exit:   price,
				IsWin:  pnl.IsPositive(),
			})
		}
	}

	s.perf.OpenQty[order.Symbol] = qty.Sub(order.Quantity)
}

// rebalanceLocked folds unrealized P&L into recent_pnl, scores every
// sub-strategy, clamps and renormalizes the resulting weights, and then
// zeroes recent_pnl for the next period -- the unrealized component is
// folded in and discarded, never subtracted back out.
func (a *Allocator) rebalanceLocked(currentPrices map[string]decimal.Decimal) {
	for _, s := range a.subs {
		for symbol, qty := range s.perf.OpenQty {
			if qty.IsZero() {
				continue
			}
			entry, ok := s.perf.EntryPrices[symbol]
			if !ok {
				continue
			}
			price, ok := currentPrices[symbol]
			if !ok {
				price = entry
			}
			unrealized := price.Sub(entry).Mul(qty)
			s.perf.RecentPnL = s.perf.RecentPnL.Add(unrealized)
		}
	}

	allocations := a.calculateAllocationsLocked()

	for name, alloc := range allocations {
		s := a.subs[name]
		s.perf.CurrentAllocation = s.perf.TargetAllocation
		s.perf.TargetAllocation = alloc
	}

	for _, s := range a.subs {
		s.perf.RecentPnL = decimal.Zero
	}
}

// calculateAllocationsLocked scores every sub-strategy by the configured
// method, clamps to [min,max], and renormalizes to sum to 1; an all-zero
// score set falls back to equal weight across every sub-strategy.
func (a *Allocator) calculateAllocationsLocked() map[string]decimal.Decimal {
	scores := make(map[string]decimal.Decimal, len(a.subs))
	var total decimal.Decimal

	for name, s := range a.subs {
		var score decimal.Decimal
		switch a.config.Method {
		case types.AllocationMethodSharpe:
			score = decimal.NewFromFloat(sharpeOf(s.perf.PnLHistory))
		case types.AllocationMethodWinRate:
			score = s.perf.WinRate()
		default:
			score = s.perf.RecentPnL
		}
		if score.IsNegative() {
			score = decimal.Zero
		}
		scores[name] = score
		total = total.Add(score)
	}

	if total.IsZero() {
		equalWeight := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(a.subs))))
		equal := make(map[string]decimal.Decimal, len(a.subs))
		for name := range a.subs {
			equal[name] = equalWeight
		}
		return equal
	}

	raw := make(map[string]decimal.Decimal, len(a.subs))
	for name, score := range scores {
		raw[name] = score.Div(total)
	}

	clamped := make(map[string]decimal.Decimal, len(a.subs))
	var clampedTotal decimal.Decimal
	for name, alloc := range raw {
		if alloc.LessThan(a.config.MinAllocation) {
			alloc = a.config.MinAllocation
		}
		if alloc.GreaterThan(a.config.MaxAllocation) {
			alloc = a.config.MaxAllocation
		}
		clamped[name] = alloc
		clampedTotal = clampedTotal.Add(alloc)
	}

	final := make(map[string]decimal.Decimal, len(a.subs))
	for name, alloc := range clamped {
		final[name] = alloc.Div(clampedTotal)
	}
	return final
}

func sharpeOf(pnlHistory []decimal.Decimal) float64 {
	if len(pnlHistory) < 10 {
		return 0
	}
	vals := make([]float64, len(pnlHistory))
	var sum float64
	for i, v := range pnlHistory {
		f, _ := v.Float64()
		vals[i] = f
		sum += f
	}
	mean := sum / float64(len(vals))
	if mean == 0 {
		return 0
	}

	var sumSq float64
	for _, v := range vals {
		d := v - mean
		sumSq += d * d
	}
	variance := sumSq / float64(len(vals))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}

// Allocations returns a snapshot of every sub-strategy's current target
// allocation, for reporting/logging.
func (a *Allocator) Allocations() map[string]decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(a.subs))
	for name, s := range a.subs {
		out[name] = s.perf.TargetAllocation
	}
	return out
}

// PerformanceRecord returns a copy of a sub-strategy's performance record.
func (a *Allocator) PerformanceRecord(name string) (types.StrategyPerformanceRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.subs[name]
	if !ok {
		return types.StrategyPerformanceRecord{}, false
	}
	return *s.perf, true
}
