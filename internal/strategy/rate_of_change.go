package strategy

import (
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

var hundredPct = decimal.NewFromInt(100)

// RateOfChange enters long once ROC = (price - price[N ago])/price[N ago]
// exceeds entryThresholdPct and exits once ROC fades back below
// exitThresholdPct, over a fixed-size ring buffer of the last
// lookback+1 prices.
type RateOfChange struct {
	cfg              Config
	lookback         int
	entryThresholdPct decimal.Decimal
	exitThresholdPct  decimal.Decimal
	state            map[string][]decimal.Decimal
}

// NewRateOfChange creates a rate-of-change momentum evaluator. Exit
// threshold defaults to zero (exit once momentum turns negative), and
// shorting is controlled by cfg.EnableShorting.
func NewRateOfChange(cfg Config, lookback int, entryThresholdPct decimal.Decimal) *RateOfChange {
	return &RateOfChange{cfg: cfg, lookback: lookback, entryThresholdPct: entryThresholdPct, exitThresholdPct: decimal.Zero, state: make(map[string][]decimal.Decimal)}
}

func (r *RateOfChange) Name() string { return "rate_of_change" }

func (r *RateOfChange) roc(symbol string, price decimal.Decimal) (decimal.Decimal, bool) {
	hist := r.state[symbol]
	hist = append(hist, price)
	if len(hist) > r.lookback+1 {
		hist = hist[len(hist)-(r.lookback+1):]
	}
	r.state[symbol] = hist
	if len(hist) <= r.lookback {
		return decimal.Zero, false
	}
	base := hist[0]
	if base.IsZero() {
		return decimal.Zero, false
	}
	return price.Sub(base).Div(base).Mul(hundredPct), true
}

func (r *RateOfChange) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	roc, ok := r.roc(tick.Symbol, tick.Price)
	if !ok {
		return nil
	}

	qty := snapshot.PositionQty(tick.Symbol)
	var orders []types.Order
	switch {
	case roc.GreaterThan(r.entryThresholdPct) && qty.LessThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(r.cfg, tick.Price)))
	case qty.IsPositive() && roc.LessThan(r.exitThresholdPct):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, qty))
	case r.cfg.EnableShorting && roc.LessThan(r.entryThresholdPct.Neg()) && qty.GreaterThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, sizeOrder(r.cfg, tick.Price)))
	case qty.IsNegative() && roc.GreaterThan(r.exitThresholdPct):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, qty.Abs()))
	}
	return orders
}

func (r *RateOfChange) WarmupDone(symbol string) bool {
	return len(r.state[symbol]) > r.lookback
}

func (r *RateOfChange) Reset() { r.state = make(map[string][]decimal.Decimal) }
