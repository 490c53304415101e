package strategy

import (
	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// ADXTrend enters in the direction of the stronger directional indicator
// once ADX confirms trend strength above threshold, and exits whenever
// ADX falls back below threshold regardless of which way +DI/-DI point:
// a weak-trend read exits unconditionally rather than waiting for a DI
// flip.
type ADXTrend struct {
	cfg       Config
	period    int
	threshold decimal.Decimal
	state     map[string]*indicators.ADX
}

// NewADXTrend creates an ADX trend-strength evaluator.
func NewADXTrend(cfg Config, period int, threshold decimal.Decimal) *ADXTrend {
	return &ADXTrend{cfg: cfg, period: period, threshold: threshold, state: make(map[string]*indicators.ADX)}
}

func (a *ADXTrend) Name() string { return "adx_trend" }

func (a *ADXTrend) adxFor(symbol string) *indicators.ADX {
	ind, ok := a.state[symbol]
	if !ok {
		ind = indicators.NewADX(a.period)
		a.state[symbol] = ind
	}
	return ind
}

func (a *ADXTrend) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	ind := a.adxFor(tick.Symbol)
	ind.Observe(tick.Price)
	if !ind.Ready() {
		return nil
	}

	qty := snapshot.PositionQty(tick.Symbol)
	var orders []types.Order

	trending := ind.Value.GreaterThanOrEqual(a.threshold)

	switch {
	case !trending && qty.IsPositive():
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, qty))
	case !trending && qty.IsNegative():
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, qty.Abs()))
	case trending && qty.LessThanOrEqual(decimal.Zero) && ind.PlusDI.GreaterThan(ind.MinusDI):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(a.cfg, tick.Price)))
	case trending && a.cfg.EnableShorting && qty.GreaterThanOrEqual(decimal.Zero) && ind.MinusDI.GreaterThan(ind.PlusDI):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, sizeOrder(a.cfg, tick.Price)))
	}
	return orders
}

func (a *ADXTrend) WarmupDone(symbol string) bool {
	ind, ok := a.state[symbol]
	return ok && ind.Ready()
}

func (a *ADXTrend) Reset() { a.state = make(map[string]*indicators.ADX) }
