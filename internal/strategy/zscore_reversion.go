package strategy

import (
	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// ZScoreMeanReversion buys when a price's rolling z-score falls below
// -entryZ and exits once the z-score reverts back to (or past) zero.
type ZScoreMeanReversion struct {
	cfg     Config
	window  int
	entryZ  decimal.Decimal
	state   map[string]*indicators.ZScore
}

// NewZScoreMeanReversion creates a z-score mean-reversion evaluator.
func NewZScoreMeanReversion(cfg Config, window int, entryZ decimal.Decimal) *ZScoreMeanReversion {
	return &ZScoreMeanReversion{cfg: cfg, window: window, entryZ: entryZ, state: make(map[string]*indicators.ZScore)}
}

func (z *ZScoreMeanReversion) Name() string { return "zscore_mean_reversion" }

func (z *ZScoreMeanReversion) zFor(symbol string) *indicators.ZScore {
	ind, ok := z.state[symbol]
	if !ok {
		ind = indicators.NewZScore(z.window)
		z.state[symbol] = ind
	}
	return ind
}

func (z *ZScoreMeanReversion) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	ind := z.zFor(tick.Symbol)
	ind.Observe(tick.Price)
	if !ind.Ready() {
		return nil
	}

	qty := snapshot.PositionQty(tick.Symbol)
	var orders []types.Order
	switch {
	case ind.Value.LessThan(z.entryZ.Neg()) && qty.LessThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(z.cfg, tick.Price)))
	case qty.IsPositive() && ind.Value.GreaterThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, qty))
	case z.cfg.EnableShorting && ind.Value.GreaterThan(z.entryZ) && qty.GreaterThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, sizeOrder(z.cfg, tick.Price)))
	case qty.IsNegative() && ind.Value.LessThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, qty.Abs()))
	}
	return orders
}

func (z *ZScoreMeanReversion) WarmupDone(symbol string) bool {
	ind, ok := z.state[symbol]
	return ok && ind.Ready()
}

func (z *ZScoreMeanReversion) Reset() { z.state = make(map[string]*indicators.ZScore) }
