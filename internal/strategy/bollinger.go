package strategy

import (
	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// BollingerStrategy buys when price closes below the lower band and sells
// when it closes above the upper band (or returns to the midline while
// holding), the classic mean-reversion read of Bollinger bands.
type BollingerStrategy struct {
	cfg    Config
	window int
	k      decimal.Decimal
	state  map[string]*indicators.Bollinger
}

// NewBollingerStrategy creates a Bollinger-band mean-reversion evaluator.
func NewBollingerStrategy(cfg Config, window int, k decimal.Decimal) *BollingerStrategy {
	return &BollingerStrategy{cfg: cfg, window: window, k: k, state: make(map[string]*indicators.Bollinger)}
}

func (b *BollingerStrategy) Name() string { return "bollinger_bands" }

func (b *BollingerStrategy) bandFor(symbol string) *indicators.Bollinger {
	band, ok := b.state[symbol]
	if !ok {
		band = indicators.NewBollinger(b.window, b.k)
		b.state[symbol] = band
	}
	return band
}

func (b *BollingerStrategy) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	band := b.bandFor(tick.Symbol)
	band.Observe(tick.Price)
	if !band.Ready() {
		return nil
	}

	qty := snapshot.PositionQty(tick.Symbol)
	var orders []types.Order

	switch {
	case tick.Price.LessThan(band.Lower) && qty.LessThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(b.cfg, tick.Price)))
	case qty.IsPositive() && tick.Price.GreaterThanOrEqual(band.Mid):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, qty))
	case tick.Price.GreaterThan(band.Upper) && b.cfg.EnableShorting && qty.LessThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, sizeOrder(b.cfg, tick.Price)))
	}
	return orders
}

func (b *BollingerStrategy) WarmupDone(symbol string) bool {
	band, ok := b.state[symbol]
	return ok && band.Ready()
}

func (b *BollingerStrategy) Reset() { b.state = make(map[string]*indicators.Bollinger) }
