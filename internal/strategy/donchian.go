package strategy

import (
	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// DonchianBreakout enters long on a close above the entry-window high and
// exits on a close below the (narrower) exit-window low, tracked by
// indicators.Donchian's two independently sized ring buffers.
type DonchianBreakout struct {
	cfg                      Config
	entryWindow, exitWindow  int
	state                    map[string]*indicators.Donchian
}

// NewDonchianBreakout creates a dual-window Donchian breakout evaluator.
func NewDonchianBreakout(cfg Config, entryWindow, exitWindow int) *DonchianBreakout {
	return &DonchianBreakout{cfg: cfg, entryWindow: entryWindow, exitWindow: exitWindow, state: make(map[string]*indicators.Donchian)}
}

func (d *DonchianBreakout) Name() string { return "donchian_breakout" }

func (d *DonchianBreakout) channelFor(symbol string) *indicators.Donchian {
	ch, ok := d.state[symbol]
	if !ok {
		ch = indicators.NewDonchian(d.entryWindow, d.exitWindow)
		d.state[symbol] = ch
	}
	return ch
}

func (d *DonchianBreakout) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	ch := d.channelFor(tick.Symbol)
	ch.Observe(tick.Price)
	if !ch.Ready() {
		return nil
	}

	qty := snapshot.PositionQty(tick.Symbol)
	var orders []types.Order

	switch {
	case tick.Price.GreaterThan(ch.EntryHigh) && qty.LessThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(d.cfg, tick.Price)))
	case qty.IsPositive() && tick.Price.LessThan(ch.ExitLow):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, qty))
	}
	return orders
}

func (d *DonchianBreakout) WarmupDone(symbol string) bool {
	ch, ok := d.state[symbol]
	return ok && ch.Ready()
}

func (d *DonchianBreakout) Reset() { d.state = make(map[string]*indicators.Donchian) }
