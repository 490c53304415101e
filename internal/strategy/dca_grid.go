package strategy

import (
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// DCA buys a fixed position size on a schedule (every `interval` ticks)
// plus opportunistically on any dip of at least dropThreshold from the
// last buy price.
type DCA struct {
	cfg           Config
	interval      int
	dropThreshold decimal.Decimal
	state         map[string]*dcaState
}

type dcaState struct {
	tickCount  int
	lastBuyAt  int
	lastPrice  decimal.Decimal
	havePrice  bool
}

// NewDCA creates a scheduled dollar-cost-averaging evaluator.
func NewDCA(cfg Config, interval int, dropThreshold decimal.Decimal) *DCA {
	return &DCA{cfg: cfg, interval: interval, dropThreshold: dropThreshold, state: make(map[string]*dcaState)}
}

func (d *DCA) Name() string { return "dca" }

func (d *DCA) stateFor(symbol string) *dcaState {
	st, ok := d.state[symbol]
	if !ok {
		st = &dcaState{}
		d.state[symbol] = st
	}
	return st
}

func (d *DCA) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	st := d.stateFor(tick.Symbol)
	st.tickCount++

	scheduledBuy := st.tickCount-st.lastBuyAt >= d.interval
	dipBuy := false
	if st.havePrice && st.lastPrice.IsPositive() {
		drop := st.lastPrice.Sub(tick.Price).Div(st.lastPrice)
		dipBuy = drop.GreaterThanOrEqual(d.dropThreshold)
	}

	var orders []types.Order
	if scheduledBuy || dipBuy {
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(d.cfg, tick.Price)))
		st.lastBuyAt = st.tickCount
		st.lastPrice = tick.Price
		st.havePrice = true
	} else if !st.havePrice {
		st.lastPrice = tick.Price
		st.havePrice = true
	}
	return orders
}

func (d *DCA) WarmupDone(symbol string) bool {
	st, ok := d.state[symbol]
	return ok && st.havePrice
}

func (d *DCA) Reset() { d.state = make(map[string]*dcaState) }

// Grid places a ladder of buy orders below the base price and sell orders
// above it, spaced gridSize apart, one level per tick crossing. The
// base price is set on the first tick per symbol rather than at
// construction time.
type Grid struct {
	cfg       Config
	gridSize  decimal.Decimal
	levels    int
	state     map[string]*gridState
}

type gridState struct {
	basePrice  decimal.Decimal
	haveBase   bool
	crossed    map[int]bool // level index -> already triggered this pass
}

// NewGrid creates a grid-trading evaluator with gridSize fractional
// spacing (e.g. 0.01 = 1%) and the given number of levels above/below
// base price.
func NewGrid(cfg Config, gridSize decimal.Decimal, levels int) *Grid {
	return &Grid{cfg: cfg, gridSize: gridSize, levels: levels, state: make(map[string]*gridState)}
}

func (g *Grid) Name() string { return "grid" }

func (g *Grid) stateFor(symbol string) *gridState {
	st, ok := g.state[symbol]
	if !ok {
		st = &gridState{crossed: make(map[int]bool)}
		g.state[symbol] = st
	}
	return st
}

func (g *Grid) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	st := g.stateFor(tick.Symbol)
	if !st.haveBase {
		st.basePrice = tick.Price
		st.haveBase = true
		return nil
	}

	var orders []types.Order
	for level := 1; level <= g.levels; level++ {
		offset := g.gridSize.Mul(decimal.NewFromInt(int64(level)))
		buyLevel := st.basePrice.Mul(decimal.NewFromInt(1).Sub(offset))
		sellLevel := st.basePrice.Mul(decimal.NewFromInt(1).Add(offset))

		if tick.Price.LessThanOrEqual(buyLevel) && !st.crossed[-level] {
			st.crossed[-level] = true
			orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(g.cfg, tick.Price)))
		}
		if tick.Price.GreaterThanOrEqual(sellLevel) && !st.crossed[level] {
			st.crossed[level] = true
			qty := snapshot.PositionQty(tick.Symbol)
			if qty.IsPositive() {
				sellQty := sizeOrder(g.cfg, tick.Price)
				if sellQty.GreaterThan(qty) {
					sellQty = qty
				}
				orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, sellQty))
			}
		}
	}
	return orders
}

func (g *Grid) WarmupDone(symbol string) bool {
	st, ok := g.state[symbol]
	return ok && st.haveBase
}

func (g *Grid) Reset() { g.state = make(map[string]*gridState) }
