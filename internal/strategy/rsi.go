package strategy

import (
	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// RSIStrategy buys when RSI crosses up out of oversold territory and
// sells/exits when it crosses down out of overbought territory, a plain
// threshold cross over indicators.RSI's Wilder recurrence.
type RSIStrategy struct {
	cfg        Config
	period     int
	oversold   decimal.Decimal
	overbought decimal.Decimal
	state      map[string]*rsiState
}

type rsiState struct {
	rsi  *indicators.RSI
	prev decimal.Decimal
	have bool
}

// NewRSIStrategy creates an RSI threshold-cross evaluator.
func NewRSIStrategy(cfg Config, period int, oversold, overbought decimal.Decimal) *RSIStrategy {
	return &RSIStrategy{cfg: cfg, period: period, oversold: oversold, overbought: overbought, state: make(map[string]*rsiState)}
}

func (r *RSIStrategy) Name() string { return "rsi" }

func (r *RSIStrategy) stateFor(symbol string) *rsiState {
	st, ok := r.state[symbol]
	if !ok {
		st = &rsiState{rsi: indicators.NewRSI(r.period)}
		r.state[symbol] = st
	}
	return st
}

func (r *RSIStrategy) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	st := r.stateFor(tick.Symbol)
	prev := st.rsi.Value
	hadPrev := st.have
	st.rsi.Observe(tick.Price)
	st.have = true

	if !st.rsi.Ready() || !hadPrev {
		return nil
	}

	qty := snapshot.PositionQty(tick.Symbol)
	var orders []types.Order

	crossedUpFromOversold := prev.LessThanOrEqual(r.oversold) && st.rsi.Value.GreaterThan(r.oversold)
	crossedDownFromOverbought := prev.GreaterThanOrEqual(r.overbought) && st.rsi.Value.LessThan(r.overbought)

	switch {
	case crossedUpFromOversold && qty.LessThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(r.cfg, tick.Price)))
	case crossedDownFromOverbought && qty.IsPositive():
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, qty))
	}
	return orders
}

func (r *RSIStrategy) WarmupDone(symbol string) bool {
	st, ok := r.state[symbol]
	return ok && st.rsi.Ready()
}

func (r *RSIStrategy) Reset() { r.state = make(map[string]*rsiState) }
