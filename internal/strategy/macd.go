package strategy

import (
	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// MACDStrategy trades the MACD-line/signal-line crossover: buy when the
// line crosses above signal, exit when it crosses back below, using
// indicators.MACD for the fast/slow/signal EMA cascade.
type MACDStrategy struct {
	cfg                Config
	fast, slow, signal int
	state              map[string]*macdState
}

type macdState struct {
	macd       *indicators.MACD
	prevAbove  bool
	haveAbove  bool
}

// NewMACDStrategy creates a MACD crossover evaluator.
func NewMACDStrategy(cfg Config, fast, slow, signal int) *MACDStrategy {
	return &MACDStrategy{cfg: cfg, fast: fast, slow: slow, signal: signal, state: make(map[string]*macdState)}
}

func (m *MACDStrategy) Name() string { return "macd" }

func (m *MACDStrategy) stateFor(symbol string) *macdState {
	st, ok := m.state[symbol]
	if !ok {
		st = &macdState{macd: indicators.NewMACD(m.fast, m.slow, m.signal)}
		m.state[symbol] = st
	}
	return st
}

func (m *MACDStrategy) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	st := m.stateFor(tick.Symbol)
	st.macd.Observe(tick.Price)
	if !st.macd.Ready() {
		return nil
	}

	nowAbove := st.macd.Line.GreaterThan(st.macd.Signal)
	if !st.haveAbove {
		st.prevAbove = nowAbove
		st.haveAbove = true
		return nil
	}
	crossedUp := !st.prevAbove && nowAbove
	crossedDown := st.prevAbove && !nowAbove
	st.prevAbove = nowAbove

	qty := snapshot.PositionQty(tick.Symbol)
	var orders []types.Order
	switch {
	case crossedUp && qty.LessThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(m.cfg, tick.Price)))
	case crossedDown && qty.IsPositive():
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, qty))
	}
	return orders
}

func (m *MACDStrategy) WarmupDone(symbol string) bool {
	st, ok := m.state[symbol]
	return ok && st.macd.Ready()
}

func (m *MACDStrategy) Reset() { m.state = make(map[string]*macdState) }
