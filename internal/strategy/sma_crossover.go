package strategy

import (
	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// SMACrossover enters long on a bullish short/long SMA crossover and exits
// (or flips) on a bearish crossover, one independent pair of SMAs per
// symbol.
type SMACrossover struct {
	cfg         Config
	shortWindow int
	longWindow  int
	state       map[string]*smaCrossState
}

type smaCrossState struct {
	short        *indicators.SMA
	long         *indicators.SMA
	wasBullish   bool
	haveBaseline bool
}

// NewSMACrossover creates a crossover evaluator with the given short/long
// SMA window sizes.
func NewSMACrossover(cfg Config, shortWindow, longWindow int) *SMACrossover {
	return &SMACrossover{cfg: cfg, shortWindow: shortWindow, longWindow: longWindow, state: make(map[string]*smaCrossState)}
}

func (s *SMACrossover) Name() string { return "sma_crossover" }

func (s *SMACrossover) stateFor(symbol string) *smaCrossState {
	st, ok := s.state[symbol]
	if !ok {
		st = &smaCrossState{short: indicators.NewSMA(s.shortWindow), long: indicators.NewSMA(s.longWindow)}
		s.state[symbol] = st
	}
	return st
}

func (s *SMACrossover) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	st := s.stateFor(tick.Symbol)
	st.short.Observe(tick.Price)
	st.long.Observe(tick.Price)

	if !st.short.Ready() || !st.long.Ready() {
		return nil
	}

	nowBullish := st.short.Value.GreaterThan(st.long.Value)
	if !st.haveBaseline {
		st.wasBullish = nowBullish
		st.haveBaseline = true
		return nil
	}

	crossedUp := !st.wasBullish && nowBullish
	crossedDown := st.wasBullish && !nowBullish
	st.wasBullish = nowBullish

	qty := snapshot.PositionQty(tick.Symbol)
	var orders []types.Order

	switch {
	case crossedUp:
		if qty.IsNegative() {
			orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, qty.Abs()))
		}
		if qty.LessThanOrEqual(decimal.Zero) {
			orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(s.cfg, tick.Price)))
		}
	case crossedDown:
		if qty.IsPositive() {
			orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, qty))
		}
		if s.cfg.EnableShorting && qty.LessThanOrEqual(decimal.Zero) {
			orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, sizeOrder(s.cfg, tick.Price)))
		}
	}
	return orders
}

func (s *SMACrossover) WarmupDone(symbol string) bool {
	st, ok := s.state[symbol]
	return ok && st.short.Ready() && st.long.Ready()
}

func (s *SMACrossover) Reset() { s.state = make(map[string]*smaCrossState) }
