package strategy

import (
	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

var (
	stochOversold   = decimal.NewFromInt(20)
	stochOverbought = decimal.NewFromInt(80)
)

// StochasticStrategy buys when %K crosses up through %D while %K is in
// oversold territory and sells on the mirrored overbought crossover.
type StochasticStrategy struct {
	cfg                Config
	kWindow, d, slowing int
	state              map[string]*stochState
}

type stochState struct {
	stoch     *indicators.Stochastic
	prevAbove bool
	have      bool
}

// NewStochasticStrategy creates a stochastic-oscillator crossover
// evaluator.
func NewStochasticStrategy(cfg Config, kWindow, d, slowing int) *StochasticStrategy {
	return &StochasticStrategy{cfg: cfg, kWindow: kWindow, d: d, slowing: slowing, state: make(map[string]*stochState)}
}

func (s *StochasticStrategy) Name() string { return "stochastic" }

func (s *StochasticStrategy) stateFor(symbol string) *stochState {
	st, ok := s.state[symbol]
	if !ok {
		st = &stochState{stoch: indicators.NewStochastic(s.kWindow, s.d, s.slowing)}
		s.state[symbol] = st
	}
	return st
}

func (s *StochasticStrategy) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	st := s.stateFor(tick.Symbol)
	st.stoch.Observe(tick.Price)
	if !st.stoch.Ready() {
		return nil
	}

	nowAbove := st.stoch.PercentK.GreaterThan(st.stoch.PercentD)
	if !st.have {
		st.prevAbove = nowAbove
		st.have = true
		return nil
	}
	crossedUp := !st.prevAbove && nowAbove
	crossedDown := st.prevAbove && !nowAbove
	st.prevAbove = nowAbove

	qty := snapshot.PositionQty(tick.Symbol)
	var orders []types.Order
	switch {
	case crossedUp && st.stoch.PercentK.LessThan(stochOversold) && qty.LessThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(s.cfg, tick.Price)))
	case crossedDown && st.stoch.PercentK.GreaterThan(stochOverbought) && qty.IsPositive():
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, qty))
	}
	return orders
}

func (s *StochasticStrategy) WarmupDone(symbol string) bool {
	st, ok := s.state[symbol]
	return ok && st.stoch.Ready()
}

func (s *StochasticStrategy) Reset() { s.state = make(map[string]*stochState) }
