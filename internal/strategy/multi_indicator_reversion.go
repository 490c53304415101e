package strategy

import (
	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// MultiIndicatorReversion combines RSI, Bollinger-band position, and
// distance from a moving average into a weighted composite score in
// [-100, 100], trading when the composite crosses entryScore (extreme
// oversold => long) and exiting at exitScore. Weights default to
// rsi=0.4, bollinger=0.35, ma_distance=0.25.
type MultiIndicatorReversion struct {
	cfg        Config
	entryScore decimal.Decimal
	exitScore  decimal.Decimal
	wRSI       decimal.Decimal
	wBollinger decimal.Decimal
	wMADist    decimal.Decimal
	state      map[string]*multiIndicatorState
}

type multiIndicatorState struct {
	rsi  *indicators.RSI
	boll *indicators.Bollinger
	sma  *indicators.SMA
}

// NewMultiIndicatorReversion creates a composite-score mean-reversion
// evaluator with the default weights and thresholds.
func NewMultiIndicatorReversion(cfg Config) *MultiIndicatorReversion {
	return &MultiIndicatorReversion{
		cfg:        cfg,
		entryScore: decimal.NewFromInt(60),
		exitScore:  decimal.Zero,
		wRSI:       decimal.NewFromFloat(0.4),
		wBollinger: decimal.NewFromFloat(0.35),
		wMADist:    decimal.NewFromFloat(0.25),
		state:      make(map[string]*multiIndicatorState),
	}
}

func (m *MultiIndicatorReversion) Name() string { return "multi_indicator_reversion" }

func (m *MultiIndicatorReversion) stateFor(symbol string) *multiIndicatorState {
	st, ok := m.state[symbol]
	if !ok {
		st = &multiIndicatorState{
			rsi:  indicators.NewRSI(14),
			boll: indicators.NewBollinger(20, decimal.NewFromInt(2)),
			sma:  indicators.NewSMA(20),
		}
		m.state[symbol] = st
	}
	return st
}

// score returns a composite in [-100, 100] where positive means oversold
// (buy candidate) and negative means overbought (sell candidate).
func (m *MultiIndicatorReversion) score(st *multiIndicatorState, price decimal.Decimal) decimal.Decimal {
	rsiScore := decimal.NewFromInt(50).Sub(st.rsi.Value).Mul(decimal.NewFromInt(2)) // RSI 0->+100, 100->-100
	bollScore := decimal.Zero
	if width := st.boll.Upper.Sub(st.boll.Lower); width.IsPositive() {
		mid := st.boll.Mid
		bollScore = mid.Sub(price).Div(width.Div(decimal.NewFromInt(2))).Mul(decimal.NewFromInt(100))
	}
	maDistScore := decimal.Zero
	if st.sma.Value.IsPositive() {
		maDistScore = st.sma.Value.Sub(price).Div(st.sma.Value).Mul(decimal.NewFromInt(100))
	}
	return rsiScore.Mul(m.wRSI).Add(bollScore.Mul(m.wBollinger)).Add(maDistScore.Mul(m.wMADist))
}

func (m *MultiIndicatorReversion) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	st := m.stateFor(tick.Symbol)
	st.rsi.Observe(tick.Price)
	st.boll.Observe(tick.Price)
	st.sma.Observe(tick.Price)
	if !st.rsi.Ready() || !st.boll.Ready() || !st.sma.Ready() {
		return nil
	}

	composite := m.score(st, tick.Price)
	qty := snapshot.PositionQty(tick.Symbol)

	var orders []types.Order
	switch {
	case composite.GreaterThan(m.entryScore) && qty.LessThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(m.cfg, tick.Price)))
	case qty.IsPositive() && composite.LessThanOrEqual(m.exitScore):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, qty))
	}
	return orders
}

func (m *MultiIndicatorReversion) WarmupDone(symbol string) bool {
	st, ok := m.state[symbol]
	return ok && st.rsi.Ready() && st.boll.Ready() && st.sma.Ready()
}

func (m *MultiIndicatorReversion) Reset() { m.state = make(map[string]*multiIndicatorState) }
