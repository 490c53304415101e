package strategy

import (
	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// KeltnerChannel trades EMA +/- atrMultiplier*ATR bands in breakout mode:
// buy on a close above the upper band, exit on a close back below the
// midline EMA.
type KeltnerChannel struct {
	cfg           Config
	emaPeriod     int
	atrPeriod     int
	atrMultiplier decimal.Decimal
	state         map[string]*keltnerState
}

type keltnerState struct {
	ema *indicators.EMA
	atr *indicators.ATR
}

// NewKeltnerChannel creates a Keltner-channel breakout evaluator.
func NewKeltnerChannel(cfg Config, emaPeriod, atrPeriod int, atrMultiplier decimal.Decimal) *KeltnerChannel {
	return &KeltnerChannel{cfg: cfg, emaPeriod: emaPeriod, atrPeriod: atrPeriod, atrMultiplier: atrMultiplier, state: make(map[string]*keltnerState)}
}

func (k *KeltnerChannel) Name() string { return "keltner_channel" }

func (k *KeltnerChannel) stateFor(symbol string) *keltnerState {
	st, ok := k.state[symbol]
	if !ok {
		st = &keltnerState{ema: indicators.NewEMA(k.emaPeriod), atr: indicators.NewATR(k.atrPeriod)}
		k.state[symbol] = st
	}
	return st
}

func (k *KeltnerChannel) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	st := k.stateFor(tick.Symbol)
	st.ema.Observe(tick.Price)
	st.atr.Observe(tick.Price)
	if !st.ema.Ready() || !st.atr.Ready() {
		return nil
	}

	upper := st.ema.Value.Add(k.atrMultiplier.Mul(st.atr.Value))
	qty := snapshot.PositionQty(tick.Symbol)

	var orders []types.Order
	switch {
	case tick.Price.GreaterThan(upper) && qty.LessThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(k.cfg, tick.Price)))
	case qty.IsPositive() && tick.Price.LessThan(st.ema.Value):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, qty))
	}
	return orders
}

func (k *KeltnerChannel) WarmupDone(symbol string) bool {
	st, ok := k.state[symbol]
	return ok && st.ema.Ready() && st.atr.Ready()
}

func (k *KeltnerChannel) Reset() { k.state = make(map[string]*keltnerState) }
