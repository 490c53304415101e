package strategy

import (
	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// VolumeBreakout buys when volume spikes above volumeMultiplier times its
// trailing average alongside confirming upward price momentum, and closes
// the position after holdTicks ticks if it hasn't already been stopped
// out by reversal.
type VolumeBreakout struct {
	cfg               Config
	volumeMultiplier  decimal.Decimal
	momentumPeriod    int
	minPriceChangePct decimal.Decimal
	holdTicks         int
	state             map[string]*volumeBreakoutState
}

type volumeBreakoutState struct {
	avgVolume   *indicators.SMA
	prices      []decimal.Decimal
	heldTicks   int
}

// NewVolumeBreakout creates a volume-confirmed breakout evaluator.
func NewVolumeBreakout(cfg Config, volumePeriod int, volumeMultiplier decimal.Decimal) *VolumeBreakout {
	return &VolumeBreakout{
		cfg:               cfg,
		volumeMultiplier:  volumeMultiplier,
		momentumPeriod:    5,
		minPriceChangePct: decimal.NewFromFloat(0.01),
		holdTicks:         50,
		state:             make(map[string]*volumeBreakoutState),
	}
}

func (v *VolumeBreakout) Name() string { return "volume_breakout" }

func (v *VolumeBreakout) stateFor(symbol string) *volumeBreakoutState {
	st, ok := v.state[symbol]
	if !ok {
		st = &volumeBreakoutState{avgVolume: indicators.NewSMA(20)}
		v.state[symbol] = st
	}
	return st
}

func (v *VolumeBreakout) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	st := v.stateFor(tick.Symbol)
	st.avgVolume.Observe(tick.Size)
	st.prices = append(st.prices, tick.Price)
	if len(st.prices) > v.momentumPeriod+1 {
		st.prices = st.prices[len(st.prices)-(v.momentumPeriod+1):]
	}

	qty := snapshot.PositionQty(tick.Symbol)
	var orders []types.Order

	if qty.IsPositive() {
		st.heldTicks++
		if st.heldTicks >= v.holdTicks || tick.Price.LessThan(st.prices[0]) {
			orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, qty))
			st.heldTicks = 0
		}
		return orders
	}

	if !st.avgVolume.Ready() || len(st.prices) <= v.momentumPeriod {
		return nil
	}

	volumeSpike := tick.Size.GreaterThan(st.avgVolume.Value.Mul(v.volumeMultiplier))
	base := st.prices[0]
	priceChange := decimal.Zero
	if base.IsPositive() {
		priceChange = tick.Price.Sub(base).Div(base)
	}

	if volumeSpike && priceChange.GreaterThan(v.minPriceChangePct) {
		st.heldTicks = 0
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(v.cfg, tick.Price)))
	}
	return orders
}

func (v *VolumeBreakout) WarmupDone(symbol string) bool {
	st, ok := v.state[symbol]
	return ok && st.avgVolume.Ready() && len(st.prices) > v.momentumPeriod
}

func (v *VolumeBreakout) Reset() { v.state = make(map[string]*volumeBreakoutState) }
