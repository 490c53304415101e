package strategy

import (
	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// VWAPReversion buys when price trades deviationPct below the running
// VWAP and sells when it trades deviationPct above.
type VWAPReversion struct {
	cfg           Config
	deviationPct  decimal.Decimal
	state         map[string]*indicators.VWAP
}

// NewVWAPReversion creates a VWAP mean-reversion evaluator. The VWAP
// accumulators are never reset.
func NewVWAPReversion(cfg Config, deviationPct decimal.Decimal) *VWAPReversion {
	return &VWAPReversion{cfg: cfg, deviationPct: deviationPct.Div(decimal.NewFromInt(100)), state: make(map[string]*indicators.VWAP)}
}

func (v *VWAPReversion) Name() string { return "vwap_reversion" }

func (v *VWAPReversion) vwapFor(symbol string) *indicators.VWAP {
	ind, ok := v.state[symbol]
	if !ok {
		ind = indicators.NewVWAP(0)
		v.state[symbol] = ind
	}
	return ind
}

func (v *VWAPReversion) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	ind := v.vwapFor(tick.Symbol)
	ind.Observe(tick.Price, tick.Size)
	if !ind.Ready() {
		return nil
	}

	lowerBand := ind.Value.Mul(decimal.NewFromInt(1).Sub(v.deviationPct))
	upperBand := ind.Value.Mul(decimal.NewFromInt(1).Add(v.deviationPct))

	qty := snapshot.PositionQty(tick.Symbol)
	var orders []types.Order
	switch {
	case tick.Price.LessThan(lowerBand) && qty.LessThanOrEqual(decimal.Zero):
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideBuy, sizeOrder(v.cfg, tick.Price)))
	case tick.Price.GreaterThan(upperBand) && qty.IsPositive():
		orders = append(orders, marketOrder(tick.Symbol, types.OrderSideSell, qty))
	}
	return orders
}

func (v *VWAPReversion) WarmupDone(symbol string) bool {
	ind, ok := v.state[symbol]
	return ok && ind.Ready()
}

func (v *VWAPReversion) Reset() { v.state = make(map[string]*indicators.VWAP) }
