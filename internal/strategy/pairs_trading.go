package strategy

import (
	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// PairsTrading tracks the price ratio between two named symbols and
// trades its divergence from a rolling mean: when the spread widens past
// entryThreshold standard deviations, it longs the underperformer and
// (only when shorting is enabled) shorts the outperformer; it exits both
// legs once the spread reverts
// inside exitThreshold. Unlike the other
// evaluators this one only acts on the two configured symbols; ticks for
// any other symbol are ignored.
type PairsTrading struct {
	cfg            Config
	symbolA        string
	symbolB        string
	lookback       int
	entryThreshold decimal.Decimal
	exitThreshold  decimal.Decimal

	lastA, lastB   decimal.Decimal
	haveA, haveB   bool
	spreadZ        *indicators.ZScore
	inPosition     bool
}

// NewPairsTrading creates a pairs-trading evaluator for symbolA/symbolB.
func NewPairsTrading(cfg Config, symbolA, symbolB string, lookback int, entryThreshold decimal.Decimal) *PairsTrading {
	return &PairsTrading{
		cfg:            cfg,
		symbolA:        symbolA,
		symbolB:        symbolB,
		lookback:       lookback,
		entryThreshold: entryThreshold,
		exitThreshold:  decimal.NewFromFloat(0.5),
		spreadZ:        indicators.NewZScore(lookback),
	}
}

func (p *PairsTrading) Name() string { return "pairs_trading" }

func (p *PairsTrading) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	switch tick.Symbol {
	case p.symbolA:
		p.lastA, p.haveA = tick.Price, true
	case p.symbolB:
		p.lastB, p.haveB = tick.Price, true
	default:
		return nil
	}
	if !p.haveA || !p.haveB || p.lastB.IsZero() {
		return nil
	}

	spread := p.lastA.Div(p.lastB)
	p.spreadZ.Observe(spread)
	if !p.spreadZ.Ready() {
		return nil
	}

	var orders []types.Order
	z := p.spreadZ.Value

	switch {
	case !p.inPosition && z.GreaterThan(p.entryThreshold):
		// Spread too wide: A rich relative to B. Short A, long B.
		qtyA := sizeOrder(p.cfg, p.lastA)
		qtyB := sizeOrder(p.cfg, p.lastB)
		if p.cfg.EnableShorting {
			orders = append(orders, marketOrder(p.symbolA, types.OrderSideSell, qtyA))
		}
		orders = append(orders, marketOrder(p.symbolB, types.OrderSideBuy, qtyB))
		p.inPosition = true
	case !p.inPosition && z.LessThan(p.entryThreshold.Neg()):
		qtyA := sizeOrder(p.cfg, p.lastA)
		qtyB := sizeOrder(p.cfg, p.lastB)
		orders = append(orders, marketOrder(p.symbolA, types.OrderSideBuy, qtyA))
		if p.cfg.EnableShorting {
			orders = append(orders, marketOrder(p.symbolB, types.OrderSideSell, qtyB))
		}
		p.inPosition = true
	case p.inPosition && z.Abs().LessThanOrEqual(p.exitThreshold):
		qtyA := snapshot.PositionQty(p.symbolA)
		qtyB := snapshot.PositionQty(p.symbolB)
		if !qtyA.IsZero() {
			side := types.OrderSideSell
			if qtyA.IsNegative() {
				side = types.OrderSideBuy
			}
			orders = append(orders, marketOrder(p.symbolA, side, qtyA.Abs()))
		}
		if !qtyB.IsZero() {
			side := types.OrderSideSell
			if qtyB.IsNegative() {
				side = types.OrderSideBuy
			}
			orders = append(orders, marketOrder(p.symbolB, side, qtyB.Abs()))
		}
		p.inPosition = false
	}
	return orders
}

func (p *PairsTrading) WarmupDone(symbol string) bool {
	return p.haveA && p.haveB && p.spreadZ.Ready()
}

func (p *PairsTrading) Reset() {
	p.haveA, p.haveB, p.inPosition = false, false, false
	p.spreadZ = indicators.NewZScore(p.lookback)
}
