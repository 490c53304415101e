package strategy

import (
	"sort"

	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// CrossSectionalMomentum ranks every symbol in its universe by trailing
// return over a lookback window and, every rebalancePeriod ticks, targets
// the top percentile long and (if shorting is enabled) the bottom
// percentile short, flattening everything else. Rebalance is driven by a
// single global tick counter shared across all symbols, not a per-symbol
// one.
type CrossSectionalMomentum struct {
	cfg             Config
	lookback        int
	rebalancePeriod int
	longPercentile  decimal.Decimal
	shortPercentile decimal.Decimal
	minStocks       int

	priceHistory     map[string][]decimal.Decimal
	currentPrice     map[string]decimal.Decimal
	globalTickCount  int
	lastRebalanceAt  int
	targetLongs      map[string]bool
	targetShorts     map[string]bool
}

// NewCrossSectionalMomentum creates a rank-and-rebalance momentum
// evaluator. Shorting defaults off to match the long-only posture carried
// elsewhere in this library; the top 20% of the ranked universe (at
// least one symbol) is longed each rebalance.
func NewCrossSectionalMomentum(cfg Config, lookback, rebalancePeriod, minStocks int) *CrossSectionalMomentum {
	return &CrossSectionalMomentum{
		cfg:             cfg,
		lookback:        lookback,
		rebalancePeriod: rebalancePeriod,
		longPercentile:  decimal.NewFromFloat(0.2),
		shortPercentile: decimal.NewFromFloat(0.2),
		minStocks:       minStocks,
		priceHistory:    make(map[string][]decimal.Decimal),
		currentPrice:    make(map[string]decimal.Decimal),
		targetLongs:     make(map[string]bool),
		targetShorts:    make(map[string]bool),
	}
}

func (c *CrossSectionalMomentum) Name() string { return "cross_sectional_momentum" }

func (c *CrossSectionalMomentum) momentum(symbol string) (decimal.Decimal, bool) {
	prices := c.priceHistory[symbol]
	if len(prices) < c.lookback {
		return decimal.Zero, false
	}
	first := prices[len(prices)-c.lookback]
	last := prices[len(prices)-1]
	if first.IsZero() {
		return decimal.Zero, false
	}
	return last.Sub(first).Div(first), true
}

func (c *CrossSectionalMomentum) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	if tick.Price.Sign() <= 0 {
		return nil
	}

	hist, ok := c.priceHistory[tick.Symbol]
	if !ok {
		hist = make([]decimal.Decimal, 0, c.lookback+10)
	}
	hist = append(hist, tick.Price)
	if len(hist) > c.lookback+10 {
		hist = hist[len(hist)-(c.lookback+10):]
	}
	c.priceHistory[tick.Symbol] = hist
	c.currentPrice[tick.Symbol] = tick.Price

	c.globalTickCount++
	if c.globalTickCount-c.lastRebalanceAt < c.rebalancePeriod {
		return nil
	}
	c.lastRebalanceAt = c.globalTickCount

	type scored struct {
		symbol   string
		momentum decimal.Decimal
	}
	var valid []scored
	for symbol := range c.priceHistory {
		if m, ok := c.momentum(symbol); ok {
			valid = append(valid, scored{symbol, m})
		}
	}
	if len(valid) < c.minStocks {
		return nil
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i].momentum.GreaterThan(valid[j].momentum) })

	nLong := int(decimal.NewFromInt(int64(len(valid))).Mul(c.longPercentile).IntPart())
	if nLong < 1 {
		nLong = 1
	}
	nShort := 0
	if c.cfg.EnableShorting {
		nShort = int(decimal.NewFromInt(int64(len(valid))).Mul(c.shortPercentile).IntPart())
		if nShort < 1 {
			nShort = 1
		}
	}

	c.targetLongs = make(map[string]bool)
	c.targetShorts = make(map[string]bool)
	for i := 0; i < nLong && i < len(valid); i++ {
		c.targetLongs[valid[i].symbol] = true
	}
	for i := 0; i < nShort && i < len(valid); i++ {
		c.targetShorts[valid[len(valid)-1-i].symbol] = true
	}

	var orders []types.Order
	for symbol := range c.priceHistory {
		price := c.currentPrice[symbol]
		if price.Sign() <= 0 {
			continue
		}
		currentQty := snapshot.PositionQty(symbol)

		var targetQty decimal.Decimal
		switch {
		case c.targetLongs[symbol]:
			targetQty = sizeOrder(c.cfg, price)
		case c.targetShorts[symbol]:
			targetQty = sizeOrder(c.cfg, price).Neg()
		default:
			targetQty = decimal.Zero
		}

		diff := targetQty.Sub(currentQty)
		if diff.IsZero() {
			continue
		}
		if diff.IsPositive() {
			orders = append(orders, marketOrder(symbol, types.OrderSideBuy, diff))
		} else {
			orders = append(orders, marketOrder(symbol, types.OrderSideSell, diff.Abs()))
		}
	}
	return orders
}

func (c *CrossSectionalMomentum) WarmupDone(symbol string) bool {
	_, ok := c.momentum(symbol)
	return ok
}

func (c *CrossSectionalMomentum) Reset() {
	c.priceHistory = make(map[string][]decimal.Decimal)
	c.currentPrice = make(map[string]decimal.Decimal)
	c.globalTickCount = 0
	c.lastRebalanceAt = 0
	c.targetLongs = make(map[string]bool)
	c.targetShorts = make(map[string]bool)
}
