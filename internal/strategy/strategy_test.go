package strategy_test

import (
	"testing"

	"github.com/quantframe/streamalpha/internal/strategy"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tick(symbol string, price float64) types.Tick {
	return types.Tick{Symbol: symbol, Price: decimal.NewFromFloat(price), Size: decimal.NewFromInt(1)}
}

func emptySnapshot() strategy.PortfolioSnapshot {
	return strategy.PortfolioSnapshot{Positions: map[string]*types.Position{}}
}

func TestRegistryListsAllBuiltins(t *testing.T) {
	reg := strategy.NewRegistry(zap.NewNop())
	names := reg.List()
	require.GreaterOrEqual(t, len(names), 18)

	for _, name := range []string{"sma_crossover", "rsi", "bollinger_bands", "macd", "donchian_breakout", "adx_trend", "opening_range_breakout", "cross_sectional_momentum", "dca", "grid"} {
		_, ok := reg.Create(name)
		require.True(t, ok, "expected evaluator %q to be registered", name)
	}
}

func TestSMACrossoverEntersOnBullishCross(t *testing.T) {
	eval := strategy.NewSMACrossover(strategy.DefaultConfig(), 3, 5)
	prices := []float64{100, 100, 100, 100, 100, 101, 102, 103, 104, 105}

	snap := emptySnapshot()
	var all []types.Order
	var fireTick int
	for i, p := range prices {
		got := eval.OnTick(tick("BTC/USDT", p), snap)
		if len(got) > 0 && fireTick == 0 {
			fireTick = i + 1
		}
		all = append(all, got...)
	}

	// The warm-up baseline is set at tick 5, the first tick both SMAs
	// are full (short = long = 100). The edge fires exactly once, at
	// the first tick where the short SMA moves above the long SMA —
	// tick 6 for this flat-then-rising tape — and stays silent on every
	// later tick even though the short SMA remains above the long SMA.
	require.Len(t, all, 1, "a single rising crossover must emit exactly one order")
	require.Equal(t, types.OrderSideBuy, all[0].Side)
	require.Equal(t, 6, fireTick, "edge fires on the first short>long transition after the baseline")

	for i := 1; i <= 4; i++ {
		// Re-asserting the warm-up boundary: a fresh evaluator emits
		// nothing before both windows are full.
		warm := strategy.NewSMACrossover(strategy.DefaultConfig(), 3, 5)
		var early []types.Order
		for _, p := range prices[:i] {
			early = append(early, warm.OnTick(tick("BTC/USDT", p), snap)...)
		}
		require.Empty(t, early, "no orders during warm-up (tick %d)", i)
	}
}

func TestSMACrossoverExitsOnBearishCrossAfterLong(t *testing.T) {
	eval := strategy.NewSMACrossover(strategy.DefaultConfig(), 3, 5)
	up := []float64{100, 100, 100, 100, 100, 101, 102, 103, 104, 105}
	down := []float64{104, 103, 102, 101, 100, 99, 98}

	snap := strategy.PortfolioSnapshot{Positions: map[string]*types.Position{
		"BTC/USDT": {Symbol: "BTC/USDT", Quantity: decimal.NewFromInt(10)},
	}}

	for _, p := range up {
		eval.OnTick(tick("BTC/USDT", p), emptySnapshot())
	}
	var orders []types.Order
	for _, p := range down {
		orders = eval.OnTick(tick("BTC/USDT", p), snap)
		if len(orders) > 0 {
			break
		}
	}

	require.NotEmpty(t, orders)
	require.Equal(t, types.OrderSideSell, orders[0].Side)
}

func TestRSIStrategyBuysOnOversoldRecovery(t *testing.T) {
	eval := strategy.NewRSIStrategy(strategy.DefaultConfig(), 3, decimal.NewFromInt(30), decimal.NewFromInt(70))
	snap := emptySnapshot()

	prices := []float64{100, 95, 90, 85, 92, 98}
	var orders []types.Order
	for _, p := range prices {
		got := eval.OnTick(tick("ETH/USDT", p), snap)
		if len(got) > 0 {
			orders = got
		}
	}
	require.NotEmpty(t, orders)
}

func TestDCATriggersOnScheduleAndDip(t *testing.T) {
	eval := strategy.NewDCA(strategy.DefaultConfig(), 3, decimal.NewFromFloat(0.05))
	snap := emptySnapshot()

	orders := eval.OnTick(tick("SOL/USDT", 100), snap)
	require.Empty(t, orders) // first tick just seeds lastPrice

	eval.OnTick(tick("SOL/USDT", 100), snap)
	orders = eval.OnTick(tick("SOL/USDT", 100), snap)
	require.Len(t, orders, 1, "scheduled buy should fire on the 3rd tick")
}

func TestGridTriggersBuyBelowBase(t *testing.T) {
	eval := strategy.NewGrid(strategy.DefaultConfig(), decimal.NewFromFloat(0.01), 2)
	snap := emptySnapshot()

	eval.OnTick(tick("SOL/USDT", 100), snap) // seeds base price
	orders := eval.OnTick(tick("SOL/USDT", 98.9), snap)
	require.NotEmpty(t, orders)
	require.Equal(t, types.OrderSideBuy, orders[0].Side)
}

func TestCrossSectionalMomentumRebalancesAcrossUniverse(t *testing.T) {
	eval := strategy.NewCrossSectionalMomentum(strategy.DefaultConfig(), 5, 5, 2)
	snap := emptySnapshot()

	symbols := []string{"AAA", "BBB"}
	prices := map[string][]float64{
		"AAA": {100, 101, 102, 103, 104, 110},
		"BBB": {100, 99, 98, 97, 96, 90},
	}

	var lastOrders []types.Order
	for i := 0; i < 6; i++ {
		for _, s := range symbols {
			got := eval.OnTick(tick(s, prices[s][i]), snap)
			if len(got) > 0 {
				lastOrders = got
			}
		}
	}

	require.NotEmpty(t, lastOrders, "expected a rebalance once the lookback and rebalance period elapse")
}

func TestSMACrossoverSizesOrderFromDollarBudget(t *testing.T) {
	cfg := strategy.Config{
		PositionSizeUSD: decimal.NewFromInt(500),
		MaxPosition:     decimal.NewFromInt(100),
	}
	eval := strategy.NewSMACrossover(cfg, 3, 5)

	prices := []float64{100, 100, 100, 100, 100, 101, 102, 103, 104, 105}
	snap := emptySnapshot()
	var orders []types.Order
	for _, p := range prices {
		orders = append(orders, eval.OnTick(tick("X", p), snap)...)
	}

	// The crossover fires once, at the first short>long transition
	// (price 101): floor($500 / $101) = 4 shares, the same share count
	// the $105 worked example lands on.
	require.Len(t, orders, 1)
	require.Equal(t, types.OrderSideBuy, orders[0].Side)
	require.True(t, orders[0].Quantity.Equal(decimal.NewFromInt(4)),
		"expected 4 shares, got %s", orders[0].Quantity)
}

func TestCrossSectionalBelowMinStocksEmitsNothing(t *testing.T) {
	eval := strategy.NewCrossSectionalMomentum(strategy.DefaultConfig(), 3, 3, 5)
	snap := emptySnapshot()

	// Only two symbols ever tick; min_stocks is 5, so the rebalance
	// boundary must come and go without orders.
	for i := 0; i < 12; i++ {
		for _, s := range []string{"AAA", "BBB"} {
			orders := eval.OnTick(tick(s, 100+float64(i)), snap)
			require.Empty(t, orders, "rebalance with too few symbols must stay silent")
		}
	}
}
