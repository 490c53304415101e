// Package tests provides cross-package integration tests for the
// trading pipeline: strategy -> risk -> validation -> matching ->
// portfolio -> event log, driven end to end over scripted tick streams.
package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantframe/streamalpha/internal/backtester"
	"github.com/quantframe/streamalpha/internal/data"
	"github.com/quantframe/streamalpha/internal/eventlog"
	"github.com/quantframe/streamalpha/internal/execution"
	"github.com/quantframe/streamalpha/internal/meta"
	"github.com/quantframe/streamalpha/internal/risk"
	"github.com/quantframe/streamalpha/internal/strategy"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/quantframe/streamalpha/pkg/utils"
)

// scriptedEvaluator emits a fixed order list at chosen tick indices,
// independent of market state. It lets the pipeline tests control
// exactly what enters the order path.
type scriptedEvaluator struct {
	script map[int][]types.Order
	tick   int
}

func (s *scriptedEvaluator) Name() string { return "scripted" }

func (s *scriptedEvaluator) OnTick(tick types.Tick, snapshot strategy.PortfolioSnapshot) []types.Order {
	s.tick++
	return s.script[s.tick]
}

func (s *scriptedEvaluator) WarmupDone(symbol string) bool { return true }
func (s *scriptedEvaluator) Reset()                        { s.tick = 0 }

// zeroCostConfig always fills in full at the unadjusted market price.
func zeroCostConfig() execution.MatchingEngineConfig {
	return execution.MatchingEngineConfig{
		FillProbability:        decimal.NewFromInt(1),
		PartialFillProbability: decimal.Zero,
		CancelProbability:      decimal.Zero,
		MarketImpact:           decimal.Zero,
		CommissionPerShare:     decimal.Zero,
		BidAskSpreadBps:        decimal.Zero,
		SECFeeRate:             decimal.Zero,
		LiquidityImpactFactor:  decimal.Zero,
	}
}

// wideStops keeps the risk layer from interfering with scripted flows.
func wideStops() risk.StopLossConfig {
	return risk.StopLossConfig{
		PositionStopPct:      decimal.NewFromInt(90),
		TrailingStopPct:      decimal.NewFromInt(90),
		PortfolioStopPct:     decimal.NewFromInt(95),
		MaxDrawdownPct:       decimal.NewFromInt(95),
		EnableCircuitBreaker: false,
	}
}

func ticksFor(symbol string, start time.Time, prices ...float64) []types.Tick {
	out := make([]types.Tick, len(prices))
	for i, p := range prices {
		out[i] = types.Tick{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Price:     decimal.NewFromFloat(p),
			Size:      decimal.NewFromInt(1000),
		}
	}
	return out
}

func newDriver(
	t *testing.T,
	ev strategy.Evaluator,
	initialCash float64,
	matchCfg execution.MatchingEngineConfig,
	stopCfg risk.StopLossConfig,
	seed int64,
	eventLog *eventlog.Writer,
) (*backtester.Driver, *backtester.Portfolio) {
	t.Helper()
	logger := zap.NewNop()
	cash := decimal.NewFromFloat(initialCash)
	portfolio := backtester.NewPortfolio(cash)
	validator := execution.NewValidator(logger, execution.DefaultValidationConfig())
	matching := execution.NewMatchingEngine(logger, matchCfg, rand.New(rand.NewSource(seed)))
	riskMgr := risk.NewManager(logger, stopCfg, cash)
	driver := backtester.NewDriver(logger, backtester.DefaultDriverConfig(),
		ev, portfolio, validator, matching, riskMgr, eventLog)
	return driver, portfolio
}

// Round-trip law: buy q at p1, sell q at p2 with zero transaction costs
// realizes q*(p2-p1), moves cash by the same amount, and leaves the
// position flat.
func TestRoundTripRealizedPnL(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	buy := types.Order{Symbol: "X", Side: types.OrderSideBuy, Type: types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(100), Status: types.OrderStatusPending}
	sell := types.Order{Symbol: "X", Side: types.OrderSideSell, Type: types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(100), Status: types.OrderStatusPending}

	ev := &scriptedEvaluator{script: map[int][]types.Order{
		2: {buy},
		4: {sell},
	}}

	driver, portfolio := newDriver(t, ev, 100000, zeroCostConfig(), wideStops(), 1, nil)

	ticks := ticksFor("X", start, 100, 100, 110, 110, 110)
	result, err := driver.Run(context.Background(), data.NewSliceTickSource(ticks))
	require.NoError(t, err)

	require.Len(t, result.Trades, 2)
	assert.True(t, result.Trades[0].Price.Equal(decimal.NewFromInt(100)),
		"buy fill at market: got %s", result.Trades[0].Price)
	assert.True(t, result.Trades[1].Price.Equal(decimal.NewFromInt(110)),
		"sell fill at market: got %s", result.Trades[1].Price)

	pos := portfolio.GetPosition("X")
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.IsZero(), "position should be flat, got %s", pos.Quantity)
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(1000)),
		"realized should be 100*(110-100)=1000, got %s", pos.RealizedPnL)

	wantCash := decimal.NewFromInt(101000)
	assert.True(t, result.FinalCash.Equal(wantCash),
		"cash should be initial + 1000, got %s", result.FinalCash)
}

// Matching-engine determinism: the same seed over the same tick stream
// produces an identical trade sequence.
func TestSeededRunsAreReproducible(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	run := func() []types.Trade {
		script := map[int][]types.Order{}
		for i := 1; i <= 20; i++ {
			side := types.OrderSideBuy
			if i%2 == 0 {
				side = types.OrderSideSell
			}
			script[i] = []types.Order{{
				Symbol: "X", Side: side, Type: types.OrderTypeMarket,
				Quantity: decimal.NewFromInt(10), Status: types.OrderStatusPending,
			}}
		}
		cfg := execution.DefaultMatchingEngineConfig()
		cfg.CommissionPerShare = decimal.NewFromFloat(0.005)

		driver, _ := newDriver(t, &scriptedEvaluator{script: script}, 1000000, cfg, wideStops(), 42, nil)

		prices := make([]float64, 20)
		for i := range prices {
			prices[i] = 150 + float64(i%5)
		}
		result, err := driver.Run(context.Background(), data.NewSliceTickSource(ticksFor("X", start, prices...)))
		require.NoError(t, err)
		return result.Trades
	}

	first := run()
	second := run()

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.True(t, first[i].Price.Equal(second[i].Price),
			"trade %d price diverged: %s vs %s", i, first[i].Price, second[i].Price)
		assert.True(t, first[i].Quantity.Equal(second[i].Quantity),
			"trade %d quantity diverged: %s vs %s", i, first[i].Quantity, second[i].Quantity)
		assert.Equal(t, first[i].Side, second[i].Side, "trade %d side diverged", i)
	}
}

// Circuit breaker: a daily loss beyond the configured percentage
// liquidates open positions and suppresses all later strategy orders.
func TestCircuitBreakerLiquidatesAndSuppresses(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	buy := types.Order{Symbol: "X", Side: types.OrderSideBuy, Type: types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(100), Status: types.OrderStatusPending}

	ev := &scriptedEvaluator{script: map[int][]types.Order{
		1: {buy},
		// Re-entry attempts after the breaker trips must be suppressed.
		4: {buy},
		5: {buy},
	}}

	stopCfg := risk.StopLossConfig{
		PositionStopPct:      decimal.NewFromInt(50),
		TrailingStopPct:      decimal.NewFromInt(50),
		PortfolioStopPct:     decimal.NewFromInt(5),
		MaxDrawdownPct:       decimal.NewFromInt(10),
		EnableCircuitBreaker: true,
	}

	driver, portfolio := newDriver(t, ev, 20000, zeroCostConfig(), stopCfg, 1, nil)

	// Buy 100 @ 100, then the mark collapses to 80: equity falls from
	// 20,000 to 18,000, a 10% daily loss against a 5% threshold.
	ticks := ticksFor("X", start, 100, 100, 80, 80, 80)
	result, err := driver.Run(context.Background(), data.NewSliceTickSource(ticks))
	require.NoError(t, err)

	assert.True(t, result.BreakerTripped, "breaker should have tripped")
	require.Len(t, result.Trades, 2, "entry plus forced liquidation only")
	assert.Equal(t, types.OrderSideSell, result.Trades[1].Side)
	assert.True(t, result.Trades[1].Quantity.Equal(decimal.NewFromInt(100)))

	pos := portfolio.GetPosition("X")
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.IsZero(), "forced exit should flatten the position")
}

// Invalid ticks are dropped before they touch any state.
func TestInvalidTicksIgnored(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	ev := &scriptedEvaluator{script: map[int][]types.Order{}}
	driver, _ := newDriver(t, ev, 10000, zeroCostConfig(), wideStops(), 1, nil)

	ticks := []types.Tick{
		{Symbol: "X", Timestamp: start, Price: decimal.NewFromInt(-5), Size: decimal.NewFromInt(10)},
		{Symbol: "X", Timestamp: start.Add(time.Minute), Price: decimal.Zero, Size: decimal.NewFromInt(10)},
		{Symbol: "X", Timestamp: start.Add(2 * time.Minute), Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(-1)},
		{Symbol: "X", Timestamp: start.Add(3 * time.Minute), Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(10)},
	}
	result, err := driver.Run(context.Background(), data.NewSliceTickSource(ticks))
	require.NoError(t, err)
	assert.Equal(t, 1, result.TicksProcessed, "only the well-formed tick counts")
}

// Rejected orders are discarded and the run continues.
func TestValidationRejectionDiscardsOrder(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	logger := zap.NewNop()

	big := types.Order{Symbol: "X", Side: types.OrderSideBuy, Type: types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(100), Status: types.OrderStatusPending}
	ev := &scriptedEvaluator{script: map[int][]types.Order{2: {big}}}

	cash := decimal.NewFromInt(100000)
	portfolio := backtester.NewPortfolio(cash)
	cfg := execution.DefaultValidationConfig()
	cfg.MaxPositionSize = decimal.NewFromInt(10)
	validator := execution.NewValidator(logger, cfg)
	matching := execution.NewMatchingEngine(logger, zeroCostConfig(), rand.New(rand.NewSource(1)))
	riskMgr := risk.NewManager(logger, wideStops(), cash)
	driver := backtester.NewDriver(logger, backtester.DefaultDriverConfig(),
		ev, portfolio, validator, matching, riskMgr, nil)

	result, err := driver.Run(context.Background(), data.NewSliceTickSource(ticksFor("X", start, 100, 100, 100)))
	require.NoError(t, err)

	assert.Equal(t, 1, result.OrdersRejected)
	assert.Empty(t, result.Trades)
	assert.True(t, result.FinalCash.Equal(cash), "cash must be untouched after a rejection")
}

type panicEvaluator struct{}

func (panicEvaluator) Name() string { return "panics" }
func (panicEvaluator) OnTick(types.Tick, strategy.PortfolioSnapshot) []types.Order {
	panic("boom")
}
func (panicEvaluator) WarmupDone(string) bool { return true }
func (panicEvaluator) Reset()                 {}

// A panicking strategy is contained; the pipeline keeps processing.
func TestStrategyFaultContained(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	driver, _ := newDriver(t, panicEvaluator{}, 10000, zeroCostConfig(), wideStops(), 1, nil)

	result, err := driver.Run(context.Background(), data.NewSliceTickSource(ticksFor("X", start, 100, 101, 102)))
	require.NoError(t, err)
	assert.Equal(t, 3, result.TicksProcessed, "faults must not stop the loop")
}

// The order event and portfolio metrics logs receive well-formed JSON
// lines for a filled round trip.
func TestEventLogsWritten(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	var orderBuf, metricsBuf bytes.Buffer
	logWriter := eventlog.NewWriter(zap.NewNop(), &orderBuf, &metricsBuf)

	buy := types.Order{Symbol: "X", Side: types.OrderSideBuy, Type: types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(10), Status: types.OrderStatusPending}
	sell := types.Order{Symbol: "X", Side: types.OrderSideSell, Type: types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(10), Status: types.OrderStatusPending}
	ev := &scriptedEvaluator{script: map[int][]types.Order{1: {buy}, 3: {sell}}}

	driver, _ := newDriver(t, ev, 10000, zeroCostConfig(), wideStops(), 1, logWriter)
	_, err := driver.Run(context.Background(), data.NewSliceTickSource(ticksFor("X", start, 100, 101, 102)))
	require.NoError(t, err)

	var kinds []eventlog.OrderEventKind
	dec := json.NewDecoder(&orderBuf)
	for dec.More() {
		var rec eventlog.OrderEventRecord
		require.NoError(t, dec.Decode(&rec))
		kinds = append(kinds, rec.EventKind)
	}
	assert.Contains(t, kinds, eventlog.OrderEventSent)
	assert.Contains(t, kinds, eventlog.OrderEventFilled)
	assert.Contains(t, kinds, eventlog.OrderEventTrade)

	mdec := json.NewDecoder(&metricsBuf)
	samples := 0
	for mdec.More() {
		var rec eventlog.PortfolioMetricsRecord
		require.NoError(t, mdec.Decode(&rec))
		samples++
	}
	assert.Equal(t, 3, samples, "one metrics line per tick at stride 1")
}

func mustEvaluator(t *testing.T, name string, params map[string]interface{}) strategy.Evaluator {
	t.Helper()
	ev, err := strategy.FromConfig(name, strategy.DefaultConfig(), params)
	require.NoError(t, err)
	return ev
}

// The adaptive allocator composes with the driver: two sub-strategies
// share the tick stream, the portfolio sees their combined orders, and
// allocations stay normalized.
func TestMetaAllocatorThroughDriver(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	logger := zap.NewNop()

	evaluators := map[string]strategy.Evaluator{
		"fast": mustEvaluator(t, "sma_crossover", map[string]interface{}{"short_window": 2, "long_window": 3}),
		"slow": mustEvaluator(t, "sma_crossover", map[string]interface{}{"short_window": 3, "long_window": 5}),
	}
	metaCfg := meta.DefaultConfig()
	metaCfg.RebalancePeriod = 10
	allocator := meta.NewAllocator(logger, metaCfg, evaluators)

	driver, _ := newDriver(t, allocator, 100000, zeroCostConfig(), wideStops(), 7, nil)

	prices := []float64{100, 100, 100, 100, 100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110}
	result, err := driver.Run(context.Background(), data.NewSliceTickSource(ticksFor("X", start, prices...)))
	require.NoError(t, err)

	assert.NotEmpty(t, result.Trades, "rising tape should produce at least one entry")

	sum := decimal.Zero
	for _, a := range allocator.Allocations() {
		sum = sum.Add(a)
	}
	assert.True(t, sum.Sub(decimal.NewFromInt(1)).Abs().LessThan(decimal.NewFromFloat(1e-9)),
		"allocations must sum to 1, got %s", sum)
}

// CSV replay parses the documented column layout.
func TestCSVTickSourceParsesRows(t *testing.T) {
	path := t.TempDir() + "/X_ticks.csv"
	content := "timestamp,symbol,price,volume\n" +
		"2024-03-01T09:30:00Z,X,100.5,1000\n" +
		"2024-03-01T09:31:00Z,X,101.25,900\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	source, err := data.OpenCSVTickSource(path)
	require.NoError(t, err)
	defer source.Close()

	first, err := source.Next()
	require.NoError(t, err)
	assert.Equal(t, "X", first.Symbol)
	assert.True(t, first.Price.Equal(decimal.NewFromFloat(100.5)))

	second, err := source.Next()
	require.NoError(t, err)
	assert.True(t, second.Price.Equal(decimal.NewFromFloat(101.25)))
	assert.True(t, second.Timestamp.After(first.Timestamp))
}

// Keep the ID/statistics helpers honest; the drivers stamp orders with
// them.
func TestUtilsHelpers(t *testing.T) {
	id1 := utils.GenerateOrderID()
	id2 := utils.GenerateOrderID()
	assert.NotEqual(t, id1, id2)
	assert.Contains(t, id1, "ord_")

	prices := []decimal.Decimal{
		decimal.NewFromInt(100), decimal.NewFromInt(110),
		decimal.NewFromInt(99), decimal.NewFromInt(121),
	}
	dd := utils.CalculateMaxDrawdown(prices)
	assert.True(t, dd.GreaterThan(decimal.Zero), "drop from 110 to 99 is a real drawdown")
}
