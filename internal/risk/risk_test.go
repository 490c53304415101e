package risk_test

import (
	"testing"

	"github.com/quantframe/streamalpha/internal/risk"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestFixedStopTriggersOnLoss(t *testing.T) {
	cfg := risk.DefaultStopLossConfig()
	m := risk.NewManager(zap.NewNop(), cfg, decimal.NewFromInt(100000))

	m.AddPositionStop("AAPL", decimal.NewFromInt(100), decimal.NewFromInt(10))

	positions := map[string]*types.Position{
		"AAPL": {Symbol: "AAPL", Quantity: decimal.NewFromInt(10), AvgCost: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromFloat(97.5)},
	}
	prices := map[string]decimal.Decimal{"AAPL": decimal.NewFromFloat(97.5)} // -2.5%, below 2% stop

	exits := m.CheckStops(prices, decimal.NewFromInt(100000), positions)
	if len(exits) != 1 {
		t.Fatalf("expected 1 exit order, got %d", len(exits))
	}
	if exits[0].Side != types.OrderSideSell {
		t.Errorf("expected sell to close long, got %s", exits[0].Side)
	}
}

func TestTrailingStopIsMonotoneNonDecreasing(t *testing.T) {
	cfg := risk.DefaultStopLossConfig()
	cfg.UseTrailingStops = true
	cfg.TrailingStopPct = decimal.NewFromInt(5)
	m := risk.NewManager(zap.NewNop(), cfg, decimal.NewFromInt(100000))

	m.AddPositionStop("AAPL", decimal.NewFromInt(100), decimal.NewFromInt(10))
	positions := map[string]*types.Position{
		"AAPL": {Symbol: "AAPL", Quantity: decimal.NewFromInt(10), AvgCost: decimal.NewFromInt(100)},
	}

	// Price rises: stop should follow upward.
	exits := m.CheckStops(map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(120)}, decimal.NewFromInt(101000), positions)
	if len(exits) != 0 {
		t.Fatalf("rising price should not trigger a stop, got %d exits", len(exits))
	}

	// Price dips slightly but stays above the new trailing stop (120*0.95=114).
	exits = m.CheckStops(map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(116)}, decimal.NewFromInt(100600), positions)
	if len(exits) != 0 {
		t.Fatalf("price above trailing stop should not trigger, got %d exits", len(exits))
	}

	// Price drops below 114: trailing stop (raised, not the original 95) should fire.
	exits = m.CheckStops(map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(113)}, decimal.NewFromInt(100300), positions)
	if len(exits) != 1 {
		t.Fatalf("expected trailing stop to trigger once price fell below the raised stop, got %d", len(exits))
	}
}

func TestCircuitBreakerTripsOnDailyLossAndLatches(t *testing.T) {
	cfg := risk.DefaultStopLossConfig()
	m := risk.NewManager(zap.NewNop(), cfg, decimal.NewFromInt(100000))

	positions := map[string]*types.Position{
		"AAPL": {Symbol: "AAPL", Quantity: decimal.NewFromInt(10), AvgCost: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(100)},
	}

	// 6% daily loss exceeds the 5% breaker threshold.
	exits := m.CheckStops(map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)}, decimal.NewFromInt(94000), positions)
	if len(exits) != 1 {
		t.Fatalf("expected circuit breaker to force-exit all positions, got %d", len(exits))
	}
	if !m.IsBreakerTripped() {
		t.Fatal("expected breaker to be tripped")
	}

	// Even if portfolio value recovers, the breaker stays latched.
	exits = m.CheckStops(map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)}, decimal.NewFromInt(100000), positions)
	if len(exits) == 0 {
		t.Fatal("expected breaker to remain tripped (one-way latch) and keep forcing exits")
	}
}

func TestFixedStopFiresAtExactBoundary(t *testing.T) {
	cfg := risk.DefaultStopLossConfig()
	cfg.PositionStopPct = decimal.NewFromInt(5)
	m := risk.NewManager(zap.NewNop(), cfg, decimal.NewFromInt(100000))

	m.AddPositionStop("X", decimal.NewFromInt(150), decimal.NewFromInt(100))
	positions := map[string]*types.Position{
		"X": {Symbol: "X", Quantity: decimal.NewFromInt(100), AvgCost: decimal.NewFromInt(150)},
	}
	value := decimal.NewFromInt(100000)

	// Stop sits at 150*(1-0.05)=142.5; everything above it holds.
	for _, p := range []int64{148, 146, 143} {
		exits := m.CheckStops(map[string]decimal.Decimal{"X": decimal.NewFromInt(p)}, value, positions)
		if len(exits) != 0 {
			t.Fatalf("price %d is above the 142.5 stop, got %d exits", p, len(exits))
		}
	}

	exits := m.CheckStops(map[string]decimal.Decimal{"X": decimal.NewFromInt(142)}, value, positions)
	if len(exits) != 1 {
		t.Fatalf("expected the stop to fire at 142, got %d exits", len(exits))
	}
	if exits[0].Side != types.OrderSideSell || !exits[0].Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected SELL 100, got %s %s", exits[0].Side, exits[0].Quantity)
	}
}

func TestTrailingStopLocksInProfit(t *testing.T) {
	cfg := risk.DefaultStopLossConfig()
	cfg.UseTrailingStops = true
	cfg.TrailingStopPct = decimal.NewFromInt(7)
	m := risk.NewManager(zap.NewNop(), cfg, decimal.NewFromInt(100000))

	m.AddPositionStop("X", decimal.NewFromInt(200), decimal.NewFromInt(50))
	positions := map[string]*types.Position{
		"X": {Symbol: "X", Quantity: decimal.NewFromInt(50), AvgCost: decimal.NewFromInt(200)},
	}
	value := decimal.NewFromInt(100000)

	// Rising marks ratchet the stop up to 230*0.93 = 213.9.
	for _, p := range []int64{210, 220, 230} {
		exits := m.CheckStops(map[string]decimal.Decimal{"X": decimal.NewFromInt(p)}, value, positions)
		if len(exits) != 0 {
			t.Fatalf("rising price %d should not trigger, got %d exits", p, len(exits))
		}
	}

	exits := m.CheckStops(map[string]decimal.Decimal{"X": decimal.NewFromInt(213)}, value, positions)
	if len(exits) != 1 {
		t.Fatalf("expected trailing stop at 213.9 to fire on 213, got %d exits", len(exits))
	}
	if !exits[0].Quantity.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected the full 50 shares exited, got %s", exits[0].Quantity)
	}
}

func TestCircuitBreakerLiquidatesEveryOpenPosition(t *testing.T) {
	cfg := risk.DefaultStopLossConfig()
	// Wide per-position stops, so only the breaker can produce exits.
	cfg.PositionStopPct = decimal.NewFromInt(50)
	m := risk.NewManager(zap.NewNop(), cfg, decimal.NewFromInt(100000))

	positions := map[string]*types.Position{
		"A": {Symbol: "A", Quantity: decimal.NewFromInt(10), AvgCost: decimal.NewFromInt(100)},
		"B": {Symbol: "B", Quantity: decimal.NewFromInt(20), AvgCost: decimal.NewFromInt(50)},
		"C": {Symbol: "C", Quantity: decimal.NewFromInt(-5), AvgCost: decimal.NewFromInt(200)},
	}
	prices := map[string]decimal.Decimal{
		"A": decimal.NewFromInt(95), "B": decimal.NewFromInt(48), "C": decimal.NewFromInt(210),
	}

	// 98k and 96k stay above the 5% daily-loss line; 94k crosses it.
	for _, v := range []int64{98000, 96000} {
		exits := m.CheckStops(prices, decimal.NewFromInt(v), positions)
		if len(exits) != 0 {
			t.Fatalf("value %d should not trip the breaker, got %d exits", v, len(exits))
		}
	}

	exits := m.CheckStops(prices, decimal.NewFromInt(94000), positions)
	if len(exits) != 3 {
		t.Fatalf("expected one exit per open position, got %d", len(exits))
	}
	for _, exit := range exits {
		if exit.Symbol == "C" {
			if exit.Side != types.OrderSideBuy {
				t.Errorf("short position C must be bought back, got %s", exit.Side)
			}
		} else if exit.Side != types.OrderSideSell {
			t.Errorf("long position %s must be sold, got %s", exit.Symbol, exit.Side)
		}
	}
}
