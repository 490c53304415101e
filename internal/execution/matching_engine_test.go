package execution_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/quantframe/streamalpha/internal/execution"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestMatchingEngineDeterministicWithSeed(t *testing.T) {
	cfg := execution.DefaultMatchingEngineConfig()
	order := types.Order{
		ID: "o1", Symbol: "AAPL", Side: types.OrderSideBuy,
		Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(100),
	}
	now := time.Now()

	run := func(seed int64) (types.Trade, execution.FillOutcome) {
		eng := execution.NewMatchingEngine(zap.NewNop(), cfg, rand.New(rand.NewSource(seed)))
		return eng.Execute(order, decimal.NewFromInt(150), decimal.Zero, decimal.Zero, now)
	}

	tradeA, outcomeA := run(42)
	tradeB, outcomeB := run(42)

	if outcomeA != outcomeB {
		t.Fatalf("same seed produced different outcomes: %s vs %s", outcomeA, outcomeB)
	}
	if !tradeA.Price.Equal(tradeB.Price) || !tradeA.Quantity.Equal(tradeB.Quantity) {
		t.Fatalf("same seed produced different trades: %+v vs %+v", tradeA, tradeB)
	}
}

func TestMatchingEngineCancelledProducesNoTrade(t *testing.T) {
	cfg := execution.MatchingEngineConfig{
		FillProbability:        decimal.Zero,
		PartialFillProbability: decimal.Zero,
		CancelProbability:      decimal.NewFromInt(1),
	}
	eng := execution.NewMatchingEngine(zap.NewNop(), cfg, rand.New(rand.NewSource(1)))
	order := types.Order{
		ID: "o1", Symbol: "AAPL", Side: types.OrderSideBuy,
		Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(100),
	}

	trade, outcome := eng.Execute(order, decimal.NewFromInt(150), decimal.Zero, decimal.Zero, time.Now())
	if outcome != execution.FillOutcomeCancelled {
		t.Fatalf("expected cancellation, got %s", outcome)
	}
	if !trade.Quantity.IsZero() {
		t.Errorf("expected zero-value trade on cancel, got %+v", trade)
	}
}

func TestMatchingEngineLimitBuyFillsAtLimitPrice(t *testing.T) {
	cfg := execution.MatchingEngineConfig{
		FillProbability: decimal.NewFromInt(1),
	}
	eng := execution.NewMatchingEngine(zap.NewNop(), cfg, rand.New(rand.NewSource(1)))
	order := types.Order{
		ID: "o1", Symbol: "AAPL", Side: types.OrderSideBuy,
		Type: types.OrderTypeLimit, Price: decimal.NewFromInt(100),
		Quantity: decimal.NewFromInt(10),
	}

	trade, outcome := eng.Execute(order, decimal.NewFromInt(99), decimal.Zero, decimal.Zero, time.Now())
	if outcome != execution.FillOutcomeFull {
		t.Fatalf("expected full fill, got %s", outcome)
	}
	if !trade.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected fill at limit price 100 (zero commission config), got %s", trade.Price)
	}
}

func TestMatchingEnginePartialFillRatioBounds(t *testing.T) {
	cfg := execution.MatchingEngineConfig{
		FillProbability:        decimal.Zero,
		PartialFillProbability: decimal.NewFromInt(1),
	}
	eng := execution.NewMatchingEngine(zap.NewNop(), cfg, rand.New(rand.NewSource(7)))
	order := types.Order{
		ID: "o1", Symbol: "AAPL", Side: types.OrderSideBuy,
		Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(100),
	}

	trade, outcome := eng.Execute(order, decimal.NewFromInt(100), decimal.Zero, decimal.Zero, time.Now())
	if outcome != execution.FillOutcomePartial {
		t.Fatalf("expected partial fill, got %s", outcome)
	}
	if trade.Quantity.LessThan(decimal.NewFromInt(50)) || trade.Quantity.GreaterThan(decimal.NewFromInt(90)) {
		t.Errorf("expected partial quantity in [50,90], got %s", trade.Quantity)
	}
}
