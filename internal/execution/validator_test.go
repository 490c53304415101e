package execution_test

import (
	"testing"
	"time"

	"github.com/quantframe/streamalpha/internal/execution"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestValidatorRateLimit(t *testing.T) {
	cfg := execution.DefaultValidationConfig()
	cfg.MaxOrdersPerMinute = 2
	v := execution.NewValidator(zap.NewNop(), cfg)

	now := time.Now()
	order := types.Order{Symbol: "AAPL", Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(1)}
	positions := map[string]*types.Position{}

	for i := 0; i < 2; i++ {
		ok, reason := v.ValidateOrder(order, now, decimal.NewFromInt(100000), positions)
		if !ok {
			t.Fatalf("expected order %d to be accepted, got rejected: %s", i, reason)
		}
		v.RecordOrder(order.Symbol, now)
	}

	ok, reason := v.ValidateOrder(order, now, decimal.NewFromInt(100000), positions)
	if ok {
		t.Fatal("expected third order within the window to be rejected")
	}
	if reason == "" {
		t.Error("expected a rejection reason")
	}

	// Outside the window, the count resets.
	ok, _ = v.ValidateOrder(order, now.Add(61*time.Second), decimal.NewFromInt(100000), positions)
	if !ok {
		t.Error("expected order outside the rate window to be accepted")
	}
}

func TestValidatorCapitalCheck(t *testing.T) {
	v := execution.NewValidator(zap.NewNop(), execution.DefaultValidationConfig())
	order := types.Order{
		Symbol: "AAPL", Type: types.OrderTypeLimit, Side: types.OrderSideBuy,
		Quantity: decimal.NewFromInt(100), Price: decimal.NewFromInt(100),
	}

	ok, reason := v.ValidateOrder(order, time.Now(), decimal.NewFromInt(500), map[string]*types.Position{})
	if ok {
		t.Fatal("expected rejection: notional 10000 exceeds cash 500")
	}
	if reason == "" {
		t.Error("expected a rejection reason")
	}

	ok, _ = v.ValidateOrder(order, time.Now(), decimal.NewFromInt(1_000_000), map[string]*types.Position{})
	if !ok {
		t.Error("expected acceptance with sufficient cash")
	}
}

func TestValidatorPositionLimit(t *testing.T) {
	cfg := execution.DefaultValidationConfig()
	cfg.MaxPositionSize = decimal.NewFromInt(100)
	v := execution.NewValidator(zap.NewNop(), cfg)

	order := types.Order{
		Symbol: "AAPL", Type: types.OrderTypeMarket, Side: types.OrderSideBuy,
		Quantity: decimal.NewFromInt(50),
	}
	positions := map[string]*types.Position{
		"AAPL": {Symbol: "AAPL", Quantity: decimal.NewFromInt(80), CurrentPrice: decimal.NewFromInt(10)},
	}

	ok, reason := v.ValidateOrder(order, time.Now(), decimal.NewFromInt(1_000_000), positions)
	if ok {
		t.Fatal("expected rejection: resulting quantity 130 exceeds max position size 100")
	}
	if reason == "" {
		t.Error("expected a rejection reason")
	}
}

func TestValidatorTotalExposure(t *testing.T) {
	cfg := execution.DefaultValidationConfig()
	cfg.MaxPositionSize = decimal.Zero
	cfg.MaxPositionValue = decimal.Zero
	cfg.MaxTotalExposure = decimal.NewFromInt(1000)
	v := execution.NewValidator(zap.NewNop(), cfg)

	order := types.Order{
		Symbol: "MSFT", Type: types.OrderTypeMarket, Side: types.OrderSideBuy,
		Quantity: decimal.NewFromInt(11), Price: decimal.NewFromInt(50),
	}
	positions := map[string]*types.Position{
		"AAPL": {Symbol: "AAPL", Quantity: decimal.NewFromInt(50), CurrentPrice: decimal.NewFromInt(10)},
	}

	ok, reason := v.ValidateOrder(order, time.Now(), decimal.NewFromInt(1_000_000), positions)
	if ok {
		t.Fatal("expected rejection: total exposure 500(AAPL)+550(new MSFT) exceeds 1000")
	}
	_ = reason
}
