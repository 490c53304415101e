package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantframe/streamalpha/internal/broker"
	"github.com/quantframe/streamalpha/internal/execution"
	"github.com/quantframe/streamalpha/internal/risk"
	"github.com/quantframe/streamalpha/internal/strategy"
	"github.com/quantframe/streamalpha/pkg/types"
)

// fakeBroker fills every order instantly at the submitted symbol's fixed
// price and tracks resulting positions, so the driver's submit/poll path
// can be exercised without a network.
type fakeBroker struct {
	mu        sync.Mutex
	price     decimal.Decimal
	cash      decimal.Decimal
	positions map[string]decimal.Decimal
	orders    map[string]types.Order
	submitted []types.Order
}

func newFakeBroker(price, cash float64) *fakeBroker {
	return &fakeBroker{
		price:     decimal.NewFromFloat(price),
		cash:      decimal.NewFromFloat(cash),
		positions: make(map[string]decimal.Decimal),
		orders:    make(map[string]types.Order),
	}
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, order types.Order) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, order)

	qty := order.Quantity
	if order.Side == types.OrderSideSell {
		qty = qty.Neg()
	}
	f.positions[order.Symbol] = f.positions[order.Symbol].Add(qty)
	f.cash = f.cash.Sub(qty.Mul(f.price))

	order.Status = types.OrderStatusFilled
	order.FilledQty = order.Quantity
	order.AvgFillPrice = f.price
	f.orders[order.ID] = order
	return order.ID, nil
}

func (f *fakeBroker) GetOrder(ctx context.Context, id string) (broker.OrderStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order := f.orders[id]
	now := time.Now()
	return broker.OrderStatusReport{
		Status:       order.Status,
		FilledQty:    order.FilledQty,
		AvgFillPrice: order.AvgFillPrice,
		FilledAt:     &now,
	}, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, id string) error { return nil }
func (f *fakeBroker) CancelAll(ctx context.Context) error              { return nil }

func (f *fakeBroker) GetAccount(ctx context.Context) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value := f.cash
	for _, qty := range f.positions {
		value = value.Add(qty.Mul(f.price))
	}
	return types.Account{Cash: f.cash, PortfolioValue: value, BuyingPower: f.cash}, nil
}

func (f *fakeBroker) GetPositions(ctx context.Context) ([]types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Position
	for symbol, qty := range f.positions {
		out = append(out, types.Position{Symbol: symbol, Quantity: qty, AvgCost: f.price, CurrentPrice: f.price})
	}
	return out, nil
}

func (f *fakeBroker) ClosePosition(ctx context.Context, symbol string) error { return nil }
func (f *fakeBroker) CloseAllPositions(ctx context.Context, cancelOpenOrders bool) error {
	return nil
}
func (f *fakeBroker) SubscribeBars(symbols []string, cb func(types.OHLCV)) error  { return nil }
func (f *fakeBroker) SubscribeTrades(symbols []string, cb func(types.Tick)) error { return nil }
func (f *fakeBroker) SubscribeQuotes(symbols []string, cb func(types.Tick)) error { return nil }
func (f *fakeBroker) Run(ctx context.Context) error                               { <-ctx.Done(); return ctx.Err() }
func (f *fakeBroker) Close() error                                                { return nil }

type oneShotBuyer struct{ fired bool }

func (o *oneShotBuyer) Name() string { return "one-shot" }
func (o *oneShotBuyer) OnTick(tick types.Tick, snapshot strategy.PortfolioSnapshot) []types.Order {
	if o.fired {
		return nil
	}
	o.fired = true
	return []types.Order{{
		Symbol: tick.Symbol, Side: types.OrderSideBuy, Type: types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(10), Status: types.OrderStatusPending,
	}}
}
func (o *oneShotBuyer) WarmupDone(string) bool { return true }
func (o *oneShotBuyer) Reset()                 { o.fired = false }

func newTestDriver(t *testing.T, brk broker.Broker, ev strategy.Evaluator) *Driver {
	t.Helper()
	logger := zap.NewNop()
	cfg := DefaultConfig([]string{"BTC/USDT"})
	cfg.FillPollInterval = time.Millisecond
	cfg.FillPollTimeout = 100 * time.Millisecond
	validator := execution.NewValidator(logger, execution.DefaultValidationConfig())
	riskMgr := risk.NewManager(logger, risk.DefaultStopLossConfig(), decimal.NewFromInt(100000))
	d, err := NewDriver(logger, cfg, ev, brk, validator, riskMgr, nil)
	require.NoError(t, err)
	return d
}

func TestLiveDriverSubmitsAndConfirmsFill(t *testing.T) {
	brk := newFakeBroker(100, 100000)
	d := newTestDriver(t, brk, &oneShotBuyer{})

	tick := types.Tick{
		Symbol: "BTC/USDT", Timestamp: time.Now(),
		Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1),
	}
	d.processTick(context.Background(), tick)

	require.Len(t, brk.submitted, 1)
	order := brk.submitted[0]
	assert.Equal(t, types.OrderSideBuy, order.Side)
	assert.Equal(t, types.TimeInForceGTC, order.TimeInForce, "crypto pair defaults to GTC")
	assert.NotEmpty(t, order.ID)

	// The fill left a 10-unit position at the broker.
	positions, err := brk.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(decimal.NewFromInt(10)))
}

func TestLiveDriverRejectsMixedUniverse(t *testing.T) {
	logger := zap.NewNop()
	cfg := DefaultConfig([]string{"BTC/USDT", "AAPL"})
	validator := execution.NewValidator(logger, execution.DefaultValidationConfig())
	riskMgr := risk.NewManager(logger, risk.DefaultStopLossConfig(), decimal.NewFromInt(100000))

	_, err := NewDriver(logger, cfg, &oneShotBuyer{}, newFakeBroker(100, 100000), validator, riskMgr, nil)
	require.Error(t, err)
}

func TestLiveDriverDropsInvalidTicks(t *testing.T) {
	brk := newFakeBroker(100, 100000)
	d := newTestDriver(t, brk, &oneShotBuyer{})

	d.processTick(context.Background(), types.Tick{
		Symbol: "BTC/USDT", Timestamp: time.Now(),
		Price: decimal.NewFromInt(-1), Size: decimal.NewFromInt(1),
	})
	require.Empty(t, brk.submitted, "invalid tick must not reach the strategy")
}
