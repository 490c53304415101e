package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantframe/streamalpha/internal/execution/adapters"
	"github.com/quantframe/streamalpha/pkg/types"
)

// ExchangeBroker adapts a concrete exchange connection
// (adapters.BinanceAdapter) to the Broker contract, so the live driver
// can trade a real crypto venue with the same code path it uses for
// paper sessions.
type ExchangeBroker struct {
	logger  *zap.Logger
	adapter *adapters.BinanceAdapter
	symbols []string

	mu       sync.Mutex
	tradeCbs []func(types.Tick)
	quoteCbs []func(types.Tick)
	barCbs   []func(types.OHLCV)

	done      chan struct{}
	closeOnce sync.Once
}

// NewExchangeBroker wraps a Binance connection in the Broker contract.
func NewExchangeBroker(logger *zap.Logger, config adapters.BinanceConfig) *ExchangeBroker {
	return &ExchangeBroker{
		logger:  logger.Named("exchange_broker"),
		adapter: adapters.NewBinanceAdapter(logger, config),
		done:    make(chan struct{}),
	}
}

// SubmitOrder places the order on the venue and returns the exchange
// order id.
func (e *ExchangeBroker) SubmitOrder(ctx context.Context, order types.Order) (string, error) {
	placed, err := e.adapter.PlaceOrder(ctx, &order)
	if err != nil {
		return "", err
	}
	return placed.ID, nil
}

// GetOrder reports the venue's view of an order's fill state.
func (e *ExchangeBroker) GetOrder(ctx context.Context, brokerOrderID string) (OrderStatusReport, error) {
	order, err := e.adapter.GetOrder(ctx, brokerOrderID)
	if err != nil {
		return OrderStatusReport{}, err
	}
	return OrderStatusReport{
		Status:       order.Status,
		FilledQty:    order.FilledQty,
		AvgFillPrice: order.AvgFillPrice,
		FilledAt:     order.FilledAt,
	}, nil
}

// CancelOrder cancels one open order.
func (e *ExchangeBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return e.adapter.CancelOrder(ctx, brokerOrderID)
}

// CancelAll cancels nothing and always returns a not-supported error;
// this adapter cancels open orders only one at a time, via CancelOrder.
func (e *ExchangeBroker) CancelAll(ctx context.Context) error {
	return fmt.Errorf("broker: cancel-all not supported by this venue adapter")
}

// GetAccount reads spot balances into the account tuple. Quote-currency
// cash is approximated by the USDT balance, the venue's common quote.
func (e *ExchangeBroker) GetAccount(ctx context.Context) (types.Account, error) {
	cash, err := e.adapter.GetBalance(ctx, "USDT")
	if err != nil {
		return types.Account{}, err
	}
	value := cash
	positions, err := e.adapter.GetPositions(ctx)
	if err != nil {
		return types.Account{}, err
	}
	for _, pos := range positions {
		value = value.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}
	return types.Account{Cash: cash, PortfolioValue: value, BuyingPower: cash}, nil
}

// GetPositions lists non-zero spot holdings as positions.
func (e *ExchangeBroker) GetPositions(ctx context.Context) ([]types.Position, error) {
	list, err := e.adapter.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(list))
	for _, pos := range list {
		out = append(out, *pos)
	}
	return out, nil
}

// ClosePosition flattens one symbol with a market order.
func (e *ExchangeBroker) ClosePosition(ctx context.Context, symbol string) error {
	positions, err := e.adapter.GetPositions(ctx)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.Symbol != symbol || pos.Quantity.IsZero() {
			continue
		}
		side := types.OrderSideSell
		if pos.Quantity.IsNegative() {
			side = types.OrderSideBuy
		}
		_, err := e.adapter.PlaceOrder(ctx, &types.Order{
			Symbol:   symbol,
			Side:     side,
			Type:     types.OrderTypeMarket,
			Quantity: pos.Quantity.Abs(),
			Status:   types.OrderStatusPending,
		})
		return err
	}
	return nil
}

// CloseAllPositions flattens every open position.
func (e *ExchangeBroker) CloseAllPositions(ctx context.Context, cancelOpenOrders bool) error {
	positions, err := e.adapter.GetPositions(ctx)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.Quantity.IsZero() {
			continue
		}
		if err := e.ClosePosition(ctx, pos.Symbol); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeBars registers a bar callback synthesized from ticker updates.
func (e *ExchangeBroker) SubscribeBars(symbols []string, callback func(types.OHLCV)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.symbols = mergeSymbols(e.symbols, symbols)
	e.barCbs = append(e.barCbs, callback)
	return nil
}

// SubscribeTrades registers a tick callback fed by the venue's ticker
// stream.
func (e *ExchangeBroker) SubscribeTrades(symbols []string, callback func(types.Tick)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.symbols = mergeSymbols(e.symbols, symbols)
	e.tradeCbs = append(e.tradeCbs, callback)
	return nil
}

// SubscribeQuotes registers a quote callback; quote callbacks receive the
// same last-price tick as trade callbacks, and the ticker's bid/ask are
// not forwarded.
func (e *ExchangeBroker) SubscribeQuotes(symbols []string, callback func(types.Tick)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.symbols = mergeSymbols(e.symbols, symbols)
	e.quoteCbs = append(e.quoteCbs, callback)
	return nil
}

// Run connects to the venue, subscribes the registered universe, and
// blocks dispatching callbacks until Close or ctx cancellation.
func (e *ExchangeBroker) Run(ctx context.Context) error {
	if err := e.adapter.Connect(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	symbols := append([]string{}, e.symbols...)
	e.mu.Unlock()

	err := e.adapter.SubscribeToTicker(ctx, symbols, func(ticker *adapters.BinanceTicker) {
		e.dispatch(ticker)
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return nil
	}
}

func (e *ExchangeBroker) dispatch(ticker *adapters.BinanceTicker) {
	tick := types.Tick{
		Symbol:    ticker.Symbol,
		Timestamp: time.UnixMilli(ticker.CloseTime),
		Price:     ticker.LastPrice,
		Size:      ticker.Volume,
	}

	e.mu.Lock()
	tradeCbs := append([]func(types.Tick){}, e.tradeCbs...)
	quoteCbs := append([]func(types.Tick){}, e.quoteCbs...)
	barCbs := append([]func(types.OHLCV){}, e.barCbs...)
	e.mu.Unlock()

	for _, cb := range tradeCbs {
		cb(tick)
	}
	for _, cb := range quoteCbs {
		cb(tick)
	}
	if len(barCbs) > 0 {
		bar := types.OHLCV{
			Timestamp: tick.Timestamp,
			Open:      ticker.LastPrice,
			High:      ticker.HighPrice,
			Low:       ticker.LowPrice,
			Close:     ticker.LastPrice,
			Volume:    ticker.Volume,
		}
		for _, cb := range barCbs {
			cb(bar)
		}
	}
}

// Close tears down the streaming connection and stops Run.
func (e *ExchangeBroker) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	return e.adapter.Disconnect()
}

func mergeSymbols(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range incoming {
		if !seen[s] {
			existing = append(existing, s)
			seen[s] = true
		}
	}
	return existing
}

