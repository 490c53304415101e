package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantframe/streamalpha/internal/backtester"
	"github.com/quantframe/streamalpha/internal/execution"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperBroker simulates a live brokerage connection by routing every
// submitted order through the same execution.MatchingEngine the
// backtester uses, against the latest price observed from its tick feed,
// and applying the resulting trade to a real internal/backtester.Portfolio.
// This is the live driver's default broker for paper-trading sessions.
type PaperBroker struct {
	logger    *zap.Logger
	engine    *execution.MatchingEngine
	portfolio *backtester.Portfolio
	ticks     <-chan types.Tick

	mu         sync.Mutex
	lastPrice  map[string]decimal.Decimal
	orders     map[string]types.Order
	barCbs     []func(types.OHLCV)
	tradeCbs   []func(types.Tick)
	quoteCbs   []func(types.Tick)
	subscribed map[string]bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewPaperBroker creates a paper broker over an existing portfolio and
// matching engine. ticks is the simulated external feed consumed by Run.
func NewPaperBroker(logger *zap.Logger, engine *execution.MatchingEngine, portfolio *backtester.Portfolio, ticks <-chan types.Tick) *PaperBroker {
	return &PaperBroker{
		logger:     logger.Named("paper_broker"),
		engine:     engine,
		portfolio:  portfolio,
		ticks:      ticks,
		lastPrice:  make(map[string]decimal.Decimal),
		orders:     make(map[string]types.Order),
		subscribed: make(map[string]bool),
		done:       make(chan struct{}),
	}
}

// SubmitOrder executes immediately against the matching engine using the
// latest observed price for the order's symbol; there is no resting order
// book, matching the backtester's own synchronous fill model.
func (p *PaperBroker) SubmitOrder(ctx context.Context, order types.Order) (string, error) {
	p.mu.Lock()
	price, known := p.lastPrice[order.Symbol]
	p.mu.Unlock()
	if !known {
		return "", fmt.Errorf("paper broker: no price known for %s yet", order.Symbol)
	}

	brokerOrderID := uuid.New().String()
	order.ID = brokerOrderID
	order.TimeInForce = DefaultTimeInForce(order.Symbol)
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt

	trade, outcome := p.engine.Execute(order, price, decimal.Zero, decimal.Zero, order.CreatedAt)
	if outcome == execution.FillOutcomeCancelled {
		order.Status = types.OrderStatusCancelled
		p.mu.Lock()
		p.orders[brokerOrderID] = order
		p.mu.Unlock()
		return brokerOrderID, nil
	}

	p.portfolio.ProcessTrade(trade)

	order.FilledQty = trade.Quantity
	order.AvgFillPrice = trade.Price
	order.Status = types.OrderStatusFilled
	if outcome == execution.FillOutcomePartial {
		order.Status = types.OrderStatusPartiallyFilled
	}
	now := trade.ExecutedAt
	order.FilledAt = &now
	order.UpdatedAt = now

	p.mu.Lock()
	p.orders[brokerOrderID] = order
	p.mu.Unlock()

	return brokerOrderID, nil
}

// GetOrder returns the last known status of a previously submitted order.
func (p *PaperBroker) GetOrder(ctx context.Context, brokerOrderID string) (OrderStatusReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[brokerOrderID]
	if !ok {
		return OrderStatusReport{}, fmt.Errorf("paper broker: unknown order %s", brokerOrderID)
	}
	return OrderStatusReport{
		Status:       order.Status,
		FilledQty:    order.FilledQty,
		AvgFillPrice: order.AvgFillPrice,
		FilledAt:     order.FilledAt,
	}, nil
}

// CancelOrder is a no-op for paper trading: every order has already
// settled (filled or cancelled) by the time SubmitOrder returns.
func (p *PaperBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[brokerOrderID]; !ok {
		return fmt.Errorf("paper broker: unknown order %s", brokerOrderID)
	}
	return nil
}

// CancelAll is a no-op for the same reason as CancelOrder.
func (p *PaperBroker) CancelAll(ctx context.Context) error { return nil }

// GetAccount reports the simulated account snapshot.
func (p *PaperBroker) GetAccount(ctx context.Context) (types.Account, error) {
	equity := p.portfolio.GetEquity()
	return types.Account{
		Cash:           p.portfolio.GetCash(),
		PortfolioValue: equity,
		BuyingPower:    p.portfolio.GetCash(),
	}, nil
}

// GetPositions converts the portfolio's internal positions to the
// brokerage-facing position shape.
func (p *PaperBroker) GetPositions(ctx context.Context) ([]types.Position, error) {
	positions := p.portfolio.GetPositions()
	out := make([]types.Position, 0, len(positions))
	for _, pos := range positions {
		if pos.IsFlat() {
			continue
		}
		side := types.PositionSideLong
		if pos.IsShort() {
			side = types.PositionSideShort
		}
		out = append(out, types.Position{
			Symbol:        pos.Symbol,
			Side:          side,
			Quantity:      pos.Quantity,
			AvgCost:       pos.AvgCost,
			CurrentPrice:  pos.CurrentPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
			RealizedPnL:   pos.RealizedPnL,
			OpenedAt:      pos.OpenedAt,
		})
	}
	return out, nil
}

// ClosePosition submits a market order for the full opposing quantity of
// an open position.
func (p *PaperBroker) ClosePosition(ctx context.Context, symbol string) error {
	pos := p.portfolio.GetPosition(symbol)
	if pos == nil || pos.IsFlat() {
		return nil
	}
	side := types.OrderSideSell
	if pos.IsShort() {
		side = types.OrderSideBuy
	}
	_, err := p.SubmitOrder(ctx, types.Order{
		Symbol: symbol, Side: side, Type: types.OrderTypeMarket,
		Quantity: pos.Quantity.Abs(), Status: types.OrderStatusPending,
	})
	return err
}

// CloseAllPositions closes every open position. cancelOpenOrders is
// accepted for interface parity; paper orders never rest, so there is
// nothing to cancel.
func (p *PaperBroker) CloseAllPositions(ctx context.Context, cancelOpenOrders bool) error {
	for symbol, pos := range p.portfolio.GetPositions() {
		if pos.IsFlat() {
			continue
		}
		if err := p.ClosePosition(ctx, symbol); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeBars registers a callback fired with a synthesized single-tick
// OHLCV bar (O=H=L=C=tick price) on every tick of the feed.
func (p *PaperBroker) SubscribeBars(symbols []string, callback func(types.OHLCV)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.barCbs = append(p.barCbs, callback)
	for _, s := range symbols {
		p.subscribed[s] = true
	}
	return nil
}

// SubscribeTrades registers a callback fired with the raw tick.
func (p *PaperBroker) SubscribeTrades(symbols []string, callback func(types.Tick)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tradeCbs = append(p.tradeCbs, callback)
	for _, s := range symbols {
		p.subscribed[s] = true
	}
	return nil
}

// SubscribeQuotes registers a callback; the paper feed carries no
// separate bid/ask stream, so quotes mirror the trade tick.
func (p *PaperBroker) SubscribeQuotes(symbols []string, callback func(types.Tick)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quoteCbs = append(p.quoteCbs, callback)
	for _, s := range symbols {
		p.subscribed[s] = true
	}
	return nil
}

// Run drains the tick feed, updating the last-known price per symbol and
// dispatching every subscribed callback, until ctx is cancelled or Close
// is called.
func (p *PaperBroker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		case tick, ok := <-p.ticks:
			if !ok {
				return nil
			}
			p.dispatch(tick)
		}
	}
}

func (p *PaperBroker) dispatch(tick types.Tick) {
	p.mu.Lock()
	if !p.subscribed[tick.Symbol] {
		p.mu.Unlock()
		return
	}
	p.lastPrice[tick.Symbol] = tick.Price
	tradeCbs := append([]func(types.Tick){}, p.tradeCbs...)
	quoteCbs := append([]func(types.Tick){}, p.quoteCbs...)
	barCbs := append([]func(types.OHLCV){}, p.barCbs...)
	p.mu.Unlock()

	for _, cb := range tradeCbs {
		cb(tick)
	}
	for _, cb := range quoteCbs {
		cb(tick)
	}
	if len(barCbs) > 0 {
		bar := types.OHLCV{Timestamp: tick.Timestamp, Open: tick.Price, High: tick.Price, Low: tick.Price, Close: tick.Price, Volume: tick.Size}
		for _, cb := range barCbs {
			cb(bar)
		}
	}
}

// Close stops Run.
func (p *PaperBroker) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
