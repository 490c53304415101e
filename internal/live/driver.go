// Package live runs the trading pipeline against a brokerage adapter:
// the same per-tick sequence as the backtest driver, but ticks arrive
// from a streaming feed and fills come back asynchronously from the
// broker.
package live

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quantframe/streamalpha/internal/broker"
	"github.com/quantframe/streamalpha/internal/eventlog"
	"github.com/quantframe/streamalpha/internal/execution"
	"github.com/quantframe/streamalpha/internal/risk"
	"github.com/quantframe/streamalpha/internal/strategy"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/quantframe/streamalpha/pkg/utils"
)

// Config tunes the live loop.
type Config struct {
	Symbols []string
	// TickBuffer is the capacity of the feed-to-driver queue. The feed
	// goroutine never mutates engine state; it only enqueues here.
	TickBuffer int
	// FillPollTimeout bounds the synchronous wait for a fill
	// confirmation after submission. On timeout the order keeps its
	// last-known status and the event is logged.
	FillPollTimeout time.Duration
	// FillPollInterval is the delay between GetOrder polls.
	FillPollInterval time.Duration
	// EquitySampleStride records a metrics-log line every N ticks.
	EquitySampleStride int
	// FaultThreshold is the consecutive strategy-error count that
	// triggers a critical warning.
	FaultThreshold int
	// CloseOnShutdown liquidates all open positions on graceful exit.
	CloseOnShutdown bool
}

// DefaultConfig returns live-loop defaults.
func DefaultConfig(symbols []string) Config {
	return Config{
		Symbols:            symbols,
		TickBuffer:         1024,
		FillPollTimeout:    10 * time.Second,
		FillPollInterval:   250 * time.Millisecond,
		EquitySampleStride: 60,
		FaultThreshold:     10,
	}
}

// Driver consumes a live tick stream and trades through a brokerage
// adapter. All engine state is mutated only on the driver goroutine;
// the feed delivers ticks through a single-producer single-consumer
// channel.
type Driver struct {
	logger    *zap.Logger
	config    Config
	evaluator strategy.Evaluator
	broker    broker.Broker
	validator *execution.Validator
	riskMgr   *risk.Manager
	eventLog  *eventlog.Writer
	orderMgr  *execution.OrderManager

	ticks  chan types.Tick
	prices map[string]decimal.Decimal

	ticksSeen         int
	consecutiveFaults int
	faultFlagged      bool
}

// NewDriver wires the live pipeline. eventLog may be nil.
func NewDriver(
	logger *zap.Logger,
	config Config,
	evaluator strategy.Evaluator,
	brk broker.Broker,
	validator *execution.Validator,
	riskMgr *risk.Manager,
	eventLog *eventlog.Writer,
) (*Driver, error) {
	if err := broker.ValidateUniverse(config.Symbols); err != nil {
		return nil, err
	}
	if config.TickBuffer <= 0 {
		config.TickBuffer = 1024
	}
	if config.FillPollTimeout <= 0 {
		config.FillPollTimeout = 10 * time.Second
	}
	if config.FillPollInterval <= 0 {
		config.FillPollInterval = 250 * time.Millisecond
	}
	if config.FaultThreshold <= 0 {
		config.FaultThreshold = 10
	}
	if config.EquitySampleStride <= 0 {
		config.EquitySampleStride = 60
	}
	return &Driver{
		logger:    logger.Named("live"),
		config:    config,
		evaluator: evaluator,
		broker:    brk,
		validator: validator,
		riskMgr:   riskMgr,
		eventLog:  eventLog,
		orderMgr:  execution.NewOrderManager(logger),
		ticks:     make(chan types.Tick, config.TickBuffer),
		prices:    make(map[string]decimal.Decimal),
	}, nil
}

// Orders exposes the order-lifecycle tracker, which retains every order
// this session has submitted, including those still awaiting an
// asynchronous fill.
func (d *Driver) Orders() *execution.OrderManager {
	return d.orderMgr
}

// Run subscribes to the trade stream and processes ticks until ctx is
// cancelled or an interrupt/termination signal arrives. The broker's
// streaming loop and the driver loop run as a pair; either one ending
// ends the session.
func (d *Driver) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	err := d.broker.SubscribeTrades(d.config.Symbols, func(tick types.Tick) {
		select {
		case d.ticks <- tick:
		default:
			// Feed outran the driver; dropping the tick is preferable
			// to blocking the stream reader.
			d.logger.Warn("tick queue full, dropping tick",
				zap.String("symbol", tick.Symbol))
		}
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		if err := d.broker.Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-sigCh:
				d.logger.Info("shutdown signal received, exiting at tick boundary",
					zap.String("signal", sig.String()))
				d.shutdown()
				return nil
			case tick := <-d.ticks:
				d.processTick(gctx, tick)
			}
		}
	})

	runErr := g.Wait()
	if cerr := d.broker.Close(); cerr != nil {
		d.logger.Warn("broker close failed", zap.Error(cerr))
	}
	return runErr
}

func (d *Driver) shutdown() {
	if !d.config.CloseOnShutdown {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.logger.Info("liquidating all open positions on shutdown")
	if err := d.broker.CloseAllPositions(ctx, true); err != nil {
		d.logger.Error("close-all on shutdown failed", zap.Error(err))
	}
}

func (d *Driver) processTick(ctx context.Context, tick types.Tick) {
	if tick.Price.Sign() <= 0 || tick.Size.IsNegative() {
		return
	}

	d.ticksSeen++
	d.prices[tick.Symbol] = tick.Price

	account, positions, ok := d.accountState(ctx)
	if !ok {
		return
	}

	exits := d.riskMgr.CheckStops(d.prices, account.PortfolioValue, positions)
	for _, exit := range exits {
		d.submit(ctx, exit, tick.Timestamp, true)
	}

	orders := d.evaluateStrategy(tick, account, positions)
	if d.riskMgr.IsBreakerTripped() {
		orders = nil
	}
	for _, order := range orders {
		d.submit(ctx, order, tick.Timestamp, false)
	}

	if d.ticksSeen%d.config.EquitySampleStride == 0 {
		d.recordSample(tick.Timestamp, account, positions)
	}
}

// accountState reads cash/value/positions from the broker and converts
// the position list into the map form the risk and validation layers
// consume.
func (d *Driver) accountState(ctx context.Context) (types.Account, map[string]*types.Position, bool) {
	account, err := d.broker.GetAccount(ctx)
	if err != nil {
		d.logger.Error("account read failed, tick skipped", zap.Error(err))
		return types.Account{}, nil, false
	}
	list, err := d.broker.GetPositions(ctx)
	if err != nil {
		d.logger.Error("positions read failed, tick skipped", zap.Error(err))
		return types.Account{}, nil, false
	}
	positions := make(map[string]*types.Position, len(list))
	for i := range list {
		p := list[i]
		positions[p.Symbol] = &p
	}
	return account, positions, true
}

func (d *Driver) evaluateStrategy(
	tick types.Tick,
	account types.Account,
	positions map[string]*types.Position,
) (orders []types.Order) {
	defer func() {
		if r := recover(); r != nil {
			d.consecutiveFaults++
			d.logger.Error("strategy fault",
				zap.String("strategy", d.evaluator.Name()),
				zap.Any("panic", r),
				zap.Int("consecutive", d.consecutiveFaults))
			if d.consecutiveFaults >= d.config.FaultThreshold && !d.faultFlagged {
				d.faultFlagged = true
				d.logger.Error("strategy flagged after repeated faults",
					zap.String("strategy", d.evaluator.Name()))
			}
			orders = nil
		}
	}()

	snapshot := strategy.PortfolioSnapshot{
		Equity:    account.PortfolioValue,
		Cash:      account.Cash,
		Positions: positions,
	}
	orders = d.evaluator.OnTick(tick, snapshot)
	d.consecutiveFaults = 0
	return orders
}

// submit sends one order to the broker and synchronously polls for its
// fill confirmation with a bounded timeout. Risk-forced exits skip the
// validation gate.
func (d *Driver) submit(ctx context.Context, order types.Order, now time.Time, riskForced bool) {
	if order.ID == "" {
		order.ID = utils.GenerateOrderID()
	}
	if order.TimeInForce == "" {
		order.TimeInForce = broker.DefaultTimeInForce(order.Symbol)
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	if !riskForced {
		account, positions, ok := d.accountState(ctx)
		if !ok {
			return
		}
		accepted, reason := d.validator.ValidateOrder(order, now, account.Cash, positions)
		if !accepted {
			order.Status = types.OrderStatusRejected
			d.logger.Info("order rejected",
				zap.String("symbol", order.Symbol), zap.String("reason", reason))
			d.logOrderEvent(eventlog.OrderEventRejected, order, reason)
			return
		}
		d.validator.RecordOrder(order.Symbol, now)
	}

	managed := d.orderMgr.TrackOrder(&order, "broker", "")

	brokerID, err := d.broker.SubmitOrder(ctx, order)
	if err != nil {
		order.Status = types.OrderStatusRejected
		d.orderMgr.UpdateOrderStatus(order.ID, execution.OrderStatusRejected, err.Error())
		d.logger.Error("brokerage submission failed",
			zap.String("symbol", order.Symbol), zap.Error(err))
		d.logOrderEvent(eventlog.OrderEventRejected, order, err.Error())
		return
	}
	managed.ExchangeOrderID = brokerID
	d.logOrderEvent(eventlog.OrderEventSent, order, "")

	d.awaitFill(ctx, &order, brokerID)
}

// awaitFill polls the broker for the order's status until it reaches a
// terminal state or the poll timeout elapses. A timeout leaves the order
// in its last-known status.
func (d *Driver) awaitFill(ctx context.Context, order *types.Order, brokerID string) {
	deadline := time.Now().Add(d.config.FillPollTimeout)
	for {
		report, err := d.broker.GetOrder(ctx, brokerID)
		if err != nil {
			d.logger.Warn("order status poll failed",
				zap.String("orderId", order.ID), zap.Error(err))
		} else {
			order.Status = report.Status
			order.FilledQty = report.FilledQty
			order.AvgFillPrice = report.AvgFillPrice
			order.FilledAt = report.FilledAt

			switch report.Status {
			case types.OrderStatusFilled:
				d.orderMgr.RecordFill(execution.OrderFill{
					OrderID:   order.ID,
					Price:     report.AvgFillPrice,
					Quantity:  report.FilledQty,
					Timestamp: time.Now(),
				})
				d.onFill(*order)
				d.logOrderEvent(eventlog.OrderEventFilled, *order, "")
				return
			case types.OrderStatusPartial, types.OrderStatusPartiallyFilled:
				d.orderMgr.UpdateOrderStatus(order.ID, execution.OrderStatusPartialFill, "")
				d.logOrderEvent(eventlog.OrderEventPartialFill, *order, "")
			case types.OrderStatusCancelled, types.OrderStatusRejected, types.OrderStatusExpired:
				d.orderMgr.UpdateOrderStatus(order.ID, execution.OrderStatus(report.Status), "")
				d.logOrderEvent(eventlog.OrderEventCancelled, *order, string(report.Status))
				return
			}
		}

		if time.Now().After(deadline) {
			d.logger.Warn("fill confirmation timed out, leaving last-known status",
				zap.String("orderId", order.ID),
				zap.String("status", string(order.Status)))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.config.FillPollInterval):
		}
	}
}

// onFill keeps the stop registry in step with the filled order: opening
// fills arm a stop at the fill price, closing fills drop it.
func (d *Driver) onFill(order types.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	positions, err := d.broker.GetPositions(ctx)
	if err != nil {
		d.logger.Warn("positions read after fill failed", zap.Error(err))
		return
	}
	var pos *types.Position
	for i := range positions {
		if positions[i].Symbol == order.Symbol {
			pos = &positions[i]
			break
		}
	}
	if pos == nil || pos.Quantity.IsZero() {
		d.riskMgr.RemovePositionStop(order.Symbol)
		return
	}
	d.riskMgr.AddPositionStop(order.Symbol, order.AvgFillPrice, pos.Quantity)
}

func (d *Driver) recordSample(now time.Time, account types.Account, positions map[string]*types.Position) {
	if d.eventLog == nil {
		return
	}
	openPositions := 0
	unrealized := decimal.Zero
	realized := decimal.Zero
	for _, pos := range positions {
		if !pos.Quantity.IsZero() {
			openPositions++
		}
		unrealized = unrealized.Add(pos.UnrealizedPnL)
		realized = realized.Add(pos.RealizedPnL)
	}
	rec := eventlog.PortfolioMetricsRecord{
		Timestamp:     now,
		Cash:          account.Cash,
		TotalValue:    account.PortfolioValue,
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		TotalPnL:      realized.Add(unrealized),
		PositionCount: openPositions,
	}
	if err := d.eventLog.AppendPortfolioMetrics(rec); err != nil {
		d.logger.Warn("portfolio metrics log append failed", zap.Error(err))
	}
}

func (d *Driver) logOrderEvent(kind eventlog.OrderEventKind, order types.Order, message string) {
	if d.eventLog == nil {
		return
	}
	if err := d.eventLog.AppendOrderEvent(eventlog.OrderEventFromOrder(kind, order, message)); err != nil {
		d.logger.Warn("order event log append failed", zap.Error(err))
	}
}
