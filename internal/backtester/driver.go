package backtester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantframe/streamalpha/internal/eventlog"
	"github.com/quantframe/streamalpha/internal/execution"
	"github.com/quantframe/streamalpha/internal/metrics"
	"github.com/quantframe/streamalpha/internal/risk"
	"github.com/quantframe/streamalpha/internal/strategy"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/quantframe/streamalpha/pkg/utils"
)

// TickSource is the inbound market-data contract: a lazy, ordered stream
// of ticks. Next returns io.EOF when the stream is exhausted.
type TickSource interface {
	Next() (types.Tick, error)
}

// DriverConfig tunes the tick loop itself, not any of the components it
// drives.
type DriverConfig struct {
	// EquitySampleStride records an equity-curve sample (and a portfolio
	// metrics log line) every N ticks. Zero means every tick.
	EquitySampleStride int
	// MaxTicks stops the run after this many ticks; zero means run to EOF.
	MaxTicks int
	// FaultThreshold is the consecutive strategy-error count that triggers
	// a critical warning. The pipeline continues either way.
	FaultThreshold int
	// CloseOnFinish liquidates every open position at the last seen price
	// when the run ends.
	CloseOnFinish bool
	// MonteCarlo, when enabled, resamples the finished run's trades to
	// estimate how sensitive the result is to trade ordering.
	MonteCarlo types.MonteCarloConfig
}

// DefaultDriverConfig returns the driver defaults: an equity sample on
// every tick and a strategy fault threshold of 10.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		EquitySampleStride: 1,
		FaultThreshold:     10,
	}
}

// DriverResult is what a completed backtest run hands back to the caller.
type DriverResult struct {
	TicksProcessed int
	OrdersRejected int
	OrdersCancelled int
	Metrics        AccountMetrics
	EquityCurve    []types.EquityCurvePoint
	Trades         []types.Trade
	FinalCash      decimal.Decimal
	FinalEquity    decimal.Decimal
	BreakerTripped bool
	Viability      *ViabilityReport
	RiskMetrics    *types.RiskMetrics
	MonteCarlo     *types.MonteCarloResult
}

// Driver runs the per-tick pipeline: stop and circuit-breaker checks,
// strategy evaluation, order validation, simulated matching, portfolio
// accounting, and event logging, in that causal order. One tick is fully processed before the
// next begins.
type Driver struct {
	logger    *zap.Logger
	config    DriverConfig
	evaluator strategy.Evaluator
	portfolio *Portfolio
	validator *execution.Validator
	matching  *execution.MatchingEngine
	riskMgr   *risk.Manager
	eventLog  *eventlog.Writer
	collector *metrics.Collector

	prices map[string]decimal.Decimal

	ticksSeen         int
	ordersRejected    int
	ordersCancelled   int
	consecutiveFaults int
	faultFlagged      bool
}

// NewDriver wires the pipeline. eventLog may be nil, in which case no
// order-event or portfolio-metrics records are written.
func NewDriver(
	logger *zap.Logger,
	config DriverConfig,
	evaluator strategy.Evaluator,
	portfolio *Portfolio,
	validator *execution.Validator,
	matching *execution.MatchingEngine,
	riskMgr *risk.Manager,
	eventLog *eventlog.Writer,
) *Driver {
	if config.FaultThreshold <= 0 {
		config.FaultThreshold = 10
	}
	if config.EquitySampleStride <= 0 {
		config.EquitySampleStride = 1
	}
	return &Driver{
		logger:    logger.Named("driver"),
		config:    config,
		evaluator: evaluator,
		portfolio: portfolio,
		validator: validator,
		matching:  matching,
		riskMgr:   riskMgr,
		eventLog:  eventLog,
		prices:    make(map[string]decimal.Decimal),
	}
}

// SetCollector attaches Prometheus counters; nil (the default) disables
// metric recording.
func (d *Driver) SetCollector(c *metrics.Collector) {
	d.collector = c
}

// Run consumes the tick source until EOF, MaxTicks, or context
// cancellation, then finalizes and returns the result.
func (d *Driver) Run(ctx context.Context, source TickSource) (*DriverResult, error) {
	var lastTime time.Time
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutdown requested, exiting at tick boundary")
			return d.finalize(lastTime), nil
		default:
		}

		if d.config.MaxTicks > 0 && d.ticksSeen >= d.config.MaxTicks {
			break
		}

		tick, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tick source: %w", err)
		}

		d.ProcessTick(tick)
		lastTime = tick.Timestamp
	}

	return d.finalize(lastTime), nil
}

// ProcessTick runs the full pipeline for one tick. Exposed so the live
// driver and tests can feed ticks directly.
func (d *Driver) ProcessTick(tick types.Tick) {
	if tick.Price.Sign() <= 0 || tick.Size.IsNegative() {
		d.logger.Debug("invalid tick dropped",
			zap.String("symbol", tick.Symbol),
			zap.String("price", tick.Price.String()))
		return
	}

	d.ticksSeen++
	d.prices[tick.Symbol] = tick.Price
	d.portfolio.UpdatePrice(tick.Symbol, tick.Price)
	if d.collector != nil {
		d.collector.TicksProcessed.Inc()
	}

	// Risk-forced exits run before anything the strategy wants to do
	// this tick, and bypass validation entirely.
	view := d.portfolio.ToTypes()
	tripped := d.riskMgr.IsBreakerTripped()
	exits := d.riskMgr.CheckStops(d.prices, view.Equity, view.Positions)
	if d.collector != nil {
		d.collector.RiskExits.Add(float64(len(exits)))
		if !tripped && d.riskMgr.IsBreakerTripped() {
			d.collector.BreakerTrips.Inc()
		}
	}
	for _, exit := range exits {
		d.submitRiskExit(exit, tick.Timestamp)
	}

	orders := d.evaluateStrategy(tick)
	if d.riskMgr.IsBreakerTripped() {
		// Strategy state still advances while tripped; its orders do not.
		orders = nil
	}

	for _, order := range orders {
		d.submitStrategyOrder(order, tick.Timestamp)
	}

	if d.ticksSeen%d.config.EquitySampleStride == 0 {
		d.recordSample(tick.Timestamp)
	}
}

// evaluateStrategy calls the evaluator with panic containment and
// consecutive-fault accounting.
func (d *Driver) evaluateStrategy(tick types.Tick) (orders []types.Order) {
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
					zap.String("strategy", d.evaluator.Name()),
					zap.Int("threshold", d.config.FaultThreshold))
			}
			orders = nil
		}
	}()

	snapshot := d.snapshot()
	orders = d.evaluator.OnTick(tick, snapshot)
	d.consecutiveFaults = 0
	return orders
}

func (d *Driver) snapshot() strategy.PortfolioSnapshot {
	view := d.portfolio.ToTypes()
	return strategy.PortfolioSnapshot{
		Equity:    view.Equity,
		Cash:      view.Cash,
		Positions: view.Positions,
	}
}

// submitRiskExit executes a stop or circuit-breaker exit. These bypass
// the rate/capital/position gates but still pass through the matching
// engine, so they pay the same transaction costs as any other order.
func (d *Driver) submitRiskExit(order types.Order, now time.Time) {
	d.stampOrder(&order, now)
	d.logOrderEvent(eventlog.OrderEventSent, order, "risk-forced exit")
	d.execute(order, now)
}

func (d *Driver) submitStrategyOrder(order types.Order, now time.Time) {
	d.stampOrder(&order, now)

	view := d.portfolio.ToTypes()
	accepted, reason := d.validator.ValidateOrder(order, now, view.Cash, view.Positions)
	if !accepted {
		d.ordersRejected++
		if d.collector != nil {
			d.collector.OrdersRejected.Inc()
		}
		order.Status = types.OrderStatusRejected
		order.UpdatedAt = now
		d.logger.Info("order rejected",
			zap.String("symbol", order.Symbol),
			zap.String("side", string(order.Side)),
			zap.String("reason", reason))
		d.logOrderEvent(eventlog.OrderEventRejected, order, reason)
		return
	}
	d.validator.RecordOrder(order.Symbol, now)
	if d.collector != nil {
		d.collector.OrdersSubmitted.Inc()
	}
	d.logOrderEvent(eventlog.OrderEventSent, order, "")
	d.execute(order, now)
}

// execute routes one accepted order through the matching engine and
// applies the outcome to the order, the portfolio, and the stop registry.
func (d *Driver) execute(order types.Order, now time.Time) {
	marketPrice, ok := d.prices[order.Symbol]
	if !ok || marketPrice.Sign() <= 0 {
		d.logger.Warn("no market price for order symbol, dropping",
			zap.String("symbol", order.Symbol))
		return
	}

	prevQty := decimal.Zero
	if pos := d.portfolio.GetPosition(order.Symbol); pos != nil {
		prevQty = pos.Quantity
	}

	trade, outcome := d.matching.Execute(order, marketPrice, decimal.Zero, decimal.Zero, now)
	switch outcome {
	case execution.FillOutcomeCancelled:
		d.ordersCancelled++
		if d.collector != nil {
			d.collector.OrdersCancelled.Inc()
		}
		order.Status = types.OrderStatusCancelled
		order.UpdatedAt = now
		d.logOrderEvent(eventlog.OrderEventCancelled, order, "matching engine cancel")
		return
	case execution.FillOutcomePartial:
		order.Status = types.OrderStatusPartial
	case execution.FillOutcomeFull:
		order.Status = types.OrderStatusFilled
	}

	order.FilledQty = trade.Quantity
	order.AvgFillPrice = trade.Price
	order.UpdatedAt = now
	filledAt := now
	order.FilledAt = &filledAt

	d.portfolio.ProcessTrade(trade)
	if d.collector != nil {
		d.collector.TradesExecuted.Inc()
	}
	d.armStops(order.Symbol, prevQty, trade)

	kind := eventlog.OrderEventFilled
	if outcome == execution.FillOutcomePartial {
		kind = eventlog.OrderEventPartialFill
	}
	d.logOrderEvent(kind, order, "")
	d.logTradeEvent(order, trade)
}

// armStops keeps the stop registry in step with position transitions:
// a position opened or reversed through zero gets a fresh stop at the
// fill price; a position closed to flat loses its stop.
func (d *Driver) armStops(symbol string, prevQty decimal.Decimal, trade types.Trade) {
	pos := d.portfolio.GetPosition(symbol)
	if pos == nil {
		return
	}
	switch {
	case pos.IsFlat():
		d.riskMgr.RemovePositionStop(symbol)
	case prevQty.IsZero() || prevQty.Sign() != pos.Quantity.Sign():
		d.riskMgr.RemovePositionStop(symbol)
		d.riskMgr.AddPositionStop(symbol, trade.Price, pos.Quantity)
	}
}

func (d *Driver) stampOrder(order *types.Order, now time.Time) {
	if order.ID == "" {
		order.ID = utils.GenerateOrderID()
	}
	if order.TimeInForce == "" {
		order.TimeInForce = defaultTimeInForce(order.Symbol)
	}
	order.CreatedAt = now
	order.UpdatedAt = now
}

func (d *Driver) recordSample(now time.Time) {
	d.portfolio.RecordEquity(now, d.prices)

	if d.collector != nil {
		equity, _ := d.portfolio.GetEquity().Float64()
		d.collector.Equity.Set(equity)
	}
	if d.eventLog == nil {
		return
	}
	m := d.portfolio.PerformanceMetrics()
	view := d.portfolio.ToTypes()
	openPositions := 0
	for _, pos := range view.Positions {
		if !pos.Quantity.IsZero() {
			openPositions++
		}
	}
	rec := eventlog.PortfolioMetricsRecord{
		Timestamp:          now,
		Cash:               view.Cash,
		TotalValue:         view.Equity,
		TotalReturnPct:     m.TotalReturnPct,
		TotalPnL:           m.TotalPnL,
		RealizedPnL:        m.RealizedPnL,
		UnrealizedPnL:      m.UnrealizedPnL,
		PositionCount:      openPositions,
		TradeCount:         m.TotalTrades,
		WinRatePct:         m.WinRate.Mul(decimal.NewFromInt(100)),
		MaxDrawdownPct:     m.MaxDrawdownPct,
		CurrentDrawdownPct: m.CurrentDrawdownPct,
	}
	if err := d.eventLog.AppendPortfolioMetrics(rec); err != nil {
		d.logger.Warn("portfolio metrics log append failed", zap.Error(err))
	}
}

func (d *Driver) logOrderEvent(kind eventlog.OrderEventKind, order types.Order, message string) {
	if d.eventLog == nil {
		return
	}
	rec := eventlog.OrderEventFromOrder(kind, order, message)
	if err := d.eventLog.AppendOrderEvent(rec); err != nil {
		d.logger.Warn("order event log append failed", zap.Error(err))
	}
}

func (d *Driver) logTradeEvent(order types.Order, trade types.Trade) {
	if d.eventLog == nil {
		return
	}
	rec := eventlog.OrderEventRecord{
		Timestamp:    trade.ExecutedAt,
		EventKind:    eventlog.OrderEventTrade,
		OrderID:      trade.OrderID,
		Symbol:       trade.Symbol,
		Side:         trade.Side,
		Type:         order.Type,
		Quantity:     trade.Quantity,
		Price:        trade.Price,
		Status:       order.Status,
		FilledQty:    order.FilledQty,
		AvgFillPrice: order.AvgFillPrice,
	}
	if err := d.eventLog.AppendOrderEvent(rec); err != nil {
		d.logger.Warn("order event log append failed", zap.Error(err))
	}
}

func (d *Driver) finalize(lastTime time.Time) *DriverResult {
	if d.config.CloseOnFinish && !lastTime.IsZero() {
		view := d.portfolio.ToTypes()
		for symbol, pos := range view.Positions {
			if pos.Quantity.IsZero() {
				continue
			}
			side := types.OrderSideSell
			if pos.Quantity.IsNegative() {
				side = types.OrderSideBuy
			}
			exit := types.Order{
				Symbol:   symbol,
				Side:     side,
				Type:     types.OrderTypeMarket,
				Quantity: pos.Quantity.Abs(),
				Status:   types.OrderStatusPending,
			}
			d.submitRiskExit(exit, lastTime)
		}
	}

	if !lastTime.IsZero() {
		d.portfolio.RecordEquity(lastTime, d.prices)
	}

	view := d.portfolio.ToTypes()
	result := &DriverResult{
		TicksProcessed:  d.ticksSeen,
		OrdersRejected:  d.ordersRejected,
		OrdersCancelled: d.ordersCancelled,
		Metrics:         d.portfolio.PerformanceMetrics(),
		EquityCurve:     d.portfolio.EquityCurve(),
		Trades:          d.portfolio.Trades(),
		FinalCash:       view.Cash,
		FinalEquity:     view.Equity,
		BreakerTripped:  d.riskMgr.IsBreakerTripped(),
	}
	result.RiskMetrics = d.portfolio.RiskMetrics()

	result.Viability = NewViabilityChecker(DefaultViabilityThresholds()).Check(result.Metrics)
	if !result.Viability.IsViable {
		d.logger.Warn("run failed viability thresholds",
			zap.String("report", result.Viability.String()))
	}

	if d.config.MonteCarlo.Enabled && len(result.Trades) > 0 {
		mc := NewMonteCarloSimulator(d.logger, d.config.MonteCarlo, nil)
		result.MonteCarlo = mc.Run(result.Trades, d.portfolio.InitialCash())
	}

	return result
}

// defaultTimeInForce mirrors the asset-class rule: crypto pairs
// (symbols containing "/") default to GTC, equities to Day.
func defaultTimeInForce(symbol string) types.TimeInForce {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '/' {
			return types.TimeInForceGTC
		}
	}
	return types.TimeInForceDay
}
