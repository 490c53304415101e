// Package eventlog provides the append-only order-event and
// portfolio-metrics logs: newline-delimited JSON records written once
// and never read back by the engine.
package eventlog

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderEventKind enumerates the order lifecycle events the log records,
// matching the tuple named in the external-interfaces operation list
// exactly (SENT/MODIFIED/PARTIAL_FILL/FILLED/CANCELLED/REJECTED/TRADE).
type OrderEventKind string

const (
	OrderEventSent         OrderEventKind = "SENT"
	OrderEventModified     OrderEventKind = "MODIFIED"
	OrderEventPartialFill  OrderEventKind = "PARTIAL_FILL"
	OrderEventFilled       OrderEventKind = "FILLED"
	OrderEventCancelled    OrderEventKind = "CANCELLED"
	OrderEventRejected     OrderEventKind = "REJECTED"
	OrderEventTrade        OrderEventKind = "TRADE"
)

// OrderEventRecord is one line of the order event log.
type OrderEventRecord struct {
	Timestamp      time.Time       `json:"timestamp"`
	EventKind      OrderEventKind  `json:"eventKind"`
	OrderID        string          `json:"orderId"`
	Symbol         string          `json:"symbol"`
	Side           types.OrderSide `json:"side"`
	Type           types.OrderType `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Status         types.OrderStatus `json:"status"`
	FilledQty      decimal.Decimal `json:"filledQty"`
	AvgFillPrice   decimal.Decimal `json:"avgFillPrice"`
	Message        string          `json:"message,omitempty"`
}

// PortfolioMetricsRecord is one line of the portfolio metrics log.
type PortfolioMetricsRecord struct {
	Timestamp          time.Time       `json:"timestamp"`
	Cash               decimal.Decimal `json:"cash"`
	TotalValue         decimal.Decimal `json:"totalValue"`
	TotalReturnPct     decimal.Decimal `json:"totalReturnPct"`
	TotalPnL           decimal.Decimal `json:"totalPnl"`
	RealizedPnL        decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnL      decimal.Decimal `json:"unrealizedPnl"`
	PositionCount      int             `json:"positionCount"`
	TradeCount         int             `json:"tradeCount"`
	WinRatePct         decimal.Decimal `json:"winRatePct"`
	MaxDrawdownPct     decimal.Decimal `json:"maxDrawdownPct"`
	CurrentDrawdownPct decimal.Decimal `json:"currentDrawdownPct"`
}

// Writer appends newline-delimited JSON records to two underlying
// writers (order events, portfolio metrics). Each log has its own mutex,
// so concurrent callers never interleave records. Appends run on the
// caller's goroutine: the drivers call them from the tick loop, and each
// append encodes and flushes its record before returning.
type Writer struct {
	logger *zap.Logger

	orderMu  sync.Mutex
	orderW   *bufio.Writer
	orderEnc *json.Encoder

	metricsMu  sync.Mutex
	metricsW   *bufio.Writer
	metricsEnc *json.Encoder
}

// NewWriter wraps the given destinations (typically *os.File, opened
// O_APPEND) in buffered encoders for each log.
func NewWriter(logger *zap.Logger, orderEvents, portfolioMetrics io.Writer) *Writer {
	orderW := bufio.NewWriter(orderEvents)
	metricsW := bufio.NewWriter(portfolioMetrics)
	return &Writer{
		logger:     logger.Named("eventlog"),
		orderW:     orderW,
		orderEnc:   json.NewEncoder(orderW),
		metricsW:   metricsW,
		metricsEnc: json.NewEncoder(metricsW),
	}
}

// AppendOrderEvent writes one order-event record and flushes it, so a
// crash between calls loses at most the unflushed write syscall itself,
// never a prior record.
func (w *Writer) AppendOrderEvent(rec OrderEventRecord) error {
	w.orderMu.Lock()
	defer w.orderMu.Unlock()
	if err := w.orderEnc.Encode(rec); err != nil {
		w.logger.Error("failed to encode order event", zap.Error(err))
		return err
	}
	return w.orderW.Flush()
}

// AppendPortfolioMetrics writes one portfolio-metrics record and flushes it.
func (w *Writer) AppendPortfolioMetrics(rec PortfolioMetricsRecord) error {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	if err := w.metricsEnc.Encode(rec); err != nil {
		w.logger.Error("failed to encode portfolio metrics", zap.Error(err))
		return err
	}
	return w.metricsW.Flush()
}

// OrderEventFromOrder builds a record from an order and an explicit
// kind, the common case for SENT/CANCELLED/REJECTED entries where the
// order itself carries all the needed fields.
func OrderEventFromOrder(kind OrderEventKind, order types.Order, message string) OrderEventRecord {
	return OrderEventRecord{
		Timestamp:    order.UpdatedAt,
		EventKind:    kind,
		OrderID:      order.ID,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Type:         order.Type,
		Quantity:     order.Quantity,
		Price:        order.Price,
		Status:       order.Status,
		FilledQty:    order.FilledQty,
		AvgFillPrice: order.AvgFillPrice,
		Message:      message,
	}
}
