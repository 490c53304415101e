package eventlog_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/quantframe/streamalpha/internal/eventlog"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestAppendOrderEventWritesNewlineDelimitedJSON(t *testing.T) {
	var orderBuf, metricsBuf bytes.Buffer
	w := eventlog.NewWriter(zap.NewNop(), &orderBuf, &metricsBuf)

	order := types.Order{
		ID: "ord-1", Symbol: "AAPL", Side: types.OrderSideBuy, Type: types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(10), Status: types.OrderStatusFilled,
		FilledQty: decimal.NewFromInt(10), AvgFillPrice: decimal.NewFromInt(150),
		UpdatedAt: time.Unix(1000, 0),
	}

	if err := w.AppendOrderEvent(eventlog.OrderEventFromOrder(eventlog.OrderEventFilled, order, "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.AppendOrderEvent(eventlog.OrderEventFromOrder(eventlog.OrderEventSent, order, "submitted")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	scanner := bufio.NewScanner(&orderBuf)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 newline-delimited records, got %d", len(lines))
	}

	var rec eventlog.OrderEventRecord
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("failed to unmarshal record: %v", err)
	}
	if rec.EventKind != eventlog.OrderEventFilled || rec.OrderID != "ord-1" || rec.Symbol != "AAPL" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.AvgFillPrice.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected avg fill price 150, got %s", rec.AvgFillPrice)
	}
}

func TestAppendPortfolioMetricsRoundTrips(t *testing.T) {
	var orderBuf, metricsBuf bytes.Buffer
	w := eventlog.NewWriter(zap.NewNop(), &orderBuf, &metricsBuf)

	rec := eventlog.PortfolioMetricsRecord{
		Timestamp:      time.Unix(2000, 0),
		Cash:           decimal.NewFromInt(50000),
		TotalValue:     decimal.NewFromInt(105000),
		TotalReturnPct: decimal.NewFromFloat(5.0),
		TotalPnL:       decimal.NewFromInt(5000),
		PositionCount:  2,
		TradeCount:     10,
		WinRatePct:     decimal.NewFromFloat(60.0),
	}
	if err := w.AppendPortfolioMetrics(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got eventlog.PortfolioMetricsRecord
	if err := json.Unmarshal(metricsBuf.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if !got.TotalValue.Equal(rec.TotalValue) || got.PositionCount != rec.PositionCount {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, rec)
	}
}
