package backtester_test

import (
	"testing"
	"time"

	"github.com/quantframe/streamalpha/internal/backtester"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

func TestPortfolioShortPosition(t *testing.T) {
	p := backtester.NewPortfolio(decimal.NewFromInt(10000))
	now := time.Now()

	pnl := p.ProcessTrade(types.Trade{
		Symbol: "BTC/USD", Side: types.OrderSideSell,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100),
		ExecutedAt: now,
	})
	if !pnl.IsZero() {
		t.Fatalf("opening trade should not realize pnl, got %s", pnl)
	}

	pos := p.GetPosition("BTC/USD")
	if pos == nil || !pos.IsShort() {
		t.Fatalf("expected a short position, got %+v", pos)
	}
	if !pos.Quantity.Equal(decimal.NewFromInt(-1)) {
		t.Errorf("expected quantity -1, got %s", pos.Quantity)
	}

	// Cover at a profit: bought back below entry.
	pnl = p.ProcessTrade(types.Trade{
		Symbol: "BTC/USD", Side: types.OrderSideBuy,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(80),
		ExecutedAt: now.Add(time.Minute),
	})
	expected := decimal.NewFromInt(20) // sign(-1) * (80-100) * 1
	if !pnl.Equal(expected) {
		t.Errorf("expected realized pnl %s, got %s", expected, pnl)
	}

	pos = p.GetPosition("BTC/USD")
	if !pos.Quantity.IsZero() {
		t.Errorf("expected flat position, got %s", pos.Quantity)
	}
}

func TestPortfolioCrossThroughZeroReopens(t *testing.T) {
	p := backtester.NewPortfolio(decimal.NewFromInt(10000))
	now := time.Now()

	p.ProcessTrade(types.Trade{
		Symbol: "ETH/USD", Side: types.OrderSideBuy,
		Quantity: decimal.NewFromInt(5), Price: decimal.NewFromInt(10),
		ExecutedAt: now,
	})

	// Sell through the long into a short.
	pnl := p.ProcessTrade(types.Trade{
		Symbol: "ETH/USD", Side: types.OrderSideSell,
		Quantity: decimal.NewFromInt(8), Price: decimal.NewFromInt(12),
		ExecutedAt: now.Add(time.Minute),
	})

	expected := decimal.NewFromInt(10) // sign(+1)*(12-10)*min(8,5) = 10
	if !pnl.Equal(expected) {
		t.Errorf("expected realized pnl %s, got %s", expected, pnl)
	}

	pos := p.GetPosition("ETH/USD")
	if pos == nil {
		t.Fatal("position should exist")
	}
	if !pos.Quantity.Equal(decimal.NewFromInt(-3)) {
		t.Errorf("expected residual quantity -3, got %s", pos.Quantity)
	}
	if !pos.AvgCost.Equal(decimal.NewFromInt(12)) {
		t.Errorf("residual entry price should reset to trade price 12, got %s", pos.AvgCost)
	}
}

func TestPortfolioAveragesCostOnAdd(t *testing.T) {
	p := backtester.NewPortfolio(decimal.NewFromInt(10000))
	now := time.Now()

	p.ProcessTrade(types.Trade{
		Symbol: "SOL/USD", Side: types.OrderSideBuy,
		Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(20),
		ExecutedAt: now,
	})
	p.ProcessTrade(types.Trade{
		Symbol: "SOL/USD", Side: types.OrderSideBuy,
		Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(30),
		ExecutedAt: now.Add(time.Minute),
	})

	pos := p.GetPosition("SOL/USD")
	if !pos.Quantity.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected quantity 20, got %s", pos.Quantity)
	}
	if !pos.AvgCost.Equal(decimal.NewFromInt(25)) {
		t.Errorf("expected avg cost 25, got %s", pos.AvgCost)
	}
}

func TestPortfolioRecordEquityTracksHighWaterMark(t *testing.T) {
	p := backtester.NewPortfolio(decimal.NewFromInt(1000))
	now := time.Now()

	p.ProcessTrade(types.Trade{
		Symbol: "AAPL", Side: types.OrderSideBuy,
		Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(10),
		ExecutedAt: now,
	})

	p.RecordEquity(now, map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(20)})
	if p.HighWaterMark().LessThan(decimal.NewFromInt(1100)) {
		t.Errorf("expected high water mark to rise to at least 1100, got %s", p.HighWaterMark())
	}

	p.RecordEquity(now.Add(time.Minute), map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(5)})
	dd := p.GetDrawdown()
	if dd.IsZero() {
		t.Error("expected nonzero drawdown after price decline")
	}

	curve := p.EquityCurve()
	if len(curve) != 2 {
		t.Fatalf("expected 2 equity curve points, got %d", len(curve))
	}
}

func TestPortfolioPerformanceMetrics(t *testing.T) {
	p := backtester.NewPortfolio(decimal.NewFromInt(1000))
	now := time.Now()

	p.ProcessTrade(types.Trade{
		Symbol: "MSFT", Side: types.OrderSideBuy,
		Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(10),
		ExecutedAt: now,
	})
	p.ProcessTrade(types.Trade{
		Symbol: "MSFT", Side: types.OrderSideSell,
		Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(15),
		ExecutedAt: now.Add(time.Hour),
	})
	p.RecordEquity(now.Add(time.Hour), map[string]decimal.Decimal{"MSFT": decimal.NewFromInt(15)})

	m := p.PerformanceMetrics()
	if m.WinningTrades != 1 {
		t.Errorf("expected 1 winning trade, got %d", m.WinningTrades)
	}
	if !m.RealizedPnL.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected realized pnl 50, got %s", m.RealizedPnL)
	}
	if m.AvgHoldingTime != time.Hour {
		t.Errorf("expected avg holding time 1h, got %s", m.AvgHoldingTime)
	}
}
