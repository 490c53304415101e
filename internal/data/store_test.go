// Package data_test provides tests for the data store and tick sources.
package data_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantframe/streamalpha/internal/data"
	"github.com/quantframe/streamalpha/pkg/types"
)

func newStore(t *testing.T) *data.Store {
	t.Helper()
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func makeBars(start time.Time, n int, price float64) []*types.OHLCV {
	bars := make([]*types.OHLCV, n)
	for i := 0; i < n; i++ {
		p := decimal.NewFromFloat(price + float64(i))
		bars[i] = &types.OHLCV{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      p, High: p, Low: p, Close: p,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return bars
}

func TestSampleDataSeedsSymbols(t *testing.T) {
	store := newStore(t)
	store.GenerateSampleData()

	symbols := store.GetAvailableSymbols()
	if len(symbols) == 0 {
		t.Fatal("expected the sample universe to be listed")
	}

	bars, err := store.LoadOHLCV(context.Background(), symbols[0], types.Timeframe1h,
		time.Now().AddDate(0, -1, 0), time.Now())
	if err != nil {
		t.Fatalf("LoadOHLCV failed: %v", err)
	}
	if len(bars) == 0 {
		t.Error("expected bars for a seeded symbol")
	}
}

func TestOHLCVSaveAndLoadRoundTrip(t *testing.T) {
	store := newStore(t)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := makeBars(start, 48, 100)

	if err := store.SaveOHLCV("AAPL", types.Timeframe1h, bars); err != nil {
		t.Fatalf("SaveOHLCV failed: %v", err)
	}

	loaded, err := store.LoadOHLCV(context.Background(), "AAPL", types.Timeframe1h,
		start, start.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("LoadOHLCV failed: %v", err)
	}
	if len(loaded) != len(bars) {
		t.Fatalf("expected %d bars back, got %d", len(bars), len(loaded))
	}
	if !loaded[0].Close.Equal(bars[0].Close) {
		t.Errorf("first bar close mismatch: %s vs %s", loaded[0].Close, bars[0].Close)
	}

	gotStart, gotEnd, err := store.GetDataRange("AAPL")
	if err != nil {
		t.Fatalf("GetDataRange failed: %v", err)
	}
	if !gotStart.Equal(bars[0].Timestamp) || !gotEnd.Equal(bars[len(bars)-1].Timestamp) {
		t.Errorf("range mismatch: %v-%v", gotStart, gotEnd)
	}
}

func TestLoadOHLCVFiltersByTimeRange(t *testing.T) {
	store := newStore(t)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := store.SaveOHLCV("MSFT", types.Timeframe1h, makeBars(start, 24, 300)); err != nil {
		t.Fatalf("SaveOHLCV failed: %v", err)
	}

	window, err := store.LoadOHLCV(context.Background(), "MSFT", types.Timeframe1h,
		start.Add(6*time.Hour), start.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("LoadOHLCV failed: %v", err)
	}
	for _, bar := range window {
		if bar.Timestamp.Before(start.Add(6*time.Hour)) || bar.Timestamp.After(start.Add(12*time.Hour)) {
			t.Errorf("bar %v outside requested window", bar.Timestamp)
		}
	}
}

func TestPersistenceAcrossStoreInstances(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	first, err := data.NewStore(logger, dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := first.SaveOHLCV("TSLA", types.Timeframe1h, makeBars(start, 12, 200)); err != nil {
		t.Fatalf("SaveOHLCV failed: %v", err)
	}

	second, err := data.NewStore(logger, dir)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	bars, err := second.LoadOHLCV(context.Background(), "TSLA", types.Timeframe1h,
		start, start.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("LoadOHLCV after reopen failed: %v", err)
	}
	if len(bars) != 12 {
		t.Errorf("expected 12 persisted bars, got %d", len(bars))
	}
}

func TestConcurrentLoads(t *testing.T) {
	store := newStore(t)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := store.SaveOHLCV("NVDA", types.Timeframe1h, makeBars(start, 24, 800)); err != nil {
		t.Fatalf("SaveOHLCV failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.LoadOHLCV(context.Background(), "NVDA", types.Timeframe1h,
				start, start.Add(24*time.Hour)); err != nil {
				t.Errorf("concurrent load failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestLoadTicksFromCSV(t *testing.T) {
	dir := t.TempDir()
	store, err := data.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	content := "timestamp,symbol,price,volume\n" +
		"2024-03-01T09:30:00Z,AAPL,150.25,100\n" +
		"2024-03-01T09:31:00Z,AAPL,150.50,200\n" +
		"2024-03-01T09:32:00Z,AAPL,150.10,150\n"
	if err := os.WriteFile(filepath.Join(dir, "AAPL_ticks.csv"), []byte(content), 0o644); err != nil {
		t.Fatalf("write tick file: %v", err)
	}

	ticks, err := store.LoadTicks(context.Background(), "AAPL", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadTicks failed: %v", err)
	}
	if len(ticks) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(ticks))
	}
	if !ticks[1].Price.Equal(decimal.NewFromFloat(150.50)) {
		t.Errorf("second tick price mismatch: %s", ticks[1].Price)
	}

	// Missing file is not an error, just no data.
	none, err := store.LoadTicks(context.Background(), "MSFT", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadTicks for missing symbol errored: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no ticks for missing symbol, got %d", len(none))
	}
}

func TestTicksFromBarsSkipsBadBars(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := makeBars(start, 3, 100)
	bars = append(bars, nil, &types.OHLCV{Timestamp: start, Close: decimal.Zero})

	ticks := data.TicksFromBars("AAPL", bars)
	if len(ticks) != 3 {
		t.Fatalf("expected 3 ticks from 3 good bars, got %d", len(ticks))
	}
	for _, tick := range ticks {
		if tick.Price.Sign() <= 0 {
			t.Errorf("tick with non-positive price leaked through")
		}
	}
}

func TestSliceTickSourceDrainsToEOF(t *testing.T) {
	ticks := []types.Tick{
		{Symbol: "X", Price: decimal.NewFromInt(1)},
		{Symbol: "X", Price: decimal.NewFromInt(2)},
	}
	source := data.NewSliceTickSource(ticks)

	for i := 0; i < 2; i++ {
		if _, err := source.Next(); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	if _, err := source.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of slice, got %v", err)
	}
}
