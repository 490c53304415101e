// Package tests provides integration tests for the API surface: REST
// backtest control, WebSocket streaming, and concurrent runs against a
// live server instance.
package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantframe/streamalpha/internal/api"
	"github.com/quantframe/streamalpha/internal/data"
	"github.com/quantframe/streamalpha/pkg/types"
)

func startServer(t *testing.T, addr string) (*api.Server, string) {
	t.Helper()
	logger := zap.NewNop()

	dataStore, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create data store: %v", err)
	}
	dataStore.GenerateSampleData()

	server := api.NewServer(logger, dataStore)
	go server.Start(addr)
	time.Sleep(100 * time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})
	return server, "http://localhost" + addr
}

func sampleBacktestConfig(id, symbol string) types.BacktestConfig {
	return types.BacktestConfig{
		ID:      id,
		Symbols: []string{symbol},
		Strategy: types.StrategyConfig{
			Type: "sma_crossover",
			Parameters: map[string]any{
				"short_window": 5,
				"long_window":  20,
			},
		},
		StartDate:      time.Now().AddDate(0, -1, 0),
		EndDate:        time.Now(),
		Timeframe:      types.Timeframe1h,
		InitialCapital: decimal.NewFromInt(10000),
		Seed:           42,
	}
}

// TestFullBacktestWorkflow drives the complete flow: health, symbol
// listing, history query, backtest run, and status polling.
func TestFullBacktestWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	_, baseURL := startServer(t, ":18082")

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Health check returned %d", resp.StatusCode)
	}

	resp, err = http.Get(baseURL + "/api/v1/symbols")
	if err != nil {
		t.Fatalf("Get symbols failed: %v", err)
	}
	var symbols []string
	json.NewDecoder(resp.Body).Decode(&symbols)
	resp.Body.Close()
	if len(symbols) == 0 {
		t.Fatal("No symbols available")
	}
	symbol := symbols[0]

	resp, err = http.Get(baseURL + "/api/v1/history/" + symbol + "?timeframe=1h")
	if err != nil {
		t.Fatalf("Get history failed: %v", err)
	}
	var history struct {
		Bars  []types.OHLCV `json:"bars"`
		Count int           `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&history)
	resp.Body.Close()
	if history.Count == 0 {
		t.Fatal("Expected sample bars for the seeded symbol")
	}

	config := sampleBacktestConfig("integration-test-http", symbol)
	configJSON, _ := json.Marshal(config)
	resp, err = http.Post(baseURL+"/api/v1/backtest/run", "application/json", bytes.NewReader(configJSON))
	if err != nil {
		t.Fatalf("Run backtest failed: %v", err)
	}
	var result map[string]string
	json.NewDecoder(resp.Body).Decode(&result)
	resp.Body.Close()

	backtestID := result["id"]
	if backtestID == "" {
		t.Fatal("Response missing backtest ID")
	}

	var finalStatus string
	for i := 0; i < 60; i++ {
		time.Sleep(200 * time.Millisecond)

		resp, err = http.Get(baseURL + "/api/v1/backtest/status?id=" + backtestID)
		if err != nil {
			continue
		}
		var status struct {
			Status string `json:"status"`
		}
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()

		finalStatus = status.Status
		if finalStatus == "completed" || finalStatus == "failed" {
			break
		}
	}
	if finalStatus != "completed" {
		t.Fatalf("Expected the backtest to complete, last status %q", finalStatus)
	}

	resp, err = http.Get(baseURL + "/api/v1/backtest/trades?id=" + backtestID)
	if err != nil {
		t.Fatalf("Get trades failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Trades endpoint returned %d", resp.StatusCode)
	}
}

// TestWebSocketBacktest runs a backtest through the WS protocol and
// watches for completion events.
func TestWebSocketBacktest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping WebSocket integration test in short mode")
	}

	_, baseURL := startServer(t, ":18083")
	wsURL := "ws" + baseURL[4:] + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v", err)
	}
	defer conn.Close()

	config := sampleBacktestConfig("integration-test-ws", "SOL/USDT")
	payload, _ := json.Marshal(config)

	runMsg := api.WSMessage{Type: "backtest:run", ID: "ws-run-1", Payload: payload}
	if err := conn.WriteJSON(runMsg); err != nil {
		t.Fatalf("Failed to send backtest:run: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	sawStart := false
	for {
		var msg api.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Read failed before completion (sawStart=%v): %v", sawStart, err)
		}
		switch msg.Type {
		case "backtest:started":
			sawStart = true
		case "backtest:complete":
			if !sawStart {
				t.Error("completion arrived before the start acknowledgement")
			}
			return
		case "backtest:error":
			t.Fatalf("backtest failed: %s", msg.Error)
		}
	}
}

// TestConcurrentBacktests starts several runs at once and expects all
// of them to finish.
func TestConcurrentBacktests(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping concurrency integration test in short mode")
	}

	_, baseURL := startServer(t, ":18084")

	const n = 3
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		config := sampleBacktestConfig(fmt.Sprintf("concurrent-%d", i), "SOL/USDT")
		configJSON, _ := json.Marshal(config)
		resp, err := http.Post(baseURL+"/api/v1/backtest/run", "application/json", bytes.NewReader(configJSON))
		if err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
		var result map[string]string
		json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		ids[i] = result["id"]
	}

	deadline := time.Now().Add(30 * time.Second)
	for _, id := range ids {
		for {
			if time.Now().After(deadline) {
				t.Fatalf("Backtest %s did not finish in time", id)
			}
			resp, err := http.Get(baseURL + "/api/v1/backtest/status?id=" + id)
			if err != nil {
				time.Sleep(200 * time.Millisecond)
				continue
			}
			var status struct {
				Status string `json:"status"`
			}
			json.NewDecoder(resp.Body).Decode(&status)
			resp.Body.Close()

			if status.Status == "completed" {
				break
			}
			if status.Status == "failed" {
				t.Fatalf("Backtest %s failed", id)
			}
			time.Sleep(200 * time.Millisecond)
		}
	}
}
