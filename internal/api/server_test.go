// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantframe/streamalpha/internal/api"
	"github.com/quantframe/streamalpha/internal/data"
	"github.com/quantframe/streamalpha/pkg/types"
)

func setupTestServer(t *testing.T) (*api.Server, *httptest.Server) {
	logger := zap.NewNop()

	dataStore, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create data store: %v", err)
	}
	dataStore.GenerateSampleData()

	server := api.NewServer(logger, dataStore)
	ts := httptest.NewServer(server.Router())

	return server, ts
}

func testBacktestConfig(id string) types.BacktestConfig {
	return types.BacktestConfig{
		ID:      id,
		Symbols: []string{"SOL/USDT"},
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

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if result["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", result["status"])
	}
}

func TestSymbolsEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/symbols")
	if err != nil {
		t.Fatalf("Symbols request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var symbols []string
	if err := json.NewDecoder(resp.Body).Decode(&symbols); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(symbols) == 0 {
		t.Error("Expected sample symbols to be listed")
	}
}

func TestBacktestEndpoints(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	config := testBacktestConfig("test-http-backtest")
	body, _ := json.Marshal(config)

	resp, err := http.Post(ts.URL+"/api/v1/backtest/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Backtest run request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	backtestID, ok := result["id"]
	if !ok {
		t.Fatal("Response missing backtest ID")
	}

	// Poll until the run finishes; sample data keeps it short.
	deadline := time.Now().Add(15 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)

		resp, err := http.Get(ts.URL + "/api/v1/backtest/status?id=" + backtestID)
		if err != nil {
			continue
		}
		var payload struct {
			Status string `json:"status"`
		}
		json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()

		status = payload.Status
		if status == "completed" || status == "failed" {
			break
		}
	}
	if status != "completed" {
		t.Fatalf("Expected backtest to complete, last status %q", status)
	}

	resp, err = http.Get(ts.URL + "/api/v1/backtest/trades?id=" + backtestID)
	if err != nil {
		t.Fatalf("Trades request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Trades endpoint returned %d", resp.StatusCode)
	}
}

func TestWebSocketConnection(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v (response: %v)", err, resp)
	}
	defer conn.Close()

	pingMsg := api.WSMessage{Type: "ping", ID: "test-ping-1"}
	if err := conn.WriteJSON(pingMsg); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var response api.WSMessage
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("Failed to read pong: %v", err)
	}
	if response.Type != "pong" {
		t.Errorf("Expected 'pong', got '%s'", response.Type)
	}
	if response.ID != pingMsg.ID {
		t.Errorf("Response ID mismatch: expected '%s', got '%s'", pingMsg.ID, response.ID)
	}
}

func TestWebSocketSubscription(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v", err)
	}
	defer conn.Close()

	subMsg := api.WSMessage{Type: "subscribe", ID: "test-sub-1", Topic: "backtest:test-123"}
	if err := conn.WriteJSON(subMsg); err != nil {
		t.Fatalf("Failed to send subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var response api.WSMessage
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if !response.Success {
		t.Errorf("Subscribe failed: %s", response.Error)
	}

	unsubMsg := api.WSMessage{Type: "unsubscribe", ID: "test-unsub-1", Topic: "backtest:test-123"}
	if err := conn.WriteJSON(unsubMsg); err != nil {
		t.Fatalf("Failed to send unsubscribe: %v", err)
	}
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("Failed to read unsubscribe response: %v", err)
	}
	if !response.Success {
		t.Errorf("Unsubscribe failed: %s", response.Error)
	}
}

func TestWebSocketBacktestRun(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v", err)
	}
	defer conn.Close()

	config := testBacktestConfig("test-ws-backtest")
	configJSON, _ := json.Marshal(config)

	runMsg := api.WSMessage{Type: "backtest:run", ID: "test-run-1", Payload: configJSON}
	if err := conn.WriteJSON(runMsg); err != nil {
		t.Fatalf("Failed to send backtest:run: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(15 * time.Second))

	for {
		var response api.WSMessage
		if err := conn.ReadJSON(&response); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			t.Fatalf("Read failed before completion: %v", err)
		}

		t.Logf("Received: type=%s success=%v", response.Type, response.Success)

		if response.Type == "backtest:complete" {
			return
		}
		if response.Type == "backtest:error" {
			t.Fatalf("Backtest failed: %s", response.Error)
		}
	}
}

func TestConcurrentConnections(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"

	numConnections := 5
	conns := make([]*websocket.Conn, numConnections)

	for i := 0; i < numConnections; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("Connection %d failed: %v", i, err)
		}
		conns[i] = conn
	}

	for i, conn := range conns {
		pingMsg := api.WSMessage{Type: "ping", ID: string(rune('0' + i))}
		if err := conn.WriteJSON(pingMsg); err != nil {
			t.Errorf("Connection %d: failed to send ping: %v", i, err)
		}
	}

	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))

		var response api.WSMessage
		if err := conn.ReadJSON(&response); err != nil {
			t.Errorf("Connection %d: failed to read pong: %v", i, err)
		}
		if response.Type != "pong" {
			t.Errorf("Connection %d: expected 'pong', got '%s'", i, response.Type)
		}
	}

	for _, conn := range conns {
		conn.Close()
	}
}

func TestServerShutdown(t *testing.T) {
	logger := zap.NewNop()

	dataStore, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create data store: %v", err)
	}

	server := api.NewServer(logger, dataStore)

	go func() {
		server.Start(":18081")
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}
}
