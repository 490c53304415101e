// Package api provides the HTTP and WebSocket inspection surface:
// backtest control, data queries, event-log tails, and Prometheus
// metrics.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantframe/streamalpha/internal/backtester"
	"github.com/quantframe/streamalpha/internal/data"
	"github.com/quantframe/streamalpha/internal/execution"
	"github.com/quantframe/streamalpha/internal/metrics"
	"github.com/quantframe/streamalpha/internal/risk"
	"github.com/quantframe/streamalpha/internal/strategy"
	"github.com/quantframe/streamalpha/internal/workers"
	"github.com/quantframe/streamalpha/pkg/types"
)

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	dataStore  *data.Store
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	collector  *metrics.Collector
	pool       *workers.Pool

	backtests map[string]*BacktestState

	orderEventLogPath string
	metricsLogPath    string
}

// BacktestState tracks one backtest run started through the API.
type BacktestState struct {
	ID      string
	Config  *types.BacktestConfig
	Status  string
	Started time.Time
	Result  *backtester.DriverResult
	cancel  context.CancelFunc
}

// NewServer creates the API server around a shared data store. Backtests
// requested through the API run the tick-driven pipeline over recorded
// bars replayed as ticks.
func NewServer(logger *zap.Logger, dataStore *data.Store) *Server {
	poolCfg := workers.DefaultPoolConfig("backtests")
	poolCfg.NumWorkers = 2
	poolCfg.TaskTimeout = time.Hour

	s := &Server{
		logger:    logger.Named("api"),
		dataStore: dataStore,
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		collector: metrics.NewCollector(),
		pool:      workers.NewPool(logger, poolCfg),
		backtests: make(map[string]*BacktestState),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.pool.Start()
	s.setupRoutes()
	return s
}

// Collector exposes the server's Prometheus collector so the drivers
// can record counters that /metrics then serves.
func (s *Server) Collector() *metrics.Collector {
	return s.collector
}

// SetEventLogPaths points the log-tail endpoints at the order-event and
// portfolio-metrics log files written by the running driver.
func (s *Server) SetEventLogPaths(orderEvents, portfolioMetrics string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderEventLogPath = orderEvents
	s.metricsLogPath = portfolioMetrics
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/history/{symbol:.+}", s.handleGetHistory).Methods("GET")

	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/status", s.handleBacktestStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/trades", s.handleBacktestTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/cancel", s.handleCancelBacktest).Methods("POST")

	s.router.HandleFunc("/api/v1/logs/orders", s.handleTailOrderLog).Methods("GET")
	s.router.HandleFunc("/api/v1/logs/portfolio", s.handleTailMetricsLog).Methods("GET")

	s.router.Handle("/metrics", s.collector.Handler()).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Router returns the CORS-wrapped handler, usable directly with
// httptest or a custom http.Server.
func (s *Server) Router() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting API server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()

	if err := s.pool.Stop(); err != nil {
		s.logger.Warn("worker pool stop failed", zap.Error(err))
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := s.dataStore.GetAvailableSymbols()
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, symbols)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1h"
	}

	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()
	if v := r.URL.Query().Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}

	bars, err := s.dataStore.LoadOHLCV(r.Context(), symbol, types.Timeframe(timeframe), start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"symbol":    symbol,
		"timeframe": timeframe,
		"bars":      bars,
		"count":     len(bars),
	})
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var config types.BacktestConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if config.ID == "" {
		config.ID = uuid.New().String()
	}

	s.startBacktest(&config)

	writeJSON(w, map[string]string{
		"id":     config.ID,
		"status": "running",
	})
}

// startBacktest launches a tick-driver backtest in the background and
// broadcasts the completion event over the hub.
func (s *Server) startBacktest(config *types.BacktestConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	state := &BacktestState{
		ID:      config.ID,
		Config:  config,
		Status:  "running",
		Started: time.Now(),
		cancel:  cancel,
	}

	s.mu.Lock()
	s.backtests[config.ID] = state
	s.mu.Unlock()

	topic := "backtest:" + config.ID

	// Backtests run on the shared worker pool so concurrent API requests
	// are bounded and panics are recovered, not fatal.
	submitErr := s.pool.SubmitFunc(func() error {
		defer cancel()
		result, err := s.runBacktest(ctx, config)

		s.mu.Lock()
		if err != nil {
			state.Status = "failed"
		} else {
			state.Status = "completed"
			state.Result = result
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("backtest failed", zap.String("id", config.ID), zap.Error(err))
			s.hub.Broadcast(WSMessage{
				Type:  "backtest:error",
				Topic: topic,
				Error: err.Error(),
			})
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"id":     config.ID,
			"status": state.Status,
		})
		s.hub.Broadcast(WSMessage{
			Type:    "backtest:complete",
			Topic:   topic,
			Payload: payload,
			Success: true,
		})
		return nil
	})
	if submitErr != nil {
		cancel()
		s.mu.Lock()
		state.Status = "failed"
		s.mu.Unlock()
		s.logger.Error("backtest submission failed", zap.String("id", config.ID), zap.Error(submitErr))
	}
}

// runBacktest assembles a full tick pipeline from the request and runs
// it over the configured symbols' bar history replayed as ticks.
func (s *Server) runBacktest(ctx context.Context, config *types.BacktestConfig) (*backtester.DriverResult, error) {
	name := config.Strategy.Type
	if name == "" {
		name = config.Strategy.Name
	}
	if name == "" {
		name = "sma_crossover"
	}
	evaluator, err := strategy.FromConfig(name, strategy.DefaultConfig(), config.Strategy.Parameters)
	if err != nil {
		return nil, err
	}

	initial := config.InitialCapital
	if initial.Sign() <= 0 {
		initial = decimal.NewFromInt(100000)
	}

	matchCfg := execution.DefaultMatchingEngineConfig()
	if config.Commission.IsPositive() {
		matchCfg.CommissionPerShare = config.Commission
	}
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewSource(config.Seed))
	}

	portfolio := backtester.NewPortfolio(initial)
	validator := execution.NewValidator(s.logger, execution.DefaultValidationConfig())
	matching := execution.NewMatchingEngine(s.logger, matchCfg, rng)
	riskMgr := risk.NewManager(s.logger, risk.DefaultStopLossConfig(), initial)

	driver := backtester.NewDriver(s.logger, backtester.DriverConfig{
		EquitySampleStride: 1,
		MonteCarlo:         config.Validation.MonteCarlo,
	}, evaluator, portfolio, validator, matching, riskMgr, nil)
	driver.SetCollector(s.collector)

	timeframe := config.Timeframe
	if timeframe == "" {
		timeframe = types.Timeframe1h
	}
	var ticks []types.Tick
	for _, symbol := range config.Symbols {
		bars, err := s.dataStore.LoadOHLCV(ctx, symbol, timeframe, config.StartDate, config.EndDate)
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, data.TicksFromBars(symbol, bars)...)
	}
	if len(ticks) == 0 {
		return nil, fmt.Errorf("no data for symbols %v", config.Symbols)
	}
	sort.SliceStable(ticks, func(i, j int) bool {
		return ticks[i].Timestamp.Before(ticks[j].Timestamp)
	})

	return driver.Run(ctx, data.NewSliceTickSource(ticks))
}

func (s *Server) lookupBacktest(w http.ResponseWriter, r *http.Request) *BacktestState {
	id := r.URL.Query().Get("id")
	s.mu.RLock()
	state, ok := s.backtests[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "backtest not found", http.StatusNotFound)
		return nil
	}
	return state
}

func (s *Server) handleBacktestStatus(w http.ResponseWriter, r *http.Request) {
	state := s.lookupBacktest(w, r)
	if state == nil {
		return
	}

	response := map[string]interface{}{
		"id":      state.ID,
		"status":  state.Status,
		"started": state.Started.Unix(),
	}
	if state.Result != nil {
		response["result"] = map[string]interface{}{
			"ticksProcessed":  state.Result.TicksProcessed,
			"trades":          len(state.Result.Trades),
			"ordersRejected":  state.Result.OrdersRejected,
			"ordersCancelled": state.Result.OrdersCancelled,
			"finalEquity":     state.Result.FinalEquity,
			"metrics":         state.Result.Metrics,
			"viability":       state.Result.Viability,
			"monteCarlo":      state.Result.MonteCarlo,
			"breakerTripped":  state.Result.BreakerTripped,
		}
	}
	writeJSON(w, response)
}

func (s *Server) handleBacktestTrades(w http.ResponseWriter, r *http.Request) {
	state := s.lookupBacktest(w, r)
	if state == nil {
		return
	}
	if state.Result == nil {
		http.Error(w, "backtest not complete", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]interface{}{
		"id":     state.ID,
		"trades": state.Result.Trades,
		"count":  len(state.Result.Trades),
	})
}

func (s *Server) handleCancelBacktest(w http.ResponseWriter, r *http.Request) {
	state := s.lookupBacktest(w, r)
	if state == nil {
		return
	}
	if state.Status != "running" {
		http.Error(w, "backtest not running", http.StatusBadRequest)
		return
	}
	state.cancel()

	s.mu.Lock()
	state.Status = "cancelled"
	s.mu.Unlock()

	writeJSON(w, map[string]string{"id": state.ID, "status": "cancelled"})
}

// handleTailOrderLog returns the last n lines of the order event log.
func (s *Server) handleTailOrderLog(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	path := s.orderEventLogPath
	s.mu.RUnlock()
	s.tailLog(w, r, path)
}

// handleTailMetricsLog returns the last n lines of the portfolio
// metrics log.
func (s *Server) handleTailMetricsLog(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	path := s.metricsLogPath
	s.mu.RUnlock()
	s.tailLog(w, r, path)
}

func (s *Server) tailLog(w http.ResponseWriter, r *http.Request, path string) {
	if path == "" {
		http.Error(w, "log not configured", http.StatusNotFound)
		return
	}
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	// The logs are newline-delimited JSON; keep a sliding window of the
	// last n lines.
	lines := make([]json.RawMessage, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := make(json.RawMessage, len(scanner.Bytes()))
		copy(raw, scanner.Bytes())
		if len(lines) == n {
			lines = append(lines[1:], raw)
		} else {
			lines = append(lines, raw)
		}
	}
	if err := scanner.Err(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, lines)
}

// handleWebSocket upgrades the connection and serves the WS protocol:
// ping/pong, topic subscribe/unsubscribe, and backtest:run.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, 256),
		topics: make(map[string]bool),
	}
	s.hub.register(client)

	go client.writePump()
	go s.readPump(client)
}

func (s *Server) readPump(client *wsClient) {
	defer func() {
		s.hub.unregister(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(512 * 1024)
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("websocket read error", zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("invalid websocket message", zap.Error(err))
			continue
		}
		s.handleWSMessage(client, msg)
	}
}

func (s *Server) handleWSMessage(client *wsClient, msg WSMessage) {
	response := WSMessage{ID: msg.ID, Topic: msg.Topic}

	switch msg.Type {
	case "ping":
		response.Type = "pong"
		response.Success = true

	case "subscribe":
		client.subscribe(msg.Topic)
		response.Type = "subscribed"
		response.Success = true

	case "unsubscribe":
		client.unsubscribe(msg.Topic)
		response.Type = "unsubscribed"
		response.Success = true

	case "backtest:run":
		var config types.BacktestConfig
		if err := json.Unmarshal(msg.Payload, &config); err != nil {
			response.Type = "backtest:error"
			response.Error = "invalid backtest config"
			break
		}
		if config.ID == "" {
			config.ID = uuid.New().String()
		}
		client.subscribe("backtest:" + config.ID)
		s.startBacktest(&config)

		response.Type = "backtest:started"
		response.Success = true
		response.Payload, _ = json.Marshal(map[string]string{"id": config.ID})

	default:
		response.Type = "error"
		response.Error = "unknown message type"
	}

	data, err := json.Marshal(response)
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
