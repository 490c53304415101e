package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

)

// TradeUpdate is one trade print from the venue's websocket stream.
type TradeUpdate struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      string          `json:"side"` // "buy" or "sell"
	Timestamp int64           `json:"timestamp"` // ms since epoch
	TradeID   string          `json:"trade_id"`
}

// MarketDataConfig configures the live trade feed.
type MarketDataConfig struct {
	BinanceWSURL string
	Symbols      []string
	// ReconnectBackoff is the delay before redialing a dropped stream.
	ReconnectBackoff time.Duration
}

// DefaultMarketDataConfig returns the public combined-stream endpoint
// with a short reconnect backoff.
func DefaultMarketDataConfig() MarketDataConfig {
	return MarketDataConfig{
		BinanceWSURL:     "wss://stream.binance.com:9443/ws",
		Symbols:          []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		ReconnectBackoff: 5 * time.Second,
	}
}

// MarketDataService streams trade prints from the venue's websocket and
// hands them to registered callbacks. It is the live drivers' tick
// source: each trade print becomes one engine tick. The service owns its
// reader goroutine and reconnects with backoff until Stop is called.
type MarketDataService struct {
	logger *zap.Logger
	config MarketDataConfig

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions map[string]bool
	tradeCbs      []func(TradeUpdate)
	lastPrice     map[string]decimal.Decimal

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMarketDataService creates the feed; Start connects it.
func NewMarketDataService(logger *zap.Logger, config MarketDataConfig) *MarketDataService {
	if config.ReconnectBackoff <= 0 {
		config.ReconnectBackoff = 5 * time.Second
	}
	return &MarketDataService{
		logger:        logger.Named("feed"),
		config:        config,
		subscriptions: make(map[string]bool),
		lastPrice:     make(map[string]decimal.Decimal),
		done:          make(chan struct{}),
	}
}

// OnTrade registers a callback invoked for every trade print received.
// Callbacks run on the feed's reader goroutine and must not block.
func (s *MarketDataService) OnTrade(fn func(TradeUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeCbs = append(s.tradeCbs, fn)
}

// Start dials the stream and launches the reader goroutine.
func (s *MarketDataService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("feed already running")
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.dial(); err != nil {
		cancel()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	go s.readLoop(runCtx)
	s.logger.Info("market data feed started",
		zap.String("endpoint", s.config.BinanceWSURL))
	return nil
}

// Stop tears the stream down and waits for the reader to exit.
func (s *MarketDataService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()

	<-s.done
	s.logger.Info("market data feed stopped")
	return nil
}

// Subscribe adds a symbol's trade stream. Crypto pair symbols
// (BTC/USDT) are flattened to the venue's joined lowercase form.
func (s *MarketDataService) Subscribe(symbol string) error {
	s.mu.Lock()
	if s.subscriptions[symbol] {
		s.mu.Unlock()
		return nil
	}
	s.subscriptions[symbol] = true
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("feed not connected")
	}
	return conn.WriteJSON(map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": []string{streamName(symbol)},
		"id":     time.Now().UnixNano(),
	})
}

// Unsubscribe drops a symbol's trade stream.
func (s *MarketDataService) Unsubscribe(symbol string) error {
	s.mu.Lock()
	if !s.subscriptions[symbol] {
		s.mu.Unlock()
		return nil
	}
	delete(s.subscriptions, symbol)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.WriteJSON(map[string]interface{}{
		"method": "UNSUBSCRIBE",
		"params": []string{streamName(symbol)},
		"id":     time.Now().UnixNano(),
	})
}

// LastPrice returns the most recent trade price seen for symbol.
func (s *MarketDataService) LastPrice(symbol string) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.lastPrice[symbol]
	return price, ok
}

func (s *MarketDataService) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.config.BinanceWSURL, nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// resubscribe replays the current subscription set after a reconnect.
func (s *MarketDataService) resubscribe() {
	s.mu.Lock()
	symbols := make([]string, 0, len(s.subscriptions))
	for symbol := range s.subscriptions {
		symbols = append(symbols, symbol)
	}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil || len(symbols) == 0 {
		return
	}
	streams := make([]string, len(symbols))
	for i, symbol := range symbols {
		streams[i] = streamName(symbol)
	}
	if err := conn.WriteJSON(map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     time.Now().UnixNano(),
	}); err != nil {
		s.logger.Warn("resubscribe failed", zap.Error(err))
	}
}

// readLoop drains trade prints, redialing with backoff on errors until
// the context ends.
func (s *MarketDataService) readLoop(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		conn := s.conn
		running := s.running
		s.mu.Unlock()
		if !running || ctx.Err() != nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("feed read error, reconnecting",
				zap.Error(err),
				zap.Duration("backoff", s.config.ReconnectBackoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.ReconnectBackoff):
			}
			if err := s.dial(); err != nil {
				s.logger.Error("feed reconnect failed", zap.Error(err))
				continue
			}
			s.resubscribe()
			continue
		}

		s.handleTrade(message)
	}
}

// binanceTrade is the venue's trade-print frame.
type binanceTrade struct {
	Event     string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeID   int64  `json:"t"`
	TradeTime int64  `json:"T"`
	BuyerIsMaker bool `json:"m"`
}

func (s *MarketDataService) handleTrade(raw []byte) {
	var frame binanceTrade
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event != "trade" {
		return
	}

	price, err := decimal.NewFromString(frame.Price)
	if err != nil {
		return
	}
	qty, err := decimal.NewFromString(frame.Quantity)
	if err != nil {
		return
	}

	side := "buy"
	if frame.BuyerIsMaker {
		side = "sell"
	}
	update := TradeUpdate{
		Symbol:    frame.Symbol,
		Price:     price,
		Quantity:  qty,
		Side:      side,
		Timestamp: frame.TradeTime,
		TradeID:   fmt.Sprintf("%d", frame.TradeID),
	}

	s.mu.Lock()
	s.lastPrice[frame.Symbol] = price
	cbs := append([]func(TradeUpdate){}, s.tradeCbs...)
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(update)
	}
}

// streamName converts an engine symbol (BTC/USDT) to the venue's
// lowercase joined trade-stream name (btcusdt@trade).
func streamName(symbol string) string {
	return strings.ToLower(strings.ReplaceAll(symbol, "/", "")) + "@trade"
}
