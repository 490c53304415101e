// Package adapters provides the venue-specific exchange client the
// broker layer builds on: a signed REST client for order placement and
// account reads, plus a websocket ticker stream.
package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantframe/streamalpha/pkg/types"
)

// RateLimiter is a token bucket refilled at a fixed rate; Acquire
// blocks when the bucket is empty. Shared by the REST brokers so a
// burst of order traffic never trips the venue's request limits.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter creates a bucket holding maxTokens, refilled one token
// per refillRate.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Acquire takes a token, blocking until one is available.
func (rl *RateLimiter) Acquire() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if refills := int(now.Sub(rl.lastRefill) / rl.refillRate); refills > 0 {
		rl.tokens += refills
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	for rl.tokens <= 0 {
		rl.mu.Unlock()
		time.Sleep(rl.refillRate)
		rl.mu.Lock()
		rl.tokens++
	}
	rl.tokens--
}

// BinanceConfig configures the venue connection.
type BinanceConfig struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
	Testnet   bool   `json:"testnet"`
}

// BinanceAdapter is a signed spot-trading client: order placement,
// lookup and cancellation, balances, and a combined-stream ticker
// subscription. Engine symbols (BTC/USDT) are flattened to the venue's
// joined form on the way out and split back on the way in.
type BinanceAdapter struct {
	logger      *zap.Logger
	apiKey      string
	apiSecret   string
	baseURL     string
	wsURL       string
	httpClient  *http.Client
	rateLimiter *RateLimiter

	mu       sync.RWMutex
	wsConn   *websocket.Conn
	onTicker func(*BinanceTicker)
}

// NewBinanceAdapter creates the client; Testnet selects the sandbox
// endpoints.
func NewBinanceAdapter(logger *zap.Logger, config BinanceConfig) *BinanceAdapter {
	baseURL := "https://api.binance.com"
	wsURL := "wss://stream.binance.com:9443/ws"
	if config.Testnet {
		baseURL = "https://testnet.binance.vision"
		wsURL = "wss://testnet.binance.vision/ws"
	}
	return &BinanceAdapter{
		logger:      logger.Named("binance"),
		apiKey:      config.APIKey,
		apiSecret:   config.APISecret,
		baseURL:     baseURL,
		wsURL:       wsURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		rateLimiter: NewRateLimiter(1200, time.Minute),
	}
}

// BinanceTicker is one 24h rolling-window ticker frame.
type BinanceTicker struct {
	Symbol    string          `json:"s"`
	LastPrice decimal.Decimal `json:"c"`
	BidPrice  decimal.Decimal `json:"b"`
	AskPrice  decimal.Decimal `json:"a"`
	HighPrice decimal.Decimal `json:"h"`
	LowPrice  decimal.Decimal `json:"l"`
	Volume    decimal.Decimal `json:"v"`
	CloseTime int64           `json:"C"`
}

// binanceOrder is the venue's order payload.
type binanceOrder struct {
	Symbol        string          `json:"symbol"`
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Price         decimal.Decimal `json:"price"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	Status        string          `json:"status"`
	Type          string          `json:"type"`
	Side          string          `json:"side"`
	Time          int64           `json:"time"`
	UpdateTime    int64           `json:"updateTime"`
}

// binanceAccount is the spot account snapshot.
type binanceAccount struct {
	Balances []struct {
		Asset  string          `json:"asset"`
		Free   decimal.Decimal `json:"free"`
		Locked decimal.Decimal `json:"locked"`
	} `json:"balances"`
}

// Connect verifies REST connectivity with an unauthenticated ping.
func (b *BinanceAdapter) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/v3/ping", nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("venue ping failed: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Disconnect closes the streaming connection if one is open.
func (b *BinanceAdapter) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wsConn != nil {
		err := b.wsConn.Close()
		b.wsConn = nil
		return err
	}
	return nil
}

// PlaceOrder submits an order and returns the venue's view of it. The
// returned order's ID is SYMBOL:ORDERID, the composite key the lookup
// and cancel endpoints need.
func (b *BinanceAdapter) PlaceOrder(ctx context.Context, order *types.Order) (*types.Order, error) {
	b.rateLimiter.Acquire()

	params := url.Values{}
	params.Set("symbol", joinSymbol(order.Symbol))
	params.Set("side", strings.ToUpper(string(order.Side)))
	params.Set("type", convertOrderType(order.Type))
	params.Set("quantity", order.Quantity.String())
	if order.Type == types.OrderTypeLimit {
		params.Set("price", order.Price.String())
		params.Set("timeInForce", "GTC")
	}
	if order.ClientOrderID != "" {
		params.Set("newClientOrderId", order.ClientOrderID)
	}

	var placed binanceOrder
	if err := b.signedCall(ctx, http.MethodPost, "/api/v3/order", params, &placed); err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	return b.toOrder(&placed), nil
}

// GetOrder looks an order up by its SYMBOL:ORDERID composite id.
func (b *BinanceAdapter) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	b.rateLimiter.Acquire()

	symbol, id, err := splitOrderID(orderID)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", id)

	var found binanceOrder
	if err := b.signedCall(ctx, http.MethodGet, "/api/v3/order", params, &found); err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return b.toOrder(&found), nil
}

// CancelOrder cancels an order by its composite id.
func (b *BinanceAdapter) CancelOrder(ctx context.Context, orderID string) error {
	b.rateLimiter.Acquire()

	symbol, id, err := splitOrderID(orderID)
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", id)

	if err := b.signedCall(ctx, http.MethodDelete, "/api/v3/order", params, nil); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// GetBalance returns the free+locked balance of one asset.
func (b *BinanceAdapter) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	account, err := b.getAccount(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, bal := range account.Balances {
		if bal.Asset == asset {
			return bal.Free.Add(bal.Locked), nil
		}
	}
	return decimal.Zero, nil
}

// GetPositions maps non-zero spot balances to long positions quoted
// against USDT.
func (b *BinanceAdapter) GetPositions(ctx context.Context) ([]*types.Position, error) {
	account, err := b.getAccount(ctx)
	if err != nil {
		return nil, err
	}
	var positions []*types.Position
	for _, bal := range account.Balances {
		total := bal.Free.Add(bal.Locked)
		if total.IsPositive() && bal.Asset != "USDT" {
			positions = append(positions, &types.Position{
				Symbol:   bal.Asset + "/USDT",
				Side:     types.PositionSideLong,
				Quantity: total,
			})
		}
	}
	return positions, nil
}

func (b *BinanceAdapter) getAccount(ctx context.Context) (*binanceAccount, error) {
	b.rateLimiter.Acquire()
	var account binanceAccount
	if err := b.signedCall(ctx, http.MethodGet, "/api/v3/account", url.Values{}, &account); err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &account, nil
}

// SubscribeToTicker opens a combined ticker stream for the symbols and
// dispatches frames to callback from a reader goroutine.
func (b *BinanceAdapter) SubscribeToTicker(ctx context.Context, symbols []string, callback func(*BinanceTicker)) error {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(joinSymbol(s)) + "@ticker"
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.wsURL+"/"+strings.Join(streams, "/"), nil)
	if err != nil {
		return fmt.Errorf("dial ticker stream: %w", err)
	}

	b.mu.Lock()
	b.wsConn = conn
	b.onTicker = callback
	b.mu.Unlock()

	go b.readTickerStream(ctx)
	return nil
}

func (b *BinanceAdapter) readTickerStream(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b.mu.RLock()
		conn := b.wsConn
		cb := b.onTicker
		b.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Error("ticker stream read error", zap.Error(err))
			}
			return
		}

		var frame struct {
			EventType string `json:"e"`
			BinanceTicker
		}
		if err := json.Unmarshal(message, &frame); err != nil || frame.EventType != "24hrTicker" {
			continue
		}
		frame.BinanceTicker.Symbol = splitSymbol(frame.BinanceTicker.Symbol)
		if cb != nil {
			cb(&frame.BinanceTicker)
		}
	}
}

// signedCall issues an HMAC-signed request and decodes the JSON body
// into out (nil discards it).
func (b *BinanceAdapter) signedCall(ctx context.Context, method, endpoint string, params url.Values, out interface{}) error {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(params.Encode()))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (b *BinanceAdapter) toOrder(bo *binanceOrder) *types.Order {
	order := &types.Order{
		ID:            fmt.Sprintf("%s:%d", bo.Symbol, bo.OrderID),
		ClientOrderID: bo.ClientOrderID,
		Symbol:        splitSymbol(bo.Symbol),
		Price:         bo.Price,
		Quantity:      bo.OrigQty,
		FilledQty:     bo.ExecutedQty,
		Status:        convertOrderStatus(bo.Status),
		CreatedAt:     time.UnixMilli(bo.Time),
		UpdatedAt:     time.UnixMilli(bo.UpdateTime),
	}
	if strings.EqualFold(bo.Side, "sell") {
		order.Side = types.OrderSideSell
	} else {
		order.Side = types.OrderSideBuy
	}
	switch bo.Type {
	case "MARKET":
		order.Type = types.OrderTypeMarket
	default:
		order.Type = types.OrderTypeLimit
	}
	return order
}

func convertOrderType(t types.OrderType) string {
	switch t {
	case types.OrderTypeMarket:
		return "MARKET"
	default:
		return "LIMIT"
	}
}

func convertOrderStatus(status string) types.OrderStatus {
	switch status {
	case "NEW":
		return types.OrderStatusOpen
	case "PARTIALLY_FILLED":
		return types.OrderStatusPartiallyFilled
	case "FILLED":
		return types.OrderStatusFilled
	case "CANCELED":
		return types.OrderStatusCancelled
	case "REJECTED":
		return types.OrderStatusRejected
	case "EXPIRED":
		return types.OrderStatusExpired
	default:
		return types.OrderStatusOpen
	}
}

// splitOrderID parses the SYMBOL:ORDERID composite id.
func splitOrderID(orderID string) (symbol, id string, err error) {
	parts := strings.SplitN(orderID, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid order id %q, want SYMBOL:ORDERID", orderID)
	}
	return parts[0], parts[1], nil
}

// joinSymbol flattens BTC/USDT to BTCUSDT.
func joinSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// splitSymbol restores BTCUSDT to BTC/USDT for the common quote assets.
func splitSymbol(symbol string) string {
	if strings.Contains(symbol, "/") {
		return symbol
	}
	for _, quote := range []string{"USDT", "BUSD", "USDC", "BTC", "ETH", "BNB"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)] + "/" + quote
		}
	}
	return symbol
}
