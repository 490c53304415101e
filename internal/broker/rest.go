package broker

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
	"sync"
	"time"

	"github.com/quantframe/streamalpha/internal/execution/adapters"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RESTConfig configures a generic signed-REST brokerage connection,
// shaped after adapters.BinanceConfig: base URL plus key pair, with
// rate-limiting parameters the caller tunes to the target venue.
type RESTConfig struct {
	BaseURL          string
	APIKey           string
	APISecret        string
	RateLimitTokens  int
	RateLimitRefill  time.Duration
	RequestTimeout   time.Duration
}

// RESTBroker is a brokerage adapter skeleton for a signed REST API,
// grounded directly on adapters.BinanceAdapter's httpClient/RateLimiter/
// signedRequest idiom, generalized away from a single exchange's
// parameter names. It has no streaming subscription (no websocket wiring
// here): SubscribeBars/Trades/Quotes return ErrStreamingNotImplemented,
// and Run only blocks until its context is cancelled.
type RESTBroker struct {
	logger      *zap.Logger
	config      RESTConfig
	httpClient  *http.Client
	rateLimiter *adapters.RateLimiter

	mu     sync.Mutex
	closed bool
}

// ErrStreamingNotImplemented is returned by the streaming-subscription
// methods until a venue-specific websocket client is wired in.
var ErrStreamingNotImplemented = fmt.Errorf("broker: REST streaming subscription not implemented")

// NewRESTBroker creates a signed-REST brokerage adapter.
func NewRESTBroker(logger *zap.Logger, config RESTConfig) *RESTBroker {
	if config.RateLimitTokens == 0 {
		config.RateLimitTokens = 1200
	}
	if config.RateLimitRefill == 0 {
		config.RateLimitRefill = time.Minute
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	return &RESTBroker{
		logger:      logger.Named("rest_broker"),
		config:      config,
		httpClient:  &http.Client{Timeout: config.RequestTimeout},
		rateLimiter: adapters.NewRateLimiter(config.RateLimitTokens, config.RateLimitRefill),
	}
}

func (r *RESTBroker) sign(data string) string {
	mac := hmac.New(sha256.New, []byte(r.config.APISecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (r *RESTBroker) signedRequest(ctx context.Context, method, endpoint string, params url.Values) (*http.Response, error) {
	r.rateLimiter.Acquire()

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	signature := r.sign(params.Encode())
	params.Set("signature", signature)

	req, err := http.NewRequestWithContext(ctx, method, r.config.BaseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", r.config.APIKey)
	return r.httpClient.Do(req)
}

// SubmitOrder places an order via the venue's signed order-submission
// endpoint, mirroring adapters.BinanceAdapter.PlaceOrder's request shape.
func (r *RESTBroker) SubmitOrder(ctx context.Context, order types.Order) (string, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("type", string(order.Type))
	params.Set("quantity", order.Quantity.String())
	if order.Type == types.OrderTypeLimit {
		params.Set("price", order.Price.String())
		params.Set("timeInForce", string(DefaultTimeInForce(order.Symbol)))
	}

	resp, err := r.signedRequest(ctx, http.MethodPost, "/order", params)
	if err != nil {
		return "", fmt.Errorf("submit order: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("submit order: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("submit order: status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("submit order: parse response: %w", err)
	}
	return result.OrderID, nil
}

// GetOrder fetches an order's current status from the venue.
func (r *RESTBroker) GetOrder(ctx context.Context, brokerOrderID string) (OrderStatusReport, error) {
	params := url.Values{}
	params.Set("orderId", brokerOrderID)

	resp, err := r.signedRequest(ctx, http.MethodGet, "/order", params)
	if err != nil {
		return OrderStatusReport{}, fmt.Errorf("get order: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Status       string          `json:"status"`
		FilledQty    decimal.Decimal `json:"executedQty"`
		AvgFillPrice decimal.Decimal `json:"avgPrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return OrderStatusReport{}, fmt.Errorf("get order: parse response: %w", err)
	}

	return OrderStatusReport{
		Status:       types.OrderStatus(result.Status),
		FilledQty:    result.FilledQty,
		AvgFillPrice: result.AvgFillPrice,
	}, nil
}

// CancelOrder cancels a single resting order.
func (r *RESTBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	params := url.Values{}
	params.Set("orderId", brokerOrderID)
	resp, err := r.signedRequest(ctx, http.MethodDelete, "/order", params)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// CancelAll cancels every open order across the account.
func (r *RESTBroker) CancelAll(ctx context.Context) error {
	resp, err := r.signedRequest(ctx, http.MethodDelete, "/openOrders", url.Values{})
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel all: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// GetAccount fetches account balances and buying power.
func (r *RESTBroker) GetAccount(ctx context.Context) (types.Account, error) {
	resp, err := r.signedRequest(ctx, http.MethodGet, "/account", url.Values{})
	if err != nil {
		return types.Account{}, fmt.Errorf("get account: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Cash           decimal.Decimal `json:"cash"`
		PortfolioValue decimal.Decimal `json:"portfolioValue"`
		BuyingPower    decimal.Decimal `json:"buyingPower"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return types.Account{}, fmt.Errorf("get account: parse response: %w", err)
	}
	return types.Account{Cash: result.Cash, PortfolioValue: result.PortfolioValue, BuyingPower: result.BuyingPower}, nil
}

// GetPositions fetches every open position on the account.
func (r *RESTBroker) GetPositions(ctx context.Context) ([]types.Position, error) {
	resp, err := r.signedRequest(ctx, http.MethodGet, "/positions", url.Values{})
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	defer resp.Body.Close()

	var result []types.Position
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("get positions: parse response: %w", err)
	}
	return result, nil
}

// ClosePosition submits a market order to flatten a single symbol.
func (r *RESTBroker) ClosePosition(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	resp, err := r.signedRequest(ctx, http.MethodDelete, "/position", params)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("close position: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// CloseAllPositions flattens every open position, optionally cancelling
// resting orders first.
func (r *RESTBroker) CloseAllPositions(ctx context.Context, cancelOpenOrders bool) error {
	if cancelOpenOrders {
		if err := r.CancelAll(ctx); err != nil {
			return err
		}
	}
	params := url.Values{}
	resp, err := r.signedRequest(ctx, http.MethodDelete, "/positions", params)
	if err != nil {
		return fmt.Errorf("close all positions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("close all positions: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// SubscribeBars, SubscribeTrades, and SubscribeQuotes return
// ErrStreamingNotImplemented: this broker has no websocket client, so it
// delivers no streaming market data. Run delivers nothing either; it
// blocks until ctx is cancelled and returns ctx.Err().
func (r *RESTBroker) SubscribeBars(symbols []string, callback func(types.OHLCV)) error {
	return ErrStreamingNotImplemented
}

func (r *RESTBroker) SubscribeTrades(symbols []string, callback func(types.Tick)) error {
	return ErrStreamingNotImplemented
}

func (r *RESTBroker) SubscribeQuotes(symbols []string, callback func(types.Tick)) error {
	return ErrStreamingNotImplemented
}

func (r *RESTBroker) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Close marks the broker closed; idempotent.
func (r *RESTBroker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
