// Package broker defines the brokerage adapter contract consumed by the
// live driver: order submission and lifecycle, account and position
// reads, and streaming subscriptions. PaperBroker routes through the
// same matching engine used by the backtester; RESTBroker is a signed
// HTTP client for a real venue.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// ErrMixedUniverse is returned when a live session's symbol universe mixes
// crypto and equity tickers, which the external-interfaces rule forbids.
var ErrMixedUniverse = errors.New("broker: mixed crypto/equity universe rejected at startup")

// Broker is the brokerage adapter contract: order submission/lifecycle,
// account/position reads, position-closing helpers, and a streaming
// subscription surface. Every method that talks to a remote system takes
// a context so the live driver can bound or cancel it.
type Broker interface {
	SubmitOrder(ctx context.Context, order types.Order) (brokerOrderID string, err error)
	GetOrder(ctx context.Context, brokerOrderID string) (OrderStatusReport, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	CancelAll(ctx context.Context) error

	GetAccount(ctx context.Context) (types.Account, error)
	GetPositions(ctx context.Context) ([]types.Position, error)

	ClosePosition(ctx context.Context, symbol string) error
	CloseAllPositions(ctx context.Context, cancelOpenOrders bool) error

	SubscribeBars(symbols []string, callback func(types.OHLCV)) error
	SubscribeTrades(symbols []string, callback func(types.Tick)) error
	SubscribeQuotes(symbols []string, callback func(types.Tick)) error

	// Run blocks, dispatching subscribed callbacks, until Close is called
	// or ctx is cancelled.
	Run(ctx context.Context) error
	// Close tears down any open streaming connection.
	Close() error
}

// OrderStatusReport is the result of GetOrder, matching the external
// interface's {status, filled_qty, filled_avg_price, filled_at} tuple.
type OrderStatusReport struct {
	Status       types.OrderStatus
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
	FilledAt     *time.Time
}

// DefaultTimeInForce returns GTC for crypto symbols (containing "/") and
// Day otherwise, per the crypto-vs-equities external-interface rule.
func DefaultTimeInForce(symbol string) types.TimeInForce {
	for _, r := range symbol {
		if r == '/' {
			return types.TimeInForceGTC
		}
	}
	return types.TimeInForceDay
}

// IsCrypto reports whether symbol is a crypto pair by the same "/" rule
// DefaultTimeInForce uses.
func IsCrypto(symbol string) bool {
	return DefaultTimeInForce(symbol) == types.TimeInForceGTC
}

// ValidateUniverse rejects a symbol universe that mixes crypto and
// equities, matching the external-interfaces rule that a single live
// session may not mix the two.
func ValidateUniverse(symbols []string) error {
	var sawCrypto, sawEquity bool
	for _, s := range symbols {
		if IsCrypto(s) {
			sawCrypto = true
		} else {
			sawEquity = true
		}
	}
	if sawCrypto && sawEquity {
		return ErrMixedUniverse
	}
	return nil
}
