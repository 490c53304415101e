package execution

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantframe/streamalpha/pkg/types"
)

// ExecutionModel is the richer cost model the matching engine can
// delegate MARKET fills to: commission, spread crossing, volatility-
// and participation-scaled slippage, and Almgren-Chriss market impact,
// all folded into a single all-in fill price. The flat probabilistic
// simulator stays the default; this model is for runs that want costs
// to respond to order size and market state.
type ExecutionModel struct {
	logger *zap.Logger
	config *ExecutionModelConfig

	mu              sync.RWMutex
	totalSlippage   decimal.Decimal
	totalCommission decimal.Decimal
	totalImpact     decimal.Decimal
	executionCount  int64
}

// ExecutionModelConfig holds the cost coefficients, per asset class.
type ExecutionModelConfig struct {
	CommissionRate decimal.Decimal // fraction of notional
	CommissionMin  decimal.Decimal
	CommissionMax  decimal.Decimal

	BaseSlippageBps  decimal.Decimal
	VolatilityFactor decimal.Decimal // slippage sensitivity to volatility

	BaseSpreadBps   decimal.Decimal
	SpreadVolFactor decimal.Decimal // spread widening with volatility

	// Almgren-Chriss impact coefficients.
	PermanentImpact decimal.Decimal // gamma
	TemporaryImpact decimal.Decimal // eta
	LinearImpact    decimal.Decimal
}

// CryptoExecutionModelConfig returns coefficients for 24/7 crypto spot:
// wider spreads, higher slippage, stronger impact.
func CryptoExecutionModelConfig() *ExecutionModelConfig {
	return &ExecutionModelConfig{
		CommissionRate:   decimal.NewFromFloat(0.001),
		CommissionMin:    decimal.Zero,
		CommissionMax:    decimal.NewFromFloat(1000),
		BaseSlippageBps:  decimal.NewFromFloat(10),
		VolatilityFactor: decimal.NewFromFloat(1.0),
		BaseSpreadBps:    decimal.NewFromFloat(20),
		SpreadVolFactor:  decimal.NewFromFloat(0.5),
		PermanentImpact:  decimal.NewFromFloat(0.2),
		TemporaryImpact:  decimal.NewFromFloat(0.1),
		LinearImpact:     decimal.NewFromFloat(0.02),
	}
}

// StockExecutionModelConfig returns coefficients for listed equities:
// tight spreads, low slippage, per-trade commission floor.
func StockExecutionModelConfig() *ExecutionModelConfig {
	return &ExecutionModelConfig{
		CommissionRate:   decimal.NewFromFloat(0.0001),
		CommissionMin:    decimal.NewFromInt(1),
		CommissionMax:    decimal.NewFromInt(50),
		BaseSlippageBps:  decimal.NewFromFloat(2),
		VolatilityFactor: decimal.NewFromFloat(0.3),
		BaseSpreadBps:    decimal.NewFromFloat(5),
		SpreadVolFactor:  decimal.NewFromFloat(0.2),
		PermanentImpact:  decimal.NewFromFloat(0.05),
		TemporaryImpact:  decimal.NewFromFloat(0.02),
		LinearImpact:     decimal.NewFromFloat(0.005),
	}
}

// NewExecutionModel creates a model; a nil config gets the crypto
// coefficients.
func NewExecutionModel(logger *zap.Logger, config *ExecutionModelConfig) *ExecutionModel {
	if config == nil {
		config = CryptoExecutionModelConfig()
	}
	return &ExecutionModel{
		logger: logger.Named("cost-model"),
		config: config,
	}
}

// ExecutionResult is one modeled execution's cost breakdown and all-in
// fill price.
type ExecutionResult struct {
	Commission   decimal.Decimal `json:"commission"`
	Spread       decimal.Decimal `json:"spread"`
	Slippage     decimal.Decimal `json:"slippage"`
	MarketImpact decimal.Decimal `json:"marketImpact"`
	TotalCost    decimal.Decimal `json:"totalCost"`
	TotalCostBps decimal.Decimal `json:"totalCostBps"`
	FillPrice    decimal.Decimal `json:"fillPrice"`
	ExecutedAt   time.Time       `json:"executedAt"`
}

// MarketContext carries the market state a cost estimate needs.
type MarketContext struct {
	Symbol     string
	Price      decimal.Decimal // current mid price
	BidPrice   decimal.Decimal
	AskPrice   decimal.Decimal
	Volume     decimal.Decimal // recent volume, for participation
	Volatility decimal.Decimal // recent volatility, annualized
}

// SimulateExecution prices one order under the model.
func (em *ExecutionModel) SimulateExecution(order *types.Order, market *MarketContext) *ExecutionResult {
	result := &ExecutionResult{ExecutedAt: time.Now()}

	result.Commission = em.calculateCommission(order, market)
	result.Spread = em.calculateSpreadCost(order, market)
	result.Slippage = em.calculateSlippage(order, market)
	result.MarketImpact = em.calculateMarketImpact(order, market)
	result.TotalCost = result.Commission.Add(result.Spread).
		Add(result.Slippage).Add(result.MarketImpact)

	notional := market.Price.Mul(order.Quantity)
	if !notional.IsZero() {
		result.TotalCostBps = result.TotalCost.Div(notional).Mul(decimal.NewFromInt(10000))
	}

	result.FillPrice = em.calculateFillPrice(order, market, result)

	em.mu.Lock()
	em.totalSlippage = em.totalSlippage.Add(result.Slippage)
	em.totalCommission = em.totalCommission.Add(result.Commission)
	em.totalImpact = em.totalImpact.Add(result.MarketImpact)
	em.executionCount++
	em.mu.Unlock()

	return result
}

func (em *ExecutionModel) calculateCommission(order *types.Order, market *MarketContext) decimal.Decimal {
	commission := market.Price.Mul(order.Quantity).Mul(em.config.CommissionRate)
	if commission.LessThan(em.config.CommissionMin) {
		return em.config.CommissionMin
	}
	if commission.GreaterThan(em.config.CommissionMax) {
		return em.config.CommissionMax
	}
	return commission
}

// calculateSpreadCost charges half the spread for crossing it, using
// the real bid/ask when supplied and a volatility-widened base spread
// otherwise.
func (em *ExecutionModel) calculateSpreadCost(order *types.Order, market *MarketContext) decimal.Decimal {
	var spreadBps decimal.Decimal
	if !market.BidPrice.IsZero() && !market.AskPrice.IsZero() {
		mid := market.BidPrice.Add(market.AskPrice).Div(decimal.NewFromInt(2))
		if !mid.IsZero() {
			spreadBps = market.AskPrice.Sub(market.BidPrice).Div(mid).Mul(decimal.NewFromInt(10000))
		}
	} else {
		spreadBps = em.config.BaseSpreadBps
		if !market.Volatility.IsZero() {
			widening := market.Volatility.Mul(em.config.SpreadVolFactor)
			spreadBps = spreadBps.Mul(decimal.NewFromInt(1).Add(widening))
		}
	}

	notional := market.Price.Mul(order.Quantity)
	return notional.Mul(spreadBps.Div(decimal.NewFromInt(2))).Div(decimal.NewFromInt(10000))
}

// calculateSlippage scales the base slippage by volatility and by the
// square root of the order's participation in recent volume.
func (em *ExecutionModel) calculateSlippage(order *types.Order, market *MarketContext) decimal.Decimal {
	slippageBps := em.config.BaseSlippageBps

	if !market.Volatility.IsZero() {
		adj := market.Volatility.Mul(em.config.VolatilityFactor)
		slippageBps = slippageBps.Mul(decimal.NewFromInt(1).Add(adj))
	}

	if !market.Volume.IsZero() {
		participation, _ := order.Quantity.Div(market.Volume).Float64()
		if participation > 0 {
			slippageBps = slippageBps.Mul(
				decimal.NewFromInt(1).Add(decimal.NewFromFloat(math.Sqrt(participation))))
		}
	}

	notional := market.Price.Mul(order.Quantity)
	return notional.Mul(slippageBps).Div(decimal.NewFromInt(10000))
}

// calculateMarketImpact applies the Almgren-Chriss decomposition:
// permanent gamma*sigma*sqrt(participation), temporary eta*participation,
// plus a linear term.
func (em *ExecutionModel) calculateMarketImpact(order *types.Order, market *MarketContext) decimal.Decimal {
	if market.Volume.IsZero() {
		return decimal.Zero
	}
	participation, _ := order.Quantity.Div(market.Volume).Float64()
	if participation <= 0 {
		return decimal.Zero
	}

	vol, _ := market.Volatility.Float64()
	if vol <= 0 {
		vol = 0.20
	}

	gamma, _ := em.config.PermanentImpact.Float64()
	eta, _ := em.config.TemporaryImpact.Float64()
	linear, _ := em.config.LinearImpact.Float64()

	impact := gamma*vol*math.Sqrt(participation) + eta*participation + linear*participation
	return market.Price.Mul(order.Quantity).Mul(decimal.NewFromFloat(impact))
}

// calculateFillPrice folds the non-commission execution costs into the
// side-appropriate base price.
func (em *ExecutionModel) calculateFillPrice(
	order *types.Order,
	market *MarketContext,
	result *ExecutionResult,
) decimal.Decimal {
	basePrice := market.Price
	if order.Side == types.OrderSideBuy && !market.AskPrice.IsZero() {
		basePrice = market.AskPrice
	} else if order.Side == types.OrderSideSell && !market.BidPrice.IsZero() {
		basePrice = market.BidPrice
	}

	notional := basePrice.Mul(order.Quantity)
	if notional.IsZero() {
		return basePrice
	}

	costRatio := result.Slippage.Add(result.MarketImpact).Div(notional)
	if order.Side == types.OrderSideBuy {
		return basePrice.Mul(decimal.NewFromInt(1).Add(costRatio))
	}
	return basePrice.Mul(decimal.NewFromInt(1).Sub(costRatio))
}

// ExecutionStats is a running total of modeled costs.
type ExecutionStats struct {
	ExecutionCount    int64           `json:"executionCount"`
	TotalSlippage     decimal.Decimal `json:"totalSlippage"`
	TotalCommission   decimal.Decimal `json:"totalCommission"`
	TotalMarketImpact decimal.Decimal `json:"totalMarketImpact"`
	AvgSlippage       decimal.Decimal `json:"avgSlippage"`
}

// GetStats snapshots the accumulated cost totals.
func (em *ExecutionModel) GetStats() ExecutionStats {
	em.mu.RLock()
	defer em.mu.RUnlock()

	stats := ExecutionStats{
		ExecutionCount:    em.executionCount,
		TotalSlippage:     em.totalSlippage,
		TotalCommission:   em.totalCommission,
		TotalMarketImpact: em.totalImpact,
	}
	if em.executionCount > 0 {
		stats.AvgSlippage = em.totalSlippage.Div(decimal.NewFromInt(em.executionCount))
	}
	return stats
}
