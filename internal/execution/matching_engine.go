package execution

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FillOutcome is the probabilistic execution result for a single order.
type FillOutcome string

const (
	FillOutcomeFull     FillOutcome = "full_fill"
	FillOutcomePartial  FillOutcome = "partial_fill"
	FillOutcomeCancelled FillOutcome = "cancelled"
)

// MatchingEngineConfig mirrors the probability and transaction-cost knobs
// of a simple simulated exchange: a chance of a full fill, a partial fill,
// or an outright cancellation, plus commission/spread/impact parameters
// used to synthesize a realistic fill price when no real order book is
// available.
type MatchingEngineConfig struct {
	FillProbability        decimal.Decimal
	PartialFillProbability decimal.Decimal
	CancelProbability      decimal.Decimal
	MarketImpact           decimal.Decimal // max random slippage fraction for market orders

	CommissionPerShare    decimal.Decimal
	CommissionMin         decimal.Decimal
	BidAskSpreadBps       decimal.Decimal
	SECFeeRate            decimal.Decimal // fee on sale proceeds
	LiquidityImpactFactor decimal.Decimal // extra slippage per $100k notional
}

// DefaultMatchingEngineConfig returns 85% full fill, 10% partial, 5%
// cancel, 2bps market impact, commission-free with a 5bps spread and
// the standard SEC fee rate.
func DefaultMatchingEngineConfig() MatchingEngineConfig {
	return MatchingEngineConfig{
		FillProbability:        decimal.NewFromFloat(0.85),
		PartialFillProbability: decimal.NewFromFloat(0.10),
		CancelProbability:      decimal.NewFromFloat(0.05),
		MarketImpact:           decimal.NewFromFloat(0.0002),
		CommissionPerShare:     decimal.Zero,
		CommissionMin:          decimal.Zero,
		BidAskSpreadBps:        decimal.NewFromFloat(5),
		SECFeeRate:             decimal.NewFromFloat(0.0000278),
		LiquidityImpactFactor:  decimal.NewFromFloat(0.0001),
	}
}

// MatchingEngine simulates order execution against a simple probabilistic
// fill model: every order either fills in full, fills partially (50-90%
// of its quantity), or is cancelled outright, with a synthesized
// bid/ask spread, slippage, liquidity impact, commission, and (on sales)
// SEC fee baked into the reported fill price so downstream portfolio
// accounting never needs to know about transaction costs separately.
type MatchingEngine struct {
	logger    *zap.Logger
	config    MatchingEngineConfig
	rng       *rand.Rand
	costModel *ExecutionModel
}

// NewMatchingEngine creates a matching engine. rng should be seeded by the
// caller for deterministic backtests; pass rand.New(rand.NewSource(seed)).
func NewMatchingEngine(logger *zap.Logger, config MatchingEngineConfig, rng *rand.Rand) *MatchingEngine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &MatchingEngine{
		logger: logger.Named("matching-engine"),
		config: config,
		rng:    rng,
	}
}

// SetCostModel installs the Almgren-Chriss execution model; when set,
// MARKET fill prices come from its spread/slippage/impact model
// instead of the engine's flat spread and impact parameters.
func (m *MatchingEngine) SetCostModel(model *ExecutionModel) {
	m.costModel = model
}

// Execute simulates fill of order against marketPrice (and, optionally, a
// synthesized or real best bid/ask), returning zero trades if the order
// is cancelled, or exactly one trade carrying the filled quantity and an
// all-in fill price.
func (m *MatchingEngine) Execute(
	order types.Order,
	marketPrice decimal.Decimal,
	bestBid, bestAsk decimal.Decimal,
	now time.Time,
) (types.Trade, FillOutcome) {
	outcome := m.determineOutcome()
	if outcome == FillOutcomeCancelled {
		return types.Trade{}, outcome
	}

	fillQty := order.Quantity
	if outcome == FillOutcomePartial {
		ratio := decimal.NewFromFloat(0.5 + m.rng.Float64()*0.4) // U[0.5, 0.9]
		fillQty = order.Quantity.Mul(ratio)
	}

	fillPrice := m.determineFillPrice(order, marketPrice, bestBid, bestAsk)

	trade := types.Trade{
		ID:         uuid.New().String(),
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   fillQty,
		Price:      fillPrice,
		ExecutedAt: now,
	}
	return trade, outcome
}

func (m *MatchingEngine) determineOutcome() FillOutcome {
	r := decimal.NewFromFloat(m.rng.Float64())
	if r.LessThan(m.config.FillProbability) {
		return FillOutcomeFull
	}
	if r.LessThan(m.config.FillProbability.Add(m.config.PartialFillProbability)) {
		return FillOutcomePartial
	}
	return FillOutcomeCancelled
}

// determineFillPrice folds bid-ask spread, random slippage, order-size
// liquidity impact, commission, and (on sells) SEC fees into a single
// all-in price: LIMIT orders fill at their limit price adjusted only for
// commission/fees, MARKET orders fill against a synthesized opposite-side
// price plus impact and costs.
func (m *MatchingEngine) determineFillPrice(
	order types.Order,
	marketPrice decimal.Decimal,
	bestBid, bestAsk decimal.Decimal,
) decimal.Decimal {
	if order.Type == types.OrderTypeLimit {
		fillPrice := order.Price
		commission := m.calculateCommission(order.Quantity)
		commissionPerShare := perShare(commission, order.Quantity)

		if order.Side == types.OrderSideBuy {
			return fillPrice.Add(commissionPerShare)
		}
		secFee := m.calculateSECFee(order.Quantity, fillPrice)
		totalCosts := commission.Add(secFee)
		return fillPrice.Sub(perShare(totalCosts, order.Quantity))
	}

	if bestBid.IsZero() || bestAsk.IsZero() {
		spread := marketPrice.Mul(m.config.BidAskSpreadBps.Div(decimal.NewFromInt(10000)))
		halfSpread := spread.Div(decimal.NewFromInt(2))
		bestBid = marketPrice.Sub(halfSpread)
		bestAsk = marketPrice.Add(halfSpread)
	}

	if m.costModel != nil {
		result := m.costModel.SimulateExecution(&order, &MarketContext{
			Symbol:   order.Symbol,
			Price:    marketPrice,
			BidPrice: bestBid,
			AskPrice: bestAsk,
		})
		return result.FillPrice
	}

	orderValue := order.Quantity.Mul(marketPrice)
	liquidityImpact := m.calculateLiquidityImpact(orderValue)
	commission := m.calculateCommission(order.Quantity)
	commissionPerShare := perShare(commission, order.Quantity)

	baseSlippage := decimal.NewFromFloat(m.rng.Float64()).Mul(m.config.MarketImpact)
	totalImpact := baseSlippage.Add(liquidityImpact)

	if order.Side == types.OrderSideBuy {
		fillPrice := bestAsk.Mul(decimal.NewFromInt(1).Add(totalImpact))
		return fillPrice.Add(commissionPerShare)
	}

	fillPrice := bestBid.Mul(decimal.NewFromInt(1).Sub(totalImpact))
	secFee := m.calculateSECFee(order.Quantity, fillPrice)
	totalCosts := commission.Add(secFee)
	return fillPrice.Sub(perShare(totalCosts, order.Quantity))
}

func (m *MatchingEngine) calculateCommission(quantity decimal.Decimal) decimal.Decimal {
	commission := quantity.Mul(m.config.CommissionPerShare)
	if commission.LessThan(m.config.CommissionMin) {
		return m.config.CommissionMin
	}
	return commission
}

func (m *MatchingEngine) calculateSECFee(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Mul(m.config.SECFeeRate)
}

func (m *MatchingEngine) calculateLiquidityImpact(orderValue decimal.Decimal) decimal.Decimal {
	units := orderValue.Div(decimal.NewFromInt(100000))
	return units.Mul(m.config.LiquidityImpactFactor)
}

func perShare(total, quantity decimal.Decimal) decimal.Decimal {
	if quantity.IsZero() {
		return decimal.Zero
	}
	return total.Div(quantity)
}
