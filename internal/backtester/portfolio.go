// Package backtester provides portfolio simulation for backtesting.
package backtester

import (
	"sync"
	"time"

	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// Position is a per-symbol aggregate with a signed quantity: positive for
// long, negative for short. It is never removed from the portfolio once
// opened, even after it returns to zero, so cost-basis history survives
// for the life of the session.
type Position struct {
	Symbol        string
	Quantity      decimal.Decimal // signed
	AvgCost       decimal.Decimal
	CurrentPrice  decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	OpenedAt      time.Time
	Trades        int
}

// IsLong, IsShort, IsFlat mirror pkg/types.Position's sign predicates.
func (p *Position) IsLong() bool  { return p.Quantity.IsPositive() }
func (p *Position) IsShort() bool { return p.Quantity.IsNegative() }
func (p *Position) IsFlat() bool  { return p.Quantity.IsZero() }

// AccountMetrics is the read-only performance snapshot exposed by
// Portfolio.PerformanceMetrics, covering exactly the fields named by the
// portfolio-accounting component: total return, realized/unrealized/total
// P&L, trade/win/loss counts, win rate, avg win/loss, max and current
// drawdown, and annualized Sharpe.
type AccountMetrics struct {
	TotalReturnPct     decimal.Decimal
	RealizedPnL        decimal.Decimal
	UnrealizedPnL      decimal.Decimal
	TotalPnL           decimal.Decimal
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            decimal.Decimal
	AvgWin             decimal.Decimal
	AvgLoss            decimal.Decimal
	MaxDrawdownPct     decimal.Decimal
	CurrentDrawdownPct decimal.Decimal
	SharpeRatio        decimal.Decimal
	AvgHoldingTime     time.Duration
}

// Portfolio manages simulated portfolio state: cash, signed per-symbol
// positions, the append-only trade and equity-curve sequences, and the
// running high-water-mark.
type Portfolio struct {
	mu            sync.RWMutex
	cash          decimal.Decimal
	initialCash   decimal.Decimal
	positions     map[string]*Position
	trades        []types.Trade
	equityCurve   []types.EquityCurvePoint
	highWaterMark decimal.Decimal
	holdingTimes  []time.Duration
	metricsCalc   *MetricsCalculator
}

// NewPortfolio creates a new portfolio
func NewPortfolio(initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:          initialCash,
		initialCash:   initialCash,
		positions:     make(map[string]*Position),
		highWaterMark: initialCash,
		metricsCalc:   NewMetricsCalculator(),
	}
}

// RiskMetrics derives the volatility and tail-loss statistics (daily and
// annualized volatility, VaR 95/99, CVaR 95) from the recorded equity
// curve.
func (p *Portfolio) RiskMetrics() *types.RiskMetrics {
	p.mu.RLock()
	curve := make([]types.EquityCurvePoint, len(p.equityCurve))
	copy(curve, p.equityCurve)
	p.mu.RUnlock()
	return p.metricsCalc.CalculateRiskMetrics(curve)
}

// InitialCash returns the starting cash the portfolio was created with.
func (p *Portfolio) InitialCash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialCash
}

// GetCash returns available cash
func (p *Portfolio) GetCash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// GetEquity returns total equity (cash + positions marked to last price).
func (p *Portfolio) GetEquity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calculateEquityLocked()
}

// GetDrawdown returns current drawdown from the high-water-mark.
func (p *Portfolio) GetDrawdown() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.highWaterMark.IsZero() {
		return decimal.Zero
	}

	equity := p.calculateEquityLocked()
	dd := p.highWaterMark.Sub(equity).Div(p.highWaterMark)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// HighWaterMark returns the running peak of recorded equity.
func (p *Portfolio) HighWaterMark() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.highWaterMark
}

// GetPosition returns a position by symbol, or nil if one was never opened.
func (p *Portfolio) GetPosition(symbol string) *Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pos, ok := p.positions[symbol]; ok {
		posCopy := *pos
		return &posCopy
	}
	return nil
}

// GetPositions returns all positions ever opened this session, including
// ones that have since returned to zero quantity.
func (p *Portfolio) GetPositions() map[string]*Position {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make(map[string]*Position, len(p.positions))
	for k, v := range p.positions {
		posCopy := *v
		result[k] = &posCopy
	}
	return result
}

// Trades returns the append-only sequence of processed trades.
func (p *Portfolio) Trades() []types.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// EquityCurve returns the append-only (timestamp, value) sequence.
func (p *Portfolio) EquityCurve() []types.EquityCurvePoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.EquityCurvePoint, len(p.equityCurve))
	copy(out, p.equityCurve)
	return out
}

// UpdatePrice updates the mark for a single symbol and recomputes its
// unrealized P&L; the driver calls it once per tick. UpdatePrices is
// the batch form for a full price map.
func (p *Portfolio) UpdatePrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markLocked(symbol, price)
}

// UpdatePrices recomputes unrealized_pnl for every position from a batch
// of current prices, per the portfolio-accounting contract.
func (p *Portfolio) UpdatePrices(prices map[string]decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for symbol, price := range prices {
		p.markLocked(symbol, price)
	}
}

func (p *Portfolio) markLocked(symbol string, price decimal.Decimal) {
	pos, ok := p.positions[symbol]
	if !ok {
		return
	}
	pos.CurrentPrice = price
	pos.UnrealizedPnL = pos.Quantity.Mul(price.Sub(pos.AvgCost))
}

// RecordEquity appends a (timestamp, total_value) sample after marking
// every position to prices, and bumps the high-water-mark.
func (p *Portfolio) RecordEquity(timestamp time.Time, prices map[string]decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for symbol, price := range prices {
		p.markLocked(symbol, price)
	}

	equity := p.calculateEquityLocked()
	if equity.GreaterThan(p.highWaterMark) {
		p.highWaterMark = equity
	}

	p.equityCurve = append(p.equityCurve, types.EquityCurvePoint{
		Timestamp: timestamp,
		Equity:    equity,
		Cash:      p.cash,
		Drawdown:  p.drawdownLocked(equity),
	})
}

func (p *Portfolio) drawdownLocked(equity decimal.Decimal) decimal.Decimal {
	if p.highWaterMark.IsZero() {
		return decimal.Zero
	}
	dd := p.highWaterMark.Sub(equity).Div(p.highWaterMark)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// ProcessTrade applies the position update law from the data model: a
// trade whose side matches the existing position's sign adds to it with
// a weighted-average cost; a trade on the opposite side realizes P&L on
// the portion that reduces the position, reopening on the other side with
// a fresh entry price if the trade's quantity crosses through zero. Cash
// moves by -qty*price for a BUY and +qty*price for a SELL; transaction
// costs are assumed already baked into trade.Price by the matching engine.
func (p *Portfolio) ProcessTrade(trade types.Trade) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applyTradeLocked(trade)
}

// applyTradeLocked performs the position update law for one trade.
// Transaction costs are assumed to be baked into trade.Price by the
// matching engine, so cash moves by exactly quantity*price.
func (p *Portfolio) applyTradeLocked(trade types.Trade) decimal.Decimal {
	q := trade.Quantity
	price := trade.Price

	pos, ok := p.positions[trade.Symbol]
	if !ok {
		pos = &Position{Symbol: trade.Symbol, OpenedAt: trade.ExecutedAt}
		p.positions[trade.Symbol] = pos
	}

	signedQ := q
	if trade.Side == types.OrderSideSell {
		signedQ = q.Neg()
	}

	existingSign := pos.Quantity.Sign()
	sideSign := signedQ.Sign()

	var realizedDelta decimal.Decimal

	if existingSign == 0 || existingSign == sideSign {
		// Adding to (or opening) a position in the same direction.
		if existingSign == 0 {
			pos.OpenedAt = trade.ExecutedAt
		}
		absExisting := pos.Quantity.Abs()
		totalCost := absExisting.Mul(pos.AvgCost).Add(q.Mul(price))
		newQty := pos.Quantity.Add(signedQ)
		if !newQty.IsZero() {
			pos.AvgCost = totalCost.Div(newQty.Abs())
		}
		pos.Quantity = newQty
	} else {
		// Reducing (and possibly reversing through) the position.
		absExisting := pos.Quantity.Abs()
		closeQty := decimal.Min(q, absExisting)
		sign := decimal.NewFromInt(int64(existingSign))
		realizedDelta = sign.Mul(price.Sub(pos.AvgCost)).Mul(closeQty)
		pos.RealizedPnL = pos.RealizedPnL.Add(realizedDelta)

		newQty := pos.Quantity.Add(signedQ)
		pos.Quantity = newQty
		if newQty.IsZero() || newQty.Sign() != existingSign {
			// Position fully closed (and possibly reopened on the other
			// side): the closed leg's holding period ends here.
			if !pos.OpenedAt.IsZero() {
				p.holdingTimes = append(p.holdingTimes, trade.ExecutedAt.Sub(pos.OpenedAt))
			}
		}
		if newQty.Sign() != 0 && newQty.Sign() != existingSign {
			// Crossed through zero: residual reopens on the other side.
			pos.AvgCost = price
			pos.OpenedAt = trade.ExecutedAt
		}
	}

	pos.CurrentPrice = price
	pos.Trades++

	if trade.Side == types.OrderSideBuy {
		p.cash = p.cash.Sub(q.Mul(price))
	} else {
		p.cash = p.cash.Add(q.Mul(price))
	}
	trade.PnL = realizedDelta
	p.trades = append(p.trades, trade)

	return realizedDelta
}

func (p *Portfolio) calculateEquityLocked() decimal.Decimal {
	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.Quantity.Mul(pos.AvgCost)).Add(pos.UnrealizedPnL)
	}
	return equity
}

// GetUnrealizedPnL returns unrealized PnL summed across all positions
func (p *Portfolio) GetUnrealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var unrealized decimal.Decimal
	for _, pos := range p.positions {
		unrealized = unrealized.Add(pos.UnrealizedPnL)
	}
	return unrealized
}

// GetRealizedPnL returns realized PnL summed across all positions.
func (p *Portfolio) GetRealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var realized decimal.Decimal
	for _, pos := range p.positions {
		realized = realized.Add(pos.RealizedPnL)
	}
	return realized
}

// GetTotalPnL returns total PnL (current equity minus starting cash).
func (p *Portfolio) GetTotalPnL() decimal.Decimal {
	return p.GetEquity().Sub(p.initialCash)
}

// PerformanceMetrics returns the read-only performance snapshot named by
// the portfolio-accounting contract, reusing MetricsCalculator for the
// trade-statistics and drawdown/Sharpe math it already implements.
func (p *Portfolio) PerformanceMetrics() AccountMetrics {
	p.mu.RLock()
	tradesCopy := make([]*types.Trade, len(p.trades))
	for i := range p.trades {
		t := p.trades[i]
		tradesCopy[i] = &t
	}
	curveCopy := make([]types.EquityCurvePoint, len(p.equityCurve))
	copy(curveCopy, p.equityCurve)
	equity := p.calculateEquityLocked()
	realized := decimal.Zero
	unrealized := decimal.Zero
	for _, pos := range p.positions {
		realized = realized.Add(pos.RealizedPnL)
		unrealized = unrealized.Add(pos.UnrealizedPnL)
	}
	initialCash := p.initialCash
	hwm := p.highWaterMark
	holdingTimes := make([]time.Duration, len(p.holdingTimes))
	copy(holdingTimes, p.holdingTimes)
	p.mu.RUnlock()

	base := p.metricsCalc.Calculate(tradesCopy, curveCopy, initialCash, holdingTimes...)

	var currentDD decimal.Decimal
	if !hwm.IsZero() {
		currentDD = hwm.Sub(equity).Div(hwm)
		if currentDD.IsNegative() {
			currentDD = decimal.Zero
		}
	}

	hundred := decimal.NewFromInt(100)
	return AccountMetrics{
		TotalReturnPct:     base.TotalReturn.Mul(hundred),
		RealizedPnL:        realized,
		UnrealizedPnL:      unrealized,
		TotalPnL:           equity.Sub(initialCash),
		TotalTrades:        base.TotalTrades,
		WinningTrades:      base.WinningTrades,
		LosingTrades:       base.LosingTrades,
		WinRate:            base.WinRate,
		AvgWin:             base.AvgWin,
		AvgLoss:            base.AvgLoss,
		MaxDrawdownPct:     base.MaxDrawdown.Mul(hundred),
		CurrentDrawdownPct: currentDD.Mul(hundred),
		SharpeRatio:        base.SharpeRatio,
		AvgHoldingTime:     base.AvgHoldingTime,
	}
}

// ToTypes converts to types.Portfolio for API/serialization surfaces.
func (p *Portfolio) ToTypes() *types.Portfolio {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make(map[string]*types.Position, len(p.positions))
	for symbol, pos := range p.positions {
		side := types.PositionSideLong
		if pos.IsShort() {
			side = types.PositionSideShort
		}
		positions[symbol] = &types.Position{
			Symbol:        symbol,
			Side:          side,
			Quantity:      pos.Quantity,
			AvgCost:       pos.AvgCost,
			EntryPrice:    pos.AvgCost,
			CurrentPrice:  pos.CurrentPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
			RealizedPnL:   pos.RealizedPnL,
			OpenedAt:      pos.OpenedAt,
		}
	}

	return &types.Portfolio{
		Cash:      p.cash,
		Equity:    p.calculateEquityLocked(),
		Positions: positions,
		TotalPnL:  p.calculateEquityLocked().Sub(p.initialCash),
		UpdatedAt: time.Now(),
	}
}
