// Package sizing provides fractional-Kelly position sizing. The adaptive
// allocator uses it to cap each sub-strategy's per-order budget by that
// sub-strategy's own attributed win statistics instead of a flat
// fraction of allocated capital.
package sizing

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SizingConfig bounds the sizer's output.
type SizingConfig struct {
	// MaxPositionPct caps any single order at this fraction of the
	// capital base handed in with the request.
	MaxPositionPct float64
	// MaxPortfolioRisk caps the fraction of capital at risk between the
	// entry and its stop.
	MaxPortfolioRisk float64
	// KellyFraction scales the raw Kelly estimate; full Kelly is far too
	// aggressive for noisy trade samples.
	KellyFraction float64
	// MinPositionPct floors the output so a viable signal is never sized
	// to dust.
	MinPositionPct float64
	// LookbackTrades bounds the retained trade history.
	LookbackTrades int
}

// DefaultSizingConfig returns quarter-Kelly with a 10% position cap and
// 2% risk budget.
func DefaultSizingConfig() *SizingConfig {
	return &SizingConfig{
		MaxPositionPct:   0.10,
		MaxPortfolioRisk: 0.02,
		KellyFraction:    0.25,
		MinPositionPct:   0.005,
		LookbackTrades:   100,
	}
}

// TradeResult is one closed trade fed back into the sizer's statistics.
type TradeResult struct {
	Symbol    string
	Entry     decimal.Decimal
	Exit      decimal.Decimal
	ReturnPct float64
	IsWin     bool
}

// PositionSizer sizes orders by fractional Kelly over observed win
// statistics, bounded by a risk budget and position caps.
type PositionSizer struct {
	logger *zap.Logger
	config *SizingConfig

	mu           sync.RWMutex
	tradeHistory []*TradeResult
}

// NewPositionSizer creates a sizer; a nil config gets the defaults.
func NewPositionSizer(logger *zap.Logger, config *SizingConfig) *PositionSizer {
	if config == nil {
		config = DefaultSizingConfig()
	}
	return &PositionSizer{
		logger:       logger.Named("sizing"),
		config:       config,
		tradeHistory: make([]*TradeResult, 0, config.LookbackTrades*2),
	}
}

// SizingRequest carries the inputs for one sizing decision. WinRate,
// AvgWin, and AvgLoss describe the caller's own trade record (the
// allocator derives them per sub-strategy from its shadow books).
type SizingRequest struct {
	Symbol         string
	PortfolioValue decimal.Decimal // capital base the output is a fraction of
	CurrentPrice   decimal.Decimal
	StopLoss       decimal.Decimal // stop price for the risk-budget leg
	WinRate        float64         // 0-1
	AvgWin         float64         // average winning P&L, same units as AvgLoss
	AvgLoss        float64         // average losing P&L, positive
	Confidence     float64         // optional 0-1 signal confidence scaler
}

// SizingResult is the sized budget with the intermediate numbers that
// produced it.
type SizingResult struct {
	PositionSize   decimal.Decimal `json:"position_size"`  // dollar budget
	PositionUnits  decimal.Decimal `json:"position_units"` // budget / price
	PositionPct    float64         `json:"position_pct"`
	KellyOptimal   float64         `json:"kelly_optimal"`
	KellyUsed      float64         `json:"kelly_used"`
	RiskPct        float64         `json:"risk_pct"`
	LimitingFactor string          `json:"limiting_factor"`
}

// CalculateSize returns the dollar budget for one order: the more
// conservative of fractional Kelly and the risk-budget size, clamped to
// the configured position band.
func (ps *PositionSizer) CalculateSize(req *SizingRequest) *SizingResult {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	result := &SizingResult{}

	capital, _ := req.PortfolioValue.Float64()
	price, _ := req.CurrentPrice.Float64()
	stop, _ := req.StopLoss.Float64()

	riskPct := 0.0
	if price > 0 {
		riskPct = math.Abs(price-stop) / price
	}

	kellyOptimal := ps.calculateKelly(req.WinRate, req.AvgWin, req.AvgLoss)
	kellyUsed := kellyOptimal * ps.config.KellyFraction
	result.KellyOptimal = kellyOptimal
	result.KellyUsed = kellyUsed

	positionPct := kellyUsed
	result.LimitingFactor = "kelly"
	if riskPct > 0 {
		if riskBased := ps.config.MaxPortfolioRisk / riskPct; riskBased < positionPct {
			positionPct = riskBased
			result.LimitingFactor = "risk_budget"
		}
	}

	if req.Confidence > 0 && req.Confidence < 1 {
		positionPct *= req.Confidence
	}

	if positionPct > ps.config.MaxPositionPct {
		positionPct = ps.config.MaxPositionPct
		result.LimitingFactor = "max_position"
	}
	if positionPct < ps.config.MinPositionPct {
		positionPct = ps.config.MinPositionPct
		result.LimitingFactor = "min_position"
	}

	result.PositionPct = positionPct
	result.RiskPct = positionPct * riskPct
	result.PositionSize = decimal.NewFromFloat(capital * positionPct)
	if price > 0 {
		result.PositionUnits = result.PositionSize.Div(req.CurrentPrice)
	}
	return result
}

// calculateKelly computes f* = p - q/b for win probability p and
// win/loss ratio b, clamped to [0, 1]; a negative edge sizes to zero.
func (ps *PositionSizer) calculateKelly(winRate, avgWin, avgLoss float64) float64 {
	if winRate <= 0 || winRate >= 1 || avgLoss == 0 {
		return 0
	}
	b := avgWin / avgLoss
	if b <= 0 {
		return 0
	}
	kelly := winRate - (1-winRate)/b
	if kelly < 0 {
		return 0
	}
	if kelly > 1 {
		return 1
	}
	return kelly
}

// AddTradeResult records a closed trade, trimming history to the
// configured lookback.
func (ps *PositionSizer) AddTradeResult(result *TradeResult) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.tradeHistory = append(ps.tradeHistory, result)
	if len(ps.tradeHistory) > ps.config.LookbackTrades*2 {
		ps.tradeHistory = ps.tradeHistory[len(ps.tradeHistory)-ps.config.LookbackTrades:]
	}
}

// TradeStatistics summarizes the retained trade history.
type TradeStatistics struct {
	TotalTrades      int     `json:"total_trades"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	WinRate          float64 `json:"win_rate"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	Expectancy       float64 `json:"expectancy"`
	KellyOptimal     float64 `json:"kelly_optimal"`
	KellyRecommended float64 `json:"kelly_recommended"`
}

// GetTradeStatistics derives win statistics from the recorded history.
func (ps *PositionSizer) GetTradeStatistics() *TradeStatistics {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	stats := &TradeStatistics{}
	if len(ps.tradeHistory) == 0 {
		return stats
	}
	stats.TotalTrades = len(ps.tradeHistory)

	var sumWins, sumLosses float64
	for _, trade := range ps.tradeHistory {
		if trade.IsWin {
			stats.Wins++
			sumWins += trade.ReturnPct
		} else {
			stats.Losses++
			sumLosses += math.Abs(trade.ReturnPct)
		}
	}
	stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades)
	if stats.Wins > 0 {
		stats.AvgWin = sumWins / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLoss = sumLosses / float64(stats.Losses)
	}
	stats.Expectancy = stats.WinRate*stats.AvgWin - (1-stats.WinRate)*stats.AvgLoss
	stats.KellyOptimal = ps.calculateKelly(stats.WinRate, stats.AvgWin, stats.AvgLoss)
	stats.KellyRecommended = stats.KellyOptimal * ps.config.KellyFraction
	return stats
}
