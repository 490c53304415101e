package backtester

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ViabilityThresholds are the minimum account-metric levels a finished
// run must clear before the strategy is worth taking further.
type ViabilityThresholds struct {
	MinSharpeRatio decimal.Decimal
	MaxDrawdownPct decimal.Decimal // percent, 20 = 20%
	MinWinRate     decimal.Decimal // fraction, 0.40 = 40%
	MinProfitFactor decimal.Decimal
	MinTrades      int // below this the statistics mean nothing
}

// DefaultViabilityThresholds returns the conservative defaults: Sharpe
// above 0.5, drawdown under 20%, profit factor above 1.5, win rate above
// 40%, at least 30 trades (fills).
func DefaultViabilityThresholds() ViabilityThresholds {
	return ViabilityThresholds{
		MinSharpeRatio:  decimal.NewFromFloat(0.5),
		MaxDrawdownPct:  decimal.NewFromInt(20),
		MinWinRate:      decimal.NewFromFloat(0.40),
		MinProfitFactor: decimal.NewFromFloat(1.5),
		MinTrades:       30,
	}
}

// ViabilityIssue is one failed threshold with the observed value.
type ViabilityIssue struct {
	Metric   string          `json:"metric"`
	Actual   decimal.Decimal `json:"actual"`
	Required decimal.Decimal `json:"required"`
	Critical bool            `json:"critical"`
}

// ViabilityReport summarizes how a run measured up.
type ViabilityReport struct {
	IsViable    bool             `json:"isViable"`
	Score       int              `json:"score"` // 0-100
	Grade       string           `json:"grade"` // A-F
	Issues      []ViabilityIssue `json:"issues"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// ViabilityChecker grades a driver run's account metrics against the
// thresholds.
type ViabilityChecker struct {
	thresholds ViabilityThresholds
}

// NewViabilityChecker creates a checker over the given thresholds.
func NewViabilityChecker(thresholds ViabilityThresholds) *ViabilityChecker {
	return &ViabilityChecker{thresholds: thresholds}
}

// Check grades the metrics of a completed run. Runs with too few trades
// are non-viable outright: nothing statistical can be said about them.
func (vc *ViabilityChecker) Check(metrics AccountMetrics) *ViabilityReport {
	report := &ViabilityReport{GeneratedAt: time.Now()}
	score := 100

	fail := func(metric string, actual, required decimal.Decimal, critical bool, penalty int) {
		report.Issues = append(report.Issues, ViabilityIssue{
			Metric: metric, Actual: actual, Required: required, Critical: critical,
		})
		score -= penalty
	}

	if metrics.TotalTrades < vc.thresholds.MinTrades {
		fail("trade_count",
			decimal.NewFromInt(int64(metrics.TotalTrades)),
			decimal.NewFromInt(int64(vc.thresholds.MinTrades)), true, 40)
	}

	if metrics.SharpeRatio.LessThan(vc.thresholds.MinSharpeRatio) {
		fail("sharpe_ratio", metrics.SharpeRatio, vc.thresholds.MinSharpeRatio,
			metrics.SharpeRatio.IsNegative(), 25)
	}

	if metrics.MaxDrawdownPct.GreaterThan(vc.thresholds.MaxDrawdownPct) {
		fail("max_drawdown_pct", metrics.MaxDrawdownPct, vc.thresholds.MaxDrawdownPct,
			metrics.MaxDrawdownPct.GreaterThan(decimal.NewFromInt(30)), 25)
	}

	if metrics.WinRate.LessThan(vc.thresholds.MinWinRate) {
		fail("win_rate", metrics.WinRate, vc.thresholds.MinWinRate, false, 15)
	}

	pf := profitFactor(metrics)
	if pf.LessThan(vc.thresholds.MinProfitFactor) {
		fail("profit_factor", pf, vc.thresholds.MinProfitFactor,
			pf.LessThan(decimal.NewFromInt(1)), 20)
	}

	if score < 0 {
		score = 0
	}
	report.Score = score
	report.Grade = scoreToGrade(score)

	critical := false
	for _, issue := range report.Issues {
		if issue.Critical {
			critical = true
			break
		}
	}
	report.IsViable = !critical && score >= 60

	return report
}

// String renders the report as a single log-friendly line.
func (r *ViabilityReport) String() string {
	return fmt.Sprintf("viability grade=%s score=%d issues=%d viable=%v",
		r.Grade, r.Score, len(r.Issues), r.IsViable)
}

// profitFactor approximates gross profit over gross loss from the win
// and loss counts and average sizes the metrics carry.
func profitFactor(metrics AccountMetrics) decimal.Decimal {
	grossProfit := metrics.AvgWin.Mul(decimal.NewFromInt(int64(metrics.WinningTrades)))
	grossLoss := metrics.AvgLoss.Abs().Mul(decimal.NewFromInt(int64(metrics.LosingTrades)))
	if grossLoss.IsZero() {
		if grossProfit.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(999)
	}
	return grossProfit.Div(grossLoss)
}

func scoreToGrade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
