package data

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantframe/streamalpha/pkg/types"
)

// TickQualityValidator inspects a recorded tick series before it is
// replayed: non-positive prices, negative volumes, out-of-order or
// duplicate timestamps, implausible price jumps, and long gaps. The
// engine drops bad ticks at the strategy boundary anyway; this surfaces
// the problems at load time, where the operator can fix the data.
type TickQualityValidator struct {
	logger *zap.Logger

	// MaxJumpPct flags a tick whose price moved more than this fraction
	// from the previous tick (0.20 = 20%).
	MaxJumpPct decimal.Decimal
	// MaxGap flags a silent stretch longer than this between ticks.
	MaxGap time.Duration
}

// NewTickQualityValidator returns crypto-friendly defaults: 20% jump
// threshold, one-hour gap threshold.
func NewTickQualityValidator(logger *zap.Logger) *TickQualityValidator {
	return &TickQualityValidator{
		logger:     logger.Named("quality"),
		MaxJumpPct: decimal.NewFromFloat(0.20),
		MaxGap:     time.Hour,
	}
}

// TickIssue is one defect found in a tick series.
type TickIssue struct {
	Index       int    `json:"index"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// TickQualityReport summarizes a validated series.
type TickQualityReport struct {
	Symbol     string      `json:"symbol"`
	TotalTicks int         `json:"totalTicks"`
	Issues     []TickIssue `json:"issues"`
	// IsUsable is false when more than 5% of the series is defective.
	IsUsable bool `json:"isUsable"`
}

// Validate scans the series in order and reports every defect found.
func (v *TickQualityValidator) Validate(ticks []*types.Tick, symbol string) *TickQualityReport {
	report := &TickQualityReport{Symbol: symbol, TotalTicks: len(ticks), IsUsable: true}
	if len(ticks) == 0 {
		return report
	}

	var prev *types.Tick
	for i, tick := range ticks {
		if tick.Price.Sign() <= 0 {
			report.Issues = append(report.Issues, TickIssue{
				Index: i, Kind: "bad_price",
				Description: fmt.Sprintf("non-positive price %s", tick.Price),
			})
		}
		if tick.Size.IsNegative() {
			report.Issues = append(report.Issues, TickIssue{
				Index: i, Kind: "bad_volume",
				Description: fmt.Sprintf("negative volume %s", tick.Size),
			})
		}

		if prev != nil {
			if tick.Timestamp.Before(prev.Timestamp) {
				report.Issues = append(report.Issues, TickIssue{
					Index: i, Kind: "out_of_order",
					Description: fmt.Sprintf("timestamp %v precedes %v", tick.Timestamp, prev.Timestamp),
				})
			} else if gap := tick.Timestamp.Sub(prev.Timestamp); gap > v.MaxGap {
				report.Issues = append(report.Issues, TickIssue{
					Index: i, Kind: "gap",
					Description: fmt.Sprintf("%v of silence before this tick", gap),
				})
			}

			if prev.Price.Sign() > 0 && tick.Price.Sign() > 0 {
				jump := tick.Price.Sub(prev.Price).Abs().Div(prev.Price)
				if jump.GreaterThan(v.MaxJumpPct) {
					report.Issues = append(report.Issues, TickIssue{
						Index: i, Kind: "price_jump",
						Description: fmt.Sprintf("price moved %s%% in one tick",
							jump.Mul(decimal.NewFromInt(100)).Round(2)),
					})
				}
			}
		}
		prev = tick
	}

	if len(report.Issues)*20 > len(ticks) {
		report.IsUsable = false
	}
	if len(report.Issues) > 0 {
		v.logger.Warn("tick series has quality issues",
			zap.String("symbol", symbol),
			zap.Int("ticks", len(ticks)),
			zap.Int("issues", len(report.Issues)),
			zap.Bool("usable", report.IsUsable))
	}
	return report
}
