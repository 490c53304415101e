// Package types provides configuration types for the trading backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestConfig is the request shape for an API-triggered backtest: a
// strategy, a symbol universe, the bar range to replay as ticks, and
// the execution knobs.
type BacktestConfig struct {
	ID             string           `json:"id"`
	Strategy       StrategyConfig   `json:"strategy"`
	Symbols        []string         `json:"symbols"`
	StartDate      time.Time        `json:"startDate"`
	EndDate        time.Time        `json:"endDate"`
	Timeframe      Timeframe        `json:"timeframe"`
	InitialCapital decimal.Decimal  `json:"initialCapital"`
	Commission     decimal.Decimal  `json:"commission"`
	Seed           int64            `json:"seed,omitempty"`
	Validation     ValidationConfig `json:"validation,omitempty"`
}

// StrategyConfig names an evaluator from the registry and carries its
// parameter bundle.
type StrategyConfig struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters"`
}

// ValidationConfig selects optional post-run validation.
type ValidationConfig struct {
	MonteCarlo MonteCarloConfig `json:"monteCarlo,omitempty"`
}

// MonteCarloConfig tunes trade-resampling validation.
type MonteCarloConfig struct {
	Enabled    bool `json:"enabled"`
	Iterations int  `json:"iterations"`
}
