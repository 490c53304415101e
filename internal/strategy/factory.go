package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FromConfig builds an evaluator by registry name with explicit sizing
// knobs and a free-form parameter bundle, falling back to each
// evaluator's defaults for any parameter the bundle omits.
func FromConfig(name string, cfg Config, params map[string]interface{}) (Evaluator, error) {
	switch name {
	case "sma_crossover":
		return NewSMACrossover(cfg,
			intParam(params, "short_window", 3),
			intParam(params, "long_window", 5)), nil
	case "rsi":
		return NewRSIStrategy(cfg,
			intParam(params, "period", 14),
			decimalParam(params, "oversold", 30),
			decimalParam(params, "overbought", 70)), nil
	case "bollinger_bands":
		return NewBollingerStrategy(cfg,
			intParam(params, "window", 20),
			decimalParam(params, "num_std", 2)), nil
	case "macd":
		return NewMACDStrategy(cfg,
			intParam(params, "fast", 12),
			intParam(params, "slow", 26),
			intParam(params, "signal", 9)), nil
	case "donchian_breakout":
		return NewDonchianBreakout(cfg,
			intParam(params, "entry_window", 20),
			intParam(params, "exit_window", 10)), nil
	case "adx_trend":
		return NewADXTrend(cfg,
			intParam(params, "period", 14),
			decimalParam(params, "threshold", 25)), nil
	case "opening_range_breakout":
		return NewOpeningRangeBreakout(cfg,
			intParam(params, "range_minutes", 30),
			decimalParam(params, "breakout_buffer", 0.001),
			decimalParam(params, "max_range_pct", 0.05)), nil
	case "cross_sectional_momentum":
		return NewCrossSectionalMomentum(cfg,
			intParam(params, "lookback", 20),
			intParam(params, "rebalance_period", 10),
			intParam(params, "min_stocks", 3)), nil
	case "vwap_reversion":
		return NewVWAPReversion(cfg,
			decimalParam(params, "deviation_pct", 0.5)), nil
	case "zscore_mean_reversion":
		return NewZScoreMeanReversion(cfg,
			intParam(params, "window", 20),
			decimalParam(params, "entry_z", 2)), nil
	case "stochastic":
		return NewStochasticStrategy(cfg,
			intParam(params, "k_window", 14),
			intParam(params, "d_window", 3),
			intParam(params, "slowing", 3)), nil
	case "keltner_channel":
		return NewKeltnerChannel(cfg,
			intParam(params, "ema_period", 20),
			intParam(params, "atr_period", 10),
			decimalParam(params, "atr_multiplier", 2)), nil
	case "rate_of_change":
		return NewRateOfChange(cfg,
			intParam(params, "lookback", 10),
			decimalParam(params, "entry_threshold_pct", 2)), nil
	case "volume_breakout":
		return NewVolumeBreakout(cfg,
			intParam(params, "volume_period", 20),
			decimalParam(params, "volume_multiplier", 2)), nil
	case "multi_indicator_reversion":
		return NewMultiIndicatorReversion(cfg), nil
	case "pairs_trading":
		return NewPairsTrading(cfg,
			stringParam(params, "symbol_a", ""),
			stringParam(params, "symbol_b", ""),
			intParam(params, "lookback", 20),
			decimalParam(params, "entry_threshold", 2)), nil
	case "dca":
		return NewDCA(cfg,
			intParam(params, "interval", 24),
			decimalParam(params, "drop_threshold", 0.05)), nil
	case "grid":
		return NewGrid(cfg,
			decimalParam(params, "grid_size", 0.01),
			intParam(params, "levels", 5)), nil
	}
	return nil, fmt.Errorf("strategy: unknown evaluator %q", name)
}

func intParam(params map[string]interface{}, key string, def int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return def
}

func decimalParam(params map[string]interface{}, key string, def float64) decimal.Decimal {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return decimal.NewFromInt(int64(n))
		case int64:
			return decimal.NewFromInt(n)
		case float64:
			return decimal.NewFromFloat(n)
		case string:
			if d, err := decimal.NewFromString(n); err == nil {
				return d
			}
		}
	}
	return decimal.NewFromFloat(def)
}

func stringParam(params map[string]interface{}, key, def string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}
