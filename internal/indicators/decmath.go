// Package indicators implements the streaming, per-symbol indicator state
// machines that strategies observe tick-by-tick: SMA, EMA, RSI, Bollinger
// bands, ATR, MACD, Stochastic, VWAP, Donchian channels, Z-score, and
// ADX/DI. Every block is an O(1)-update ring buffer or recurrence; none
// allocate in the steady-state observe path.
package indicators

import "github.com/shopspring/decimal"

// sqrtDecimal computes an approximate square root via Newton's method.
// shopspring/decimal has no native Sqrt; this mirrors the helper the
// strategy package already used for Bollinger-band variance.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}
	x := d
	two := decimal.NewFromInt(2)
	for i := 0; i < 20; i++ {
		x = x.Add(d.Div(x)).Div(two)
	}
	return x
}
