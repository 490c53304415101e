package indicators

import "github.com/shopspring/decimal"

// ZScore computes (price - mean) / stddev over a rolling window.
type ZScore struct {
	sma   *SMA
	Value decimal.Decimal
}

// NewZScore creates a Z-score indicator over the given window.
func NewZScore(window int) *ZScore {
	return &ZScore{sma: NewSMA(window)}
}

// Observe folds in a new price.
func (z *ZScore) Observe(price decimal.Decimal) {
	z.sma.Observe(price)
	if !z.sma.Ready() {
		return
	}
	stdDev := z.sma.StdDev()
	if stdDev.IsZero() {
		z.Value = decimal.Zero
		return
	}
	z.Value = price.Sub(z.sma.Value).Div(stdDev)
}

// Ready reports whether the underlying window is full.
func (z *ZScore) Ready() bool { return z.sma.Ready() }
