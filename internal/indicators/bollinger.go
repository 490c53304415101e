package indicators

import "github.com/shopspring/decimal"

// Bollinger computes a simple-moving-average midline with upper/lower
// bands at k standard deviations above and below it.
type Bollinger struct {
	sma *SMA
	k   decimal.Decimal

	Mid   decimal.Decimal
	Upper decimal.Decimal
	Lower decimal.Decimal
}

// NewBollinger creates a Bollinger band indicator over window W with
// multiplier k.
func NewBollinger(window int, k decimal.Decimal) *Bollinger {
	return &Bollinger{sma: NewSMA(window), k: k}
}

// Observe folds in a new price.
func (b *Bollinger) Observe(price decimal.Decimal) {
	b.sma.Observe(price)
	if !b.sma.Ready() {
		return
	}
	b.Mid = b.sma.Value
	stdDev := b.sma.StdDev()
	offset := b.k.Mul(stdDev)
	b.Upper = b.Mid.Add(offset)
	b.Lower = b.Mid.Sub(offset)
}

// Ready reports whether the underlying window is full.
func (b *Bollinger) Ready() bool { return b.sma.Ready() }
