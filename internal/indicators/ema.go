package indicators

import "github.com/shopspring/decimal"

// EMA is an exponential moving average. It seeds from the SMA of the
// first Period observations, then applies the standard recurrence
// ema <- ema + alpha*(price - ema) with alpha = 2/(period+1).
type EMA struct {
	period int
	alpha  decimal.Decimal
	seed   *SMA
	seeded bool
	Prev   decimal.Decimal
	Value  decimal.Decimal
}

// NewEMA creates an EMA with the given period.
func NewEMA(period int) *EMA {
	if period <= 0 {
		panic("indicators: EMA period must be positive")
	}
	alpha := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	return &EMA{
		period: period,
		alpha:  alpha,
		seed:   NewSMA(period),
	}
}

// Observe folds in a new price.
func (e *EMA) Observe(price decimal.Decimal) {
	e.Prev = e.Value

	if !e.seeded {
		e.seed.Observe(price)
		if e.seed.Ready() {
			e.Value = e.seed.Value
			e.seeded = true
		}
		return
	}

	e.Value = e.Value.Add(e.alpha.Mul(price.Sub(e.Value)))
}

// Ready reports whether the EMA has been seeded.
func (e *EMA) Ready() bool { return e.seeded }

// Period returns the configured period.
func (e *EMA) Period() int { return e.period }
