package indicators

import "github.com/shopspring/decimal"

// ATR computes a Wilder-smoothed average true range. True range here is
// simplified to the absolute consecutive-price delta |price[t] -
// price[t-1]| rather than a full OHLC true-range computation — the same
// simplification used when only a tick/close series is available, not a
// full OHLC bar.
type ATR struct {
	period       int
	wilderPeriod decimal.Decimal
	havePrev     bool
	prevPrice    decimal.Decimal
	count        int
	sumTR        decimal.Decimal
	Value        decimal.Decimal
}

// NewATR creates an ATR over the given period.
func NewATR(period int) *ATR {
	if period <= 0 {
		panic("indicators: ATR period must be positive")
	}
	return &ATR{period: period, wilderPeriod: decimal.NewFromInt(int64(period))}
}

// Observe folds in a new price.
func (a *ATR) Observe(price decimal.Decimal) {
	if !a.havePrev {
		a.prevPrice = price
		a.havePrev = true
		return
	}

	tr := price.Sub(a.prevPrice).Abs()
	a.prevPrice = price

	if a.count < a.period {
		a.sumTR = a.sumTR.Add(tr)
		a.count++
		if a.count == a.period {
			a.Value = a.sumTR.Div(a.wilderPeriod)
		}
		return
	}

	a.Value = a.Value.Mul(a.wilderPeriod.Sub(decimal.NewFromInt(1))).Add(tr).Div(a.wilderPeriod)
}

// Ready reports whether the ATR has a full period of true-range samples.
func (a *ATR) Ready() bool { return a.count >= a.period }
