package indicators

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)
var fifty = decimal.NewFromInt(50)

// RSI computes the Relative Strength Index using Wilder smoothing of
// average gain and average loss over price deltas.
// RSI = 100 - 100/(1 + avg_gain/avg_loss); avg_loss == 0 yields 100
// (or 50 if avg_gain is also 0).
type RSI struct {
	period       int
	havePrev     bool
	prevPrice    decimal.Decimal
	count        int
	sumGain      decimal.Decimal
	sumLoss      decimal.Decimal
	avgGain      decimal.Decimal
	avgLoss      decimal.Decimal
	wilderPeriod decimal.Decimal
	Prev         decimal.Decimal
	Value        decimal.Decimal
}

// NewRSI creates an RSI over the given period.
func NewRSI(period int) *RSI {
	if period <= 0 {
		panic("indicators: RSI period must be positive")
	}
	return &RSI{
		period:       period,
		wilderPeriod: decimal.NewFromInt(int64(period)),
	}
}

// Observe folds in a new price.
func (r *RSI) Observe(price decimal.Decimal) {
	r.Prev = r.Value

	if !r.havePrev {
		r.prevPrice = price
		r.havePrev = true
		return
	}

	delta := price.Sub(r.prevPrice)
	r.prevPrice = price

	var gain, loss decimal.Decimal
	if delta.IsPositive() {
		gain = delta
	} else {
		loss = delta.Abs()
	}

	if r.count < r.period {
		r.sumGain = r.sumGain.Add(gain)
		r.sumLoss = r.sumLoss.Add(loss)
		r.count++
		if r.count == r.period {
			r.avgGain = r.sumGain.Div(r.wilderPeriod)
			r.avgLoss = r.sumLoss.Div(r.wilderPeriod)
			r.Value = r.compute()
		}
		return
	}

	// Wilder smoothing: avg <- (avg*(period-1) + new) / period
	r.avgGain = r.avgGain.Mul(r.wilderPeriod.Sub(decimal.NewFromInt(1))).Add(gain).Div(r.wilderPeriod)
	r.avgLoss = r.avgLoss.Mul(r.wilderPeriod.Sub(decimal.NewFromInt(1))).Add(loss).Div(r.wilderPeriod)
	r.Value = r.compute()
}

func (r *RSI) compute() decimal.Decimal {
	if r.avgLoss.IsZero() {
		if r.avgGain.IsZero() {
			return fifty
		}
		return hundred
	}
	rs := r.avgGain.Div(r.avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// Ready reports whether the RSI has accumulated a full period of deltas.
func (r *RSI) Ready() bool { return r.count >= r.period }
