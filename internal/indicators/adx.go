package indicators

import "github.com/shopspring/decimal"

// ADX computes +DI, -DI, DX, and ADX using Wilder smoothing over a
// simplified true range (|price[t]-price[t-1]|, the same simplification
// ATR uses), with the smoothing recurrence
// smoothed <- smoothed - smoothed/period + new.
type ADX struct {
	period int
	p      decimal.Decimal

	havePrev  bool
	prevPrice decimal.Decimal

	trCount int

	smoothedTR      decimal.Decimal
	smoothedPlusDM  decimal.Decimal
	smoothedMinusDM decimal.Decimal
	smoothedSet     bool

	dxCount int
	dxSum   decimal.Decimal
	adxSet  bool

	PlusDI decimal.Decimal
	MinusDI decimal.Decimal
	DX     decimal.Decimal
	Value  decimal.Decimal
}

// NewADX creates an ADX/DI indicator over the given period.
func NewADX(period int) *ADX {
	if period <= 1 {
		panic("indicators: ADX period must be > 1")
	}
	return &ADX{period: period, p: decimal.NewFromInt(int64(period))}
}

// Observe folds in a new price.
func (a *ADX) Observe(price decimal.Decimal) {
	if !a.havePrev {
		a.prevPrice = price
		a.havePrev = true
		return
	}

	tr := price.Sub(a.prevPrice).Abs()
	change := price.Sub(a.prevPrice)
	a.prevPrice = price

	var plusDM, minusDM decimal.Decimal
	switch {
	case change.IsPositive():
		plusDM = change
	case change.IsNegative():
		minusDM = change.Abs()
	}

	a.trCount++
	if a.trCount < a.period {
		return
	}

	if !a.smoothedSet {
		a.smoothedTR = tr
		a.smoothedPlusDM = plusDM
		a.smoothedMinusDM = minusDM
		a.smoothedSet = true
	} else {
		a.smoothedTR = wilderSmooth(a.smoothedTR, tr, a.p)
		a.smoothedPlusDM = wilderSmooth(a.smoothedPlusDM, plusDM, a.p)
		a.smoothedMinusDM = wilderSmooth(a.smoothedMinusDM, minusDM, a.p)
	}

	if a.smoothedTR.IsZero() {
		return
	}

	a.PlusDI = a.smoothedPlusDM.Div(a.smoothedTR).Mul(hundred)
	a.MinusDI = a.smoothedMinusDM.Div(a.smoothedTR).Mul(hundred)

	diSum := a.PlusDI.Add(a.MinusDI)
	if diSum.IsZero() {
		return
	}
	a.DX = a.PlusDI.Sub(a.MinusDI).Abs().Div(diSum).Mul(hundred)

	a.dxCount++
	a.dxSum = a.dxSum.Add(a.DX)
	if a.dxCount < a.period {
		return
	}

	if !a.adxSet {
		a.Value = a.dxSum.Div(a.p)
		a.adxSet = true
	} else {
		a.Value = wilderSmooth(a.Value, a.DX, a.p)
	}
}

// wilderSmooth applies Wilder's smoothing recurrence:
// smoothed <- smoothed - smoothed/period + new_value.
func wilderSmooth(current, newValue, period decimal.Decimal) decimal.Decimal {
	return current.Sub(current.Div(period)).Add(newValue)
}

// Ready reports whether the ADX value itself has warmed up.
func (a *ADX) Ready() bool { return a.adxSet }
