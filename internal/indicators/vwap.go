package indicators

import "github.com/shopspring/decimal"

// VWAP computes a cumulative volume-weighted average price,
// Sum(price*volume)/Sum(volume), with an optional reset every N
// observations, such as a daily VWAP reset.
type VWAP struct {
	resetEvery int
	seen       int
	sumPV      decimal.Decimal
	sumV       decimal.Decimal
	Value      decimal.Decimal
	ready      bool
}

// NewVWAP creates a VWAP indicator. resetEvery <= 0 disables the
// periodic reset (pure cumulative VWAP for the life of the block).
func NewVWAP(resetEvery int) *VWAP {
	return &VWAP{resetEvery: resetEvery}
}

// Observe folds in a new (price, volume) observation.
func (v *VWAP) Observe(price, volume decimal.Decimal) {
	if v.resetEvery > 0 && v.seen >= v.resetEvery {
		v.sumPV = decimal.Zero
		v.sumV = decimal.Zero
		v.seen = 0
	}

	v.sumPV = v.sumPV.Add(price.Mul(volume))
	v.sumV = v.sumV.Add(volume)
	v.seen++

	if v.sumV.IsPositive() {
		v.Value = v.sumPV.Div(v.sumV)
		v.ready = true
	}
}

// Ready reports whether at least one observation with positive volume has
// been folded in.
func (v *VWAP) Ready() bool { return v.ready }

// Reset clears accumulated state (used when a new trading day begins and
// the strategy wants daily VWAP rather than relying on resetEvery).
func (v *VWAP) Reset() {
	v.sumPV = decimal.Zero
	v.sumV = decimal.Zero
	v.seen = 0
	v.ready = false
}
