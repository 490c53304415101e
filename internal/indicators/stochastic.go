package indicators

import "github.com/shopspring/decimal"

// Stochastic computes %K over a lookback of K prices and %D as an
// SMA(D) of %K. When slowing > 1, %K is itself
// smoothed (slow stochastic) before %D is computed.
type Stochastic struct {
	kWindow int
	buf     []decimal.Decimal
	pos     int
	count   int

	slowK *SMA // only used when slowing > 1
	dSMA  *SMA

	PercentK decimal.Decimal
	PercentD decimal.Decimal
	ready    bool
}

// NewStochastic creates a Stochastic oscillator with lookback kWindow,
// %D smoothing window d, and optional %K slowing period (1 = fast
// stochastic, no extra smoothing).
func NewStochastic(kWindow, d, slowing int) *Stochastic {
	s := &Stochastic{
		kWindow: kWindow,
		buf:     make([]decimal.Decimal, kWindow),
		dSMA:    NewSMA(d),
	}
	if slowing > 1 {
		s.slowK = NewSMA(slowing)
	}
	return s
}

// Observe folds in a new price.
func (s *Stochastic) Observe(price decimal.Decimal) {
	s.buf[s.pos] = price
	s.pos = (s.pos + 1) % s.kWindow
	if s.count < s.kWindow {
		s.count++
	}
	if s.count < s.kWindow {
		return
	}

	lo, hi := s.buf[0], s.buf[0]
	for _, v := range s.buf {
		if v.LessThan(lo) {
			lo = v
		}
		if v.GreaterThan(hi) {
			hi = v
		}
	}

	var rawK decimal.Decimal
	rng := hi.Sub(lo)
	if rng.IsZero() {
		rawK = fifty
	} else {
		rawK = hundred.Mul(price.Sub(lo)).Div(rng)
	}

	if s.slowK != nil {
		s.slowK.Observe(rawK)
		if !s.slowK.Ready() {
			return
		}
		s.PercentK = s.slowK.Value
	} else {
		s.PercentK = rawK
	}

	s.dSMA.Observe(s.PercentK)
	if s.dSMA.Ready() {
		s.PercentD = s.dSMA.Value
		s.ready = true
	}
}

// Ready reports whether %D has warmed up.
func (s *Stochastic) Ready() bool { return s.ready }
