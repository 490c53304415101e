package indicators

import "github.com/shopspring/decimal"

// SMA is a fixed-window simple moving average updated in O(1) per
// observation: it subtracts the outgoing price and adds the incoming one
// rather than re-summing the window.
type SMA struct {
	window int
	buf    []decimal.Decimal
	pos    int
	count  int
	sum    decimal.Decimal
	Prev   decimal.Decimal
	Value  decimal.Decimal
}

// NewSMA creates an SMA over the given window. Panics if window <= 0.
func NewSMA(window int) *SMA {
	if window <= 0 {
		panic("indicators: SMA window must be positive")
	}
	return &SMA{
		window: window,
		buf:    make([]decimal.Decimal, window),
	}
}

// Observe folds in a new price.
func (s *SMA) Observe(price decimal.Decimal) {
	s.Prev = s.Value

	outgoing := s.buf[s.pos]
	s.sum = s.sum.Sub(outgoing).Add(price)
	s.buf[s.pos] = price
	s.pos = (s.pos + 1) % s.window
	if s.count < s.window {
		s.count++
	}

	if s.Ready() {
		s.Value = s.sum.Div(decimal.NewFromInt(int64(s.window)))
	}
}

// Ready reports whether the window has accumulated enough observations.
func (s *SMA) Ready() bool { return s.count >= s.window }

// Window returns the configured window size.
func (s *SMA) Window() int { return s.window }

// StdDev returns the population standard deviation of the values currently in
// the ring buffer (population stddev over the full window, consistent
// with the Bollinger-band convention used by the strategy layer).
func (s *SMA) StdDev() decimal.Decimal {
	if !s.Ready() {
		return decimal.Zero
	}
	mean := s.Value
	var sumSq decimal.Decimal
	for _, v := range s.buf {
		diff := v.Sub(mean)
		sumSq = sumSq.Add(diff.Mul(diff))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(s.window)))
	return sqrtDecimal(variance)
}
