package indicators

import "github.com/shopspring/decimal"

// MACD tracks a fast EMA and slow EMA, their difference (the MACD line),
// an EMA of the MACD line (the signal line), and the histogram
// (MACD - signal).
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA

	PrevLine decimal.Decimal
	Line     decimal.Decimal
	Signal   decimal.Decimal
	Hist     decimal.Decimal
	ready    bool
}

// NewMACD creates a MACD indicator with the given fast/slow/signal
// periods (conventionally 12/26/9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

// Observe folds in a new price.
func (m *MACD) Observe(price decimal.Decimal) {
	m.fast.Observe(price)
	m.slow.Observe(price)

	if !m.fast.Ready() || !m.slow.Ready() {
		return
	}

	m.PrevLine = m.Line
	m.Line = m.fast.Value.Sub(m.slow.Value)

	m.signal.Observe(m.Line)
	if m.signal.Ready() {
		m.Signal = m.signal.Value
		m.Hist = m.Line.Sub(m.Signal)
		m.ready = true
	}
}

// Ready reports whether the signal line (and therefore the histogram) has
// warmed up.
func (m *MACD) Ready() bool { return m.ready }
