package indicators

import "github.com/shopspring/decimal"

// Donchian tracks running max/min over two independent lookback horizons
// — a wider "entry" window and a narrower "exit" window — per
// a breakout strategy's entry and exit triggers.
type Donchian struct {
	entryBuf []decimal.Decimal
	exitBuf  []decimal.Decimal
	entryPos int
	exitPos  int
	entryN   int
	exitN    int

	EntryHigh decimal.Decimal
	EntryLow  decimal.Decimal
	ExitHigh  decimal.Decimal
	ExitLow   decimal.Decimal
}

// NewDonchian creates a Donchian channel with the given entry and exit
// lookback window sizes.
func NewDonchian(entryWindow, exitWindow int) *Donchian {
	return &Donchian{
		entryBuf: make([]decimal.Decimal, entryWindow),
		exitBuf:  make([]decimal.Decimal, exitWindow),
	}
}

// Observe folds in a new price.
func (d *Donchian) Observe(price decimal.Decimal) {
	d.entryBuf[d.entryPos] = price
	d.entryPos = (d.entryPos + 1) % len(d.entryBuf)
	if d.entryN < len(d.entryBuf) {
		d.entryN++
	}

	d.exitBuf[d.exitPos] = price
	d.exitPos = (d.exitPos + 1) % len(d.exitBuf)
	if d.exitN < len(d.exitBuf) {
		d.exitN++
	}

	if d.entryN == len(d.entryBuf) {
		d.EntryHigh, d.EntryLow = minMax(d.entryBuf)
	}
	if d.exitN == len(d.exitBuf) {
		d.ExitHigh, d.ExitLow = minMax(d.exitBuf)
	}
}

func minMax(buf []decimal.Decimal) (hi, lo decimal.Decimal) {
	hi, lo = buf[0], buf[0]
	for _, v := range buf {
		if v.GreaterThan(hi) {
			hi = v
		}
		if v.LessThan(lo) {
			lo = v
		}
	}
	return hi, lo
}

// Ready reports whether both the entry and exit windows are full.
func (d *Donchian) Ready() bool {
	return d.entryN == len(d.entryBuf) && d.exitN == len(d.exitBuf)
}
