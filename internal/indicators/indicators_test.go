package indicators_test

import (
	"testing"

	"github.com/quantframe/streamalpha/internal/indicators"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestSMAWarmup(t *testing.T) {
	s := indicators.NewSMA(3)
	require.False(t, s.Ready())
	s.Observe(dec(1))
	s.Observe(dec(2))
	require.False(t, s.Ready())
	s.Observe(dec(3))
	require.True(t, s.Ready())
	require.True(t, s.Value.Equal(dec(2)))
}

func TestRSIZeroLossesIsHundred(t *testing.T) {
	r := indicators.NewRSI(3)
	prices := []float64{100, 101, 102, 103}
	for _, p := range prices {
		r.Observe(dec(p))
	}
	require.True(t, r.Ready())
	require.True(t, r.Value.Equal(decimal.NewFromInt(100)), "expected RSI=100, got %s", r.Value)
}

func TestSMACrossoverEdge(t *testing.T) {
	// Mirrors Scenario A: prices [100,100,100,100,100,101,102,103,104,105],
	// short window 3, long window 5.
	prices := []float64{100, 100, 100, 100, 100, 101, 102, 103, 104, 105}
	short := indicators.NewSMA(3)
	long := indicators.NewSMA(5)

	var crossedOnTick int
	for i, p := range prices {
		prevShort, prevLong := short.Value, long.Value
		short.Observe(dec(p))
		long.Observe(dec(p))
		if !short.Ready() || !long.Ready() {
			continue
		}
		wasBullish := prevShort.GreaterThan(prevLong)
		nowBullish := short.Value.GreaterThan(long.Value)
		if !wasBullish && nowBullish && crossedOnTick == 0 {
			crossedOnTick = i + 1
		}
	}

	require.Equal(t, 10, crossedOnTick)
	require.True(t, short.Value.Equal(dec(104)))
	require.True(t, long.Value.Equal(dec(103)))
}

func TestBollingerBands(t *testing.T) {
	b := indicators.NewBollinger(3, dec(2))
	b.Observe(dec(10))
	b.Observe(dec(10))
	require.False(t, b.Ready())
	b.Observe(dec(10))
	require.True(t, b.Ready())
	require.True(t, b.Mid.Equal(dec(10)))
	require.True(t, b.Upper.Equal(dec(10)))
	require.True(t, b.Lower.Equal(dec(10)))
}

func TestVWAPResetsByCount(t *testing.T) {
	v := indicators.NewVWAP(2)
	v.Observe(dec(10), dec(1))
	v.Observe(dec(20), dec(1))
	require.True(t, v.Value.Equal(dec(15)))
	// Third observation triggers a reset before folding in.
	v.Observe(dec(100), dec(1))
	require.True(t, v.Value.Equal(dec(100)))
}

func TestDonchianChannel(t *testing.T) {
	d := indicators.NewDonchian(3, 2)
	for _, p := range []float64{10, 12, 8} {
		d.Observe(dec(p))
	}
	require.True(t, d.Ready())
	require.True(t, d.EntryHigh.Equal(dec(12)))
	require.True(t, d.EntryLow.Equal(dec(8)))
}

func TestADXWarmupAndDirection(t *testing.T) {
	a := indicators.NewADX(3)
	prices := []float64{100, 101, 102, 103, 104, 105, 106, 107}
	for _, p := range prices {
		a.Observe(dec(p))
	}
	require.True(t, a.Ready())
	require.True(t, a.PlusDI.GreaterThan(a.MinusDI), "uptrend should have +DI > -DI")
}
