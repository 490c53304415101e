package strategy

import (
	"time"

	"github.com/quantframe/streamalpha/pkg/types"
	"github.com/shopspring/decimal"
)

// OpeningRangeBreakout trades breakouts from the high/low range established
// in the first rangeMinutes of each trading day: long above the range high
// plus a buffer, stopped out below the range low minus a buffer, and
// force-liquidated at exitTime. A day's range is skipped entirely if it is
// too tight or too wide relative to minRangePct/maxRangePct. A
// once-a-day tradedToday latch allows at most one entry per session, and
// the end-of-day flat-out is unconditional.
type OpeningRangeBreakout struct {
	cfg            Config
	rangeMinutes   int
	breakoutBuffer decimal.Decimal
	minRangePct    decimal.Decimal
	maxRangePct    decimal.Decimal
	exitHour       int
	exitMinute     int

	state map[string]*orbDayState
}

type orbDayState struct {
	currentDate      time.Time
	rangeStart       time.Time
	haveRangeStart   bool
	rangeHigh        decimal.Decimal
	rangeLow         decimal.Decimal
	haveRange        bool
	rangeEstablished bool
	tradedToday      bool
}

// NewOpeningRangeBreakout creates an ORB evaluator. Exit time defaults
// to 15:45, the usual US-equities end-of-day liquidation slot.
func NewOpeningRangeBreakout(cfg Config, rangeMinutes int, breakoutBuffer, minMaxRangePct decimal.Decimal) *OpeningRangeBreakout {
	return &OpeningRangeBreakout{
		cfg:            cfg,
		rangeMinutes:   rangeMinutes,
		breakoutBuffer: breakoutBuffer,
		minRangePct:    decimal.NewFromFloat(0.003),
		maxRangePct:    minMaxRangePct,
		exitHour:       15,
		exitMinute:     45,
		state:          make(map[string]*orbDayState),
	}
}

func (o *OpeningRangeBreakout) Name() string { return "opening_range_breakout" }

func isMarketOpen(t time.Time) bool {
	h, m, _ := t.Clock()
	minutes := h*60 + m
	return minutes >= 9*60+30 && minutes <= 16*60
}

func (o *OpeningRangeBreakout) dayStateFor(symbol string, tickTime time.Time) *orbDayState {
	st, ok := o.state[symbol]
	tickDate := tickTime.Truncate(24 * time.Hour)
	if !ok {
		st = &orbDayState{currentDate: tickDate}
		o.state[symbol] = st
		return st
	}
	if !st.currentDate.Equal(tickDate) {
		*st = orbDayState{currentDate: tickDate}
	}
	return st
}

func (o *OpeningRangeBreakout) OnTick(tick types.Tick, snapshot PortfolioSnapshot) []types.Order {
	st := o.dayStateFor(tick.Symbol, tick.Timestamp)

	if !isMarketOpen(tick.Timestamp) {
		return nil
	}

	qty := snapshot.PositionQty(tick.Symbol)

	h, m, _ := tick.Timestamp.Clock()
	if (h > o.exitHour || (h == o.exitHour && m >= o.exitMinute)) && !qty.IsZero() {
		side := types.OrderSideSell
		if qty.IsNegative() {
			side = types.OrderSideBuy
		}
		return []types.Order{marketOrder(tick.Symbol, side, qty.Abs())}
	}

	if !st.rangeEstablished {
		if !st.haveRangeStart {
			st.rangeStart = tick.Timestamp
			st.haveRangeStart = true
		}
		elapsed := tick.Timestamp.Sub(st.rangeStart).Minutes()
		if elapsed < float64(o.rangeMinutes) {
			if !st.haveRange {
				st.rangeHigh, st.rangeLow = tick.Price, tick.Price
				st.haveRange = true
			} else {
				if tick.Price.GreaterThan(st.rangeHigh) {
					st.rangeHigh = tick.Price
				}
				if tick.Price.LessThan(st.rangeLow) {
					st.rangeLow = tick.Price
				}
			}
			return nil
		}

		st.rangeEstablished = true
		if st.haveRange {
			rangeSize := st.rangeHigh.Sub(st.rangeLow).Div(st.rangeLow)
			if rangeSize.LessThan(o.minRangePct) || rangeSize.GreaterThan(o.maxRangePct) {
				st.tradedToday = true
			}
		}
	}

	if !st.rangeEstablished || st.tradedToday || !st.haveRange {
		return nil
	}

	breakoutHigh := st.rangeHigh.Mul(decimal.NewFromInt(1).Add(o.breakoutBuffer))
	breakoutLow := st.rangeLow.Mul(decimal.NewFromInt(1).Sub(o.breakoutBuffer))

	switch {
	case qty.IsZero() && tick.Price.GreaterThan(breakoutHigh):
		orderQty := sizeOrder(o.cfg, tick.Price)
		if orderQty.IsPositive() {
			st.tradedToday = true
			return []types.Order{marketOrder(tick.Symbol, types.OrderSideBuy, orderQty)}
		}
	case qty.IsPositive() && tick.Price.LessThan(breakoutLow):
		return []types.Order{marketOrder(tick.Symbol, types.OrderSideSell, qty)}
	}
	return nil
}

func (o *OpeningRangeBreakout) WarmupDone(symbol string) bool {
	st, ok := o.state[symbol]
	return ok && st.rangeEstablished
}

func (o *OpeningRangeBreakout) Reset() { o.state = make(map[string]*orbDayState) }
