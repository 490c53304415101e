package data

import (
	"github.com/quantframe/streamalpha/pkg/types"
)

// TicksFromBars flattens OHLCV bars into a close-price tick stream, one
// tick per bar, so recorded bar history can drive the tick pipeline when
// no raw tick data exists for a symbol.
func TicksFromBars(symbol string, bars []*types.OHLCV) []types.Tick {
	ticks := make([]types.Tick, 0, len(bars))
	for _, bar := range bars {
		if bar == nil || bar.Close.Sign() <= 0 {
			continue
		}
		ticks = append(ticks, types.Tick{
			Symbol:    symbol,
			Timestamp: bar.Timestamp,
			Price:     bar.Close,
			Size:      bar.Volume,
		})
	}
	return ticks
}
