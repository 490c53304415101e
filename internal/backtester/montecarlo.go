package backtester

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantframe/streamalpha/pkg/types"
)

// MonteCarloSimulator bootstraps a completed run's per-trade P&L into
// resampled equity paths, answering how sensitive the result is to
// trade ordering: the distribution of terminal returns, the tail
// drawdown, and the probability of losing half the account.
type MonteCarloSimulator struct {
	logger *zap.Logger
	config types.MonteCarloConfig
	rng    *rand.Rand
}

// NewMonteCarloSimulator creates a simulator. rng may be nil, in which
// case resampling is time-seeded; pass a seeded source to make the
// simulation reproducible alongside a seeded matching engine.
func NewMonteCarloSimulator(logger *zap.Logger, config types.MonteCarloConfig, rng *rand.Rand) *MonteCarloSimulator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &MonteCarloSimulator{
		logger: logger.Named("montecarlo"),
		config: config,
		rng:    rng,
	}
}

// ruinFraction is the equity fraction below which a path counts as
// ruined.
const ruinFraction = 0.5

// Run resamples the trade sequence config.Iterations times and returns
// percentile statistics over the simulated paths. Trades carry their
// realized P&L in the PnL field the portfolio stamped when the trade was
// processed; initialCapital anchors each path's equity curve.
func (mc *MonteCarloSimulator) Run(trades []types.Trade, initialCapital decimal.Decimal) *types.MonteCarloResult {
	if len(trades) == 0 || initialCapital.Sign() <= 0 {
		return &types.MonteCarloResult{Iterations: 0}
	}

	capital, _ := initialCapital.Float64()
	pnls := make([]float64, len(trades))
	for i, trade := range trades {
		pnls[i], _ = trade.PnL.Float64()
	}

	iterations := mc.config.Iterations
	if iterations <= 0 {
		iterations = 1000
	}

	terminalReturns := make([]float64, iterations)
	maxDrawdowns := make([]float64, iterations)
	ruined := 0

	path := make([]float64, len(pnls))
	for i := 0; i < iterations; i++ {
		copy(path, pnls)
		mc.rng.Shuffle(len(path), func(a, b int) {
			path[a], path[b] = path[b], path[a]
		})

		ret, dd, isRuin := mc.walkPath(path, capital)
		terminalReturns[i] = ret
		maxDrawdowns[i] = dd
		if isRuin {
			ruined++
		}
	}

	sort.Float64s(terminalReturns)
	sort.Float64s(maxDrawdowns)

	result := &types.MonteCarloResult{
		Iterations:      iterations,
		MedianReturn:    decimal.NewFromFloat(percentileOf(terminalReturns, 50)),
		P5Return:        decimal.NewFromFloat(percentileOf(terminalReturns, 5)),
		P95Return:       decimal.NewFromFloat(percentileOf(terminalReturns, 95)),
		ProbabilityRuin: decimal.NewFromFloat(float64(ruined) / float64(iterations)),
		MaxDrawdownP95:  decimal.NewFromFloat(percentileOf(maxDrawdowns, 95)),
	}
	result.Distribution = make([]decimal.Decimal, len(terminalReturns))
	for i, r := range terminalReturns {
		result.Distribution[i] = decimal.NewFromFloat(r)
	}

	mc.logger.Info("monte carlo resampling complete",
		zap.Int("iterations", iterations),
		zap.String("medianReturn", result.MedianReturn.String()),
		zap.String("p5Return", result.P5Return.String()),
		zap.String("probabilityRuin", result.ProbabilityRuin.String()),
	)
	return result
}

// walkPath replays one shuffled P&L sequence against the starting
// capital, returning the terminal return fraction, the path's max
// drawdown, and whether equity ever fell below the ruin fraction.
func (mc *MonteCarloSimulator) walkPath(pnls []float64, capital float64) (terminalReturn, maxDrawdown float64, isRuin bool) {
	equity := capital
	peak := equity

	for _, pnl := range pnls {
		equity += pnl
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
		if equity <= capital*ruinFraction {
			return equity/capital - 1, maxDrawdown, true
		}
	}
	return equity/capital - 1, maxDrawdown, false
}

// percentileOf interpolates the p-th percentile of an ascending slice.
func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
