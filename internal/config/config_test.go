package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantframe/streamalpha/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validConfig = `
mode: backtest
symbols: [BTC/USDT]
initial_cash: 50000
strategies:
  - name: sma_crossover
    position_size_usd: 1000
    params:
      short_window: 3
      long_window: 5
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	require.Equal(t, "backtest", cfg.Mode)
	require.Equal(t, []string{"BTC/USDT"}, cfg.Symbols)
	require.Len(t, cfg.Strategies, 1)

	// Defaults flow through.
	require.Equal(t, 60, cfg.Orders.MaxOrdersPerMinute)
	require.InDelta(t, 0.85, cfg.Matching.FillProbability, 1e-12)
}

func TestLoadRejectsBadProbabilities(t *testing.T) {
	_, err := config.Load(writeConfig(t, validConfig+`
matching:
  fill_probability: 0.5
  partial_fill_probability: 0.1
  cancel_probability: 0.1
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "sum to 1")
}

func TestLoadRejectsInvertedAllocationBand(t *testing.T) {
	_, err := config.Load(writeConfig(t, validConfig+`
meta:
  min_allocation: 0.5
  max_allocation: 0.4
`))
	require.Error(t, err)
}

func TestLoadRejectsMixedUniverseInLiveMode(t *testing.T) {
	_, err := config.Load(writeConfig(t, `
mode: live
symbols: [BTC/USDT, AAPL]
initial_cash: 50000
strategies:
  - name: rsi
`))
	require.Error(t, err)
}

func TestLoadAcceptsMixedUniverseInBacktestMode(t *testing.T) {
	_, err := config.Load(writeConfig(t, `
mode: backtest
symbols: [BTC/USDT, AAPL]
initial_cash: 50000
strategies:
  - name: rsi
`))
	require.NoError(t, err)
}

func TestComponentConfigTranslation(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	v := cfg.ValidationConfig()
	require.Equal(t, 60, v.MaxOrdersPerMinute)
	require.True(t, v.MaxPositionSize.IsPositive())

	m := cfg.MatchingEngineConfig()
	sum := m.FillProbability.Add(m.PartialFillProbability).Add(m.CancelProbability)
	require.True(t, sum.Equal(sum.Round(2)), "probabilities should translate exactly")

	s := cfg.StopLossConfig()
	require.True(t, s.EnableCircuitBreaker)
}
