package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ksiaz/liquidation-trading-sub004/config"
)

func TestGridSearchSelectsMaxScoreAboveMinTrades(t *testing.T) {
	cfg := config.DefaultDiscoveryConfig()
	cfg.MinTrades = 10

	eval := func(v float64) Candidate {
		switch v {
		case 1.0:
			return Candidate{Value: v, Trades: 5, Wins: 5, Losses: 0, Sharpe: 2} // filtered out: below min trades
		case 2.0:
			return Candidate{Value: v, Trades: 50, Wins: 30, Losses: 20, Sharpe: 1.5}
		default:
			return Candidate{Value: v, Trades: 50, Wins: 25, Losses: 25, Sharpe: 1.0}
		}
	}

	result, err := GridSearch(cfg, 1.0, 3.0, 1.0, eval)
	require.NoError(t, err)
	require.Equal(t, 2.0, result.Best.Value)
	require.Contains(t, result.SensitivityMap, 2.0)
}

func TestGridSearchFallsBackToUnfilteredWhenAllBelowMinTrades(t *testing.T) {
	cfg := config.DefaultDiscoveryConfig()
	cfg.MinTrades = 1000

	eval := func(v float64) Candidate {
		return Candidate{Value: v, Trades: 10, Wins: 6, Losses: 4, Sharpe: 1.0}
	}

	result, err := GridSearch(cfg, 1.0, 2.0, 1.0, eval)
	require.NoError(t, err)
	require.NotZero(t, result.Best.Trades, "fallback to the unfiltered set must still produce a usable best candidate")
}

func TestSelectByROCMaximizesYoudenJ(t *testing.T) {
	eval := func(th float64) (float64, float64) {
		if th == 0.5 {
			return 0.9, 0.2 // J = 0.7
		}
		return 0.6, 0.5 // J = 0.1
	}
	result, err := SelectByROC([]float64{0.3, 0.5, 0.7}, eval)
	require.NoError(t, err)
	require.Equal(t, 0.5, result.Threshold)
	require.InDelta(t, 0.7, result.YoudenJ, 1e-9)
}

func TestAnalyzeSensitivityRobustWithinTolerance(t *testing.T) {
	cfg := config.DefaultDiscoveryConfig()
	sensitivityMap := map[float64]float64{
		90:  0.92,
		95:  0.95,
		100: 1.0,
		105: 0.96,
		110: 0.93,
	}
	verdict := AnalyzeSensitivity(cfg, 100, sensitivityMap)
	require.True(t, verdict.Robust)
}

func TestAnalyzeSensitivityMissingOptimum(t *testing.T) {
	cfg := config.DefaultDiscoveryConfig()
	verdict := AnalyzeSensitivity(cfg, 100, map[float64]float64{50: 1.0})
	require.False(t, verdict.Robust)
	require.Equal(t, "missing_optimum", verdict.Reason)
}

func TestValidateOutOfSampleZeroInSampleSharpe(t *testing.T) {
	cfg := config.DefaultDiscoveryConfig()
	verdict := ValidateOutOfSample(cfg, Candidate{Sharpe: 0}, Candidate{Sharpe: 0.1})
	require.True(t, verdict.Robust)

	verdict = ValidateOutOfSample(cfg, Candidate{Sharpe: 0}, Candidate{Sharpe: -0.1})
	require.False(t, verdict.Robust)
}

func TestWalkForwardSkipsWhenInsufficientDays(t *testing.T) {
	cfg := config.DefaultDiscoveryConfig()
	cfg.WalkForwardWindowDays = 30
	cfg.WalkForwardStepDays = 7

	windows := WalkForward(cfg, 10, func(a, b int) Candidate { return Candidate{} }, func(a, b int) Candidate { return Candidate{} })
	require.Empty(t, windows)
}

func TestWalkForwardProducesWindows(t *testing.T) {
	cfg := config.DefaultDiscoveryConfig()
	cfg.WalkForwardWindowDays = 10
	cfg.WalkForwardStepDays = 5

	windows := WalkForward(cfg, 25, func(a, b int) Candidate { return Candidate{Trades: b - a} }, func(a, b int) Candidate { return Candidate{Trades: b - a} })
	require.NotEmpty(t, windows)
	require.Equal(t, 0, windows[0].WindowStartDay)
	require.Equal(t, 10, windows[0].WindowEndDay)
	require.Equal(t, 15, windows[0].StepEndDay)
}
