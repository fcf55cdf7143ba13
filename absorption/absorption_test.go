package absorption

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ksiaz/liquidation-trading-sub004/config"
)

func TestEvaluateWithNoTradesYieldsPhaseNone(t *testing.T) {
	tr, err := NewTracker(config.DefaultAbsorptionConfig())
	require.NoError(t, err)

	obs := tr.Evaluate("BTC", time.Unix(1_700_000_000, 0))
	require.Equal(t, PhaseNone, obs.Phase)
	require.Equal(t, 0, obs.SignalCount)
}

func TestPercentileOfBelowMinHistoryReturnsNeutral(t *testing.T) {
	got := percentileOf([]float64{1, 2}, 1.5, 5, 50)
	require.Equal(t, 50.0, got)
}

func TestPercentileOfWithSufficientHistory(t *testing.T) {
	history := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	got := percentileOf(history, 8, 5, 50)
	require.InDelta(t, 80.0, got, 1e-9)
}

func TestReplenishmentSignalFiresAboveThreshold(t *testing.T) {
	tr, err := NewTracker(config.DefaultAbsorptionConfig())
	require.NoError(t, err)

	t0 := time.Unix(1_700_000_000, 0)
	tr.RecordAbsorption("BTC", AbsorptionEvent{Timestamp: t0, ConsumedSize: 100, PriceMovePct: 0.01})
	tr.RecordRefill("BTC", RefillEvent{Timestamp: t0.Add(time.Second), AddedSize: 40})

	cs := tr.state("BTC")
	ratio, signal := tr.replenishmentSignal(cs, t0.Add(-30*time.Second), t0.Add(time.Minute))
	require.InDelta(t, 0.40, ratio, 1e-9)
	require.True(t, signal)
}

func TestConfirmedFalseWithNoRecordedData(t *testing.T) {
	tr, err := NewTracker(config.DefaultAbsorptionConfig())
	require.NoError(t, err)

	// No data recorded for this coin at all: Confirmed must be false, not panic.
	require.False(t, tr.Confirmed("ETH"))
}

func TestRecordTradeTrimsOutsideLookback(t *testing.T) {
	cfg := config.DefaultAbsorptionConfig()
	tr, err := NewTracker(cfg)
	require.NoError(t, err)

	t0 := time.Unix(1_700_000_000, 0)
	tr.RecordTrade("BTC", Trade{Timestamp: t0, Price: 100, Volume: 1, IsSell: false})
	tr.RecordTrade("BTC", Trade{Timestamp: t0.Add(cfg.Lookback + time.Second), Price: 101, Volume: 1, IsSell: false})

	cs := tr.state("BTC")
	require.Len(t, cs.trades, 1, "the first trade should have aged out of the lookback window")
}

func TestAggressorFailureSignalRequiresSellTrades(t *testing.T) {
	tr, err := NewTracker(config.DefaultAbsorptionConfig())
	require.NoError(t, err)

	regime := RegimeContext{ATRProxy: 1, Window: 5 * time.Second}
	signal := tr.aggressorFailureSignal(nil, regime, 100)
	require.False(t, signal, "no sell trades in the window means the signal cannot fire")
}
