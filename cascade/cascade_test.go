package cascade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ksiaz/liquidation-trading-sub004/config"
)

type fakeConfirmer struct{ confirmed bool }

func (f fakeConfirmer) Confirmed(coin string) bool { return f.confirmed }

func TestTrackerStateMachineProgressesThroughAccelerationToDecelerating(t *testing.T) {
	cfg := config.DefaultCascadeConfig()
	tr, err := NewTracker("BTC", cfg, fakeConfirmer{confirmed: true})
	require.NoError(t, err)

	t0 := time.Unix(1_700_000_000, 0)

	obs := tr.Process(Event{Timestamp: t0, OIChangePct: -1.0})
	require.Equal(t, PhaseAccelerating, obs.Phase)
	require.InDelta(t, -0.2, obs.Rate5s, 1e-9)
	require.InDelta(t, -0.04, obs.Acceleration, 1e-9)

	obs = tr.Process(Event{Timestamp: t0.Add(200 * time.Millisecond), OIChangePct: 1.0}) // cumulative 0
	require.Equal(t, PhaseSteady, obs.Phase)
	require.InDelta(t, 0.0, obs.Rate5s, 1e-9)
	require.InDelta(t, 0.0, obs.Acceleration, 1e-9)

	obs = tr.Process(Event{Timestamp: t0.Add(300 * time.Millisecond), OIChangePct: 0.5}) // cumulative 0.5
	require.Equal(t, PhaseDeceleratingConfirmed, obs.Phase, "absorption confirmer attached and confirming")
	require.InDelta(t, 0.1, obs.Rate5s, 1e-9)
	require.InDelta(t, 0.02, obs.Acceleration, 1e-9)
}

func TestExhaustionRequiresAbsorptionConfirmationAndSilence(t *testing.T) {
	cfg := config.DefaultCascadeConfig()
	tr, err := NewTracker("BTC", cfg, fakeConfirmer{confirmed: true})
	require.NoError(t, err)

	t0 := time.Unix(1_700_000_000, 0)
	tr.Process(Event{Timestamp: t0, OIChangePct: -1.0})
	tr.Process(Event{Timestamp: t0.Add(200 * time.Millisecond), OIChangePct: 1.0})
	obs := tr.Process(Event{Timestamp: t0.Add(300 * time.Millisecond), OIChangePct: 0.5})
	require.Equal(t, PhaseDeceleratingConfirmed, obs.Phase)

	// Not enough silence yet.
	obs = tr.Process(Event{Timestamp: t0.Add(5 * time.Second), OIChangePct: 0})
	require.NotEqual(t, PhaseExhausted, obs.Phase)

	// Past the 10s silence window since the last OI-drop event (t0).
	obs = tr.Process(Event{Timestamp: t0.Add(11 * time.Second), OIChangePct: 0})
	require.Equal(t, PhaseExhausted, obs.Phase)
	require.False(t, obs.HasCascadeStart, "cascade state clears on entering exhausted")

	// EXHAUSTED -> IDLE on the very next event.
	obs = tr.Process(Event{Timestamp: t0.Add(12 * time.Second), OIChangePct: 0})
	require.Equal(t, PhaseIdle, obs.Phase)
}

func TestWithoutAbsorptionTrackerNeverReachesExhausted(t *testing.T) {
	cfg := config.DefaultCascadeConfig()
	tr, err := NewTracker("BTC", cfg, nil)
	require.NoError(t, err)

	t0 := time.Unix(1_700_000_000, 0)
	tr.Process(Event{Timestamp: t0, OIChangePct: -1.0})
	tr.Process(Event{Timestamp: t0.Add(200 * time.Millisecond), OIChangePct: 1.0})
	obs := tr.Process(Event{Timestamp: t0.Add(300 * time.Millisecond), OIChangePct: 0.5})
	require.Equal(t, PhaseDeceleratingUnconfirmed, obs.Phase)

	obs = tr.Process(Event{Timestamp: t0.Add(20 * time.Second), OIChangePct: 0})
	require.Equal(t, PhaseDeceleratingUnconfirmed, obs.Phase, "no confirmer: cascade can silently sit in decelerating_unconfirmed rather than be declared exhausted")
	require.NotEqual(t, PhaseExhausted, obs.Phase)
}

func TestLiquidationSignalWindowCounts(t *testing.T) {
	cfg := config.DefaultCascadeConfig()
	tr, err := NewTracker("ETH", cfg, nil)
	require.NoError(t, err)

	t0 := time.Unix(1_700_000_000, 0)
	tr.RecordLiquidationSignal(t0)
	tr.RecordLiquidationSignal(t0.Add(2 * time.Second))
	tr.RecordLiquidationSignal(t0.Add(20 * time.Second))

	obs := tr.Process(Event{Timestamp: t0.Add(21 * time.Second), OIChangePct: 0})
	require.Equal(t, 1, obs.LiqSignals5s, "only the 20s-mark signal is within 5s of t=21s")
	require.Equal(t, 3, obs.LiqSignals30s, "the t=0s, t=2s and t=20s signals are all within 30s of t=21s")
}

func TestOldEventsEvictedFromBuffer(t *testing.T) {
	cfg := config.DefaultCascadeConfig()
	tr, err := NewTracker("BTC", cfg, nil)
	require.NoError(t, err)

	t0 := time.Unix(1_700_000_000, 0)
	tr.Process(Event{Timestamp: t0, OIChangePct: -5.0})
	// A tick 61s later: the buffer window is 60s, so the drop event must
	// no longer contribute to any rate window.
	obs := tr.Process(Event{Timestamp: t0.Add(61 * time.Second), OIChangePct: 0})
	require.Equal(t, 0.0, obs.Rate1s)
	require.Equal(t, 0.0, obs.Rate5s)
	require.Equal(t, 0.0, obs.Rate30s)
}

func TestNewTrackerRejectsEmptyCoin(t *testing.T) {
	_, err := NewTracker("", config.DefaultCascadeConfig(), nil)
	require.Error(t, err)
}
