package risk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBreakerManualResetRequiredBlocksAutoReset(t *testing.T) {
	b := NewBreaker(BreakerStrategyMalfunction, true)
	b.Trip("unexpected state transition")
	require.True(t, b.Tripped())

	err := b.Reset()
	require.Error(t, err)
	require.True(t, b.Tripped())

	b.ManualReset("ops")
	require.False(t, b.Tripped())
}

func TestBreakerTripIsIdempotent(t *testing.T) {
	b := NewBreaker(BreakerRapidLoss, false)
	b.Trip("reason one")
	b.Trip("reason two")
	require.True(t, b.Tripped())
	require.NoError(t, b.Reset())
	require.False(t, b.Tripped())
}

func TestDegradationManagerEscalatesAndRespectsDwellTime(t *testing.T) {
	m := NewDegradationManager(2)
	require.Equal(t, DegradationNormal, m.Level())

	m.RapidLoss().Trip("fast drawdown")
	require.Equal(t, DegradationNormal, m.Evaluate(), "dwell time of 2 not yet satisfied")
	require.Equal(t, DegradationReduced, m.Evaluate())
}

func TestDegradationManagerShutdownRequiresBothMalfunctionBreakers(t *testing.T) {
	m := NewDegradationManager(1)
	m.StrategyMalfunction().Trip("repeated invalid orders")
	require.Equal(t, DegradationEmergency, m.Evaluate())

	m.ResourceExhaustion().Trip("queue overflow")
	require.Equal(t, DegradationShutdown, m.Evaluate())
}

func TestDegradationManagerShutdownRequiresManualReset(t *testing.T) {
	m := NewDegradationManager(1)
	m.StrategyMalfunction().Trip("x")
	m.ResourceExhaustion().Trip("y")
	m.Evaluate()
	require.Equal(t, DegradationShutdown, m.Level())

	m.StrategyMalfunction().ManualReset("ops")
	m.ResourceExhaustion().ManualReset("ops")
	require.Equal(t, DegradationShutdown, m.Evaluate(), "SHUTDOWN requires its own manual-reset gate, not just clearing the breakers")

	m.ManualResetShutdown("ops")
	require.Equal(t, DegradationNormal, m.Evaluate())
}
