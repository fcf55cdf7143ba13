package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ksiaz/liquidation-trading-sub004/config"
)

func newTestTracker(t *testing.T) *DrawdownTracker {
	t.Helper()
	tracker, err := NewDrawdownTracker(config.DefaultRiskConfig(), decimal.NewFromInt(10000))
	require.NoError(t, err)
	return tracker
}

func TestConsecutiveLossHaltPersistsThroughResetDailyUntilAWin(t *testing.T) {
	tracker := newTestTracker(t)

	for i := 0; i < 10; i++ {
		tracker.RecordTrade(decimal.NewFromInt(-50))
	}
	require.Equal(t, StateDailyCooldown, tracker.State())
	require.Equal(t, ReasonConsecutiveLosses, tracker.Reason())

	tracker.ResetDaily()
	require.Equal(t, StateDailyCooldown, tracker.State(), "consecutive-loss cooldowns are not cleared by the calendar")

	tracker.RecordTrade(decimal.NewFromInt(100))
	require.Equal(t, StateNormal, tracker.State())
	require.Equal(t, ReasonNone, tracker.Reason())
}

func TestResetDailyOnNormalTrackerIsANoOp(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.ResetDaily()
	require.Equal(t, StateNormal, tracker.State())
}

func TestResetWeeklyAlwaysExitsWeeklyCooldown(t *testing.T) {
	tracker := newTestTracker(t)

	// Three small daily losses, each rebased by reset_daily so no single day
	// ever crosses the 3% daily-cooldown threshold, while the weekly anchor
	// accumulates toward the 7% weekly-cooldown threshold.
	tracker.RecordTrade(decimal.NewFromInt(-250))
	tracker.ResetDaily()
	tracker.RecordTrade(decimal.NewFromInt(-250))
	tracker.ResetDaily()
	tracker.RecordTrade(decimal.NewFromInt(-250))
	require.Equal(t, StateWeeklyCooldown, tracker.State())

	tracker.ResetWeekly()
	require.Equal(t, StateNormal, tracker.State())
}

func TestReducedRiskExitsAfterRecoveryWins(t *testing.T) {
	tracker := newTestTracker(t)
	for i := 0; i < 5; i++ {
		tracker.RecordTrade(decimal.NewFromInt(-1)) // tiny losses, just to build the streak without tripping loss-pct cooldowns
	}
	require.Equal(t, StateReducedRisk, tracker.State())
	require.Equal(t, decimal.NewFromFloat(0.5), tracker.SizeMultiplier())

	tracker.RecordTrade(decimal.NewFromInt(1))
	require.Equal(t, StateReducedRisk, tracker.State(), "one win is below the default recovery_wins_required of 2")

	tracker.RecordTrade(decimal.NewFromInt(1))
	require.Equal(t, StateNormal, tracker.State())
}

func TestMaximumDrawdownTakesPrecedenceAndRecoversBelowThreshold(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.RecordTrade(decimal.NewFromInt(-2600)) // 26% drawdown from peak > 25%
	require.Equal(t, StateMaximumDrawdown, tracker.State())

	tracker.RecordTrade(decimal.NewFromInt(1200)) // capital back to 8600, drawdown 14% < 15% recovery threshold
	require.Equal(t, StateNormal, tracker.State())
}

func TestAllowedIsFalseInDailyCooldown(t *testing.T) {
	tracker := newTestTracker(t)
	require.True(t, tracker.Allowed())

	for i := 0; i < 10; i++ {
		tracker.RecordTrade(decimal.NewFromInt(-50))
	}
	require.False(t, tracker.Allowed())
}

func TestForceResetClearsCooldownForAdministrativeOverride(t *testing.T) {
	tracker := newTestTracker(t)
	for i := 0; i < 10; i++ {
		tracker.RecordTrade(decimal.NewFromInt(-50))
	}
	require.False(t, tracker.Allowed())

	tracker.ForceReset("ops")
	require.True(t, tracker.Allowed())
	require.Equal(t, StateNormal, tracker.State())
}
