package labeler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ksiaz/liquidation-trading-sub004/config"
	"github.com/ksiaz/liquidation-trading-sub004/rawstore"
)

func newTestStore(t *testing.T) *rawstore.Store {
	t.Helper()
	store, err := rawstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLabelsCascadeWithWaveAndOutcome(t *testing.T) {
	store := newTestStore(t)

	const coin = "BTC"
	const nsPerSec = int64(1_000_000_000)

	_, err := store.WriteOISnapshot(coin, 0, "1000")
	require.NoError(t, err)
	_, err = store.WriteOISnapshot(coin, 5*nsPerSec, "900") // 10% drop within the 60s lookahead
	require.NoError(t, err)

	_, err = store.WriteLiquidationEvent(rawstore.LiquidationEvent{
		Wallet: "0xabc", Coin: coin, DetectionTS: 1 * nsPerSec, PrevSnapshotID: 0,
		LastSize: "1", LastEntryPrice: "100", LastLiquidationPrice: "99",
		LastLeverageKind: "cross", LastLeverageValue: "10", LastMarginUsed: "10",
		LastPositionValue: "100", LastUnrealizedPnL: "0",
	})
	require.NoError(t, err)
	_, err = store.WriteLiquidationEvent(rawstore.LiquidationEvent{
		Wallet: "0xdef", Coin: coin, DetectionTS: 3 * nsPerSec, PrevSnapshotID: 0,
		LastSize: "2", LastEntryPrice: "100", LastLiquidationPrice: "99",
		LastLeverageKind: "cross", LastLeverageValue: "10", LastMarginUsed: "10",
		LastPositionValue: "200", LastUnrealizedPnL: "0",
	})
	require.NoError(t, err)

	_, err = store.WriteMarkSnapshot(coin, 0, "100")
	require.NoError(t, err)
	_, err = store.WriteMarkSnapshot(coin, 5*nsPerSec, "95")
	require.NoError(t, err)
	_, err = store.WriteMarkSnapshot(coin, 5*nsPerSec+config.DefaultLabelerConfig().PostMoveWindow.Nanoseconds(), "90")
	require.NoError(t, err)

	lbl, err := New(store, config.DefaultLabelerConfig())
	require.NoError(t, err)

	labels, err := lbl.Run(coin, 0, 10*nsPerSec)
	require.NoError(t, err)
	require.Len(t, labels, 1)

	l := labels[0]
	require.Equal(t, int64(0), l.StartTS)
	require.Equal(t, 5*nsPerSec, l.EndTS)
	require.Equal(t, "10", l.OIDropPct)
	require.Equal(t, 2, l.LiquidationCount)
	require.Len(t, l.Waves, 1, "liquidations 2s apart are well within the 30s wave gap")
	require.Equal(t, 2, l.Waves[0].Count)
	require.Equal(t, OutcomeContinuation, l.Outcome, "price kept falling after the cascade end")

	persisted, err := store.LabeledCascadesForCoin(coin)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	require.Equal(t, "continuation", persisted[0].Outcome)
}

func TestRunSkipsCascadeWithTooFewLiquidations(t *testing.T) {
	store := newTestStore(t)
	const coin = "ETH"
	const nsPerSec = int64(1_000_000_000)

	_, err := store.WriteOISnapshot(coin, 0, "1000")
	require.NoError(t, err)
	_, err = store.WriteOISnapshot(coin, 5*nsPerSec, "800") // 20% drop, but...
	require.NoError(t, err)
	// ...only one liquidation in the window: below MinLiquidations (default 2).
	_, err = store.WriteLiquidationEvent(rawstore.LiquidationEvent{
		Wallet: "0xabc", Coin: coin, DetectionTS: 1 * nsPerSec,
		LastSize: "1", LastEntryPrice: "100", LastLiquidationPrice: "99",
		LastLeverageKind: "cross", LastLeverageValue: "10", LastMarginUsed: "10",
		LastPositionValue: "100", LastUnrealizedPnL: "0",
	})
	require.NoError(t, err)

	lbl, err := New(store, config.DefaultLabelerConfig())
	require.NoError(t, err)

	labels, err := lbl.Run(coin, 0, 10*nsPerSec)
	require.NoError(t, err)
	require.Empty(t, labels)
}

func TestClassifyOutcomeNeutralWhenPostMoveTiny(t *testing.T) {
	outcome := classifyOutcome("100", "95", "95.1", 0.5)
	require.Equal(t, OutcomeNeutral, outcome)
}

func TestClassifyOutcomeReversalWhenPostMoveOpposesCascade(t *testing.T) {
	outcome := classifyOutcome("100", "95", "99", 0.5)
	require.Equal(t, OutcomeReversal, outcome)
}

func TestClassifyOutcomeUnknownOnUnparsableMarks(t *testing.T) {
	outcome := classifyOutcome("", "95", "99", 0.5)
	require.Equal(t, OutcomeUnknown, outcome)
}
