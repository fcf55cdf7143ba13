package rawstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPollCycleLifecycle(t *testing.T) {
	s := newTestStore(t)
	id1, err := s.OpenPollCycle(ScopeTier1, 1000)
	require.NoError(t, err)
	id2, err := s.OpenPollCycle(ScopeTier1, 2000)
	require.NoError(t, err)
	require.Greater(t, id2, id1, "poll cycle ids must be strictly increasing")

	err = s.ClosePollCycle(PollCycle{ID: id1, EndTS: 1500, WalletsPolled: 3, PositionsFound: 2})
	require.NoError(t, err)
}

func TestPositionSnapshotAppendOnlyAndByteIdentical(t *testing.T) {
	s := newTestStore(t)
	cycleID, err := s.OpenPollCycle(ScopeTier1, 0)
	require.NoError(t, err)

	snap := PositionSnapshot{
		CycleID: cycleID, Wallet: "0xABCDEF0000000000000000000000000000000001",
		Coin: "BTC", Timestamp: 1700000000000000000,
		Size: "1.23456789012345", EntryPrice: "65000.5", LiquidationPrice: "60000.1",
		LeverageKind: "isolated", LeverageValue: "10", MarginUsed: "6500.05",
		PositionValue: "80130.1234", UnrealizedPnL: "-12.34",
	}
	id1, err := s.WritePositionSnapshot(snap)
	require.NoError(t, err)
	id2, err := s.WritePositionSnapshot(snap) // duplicate payload
	require.NoError(t, err)
	require.NotEqual(t, id1, id2, "duplicate payloads must produce distinct rows")
	require.Greater(t, id2, id1)

	hist, err := s.PositionHistory("0xabcdef0000000000000000000000000000000001", "BTC", 0, 1<<62)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, snap.Size, hist[0].Size, "numeric string fields must round-trip byte-identical")
	require.Equal(t, snap.UnrealizedPnL, hist[0].UnrealizedPnL)
	require.Equal(t, "0xabcdef0000000000000000000000000000000001", hist[0].Wallet, "wallet must be normalized to lowercase")
}

func TestPositionHistoryEmptyReturnsEmptySliceNotNil(t *testing.T) {
	s := newTestStore(t)
	hist, err := s.PositionHistory("0xdead", "ETH", 0, 100)
	require.NoError(t, err)
	require.NotNil(t, hist)
	require.Len(t, hist, 0)
}

func TestLiquidationEventReferencesExistingSnapshot(t *testing.T) {
	s := newTestStore(t)
	cycleID, err := s.OpenPollCycle(ScopeTier2, 0)
	require.NoError(t, err)
	snapID, err := s.WritePositionSnapshot(PositionSnapshot{
		CycleID: cycleID, Wallet: "0xAAA", Coin: "ETH", Timestamp: 1,
		Size: "5", EntryPrice: "3000", LiquidationPrice: "2800",
		LeverageKind: "cross", LeverageValue: "5", MarginUsed: "3000",
		PositionValue: "15000", UnrealizedPnL: "0",
	})
	require.NoError(t, err)

	evtID, err := s.WriteLiquidationEvent(LiquidationEvent{
		Wallet: "0xAAA", Coin: "ETH", DetectionTS: 2, PrevSnapshotID: snapID,
		LastSize: "5", LastEntryPrice: "3000", LastLiquidationPrice: "2800",
		LastLeverageKind: "cross", LastLeverageValue: "5", LastMarginUsed: "3000",
		LastPositionValue: "15000", LastUnrealizedPnL: "0",
	})
	require.NoError(t, err)
	require.Greater(t, evtID, int64(0))

	events, err := s.LiquidationsInWindow(0, 10, "ETH")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, snapID, events[0].PrevSnapshotID)

	hist, err := s.PositionHistory("0xaaa", "ETH", 0, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, events[0].Wallet, hist[0].Wallet)
	require.Equal(t, events[0].Coin, hist[0].Coin)
}

func TestWalletPollingConfigTierSchedulingAndIdempotence(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertWalletPollingConfig(WalletPollingConfig{Wallet: "0xwal1", Tier: 3, NextPollTS: 100})
	require.NoError(t, err)
	err = s.UpsertWalletPollingConfig(WalletPollingConfig{Wallet: "0xwal1", Tier: 3, NextPollTS: 100})
	require.NoError(t, err) // idempotent upsert, no duplicate rows

	due, err := s.WalletsDueForPoll(3, 150)
	require.NoError(t, err)
	require.Len(t, due, 1)

	err = s.UpsertWalletPollingConfig(WalletPollingConfig{Wallet: "0xwal1", Tier: 2, NextPollTS: 200})
	require.NoError(t, err)

	cfg, ok, err := s.GetWalletPollingConfig("0xWAL1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, cfg.Tier)
	require.Equal(t, int64(200), cfg.NextPollTS)

	due, err = s.WalletsDueForPoll(3, 150)
	require.NoError(t, err)
	require.Len(t, due, 0, "wallet promoted out of tier 3 must no longer appear in tier 3 scheduling")
}

func TestNearestMarkWithinTolerance(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteMarkSnapshot("BTC", 1000, "65000.0")
	require.NoError(t, err)
	_, err = s.WriteMarkSnapshot("BTC", 1010, "65010.0")
	require.NoError(t, err)

	snap, ok, err := s.NearestMark("BTC", 1004, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "65000.0", snap.Value)

	_, ok, err = s.NearestMark("BTC", 2000, 5)
	require.NoError(t, err)
	require.False(t, ok)
}
