package thresholdstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveCreatesNewVersionInsteadOfOverwriting(t *testing.T) {
	store := newTestStore(t)

	id1, err := store.Save(Config{Name: "cascade.idle_rate_threshold", Value: 0.05, Method: MethodGrid, Status: StatusHypothesis})
	require.NoError(t, err)
	id2, err := store.Save(Config{Name: "cascade.idle_rate_threshold", Value: 0.06, Method: MethodGrid, Status: StatusValidated})
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	history, err := store.History("cascade.idle_rate_threshold", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 2, history[0].Version, "history is newest-first")
	require.Equal(t, 1, history[1].Version)
}

func TestActiveThresholdSkipsDeprecated(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save(Config{Name: "x", Value: 1, Status: StatusValidated})
	require.NoError(t, err)
	_, err = store.Save(Config{Name: "x", Value: 2, Status: StatusDeprecated})
	require.NoError(t, err)

	cfg, ok, err := store.ActiveThreshold("x", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1.0, cfg.Value, "the deprecated version must not be selected even though it is newer")
}

func TestActiveThresholdMissingReturnsNotOK(t *testing.T) {
	store := newTestStore(t)
	_, ok, err := store.ActiveThreshold("nonexistent", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDueForReview(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save(Config{Name: "a", Value: 1, Status: StatusActive, ReviewDate: 100})
	require.NoError(t, err)
	_, err = store.Save(Config{Name: "b", Value: 1, Status: StatusActive, ReviewDate: 1000})
	require.NoError(t, err)

	due, err := store.DueForReview(500)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "a", due[0].Name)
}

func TestExportImportRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save(Config{Name: "cascade.idle_rate_threshold", Value: 0.05, Method: MethodGrid, Status: StatusValidated, RegimeTag: "expansion"})
	require.NoError(t, err)
	_, err = store.Save(Config{Name: "absorption.ratio_percentile", Value: 70, Method: MethodDomain, Status: StatusActive})
	require.NoError(t, err)

	set, err := store.ExportSet("liqguard-default", []string{"cascade.idle_rate_threshold", "absorption.ratio_percentile"}, 12345)
	require.NoError(t, err)
	require.Len(t, set.Thresholds, 2)

	data, err := MarshalSet(set)
	require.NoError(t, err)

	roundTripped, err := UnmarshalSet(data)
	require.NoError(t, err)
	require.Equal(t, set.StrategyName, roundTripped.StrategyName)
	require.Equal(t, set.TimestampNS, roundTripped.TimestampNS)
	require.Equal(t, set.Thresholds["cascade.idle_rate_threshold"].Value, roundTripped.Thresholds["cascade.idle_rate_threshold"].Value)

	imported, err := newTestStore2(t)
	require.NoError(t, err)
	defer imported.Close()
	require.NoError(t, imported.ImportSet(roundTripped))
	cfg, ok, err := imported.ActiveThreshold("cascade.idle_rate_threshold", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0.05, cfg.Value)
}

func newTestStore2(t *testing.T) (*Store, error) {
	t.Helper()
	return Open(":memory:")
}
