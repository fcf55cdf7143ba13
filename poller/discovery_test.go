package poller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ksiaz/liquidation-trading-sub004/exchange"
)

func TestRunDiscoveryCycleRecordsTradesAboveNotionalThreshold(t *testing.T) {
	store := newTestStore(t)
	adapter := newFakeAdapter()
	cfg := testPollerCfg()
	cfg.DiscoveryCoins = []string{"BTC"}
	cfg.DiscoveryMinNotionalUSD = 50_000
	cfg.DiscoveryInterval = time.Minute

	p, err := New(cfg, adapter, store)
	require.NoError(t, err)

	now := time.Now().UnixNano()
	adapter.trades["BTC"] = []exchange.Trade{
		{Timestamp: now, Price: 50_000, Volume: 2, IsSell: false},  // $100k, above threshold
		{Timestamp: now, Price: 50_000, Volume: 0.1, IsSell: true}, // $5k, below threshold
	}

	discovered, err := p.RunDiscoveryCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, discovered)
}

func TestRunDiscoveryCycleIgnoresUnknownCoinErrors(t *testing.T) {
	store := newTestStore(t)
	adapter := newFakeAdapter()
	cfg := testPollerCfg()
	cfg.DiscoveryCoins = []string{"DOGE"}

	p, err := New(cfg, adapter, store)
	require.NoError(t, err)

	discovered, err := p.RunDiscoveryCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, discovered)
}
