package poller

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ksiaz/liquidation-trading-sub004/exchange"
	"github.com/ksiaz/liquidation-trading-sub004/rawstore"
)

// RunDiscoveryCycle scans recent trades on each configured coin for
// notional at or above the discovery threshold and writes one trade-sourced
// wallet discovery record per qualifying trade (§4.B Discovery scanning).
//
// The adapter surface here (RecentTrades) carries no wallet address, so
// each record is written under a placeholder identity from
// discoveryPlaceholderWallet. No wallet is added to the polling set: the
// records are not enqueued at tier 3 or at any other tier.
func (p *Poller) RunDiscoveryCycle(ctx context.Context) (int, error) {
	cycleID, err := p.store.OpenPollCycle(rawstore.ScopeDiscovery, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("poller: discovery cycle: %w", err)
	}

	discovered := 0
	since := time.Now().Add(-p.cfg.DiscoveryInterval).UnixNano()

	for _, coin := range p.cfg.DiscoveryCoins {
		if err := p.budget.Acquire(ctx); err != nil {
			return discovered, p.store.ClosePollCycle(rawstore.PollCycle{ID: cycleID})
		}

		trades, err := p.adapter.RecentTrades(ctx, coin, since)
		if err != nil {
			log.Warnf("discovery: recent trades for %s: %v", coin, err)
			continue
		}

		for _, t := range trades {
			notional := t.Price * t.Volume
			if notional < p.cfg.DiscoveryMinNotionalUSD {
				continue
			}
			if err := p.store.WriteWalletDiscovery(rawstore.WalletDiscoveryRecord{
				ID: uuid.NewString(), Wallet: discoveryPlaceholderWallet(coin, t), DiscoveryTS: time.Now().UnixNano(),
				SourceKind: rawstore.SourceTrade, SourceCoin: coin, SourceValue: strconv.FormatFloat(notional, 'f', -1, 64),
			}); err != nil {
				return discovered, fmt.Errorf("poller: discovery cycle: %w", err)
			}
			discovered++
		}
	}

	return discovered, p.store.ClosePollCycle(rawstore.PollCycle{ID: cycleID, WalletsPolled: discovered})
}

// discoveryPlaceholderWallet derives a placeholder identity for a
// trade-tape entry that carries no wallet address: the coin plus the
// trade's Timestamp divided by time.Minute. Records are not deduplicated,
// so trades sharing a placeholder still each produce their own row. Venues
// whose adapters resolve a real counterparty wallet should populate it on
// the Trade/UserEvent path instead (via SubscribeUserEvents), which takes
// priority over discovery scanning per §4.B.
func discoveryPlaceholderWallet(coin string, t exchange.Trade) string {
	return fmt.Sprintf("anon:%s:%d", coin, t.Timestamp/int64(time.Minute))
}

func (p *Poller) runDiscoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.DiscoveryInterval)
	defer ticker.Stop()

	if _, err := p.RunDiscoveryCycle(ctx); err != nil {
		log.Errorf("discovery cycle failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunDiscoveryCycle(ctx); err != nil {
				log.Errorf("discovery cycle failed: %v", err)
			}
		}
	}
}
