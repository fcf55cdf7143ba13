// Package poller implements the tiered wallet poller (spec component B):
// a working set of wallets partitioned into three tiers by observed
// position value, polled on independent schedules subject to a shared
// per-minute request budget, with liquidation detection by diffing
// consecutive position snapshots.
//
// Grounded on SynapseStrike/trader/auto_trader.go's Run loop: a
// ticker+select run loop per cadence, immediate first execution, and
// time.Sleep-based pacing, generalized here into one run loop per tier plus
// a shared rate budget rather than the teacher's single fixed interval.
package poller

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ksiaz/liquidation-trading-sub004/config"
	"github.com/ksiaz/liquidation-trading-sub004/exchange"
	"github.com/ksiaz/liquidation-trading-sub004/logx"
	"github.com/ksiaz/liquidation-trading-sub004/metrics"
	"github.com/ksiaz/liquidation-trading-sub004/rawstore"
)

var log = logx.Named("poller")

// CycleStats summarizes one drained batch of wallet polls, closed even if
// the cycle was interrupted mid-flight (§5 Cancellation: no partial
// snapshot is persisted, but already-written snapshots remain valid).
type CycleStats struct {
	Polled     int
	Errored    int
	Promoted   int
	Demoted    int
	Liquidated int
}

// Poller owns the shared request budget and the exchange adapter; the
// working set of wallets itself lives in the raw store's
// wallet_polling_config table, which doubles as the persistent
// priority queue (WalletsDueForPoll orders by next_poll_ts).
type Poller struct {
	cfg     config.PollerConfig
	adapter exchange.Adapter
	store   *rawstore.Store
	budget  *requestBudget

	mu           sync.Mutex
	lastCoinKeys map[string]map[string]struct{} // wallet -> set of open coins, for liquidation diffing
}

// New constructs a Poller. The adapter and store are owned by the caller
// and must outlive the Poller.
func New(cfg config.PollerConfig, adapter exchange.Adapter, store *rawstore.Store) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("poller: new: %w", err)
	}
	return &Poller{
		cfg:          cfg,
		adapter:      adapter,
		store:        store,
		budget:       newRequestBudget(cfg.RequestBudgetPerMinute),
		lastCoinKeys: make(map[string]map[string]struct{}),
	}, nil
}

// tierForValue maps an observed total position value to its tier (§4.B
// Tiering policy). Every value below Tier2MinValueUSD maps to tier 3,
// including values below Tier3MinValueUSD: no code in this package drops a
// wallet from the polling set for falling under that minimum.
func tierForValue(cfg config.PollerConfig, value float64) int {
	switch {
	case value >= cfg.Tier1MinValueUSD:
		return 1
	case value >= cfg.Tier2MinValueUSD:
		return 2
	default:
		return 3
	}
}

func intervalForTier(cfg config.PollerConfig, tier int) time.Duration {
	switch tier {
	case 1:
		return cfg.Tier1Interval
	case 2:
		return cfg.Tier2Interval
	default:
		return cfg.Tier3Interval
	}
}

// AddWallet enqueues a wallet at the given initial tier if it is not
// already tracked. Idempotent: a second call for an already-tracked wallet
// leaves its tier and schedule unchanged (§8 Idempotence (i)).
func (p *Poller) AddWallet(wallet string, tier int) error {
	_, ok, err := p.store.GetWalletPollingConfig(wallet)
	if err != nil {
		return fmt.Errorf("poller: add wallet: %w", err)
	}
	if ok {
		return nil
	}
	return p.store.UpsertWalletPollingConfig(rawstore.WalletPollingConfig{
		Wallet:     wallet,
		Tier:       tier,
		NextPollTS: time.Now().UnixNano(),
	})
}

// PollOneWallet polls a single wallet, writes its raw snapshots, detects
// liquidations by diffing coin keys, and re-evaluates its tier (§4.B
// Promotion is immediate on the poll cycle that observes a higher tier).
func (p *Poller) PollOneWallet(ctx context.Context, cfg rawstore.WalletPollingConfig, cycleID int64) error {
	summary, positions, err := p.adapter.ClearinghouseState(ctx, cfg.Wallet)
	if err != nil {
		return p.handlePollError(cfg, err)
	}

	totalValue := 0.0
	currentKeys := make(map[string]struct{}, len(positions))

	for _, pos := range positions {
		snap := rawstore.PositionSnapshot{
			CycleID: cycleID, Wallet: cfg.Wallet, Coin: pos.Coin, Timestamp: summary.Timestamp,
			Size: pos.Size, EntryPrice: pos.EntryPrice, LiquidationPrice: pos.LiquidationPrice,
			LeverageKind: pos.LeverageKind, LeverageValue: pos.LeverageValue, MarginUsed: pos.MarginUsed,
			PositionValue: pos.PositionValue, UnrealizedPnL: pos.UnrealizedPnL,
		}
		if _, err := p.store.WritePositionSnapshot(snap); err != nil {
			return fmt.Errorf("poller: poll %s: %w", cfg.Wallet, err)
		}
		currentKeys[pos.Coin] = struct{}{}

		value, parseErr := parsePositionValue(pos.PositionValue)
		if parseErr == nil {
			totalValue += value
		}
	}

	if _, err := p.store.WriteWalletAccountSnapshot(rawstore.WalletAccountSnapshot{
		CycleID: cycleID, Wallet: cfg.Wallet, Timestamp: summary.Timestamp,
		AccountValue: summary.AccountValue, TotalMarginUsed: summary.TotalMarginUsed, Withdrawable: summary.Withdrawable,
	}); err != nil {
		return fmt.Errorf("poller: poll %s: %w", cfg.Wallet, err)
	}

	if err := p.detectLiquidations(cfg.Wallet, currentKeys); err != nil {
		return fmt.Errorf("poller: poll %s: %w", cfg.Wallet, err)
	}
	p.setCoinKeys(cfg.Wallet, currentKeys)

	return p.rescheduleAfterPoll(cfg, totalValue, len(positions) > 0)
}

// detectLiquidations diffs the wallet's previous coin-key set against the
// current one; every key present before but absent now produces exactly
// one liquidation event (§4.B Liquidation detection, the only source of
// truth for liquidations per §3).
func (p *Poller) detectLiquidations(wallet string, currentKeys map[string]struct{}) error {
	p.mu.Lock()
	previous := p.lastCoinKeys[wallet]
	p.mu.Unlock()

	for coin := range previous {
		if _, stillOpen := currentKeys[coin]; stillOpen {
			continue
		}
		history, err := p.store.PositionHistory(wallet, coin, 0, time.Now().UnixNano())
		if err != nil {
			return err
		}
		if len(history) == 0 {
			continue
		}
		last := history[len(history)-1]
		if _, err := p.store.WriteLiquidationEvent(rawstore.LiquidationEvent{
			Wallet: wallet, Coin: coin, DetectionTS: time.Now().UnixNano(), PrevSnapshotID: last.ID,
			LastSize: last.Size, LastEntryPrice: last.EntryPrice, LastLiquidationPrice: last.LiquidationPrice,
			LastLeverageKind: last.LeverageKind, LastLeverageValue: last.LeverageValue,
			LastMarginUsed: last.MarginUsed, LastPositionValue: last.PositionValue, LastUnrealizedPnL: last.UnrealizedPnL,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) setCoinKeys(wallet string, keys map[string]struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCoinKeys[wallet] = keys
}

// rescheduleAfterPoll recomputes the wallet's tier from its observed total
// value and writes the next poll timestamp at that tier's interval.
func (p *Poller) rescheduleAfterPoll(cfg rawstore.WalletPollingConfig, totalValue float64, hadPositions bool) error {
	// Promotion/demotion (a): reclassify by observed value on every cycle,
	// immediate in both directions (§4.B).
	newTier := cfg.Tier
	if hadPositions {
		newTier = tierForValue(p.cfg, totalValue)
	}

	emptyCount := cfg.ConsecutiveEmptyCount
	if hadPositions {
		emptyCount = 0
	} else {
		emptyCount++
		if emptyCount >= p.cfg.DemoteAfterEmpty && newTier < 3 {
			newTier = newTier + 1 // demotion (b): too many consecutive empty polls
		}
	}

	if newTier != cfg.Tier {
		log.WithFields(map[string]interface{}{"wallet": cfg.Wallet, "from_tier": cfg.Tier, "to_tier": newTier}).
			Infof("wallet tier changed")
	}

	nextPoll := time.Now().Add(intervalForTier(p.cfg, newTier)).UnixNano()
	return p.store.UpsertWalletPollingConfig(rawstore.WalletPollingConfig{
		Wallet: cfg.Wallet, Tier: newTier, LastPollTS: time.Now().UnixNano(), NextPollTS: nextPoll,
		ConsecutiveEmptyCount: emptyCount, ConsecutiveErrorCount: 0, LastKnownTotalValue: totalValue,
	})
}

// handlePollError implements §4.B Errors: transient errors get linear
// back-off proportional to tier; once the consecutive-error count passes
// DemoteErrorThreshold the wallet is demoted one tier.
func (p *Poller) handlePollError(cfg rawstore.WalletPollingConfig, pollErr error) error {
	errCount := cfg.ConsecutiveErrorCount + 1
	tier := cfg.Tier
	if errCount >= p.cfg.DemoteErrorThreshold && tier < 3 {
		tier++
		log.WithFields(map[string]interface{}{"wallet": cfg.Wallet, "errors": errCount}).Warnf("wallet demoted after repeated poll failures")
	}
	metrics.IncAPIError(fmt.Sprintf("tier%d", cfg.Tier))

	backoff := time.Duration(errCount) * intervalForTier(p.cfg, cfg.Tier)
	nextPoll := time.Now().Add(backoff).UnixNano()
	if err := p.store.UpsertWalletPollingConfig(rawstore.WalletPollingConfig{
		Wallet: cfg.Wallet, Tier: tier, LastPollTS: time.Now().UnixNano(), NextPollTS: nextPoll,
		ConsecutiveEmptyCount: cfg.ConsecutiveEmptyCount, ConsecutiveErrorCount: errCount, LastKnownTotalValue: cfg.LastKnownTotalValue,
	}); err != nil {
		return fmt.Errorf("poller: reschedule after error: %w", err)
	}
	log.WithFields(map[string]interface{}{"wallet": cfg.Wallet, "error": pollErr.Error()}).Warnf("poll failed, rescheduled with back-off")
	return nil
}

// RunTierCycle drains every wallet due for poll in tier, subject to the
// shared request budget, and returns once the batch due at call time is
// exhausted or ctx is cancelled.
func (p *Poller) RunTierCycle(ctx context.Context, tier int) (CycleStats, error) {
	var stats CycleStats
	cycleID, err := p.store.OpenPollCycle(scopeForTier(tier), time.Now().UnixNano())
	if err != nil {
		return stats, fmt.Errorf("poller: run tier cycle: %w", err)
	}

	due, err := p.store.WalletsDueForPoll(tier, time.Now().UnixNano())
	if err != nil {
		return stats, fmt.Errorf("poller: run tier cycle: %w", err)
	}

	for _, cfg := range due {
		select {
		case <-ctx.Done():
			if closeErr := p.store.ClosePollCycle(rawstore.PollCycle{ID: cycleID, WalletsPolled: stats.Polled}); closeErr != nil {
				return stats, closeErr
			}
			return stats, ctx.Err()
		default:
		}

		if err := p.budget.Acquire(ctx); err != nil {
			if closeErr := p.store.ClosePollCycle(rawstore.PollCycle{ID: cycleID, WalletsPolled: stats.Polled}); closeErr != nil {
				return stats, closeErr
			}
			return stats, err
		}

		beforeTier := cfg.Tier
		if pollErr := p.PollOneWallet(ctx, cfg, cycleID); pollErr != nil {
			stats.Errored++
			log.Errorf("poll error for %s: %v", cfg.Wallet, pollErr)
			continue
		}
		stats.Polled++

		updated, ok, err := p.store.GetWalletPollingConfig(cfg.Wallet)
		if err == nil && ok {
			if updated.Tier < beforeTier {
				stats.Promoted++
			} else if updated.Tier > beforeTier {
				stats.Demoted++
			}
		}
	}

	return stats, p.store.ClosePollCycle(rawstore.PollCycle{ID: cycleID})
}

// Run starts one long-lived task per tier plus the discovery task, each on
// its own ticker (§5 Concurrency & Resource Model). Run blocks until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, tier := range []int{1, 2, 3} {
		wg.Add(1)
		go func(tier int) {
			defer wg.Done()
			p.runTierLoop(ctx, tier)
		}(tier)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runDiscoveryLoop(ctx)
	}()

	wg.Wait()
}

func (p *Poller) runTierLoop(ctx context.Context, tier int) {
	interval := intervalForTier(p.cfg, tier)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := p.RunTierCycle(ctx, tier); err != nil {
		log.Errorf("tier %d cycle failed: %v", tier, err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunTierCycle(ctx, tier); err != nil {
				log.Errorf("tier %d cycle failed: %v", tier, err)
			}
		}
	}
}

func parsePositionValue(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func scopeForTier(tier int) rawstore.PollCycleScope {
	switch tier {
	case 1:
		return rawstore.ScopeTier1
	case 2:
		return rawstore.ScopeTier2
	default:
		return rawstore.ScopeTier3
	}
}
