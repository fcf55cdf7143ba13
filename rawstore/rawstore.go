// Package rawstore implements the append-only raw layer (spec component A):
// poll-cycle bookkeeping and append-only writers/queries for every raw
// entity ingested from exchange adapters. The only mutable row in this
// package is the per-wallet polling-config record (§4.A invariant i), apart
// from the single update that closes a poll cycle (ClosePollCycle).
//
// Grounded on SynapseStrike/store/strategy.go's sqlite bootstrap idiom:
// CREATE TABLE IF NOT EXISTS, explicit indexes, an AFTER UPDATE trigger for
// updated_at, and manual row scanning rather than an ORM.
package rawstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/ksiaz/liquidation-trading-sub004/logx"
	"github.com/ksiaz/liquidation-trading-sub004/metrics"
)

var log = logx.Named("rawstore")

// Store owns one sqlite handle. Concurrent reads and writes are safe;
// writes are serialized internally by sqlite's single-writer model, which
// satisfies §5's "conceptually single-writer, multi-reader" requirement
// without an extra mutex in this layer.
type Store struct {
	db *sql.DB
}

// Open creates or attaches to a sqlite database at path and ensures schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("rawstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer sqlite; avoid SQLITE_BUSY under concurrent writers
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("rawstore: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS poll_cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scope TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER,
			wallets_polled INTEGER NOT NULL DEFAULT 0,
			positions_found INTEGER NOT NULL DEFAULT 0,
			liquidations_detected INTEGER NOT NULL DEFAULT 0,
			api_errors INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS position_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id INTEGER NOT NULL,
			wallet TEXT NOT NULL,
			coin TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			size TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			liquidation_price TEXT NOT NULL,
			leverage_kind TEXT NOT NULL,
			leverage_value TEXT NOT NULL,
			margin_used TEXT NOT NULL,
			position_value TEXT NOT NULL,
			unrealized_pnl TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_position_snapshots_wct ON position_snapshots(wallet, coin, timestamp)`,
		`CREATE TABLE IF NOT EXISTS wallet_account_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id INTEGER NOT NULL,
			wallet TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			account_value TEXT NOT NULL,
			total_margin_used TEXT NOT NULL,
			withdrawable TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_account_snapshots_wt ON wallet_account_snapshots(wallet, timestamp)`,
		`CREATE TABLE IF NOT EXISTS liquidation_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			wallet TEXT NOT NULL,
			coin TEXT NOT NULL,
			detection_ts INTEGER NOT NULL,
			prev_snapshot_id INTEGER NOT NULL,
			last_size TEXT NOT NULL,
			last_entry_price TEXT NOT NULL,
			last_liquidation_price TEXT NOT NULL,
			last_leverage_kind TEXT NOT NULL,
			last_leverage_value TEXT NOT NULL,
			last_margin_used TEXT NOT NULL,
			last_position_value TEXT NOT NULL,
			last_unrealized_pnl TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_liquidation_events_ct ON liquidation_events(coin, detection_ts)`,
		`CREATE TABLE IF NOT EXISTS oi_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			coin TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oi_snapshots_ct ON oi_snapshots(coin, timestamp)`,
		`CREATE TABLE IF NOT EXISTS mark_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			coin TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mark_snapshots_ct ON mark_snapshots(coin, timestamp)`,
		`CREATE TABLE IF NOT EXISTS funding_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			coin TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_funding_snapshots_ct ON funding_snapshots(coin, timestamp)`,
		`CREATE TABLE IF NOT EXISTS wallet_discovery_records (
			id TEXT PRIMARY KEY,
			wallet TEXT NOT NULL,
			discovery_ts INTEGER NOT NULL,
			source_kind TEXT NOT NULL,
			source_coin TEXT,
			source_value TEXT,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_discovery_wallet ON wallet_discovery_records(wallet)`,
		`CREATE TABLE IF NOT EXISTS wallet_polling_config (
			wallet TEXT PRIMARY KEY,
			tier INTEGER NOT NULL,
			last_poll_ts INTEGER NOT NULL DEFAULT 0,
			next_poll_ts INTEGER NOT NULL DEFAULT 0,
			consecutive_empty_count INTEGER NOT NULL DEFAULT 0,
			consecutive_error_count INTEGER NOT NULL DEFAULT 0,
			last_known_total_value REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_polling_config_next_tier ON wallet_polling_config(next_poll_ts, tier)`,
		`CREATE TABLE IF NOT EXISTS labeled_cascades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			coin TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			oi_drop_pct TEXT NOT NULL,
			liquidation_count INTEGER NOT NULL,
			wave_count INTEGER NOT NULL,
			waves_json TEXT NOT NULL,
			price_at_start TEXT NOT NULL,
			price_at_end TEXT NOT NULL,
			price_at_post_move TEXT NOT NULL,
			outcome TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_labeled_cascades_coin_start ON labeled_cascades(coin, start_ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// --- Poll cycles --------------------------------------------------------

type PollCycleScope string

const (
	ScopeTier1     PollCycleScope = "tier1"
	ScopeTier2     PollCycleScope = "tier2"
	ScopeTier3     PollCycleScope = "tier3"
	ScopeDiscovery PollCycleScope = "discovery"
)

type PollCycle struct {
	ID                   int64
	Scope                PollCycleScope
	StartTS              int64
	EndTS                int64
	WalletsPolled        int
	PositionsFound       int
	LiquidationsDetected int
	APIErrors            int
	DurationMS           int64
}

// OpenPollCycle inserts a new open cycle and returns its id.
func (s *Store) OpenPollCycle(scope PollCycleScope, startTS int64) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO poll_cycles (scope, start_ts) VALUES (?, ?)`, string(scope), startTS)
	if err != nil {
		return 0, fmt.Errorf("open poll cycle: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("open poll cycle: %w", err)
	}
	metrics.IncRawStoreWrite("poll_cycles")
	return id, nil
}

// ClosePollCycle closes a cycle with its aggregated stats. Safe to call on
// a cycle interrupted mid-flight: whatever stats were accumulated so far
// are persisted, and already-written snapshots within it remain valid.
func (s *Store) ClosePollCycle(c PollCycle) error {
	_, err := s.db.Exec(`
		UPDATE poll_cycles SET end_ts=?, wallets_polled=?, positions_found=?,
			liquidations_detected=?, api_errors=?, duration_ms=?
		WHERE id=?`,
		c.EndTS, c.WalletsPolled, c.PositionsFound, c.LiquidationsDetected, c.APIErrors, c.DurationMS, c.ID)
	if err != nil {
		return fmt.Errorf("close poll cycle: %w", err)
	}
	return nil
}

// --- Position snapshots --------------------------------------------------

type PositionSnapshot struct {
	ID               int64
	CycleID          int64
	Wallet           string
	Coin             string
	Timestamp        int64
	Size             string
	EntryPrice       string
	LiquidationPrice string
	LeverageKind     string
	LeverageValue    string
	MarginUsed       string
	PositionValue    string
	UnrealizedPnL    string
}

// WritePositionSnapshot appends a row; duplicate payloads are permitted and
// produce distinct ids, per §3's Position Snapshot invariant.
func (s *Store) WritePositionSnapshot(p PositionSnapshot) (int64, error) {
	p.Wallet = normalizeWallet(p.Wallet)
	res, err := s.db.Exec(`
		INSERT INTO position_snapshots
			(cycle_id, wallet, coin, timestamp, size, entry_price, liquidation_price,
			 leverage_kind, leverage_value, margin_used, position_value, unrealized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CycleID, p.Wallet, p.Coin, p.Timestamp, p.Size, p.EntryPrice, p.LiquidationPrice,
		p.LeverageKind, p.LeverageValue, p.MarginUsed, p.PositionValue, p.UnrealizedPnL)
	if err != nil {
		return 0, fmt.Errorf("write position snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("write position snapshot: %w", err)
	}
	metrics.IncRawStoreWrite("position_snapshots")
	return id, nil
}

// PositionHistory returns snapshots for (wallet, coin) in [start, end],
// ordered by timestamp ascending. Returns an empty (not nil) slice when
// there is no matching data.
func (s *Store) PositionHistory(wallet, coin string, start, end int64) ([]PositionSnapshot, error) {
	wallet = normalizeWallet(wallet)
	rows, err := s.db.Query(`
		SELECT id, cycle_id, wallet, coin, timestamp, size, entry_price, liquidation_price,
			leverage_kind, leverage_value, margin_used, position_value, unrealized_pnl
		FROM position_snapshots
		WHERE wallet = ? AND coin = ? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC`, wallet, coin, start, end)
	if err != nil {
		return nil, fmt.Errorf("position history: %w", err)
	}
	defer rows.Close()
	out := []PositionSnapshot{}
	for rows.Next() {
		var p PositionSnapshot
		if err := rows.Scan(&p.ID, &p.CycleID, &p.Wallet, &p.Coin, &p.Timestamp, &p.Size,
			&p.EntryPrice, &p.LiquidationPrice, &p.LeverageKind, &p.LeverageValue,
			&p.MarginUsed, &p.PositionValue, &p.UnrealizedPnL); err != nil {
			return nil, fmt.Errorf("position history scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Wallet account snapshots --------------------------------------------

type WalletAccountSnapshot struct {
	ID              int64
	CycleID         int64
	Wallet          string
	Timestamp       int64
	AccountValue    string
	TotalMarginUsed string
	Withdrawable    string
}

func (s *Store) WriteWalletAccountSnapshot(w WalletAccountSnapshot) (int64, error) {
	w.Wallet = normalizeWallet(w.Wallet)
	res, err := s.db.Exec(`
		INSERT INTO wallet_account_snapshots (cycle_id, wallet, timestamp, account_value, total_margin_used, withdrawable)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.CycleID, w.Wallet, w.Timestamp, w.AccountValue, w.TotalMarginUsed, w.Withdrawable)
	if err != nil {
		return 0, fmt.Errorf("write wallet account snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	metrics.IncRawStoreWrite("wallet_account_snapshots")
	return id, nil
}

// --- Liquidation events ---------------------------------------------------

type LiquidationEvent struct {
	ID                   int64
	Wallet               string
	Coin                 string
	DetectionTS          int64
	PrevSnapshotID       int64
	LastSize             string
	LastEntryPrice       string
	LastLiquidationPrice string
	LastLeverageKind     string
	LastLeverageValue    string
	LastMarginUsed       string
	LastPositionValue    string
	LastUnrealizedPnL    string
}

// WriteLiquidationEvent is the single source of truth for liquidations:
// callers (the poller) derive it purely from position-disappearance diffs.
func (s *Store) WriteLiquidationEvent(e LiquidationEvent) (int64, error) {
	e.Wallet = normalizeWallet(e.Wallet)
	res, err := s.db.Exec(`
		INSERT INTO liquidation_events
			(wallet, coin, detection_ts, prev_snapshot_id, last_size, last_entry_price,
			 last_liquidation_price, last_leverage_kind, last_leverage_value,
			 last_margin_used, last_position_value, last_unrealized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Wallet, e.Coin, e.DetectionTS, e.PrevSnapshotID, e.LastSize, e.LastEntryPrice,
		e.LastLiquidationPrice, e.LastLeverageKind, e.LastLeverageValue,
		e.LastMarginUsed, e.LastPositionValue, e.LastUnrealizedPnL)
	if err != nil {
		return 0, fmt.Errorf("write liquidation event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	metrics.IncRawStoreWrite("liquidation_events")
	metrics.IncLiquidation(e.Coin)
	log.WithFields(map[string]interface{}{"wallet": e.Wallet, "coin": e.Coin}).Infof("liquidation detected")
	return id, nil
}

// LiquidationsInWindow returns liquidation events with detection_ts in
// [start, end], optionally filtered to a single coin.
func (s *Store) LiquidationsInWindow(start, end int64, coin string) ([]LiquidationEvent, error) {
	query := `
		SELECT id, wallet, coin, detection_ts, prev_snapshot_id, last_size, last_entry_price,
			last_liquidation_price, last_leverage_kind, last_leverage_value,
			last_margin_used, last_position_value, last_unrealized_pnl
		FROM liquidation_events WHERE detection_ts BETWEEN ? AND ?`
	args := []interface{}{start, end}
	if coin != "" {
		query += " AND coin = ?"
		args = append(args, coin)
	}
	query += " ORDER BY detection_ts ASC"
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("liquidations in window: %w", err)
	}
	defer rows.Close()
	out := []LiquidationEvent{}
	for rows.Next() {
		var e LiquidationEvent
		if err := rows.Scan(&e.ID, &e.Wallet, &e.Coin, &e.DetectionTS, &e.PrevSnapshotID,
			&e.LastSize, &e.LastEntryPrice, &e.LastLiquidationPrice, &e.LastLeverageKind,
			&e.LastLeverageValue, &e.LastMarginUsed, &e.LastPositionValue, &e.LastUnrealizedPnL); err != nil {
			return nil, fmt.Errorf("liquidations in window scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- OI / mark / funding snapshots ----------------------------------------

func (s *Store) WriteOISnapshot(coin string, ts int64, value string) (int64, error) {
	return s.writeCoinSnapshot("oi_snapshots", coin, ts, value)
}

func (s *Store) WriteMarkSnapshot(coin string, ts int64, value string) (int64, error) {
	return s.writeCoinSnapshot("mark_snapshots", coin, ts, value)
}

func (s *Store) WriteFundingSnapshot(coin string, ts int64, value string) (int64, error) {
	return s.writeCoinSnapshot("funding_snapshots", coin, ts, value)
}

func (s *Store) writeCoinSnapshot(table, coin string, ts int64, value string) (int64, error) {
	res, err := s.db.Exec(fmt.Sprintf(`INSERT INTO %s (coin, timestamp, value) VALUES (?, ?, ?)`, table), coin, ts, value)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	metrics.IncRawStoreWrite(table)
	return id, nil
}

type CoinSnapshot struct {
	ID        int64
	Coin      string
	Timestamp int64
	Value     string
}

// OIHistory returns open-interest snapshots for coin in [start, end].
func (s *Store) OIHistory(coin string, start, end int64) ([]CoinSnapshot, error) {
	return s.coinHistory("oi_snapshots", coin, start, end)
}

// MarkHistory returns mark-price snapshots for coin in [start, end].
func (s *Store) MarkHistory(coin string, start, end int64) ([]CoinSnapshot, error) {
	return s.coinHistory("mark_snapshots", coin, start, end)
}

// NearestMark returns the mark snapshot nearest to ts within tolerance, or
// ok=false if none exists within the tolerance window. Used by the labeler
// for its t_i / t_j / t_j+5min mark-price lookups (§4.E step 5).
func (s *Store) NearestMark(coin string, ts int64, tolerance int64) (snap CoinSnapshot, ok bool, err error) {
	row := s.db.QueryRow(`
		SELECT id, coin, timestamp, value FROM mark_snapshots
		WHERE coin = ? AND timestamp BETWEEN ? AND ?
		ORDER BY ABS(timestamp - ?) ASC LIMIT 1`, coin, ts-tolerance, ts+tolerance, ts)
	err = row.Scan(&snap.ID, &snap.Coin, &snap.Timestamp, &snap.Value)
	if err == sql.ErrNoRows {
		return CoinSnapshot{}, false, nil
	}
	if err != nil {
		return CoinSnapshot{}, false, fmt.Errorf("nearest mark: %w", err)
	}
	return snap, true, nil
}

func (s *Store) coinHistory(table, coin string, start, end int64) ([]CoinSnapshot, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, coin, timestamp, value FROM %s WHERE coin = ? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC`, table), coin, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s history: %w", table, err)
	}
	defer rows.Close()
	out := []CoinSnapshot{}
	for rows.Next() {
		var c CoinSnapshot
		if err := rows.Scan(&c.ID, &c.Coin, &c.Timestamp, &c.Value); err != nil {
			return nil, fmt.Errorf("%s history scan: %w", table, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Wallet discovery records ----------------------------------------------

type DiscoverySourceKind string

const (
	SourceTrade       DiscoverySourceKind = "trade"
	SourceLiquidation DiscoverySourceKind = "liquidation"
	SourcePosition    DiscoverySourceKind = "position"
	SourceManual      DiscoverySourceKind = "manual"
)

type WalletDiscoveryRecord struct {
	ID          string
	Wallet      string
	DiscoveryTS int64
	SourceKind  DiscoverySourceKind
	SourceCoin  string
	SourceValue string
	Metadata    string
}

func (s *Store) WriteWalletDiscovery(d WalletDiscoveryRecord) error {
	d.Wallet = normalizeWallet(d.Wallet)
	_, err := s.db.Exec(`
		INSERT INTO wallet_discovery_records (id, wallet, discovery_ts, source_kind, source_coin, source_value, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Wallet, d.DiscoveryTS, string(d.SourceKind), d.SourceCoin, d.SourceValue, d.Metadata)
	if err != nil {
		return fmt.Errorf("write wallet discovery: %w", err)
	}
	metrics.IncRawStoreWrite("wallet_discovery_records")
	return nil
}

// --- Wallet polling config (the one mutable raw table) ---------------------

type WalletPollingConfig struct {
	Wallet                string
	Tier                  int
	LastPollTS            int64
	NextPollTS            int64
	ConsecutiveEmptyCount int
	ConsecutiveErrorCount int
	LastKnownTotalValue   float64
}

// UpsertWalletPollingConfig inserts or fully replaces a wallet's polling
// config row. This is the sole raw-layer table with upsert semantics;
// poll_cycles rows are only updated once, by ClosePollCycle.
func (s *Store) UpsertWalletPollingConfig(c WalletPollingConfig) error {
	c.Wallet = normalizeWallet(c.Wallet)
	_, err := s.db.Exec(`
		INSERT INTO wallet_polling_config
			(wallet, tier, last_poll_ts, next_poll_ts, consecutive_empty_count, consecutive_error_count, last_known_total_value)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(wallet) DO UPDATE SET
			tier=excluded.tier, last_poll_ts=excluded.last_poll_ts, next_poll_ts=excluded.next_poll_ts,
			consecutive_empty_count=excluded.consecutive_empty_count,
			consecutive_error_count=excluded.consecutive_error_count,
			last_known_total_value=excluded.last_known_total_value`,
		c.Wallet, c.Tier, c.LastPollTS, c.NextPollTS, c.ConsecutiveEmptyCount, c.ConsecutiveErrorCount, c.LastKnownTotalValue)
	if err != nil {
		return fmt.Errorf("upsert wallet polling config: %w", err)
	}
	return nil
}

// UpdatePollStats is the narrow update path named in §4.A: advance a
// wallet's next-poll timestamp and empty-poll counter after a cycle.
func (s *Store) UpdatePollStats(wallet string, nextPoll int64, hadPositions bool) error {
	wallet = normalizeWallet(wallet)
	if hadPositions {
		_, err := s.db.Exec(`UPDATE wallet_polling_config SET last_poll_ts=?, next_poll_ts=?, consecutive_empty_count=0 WHERE wallet=?`,
			time.Now().UnixNano(), nextPoll, wallet)
		if err != nil {
			return fmt.Errorf("update poll stats: %w", err)
		}
		return nil
	}
	_, err := s.db.Exec(`UPDATE wallet_polling_config SET last_poll_ts=?, next_poll_ts=?, consecutive_empty_count=consecutive_empty_count+1 WHERE wallet=?`,
		time.Now().UnixNano(), nextPoll, wallet)
	if err != nil {
		return fmt.Errorf("update poll stats: %w", err)
	}
	return nil
}

// WalletsDueForPoll returns wallets in tier whose next_poll_ts <= asOf,
// ordered by next_poll_ts ascending (priority-queue drain order).
func (s *Store) WalletsDueForPoll(tier int, asOf int64) ([]WalletPollingConfig, error) {
	rows, err := s.db.Query(`
		SELECT wallet, tier, last_poll_ts, next_poll_ts, consecutive_empty_count, consecutive_error_count, last_known_total_value
		FROM wallet_polling_config WHERE tier = ? AND next_poll_ts <= ?
		ORDER BY next_poll_ts ASC`, tier, asOf)
	if err != nil {
		return nil, fmt.Errorf("wallets due for poll: %w", err)
	}
	defer rows.Close()
	out := []WalletPollingConfig{}
	for rows.Next() {
		var c WalletPollingConfig
		if err := rows.Scan(&c.Wallet, &c.Tier, &c.LastPollTS, &c.NextPollTS,
			&c.ConsecutiveEmptyCount, &c.ConsecutiveErrorCount, &c.LastKnownTotalValue); err != nil {
			return nil, fmt.Errorf("wallets due for poll scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetWalletPollingConfig returns the current config for a wallet, or
// ok=false if the wallet is not tracked yet.
func (s *Store) GetWalletPollingConfig(wallet string) (cfg WalletPollingConfig, ok bool, err error) {
	wallet = normalizeWallet(wallet)
	row := s.db.QueryRow(`
		SELECT wallet, tier, last_poll_ts, next_poll_ts, consecutive_empty_count, consecutive_error_count, last_known_total_value
		FROM wallet_polling_config WHERE wallet = ?`, wallet)
	err = row.Scan(&cfg.Wallet, &cfg.Tier, &cfg.LastPollTS, &cfg.NextPollTS,
		&cfg.ConsecutiveEmptyCount, &cfg.ConsecutiveErrorCount, &cfg.LastKnownTotalValue)
	if err == sql.ErrNoRows {
		return WalletPollingConfig{}, false, nil
	}
	if err != nil {
		return WalletPollingConfig{}, false, fmt.Errorf("get wallet polling config: %w", err)
	}
	return cfg, true, nil
}

// CountWalletsByTier returns the current wallet population in each of the
// three tiers, regardless of poll due-ness. Backs the control surface's
// at-a-glance tier view.
func (s *Store) CountWalletsByTier() (tier1, tier2, tier3 int, err error) {
	rows, err := s.db.Query(`SELECT tier, COUNT(*) FROM wallet_polling_config GROUP BY tier`)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count wallets by tier: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier, count int
		if err := rows.Scan(&tier, &count); err != nil {
			return 0, 0, 0, fmt.Errorf("count wallets by tier scan: %w", err)
		}
		switch tier {
		case 1:
			tier1 = count
		case 2:
			tier2 = count
		case 3:
			tier3 = count
		}
	}
	return tier1, tier2, tier3, rows.Err()
}

// --- Labeled cascades (component E output) ---------------------------------

type LabeledCascade struct {
	ID               int64
	Coin             string
	StartTS          int64
	EndTS            int64
	OIDropPct        string
	LiquidationCount int
	WaveCount        int
	WavesJSON        string
	PriceAtStart     string
	PriceAtEnd       string
	PriceAtPostMove  string
	Outcome          string
}

// WriteLabeledCascade persists one post-hoc labeled cascade (§4.E step 4).
func (s *Store) WriteLabeledCascade(l LabeledCascade) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO labeled_cascades
			(coin, start_ts, end_ts, oi_drop_pct, liquidation_count, wave_count, waves_json,
			 price_at_start, price_at_end, price_at_post_move, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Coin, l.StartTS, l.EndTS, l.OIDropPct, l.LiquidationCount, l.WaveCount, l.WavesJSON,
		l.PriceAtStart, l.PriceAtEnd, l.PriceAtPostMove, l.Outcome)
	if err != nil {
		return 0, fmt.Errorf("write labeled cascade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	metrics.IncRawStoreWrite("labeled_cascades")
	return id, nil
}

// LabeledCascadesForCoin returns persisted labels for coin ordered by
// start_ts ascending.
func (s *Store) LabeledCascadesForCoin(coin string) ([]LabeledCascade, error) {
	rows, err := s.db.Query(`
		SELECT id, coin, start_ts, end_ts, oi_drop_pct, liquidation_count, wave_count, waves_json,
			price_at_start, price_at_end, price_at_post_move, outcome
		FROM labeled_cascades WHERE coin = ? ORDER BY start_ts ASC`, coin)
	if err != nil {
		return nil, fmt.Errorf("labeled cascades for coin: %w", err)
	}
	defer rows.Close()
	out := []LabeledCascade{}
	for rows.Next() {
		var l LabeledCascade
		if err := rows.Scan(&l.ID, &l.Coin, &l.StartTS, &l.EndTS, &l.OIDropPct, &l.LiquidationCount,
			&l.WaveCount, &l.WavesJSON, &l.PriceAtStart, &l.PriceAtEnd, &l.PriceAtPostMove, &l.Outcome); err != nil {
			return nil, fmt.Errorf("labeled cascades for coin scan: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// normalizeWallet enforces §3's "lowercase 0x-prefixed hex" wallet-address
// invariant. Well-formed 0x-addresses are round-tripped through
// go-ethereum's checksum codec (which also validates length/hex-ness) and
// lowercased; anything else (non-EVM venue identifiers) is just lowercased.
func normalizeWallet(w string) string {
	if common.IsHexAddress(w) {
		return strings.ToLower(common.HexToAddress(w).Hex())
	}
	return strings.ToLower(w)
}
