package risk

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// OverrideLog is the append-only audit trail for administrative drawdown
// overrides (§4.H.3's "force-override hook... logged"). Grounded on
// SynapseStrike/store/strategy.go's SetActive-under-transaction pattern:
// every override is one inserted row, never updated or deleted, mirroring
// that store's append-only provenance columns rather than its mutable
// active-row swap (there is nothing here to swap, only to record).
type OverrideLog struct {
	db *sql.DB
}

// OpenOverrideLog attaches to (or creates) the override_log table at path.
// Pass ":memory:" in tests, same convention as rawstore.Open.
func OpenOverrideLog(path string) (*OverrideLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("risk: open override log: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS override_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			operator TEXT NOT NULL,
			prior_state TEXT NOT NULL,
			prior_reason TEXT NOT NULL,
			ts INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("risk: open override log: init: %w", err)
	}
	return &OverrideLog{db: db}, nil
}

func (o *OverrideLog) Close() error { return o.db.Close() }

// Record appends one administrative override entry.
func (o *OverrideLog) Record(account, operator string, priorState DrawdownState, priorReason CooldownReason, ts int64) error {
	_, err := o.db.Exec(`INSERT INTO override_log (account, operator, prior_state, prior_reason, ts) VALUES (?, ?, ?, ?, ?)`,
		account, operator, string(priorState), string(priorReason), ts)
	if err != nil {
		return fmt.Errorf("risk: record override: %w", err)
	}
	return nil
}

// Entry is one audited override, returned for inspection surfaces.
type Entry struct {
	ID          int64
	Account     string
	Operator    string
	PriorState  DrawdownState
	PriorReason CooldownReason
	TS          int64
}

// ForAccount returns every recorded override for account, oldest first.
func (o *OverrideLog) ForAccount(account string) ([]Entry, error) {
	rows, err := o.db.Query(`SELECT id, account, operator, prior_state, prior_reason, ts FROM override_log WHERE account = ? ORDER BY ts ASC`, account)
	if err != nil {
		return nil, fmt.Errorf("risk: override log for account: %w", err)
	}
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		var e Entry
		var state, reason string
		if err := rows.Scan(&e.ID, &e.Account, &e.Operator, &state, &reason, &e.TS); err != nil {
			return nil, fmt.Errorf("risk: override log scan: %w", err)
		}
		e.PriorState, e.PriorReason = DrawdownState(state), CooldownReason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}
