// Package thresholdstore implements the versioned, provenance-tracked
// threshold configuration store (spec component G): saving a config under
// an existing name creates a new version rather than overwriting, and
// queries select the latest non-deprecated version.
//
// Grounded directly on SynapseStrike/store/strategy.go's StrategyStore:
// sqlite bootstrap idiom (CREATE TABLE IF NOT EXISTS, explicit indexes),
// GetActive/GetDefault/SetActive-under-transaction shape, and a JSON column
// for the free-form payload — the closest one-to-one mapping between a
// spec component and a single teacher file in the whole repository.
package thresholdstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ksiaz/liquidation-trading-sub004/logx"
)

var log = logx.Named("thresholdstore")

// DiscoveryMethod names how a threshold was derived.
type DiscoveryMethod string

const (
	MethodGrid         DiscoveryMethod = "grid"
	MethodROC          DiscoveryMethod = "ROC"
	MethodExpectedValue DiscoveryMethod = "expected-value"
	MethodDomain       DiscoveryMethod = "domain"
	MethodConservative DiscoveryMethod = "conservative"
)

// Status is the validation lifecycle state of a threshold version.
type Status string

const (
	StatusHypothesis Status = "hypothesis"
	StatusValidated  Status = "validated"
	StatusOverfitted Status = "overfitted"
	StatusDeprecated Status = "deprecated"
	StatusActive     Status = "active"
)

// Config is one versioned threshold record.
type Config struct {
	ID               int64
	Name             string
	Value            float64
	Method           DiscoveryMethod
	Rationale        string
	InSampleMetrics  string // JSON-serialized
	OOSMetrics       string // JSON-serialized; empty if absent
	Status           Status
	SensitivityMin   float64
	SensitivityMax   float64
	Robust           bool
	ReviewDate       int64 // unix nanoseconds
	RegimeTag        string
	Version          int
	Notes            string
	CreatedAtNS      int64
}

// Store owns one sqlite handle for threshold configs.
type Store struct {
	db *sql.DB
}

// Open creates or attaches to a sqlite database at path and ensures schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("thresholdstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("thresholdstore: init tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS threshold_configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			value REAL NOT NULL,
			method TEXT NOT NULL,
			rationale TEXT NOT NULL DEFAULT '',
			in_sample_metrics TEXT NOT NULL DEFAULT '{}',
			oos_metrics TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			sensitivity_min REAL NOT NULL DEFAULT 0,
			sensitivity_max REAL NOT NULL DEFAULT 0,
			robust BOOLEAN NOT NULL DEFAULT 0,
			review_date INTEGER NOT NULL DEFAULT 0,
			regime_tag TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_threshold_configs_name_version ON threshold_configs(name, version)`); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_threshold_configs_review ON threshold_configs(review_date)`); err != nil {
		return err
	}
	return nil
}

// Save inserts a new version of cfg.Name. Repeated saves with the same name
// never overwrite: version is computed as the current max for that name
// plus one (§4.G).
func (s *Store) Save(cfg Config) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("thresholdstore: save: %w", err)
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(version) FROM threshold_configs WHERE name = ?`, cfg.Name).Scan(&maxVersion); err != nil {
		return 0, fmt.Errorf("thresholdstore: save: query max version: %w", err)
	}
	cfg.Version = int(maxVersion.Int64) + 1
	cfg.CreatedAtNS = time.Now().UnixNano()

	res, err := tx.Exec(`
		INSERT INTO threshold_configs
			(name, value, method, rationale, in_sample_metrics, oos_metrics, status,
			 sensitivity_min, sensitivity_max, robust, review_date, regime_tag, version, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.Name, cfg.Value, string(cfg.Method), cfg.Rationale, cfg.InSampleMetrics, cfg.OOSMetrics, string(cfg.Status),
		cfg.SensitivityMin, cfg.SensitivityMax, cfg.Robust, cfg.ReviewDate, cfg.RegimeTag, cfg.Version, cfg.Notes, cfg.CreatedAtNS)
	if err != nil {
		return 0, fmt.Errorf("thresholdstore: save: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("thresholdstore: save: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("thresholdstore: save: commit: %w", err)
	}
	log.WithFields(map[string]interface{}{"name": cfg.Name, "version": cfg.Version}).Infof("threshold version saved")
	return id, nil
}

// ActiveThreshold returns the latest non-deprecated version for name,
// optionally filtered to a regime tag.
func (s *Store) ActiveThreshold(name, regime string) (Config, bool, error) {
	query := `SELECT ` + selectColumns + ` FROM threshold_configs WHERE name = ? AND status != ?`
	args := []interface{}{name, string(StatusDeprecated)}
	if regime != "" {
		query += " AND regime_tag = ?"
		args = append(args, regime)
	}
	query += " ORDER BY version DESC LIMIT 1"

	row := s.db.QueryRow(query, args...)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return Config{}, false, nil
	}
	if err != nil {
		return Config{}, false, fmt.Errorf("thresholdstore: active threshold: %w", err)
	}
	return cfg, true, nil
}

// History returns up to limit versions of name, newest-first.
func (s *Store) History(name string, limit int) ([]Config, error) {
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM threshold_configs WHERE name = ? ORDER BY version DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("thresholdstore: history: %w", err)
	}
	defer rows.Close()
	out := []Config{}
	for rows.Next() {
		cfg, err := scanConfigRows(rows)
		if err != nil {
			return nil, fmt.Errorf("thresholdstore: history scan: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// DueForReview returns every config whose review date has passed asOf.
func (s *Store) DueForReview(asOf int64) ([]Config, error) {
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM threshold_configs WHERE review_date > 0 AND review_date <= ? ORDER BY review_date ASC`, asOf)
	if err != nil {
		return nil, fmt.Errorf("thresholdstore: due for review: %w", err)
	}
	defer rows.Close()
	out := []Config{}
	for rows.Next() {
		cfg, err := scanConfigRows(rows)
		if err != nil {
			return nil, fmt.Errorf("thresholdstore: due for review scan: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

const selectColumns = `id, name, value, method, rationale, in_sample_metrics, oos_metrics, status,
	sensitivity_min, sensitivity_max, robust, review_date, regime_tag, version, notes, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConfig(row *sql.Row) (Config, error)   { return scanRowLike(row) }
func scanConfigRows(rows *sql.Rows) (Config, error) { return scanRowLike(rows) }

func scanRowLike(r rowScanner) (Config, error) {
	var cfg Config
	var method, status string
	err := r.Scan(&cfg.ID, &cfg.Name, &cfg.Value, &method, &cfg.Rationale, &cfg.InSampleMetrics, &cfg.OOSMetrics,
		&status, &cfg.SensitivityMin, &cfg.SensitivityMax, &cfg.Robust, &cfg.ReviewDate, &cfg.RegimeTag,
		&cfg.Version, &cfg.Notes, &cfg.CreatedAtNS)
	cfg.Method = DiscoveryMethod(method)
	cfg.Status = Status(status)
	return cfg, err
}

// --- Export / import ------------------------------------------------------

// ThresholdSet is the neutral JSON-like export/import form (§6 Persisted
// formats): strategy name, version, timestamp, and a map of threshold
// records by threshold name.
type ThresholdSet struct {
	StrategyName string            `json:"strategy_name"`
	Version      int               `json:"version"`
	TimestampNS  int64             `json:"timestamp_ns"`
	Thresholds   map[string]Config `json:"thresholds"`
}

// ExportSet builds a ThresholdSet from the current active threshold of
// every name in names.
func (s *Store) ExportSet(strategyName string, names []string, timestampNS int64) (ThresholdSet, error) {
	set := ThresholdSet{StrategyName: strategyName, Version: 1, TimestampNS: timestampNS, Thresholds: make(map[string]Config, len(names))}
	for _, name := range names {
		cfg, ok, err := s.ActiveThreshold(name, "")
		if err != nil {
			return ThresholdSet{}, err
		}
		if !ok {
			continue
		}
		set.Thresholds[name] = cfg
	}
	return set, nil
}

// MarshalSet serializes a ThresholdSet to its neutral JSON form.
func MarshalSet(set ThresholdSet) ([]byte, error) {
	data, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("thresholdstore: marshal set: %w", err)
	}
	return data, nil
}

// UnmarshalSet parses a neutral JSON form back into a ThresholdSet. Import
// must round-trip losslessly against what MarshalSet produced.
func UnmarshalSet(data []byte) (ThresholdSet, error) {
	var set ThresholdSet
	if err := json.Unmarshal(data, &set); err != nil {
		return ThresholdSet{}, fmt.Errorf("thresholdstore: unmarshal set: %w", err)
	}
	return set, nil
}

// ImportSet saves every threshold in set as a new version in this store.
func (s *Store) ImportSet(set ThresholdSet) error {
	for name, cfg := range set.Thresholds {
		cfg.Name = name
		if _, err := s.Save(cfg); err != nil {
			return fmt.Errorf("thresholdstore: import set: %w", err)
		}
	}
	return nil
}
