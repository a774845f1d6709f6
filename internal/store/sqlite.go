// Package store persists optimization checkpoints and master result
// tables in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rcolo88/Trading-sub000/internal/errors"
	"github.com/rcolo88/Trading-sub000/internal/optimize"
)

// SQLiteStore implements optimize.ResultStore on a single SQLite file.
// Rows are keyed by (logical table, parameter key); saving is an
// upsert, so re-saving an accumulated result table is idempotent.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the results database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One row per evaluated parameter combination. table_name carries
	-- the (kind, strategy, date-range) identity; param_key is the
	-- order-independent sorted name=value key.
	CREATE TABLE IF NOT EXISTS result_rows (
		table_name  TEXT NOT NULL,
		param_key   TEXT NOT NULL,
		params      TEXT NOT NULL,
		metrics     TEXT NOT NULL,
		score       REAL NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		computed_at DATETIME NOT NULL,
		PRIMARY KEY (table_name, param_key)
	);

	CREATE INDEX IF NOT EXISTS idx_result_rows_score
		ON result_rows(table_name, score DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRows upserts the full row set for one logical table inside a
// transaction; the write completes before the search proceeds.
func (s *SQLiteStore) SaveRows(table string, rows []optimize.ResultRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrDatabaseError, err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO result_rows (table_name, param_key, params, metrics, score, error, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, param_key) DO UPDATE SET
			params = excluded.params,
			metrics = excluded.metrics,
			score = excluded.score,
			error = excluded.error,
			computed_at = excluded.computed_at`)
	if err != nil {
		return errors.Wrap(errors.ErrDatabaseError, err.Error())
	}
	defer stmt.Close()

	for _, row := range rows {
		params, err := json.Marshal(row.Params)
		if err != nil {
			return fmt.Errorf("encoding params: %w", err)
		}
		metrics, err := json.Marshal(sanitizeMetrics(row.Metrics))
		if err != nil {
			return fmt.Errorf("encoding metrics: %w", err)
		}
		if _, err := stmt.Exec(table, row.Key(), string(params), string(metrics),
			row.Score, row.Err, row.ComputedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return errors.Wrap(errors.ErrDatabaseError, err.Error())
		}
	}
	return tx.Commit()
}

// LoadRows returns every persisted row of one logical table. A missing
// table yields an empty slice, not an error.
func (s *SQLiteStore) LoadRows(table string) ([]optimize.ResultRow, error) {
	rows, err := s.db.Query(`
		SELECT params, metrics, score, error, computed_at
		FROM result_rows WHERE table_name = ?
		ORDER BY score DESC`, table)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabaseError, err.Error())
	}
	defer rows.Close()

	var out []optimize.ResultRow
	for rows.Next() {
		var (
			paramsJSON, metricsJSON, errMsg, computedAt string
			score                                       float64
		)
		if err := rows.Scan(&paramsJSON, &metricsJSON, &score, &errMsg, &computedAt); err != nil {
			return nil, errors.Wrap(errors.ErrDatabaseError, err.Error())
		}
		row := optimize.ResultRow{Score: score, Err: errMsg}
		if err := json.Unmarshal([]byte(paramsJSON), &row.Params); err != nil {
			return nil, fmt.Errorf("decoding params: %w", err)
		}
		if err := json.Unmarshal([]byte(metricsJSON), &row.Metrics); err != nil {
			return nil, fmt.Errorf("decoding metrics: %w", err)
		}
		restoreMetrics(row.Metrics)
		if t, err := time.Parse(time.RFC3339Nano, computedAt); err == nil {
			row.ComputedAt = t
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Tables lists the logical tables present in the database.
func (s *SQLiteStore) Tables() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT table_name FROM result_rows ORDER BY table_name`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabaseError, err.Error())
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// infSentinel stands in for +Inf metric values (profit factor with no
// losses), which JSON cannot encode.
const infSentinel = 1e308

func sanitizeMetrics(metrics map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		switch {
		case math.IsInf(v, 1):
			out[k] = infSentinel
		case math.IsInf(v, -1):
			out[k] = -infSentinel
		case math.IsNaN(v):
			out[k] = optimize.SentinelScore
		default:
			out[k] = v
		}
	}
	return out
}

func restoreMetrics(metrics map[string]float64) {
	for k, v := range metrics {
		switch {
		case v >= infSentinel:
			metrics[k] = math.Inf(1)
		case v <= -infSentinel:
			metrics[k] = math.Inf(-1)
		}
	}
}
