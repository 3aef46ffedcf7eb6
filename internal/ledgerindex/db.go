// Package ledgerindex maintains a derived, rebuildable SQLite index over the
// append-only JSONL ledgers written by internal/attribution, internal/exitmgmt,
// and internal/slippage. The JSONL files remain the source of truth; this
// index exists purely to make point/range lookups (by decision_id, symbol,
// date range) fast without scanning every line of every ledger file.
// Grounded on trader/internal/database/db.go's connection-string/PRAGMA/
// profile pattern.
package ledgerindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection configured for this read-index's workload:
// single-writer rebuilds, many concurrent readers.
type DB struct {
	conn *sql.DB
	path string
}

// Config configures where the index file lives.
type Config struct {
	Path string
}

// Open creates (if absent) and opens the index database, applying
// WAL/synchronous/cache PRAGMAs tuned for a rebuildable cache — this index
// is rebuildable, so durability matters less than write speed.
func Open(cfg Config) (*DB, error) {
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve ledger index path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("create ledger index directory: %w", err)
	}

	connStr := absPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(OFF)" +
		"&_pragma=temp_store(MEMORY)" +
		"&_pragma=cache_size(-32000)" +
		"&_pragma=foreign_keys(1)"

	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open ledger index: %w", err)
	}
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping ledger index: %w", err)
	}

	db := &DB{conn: conn, path: absPath}
	if err := db.migrate(); err != nil {
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the absolute path of the index database file.
func (db *DB) Path() string {
	return db.path
}

const schema = `
CREATE TABLE IF NOT EXISTS attribution_events (
	decision_id   TEXT PRIMARY KEY,
	date_ny       TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	source        TEXT NOT NULL,
	record_type   TEXT NOT NULL,
	indexed_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attribution_date_symbol ON attribution_events(date_ny, symbol);

CREATE TABLE IF NOT EXISTS exit_events (
	event_id     TEXT PRIMARY KEY,
	event_type   TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	position_id  TEXT,
	trade_id     TEXT,
	date_ny      TEXT NOT NULL,
	ts_utc       TEXT,
	indexed_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exit_date_symbol ON exit_events(date_ny, symbol);
CREATE INDEX IF NOT EXISTS idx_exit_position ON exit_events(position_id);

CREATE TABLE IF NOT EXISTS slippage_events (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	date_ny            TEXT NOT NULL,
	symbol             TEXT NOT NULL,
	liquidity_bucket   TEXT NOT NULL,
	time_of_day_bucket TEXT NOT NULL,
	slippage_bps       REAL,
	indexed_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_slippage_date_symbol ON slippage_events(date_ny, symbol);

CREATE TABLE IF NOT EXISTS indexed_files (
	path        TEXT PRIMARY KEY,
	line_count  INTEGER NOT NULL,
	indexed_at  TEXT NOT NULL
);
`

func (db *DB) migrate() error {
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("migrate ledger index schema: %w", err)
	}
	return nil
}
