package ledgerindex

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sentinelcore/audit-substrate/internal/ledgerio"
)

// Rebuild scans the three JSONL ledger directories under ledgerRoot and
// incrementally indexes any lines appended since the last rebuild. Each
// ledger file is append-only, so re-indexing only the lines past the
// previously recorded line count is always correct.
func (db *DB) Rebuild(ledgerRoot string) error {
	indexers := []struct {
		dir     string
		indexFn func(tx *sql.Tx, line []byte) error
	}{
		{filepath.Join(ledgerRoot, "ledger", "PORTFOLIO_RISK_ATTRIBUTION"), indexAttributionLine},
		{filepath.Join(ledgerRoot, "ledger", "EXIT_EVENTS"), indexExitEventLine},
		{filepath.Join(ledgerRoot, "ledger", "EXECUTION_SLIPPAGE"), indexSlippageLine},
	}

	for _, idx := range indexers {
		files, err := listJSONLFiles(idx.dir)
		if err != nil {
			return err
		}
		for _, path := range files {
			if err := db.indexFile(path, idx.indexFn); err != nil {
				return fmt.Errorf("index %s: %w", path, err)
			}
		}
	}
	return nil
}

func listJSONLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (db *DB) previouslyIndexedLines(path string) (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT line_count FROM indexed_files WHERE path = ?`, path).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read indexed_files for %s: %w", path, err)
	}
	return count, nil
}

func (db *DB) indexFile(path string, indexLine func(tx *sql.Tx, line []byte) error) error {
	lines, err := ledgerio.ReadJSONLLines(path)
	if err != nil {
		return err
	}

	already, err := db.previouslyIndexedLines(path)
	if err != nil {
		return err
	}
	if already >= len(lines) {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin index transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, line := range lines[already:] {
		if err := indexLine(tx, line); err != nil {
			return err
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(`
		INSERT INTO indexed_files (path, line_count, indexed_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET line_count = excluded.line_count, indexed_at = excluded.indexed_at
	`, path, len(lines), now); err != nil {
		return fmt.Errorf("record indexed_files for %s: %w", path, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index transaction: %w", err)
	}
	committed = true
	return nil
}

func indexAttributionLine(tx *sql.Tx, line []byte) error {
	var event map[string]interface{}
	if err := json.Unmarshal(line, &event); err != nil {
		return fmt.Errorf("decode attribution event: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.Exec(`
		INSERT INTO attribution_events (decision_id, date_ny, symbol, source, record_type, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(decision_id) DO NOTHING
	`, stringField(event, "decision_id"), stringField(event, "date_ny"), stringField(event, "symbol"),
		stringField(event, "source"), stringField(event, "record_type"), now)
	if err != nil {
		return fmt.Errorf("insert attribution_events row: %w", err)
	}
	return nil
}

func indexExitEventLine(tx *sql.Tx, line []byte) error {
	var event map[string]interface{}
	if err := json.Unmarshal(line, &event); err != nil {
		return fmt.Errorf("decode exit event: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.Exec(`
		INSERT INTO exit_events (event_id, event_type, symbol, position_id, trade_id, date_ny, ts_utc, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, stringField(event, "event_id"), stringField(event, "event_type"), stringField(event, "symbol"),
		stringField(event, "position_id"), stringField(event, "trade_id"), stringField(event, "date_ny"),
		stringField(event, "ts_utc"), now)
	if err != nil {
		return fmt.Errorf("insert exit_events row: %w", err)
	}
	return nil
}

func indexSlippageLine(tx *sql.Tx, line []byte) error {
	var event map[string]interface{}
	if err := json.Unmarshal(line, &event); err != nil {
		return fmt.Errorf("decode slippage event: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	var bps interface{}
	if v, ok := event["slippage_bps"].(float64); ok {
		bps = v
	}
	_, err := tx.Exec(`
		INSERT INTO slippage_events (date_ny, symbol, liquidity_bucket, time_of_day_bucket, slippage_bps, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, stringField(event, "date_ny"), stringField(event, "symbol"), stringField(event, "liquidity_bucket"),
		stringField(event, "time_of_day_bucket"), bps, now)
	if err != nil {
		return fmt.Errorf("insert slippage_events row: %w", err)
	}
	return nil
}

func stringField(m map[string]interface{}, key string) interface{} {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	s, _ := v.(string)
	return s
}
