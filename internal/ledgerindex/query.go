package ledgerindex

import (
	"database/sql"
	"errors"
	"fmt"
)

// AttributionEvent is one indexed row from PORTFOLIO_RISK_ATTRIBUTION.
type AttributionEvent struct {
	DecisionID string
	DateNY     string
	Symbol     string
	Source     string
	RecordType string
}

// FindAttributionByDecisionID looks up a single attribution event by its
// deterministic decision_id, returning (nil, nil) if not indexed.
func (db *DB) FindAttributionByDecisionID(decisionID string) (*AttributionEvent, error) {
	row := db.conn.QueryRow(`
		SELECT decision_id, date_ny, symbol, source, record_type
		FROM attribution_events WHERE decision_id = ?
	`, decisionID)
	var e AttributionEvent
	if err := row.Scan(&e.DecisionID, &e.DateNY, &e.Symbol, &e.Source, &e.RecordType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find attribution event %s: %w", decisionID, err)
	}
	return &e, nil
}

// AttributionBySymbolAndDateRange returns indexed attribution events for a
// symbol within [startDateNY, endDateNY] inclusive, ordered by date.
func (db *DB) AttributionBySymbolAndDateRange(symbol, startDateNY, endDateNY string) ([]AttributionEvent, error) {
	rows, err := db.conn.Query(`
		SELECT decision_id, date_ny, symbol, source, record_type
		FROM attribution_events
		WHERE symbol = ? AND date_ny BETWEEN ? AND ?
		ORDER BY date_ny ASC
	`, symbol, startDateNY, endDateNY)
	if err != nil {
		return nil, fmt.Errorf("query attribution events for %s: %w", symbol, err)
	}
	defer rows.Close()

	var events []AttributionEvent
	for rows.Next() {
		var e AttributionEvent
		if err := rows.Scan(&e.DecisionID, &e.DateNY, &e.Symbol, &e.Source, &e.RecordType); err != nil {
			return nil, fmt.Errorf("scan attribution event row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ExitEventsForPosition returns every indexed exit event sharing a
// position_id, ordered by timestamp.
func (db *DB) ExitEventsForPosition(positionID string) ([]ExitEventRow, error) {
	rows, err := db.conn.Query(`
		SELECT event_id, event_type, symbol, position_id, trade_id, date_ny, ts_utc
		FROM exit_events WHERE position_id = ? ORDER BY ts_utc ASC
	`, positionID)
	if err != nil {
		return nil, fmt.Errorf("query exit events for position %s: %w", positionID, err)
	}
	defer rows.Close()

	var events []ExitEventRow
	for rows.Next() {
		var e ExitEventRow
		var tradeID, tsUTC sql.NullString
		if err := rows.Scan(&e.EventID, &e.EventType, &e.Symbol, &e.PositionID, &tradeID, &e.DateNY, &tsUTC); err != nil {
			return nil, fmt.Errorf("scan exit event row: %w", err)
		}
		e.TradeID = tradeID.String
		e.TsUTC = tsUTC.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// ExitEventRow is one indexed row from EXIT_EVENTS.
type ExitEventRow struct {
	EventID    string
	EventType  string
	Symbol     string
	PositionID string
	TradeID    string
	DateNY     string
	TsUTC      string
}

// SlippageSummary aggregates indexed slippage_bps for a symbol over a date
// range, skipping rows with a NULL slippage_bps.
type SlippageSummary struct {
	Count   int
	MeanBps float64
}

// SlippageBySymbolAndDateRange aggregates indexed slippage events for a
// symbol within [startDateNY, endDateNY] inclusive.
func (db *DB) SlippageBySymbolAndDateRange(symbol, startDateNY, endDateNY string) (SlippageSummary, error) {
	row := db.conn.QueryRow(`
		SELECT COUNT(*), COALESCE(AVG(slippage_bps), 0)
		FROM slippage_events
		WHERE symbol = ? AND date_ny BETWEEN ? AND ? AND slippage_bps IS NOT NULL
	`, symbol, startDateNY, endDateNY)

	var summary SlippageSummary
	if err := row.Scan(&summary.Count, &summary.MeanBps); err != nil {
		return SlippageSummary{}, fmt.Errorf("aggregate slippage for %s: %w", symbol, err)
	}
	return summary, nil
}
