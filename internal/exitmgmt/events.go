package exitmgmt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sentinelcore/audit-substrate/internal/ledgerio"
)

const exitEventSchemaVersion = 1

var nyLocation = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// isoOffsetLayout is time.RFC3339 with its "Z07:00" zone clause replaced by
// "-07:00"; unlike time.RFC3339 it never collapses a zero UTC offset to
// "Z", matching the original's isoformat() output (_iso_utc).
const isoOffsetLayout = "2006-01-02T15:04:05-07:00"

func formatISO(t time.Time) string {
	return t.Format(isoOffsetLayout)
}

// EventContext carries the entry-side facts a live exit event is built
// against — execution_v2.exit_events.ExitEventContext.
type EventContext struct {
	Symbol       string
	HasQty       bool
	Qty          float64
	EntryID      string
	HasEntryPrice bool
	EntryPrice   float64
	EntryTsUTC   string
	EntryTsNY    string
	EntryDateNY  string
	PositionID   string
	TradeID      string
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatOptionalFloat(has bool, v float64) string {
	if !has {
		return ""
	}
	return formatFloat(v)
}

func hashPayload(parts []string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// BuildPositionIDInput carries the fields build_position_id hashes over.
type BuildPositionIDInput struct {
	Symbol        string
	EntryTsUTC    string
	Qty           float64
	HasEntryPrice bool
	EntryPrice    float64
	StrategyID    string
	SleeveID      string
	EntryID       string
}

// BuildPositionID deterministically identifies a position by its entry
// facts — execution_v2.exit_events.build_position_id.
func BuildPositionID(in BuildPositionIDInput) string {
	strategyID := in.StrategyID
	if strategyID == "" {
		strategyID = "default"
	}
	sleeveID := in.SleeveID
	if sleeveID == "" {
		sleeveID = "default"
	}
	parts := []string{
		in.Symbol,
		in.EntryTsUTC,
		formatFloat(in.Qty),
		formatOptionalFloat(in.HasEntryPrice, in.EntryPrice),
		strategyID,
		sleeveID,
	}
	if in.EntryID != "" {
		parts = append(parts, in.EntryID)
	}
	return hashPayload(parts)
}

// BuildTradeID deterministically identifies one exit fill against its
// position — execution_v2.exit_events.build_trade_id.
func BuildTradeID(positionID, exitTsUTC string, qty float64, hasExitPrice bool, exitPrice float64) string {
	return hashPayload([]string{
		positionID,
		exitTsUTC,
		formatFloat(qty),
		formatOptionalFloat(hasExitPrice, exitPrice),
	})
}

// EventInput carries every field build_exit_event accepts.
type EventInput struct {
	EventType   string
	Symbol      string
	Ts          *time.Time
	Source      string
	HasQty      bool
	Qty         float64
	HasPrice    bool
	Price       float64
	HasStopPrice bool
	StopPrice   float64
	StopBasis   string
	StopAction  string
	Reason      string
	EntryID     string
	HasEntryPrice bool
	EntryPrice  float64
	EntryTsUTC  string
	EntryTsNY   string
	EntryDateNY string
	ExitTsUTC   string
	ExitTsNY    string
	ExitDateNY  string
	PositionID  string
	TradeID     string
	Metadata    map[string]interface{}
	StrategyID  string
	SleeveID    string
}

// BuildExitEvent constructs one exit-event ledger record, deriving
// position_id/trade_id/event_id the same way execution_v2.exit_events.build_exit_event
// does.
func BuildExitEvent(in EventInput) map[string]interface{} {
	tsDt := time.Now().UTC()
	if in.Ts != nil {
		tsDt = in.Ts.UTC()
	}
	tsUTC := formatISO(tsDt)
	tsNY := formatISO(tsDt.In(nyLocation))
	dateNY := tsDt.In(nyLocation).Format("2006-01-02")

	source := in.Source
	if source == "" {
		source = "unknown"
	}
	strategyID := in.StrategyID
	if strategyID == "" {
		strategyID = "default"
	}
	sleeveID := in.SleeveID
	if sleeveID == "" {
		sleeveID = "default"
	}

	resolvedEntryTsNY := in.EntryTsNY
	resolvedEntryDateNY := in.EntryDateNY
	if in.EntryTsUTC != "" && in.EntryTsNY == "" {
		if entryDt, err := time.Parse(time.RFC3339, in.EntryTsUTC); err == nil {
			resolvedEntryTsNY = formatISO(entryDt.In(nyLocation))
			resolvedEntryDateNY = entryDt.In(nyLocation).Format("2006-01-02")
		}
	}

	resolvedExitTsNY := in.ExitTsNY
	resolvedExitDateNY := in.ExitDateNY
	if in.ExitTsUTC != "" && in.ExitTsNY == "" {
		if exitDt, err := time.Parse(time.RFC3339, in.ExitTsUTC); err == nil {
			resolvedExitTsNY = formatISO(exitDt.In(nyLocation))
			resolvedExitDateNY = exitDt.In(nyLocation).Format("2006-01-02")
		}
	}

	resolvedPositionID := in.PositionID
	if resolvedPositionID == "" && in.EntryTsUTC != "" && in.HasQty {
		resolvedPositionID = BuildPositionID(BuildPositionIDInput{
			Symbol:        in.Symbol,
			EntryTsUTC:    in.EntryTsUTC,
			Qty:           in.Qty,
			HasEntryPrice: in.HasEntryPrice,
			EntryPrice:    in.EntryPrice,
			StrategyID:    strategyID,
			SleeveID:      sleeveID,
			EntryID:       in.EntryID,
		})
	}

	resolvedTradeID := in.TradeID
	if resolvedTradeID == "" && resolvedPositionID != "" && in.ExitTsUTC != "" && in.HasQty {
		resolvedTradeID = BuildTradeID(resolvedPositionID, in.ExitTsUTC, in.Qty, in.HasPrice, in.Price)
	}

	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	eventID := hashPayload([]string{
		in.EventType,
		in.Symbol,
		resolvedPositionID,
		resolvedTradeID,
		tsUTC,
		formatOptionalFloat(in.HasStopPrice, in.StopPrice),
		formatOptionalFloat(in.HasPrice, in.Price),
		formatOptionalFloat(in.HasQty, in.Qty),
		source,
	})

	return map[string]interface{}{
		"schema_version": exitEventSchemaVersion,
		"event_id":       eventID,
		"event_type":     in.EventType,
		"symbol":         in.Symbol,
		"position_id":    nullableString(resolvedPositionID),
		"trade_id":       nullableString(resolvedTradeID),
		"entry_id":       nullableString(in.EntryID),
		"qty":            optionalFloat(in.HasQty, in.Qty),
		"price":          optionalFloat(in.HasPrice, in.Price),
		"stop_price":     optionalFloat(in.HasStopPrice, in.StopPrice),
		"stop_basis":     nullableString(in.StopBasis),
		"stop_action":    nullableString(in.StopAction),
		"reason":         nullableString(in.Reason),
		"entry_price":    optionalFloat(in.HasEntryPrice, in.EntryPrice),
		"entry_ts_utc":   nullableString(in.EntryTsUTC),
		"entry_ts_ny":    nullableString(resolvedEntryTsNY),
		"entry_date_ny":  nullableString(resolvedEntryDateNY),
		"exit_ts_utc":    nullableString(in.ExitTsUTC),
		"exit_ts_ny":     nullableString(resolvedExitTsNY),
		"exit_date_ny":   nullableString(resolvedExitDateNY),
		"ts_utc":         tsUTC,
		"ts_ny":          tsNY,
		"date_ny":        dateNY,
		"source":         source,
		"strategy_id":    strategyID,
		"sleeve_id":      sleeveID,
		"metadata":       metadata,
	}
}

// BuildExitEventFromLegacy wraps a broker-reconciliation event (described by
// a free-form map, e.g. STOP_SKIP_HELD) into the same shape as
// BuildExitEvent, using ctx for the entry-side fields — build_exit_event_from_legacy.
func BuildExitEventFromLegacy(legacy map[string]interface{}, symbol, source string, ctx EventContext) map[string]interface{} {
	eventType, _ := legacy["event"].(string)
	if eventType == "" {
		eventType, _ = legacy["event_type"].(string)
	}
	if eventType == "" {
		eventType = "UNKNOWN"
	}
	return BuildExitEvent(EventInput{
		EventType:     eventType,
		Symbol:        symbol,
		Source:        source,
		HasQty:        ctx.HasQty,
		Qty:           ctx.Qty,
		EntryID:       ctx.EntryID,
		HasEntryPrice: ctx.HasEntryPrice,
		EntryPrice:    ctx.EntryPrice,
		EntryTsUTC:    ctx.EntryTsUTC,
		EntryTsNY:     ctx.EntryTsNY,
		EntryDateNY:   ctx.EntryDateNY,
		PositionID:    ctx.PositionID,
		TradeID:       ctx.TradeID,
		Metadata:      legacy,
	})
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func optionalFloat(has bool, v float64) interface{} {
	if !has {
		return nil
	}
	return v
}

// ExitLedgerPath returns ledger/EXIT_EVENTS/{date}.jsonl rooted at repoRoot.
func ExitLedgerPath(repoRoot, dateNY string) string {
	return filepath.Join(repoRoot, "ledger", "EXIT_EVENTS", dateNY+".jsonl")
}

// AppendExitEvent stable-JSON-encodes event and appends it to the date's
// exit-events ledger — execution_v2.exit_events.append_exit_event.
func AppendExitEvent(repoRoot string, event map[string]interface{}) error {
	dateNY, _ := event["date_ny"].(string)
	if dateNY == "" {
		return fmt.Errorf("exit event missing date_ny")
	}
	encoded, err := ledgerio.MarshalStable(event)
	if err != nil {
		return fmt.Errorf("encode exit event: %w", err)
	}
	path := ExitLedgerPath(repoRoot, dateNY)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create exit ledger dir: %w", err)
	}
	return ledgerio.AppendJSONLLine(path, encoded)
}
