package exitmgmt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sentinelcore/audit-substrate/internal/ledgerio"
)

// ExitStage is the one-way R1/R2 staged-exit lifecycle, additive to (and
// independent of) the trailing structural stop — the exit position-state
// model's stage ∈ {OPEN, R1_TAKEN, CLOSED}.
type ExitStage string

const (
	StageOpen    ExitStage = "OPEN"
	StageR1Taken ExitStage = "R1_TAKEN"
	StageClosed  ExitStage = "CLOSED"
)

// StagedExitInput carries one position's profit-target parameters.
// HasR1Price/HasR2Price false disables that tier entirely, the same
// optional-field idiom every other guardrail input in this package uses.
type StagedExitInput struct {
	HasR1Price bool
	R1Price    float64
	R1Qty      int
	HasR2Price bool
	R2Price    float64
	R2Qty      int

	HasEntryPrice bool
	EntryPrice    float64
}

// ApplyStagedExit advances state's R1/R2 progress given lastPrice:
// OPEN -> R1_TAKEN trims r1_qty from qty_remaining and raises the stop to
// breakeven (entry_price) once last_price >= r1_price; R1_TAKEN -> CLOSED
// trims r2_qty once last_price >= r2_price. Stage transitions are one-way
// and qty_remaining only decreases. The breakeven stop composes with the
// trailing structural stop through the same non-decreasing max rule
// ApplyTrailingStop uses, never lowering an existing stop.
//
// spec.md's exit-event model has no dedicated R1/R2 event_type; a partial
// profit-take is exactly what EXIT_FILLED already models (one fill's
// qty/price against the position), so that is what this emits, tagged by
// stop_action ("r1_taken"/"r2_taken") and reason ("r1_target"/"r2_target").
func ApplyStagedExit(state PositionState, in StagedExitInput, lastPrice float64, source string) (PositionState, []map[string]interface{}) {
	// A never-persisted state (Stage == "") has qty_remaining undefined, so it
	// defaults to the full position. Once a stage has actually been recorded,
	// qty_remaining == 0 is a legitimate fact (the tier in question fully
	// filled) and must not be overwritten back to Qty.
	if state.Stage == "" {
		state.Stage = StageOpen
		state.QtyRemaining = state.Qty
	}

	var events []map[string]interface{}

	switch state.Stage {
	case StageOpen:
		if in.HasR1Price && lastPrice >= in.R1Price && state.QtyRemaining > 0 {
			trimQty := in.R1Qty
			if trimQty > state.QtyRemaining {
				trimQty = state.QtyRemaining
			}
			state.QtyRemaining -= trimQty
			state.Stage = StageR1Taken
			if in.HasEntryPrice {
				if !state.HasStopPrice || in.EntryPrice > state.StopPrice {
					state.StopPrice = in.EntryPrice
				}
				state.HasStopPrice = true
			}
			events = append(events, BuildExitEvent(EventInput{
				EventType: "EXIT_FILLED", Symbol: state.Symbol, Source: source,
				HasQty: true, Qty: float64(trimQty), HasPrice: true, Price: lastPrice,
				HasStopPrice: state.HasStopPrice, StopPrice: state.StopPrice,
				StopAction: "r1_taken", Reason: "r1_target",
				HasEntryPrice: in.HasEntryPrice, EntryPrice: in.EntryPrice,
			}))
		}
	case StageR1Taken:
		if in.HasR2Price && lastPrice >= in.R2Price && state.QtyRemaining > 0 {
			trimQty := in.R2Qty
			if trimQty > state.QtyRemaining {
				trimQty = state.QtyRemaining
			}
			state.QtyRemaining -= trimQty
			state.Stage = StageClosed
			events = append(events, BuildExitEvent(EventInput{
				EventType: "EXIT_FILLED", Symbol: state.Symbol, Source: source,
				HasQty: true, Qty: float64(trimQty), HasPrice: true, Price: lastPrice,
				HasStopPrice: state.HasStopPrice, StopPrice: state.StopPrice,
				StopAction: "r2_taken", Reason: "r2_target",
				HasEntryPrice: in.HasEntryPrice, EntryPrice: in.EntryPrice,
			}))
		}
	case StageClosed:
		// Terminal; no further tiers to take.
	}

	return state, events
}

// loadStagedState loads symbol's persisted PositionState from store, or
// builds a fresh OPEN one at the position's current qty if store is nil or
// has no prior record. Load errors degrade to a fresh state rather than
// aborting the cycle, matching this package's "missing input degrades to
// empty" failure posture.
func loadStagedState(store PositionStore, symbol string, qty int, log func(string)) PositionState {
	fresh := PositionState{Symbol: symbol, Qty: qty, Stage: StageOpen, QtyRemaining: qty}
	if store == nil {
		return fresh
	}
	state, ok, err := store.Load(symbol)
	if err != nil {
		if log != nil {
			log("EXIT: position-state load failed for " + symbol + ": " + err.Error())
		}
		return fresh
	}
	if !ok {
		return fresh
	}
	state.Qty = qty
	if state.Stage == "" {
		state.Stage = StageOpen
		state.QtyRemaining = qty
	}
	return state
}

// positionStateRecord is PositionState's on-disk JSON shape: time.Time
// fields are carried as RFC3339 strings so JSONPositionStore's files are
// plain, inspectable JSON rather than Go's default time encoding.
type positionStateRecord struct {
	Symbol            string  `json:"symbol"`
	Qty               int     `json:"qty"`
	HasStopPrice      bool    `json:"has_stop_price"`
	StopPrice         float64 `json:"stop_price"`
	StopOrderID       string  `json:"stop_order_id"`
	StopBasis         string  `json:"stop_basis"`
	HasLastStopUpdate bool    `json:"has_last_stop_update"`
	LastStopUpdateTs  string  `json:"last_stop_update_ts"`
	Stage             string  `json:"stage"`
	QtyRemaining      int     `json:"qty_remaining"`
}

func toPositionStateRecord(s PositionState) positionStateRecord {
	rec := positionStateRecord{
		Symbol: s.Symbol, Qty: s.Qty, HasStopPrice: s.HasStopPrice, StopPrice: s.StopPrice,
		StopOrderID: s.StopOrderID, StopBasis: s.StopBasis, HasLastStopUpdate: s.HasLastStopUpdate,
		Stage: string(s.Stage), QtyRemaining: s.QtyRemaining,
	}
	if s.HasLastStopUpdate {
		rec.LastStopUpdateTs = s.LastStopUpdateTs.UTC().Format(time.RFC3339)
	}
	return rec
}

func (rec positionStateRecord) toPositionState() PositionState {
	s := PositionState{
		Symbol: rec.Symbol, Qty: rec.Qty, HasStopPrice: rec.HasStopPrice, StopPrice: rec.StopPrice,
		StopOrderID: rec.StopOrderID, StopBasis: rec.StopBasis, HasLastStopUpdate: rec.HasLastStopUpdate,
		Stage: ExitStage(rec.Stage), QtyRemaining: rec.QtyRemaining,
	}
	if rec.HasLastStopUpdate {
		if ts, err := time.Parse(time.RFC3339, rec.LastStopUpdateTs); err == nil {
			s.LastStopUpdateTs = ts
		}
	}
	return s
}

// JSONPositionStore persists one PositionState per symbol as an
// atomically-written JSON file under {root}/{symbol}.json — the same
// temp+rename atomicity every ledger/feature-store writer in this repo
// uses (internal/ledgerio.AtomicWriteFile), giving R1/R2 stage and
// qty_remaining tracking a durable home across process restarts.
type JSONPositionStore struct {
	Root string
}

// NewJSONPositionStore roots the store at {repoRoot}/state/EXIT_POSITIONS,
// a sibling of the ledger/ and feature_store_data/ trees this repo already
// persists under repoRoot.
func NewJSONPositionStore(repoRoot string) *JSONPositionStore {
	return &JSONPositionStore{Root: filepath.Join(repoRoot, "state", "EXIT_POSITIONS")}
}

func (s *JSONPositionStore) path(symbol string) string {
	return filepath.Join(s.Root, strings.ToUpper(symbol)+".json")
}

// Load returns the persisted state for symbol, or (zero, false, nil) if
// none has ever been saved — matching this repo's "missing input degrades
// to empty" failure semantics (spec §7).
func (s *JSONPositionStore) Load(symbol string) (PositionState, bool, error) {
	raw, err := os.ReadFile(s.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return PositionState{}, false, nil
		}
		return PositionState{}, false, err
	}
	var rec positionStateRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return PositionState{}, false, err
	}
	return rec.toPositionState(), true, nil
}

// Save atomically writes state, replacing any prior record for its symbol.
func (s *JSONPositionStore) Save(state PositionState) error {
	encoded, err := ledgerio.MarshalStable(toPositionStateRecord(state))
	if err != nil {
		return err
	}
	return ledgerio.AtomicWriteFile(s.path(state.Symbol), encoded, 0o644)
}
