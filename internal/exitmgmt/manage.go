package exitmgmt

import "time"

// MarketData supplies the intraday/daily bar series manage_positions needs
// per symbol.
type MarketData interface {
	GetIntradayBars(symbol string, minutes, lookbackDays int) ([]Bar, error)
	GetDailyBars(symbol string, lookbackDays int) ([]Bar, error)
}

// ManagePositions runs one exit-management cycle over every open position:
// advance any R1/R2 staged-exit tier, resolve a structural stop, trail it
// forward, apply the session guardrails, then reconcile the broker-side
// stop order. dryRun skips the broker reconciliation call but still
// records the resolved/ratcheted stop event and any staged-exit fill —
// execution_v2.exits.manage_positions. store may be nil, which disables
// R1/R2 tracking entirely (every position behaves as stage-less OPEN,
// matching this package's behavior before staged exits existed).
func ManagePositions(client TradingClient, md MarketData, cfg Config, repoRoot string, dryRun bool, log func(string), store PositionStore) {
	if log == nil {
		log = func(string) {}
	}

	positions, err := client.GetAllPositions()
	if err != nil {
		log("EXIT: positions unavailable (" + err.Error() + ")")
		return
	}

	now := time.Now()
	for _, pos := range positions {
		managePosition(client, md, cfg, repoRoot, dryRun, log, pos, now, store)
	}
}

func managePosition(client TradingClient, md MarketData, cfg Config, repoRoot string, dryRun bool, log func(string), pos Position, now time.Time, store PositionStore) {
	if log == nil {
		log = func(string) {}
	}
	symbol := pos.Symbol
	if symbol == "" || pos.Qty <= 0 {
		return
	}

	appendSafe := func(event map[string]interface{}) {
		if err := AppendExitEvent(repoRoot, event); err != nil {
			log("EXIT: telemetry append failed (" + err.Error() + ")")
		}
	}

	stagedState := loadStagedState(store, symbol, pos.Qty, log)
	if store != nil && pos.CurrentPrice > 0 {
		stagedInput := StagedExitInput{
			HasR1Price: pos.HasR1Price, R1Price: pos.R1Price, R1Qty: pos.R1Qty,
			HasR2Price: pos.HasR2Price, R2Price: pos.R2Price, R2Qty: pos.R2Qty,
			HasEntryPrice: pos.HasAvgEntry, EntryPrice: pos.AvgEntryPrice,
		}
		var stagedEvents []map[string]interface{}
		stagedState, stagedEvents = ApplyStagedExit(stagedState, stagedInput, pos.CurrentPrice, cfg.TelemetrySource)
		for _, ev := range stagedEvents {
			appendSafe(ev)
		}
	}
	saveStagedState := func() {
		if store == nil {
			return
		}
		if err := store.Save(stagedState); err != nil {
			log("EXIT: position-state save failed for " + symbol + ": " + err.Error())
		}
	}
	defer saveStagedState()

	if stagedState.Stage == StageClosed {
		return
	}

	intradayBars, err := md.GetIntradayBars(symbol, cfg.IntradayMinutes, cfg.IntradayLookbackDays)
	if err != nil {
		log("EXIT: intraday bars unavailable for " + symbol + ": " + err.Error())
		return
	}
	dailyBars, err := md.GetDailyBars(symbol, cfg.DailyLookbackDays)
	if err != nil {
		log("EXIT: daily bars unavailable for " + symbol + ": " + err.Error())
		return
	}

	phase := ResolveSessionPhase(now)
	if cfg.SessionGuardrails && !AllowsIntradayStop(phase) {
		intradayBars = nil
	}

	candidateStop, stopBasis, hasCandidate := ResolveStructuralStop(intradayBars, dailyBars, cfg.StopBufferDollars, cfg.MinIntradayBars)

	existingStop, hasExisting := ReadExistingStop(client, symbol, pos.Qty, true, candidateStop, hasCandidate, cfg.StopSelectionV2)

	if cfg.SessionGuardrails && hasExisting && !AllowsRatchet(phase) {
		hasCandidate = false
	}

	desiredStop, hasDesired := ApplyTrailingStop(existingStop, hasExisting, candidateStop, hasCandidate)
	// The R1 breakeven floor (ApplyStagedExit) is additive to the trailing
	// structural stop: compose the two through the same non-decreasing max
	// rule so a breakeven stop can raise but never lower the structural one.
	desiredStop, hasDesired = ApplyTrailingStop(desiredStop, hasDesired, stagedState.StopPrice, stagedState.HasStopPrice)
	if !hasDesired {
		return
	}

	minSinceEntry := time.Duration(cfg.MinTimeSinceEntryMinutes) * time.Minute
	if !pos.HasEntryTsUTC {
		minSinceEntry = 0
	}
	if cfg.SessionGuardrails && !hasExisting && isTooEarly(now, pos.EntryTsUTC, minSinceEntry, len(intradayBars), cfg.MinIntradayBars) {
		event := BuildExitEvent(EventInput{
			EventType:     "STOP_TOO_EARLY_SKIPPED",
			Symbol:        symbol,
			HasQty:        true,
			Qty:           float64(pos.Qty),
			HasStopPrice:  true,
			StopPrice:     desiredStop,
			StopBasis:     string(stopBasis),
			StopAction:    "skip_too_early",
			HasEntryPrice: pos.HasAvgEntry,
			EntryPrice:    pos.AvgEntryPrice,
			Source:        cfg.TelemetrySource,
		})
		appendSafe(event)
		log("EXIT: skip too-early stop " + symbol)
		return
	}

	if cfg.SessionGuardrails && isTooClose(desiredStop, pos.CurrentPrice, cfg.MinStopDistancePct) {
		event := BuildExitEvent(EventInput{
			EventType:     "STOP_TOO_CLOSE_SKIPPED",
			Symbol:        symbol,
			HasQty:        true,
			Qty:           float64(pos.Qty),
			HasStopPrice:  true,
			StopPrice:     desiredStop,
			StopBasis:     string(stopBasis),
			StopAction:    "skip_too_close",
			HasEntryPrice: pos.HasAvgEntry,
			EntryPrice:    pos.AvgEntryPrice,
			Source:        cfg.TelemetrySource,
		})
		appendSafe(event)
		log("EXIT: skip too-close stop " + symbol)
		return
	}

	// Guardrail A: a sell stop at or above the current tape would trigger
	// immediately.
	if pos.CurrentPrice > 0 && desiredStop >= pos.CurrentPrice {
		event := BuildExitEvent(EventInput{
			EventType:     "STOP_INVALID_SKIPPED",
			Symbol:        symbol,
			HasQty:        true,
			Qty:           float64(pos.Qty),
			HasStopPrice:  true,
			StopPrice:     desiredStop,
			StopBasis:     string(stopBasis),
			StopAction:    "skip>=current",
			HasEntryPrice: pos.HasAvgEntry,
			EntryPrice:    pos.AvgEntryPrice,
			Source:        cfg.TelemetrySource,
		})
		appendSafe(event)
		log("EXIT: skip invalid stop " + symbol + " stop>=current")
		return
	}

	// Guardrail B: an initial stop must sit below the entry price.
	if !hasExisting && pos.HasAvgEntry && desiredStop >= pos.AvgEntryPrice {
		event := BuildExitEvent(EventInput{
			EventType:     "STOP_INVALID_SKIPPED",
			Symbol:        symbol,
			HasQty:        true,
			Qty:           float64(pos.Qty),
			HasStopPrice:  true,
			StopPrice:     desiredStop,
			StopBasis:     string(stopBasis),
			StopAction:    "skip>=entry",
			HasEntryPrice: pos.HasAvgEntry,
			EntryPrice:    pos.AvgEntryPrice,
			Source:        cfg.TelemetrySource,
		})
		appendSafe(event)
		log("EXIT: skip invalid initial stop " + symbol + " stop>=entry")
		return
	}

	ctx := EventContext{Symbol: symbol, HasQty: true, Qty: float64(pos.Qty), HasEntryPrice: pos.HasAvgEntry, EntryPrice: pos.AvgEntryPrice}

	if !hasExisting {
		appendSafe(BuildExitEvent(EventInput{
			EventType: "STOP_RESOLVED", Symbol: symbol, HasQty: true, Qty: float64(pos.Qty),
			HasStopPrice: true, StopPrice: desiredStop, StopBasis: string(stopBasis), StopAction: "initial",
			HasEntryPrice: pos.HasAvgEntry, EntryPrice: pos.AvgEntryPrice, Source: cfg.TelemetrySource,
		}))
	} else if desiredStop > existingStop {
		appendSafe(BuildExitEvent(EventInput{
			EventType: "STOP_RATCHET", Symbol: symbol, HasQty: true, Qty: float64(pos.Qty),
			HasStopPrice: true, StopPrice: desiredStop, StopBasis: string(stopBasis), StopAction: "ratchet",
			HasEntryPrice: pos.HasAvgEntry, EntryPrice: pos.AvgEntryPrice, Source: cfg.TelemetrySource,
		}))
	}

	if dryRun {
		log("DRY_RUN: would reconcile stop " + symbol)
		return
	}

	state := PositionState{Symbol: symbol, Qty: pos.Qty, HasStopPrice: hasExisting, StopPrice: existingStop}
	appendLegacy := func(event map[string]interface{}) {
		appendSafe(BuildExitEventFromLegacy(event, symbol, cfg.TelemetrySource, ctx))
	}
	if _, err := ReconcileStopOrder(client, state, pos.Qty, desiredStop, cfg.StopSelectionV2, log, appendLegacy); err != nil {
		log("EXIT: reconcile failed for " + symbol + ": " + err.Error())
	}
}
