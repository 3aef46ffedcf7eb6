package exitmgmt

import "time"

// SimulateExitInput carries everything simulate_exit needs. It is a pure
// function: given a fixed bar history it returns the exit-event sequence
// deterministically, reusing the same ResolveStructuralStop/ApplyTrailingStop
// helpers the live manage.go path uses — execution_v2.exit_simulator.simulate_exit.
type SimulateExitInput struct {
	Symbol            string
	EntryPrice        float64
	Qty               float64
	EntryTsUTC        string
	IntradayBars      []Bar
	DailyBars         []Bar
	StopBufferDollars float64
	MinIntradayBars   int
	Source            string
	StrategyID        string
	SleeveID          string

	// HasR1Price/HasR2Price replay the same R1/R2 staged-exit tiers
	// ApplyStagedExit applies to a live position, additive to the trailing
	// structural stop simulated below.
	HasR1Price bool
	R1Price    float64
	R1Qty      float64
	HasR2Price bool
	R2Price    float64
	R2Qty      float64
}

// SimulateExit replays a position's intraday bar sequence, resolving and
// ratcheting a structural stop bar-by-bar, advancing any R1/R2 staged-exit
// tier against the bar's high, and emitting STOP_RESOLVED, STOP_RATCHET,
// EXIT_FILLED (on an R1/R2 target or a stop-hit low), and — if the stop
// never triggers and no tier closes the position — a terminal STOP_HELD
// event for whatever quantity remains.
func SimulateExit(in SimulateExitInput) []map[string]interface{} {
	var events []map[string]interface{}
	var stopPrice float64
	var hasStop bool
	var stopBasis string
	var hasExit bool

	stage := StageOpen
	qtyRemaining := in.Qty

	minIntradayBars := in.MinIntradayBars
	if minIntradayBars == 0 {
		minIntradayBars = 6
	}
	source := in.Source
	if source == "" {
		source = "simulation"
	}

	for idx, bar := range in.IntradayBars {
		candidateStop, candidateBasis, hasCandidate := ResolveStructuralStop(in.IntradayBars[:idx+1], in.DailyBars, in.StopBufferDollars, minIntradayBars)
		desiredStop, hasDesired := ApplyTrailingStop(stopPrice, hasStop, candidateStop, hasCandidate)

		barTs := barTime(bar)

		if hasDesired && !hasStop {
			stopPrice, hasStop, stopBasis = desiredStop, true, string(candidateBasis)
			events = append(events, BuildExitEvent(EventInput{
				EventType: "STOP_RESOLVED", Symbol: in.Symbol, Ts: barTs, Source: source,
				HasQty: true, Qty: qtyRemaining, HasStopPrice: true, StopPrice: stopPrice, StopBasis: stopBasis,
				StopAction: "initial", HasEntryPrice: true, EntryPrice: in.EntryPrice, EntryTsUTC: in.EntryTsUTC,
				StrategyID: in.StrategyID, SleeveID: in.SleeveID,
			}))
		} else if hasDesired && hasStop && desiredStop > stopPrice {
			stopPrice = desiredStop
			if candidateBasis != "" {
				stopBasis = string(candidateBasis)
			}
			events = append(events, BuildExitEvent(EventInput{
				EventType: "STOP_RATCHET", Symbol: in.Symbol, Ts: barTs, Source: source,
				HasQty: true, Qty: qtyRemaining, HasStopPrice: true, StopPrice: stopPrice, StopBasis: stopBasis,
				StopAction: "ratchet", HasEntryPrice: true, EntryPrice: in.EntryPrice, EntryTsUTC: in.EntryTsUTC,
				StrategyID: in.StrategyID, SleeveID: in.SleeveID,
			}))
		}

		if stage == StageOpen && in.HasR1Price && qtyRemaining > 0 && bar.High >= in.R1Price {
			fillQty := in.R1Qty
			if fillQty > qtyRemaining {
				fillQty = qtyRemaining
			}
			qtyRemaining -= fillQty
			stage = StageR1Taken
			if !hasStop || in.EntryPrice > stopPrice {
				stopPrice, hasStop = in.EntryPrice, true
			}
			events = append(events, BuildExitEvent(EventInput{
				EventType: "EXIT_FILLED", Symbol: in.Symbol, Ts: barTs, Source: source,
				HasQty: true, Qty: fillQty, HasPrice: true, Price: in.R1Price, HasStopPrice: hasStop, StopPrice: stopPrice,
				StopAction: "r1_taken", Reason: "r1_target",
				HasEntryPrice: true, EntryPrice: in.EntryPrice, EntryTsUTC: in.EntryTsUTC,
				StrategyID: in.StrategyID, SleeveID: in.SleeveID,
			}))
		}

		if stage == StageR1Taken && in.HasR2Price && qtyRemaining > 0 && bar.High >= in.R2Price {
			fillQty := in.R2Qty
			if fillQty > qtyRemaining {
				fillQty = qtyRemaining
			}
			qtyRemaining -= fillQty
			stage = StageClosed
			events = append(events, BuildExitEvent(EventInput{
				EventType: "EXIT_FILLED", Symbol: in.Symbol, Ts: barTs, Source: source,
				HasQty: true, Qty: fillQty, HasPrice: true, Price: in.R2Price, HasStopPrice: hasStop, StopPrice: stopPrice,
				StopAction: "r2_taken", Reason: "r2_target",
				HasEntryPrice: true, EntryPrice: in.EntryPrice, EntryTsUTC: in.EntryTsUTC,
				StrategyID: in.StrategyID, SleeveID: in.SleeveID,
			}))
		}

		if stage == StageClosed || qtyRemaining <= 0 {
			hasExit = true
			break
		}

		if !hasStop {
			continue
		}

		if bar.Low <= stopPrice {
			ts := barTs
			if ts == nil {
				now := time.Now().UTC()
				ts = &now
			}
			exitTsUTC := formatISO(ts.UTC())
			events = append(events, BuildExitEvent(EventInput{
				EventType: "EXIT_FILLED", Symbol: in.Symbol, Ts: ts, Source: source,
				HasQty: true, Qty: qtyRemaining, HasPrice: true, Price: stopPrice, HasStopPrice: true, StopPrice: stopPrice,
				StopBasis: stopBasis, StopAction: "triggered", Reason: "stop_hit",
				HasEntryPrice: true, EntryPrice: in.EntryPrice, EntryTsUTC: in.EntryTsUTC, ExitTsUTC: exitTsUTC,
				StrategyID: in.StrategyID, SleeveID: in.SleeveID,
			}))
			hasExit = true
			break
		}
	}

	if !hasExit && hasStop {
		var ts *time.Time
		if len(in.IntradayBars) > 0 {
			ts = barTime(in.IntradayBars[len(in.IntradayBars)-1])
		}
		events = append(events, BuildExitEvent(EventInput{
			EventType: "STOP_HELD", Symbol: in.Symbol, Ts: ts, Source: source,
			HasQty: true, Qty: qtyRemaining, HasStopPrice: true, StopPrice: stopPrice, StopBasis: stopBasis,
			StopAction: "held", HasEntryPrice: true, EntryPrice: in.EntryPrice, EntryTsUTC: in.EntryTsUTC,
			StrategyID: in.StrategyID, SleeveID: in.SleeveID,
		}))
	}

	return events
}

func barTime(bar Bar) *time.Time {
	if bar.TimestampUnix == 0 {
		return nil
	}
	t := time.Unix(int64(bar.TimestampUnix), 0).UTC()
	return &t
}
