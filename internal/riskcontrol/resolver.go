// Package riskcontrol implements the risk-control resolver: it composes an
// externally written throttle ledger (or a regime signal fallback) with a
// drawdown guardrail into a deterministic RiskControls value, and exposes
// AdjustOrderQuantity.
package riskcontrol

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/sentinelcore/audit-substrate/internal/ledgerio"
)

const (
	schemaVersion          = 1
	recordTypeThrottle     = "PORTFOLIO_THROTTLE"
	recordTypeRiskControls = "PORTFOLIO_RISK_CONTROLS"
	recordTypeRegimeSignal = "REGIME_E1_SIGNAL"
	recordTypeRegimeSkip   = "REGIME_E1_SKIPPED"

	// DefaultDrawdownBlockPct is the fallback guardrail threshold used when
	// neither a caller-supplied value nor PORTFOLIO_MAX_DRAWDOWN_PCT_BLOCK
	// is available.
	DefaultDrawdownBlockPct = 0.2
)

// RiskControls is the resolved, date-scoped value object produced by Build.
type RiskControls struct {
	RiskMultiplier    float64
	MaxGrossExposure  *float64
	MaxPositions      *int
	PerPositionCap    *float64
	ThrottleReason    string
}

// Result bundles the resolved controls with the reasons that produced them
// and the ledger record actually written (nil if write_ledger was false or
// modulation is disabled).
type Result struct {
	Controls RiskControls
	Reasons  []string
	Record   map[string]interface{}
}

// Resolver resolves RiskControls for a given NY date by reading the ledger
// tree rooted at LedgerRoot.
type Resolver struct {
	LedgerRoot string
	log        zerolog.Logger
}

// New constructs a Resolver rooted at ledgerRoot (the directory containing
// the `ledger/` tree).
func New(ledgerRoot string, log zerolog.Logger) *Resolver {
	return &Resolver{LedgerRoot: ledgerRoot, log: log.With().Str("component", "risk_control_resolver").Logger()}
}

// BuildInput carries every optional caller-supplied knob to Build.
type BuildInput struct {
	NYDate                string
	BaseMaxPositions      *int
	BaseMaxGrossExposure  *float64
	BasePerPositionCap    *float64
	Drawdown              *float64
	MaxDrawdownPctBlock   *float64
	AsOfUTC               string
	Enabled               bool
	WriteLedger           bool
}

// Build runs the full risk-control resolution algorithm.
func (r *Resolver) Build(in BuildInput) (Result, error) {
	if !in.Enabled {
		controls := RiskControls{
			RiskMultiplier:   1.0,
			MaxGrossExposure: in.BaseMaxGrossExposure,
			MaxPositions:     in.BaseMaxPositions,
			PerPositionCap:   in.BasePerPositionCap,
			ThrottleReason:   "disabled",
		}
		return Result{Controls: controls, Reasons: []string{"disabled"}}, nil
	}

	throttle, throttleReasons, source := r.resolveThrottle(in.NYDate)

	drawdownMultiplier, drawdownReasons := drawdownGuardrailMultiplier(in.Drawdown, in.MaxDrawdownPctBlock)

	riskMultiplier := clamp01(throttle.RiskMultiplier)
	riskMultiplier = math.Min(riskMultiplier, drawdownMultiplier)

	var maxPositions *int
	if in.BaseMaxPositions != nil && throttle.HasMaxNewPositionsMultiplier {
		v := int(math.Floor(float64(*in.BaseMaxPositions) * throttle.MaxNewPositionsMultiplier))
		if v < 0 {
			v = 0
		}
		maxPositions = &v
	}

	var maxGrossExposure *float64
	if in.BaseMaxGrossExposure != nil {
		v := *in.BaseMaxGrossExposure * riskMultiplier
		maxGrossExposure = &v
	}

	var perPositionCap *float64
	if in.BasePerPositionCap != nil {
		v := *in.BasePerPositionCap * riskMultiplier
		perPositionCap = &v
	}

	reasons := orderedReasons(append(append([]string{}, throttleReasons...), drawdownReasons...))
	throttleReason := "ok"
	if len(reasons) > 0 {
		throttleReason = reasons[0]
	}

	controls := RiskControls{
		RiskMultiplier:   riskMultiplier,
		MaxGrossExposure: maxGrossExposure,
		MaxPositions:     maxPositions,
		PerPositionCap:   perPositionCap,
		ThrottleReason:   throttleReason,
	}

	result := Result{Controls: controls, Reasons: reasons}

	if in.WriteLedger {
		record := buildRecord(in.NYDate, in.AsOfUTC, source, controls, reasons)
		if err := r.appendRecord(in.NYDate, record); err != nil {
			return Result{}, fmt.Errorf("append risk controls record: %w", err)
		}
		result.Record = record
	}

	return result, nil
}

// AdjustOrderQuantity applies risk_multiplier, per_position_cap, and
// max_gross_exposure in that order, then finalizes against min_qty.
// Programmer errors (price/equity <= 0) return an error rather than degrade.
func AdjustOrderQuantity(baseQty int, price, accountEquity float64, controls RiskControls, grossExposure *float64, minQty *int) (int, error) {
	if baseQty <= 0 {
		return 0, nil
	}
	if price <= 0 {
		return 0, fmt.Errorf("adjust_order_quantity: price must be positive, got %v", price)
	}
	if accountEquity <= 0 {
		return 0, fmt.Errorf("adjust_order_quantity: account_equity must be positive, got %v", accountEquity)
	}

	adjusted := int(math.Floor(float64(baseQty) * controls.RiskMultiplier))

	if controls.PerPositionCap != nil {
		cap := int(math.Floor((accountEquity * (*controls.PerPositionCap)) / price))
		adjusted = minInt(adjusted, cap)
	}

	if controls.MaxGrossExposure != nil && grossExposure != nil {
		remaining := (accountEquity * (*controls.MaxGrossExposure)) - *grossExposure
		if remaining < 0 {
			remaining = 0
		}
		cap := int(math.Floor(remaining / price))
		adjusted = minInt(adjusted, cap)
	}

	return finalizeQty(baseQty, adjusted, minQty), nil
}

func finalizeQty(baseQty, adjustedQty int, minQty *int) int {
	adjustedQty = minInt(baseQty, maxInt(0, adjustedQty))
	if baseQty <= 0 {
		return 0
	}
	minimum := 1
	if minQty != nil && *minQty > minimum {
		minimum = *minQty
	}
	minimum = minInt(baseQty, minimum)
	return maxInt(adjustedQty, minimum)
}

func drawdownGuardrailMultiplier(drawdown, threshold *float64) (float64, []string) {
	if drawdown == nil || threshold == nil {
		return 1.0, nil
	}
	if *drawdown >= *threshold {
		return 0.0, []string{"drawdown_guardrail"}
	}
	return 1.0, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func orderedReasons(reasons []string) []string {
	seen := make(map[string]struct{}, len(reasons))
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func buildRecord(nyDate, asOfUTC, source string, controls RiskControls, reasons []string) map[string]interface{} {
	if asOfUTC == "" {
		asOfUTC = nyDate + "T16:00:00+00:00"
	}
	return map[string]interface{}{
		"as_of_utc":         asOfUTC,
		"requested_ny_date": nyDate,
		"resolved_ny_date":  nyDate,
		"record_type":       recordTypeRiskControls,
		"schema_version":    schemaVersion,
		"provenance":        map[string]interface{}{"module": "riskcontrol"},
		"source":            source,
		"risk_controls": map[string]interface{}{
			"risk_multiplier":     controls.RiskMultiplier,
			"max_gross_exposure":  numPtrOrNil(controls.MaxGrossExposure),
			"max_positions":       intPtrOrNil(controls.MaxPositions),
			"per_position_cap":    numPtrOrNil(controls.PerPositionCap),
			"throttle_reason":     controls.ThrottleReason,
			"reasons":             reasons,
		},
	}
}

func numPtrOrNil(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func intPtrOrNil(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func (r *Resolver) appendRecord(nyDate string, record map[string]interface{}) error {
	path := r.riskControlsPath(nyDate)
	encoded, err := ledgerio.MarshalStable(record)
	if err != nil {
		return err
	}
	return ledgerio.AppendJSONLLine(path, encoded)
}
