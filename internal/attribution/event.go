// Package attribution implements the risk-attribution ledger: per-decision
// events with deterministic hashing, plus daily and rolling (20-trading-day)
// summaries.
package attribution

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"github.com/sentinelcore/audit-substrate/internal/ledgerio"
	"github.com/sentinelcore/audit-substrate/internal/riskcontrol"
)

const (
	schemaVersion = 1
	recordType    = "PORTFOLIO_RISK_ATTRIBUTION"
)

// EventInput carries every input needed to build one attribution event.
type EventInput struct {
	DateNY              string
	Symbol              string
	BaselineQty         int
	ModulatedQty        int
	Price               float64
	AccountEquity       *float64
	GrossExposure       *float64
	RiskControls        *riskcontrol.RiskControls
	RiskControlReasons  []string
	ThrottleSource      string
	ThrottleRegimeLabel string
	ThrottlePolicyRef   string
	Drawdown            *float64
	DrawdownThreshold   *float64
	MinQty              *int
	Source              string
	CorrelationPenalty  float64
}

// BuildEvent constructs the frozen attribution record, with a
// deterministic decision_id hashed over a fixed payload subset.
func BuildEvent(in EventInput) (map[string]interface{}, error) {
	baselineNotional := in.Price * float64(in.BaselineQty)
	modulatedNotional := in.Price * float64(in.ModulatedQty)
	deltaQty := in.ModulatedQty - in.BaselineQty
	deltaNotional := modulatedNotional - baselineNotional

	hardCaps := inferHardCaps(in.BaselineQty, in.Price, in.AccountEquity, in.RiskControls, in.GrossExposure, in.MinQty)
	reasonCodes := orderedReasonCodes(in.RiskControlReasons)

	drawdownApplied := in.Drawdown != nil && in.DrawdownThreshold != nil && *in.Drawdown >= *in.DrawdownThreshold

	decisionPayload := map[string]interface{}{
		"date_ny":                in.DateNY,
		"symbol":                 in.Symbol,
		"baseline_qty":           in.BaselineQty,
		"modulated_qty":          in.ModulatedQty,
		"price":                  in.Price,
		"source":                 in.Source,
		"throttle_source":        nullableString(in.ThrottleSource),
		"throttle_regime_label":  nullableString(in.ThrottleRegimeLabel),
		"drawdown":               floatPtrOrNil(in.Drawdown),
		"drawdown_threshold":     floatPtrOrNil(in.DrawdownThreshold),
	}
	decisionID, err := ledgerio.HashStablePayload(decisionPayload)
	if err != nil {
		return nil, fmt.Errorf("hash decision payload: %w", err)
	}

	var riskMultiplier, maxGrossExposure, perPositionCap interface{}
	var maxPositions interface{}
	var throttleReason interface{}
	if in.RiskControls != nil {
		riskMultiplier = in.RiskControls.RiskMultiplier
		maxGrossExposure = floatPtrOrNil(in.RiskControls.MaxGrossExposure)
		maxPositions = intPtrOrNil(in.RiskControls.MaxPositions)
		perPositionCap = floatPtrOrNil(in.RiskControls.PerPositionCap)
		throttleReason = in.RiskControls.ThrottleReason
	}

	event := map[string]interface{}{
		"schema_version": schemaVersion,
		"record_type":    recordType,
		"decision_id":    decisionID,
		"date_ny":        in.DateNY,
		"symbol":         in.Symbol,
		"source":         in.Source,
		"baseline": map[string]interface{}{
			"qty":      in.BaselineQty,
			"notional": baselineNotional,
		},
		"modulated": map[string]interface{}{
			"qty":      in.ModulatedQty,
			"notional": modulatedNotional,
		},
		"delta": map[string]interface{}{
			"qty":          deltaQty,
			"notional":     deltaNotional,
			"pct_qty":      pctDelta(float64(deltaQty), float64(in.BaselineQty)),
			"pct_notional": pctDelta(deltaNotional, baselineNotional),
		},
		"regime": map[string]interface{}{
			"code":                nullableString(in.ThrottleRegimeLabel),
			"source":              nullableString(in.ThrottleSource),
			"throttle_policy_ref": nullableString(in.ThrottlePolicyRef),
		},
		"drawdown_guard": map[string]interface{}{
			"applied":   drawdownApplied,
			"drawdown":  floatPtrOrNil(in.Drawdown),
			"threshold": floatPtrOrNil(in.DrawdownThreshold),
		},
		"hard_caps_applied": hardCaps,
		"reason_codes":      reasonCodes,
		"risk_controls": map[string]interface{}{
			"risk_multiplier":    riskMultiplier,
			"max_gross_exposure": maxGrossExposure,
			"max_positions":      maxPositions,
			"per_position_cap":   perPositionCap,
			"throttle_reason":    throttleReason,
		},
		"correlation_penalty": in.CorrelationPenalty,
	}

	return event, nil
}

func pctDelta(delta, baseline float64) interface{} {
	if baseline <= 0 {
		return nil
	}
	return delta / baseline
}

func inferHardCaps(baseQty int, price float64, accountEquity *float64, rc *riskcontrol.RiskControls, grossExposure *float64, minQty *int) []string {
	if baseQty <= 0 || rc == nil || accountEquity == nil {
		return []string{}
	}

	var caps []string
	adjusted := int(math.Floor(float64(baseQty) * rc.RiskMultiplier))
	if adjusted < baseQty {
		caps = append(caps, "risk_multiplier")
	}

	if rc.PerPositionCap != nil {
		capQty := int(math.Floor((*accountEquity * (*rc.PerPositionCap)) / price))
		if capQty < adjusted {
			caps = append(caps, "per_position_cap")
		}
		if capQty < adjusted {
			adjusted = capQty
		}
	}

	if rc.MaxGrossExposure != nil && grossExposure != nil {
		limit := *rc.MaxGrossExposure
		if limit <= 1.0 {
			limit = *accountEquity * limit
		}
		remaining := limit - *grossExposure
		if remaining < 0 {
			remaining = 0
		}
		capQty := int(math.Floor(remaining / price))
		if capQty < adjusted {
			caps = append(caps, "max_gross_exposure")
		}
		if capQty < adjusted {
			adjusted = capQty
		}
	}

	if minQty != nil && *minQty > 1 && adjusted < *minQty {
		caps = append(caps, "min_qty_floor")
	}

	return orderedReasonCodes(caps)
}

func orderedReasonCodes(reasons []string) []string {
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

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func floatPtrOrNil(v *float64) interface{} {
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

// LedgerPath returns the append path for a given NY date, rooted at
// ledgerRoot: ledger/PORTFOLIO_RISK_ATTRIBUTION/{date}.jsonl.
func LedgerPath(ledgerRoot, dateNY string) string {
	return filepath.Join(ledgerRoot, "ledger", "PORTFOLIO_RISK_ATTRIBUTION", dateNY+".jsonl")
}

// AppendEvent stable-JSON-encodes event and appends it to the date's
// attribution ledger.
func AppendEvent(ledgerRoot string, event map[string]interface{}) error {
	dateNY, _ := event["date_ny"].(string)
	if dateNY == "" {
		return fmt.Errorf("event missing date_ny")
	}
	encoded, err := ledgerio.MarshalStable(event)
	if err != nil {
		return fmt.Errorf("encode attribution event: %w", err)
	}
	return ledgerio.AppendJSONLLine(LedgerPath(ledgerRoot, dateNY), encoded)
}
