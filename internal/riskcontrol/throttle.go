package riskcontrol

import (
	"encoding/json"
	"path/filepath"

	"github.com/sentinelcore/audit-substrate/internal/ledgerio"
)

// throttle is the intermediate resolved multiplier pair, before composition
// with the drawdown guardrail.
type throttle struct {
	RiskMultiplier              float64
	MaxNewPositionsMultiplier   float64
	HasMaxNewPositionsMultiplier bool
	Reasons                     []string
}

func (r *Resolver) throttlePath(nyDate string) string {
	return filepath.Join(r.LedgerRoot, "ledger", "PORTFOLIO_THROTTLE", nyDate+".jsonl")
}

func (r *Resolver) regimePath(nyDate string) string {
	return filepath.Join(r.LedgerRoot, "ledger", "REGIME_E1", nyDate+".jsonl")
}

func (r *Resolver) riskControlsPath(nyDate string) string {
	return filepath.Join(r.LedgerRoot, "ledger", "PORTFOLIO_RISK_CONTROLS", nyDate+".jsonl")
}

// resolveThrottle implements the a/b/c throttle resolution order:
// externally written throttle ledger, then regime-signal fallback, then the
// MISSING safe-zero fallback. Never returns an error — every failure mode
// degrades to a reason code instead.
func (r *Resolver) resolveThrottle(nyDate string) (throttle, []string, string) {
	// (a) PORTFOLIO_THROTTLE ledger, last matching record.
	rawLines, err := ledgerio.ReadJSONLLines(r.throttlePath(nyDate))
	if err != nil {
		r.log.Warn().Err(err).Msg("failed reading throttle ledger")
	}
	if t, reasons, ok, _ := lastThrottleRecord(rawLines); ok {
		return t, orderedReasons(reasons), "PORTFOLIO_THROTTLE"
	}
	_, _, _, throttleInvalid := lastThrottleRecord(rawLines)
	throttleMissingReason := "missing_portfolio_throttle_record"
	if rawLines == nil {
		throttleMissingReason = "missing_portfolio_throttle"
	} else if throttleInvalid {
		throttleMissingReason = "invalid_portfolio_throttle"
	}

	// (b) REGIME_E1 ledger fallback.
	regimeLines, err := ledgerio.ReadJSONLLines(r.regimePath(nyDate))
	if err != nil {
		r.log.Warn().Err(err).Msg("failed reading regime ledger")
	}
	if t, reasons, ok := lastRegimeThrottle(regimeLines); ok {
		reasons = append(reasons, throttleMissingReason)
		return t, orderedReasons(reasons), "REGIME_E1"
	}
	regimeMissingReason := "missing_regime_record"
	if regimeLines == nil {
		regimeMissingReason = "missing_regime_ledger"
	}

	// (c) MISSING safe-zero fallback.
	t := throttle{
		RiskMultiplier:                0,
		MaxNewPositionsMultiplier:     0,
		HasMaxNewPositionsMultiplier:  true,
		Reasons:                       []string{"missing_regime"},
	}
	return t, orderedReasons([]string{throttleMissingReason, regimeMissingReason, "missing_regime"}), "MISSING"
}

type throttleRecordJSON struct {
	RecordType string `json:"record_type"`
	Throttle   struct {
		RiskMultiplier            *float64 `json:"risk_multiplier"`
		MaxNewPositionsMultiplier *float64 `json:"max_new_positions_multiplier"`
		Reasons                   []string `json:"reasons"`
	} `json:"throttle"`
}

func lastThrottleRecord(lines [][]byte) (throttle, []string, bool, bool) {
	var latest *throttleRecordJSON
	invalid := false
	for _, line := range lines {
		var rec throttleRecordJSON
		if err := json.Unmarshal(line, &rec); err != nil {
			invalid = true
			continue
		}
		if rec.RecordType != "PORTFOLIO_THROTTLE" {
			continue
		}
		r := rec
		latest = &r
	}
	if latest == nil {
		return throttle{}, nil, false, invalid
	}

	t := throttle{}
	if latest.Throttle.RiskMultiplier != nil {
		t.RiskMultiplier = *latest.Throttle.RiskMultiplier
	}
	if latest.Throttle.MaxNewPositionsMultiplier != nil {
		t.MaxNewPositionsMultiplier = *latest.Throttle.MaxNewPositionsMultiplier
		t.HasMaxNewPositionsMultiplier = true
	}
	return t, append([]string{}, latest.Throttle.Reasons...), true, invalid
}

type regimeRecordJSON struct {
	RecordType  string   `json:"record_type"`
	RegimeLabel *string  `json:"regime_label"`
	Confidence  *float64 `json:"confidence"`
}

func lastRegimeThrottle(lines [][]byte) (throttle, []string, bool) {
	var latest *regimeRecordJSON
	for _, line := range lines {
		var rec regimeRecordJSON
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.RecordType != "REGIME_E1_SIGNAL" && rec.RecordType != "REGIME_E1_SKIPPED" {
			continue
		}
		r := rec
		latest = &r
	}
	if latest == nil {
		return throttle{}, nil, false
	}

	var reasons []string
	if latest.RecordType != "REGIME_E1_SIGNAL" {
		reasons = append(reasons, "regime_record_skipped")
	}
	t, reasons := regimeToThrottle(latest.RegimeLabel, latest.Confidence, reasons)
	return t, reasons, true
}

// regimeToThrottle is the {RISK_ON, NEUTRAL, RISK_OFF} -> (risk_multiplier,
// max_new_positions_multiplier) mapping, with the
// low-confidence haircut applied when confidence < 0.6.
func regimeToThrottle(label *string, confidence *float64, reasons []string) (throttle, []string) {
	riskMult, posMult := 0.0, 0.0
	hasMapping := false
	if label != nil {
		switch upper(*label) {
		case "RISK_ON":
			riskMult, posMult, hasMapping = 1.0, 1.0, true
		case "NEUTRAL":
			riskMult, posMult, hasMapping = 0.6, 0.7, true
		case "RISK_OFF":
			riskMult, posMult, hasMapping = 0.2, 0.3, true
		}
	}
	if !hasMapping {
		reasons = append(reasons, "missing_regime")
	}

	if confidence != nil && *confidence < 0.6 {
		riskMult *= 0.5
		posMult *= 0.5
		reasons = append(reasons, "low_confidence_haircut")
	}

	return throttle{
		RiskMultiplier:               clamp01(riskMult),
		MaxNewPositionsMultiplier:    clamp01(posMult),
		HasMaxNewPositionsMultiplier: true,
	}, reasons
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}
