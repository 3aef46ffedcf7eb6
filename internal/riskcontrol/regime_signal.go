package riskcontrol

import "github.com/sentinelcore/audit-substrate/internal/ledgerio"

// WriteRegimeSignal appends one REGIME_E1_SIGNAL (or REGIME_E1_SKIPPED, when
// hasLabel is false) record to the REGIME_E1 ledger for nyDate — the record
// shape resolveThrottle's fallback (b) reads back via lastRegimeThrottle.
// This is the write side of that read path: cmd/sentinelcore calls it once
// per cycle with the confirmed label internal/regimetransition.Detector.Update
// just produced, so a restart can rehydrate the resolver's regime fallback
// from ledger history instead of only from in-process state.
func (r *Resolver) WriteRegimeSignal(nyDate, asOfUTC string, hasLabel bool, label string, confidence float64) error {
	recordType := recordTypeRegimeSkip
	var labelField interface{}
	var confidenceField interface{}
	if hasLabel {
		recordType = recordTypeRegimeSignal
		labelField = label
		confidenceField = confidence
	}
	if asOfUTC == "" {
		asOfUTC = nyDate + "T16:00:00+00:00"
	}
	record := map[string]interface{}{
		"record_type":    recordType,
		"schema_version": schemaVersion,
		"as_of_utc":      asOfUTC,
		"ny_date":        nyDate,
		"regime_label":   labelField,
		"confidence":     confidenceField,
	}
	encoded, err := ledgerio.MarshalStable(record)
	if err != nil {
		return err
	}
	return ledgerio.AppendJSONLLine(r.regimePath(nyDate), encoded)
}
