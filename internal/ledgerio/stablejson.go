// Package ledgerio provides the shared atomic-write and stable-JSON
// primitives every ledger and feature-store writer in this repo builds on.
package ledgerio

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// MarshalStable encodes v as compact JSON with lexicographically sorted
// object keys and no insignificant whitespace — the "stable-JSON" contract
// every ledger record and summary file in this repo must satisfy so that
// equivalent payloads serialize to identical bytes across machines and runs.
func MarshalStable(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeStable(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeStable(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeStable(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeStable(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// SHA256Hex returns the lowercase hex SHA-256 digest of payload.
func SHA256Hex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// HashStablePayload stable-JSON-encodes v and returns its SHA-256 hex digest.
// Used by every deterministic id in this repo (decision_id, event_id,
// position_id, trade_id) — identical inputs always hash to the same id.
func HashStablePayload(v interface{}) (string, error) {
	b, err := MarshalStable(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}
