package featurestore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sentinelcore/audit-substrate/internal/ledgerio"
)

// PartitionMeta is the provenance sidecar written alongside every partition
// table.
type PartitionMeta struct {
	SchemaVersion int                    `json:"schema_version"`
	GitSHA        string                 `json:"git_sha"`
	FeatureType   string                 `json:"feature_type"`
	Date          string                 `json:"date"`
	RowCount      int                    `json:"row_count"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// Store is a versioned, point-in-time-correct feature store rooted at a
// local directory. It is the Go counterpart of feature_store/store.py's
// FeatureStore facade, wrapping the writer/reader/versioning helpers.
type Store struct {
	baseDir       string
	schemaVersion int
	gitSHA        string
	log           zerolog.Logger
}

// New constructs a Store. gitSHA is the provenance commit id recorded on
// every partition's meta sidecar (empty string if unknown).
func New(baseDir string, schemaVersion int, gitSHA string, log zerolog.Logger) *Store {
	if schemaVersion <= 0 {
		schemaVersion = CurrentSchemaVersion
	}
	return &Store{
		baseDir:       baseDir,
		schemaVersion: schemaVersion,
		gitSHA:        gitSHA,
		log:           log.With().Str("component", "featurestore").Logger(),
	}
}

// Write atomically persists rows for (date, featureType): the table is
// written to a temp sibling, fsynced, and renamed over the final name, then
// the _meta.json sidecar is atomically written. rows must be a slice of one
// of the *Features structs, or a single non-slice row (market-wide types).
// If the sidecar cannot be encoded or written, the table just renamed into
// place is removed again, so a failed Write leaves no table behind. A
// process that dies between the two renames leaves the table without an
// updated sidecar.
func (s *Store) Write(date string, featureType FeatureType, rows interface{}, extra map[string]interface{}) (string, error) {
	if _, ok := SchemaVersionFor(featureType); !ok {
		return "", fmt.Errorf("unknown feature type: %s", featureType)
	}

	rowCount, err := rowCountOf(rows)
	if err != nil {
		return "", err
	}

	tablePath := partitionFile(s.baseDir, s.schemaVersion, date, featureType)
	encoded, err := msgpack.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encode partition %s/%s: %w", date, featureType, err)
	}
	if err := ledgerio.AtomicWriteFile(tablePath, encoded, 0644); err != nil {
		return "", fmt.Errorf("write partition table: %w", err)
	}

	meta := PartitionMeta{
		SchemaVersion: s.schemaVersion,
		GitSHA:        s.gitSHA,
		FeatureType:   string(featureType),
		Date:          date,
		RowCount:      rowCount,
		Extra:         extra,
	}
	metaBytes, err := ledgerio.MarshalStable(meta)
	if err != nil {
		_ = os.Remove(tablePath)
		return "", fmt.Errorf("encode partition meta: %w", err)
	}
	if err := ledgerio.AtomicWriteFile(metaFile(s.baseDir, s.schemaVersion, date), metaBytes, 0644); err != nil {
		_ = os.Remove(tablePath)
		return "", fmt.Errorf("write partition meta: %w", err)
	}

	s.log.Debug().Str("date", date).Str("feature_type", string(featureType)).Int("rows", rowCount).Msg("wrote feature partition")
	return tablePath, nil
}

// Read returns the raw msgpack bytes of the partition whose date is the
// latest date <= asOfDate, applying the point-in-time rule (spec §4.1,
// §8 property 2). Returns (nil, false, nil) if no qualifying partition
// exists — a missing partition is never a fatal error. The caller
// msgpack.Unmarshals the bytes into the feature-type-specific row shape it
// expects; the store itself stays agnostic of row shape on the read path so
// callers can decode straight into a typed slice.
func (s *Store) Read(featureType FeatureType, asOfDate string) (data []byte, found bool, err error) {
	dates, err := ListAvailableDates(s.baseDir, s.schemaVersion, featureType)
	if err != nil {
		return nil, false, err
	}
	match, ok := latestDateOnOrBefore(dates, asOfDate)
	if !ok {
		return nil, false, nil
	}

	tablePath := partitionFile(s.baseDir, s.schemaVersion, match, featureType)
	raw, err := os.ReadFile(tablePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read partition table %s: %w", tablePath, err)
	}
	return raw, true, nil
}

// ReadMeta returns the provenance sidecar for the partition matched by the
// same point-in-time rule as Read.
func (s *Store) ReadMeta(featureType FeatureType, asOfDate string) (meta PartitionMeta, found bool, err error) {
	dates, err := ListAvailableDates(s.baseDir, s.schemaVersion, featureType)
	if err != nil {
		return PartitionMeta{}, false, err
	}
	match, ok := latestDateOnOrBefore(dates, asOfDate)
	if !ok {
		return PartitionMeta{}, false, nil
	}

	path := metaFile(s.baseDir, s.schemaVersion, match)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PartitionMeta{}, false, nil
		}
		return PartitionMeta{}, false, fmt.Errorf("read partition meta %s: %w", path, err)
	}

	if err := json.Unmarshal(raw, &meta); err != nil {
		return PartitionMeta{}, false, fmt.Errorf("parse partition meta %s: %w", path, err)
	}
	return meta, true, nil
}

// AvailableDates lists every date partition written for featureType.
func (s *Store) AvailableDates(featureType FeatureType) ([]string, error) {
	return ListAvailableDates(s.baseDir, s.schemaVersion, featureType)
}

func rowCountOf(rows interface{}) (int, error) {
	switch v := rows.(type) {
	case []TrendFeatures:
		return len(v), nil
	case []AVWAPFeatures:
		return len(v), nil
	case RegimeFeatures:
		_ = v
		return 1, nil
	case RegimeE2Features:
		_ = v
		return 1, nil
	case []RegimeFeatures:
		return len(v), nil
	case []RegimeE2Features:
		return len(v), nil
	default:
		return 0, fmt.Errorf("unsupported row type %T", rows)
	}
}

// GitSHAFromEnv is a thin provenance helper: returns the SENTINEL_GIT_SHA
// env var, or "unknown" if unset, mirroring provenance.git_sha()'s
// best-effort behavior without shelling out to git at runtime.
func GitSHAFromEnv() string {
	if sha := os.Getenv("SENTINEL_GIT_SHA"); sha != "" {
		return sha
	}
	return "unknown"
}
