package featurestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// storeRoot returns the versioned store root: baseDir/v{version}.
func storeRoot(baseDir string, version int) string {
	return filepath.Join(baseDir, fmt.Sprintf("v%d", version))
}

func partitionDir(baseDir string, version int, date string) string {
	return filepath.Join(storeRoot(baseDir, version), date)
}

func partitionFile(baseDir string, version int, date string, featureType FeatureType) string {
	return filepath.Join(partitionDir(baseDir, version, date), string(featureType)+".msgpack")
}

func metaFile(baseDir string, version int, date string) string {
	return filepath.Join(partitionDir(baseDir, version, date), "_meta.json")
}

// ListAvailableDates returns sorted date strings for which featureType has a
// fully-written partition (table file present), grounded on
// feature_store/versioning.py's list_available_dates.
func ListAvailableDates(baseDir string, version int, featureType FeatureType) ([]string, error) {
	root := storeRoot(baseDir, version)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read store root %s: %w", root, err)
	}

	var dates []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		tablePath := filepath.Join(root, e.Name(), string(featureType)+".msgpack")
		if _, err := os.Stat(tablePath); err == nil {
			dates = append(dates, e.Name())
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// latestDateOnOrBefore returns the latest entry of dates that is <= asOf, or
// ("", false) if none qualifies. dates is assumed sorted ascending. This is
// the sole point-in-time gate for every read in the store (spec §4.1,
// §8 property 2): it must never consider a date > asOf.
func latestDateOnOrBefore(dates []string, asOf string) (string, bool) {
	best := ""
	found := false
	for _, d := range dates {
		if d <= asOf {
			best = d
			found = true
		} else {
			break
		}
	}
	return best, found
}
