package ledgerio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// ReadJSONLLines reads every non-blank line of a JSONL file into raw bytes.
// A missing file is not an error — it returns a nil slice, matching the
// "missing input degrades to empty" failure semantics this repo's ledgers
// use throughout (spec §7, "Input not available").
func ReadJSONLLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		lines = append(lines, cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return lines, nil
}

// ReadLastJSONLRecord decodes the last non-blank line of path into dst.
// Returns ok=false (no error) when the file is missing or empty. A line that
// fails to parse as JSON is surfaced as an error — per spec §7 "Input
// invalid" contributes an invalid_* reason code at the call site rather than
// being silently skipped.
func ReadLastJSONLRecord(path string, dst interface{}) (ok bool, err error) {
	lines, err := ReadJSONLLines(path)
	if err != nil {
		return false, err
	}
	if len(lines) == 0 {
		return false, nil
	}
	last := lines[len(lines)-1]
	if err := json.Unmarshal(last, dst); err != nil {
		return false, fmt.Errorf("parse last record of %s: %w", path, err)
	}
	return true, nil
}
