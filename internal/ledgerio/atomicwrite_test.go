package ledgerio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFile_NoTempLeftover(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "summary.json")

	require.NoError(t, AtomicWriteFile(path, []byte(`{"a":1}`), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp sibling should remain after a successful write")
}

func TestAtomicWriteFile_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summary.json")

	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0644))
	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}

func TestAppendJSONLLine_AppendsInCallOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2026-07-31.jsonl")

	require.NoError(t, AppendJSONLLine(path, []byte(`{"n":1}`)))
	require.NoError(t, AppendJSONLLine(path, []byte(`{"n":2}`)))

	lines, err := ReadJSONLLines(path)
	require.NoError(t, err)
	require.Equal(t, []string{`{"n":1}`, `{"n":2}`}, []string{string(lines[0]), string(lines[1])})
}
