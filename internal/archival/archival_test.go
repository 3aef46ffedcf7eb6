package archival

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	uploadedKeys []string
	failKeys     map[string]bool
}

func (f *fakeUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	key := *input.Key
	if f.failKeys[key] {
		return nil, os.ErrPermission
	}
	f.uploadedKeys = append(f.uploadedKeys, key)
	return &manager.UploadOutput{}, nil
}

func newTestArchiver(cfg Config, uploader Uploader) *Archiver {
	return &Archiver{cfg: cfg, uploader: uploader, log: zerolog.Nop()}
}

func TestConfig_EnabledRequiresBucket(t *testing.T) {
	require.False(t, Config{}.Enabled())
	require.True(t, Config{Bucket: "my-bucket"}.Enabled())
}

func TestClosedPartitionCutoff(t *testing.T) {
	asOf := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	require.Equal(t, "2026-07-30", closedPartitionCutoff(asOf, 1))
	require.Equal(t, "2026-07-29", closedPartitionCutoff(asOf, 2))
}

func TestLeadingDate(t *testing.T) {
	require.Equal(t, "2026-07-31", leadingDate("2026-07-31.jsonl"))
	require.Equal(t, "2026-07-31", leadingDate("2026-07-31.json"))
	require.Equal(t, "", leadingDate("_meta.json"))
	require.Equal(t, "", leadingDate("not-a-date.json"))
}

func TestArchiveDir_DisabledIsNoop(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "2026-07-01.jsonl"), []byte("{}"), 0644))

	uploader := &fakeUploader{}
	a := newTestArchiver(Config{}, uploader)
	require.NoError(t, a.ArchiveDir(context.Background(), root, time.Now()))
	require.Empty(t, uploader.uploadedKeys)
}

func TestArchiveDir_UploadsOnlyClosedPartitions(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "2026-07-29.jsonl"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "2026-07-30.jsonl"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "2026-07-31.jsonl"), []byte("{}"), 0644)) // today, not closed
	require.NoError(t, os.WriteFile(filepath.Join(root, "_meta.json"), []byte("{}"), 0644))       // no leading date

	uploader := &fakeUploader{}
	a := newTestArchiver(Config{Bucket: "b", Prefix: "sentinelcore", RetainDays: 1}, uploader)
	asOf := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, a.ArchiveDir(context.Background(), root, asOf))

	require.ElementsMatch(t, []string{
		"sentinelcore/2026-07-29.jsonl",
		"sentinelcore/2026-07-30.jsonl",
	}, uploader.uploadedKeys)
}

func TestArchiveDir_ContinuesPastUploadFailure(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "2026-07-29.jsonl"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "2026-07-30.jsonl"), []byte("{}"), 0644))

	uploader := &fakeUploader{failKeys: map[string]bool{"sentinelcore/2026-07-29.jsonl": true}}
	a := newTestArchiver(Config{Bucket: "b", Prefix: "sentinelcore", RetainDays: 1}, uploader)
	asOf := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, a.ArchiveDir(context.Background(), root, asOf)) // fail-open: no error returned
	require.ElementsMatch(t, []string{"sentinelcore/2026-07-30.jsonl"}, uploader.uploadedKeys)
}
