// Package archival uploads closed (yesterday-and-older) ledger and
// feature-store partitions to S3 for off-box retention. It is optional and
// feature-flagged by LEDGER_S3_ARCHIVE_BUCKET: when unset, Archiver.ArchiveDir
// is a no-op. Every failure is logged and swallowed rather than propagated, since
// losing off-box backup copies must never block the daily decision cycle.
//
// This package follows the AWS SDK's own documented
// config.LoadDefaultConfig/manager.Uploader usage pattern for the S3 call
// shape.
package archival

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Config controls whether archival runs and what it archives.
type Config struct {
	Bucket        string // LEDGER_S3_ARCHIVE_BUCKET; empty disables archival entirely
	Prefix        string // LEDGER_S3_ARCHIVE_PREFIX, default "sentinelcore"
	Region        string // AWS_REGION fallback when the default SDK chain finds none
	RetainDays    int    // LEDGER_S3_ARCHIVE_RETAIN_DAYS; partitions this recent are left for tomorrow
}

// ConfigFromEnv reads the archival feature flags using the same
// getEnv/getEnvAsInt helpers the rest of this repo's config loading uses.
func ConfigFromEnv() Config {
	return Config{
		Bucket:     getEnv("LEDGER_S3_ARCHIVE_BUCKET", ""),
		Prefix:     getEnv("LEDGER_S3_ARCHIVE_PREFIX", "sentinelcore"),
		Region:     getEnv("AWS_REGION", ""),
		RetainDays: getEnvAsInt("LEDGER_S3_ARCHIVE_RETAIN_DAYS", 1),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// Enabled reports whether an archive bucket is configured.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// Uploader is the subset of manager.Uploader that Archiver needs, so tests
// can substitute a fake without talking to S3.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Archiver uploads closed local directories to S3.
type Archiver struct {
	cfg      Config
	uploader Uploader
	log      zerolog.Logger
}

// NewArchiver builds an S3 uploader from the default AWS credential chain,
// optionally overridden by cfg.Region. Returns a disabled Archiver (nil
// uploader) if cfg.Bucket is empty, so callers can construct it
// unconditionally and call ArchiveDir regardless of whether the feature is on.
func NewArchiver(ctx context.Context, cfg Config, log zerolog.Logger) (*Archiver, error) {
	sub := log.With().Str("component", "archival").Logger()
	if !cfg.Enabled() {
		return &Archiver{cfg: cfg, log: sub}, nil
	}

	var optFns []func(*config.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client)
	return &Archiver{cfg: cfg, uploader: uploader, log: sub}, nil
}

// closedPartitionCutoff returns the most recent date (YYYY-MM-DD) eligible
// for archival: asOf minus RetainDays, so "yesterday and older" partitions
// upload while the active trading day's files stay local until closed.
func closedPartitionCutoff(asOf time.Time, retainDays int) string {
	return asOf.AddDate(0, 0, -retainDays).Format("2006-01-02")
}

// ArchiveDir walks root and uploads every regular file whose name begins
// with a date (YYYY-MM-DD) at or before the closed-partition cutoff, under
// key prefix/relPathFromRoot. A failure uploading one file is logged and
// does not stop the walk over the rest — this is a fail-open path.
func (a *Archiver) ArchiveDir(ctx context.Context, root string, asOf time.Time) error {
	if !a.cfg.Enabled() {
		return nil
	}
	cutoff := closedPartitionCutoff(asOf, a.cfg.RetainDays)

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			a.log.Warn().Err(err).Str("path", path).Msg("archival: walk error, skipping")
			return nil
		}
		if d.IsDir() {
			return nil
		}
		date := leadingDate(d.Name())
		if date == "" || date > cutoff {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			a.log.Warn().Err(err).Str("path", path).Msg("archival: relative path failed, skipping")
			return nil
		}
		key := a.cfg.Prefix + "/" + filepath.ToSlash(rel)

		if err := a.uploadFile(ctx, path, key); err != nil {
			a.log.Warn().Err(err).Str("path", path).Str("key", key).Msg("archival: upload failed, continuing")
		}
		return nil
	})
}

func (a *Archiver) uploadFile(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return a.upload(ctx, key, f)
}

func (a *Archiver) upload(ctx context.Context, key string, body io.Reader) error {
	if a.uploader == nil {
		return fmt.Errorf("archival: uploader not configured")
	}
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	a.log.Info().Str("key", key).Msg("archival: uploaded")
	return nil
}

func leadingDate(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if len(base) < 10 {
		return ""
	}
	candidate := base[:10]
	if _, err := time.Parse("2006-01-02", candidate); err != nil {
		return ""
	}
	return candidate
}
