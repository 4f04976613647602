package database

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/docvault/docvault/internal/storage"
)

// Artifact describes one uploaded database snapshot. Artifacts are
// immutable once published; later snapshots supersede, never mutate.
type Artifact struct {
	ID       string
	Key      string
	Size     int64
	Checksum string
}

// SnapshotJob exports the database, stages the compressed dump
// locally, and publishes it under a timestamped key. The stage file is
// removed only after the upload succeeds, so no partial artifact is
// ever visible at its final key.
type SnapshotJob struct {
	Exporter   Exporter
	Provider   storage.Provider
	StagingDir string
	// Prefix is the remote root for database artifacts, e.g. "db/".
	Prefix string
	Logger zerolog.Logger

	// Now allows tests to pin the snapshot timestamp.
	Now func() time.Time
}

func (j *SnapshotJob) Run(ctx context.Context) (*Artifact, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	id := now().UTC().Format("20060102150405")
	name := fmt.Sprintf("db_backup_%s.sql.gz", id)
	stagePath := filepath.Join(j.StagingDir, name)

	checksum, size, err := j.stage(ctx, stagePath)
	if err != nil {
		os.Remove(stagePath)
		return nil, err
	}
	defer os.Remove(stagePath)

	key := j.Prefix + name
	if err := j.publish(ctx, stagePath, key, checksum); err != nil {
		return nil, err
	}

	j.Logger.Info().Str("key", key).Int64("bytes", size).Msg("database snapshot published")
	return &Artifact{
		ID:       id,
		Key:      key,
		Size:     size,
		Checksum: checksum,
	}, nil
}

// stage writes the gzipped export to stagePath, hashing the compressed
// bytes as they are written.
func (j *SnapshotJob) stage(ctx context.Context, stagePath string) (checksum string, size int64, err error) {
	export, err := j.Exporter.Export(ctx)
	if err != nil {
		return "", 0, err
	}
	defer export.Close()

	if err := os.MkdirAll(j.StagingDir, 0700); err != nil {
		return "", 0, &ExportError{Phase: "stage", Err: err}
	}

	f, err := os.Create(stagePath)
	if err != nil {
		return "", 0, &ExportError{Phase: "stage", Err: err}
	}
	defer f.Close()

	hash := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(f, hash))
	if _, err := io.Copy(gz, export); err != nil {
		return "", 0, &ExportError{Phase: "stage", Err: err}
	}
	if err := gz.Close(); err != nil {
		return "", 0, &ExportError{Phase: "stage", Err: err}
	}
	if err := f.Sync(); err != nil {
		return "", 0, &ExportError{Phase: "stage", Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		return "", 0, &ExportError{Phase: "stage", Err: err}
	}

	return hex.EncodeToString(hash.Sum(nil)), info.Size(), nil
}

func (j *SnapshotJob) publish(ctx context.Context, stagePath, key, checksum string) error {
	f, err := os.Open(stagePath)
	if err != nil {
		return &ExportError{Phase: "publish", Err: err}
	}
	defer f.Close()

	metadata := map[string]string{
		storage.MetaFingerprint: checksum,
	}
	if err := j.Provider.Upload(ctx, key, f, metadata); err != nil {
		return &ExportError{Phase: "publish", Err: err}
	}
	return nil
}
