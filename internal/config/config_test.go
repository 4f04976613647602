package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
docs_dir: /srv/paperless/media
storage:
  bucket: docvault-backups
quota:
  cap_bytes: 10737418240
database:
  name: paperless
  user: paperless
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", cfg.Storage.Region)
	assert.Equal(t, "media/", cfg.Storage.Prefix)
	assert.Equal(t, "db/", cfg.Storage.DBPrefix)
	assert.Equal(t, 7, cfg.Quota.WindowDays)
	assert.Equal(t, 7, cfg.Schedule.FullIntervalDays)
	assert.Equal(t, 4, cfg.Transfer.Concurrency)
	assert.Equal(t, 3, cfg.Transfer.RetryAttempts)
	assert.Equal(t, 0.5, cfg.Transfer.MaxDeleteRatio)
	assert.Equal(t, DatabaseLocal, cfg.Database.Mode)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5, cfg.Retention.Generations)
}

func TestLoadNormalizesPrefixes(t *testing.T) {
	path := writeConfig(t, `
docs_dir: /srv/docs
storage:
  bucket: b
  prefix: documents
  db_prefix: dumps
quota:
  cap_bytes: 1024
database:
  name: d
  user: u
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "documents/", cfg.Storage.Prefix)
	assert.Equal(t, "dumps/", cfg.Storage.DBPrefix)
}

func TestLoadRejectsMissingBucket(t *testing.T) {
	path := writeConfig(t, `
docs_dir: /srv/docs
quota:
  cap_bytes: 1024
database:
  name: d
  user: u
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "storage.bucket")
}

func TestLoadRejectsMissingQuotaCap(t *testing.T) {
	path := writeConfig(t, `
docs_dir: /srv/docs
storage:
  bucket: b
database:
  name: d
  user: u
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "quota.cap_bytes")
}

func TestLoadRejectsDockerModeWithoutContainer(t *testing.T) {
	path := writeConfig(t, `
docs_dir: /srv/docs
storage:
  bucket: b
quota:
  cap_bytes: 1024
database:
  name: d
  user: u
  mode: docker
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "database.container")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSaveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := &Config{
		DocsDir:  "/srv/docs",
		Storage:  StorageConfig{Bucket: "b"},
		Quota:    QuotaConfig{CapBytes: 1024},
		Database: DatabaseConfig{Name: "d", User: "u"},
	}
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.DocsDir, loaded.DocsDir)
	assert.Equal(t, cfg.Storage.Bucket, loaded.Storage.Bucket)
}
