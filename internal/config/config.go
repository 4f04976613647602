package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type DatabaseMode string

const (
	DatabaseLocal  DatabaseMode = "local"
	DatabaseDocker DatabaseMode = "docker"
)

type Config struct {
	DocsDir    string `yaml:"docs_dir"`
	StagingDir string `yaml:"staging_dir,omitempty"`
	StatePath  string `yaml:"state_path,omitempty"`
	LogLevel   string `yaml:"log_level,omitempty"`

	Storage   StorageConfig   `yaml:"storage"`
	Quota     QuotaConfig     `yaml:"quota"`
	Schedule  ScheduleConfig  `yaml:"schedule,omitempty"`
	Transfer  TransferConfig  `yaml:"transfer,omitempty"`
	Database  DatabaseConfig  `yaml:"database"`
	Retention RetentionConfig `yaml:"retention,omitempty"`
}

type StorageConfig struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	// Prefix is the backup root for document objects, DBPrefix the root
	// for database artifacts. Both are normalized to end with a slash.
	Prefix   string `yaml:"prefix,omitempty"`
	DBPrefix string `yaml:"db_prefix,omitempty"`
}

type QuotaConfig struct {
	CapBytes   int64 `yaml:"cap_bytes"`
	WindowDays int   `yaml:"window_days,omitempty"`
}

type ScheduleConfig struct {
	FullIntervalDays int `yaml:"full_interval_days,omitempty"`
}

type TransferConfig struct {
	Concurrency    int     `yaml:"concurrency,omitempty"`
	RetryAttempts  int     `yaml:"retry_attempts,omitempty"`
	MaxDeleteRatio float64 `yaml:"max_delete_ratio,omitempty"`
}

type DatabaseConfig struct {
	Mode      DatabaseMode `yaml:"mode,omitempty"`
	Name      string       `yaml:"name"`
	User      string       `yaml:"user"`
	Host      string       `yaml:"host,omitempty"`
	PassFile  string       `yaml:"pass_file,omitempty"`
	Container string       `yaml:"container,omitempty"`
}

type RetentionConfig struct {
	Generations int `yaml:"generations,omitempty"`
}

func DefaultPath() string {
	return "/etc/docvault/config.yaml"
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) ApplyDefaults() {
	if c.StagingDir == "" {
		c.StagingDir = os.TempDir()
	}
	if c.StatePath == "" {
		c.StatePath = "/var/lib/docvault/state.json"
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Storage.Prefix == "" {
		c.Storage.Prefix = "media/"
	}
	if c.Storage.DBPrefix == "" {
		c.Storage.DBPrefix = "db/"
	}
	c.Storage.Prefix = ensureSlash(c.Storage.Prefix)
	c.Storage.DBPrefix = ensureSlash(c.Storage.DBPrefix)
	if c.Quota.WindowDays <= 0 {
		c.Quota.WindowDays = 7
	}
	if c.Schedule.FullIntervalDays <= 0 {
		c.Schedule.FullIntervalDays = 7
	}
	if c.Transfer.Concurrency <= 0 {
		c.Transfer.Concurrency = 4
	}
	if c.Transfer.RetryAttempts <= 0 {
		c.Transfer.RetryAttempts = 3
	}
	if c.Transfer.MaxDeleteRatio <= 0 {
		c.Transfer.MaxDeleteRatio = 0.5
	}
	if c.Database.Mode == "" {
		c.Database.Mode = DatabaseLocal
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Retention.Generations <= 0 {
		c.Retention.Generations = 5
	}
}

func (c *Config) Validate() error {
	if c.DocsDir == "" {
		return fmt.Errorf("docs_dir is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Quota.CapBytes <= 0 {
		return fmt.Errorf("quota.cap_bytes must be positive")
	}
	if c.Database.Mode != DatabaseLocal && c.Database.Mode != DatabaseDocker {
		return fmt.Errorf("database.mode must be %q or %q", DatabaseLocal, DatabaseDocker)
	}
	if c.Database.Mode == DatabaseDocker && c.Database.Container == "" {
		return fmt.Errorf("database.container is required when database.mode is docker")
	}
	return nil
}

// FullInterval is the configured cadence for full backups.
func (c *Config) FullInterval() time.Duration {
	return time.Duration(c.Schedule.FullIntervalDays) * 24 * time.Hour
}

// QuotaWindow is the length of the rolling quota accounting window.
func (c *Config) QuotaWindow() time.Duration {
	return time.Duration(c.Quota.WindowDays) * 24 * time.Hour
}

func ensureSlash(s string) string {
	if s != "" && s[len(s)-1] != '/' {
		return s + "/"
	}
	return s
}
