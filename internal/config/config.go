package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Directory     DirectoryConfig     `toml:"directory"`
	Processing    ProcessingConfig    `toml:"processing"`
	Storage       StorageConfig       `toml:"storage"`
	Retention     RetentionConfig     `toml:"retention"`
	Web           WebConfig           `toml:"web"`
	Spool         SpoolConfig         `toml:"spool"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// DirectoryConfig holds remote directory service settings
type DirectoryConfig struct {
	BaseURL               string `toml:"base_url"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
}

// Timeout returns the total per-call timeout
func (d DirectoryConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// ConnectTimeout returns the connect timeout
func (d DirectoryConfig) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutSeconds) * time.Second
}

// ProcessingConfig holds batch processing settings
type ProcessingConfig struct {
	MaxRecords    int `toml:"max_records"`
	MaxConcurrent int `toml:"max_concurrent"`
}

// StorageConfig holds persistence settings
type StorageConfig struct {
	CheckpointDir string `toml:"checkpoint_dir"`
	DatabasePath  string `toml:"database_path"`
}

// RetentionConfig holds batch retention settings
type RetentionConfig struct {
	MaxAgeHours int    `toml:"max_age_hours"`
	SweepCron   string `toml:"sweep_cron"`
}

// MaxAge returns the retention horizon
func (r RetentionConfig) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeHours) * time.Hour
}

// WebConfig holds HTTP API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// SpoolConfig holds spool-directory ingest settings. An empty Dir
// disables the watcher.
type SpoolConfig struct {
	Dir string `toml:"dir"`
}

// NotificationsConfig holds outbound notification settings. An empty
// webhook URL disables Slack notifications.
type NotificationsConfig struct {
	SlackWebhookURL string `toml:"slack_webhook_url"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Directory: DirectoryConfig{
			BaseURL:               "https://hospital-directory.onrender.com",
			TimeoutSeconds:        30,
			ConnectTimeoutSeconds: 10,
		},
		Processing: ProcessingConfig{
			MaxRecords:    20,
			MaxConcurrent: 10,
		},
		Storage: StorageConfig{
			CheckpointDir: filepath.Join(home, ".bulkloader", "batch_storage"),
			DatabasePath:  filepath.Join(home, ".bulkloader", "bulkloader.db"),
		},
		Retention: RetentionConfig{
			MaxAgeHours: 24,
			SweepCron:   "0 * * * *",
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.Storage.CheckpointDir = ExpandPath(cfg.Storage.CheckpointDir)
	cfg.Storage.DatabasePath = ExpandPath(cfg.Storage.DatabasePath)
	cfg.Spool.Dir = ExpandPath(cfg.Spool.Dir)

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bulkloader", "config.toml")
}
