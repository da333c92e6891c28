package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration of the insider trading downloader.
type Config struct {
	Storage Storage `yaml:"storage"`
	Vendor  Vendor  `yaml:"vendor"`
	Logging Logging `yaml:"logging"`
}

// Storage holds the dataset roots and the optional local state.
type Storage struct {
	// DestinationDir is where per-ticker and universe files are written.
	DestinationDir string `yaml:"destination_dir"`
	// ProcessedDir is where existing files are read from before merging.
	// Empty means DestinationDir.
	ProcessedDir string `yaml:"processed_dir"`
	// DataDir is the root for the derived defaults of DestinationDir and the
	// fields below. Without it, empty fields stay disabled.
	DataDir string `yaml:"data_dir"`

	MapFilesDir string `yaml:"map_files_dir"`
	ArchiveDir  string `yaml:"archive_dir"`
	JournalPath string `yaml:"journal_path"`
}

// Vendor holds the QuiverQuant endpoint, credentials and request policy.
type Vendor struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	RateInterval time.Duration `yaml:"rate_interval"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults for fields left unset.
const (
	DefaultBaseURL      = "https://api.quiverquant.com/beta/"
	DefaultTimeout      = 30 * time.Second
	DefaultMaxAttempts  = 5
	DefaultRetryDelay   = time.Second
	DefaultRateInterval = 2 * time.Second
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
)

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at path, expands ${VAR} references,
// applies environment variable overrides and fills defaults. An empty path
// skips the file and builds the configuration from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	return cfg, nil
}

// LoadAndValidate loads the configuration and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set. API keys from the
// environment only fill an empty vendor.api_key.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DESTINATION_DIR"); v != "" {
		cfg.Storage.DestinationDir = v
	}
	if v := os.Getenv("PROCESSED_DIR"); v != "" {
		cfg.Storage.ProcessedDir = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if cfg.Vendor.APIKey == "" {
		if v := os.Getenv("QUIVER_API_KEY"); v != "" {
			cfg.Vendor.APIKey = v
		}
		if v := os.Getenv("VENDOR_AUTH_TOKEN"); v != "" {
			cfg.Vendor.APIKey = v
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Storage.DestinationDir == "" && c.Storage.DataDir != "" {
		c.Storage.DestinationDir = filepath.Join(c.Storage.DataDir, "alternative")
	}
	if c.Storage.MapFilesDir == "" && c.Storage.DataDir != "" {
		c.Storage.MapFilesDir = filepath.Join(c.Storage.DataDir, "equity", "usa", "map_files")
	}
	if c.Storage.ArchiveDir == "" && c.Storage.DataDir != "" {
		c.Storage.ArchiveDir = filepath.Join(c.Storage.DataDir, "raw")
	}
	if c.Storage.JournalPath == "" && c.Storage.DataDir != "" {
		c.Storage.JournalPath = filepath.Join(c.Storage.DataDir, "state", "insider-trading.db")
	}

	if c.Vendor.BaseURL == "" {
		c.Vendor.BaseURL = DefaultBaseURL
	}
	if c.Vendor.Timeout == 0 {
		c.Vendor.Timeout = DefaultTimeout
	}
	if c.Vendor.MaxAttempts == 0 {
		c.Vendor.MaxAttempts = DefaultMaxAttempts
	}
	if c.Vendor.RetryDelay == 0 {
		c.Vendor.RetryDelay = DefaultRetryDelay
	}
	if c.Vendor.RateInterval == 0 {
		c.Vendor.RateInterval = DefaultRateInterval
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Storage.DestinationDir == "" {
		errs = append(errs, errors.New("storage.destination_dir is required (or set DESTINATION_DIR / DATA_DIR)"))
	}
	if c.Vendor.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("vendor.max_attempts must be at least 1, got %d", c.Vendor.MaxAttempts))
	}
	if c.Vendor.Timeout < 0 {
		errs = append(errs, fmt.Errorf("vendor.timeout must not be negative, got %s", c.Vendor.Timeout))
	}
	if c.Vendor.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("vendor.retry_delay must not be negative, got %s", c.Vendor.RetryDelay))
	}
	if c.Vendor.RateInterval < 0 {
		errs = append(errs, fmt.Errorf("vendor.rate_interval must not be negative, got %s", c.Vendor.RateInterval))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not a known level", c.Logging.Level))
	}

	return errors.Join(errs...)
}
