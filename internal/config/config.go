package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the working directory layout. Relative stage paths are
// resolved under BaseDir during normalization.
type Paths struct {
	BaseDir      string `toml:"base_dir"`
	ArtifactDir  string `toml:"artifact_dir"`
	TextDir      string `toml:"text_dir"`
	CorpusFile   string `toml:"corpus_file"`
	StateFile    string `toml:"state_file"`
	SnapshotFile string `toml:"snapshot_file"`
	LedgerFile   string `toml:"ledger_file"`
	LogDir       string `toml:"log_dir"`
}

// Source selects the listing adapter and its endpoint.
type Source struct {
	Adapter   string `toml:"adapter"`
	URL       string `toml:"url"`
	UserAgent string `toml:"user_agent"`
}

// Fetch contains HTTP politeness and retry settings shared by the listing
// request and every artifact download.
type Fetch struct {
	RequestTimeout     int     `toml:"request_timeout"`
	RequestsPerSecond  float64 `toml:"requests_per_second"`
	RetryCount         int     `toml:"retry_count"`
	RetryBackoffFactor float64 `toml:"retry_backoff_factor"`
	RetryMaxBackoff    int     `toml:"retry_max_backoff"`
	Workers            int     `toml:"workers"`
	ArtifactExt        string  `toml:"artifact_ext"`
}

// Extract contains text conversion settings.
type Extract struct {
	Workers int `toml:"workers"`
}

// Merge contains corpus settings.
type Merge struct {
	Separator string `toml:"separator"`
}

// Schedule contains the daemon trigger time in local "HH:MM" form.
type Schedule struct {
	Time string `toml:"time"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	OnSuccess      bool   `toml:"on_success"`
	OnFailure      bool   `toml:"on_failure"`
}

// Metrics contains the Prometheus listener address. Empty disables it.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for paperpipe.
//
// Configuration sections by subsystem:
//   - Paths: working directory, stage directories and persisted files
//   - Source: listing adapter and endpoint
//   - Fetch: timeouts, rate limit, retries and worker count
//   - Extract: conversion worker count
//   - Merge: corpus separator
//   - Schedule: daemon trigger time
//   - Notifications: ntfy push notification settings
//   - Metrics: Prometheus listener
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Source        Source        `toml:"source"`
	Fetch         Fetch         `toml:"fetch"`
	Extract       Extract       `toml:"extract"`
	Merge         Merge         `toml:"merge"`
	Schedule      Schedule      `toml:"schedule"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("paperpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the working directory and every stage directory.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.BaseDir,
		c.Paths.ArtifactDir,
		c.Paths.TextDir,
		c.Paths.LogDir,
		filepath.Dir(c.Paths.CorpusFile),
		filepath.Dir(c.Paths.StateFile),
		filepath.Dir(c.Paths.SnapshotFile),
		filepath.Dir(c.Paths.LedgerFile),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath is the run lock file guarding the working directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.BaseDir, ".paperpipe.lock")
}

// RequestTimeout returns the per-attempt HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Fetch.RequestTimeout) * time.Second
}

// RetryMaxBackoff returns the cap applied to each retry sleep.
func (c *Config) RetryMaxBackoff() time.Duration {
	return time.Duration(c.Fetch.RetryMaxBackoff) * time.Second
}

// ScheduleClock parses Schedule.Time into hour and minute.
func (c *Config) ScheduleClock() (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.Schedule.Time))
	if err != nil {
		return 0, 0, fmt.Errorf("schedule.time %q: expected HH:MM", c.Schedule.Time)
	}
	return t.Hour(), t.Minute(), nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// resolveUnder expands pathValue, anchoring relative values at base.
func resolveUnder(base, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", nil
	}
	if !strings.HasPrefix(pathValue, "~") && !filepath.IsAbs(pathValue) {
		pathValue = filepath.Join(base, pathValue)
	}
	return expandPath(pathValue)
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
