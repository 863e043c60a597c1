package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"extract.workers":               c.Extract.Workers,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Merge.Separator == "" {
		return errors.New("merge.separator must not be empty")
	}
	if _, _, err := c.ScheduleClock(); err != nil {
		return err
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.BaseDir) == "" {
		return errors.New("paths.base_dir must be set")
	}
	if filepath.Clean(c.Paths.ArtifactDir) == filepath.Clean(c.Paths.TextDir) {
		return errors.New("paths.artifact_dir and paths.text_dir must differ")
	}
	if filepath.Ext(c.Paths.CorpusFile) != ".txt" {
		return errors.New("paths.corpus_file must end in .txt")
	}
	return nil
}

func (c *Config) validateSource() error {
	switch c.Source.Adapter {
	case "arxiv", "json":
	default:
		return fmt.Errorf("source.adapter %q must be arxiv or json", c.Source.Adapter)
	}
	if c.Source.URL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("source.url is required. Set PAPERPIPE_SOURCE_URL env var or edit %s (create with 'paperpipe config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateFetch() error {
	if err := ensurePositiveMap(map[string]int{
		"fetch.request_timeout":   c.Fetch.RequestTimeout,
		"fetch.workers":           c.Fetch.Workers,
		"fetch.retry_max_backoff": c.Fetch.RetryMaxBackoff,
	}); err != nil {
		return err
	}
	if c.Fetch.RequestsPerSecond <= 0 {
		return errors.New("fetch.requests_per_second must be positive")
	}
	if c.Fetch.RetryCount < 0 {
		return errors.New("fetch.retry_count must be >= 0")
	}
	if c.Fetch.RetryBackoffFactor < 0 {
		return errors.New("fetch.retry_backoff_factor must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
