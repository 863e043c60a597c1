package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSource()
	c.normalizeFetch()
	c.normalizeNotifications()
	c.normalizeLogging()
	if c.Extract.Workers <= 0 {
		c.Extract.Workers = defaultExtractWorkers
	}
	if c.Merge.Separator == "" {
		c.Merge.Separator = DefaultSeparator
	}
	c.Schedule.Time = strings.TrimSpace(c.Schedule.Time)
	if c.Schedule.Time == "" {
		c.Schedule.Time = defaultScheduleTime
	}
	c.Metrics.Listen = strings.TrimSpace(c.Metrics.Listen)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.BaseDir) == "" {
		c.Paths.BaseDir = defaultBaseDir
	}
	if c.Paths.BaseDir, err = expandPath(c.Paths.BaseDir); err != nil {
		return fmt.Errorf("paths.base_dir: %w", err)
	}
	base := c.Paths.BaseDir

	fields := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.artifact_dir", &c.Paths.ArtifactDir, defaultArtifactDir},
		{"paths.text_dir", &c.Paths.TextDir, defaultTextDir},
		{"paths.state_file", &c.Paths.StateFile, defaultStateFile},
		{"paths.snapshot_file", &c.Paths.SnapshotFile, defaultSnapshotFile},
		{"paths.ledger_file", &c.Paths.LedgerFile, defaultLedgerFile},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		if *field.value, err = resolveUnder(base, *field.value); err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
	}

	// The corpus lives beside the per-item texts unless placed elsewhere.
	if strings.TrimSpace(c.Paths.CorpusFile) == "" {
		c.Paths.CorpusFile = defaultCorpusFile
	}
	if c.Paths.CorpusFile, err = resolveUnder(c.Paths.TextDir, c.Paths.CorpusFile); err != nil {
		return fmt.Errorf("paths.corpus_file: %w", err)
	}

	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = resolveUnder(base, c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSource() {
	c.Source.Adapter = strings.ToLower(strings.TrimSpace(c.Source.Adapter))
	if c.Source.Adapter == "" {
		c.Source.Adapter = defaultSourceAdapter
	}
	if value, ok := os.LookupEnv("PAPERPIPE_SOURCE_URL"); ok && strings.TrimSpace(value) != "" {
		c.Source.URL = value
	}
	c.Source.URL = strings.TrimSpace(c.Source.URL)
	if c.Source.URL == "" && c.Source.Adapter == defaultSourceAdapter {
		c.Source.URL = defaultSourceURL
	}
	if c.Source.Adapter == "json" && c.Source.URL != "" && !strings.Contains(c.Source.URL, "://") {
		if expanded, err := resolveUnder(c.Paths.BaseDir, c.Source.URL); err == nil {
			c.Source.URL = expanded
		}
	}
	c.Source.UserAgent = strings.TrimSpace(c.Source.UserAgent)
	if c.Source.UserAgent == "" {
		c.Source.UserAgent = defaultUserAgent
	}
}

func (c *Config) normalizeFetch() {
	if c.Fetch.Workers <= 0 {
		c.Fetch.Workers = defaultFetchWorkers
	}
	ext := strings.ToLower(strings.TrimSpace(c.Fetch.ArtifactExt))
	if ext == "" {
		ext = defaultArtifactExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	c.Fetch.ArtifactExt = ext
	if c.Fetch.RetryMaxBackoff <= 0 {
		c.Fetch.RetryMaxBackoff = defaultRetryMaxBackoff
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("PAPERPIPE_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

// TextPath returns the text file path for a slug.
func (c *Config) TextPath(slug string) string {
	return filepath.Join(c.Paths.TextDir, slug+".txt")
}

// ArtifactPath returns the artifact path for a slug.
func (c *Config) ArtifactPath(slug string) string {
	return filepath.Join(c.Paths.ArtifactDir, slug+c.Fetch.ArtifactExt)
}
