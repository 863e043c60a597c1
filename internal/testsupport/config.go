package testsupport

import (
	"path/filepath"
	"testing"

	"paperpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// HTTP settings are tuned so tests never wait on the limiter or backoff.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.BaseDir = base
	cfgVal.Paths.ArtifactDir = filepath.Join(base, "pdf")
	cfgVal.Paths.TextDir = filepath.Join(base, "txt")
	cfgVal.Paths.CorpusFile = filepath.Join(base, "txt", "all.txt")
	cfgVal.Paths.StateFile = filepath.Join(base, "base.json")
	cfgVal.Paths.SnapshotFile = filepath.Join(base, "arxiv_search_result.json")
	cfgVal.Paths.LedgerFile = filepath.Join(base, "ledger.db")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Source.URL = "http://127.0.0.1:0/search"
	cfgVal.Fetch.RequestsPerSecond = 1000
	cfgVal.Fetch.RequestTimeout = 5
	cfgVal.Fetch.RetryCount = 1
	cfgVal.Fetch.RetryBackoffFactor = 0
	cfgVal.Notifications.OnSuccess = false
	cfgVal.Notifications.OnFailure = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithArtifactExt overrides the artifact extension, e.g. ".txt" for tests
// that serve plain-text artifacts.
func WithArtifactExt(ext string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Fetch.ArtifactExt = ext
	}
}

// WithWorkers sets both fetch and extract pool sizes.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Fetch.Workers = n
		b.cfg.Extract.Workers = n
	}
}

// WithRetries sets the retry count for HTTP attempts.
func WithRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Fetch.RetryCount = n
	}
}
