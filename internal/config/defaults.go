package config

const (
	defaultConfigPath         = "~/.config/paperpipe/config.toml"
	defaultBaseDir            = "~/paper"
	defaultArtifactDir        = "pdf"
	defaultTextDir            = "txt"
	defaultCorpusFile         = "all.txt"
	defaultStateFile          = "base.json"
	defaultSnapshotFile       = "arxiv_search_result.json"
	defaultLedgerFile         = "ledger.db"
	defaultLogDir             = "~/.local/share/paperpipe/logs"
	defaultLogRetentionDays   = 30
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultSourceAdapter      = "arxiv"
	defaultSourceURL          = "https://arxiv.org/search/?query=cs.ai&searchtype=all&abstracts=show&order=-announced_date_first&size=50"
	defaultUserAgent          = "paperpipe/1.0 (+https://github.com/paperpipe/paperpipe)"
	defaultRequestTimeout     = 20
	defaultRequestsPerSecond  = 1.5
	defaultRetryCount         = 5
	defaultRetryBackoffFactor = 0.5
	defaultRetryMaxBackoff    = 30
	defaultFetchWorkers       = 1
	defaultArtifactExt        = ".pdf"
	defaultExtractWorkers     = 1
	defaultScheduleTime       = "07:00"
	defaultNotifyTimeout      = 10

	// DefaultSeparator sits between consecutive corpus entries.
	DefaultSeparator = "\n\n------------------------------\n\n"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			BaseDir:      defaultBaseDir,
			ArtifactDir:  defaultArtifactDir,
			TextDir:      defaultTextDir,
			CorpusFile:   defaultCorpusFile,
			StateFile:    defaultStateFile,
			SnapshotFile: defaultSnapshotFile,
			LedgerFile:   defaultLedgerFile,
			LogDir:       defaultLogDir,
		},
		Source: Source{
			Adapter:   defaultSourceAdapter,
			URL:       defaultSourceURL,
			UserAgent: defaultUserAgent,
		},
		Fetch: Fetch{
			RequestTimeout:     defaultRequestTimeout,
			RequestsPerSecond:  defaultRequestsPerSecond,
			RetryCount:         defaultRetryCount,
			RetryBackoffFactor: defaultRetryBackoffFactor,
			RetryMaxBackoff:    defaultRetryMaxBackoff,
			Workers:            defaultFetchWorkers,
			ArtifactExt:        defaultArtifactExt,
		},
		Extract: Extract{
			Workers: defaultExtractWorkers,
		},
		Merge: Merge{
			Separator: DefaultSeparator,
		},
		Schedule: Schedule{
			Time: defaultScheduleTime,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			OnSuccess:      true,
			OnFailure:      true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
