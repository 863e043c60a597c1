package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"paperpipe/internal/config"
	"paperpipe/internal/fileutil"
	"paperpipe/internal/record"
	"paperpipe/internal/stage"
)

// Adapter turns a listing endpoint into normalized records. Malformed entries
// are skipped individually; only a failure to obtain or read the listing as a
// whole is returned as an error.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, endpoint string) ([]record.Record, error)
}

// Getter is the subset of httpclient.Client the adapters need.
type Getter interface {
	GetBytes(ctx context.Context, url string) ([]byte, error)
}

// SkipFunc receives one result per skipped listing entry.
type SkipFunc func(stage.Result)

// New returns the adapter selected by cfg.Source.Adapter.
func New(cfg *config.Config, getter Getter, logger *slog.Logger, onSkip SkipFunc) (Adapter, error) {
	switch cfg.Source.Adapter {
	case "arxiv":
		return &ArxivAdapter{Client: getter, Logger: logger, OnSkip: onSkip}, nil
	case "json":
		return &JSONAdapter{Client: getter, Logger: logger, OnSkip: onSkip}, nil
	default:
		return nil, fmt.Errorf("unknown source adapter %q", cfg.Source.Adapter)
	}
}

// WriteSnapshot atomically writes records as a JSON array for auditing what
// the listing returned in this run.
func WriteSnapshot(path string, records []record.Record) error {
	if records == nil {
		records = []record.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return stage.Wrap(stage.ErrPersistence, stage.NameSource, "marshal snapshot", "", err)
	}
	if err := fileutil.WriteFileAtomic(path, data); err != nil {
		return stage.Wrap(stage.ErrPersistence, stage.NameSource, "write snapshot", path, err)
	}
	return nil
}

func skip(fn SkipFunc, res stage.Result) {
	if fn != nil {
		fn(res)
	}
}
