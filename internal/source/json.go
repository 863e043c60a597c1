package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"paperpipe/internal/logging"
	"paperpipe/internal/record"
	"paperpipe/internal/stage"
)

// JSONAdapter reads a JSON array of records from a local file or an http(s)
// URL. Identity keys are re-derived from the URLs; a stored key is only used
// when no URL is present.
type JSONAdapter struct {
	Client Getter
	Logger *slog.Logger
	OnSkip SkipFunc
}

// Name identifies the adapter in logs and config.
func (a *JSONAdapter) Name() string { return "json" }

// Fetch reads a JSON array of records from a local path or URL.
func (a *JSONAdapter) Fetch(ctx context.Context, endpoint string) ([]record.Record, error) {
	data, err := a.read(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, stage.Wrap(stage.ErrParse, stage.NameSource, "parse listing", endpoint, err)
	}

	logger := logging.NewComponentLogger(a.Logger, "source")
	records := make([]record.Record, 0, len(raw))
	for i, entry := range raw {
		rec, err := decodeEntry(entry)
		if err != nil {
			logging.WarnWithContext(logger, "listing entry skipped", "listing_entry_skipped",
				logging.Int("position", i+1),
				logging.Error(err),
				logging.String(logging.FieldImpact, "entry is not processed this run"),
			)
			skip(a.OnSkip, stage.Result{
				Path:    fmt.Sprintf("%s#%d", endpoint, i+1),
				Outcome: stage.OutcomeFailed,
				Reason:  "malformed listing entry",
				Err:     err,
			})
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (a *JSONAdapter) read(ctx context.Context, endpoint string) ([]byte, error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		if a.Client == nil {
			return nil, errors.New("json adapter: no http client for remote listing")
		}
		return a.Client.GetBytes(ctx, endpoint)
	}
	data, err := os.ReadFile(endpoint)
	if err != nil {
		return nil, stage.Wrap(stage.ErrPermanentFetch, stage.NameSource, "read listing", endpoint, err)
	}
	return data, nil
}

func decodeEntry(entry json.RawMessage) (record.Record, error) {
	var in record.Record
	if err := json.Unmarshal(entry, &in); err != nil {
		return record.Record{}, stage.Wrap(stage.ErrParse, stage.NameSource, "decode entry", "", err)
	}
	pdfURL := in.PDFURL
	if strings.TrimSpace(pdfURL) == "" {
		pdfURL = record.AbsToPDF(in.AbsURL)
	}
	rec := record.New(in.Title, in.AbsURL, pdfURL, in.Authors, in.Abstract, in.SubmittedDateRaw)
	if rec.IdentityKey == "" {
		rec.IdentityKey = strings.TrimSpace(in.IdentityKey)
	}
	if rec.IdentityKey == "" {
		return record.Record{}, stage.Wrap(stage.ErrParse, stage.NameSource, "decode entry", "no identity key or url", nil)
	}
	return rec, nil
}
