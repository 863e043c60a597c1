package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"paperpipe/internal/config"
	"paperpipe/internal/fileutil"
	"paperpipe/internal/logging"
	"paperpipe/internal/record"
	"paperpipe/internal/stage"
)

// Downloader performs a rate-limited, retried GET. httpclient.Client
// satisfies it.
type Downloader interface {
	Get(ctx context.Context, url string, consume func(*http.Response) error) error
}

// ProgressFunc is called after each record completes.
type ProgressFunc func(done, total int)

// Stage downloads the artifact of each new record into the artifact
// directory.
type Stage struct {
	cfg      *config.Config
	client   Downloader
	logger   *slog.Logger
	progress ProgressFunc
}

// New constructs the fetch stage.
func New(cfg *config.Config, client Downloader, logger *slog.Logger) *Stage {
	return &Stage{
		cfg:    cfg,
		client: client,
		logger: logging.NewComponentLogger(logger, stage.NameFetch),
	}
}

// OnProgress registers a progress callback.
func (s *Stage) OnProgress(fn ProgressFunc) {
	s.progress = fn
}

// FetchAll downloads every record with a bounded worker pool. Per-record
// failures are reported, never returned, so one bad record cannot cancel its
// siblings. Results keep the order of records.
func (s *Stage) FetchAll(ctx context.Context, records []record.Record) stage.Report {
	report := stage.Report{Stage: stage.NameFetch, Results: make([]stage.Result, len(records))}
	if len(records) == 0 {
		return report
	}
	ctx = stage.WithStage(ctx, stage.NameFetch)
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("fetch started",
		logging.Int("records", len(records)),
		logging.Int("workers", s.cfg.Fetch.Workers),
		logging.String(logging.FieldEventType, "stage_start"),
	)
	started := time.Now()

	var (
		mu      sync.Mutex
		done    int
		sampler = logging.NewProgressSampler(25)
	)
	group := new(errgroup.Group)
	group.SetLimit(max(1, s.cfg.Fetch.Workers))
	for i, rec := range records {
		if ctx.Err() != nil {
			report.Results[i] = canceled(rec, ctx.Err())
			continue
		}
		group.Go(func() error {
			res := s.fetchOne(ctx, rec)
			report.Results[i] = res

			mu.Lock()
			done++
			current := done
			if sampler.ShouldLog(current, len(records)) {
				logger.Info("fetch progress",
					logging.Int("done", current),
					logging.Int("total", len(records)),
				)
			}
			if s.progress != nil {
				s.progress(current, len(records))
			}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	logger.Info("fetch finished",
		logging.Int("fetched", report.Count(stage.OutcomeSucceeded)),
		logging.Int("skipped", report.Count(stage.OutcomeSkipped)),
		logging.Int("failed", report.Count(stage.OutcomeFailed)),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	return report
}

func (s *Stage) fetchOne(ctx context.Context, rec record.Record) stage.Result {
	slug := rec.Slug()
	final := s.cfg.ArtifactPath(slug)
	res := stage.Result{IdentityKey: rec.IdentityKey, Slug: slug, Path: final}
	logger := logging.WithContext(stage.WithIdentityKey(ctx, rec.IdentityKey), s.logger)

	if ctx.Err() != nil {
		return canceled(rec, ctx.Err())
	}

	url := strings.TrimSpace(rec.PDFURL)
	if url == "" {
		res.Outcome = stage.OutcomeFailed
		res.Err = stage.Wrap(stage.ErrPermanentFetch, stage.NameFetch, "resolve artifact url",
			"Record has no artifact URL", nil)
		logging.WarnWithContext(logger, "record has no artifact url", "fetch_no_url",
			logging.String("title", rec.Title),
			logging.String(logging.FieldErrorHint, "check the source listing for a pdf link"),
			logging.String(logging.FieldImpact, "record skipped until the listing provides a link"),
		)
		return res
	}

	exists, err := fileutil.Exists(final)
	if err != nil {
		return s.fail(logger, res, url, stage.Wrap(stage.ErrPersistence, stage.NameFetch, "stat artifact", "", err))
	}
	if exists {
		res.Outcome = stage.OutcomeSkipped
		res.Reason = "artifact already present"
		logger.Debug("artifact already present", logging.String("path", final))
		return res
	}

	part, err := fileutil.CreateExclusive(fileutil.TempPath(final))
	if errors.Is(err, os.ErrExist) {
		res.Outcome = stage.OutcomeSkipped
		res.Reason = "download claimed by another worker"
		logger.Debug("artifact download already claimed", logging.String("path", final))
		return res
	}
	if err != nil {
		return s.fail(logger, res, url, stage.Wrap(stage.ErrPersistence, stage.NameFetch, "claim artifact", "", err))
	}

	// A sibling may have committed the same slug between the stat and the claim.
	if exists, _ := fileutil.Exists(final); exists {
		fileutil.Abort(part)
		res.Outcome = stage.OutcomeSkipped
		res.Reason = "artifact already present"
		return res
	}

	err = s.client.Get(ctx, url, func(resp *http.Response) error {
		if err := rewind(part); err != nil {
			return stage.Wrap(stage.ErrPersistence, stage.NameFetch, "reset partial download", "", err)
		}
		if _, err := io.Copy(part, resp.Body); err != nil {
			var pathErr *os.PathError
			if errors.As(err, &pathErr) {
				return stage.Wrap(stage.ErrPersistence, stage.NameFetch, "write artifact", "", err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		fileutil.Abort(part)
		// Per-attempt timeouts also surface as DeadlineExceeded; only the
		// caller's context decides cancellation.
		if ctx.Err() != nil {
			return canceled(rec, err)
		}
		return s.fail(logger, res, url, err)
	}
	if err := fileutil.CommitTemp(part, final); err != nil {
		return s.fail(logger, res, url, stage.Wrap(stage.ErrPersistence, stage.NameFetch, "commit artifact", "", err))
	}

	res.Outcome = stage.OutcomeSucceeded
	logger.Info("artifact downloaded",
		logging.String("url", url),
		logging.String("path", final),
		logging.String(logging.FieldEventType, "artifact_downloaded"),
	)
	return res
}

func (s *Stage) fail(logger *slog.Logger, res stage.Result, url string, err error) stage.Result {
	res.Outcome = stage.OutcomeFailed
	res.Err = err
	logging.WarnWithContext(logger, "artifact download failed", "fetch_failed",
		logging.String("url", url),
		logging.String("path", res.Path),
		logging.ErrorKind(err),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, hintFor(err)),
		logging.String(logging.FieldImpact, "record will be retried next run"),
	)
	return res
}

func canceled(rec record.Record, err error) stage.Result {
	return stage.Result{
		IdentityKey: rec.IdentityKey,
		Slug:        rec.Slug(),
		Outcome:     stage.OutcomeSkipped,
		Reason:      "canceled",
		Err:         err,
	}
}

func rewind(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}

func hintFor(err error) string {
	switch stage.KindOf(err) {
	case stage.KindTransientNetwork:
		return "server or network unavailable; lower requests_per_second if this persists"
	case stage.KindPermanentFetch:
		return "artifact URL rejected the request"
	case stage.KindPersistence:
		return "check permissions and free space on artifact_dir"
	default:
		return "see error for details"
	}
}
