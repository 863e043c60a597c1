package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"paperpipe/internal/config"
	"paperpipe/internal/diff"
	"paperpipe/internal/extract"
	"paperpipe/internal/fetch"
	"paperpipe/internal/httpclient"
	"paperpipe/internal/ledger"
	"paperpipe/internal/logging"
	"paperpipe/internal/merge"
	"paperpipe/internal/metrics"
	"paperpipe/internal/notifications"
	"paperpipe/internal/preflight"
	"paperpipe/internal/record"
	"paperpipe/internal/source"
	"paperpipe/internal/stage"
	"paperpipe/internal/staging"
	"paperpipe/internal/state"
)

// backlogMaxAttempts bounds retries of ledger items that no longer appear in
// the listing. Items still listed are retried every run.
const backlogMaxAttempts = 5

// ProgressFunc receives per-stage item progress.
type ProgressFunc func(stageName string, done, total int)

// Dependencies lets callers replace collaborators. Zero fields are built from
// the config.
type Dependencies struct {
	Client     *httpclient.Client
	Adapter    source.Adapter
	Extractors extract.Registry
	Metrics    *metrics.Recorder
	Notifier   notifications.Service
	Progress   ProgressFunc
	Preflight  func(context.Context, *config.Config) []preflight.Result
}

// Runner executes pipeline passes against one working directory.
type Runner struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   *httpclient.Client
	adapter  source.Adapter
	fetcher  *fetch.Stage
	extracts *extract.Stage
	metrics  *metrics.Recorder
	notifier notifications.Service
	checks   func(context.Context, *config.Config) []preflight.Result

	skipMu  sync.Mutex
	skipped int
}

// New builds a Runner with default collaborators.
func New(cfg *config.Config, logger *slog.Logger) (*Runner, error) {
	return NewWithDependencies(cfg, logger, Dependencies{})
}

// NewWithDependencies builds a Runner, filling unset dependencies from cfg.
func NewWithDependencies(cfg *config.Config, logger *slog.Logger, deps Dependencies) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("pipeline requires a config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		metrics:  deps.Metrics,
		notifier: deps.Notifier,
		checks:   deps.Preflight,
	}
	if r.checks == nil {
		r.checks = preflight.RunAll
	}
	if r.notifier == nil {
		r.notifier = notifications.NewService(cfg)
	}

	r.client = deps.Client
	if r.client == nil {
		r.client = httpclient.NewFromConfig(cfg, logger, r.metrics.HTTPRetry)
	}
	r.adapter = deps.Adapter
	if r.adapter == nil {
		adapter, err := source.New(cfg, r.client, logger, r.countSkip)
		if err != nil {
			return nil, err
		}
		r.adapter = adapter
	}

	r.fetcher = fetch.New(cfg, r.client, logger)
	r.extracts = extract.New(cfg, deps.Extractors, logger)
	if deps.Progress != nil {
		r.fetcher.OnProgress(func(done, total int) { deps.Progress(stage.NameFetch, done, total) })
		r.extracts.OnProgress(func(done, total int) { deps.Progress(stage.NameExtract, done, total) })
	}
	return r, nil
}

func (r *Runner) countSkip(stage.Result) {
	r.skipMu.Lock()
	r.skipped++
	r.skipMu.Unlock()
}

func (r *Runner) takeSkips() int {
	r.skipMu.Lock()
	defer r.skipMu.Unlock()
	n := r.skipped
	r.skipped = 0
	return n
}

// RunOnce executes one pass: listing, diff, fetch, extract, merge, commit.
// Per-record failures are counted in the Summary and retried next run; the
// returned error is reserved for failures that make the run's result unsafe
// to commit (environment, lock, state store, ledger, merge).
func (r *Runner) RunOnce(ctx context.Context) (summary Summary, err error) {
	summary = Summary{RunID: uuid.NewString(), StartedAt: time.Now()}
	ctx = stage.WithRunID(ctx, summary.RunID)
	logger := logging.WithContext(ctx, r.logger)
	logger.Info("run started",
		logging.String("source", r.adapter.Name()),
		logging.String(logging.FieldEventType, "run_start"),
	)

	var store *ledger.Store
	defer func() {
		summary.Duration = time.Since(summary.StartedAt)
		r.finish(ctx, logger, store, &summary, err)
		if store != nil {
			_ = store.Close()
		}
	}()

	// 1. environment
	if err := r.cfg.EnsureDirectories(); err != nil {
		return summary, stage.Wrap(stage.ErrEnvironment, "", "ensure directories", "", err)
	}
	if failed := preflight.Failed(r.checks(ctx, r.cfg)); len(failed) > 0 {
		details := make([]string, 0, len(failed))
		for _, f := range failed {
			details = append(details, f.Name+": "+f.Detail)
		}
		return summary, stage.Wrap(stage.ErrEnvironment, "", "preflight", strings.Join(details, "; "), nil)
	}
	for _, checker := range []stage.HealthChecker{r.extracts} {
		if health := checker.HealthCheck(ctx); !health.Ready {
			return summary, stage.Wrap(stage.ErrEnvironment, health.Name, "health check", health.Detail, nil)
		}
	}

	// 2. lock
	lock, err := acquireLock(r.cfg.LockPath())
	if err != nil {
		return summary, err
	}
	defer func() { _ = lock.Unlock() }()

	// 3. ledger, journal recovery, temp sweep
	store, err = ledger.Open(ctx, r.cfg.Paths.LedgerFile)
	if err != nil {
		return summary, stage.Wrap(stage.ErrPersistence, "", "open ledger", r.cfg.Paths.LedgerFile, err)
	}
	merger := merge.New(r.cfg, store, r.logger)
	if pending, perr := store.PendingMerges(ctx); perr == nil && len(pending) > 0 {
		r.metrics.JournalRecovered()
	}
	if err := merger.Recover(ctx); err != nil {
		return summary, err
	}
	sweep := staging.CleanStale(ctx, staging.SweepDirs(r.cfg), 0, r.logger)
	if len(sweep.Removed) > 0 {
		logger.Info("stale temp files removed", logging.Int("count", len(sweep.Removed)))
	}

	// 4. listing
	fresh := r.listFresh(ctx, logger, &summary)
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	// 5. diff against the state store
	current, err := state.Load(r.cfg.Paths.StateFile)
	if err != nil {
		return summary, err
	}
	newRecords := diff.ComputeNew(current.Keys(), fresh)
	summary.New = len(newRecords)
	summary.Degraded = r.reportDegraded(ctx, logger, newRecords)
	if err := store.Track(ctx, newRecords); err != nil {
		return summary, stage.Wrap(stage.ErrPersistence, "", "track records", "", err)
	}

	toFetch, err := r.selectFetch(ctx, store, current, newRecords, &summary)
	if err != nil {
		return summary, err
	}

	// 6. fetch
	fetchReport := r.fetcher.FetchAll(ctx, toFetch)
	summary.Fetched = fetchReport.Count(stage.OutcomeSucceeded)
	summary.Skipped = fetchReport.Count(stage.OutcomeSkipped)
	summary.addReport(fetchReport)
	r.metrics.ObserveReport(fetchReport)
	r.recordFetch(ctx, logger, store, fetchReport)

	// 7. extract
	extractReport := r.extracts.ExtractAll(ctx)
	summary.Converted = extractReport.Count(stage.OutcomeSucceeded)
	summary.addReport(extractReport)
	r.metrics.ObserveReport(extractReport)
	r.recordBySlug(ctx, logger, store, extractReport, ledger.StatusExtracted)

	if err := ctx.Err(); err != nil {
		// Texts written so far are merged by the next run.
		return summary, err
	}

	// 8. merge
	mergeReport, mergeErr := merger.MergeAll(ctx)
	summary.Merged = mergeReport.Count(stage.OutcomeSucceeded)
	summary.addReport(mergeReport)
	r.metrics.ObserveReport(mergeReport)
	for _, res := range mergeReport.Failed() {
		r.ledgerWarn(logger, store.RecordFailureBySlug(ctx, res.Slug, stage.NameMerge, res.Err))
	}
	if mergeErr != nil {
		return summary, mergeErr
	}

	// 9. commit
	committed, total, err := r.commit(ctx, logger, store, current, newRecords)
	summary.Committed = committed
	summary.StateRecords = total
	return summary, err
}

func (r *Runner) listFresh(ctx context.Context, logger *slog.Logger, summary *Summary) []record.Record {
	sourceCtx := stage.WithStage(ctx, stage.NameSource)
	r.takeSkips()
	fresh, err := r.adapter.Fetch(sourceCtx, r.cfg.Source.URL)
	summary.ParseSkipped = r.takeSkips()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		summary.SourceError = err.Error()
		logging.ErrorWithContext(logger, "listing fetch failed", "source_failed",
			logging.String("url", r.cfg.Source.URL),
			logging.ErrorKind(err),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check source.url and network connectivity"),
			logging.String(logging.FieldImpact, "only the backlog is processed this run"),
		)
		return nil
	}
	summary.Fresh = len(fresh)
	r.metrics.SourceRecords(len(fresh))
	if err := source.WriteSnapshot(r.cfg.Paths.SnapshotFile, fresh); err != nil {
		logging.WarnWithContext(logger, "snapshot write failed", "snapshot_failed",
			logging.String("path", r.cfg.Paths.SnapshotFile),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check base_dir permissions"),
			logging.String(logging.FieldImpact, "audit snapshot is stale"),
		)
	}
	logger.Info("listing fetched",
		logging.Int("records", len(fresh)),
		logging.Int("parse_skipped", summary.ParseSkipped),
		logging.String(logging.FieldEventType, "source_complete"),
	)
	return fresh
}

func (r *Runner) reportDegraded(ctx context.Context, logger *slog.Logger, records []record.Record) int {
	degraded := 0
	for _, rec := range records {
		if rec.HasCanonicalKey() {
			continue
		}
		degraded++
		logging.WarnWithContext(logger, "identity key fell back to raw url", "identity_key_degraded",
			logging.String(logging.FieldIdentityKey, rec.IdentityKey),
			logging.String("abs_url", rec.AbsURL),
			logging.String("pdf_url", rec.PDFURL),
			logging.String(logging.FieldErrorHint, "the listing URL format may have changed"),
			logging.String(logging.FieldImpact, "a later format fix may refetch this record once"),
		)
	}
	if degraded > 0 {
		r.metrics.DegradedKeys(degraded)
		r.publish(ctx, logger, notifications.EventDegradedKeys, notifications.Payload{"count": degraded})
	}
	return degraded
}

// selectFetch returns the new records that still need an artifact, followed
// by ledger backlog that fell off the listing before it could be processed.
// New records the ledger already shows as extracted or merged are left to the
// merge and commit steps.
func (r *Runner) selectFetch(ctx context.Context, store *ledger.Store, current *state.Store, newRecords []record.Record, summary *Summary) ([]record.Record, error) {
	progress := make(map[string]ledger.Status)
	items, err := store.List(ctx)
	if err != nil {
		return nil, stage.Wrap(stage.ErrPersistence, "", "read ledger", "", err)
	}
	backlog := make([]record.Record, 0)
	listed := diff.KeySet(newRecords)
	var committedElsewhere []string
	for _, item := range items {
		progress[item.IdentityKey] = item.Status
		if _, ok := listed[item.IdentityKey]; ok {
			continue
		}
		switch item.Status {
		case ledger.StatusPending, ledger.StatusFetched, ledger.StatusFailed:
			if current.Has(item.IdentityKey) {
				committedElsewhere = append(committedElsewhere, item.IdentityKey)
				continue
			}
			if item.Attempts >= backlogMaxAttempts {
				continue
			}
			backlog = append(backlog, item.Record)
		}
	}
	if len(committedElsewhere) > 0 {
		if err := store.MarkCommitted(ctx, committedElsewhere...); err != nil {
			return nil, stage.Wrap(stage.ErrPersistence, "", "reconcile ledger", "", err)
		}
	}

	out := make([]record.Record, 0, len(newRecords)+len(backlog))
	for _, rec := range newRecords {
		switch progress[rec.IdentityKey] {
		case ledger.StatusExtracted, ledger.StatusMerged:
			continue
		}
		out = append(out, rec)
	}
	summary.Backlog = len(backlog)
	return append(out, backlog...), nil
}

func (r *Runner) recordFetch(ctx context.Context, logger *slog.Logger, store *ledger.Store, report stage.Report) {
	var done []string
	for _, res := range report.Results {
		switch {
		case res.Outcome == stage.OutcomeSucceeded:
			done = append(done, res.IdentityKey)
		case res.Outcome == stage.OutcomeSkipped && res.Kind() == stage.KindNone:
			done = append(done, res.IdentityKey)
		case res.Outcome == stage.OutcomeFailed:
			r.ledgerWarn(logger, store.RecordFailure(ctx, res.IdentityKey, stage.NameFetch, res.Err))
		}
	}
	r.ledgerWarn(logger, store.SetStatus(ctx, ledger.StatusFetched, done...))
}

func (r *Runner) recordBySlug(ctx context.Context, logger *slog.Logger, store *ledger.Store, report stage.Report, status ledger.Status) {
	var done []string
	for _, res := range report.Results {
		switch res.Outcome {
		case stage.OutcomeSucceeded:
			done = append(done, res.Slug)
		case stage.OutcomeFailed:
			if res.Slug != "" {
				r.ledgerWarn(logger, store.RecordFailureBySlug(ctx, res.Slug, report.Stage, res.Err))
			}
		}
	}
	r.ledgerWarn(logger, store.SetStatusBySlug(ctx, status, done...))
}

func (r *Runner) ledgerWarn(logger *slog.Logger, err error) {
	if err == nil {
		return
	}
	logging.WarnWithContext(logger, "ledger update failed", "ledger_update_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check ledger_file permissions and free space"),
		logging.String(logging.FieldImpact, "status and retry history may be stale"),
	)
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, store *ledger.Store, summary *Summary, runErr error) {
	bg := context.WithoutCancel(ctx)
	if store != nil {
		run := ledger.Run{
			ID:         summary.RunID,
			StartedAt:  summary.StartedAt,
			FinishedAt: summary.StartedAt.Add(summary.Duration),
			Fresh:      summary.Fresh,
			New:        summary.New,
			Fetched:    summary.Fetched,
			Converted:  summary.Converted,
			Merged:     summary.Merged,
			Committed:  summary.Committed,
			Failed:     summary.Failed,
			Degraded:   summary.Degraded,
		}
		if runErr != nil {
			run.Error = runErr.Error()
		}
		r.ledgerWarn(logger, store.RecordRun(bg, run))
	}
	r.metrics.ObserveRun(summary.Duration, runErr != nil, summary.StateRecords)

	if runErr != nil {
		if errors.Is(runErr, ErrLocked) {
			logger.Warn("run skipped", logging.Error(runErr), logging.String(logging.FieldEventType, "run_locked"))
			return
		}
		attrs := append(summary.logAttrs(),
			logging.String(logging.FieldEventType, "run_failed"),
			logging.ErrorKind(runErr),
			logging.Error(runErr),
			logging.String(logging.FieldErrorHint, hintFor(runErr)),
			logging.String(logging.FieldImpact, "nothing committed this run; work resumes next run"),
		)
		logger.Error("run failed", attrs...)
		r.publish(bg, logger, notifications.EventRunFailed, notifications.Payload{
			"run_id": summary.RunID,
			"error":  runErr,
		})
		return
	}

	logger.Info("run complete", append(summary.logAttrs(), logging.String(logging.FieldEventType, "run_complete"))...)
	r.publish(bg, logger, notifications.EventRunCompleted, notifications.Payload{
		"committed": summary.Committed,
		"failed":    summary.Failed,
		"duration":  summary.Duration,
	})
}

func (r *Runner) publish(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Publish(ctx, event, payload); err != nil {
		logger.Warn("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}

func hintFor(err error) string {
	switch stage.KindOf(err) {
	case stage.KindEnvironment:
		return "check directory permissions, free space and that no other run is active"
	case stage.KindPersistence:
		return "check base_dir permissions and free space"
	case stage.KindCanceled:
		return "run was interrupted"
	default:
		return "see error for the failing step"
	}
}
