package merge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"paperpipe/internal/config"
	"paperpipe/internal/fileutil"
	"paperpipe/internal/ledger"
	"paperpipe/internal/logging"
	"paperpipe/internal/stage"
)

// Journal records which text files a corpus version contains. ledger.Store
// satisfies it.
type Journal interface {
	BeginMerge(ctx context.Context, corpusSHA string, slugs []string) error
	ApplyMerge(ctx context.Context, corpusSHA string) (int, error)
	DropPendingMerges(ctx context.Context) (int, error)
	PendingMerges(ctx context.Context) ([]ledger.MergeEntry, error)
	AppliedSlugs(ctx context.Context, slugs []string) (map[string]bool, error)
}

// Stage folds per-record text files into the corpus.
type Stage struct {
	cfg     *config.Config
	journal Journal
	logger  *slog.Logger
}

// New constructs the merge stage.
func New(cfg *config.Config, journal Journal, logger *slog.Logger) *Stage {
	return &Stage{
		cfg:     cfg,
		journal: journal,
		logger:  logging.NewComponentLogger(logger, stage.NameMerge),
	}
}

type entry struct {
	slug string
	path string
}

// MergeAll appends every pending text file to the corpus in one atomic
// rewrite. Texts whose slug the journal shows as already merged are deleted
// instead. A returned error means the corpus was not replaced, or was
// replaced but could not be recorded; either way nothing should be committed.
func (s *Stage) MergeAll(ctx context.Context) (stage.Report, error) {
	report := stage.Report{Stage: stage.NameMerge}
	ctx = stage.WithStage(ctx, stage.NameMerge)
	logger := logging.WithContext(ctx, s.logger)

	entries, err := s.pendingTexts()
	if err != nil {
		return report, stage.Wrap(stage.ErrPersistence, stage.NameMerge, "list texts", "", err)
	}
	if len(entries) == 0 {
		logger.Debug("no text files to merge")
		return report, nil
	}

	entries, err = s.dropAlreadyMerged(ctx, logger, entries, &report)
	if err != nil {
		return report, err
	}
	if len(entries) == 0 {
		return report, nil
	}

	started := time.Now()
	readers := make([]io.Reader, 0, len(entries))
	merged := make([]entry, 0, len(entries))
	for _, e := range entries {
		f, err := os.Open(e.path)
		if err != nil {
			res := stage.Result{Slug: e.slug, Path: e.path, Outcome: stage.OutcomeFailed,
				Err: stage.Wrap(stage.ErrPersistence, stage.NameMerge, "open text", "", err)}
			report.Add(res)
			logging.WarnWithContext(logger, "text file unreadable", "merge_read_failed",
				logging.String("path", e.path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check text_dir permissions"),
				logging.String(logging.FieldImpact, "text left for the next run"),
			)
			continue
		}
		defer f.Close()
		readers = append(readers, f)
		merged = append(merged, e)
	}
	if len(merged) == 0 {
		return report, nil
	}

	sha, err := s.writeCorpus(ctx, readers, merged)
	if err != nil {
		return report, err
	}

	for _, e := range merged {
		report.Add(stage.Result{Slug: e.slug, Path: e.path, Outcome: stage.OutcomeSucceeded})
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			logging.WarnWithContext(logger, "failed to remove merged text", "merge_cleanup_failed",
				logging.String("path", e.path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check text_dir permissions"),
				logging.String(logging.FieldImpact, "file is removed by the next merge"),
			)
		}
	}

	logger.Info("corpus updated",
		logging.Int("merged", len(merged)),
		logging.String("corpus", s.cfg.Paths.CorpusFile),
		logging.String("sha256", sha),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	return report, nil
}

func (s *Stage) writeCorpus(ctx context.Context, readers []io.Reader, merged []entry) (string, error) {
	corpus := s.cfg.Paths.CorpusFile
	tempPath := fileutil.TempPath(corpus)
	if err := fileutil.RemoveIfExists(tempPath); err != nil {
		return "", stage.Wrap(stage.ErrPersistence, stage.NameMerge, "clear stale corpus temp", "", err)
	}
	part, err := fileutil.CreateExclusive(tempPath)
	if err != nil {
		return "", stage.Wrap(stage.ErrPersistence, stage.NameMerge, "create corpus temp", "", err)
	}

	var previous io.Reader
	if current, err := os.Open(corpus); err == nil {
		defer current.Close()
		previous = current
	} else if !os.IsNotExist(err) {
		fileutil.Abort(part)
		return "", stage.Wrap(stage.ErrPersistence, stage.NameMerge, "open corpus", "", err)
	}

	hash := sha256.New()
	if err := Concatenate(io.MultiWriter(part, hash), previous, readers, s.cfg.Merge.Separator); err != nil {
		fileutil.Abort(part)
		return "", stage.Wrap(stage.ErrPersistence, stage.NameMerge, "write corpus", "", err)
	}
	if err := part.Sync(); err != nil {
		fileutil.Abort(part)
		return "", stage.Wrap(stage.ErrPersistence, stage.NameMerge, "sync corpus", "", err)
	}
	sha := hex.EncodeToString(hash.Sum(nil))

	slugs := make([]string, len(merged))
	for i, e := range merged {
		slugs[i] = e.slug
	}
	if err := s.journal.BeginMerge(ctx, sha, slugs); err != nil {
		fileutil.Abort(part)
		s.dropPending(ctx)
		return "", stage.Wrap(stage.ErrPersistence, stage.NameMerge, "journal merge", "", err)
	}
	if err := fileutil.CommitTemp(part, corpus); err != nil {
		s.dropPending(ctx)
		return "", stage.Wrap(stage.ErrPersistence, stage.NameMerge, "replace corpus", "", err)
	}
	if _, err := s.journal.ApplyMerge(ctx, sha); err != nil {
		// Recover promotes the pending rows on the next run.
		return "", stage.Wrap(stage.ErrPersistence, stage.NameMerge, "apply merge journal", "", err)
	}
	return sha, nil
}

func (s *Stage) dropPending(ctx context.Context) {
	if _, err := s.journal.DropPendingMerges(context.WithoutCancel(ctx)); err != nil {
		logging.WarnWithContext(s.logger, "failed to drop pending merge journal rows", "merge_journal_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "rows are reconciled at the next run start"),
		)
	}
}

func (s *Stage) pendingTexts() ([]entry, error) {
	paths, err := fileutil.ListWithExt(s.cfg.Paths.TextDir, ".txt")
	if err != nil {
		return nil, err
	}
	corpus := filepath.Clean(s.cfg.Paths.CorpusFile)
	entries := make([]entry, 0, len(paths))
	for _, path := range paths {
		if filepath.Clean(path) == corpus {
			continue
		}
		base := filepath.Base(path)
		entries = append(entries, entry{slug: strings.TrimSuffix(base, filepath.Ext(base)), path: path})
	}
	return entries, nil
}

func (s *Stage) dropAlreadyMerged(ctx context.Context, logger *slog.Logger, entries []entry, report *stage.Report) ([]entry, error) {
	slugs := make([]string, len(entries))
	for i, e := range entries {
		slugs[i] = e.slug
	}
	applied, err := s.journal.AppliedSlugs(ctx, slugs)
	if err != nil {
		return nil, stage.Wrap(stage.ErrPersistence, stage.NameMerge, "read merge journal", "", err)
	}
	kept := entries[:0]
	for _, e := range entries {
		if !applied[e.slug] {
			kept = append(kept, e)
			continue
		}
		report.Add(stage.Result{Slug: e.slug, Path: e.path, Outcome: stage.OutcomeSkipped, Reason: "already merged"})
		logger.Info("removing text already present in corpus",
			logging.String("path", e.path),
			logging.String(logging.FieldEventType, "merge_duplicate_removed"),
		)
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove duplicate text", logging.String("path", e.path), logging.Error(err))
		}
	}
	return kept, nil
}

// Recover reconciles the journal with the corpus on disk after a crash.
// Pending rows whose digest matches the current corpus describe a rename that
// landed and are promoted; the rest describe one that never happened and are
// dropped.
func (s *Stage) Recover(ctx context.Context) error {
	pending, err := s.journal.PendingMerges(ctx)
	if err != nil {
		return stage.Wrap(stage.ErrPersistence, stage.NameMerge, "read merge journal", "", err)
	}
	if len(pending) == 0 {
		return nil
	}

	current, err := fileutil.SHA256File(s.cfg.Paths.CorpusFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return stage.Wrap(stage.ErrPersistence, stage.NameMerge, "hash corpus", "", err)
	}

	promoted := 0
	if current != "" {
		for _, row := range pending {
			if row.CorpusSHA256 == current {
				n, err := s.journal.ApplyMerge(ctx, current)
				if err != nil {
					return stage.Wrap(stage.ErrPersistence, stage.NameMerge, "promote merge journal", "", err)
				}
				promoted = n
				break
			}
		}
	}
	dropped, err := s.journal.DropPendingMerges(ctx)
	if err != nil {
		return stage.Wrap(stage.ErrPersistence, stage.NameMerge, "drop merge journal", "", err)
	}
	s.logger.Info("merge journal recovered",
		logging.Int("promoted", promoted),
		logging.Int("dropped", dropped),
		logging.String(logging.FieldEventType, "merge_journal_recovered"),
	)
	return nil
}
