package extract

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"paperpipe/internal/config"
	"paperpipe/internal/fileutil"
	"paperpipe/internal/logging"
	"paperpipe/internal/stage"
	"paperpipe/internal/textutil"
)

// ProgressFunc is called after each artifact completes.
type ProgressFunc func(done, total int)

// Stage converts every artifact in the artifact directory into a text file.
type Stage struct {
	cfg        *config.Config
	extractors Registry
	logger     *slog.Logger
	progress   ProgressFunc
}

// New constructs the extraction stage. A nil registry uses DefaultRegistry.
func New(cfg *config.Config, extractors Registry, logger *slog.Logger) *Stage {
	if extractors == nil {
		extractors = DefaultRegistry()
	}
	return &Stage{
		cfg:        cfg,
		extractors: extractors,
		logger:     logging.NewComponentLogger(logger, stage.NameExtract),
	}
}

// OnProgress registers a progress callback.
func (s *Stage) OnProgress(fn ProgressFunc) {
	s.progress = fn
}

// HealthCheck reports whether an extractor exists for the configured
// artifact extension.
func (s *Stage) HealthCheck(context.Context) stage.Health {
	if _, ok := s.extractors.Lookup(s.cfg.Fetch.ArtifactExt); !ok {
		return stage.Unhealthy(stage.NameExtract, "no extractor for "+s.cfg.Fetch.ArtifactExt)
	}
	return stage.Healthy(stage.NameExtract)
}

// ExtractAll converts every artifact present, including ones left by earlier
// runs. Failed artifacts stay in place for the next run.
func (s *Stage) ExtractAll(ctx context.Context) stage.Report {
	report := stage.Report{Stage: stage.NameExtract}
	ctx = stage.WithStage(ctx, stage.NameExtract)
	logger := logging.WithContext(ctx, s.logger)

	artifacts, err := fileutil.ListWithExt(s.cfg.Paths.ArtifactDir, s.cfg.Fetch.ArtifactExt)
	if err != nil {
		logging.ErrorWithContext(logger, "list artifacts failed", "extract_list_failed",
			logging.String("dir", s.cfg.Paths.ArtifactDir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check artifact_dir permissions"),
			logging.String(logging.FieldImpact, "no artifacts converted this run"),
		)
		report.Add(stage.Result{
			Path:    s.cfg.Paths.ArtifactDir,
			Outcome: stage.OutcomeFailed,
			Err:     stage.Wrap(stage.ErrPersistence, stage.NameExtract, "list artifacts", "", err),
		})
		return report
	}
	if len(artifacts) == 0 {
		return report
	}

	logger.Info("extraction started",
		logging.Int("artifacts", len(artifacts)),
		logging.Int("workers", s.cfg.Extract.Workers),
		logging.String(logging.FieldEventType, "stage_start"),
	)
	started := time.Now()

	report.Results = make([]stage.Result, len(artifacts))
	var (
		mu      sync.Mutex
		done    int
		sampler = logging.NewProgressSampler(25)
	)
	group := new(errgroup.Group)
	group.SetLimit(max(1, s.cfg.Extract.Workers))
	for i, path := range artifacts {
		slug := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if ctx.Err() != nil {
			report.Results[i] = stage.Result{Slug: slug, Path: path, Outcome: stage.OutcomeSkipped, Reason: "canceled", Err: ctx.Err()}
			continue
		}
		group.Go(func() error {
			report.Results[i] = s.extractOne(ctx, slug, path)

			mu.Lock()
			done++
			if sampler.ShouldLog(done, len(artifacts)) {
				logger.Info("extraction progress",
					logging.Int("done", done),
					logging.Int("total", len(artifacts)),
				)
			}
			if s.progress != nil {
				s.progress(done, len(artifacts))
			}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	logger.Info("extraction finished",
		logging.Int("converted", report.Count(stage.OutcomeSucceeded)),
		logging.Int("failed", report.Count(stage.OutcomeFailed)),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	return report
}

func (s *Stage) extractOne(ctx context.Context, slug, artifact string) stage.Result {
	target := s.cfg.TextPath(slug)
	res := stage.Result{Slug: slug, Path: target}
	logger := logging.WithContext(ctx, s.logger).With(logging.String("slug", slug))

	if exists, _ := fileutil.Exists(target); exists {
		// Converted by a run that stopped before deleting the artifact.
		s.removeArtifact(logger, artifact)
		res.Outcome = stage.OutcomeSucceeded
		res.Reason = "text already present"
		return res
	}

	extractor, ok := s.extractors.Lookup(filepath.Ext(artifact))
	if !ok {
		return s.fail(logger, res, artifact, stage.Wrap(stage.ErrConversion, stage.NameExtract, "select extractor",
			"No extractor registered for "+filepath.Ext(artifact), nil))
	}

	text, err := extractor.Extract(ctx, artifact)
	if err != nil {
		if ctx.Err() != nil {
			res.Outcome = stage.OutcomeSkipped
			res.Reason = "canceled"
			res.Err = err
			return res
		}
		return s.fail(logger, res, artifact, stage.Wrap(stage.ErrConversion, stage.NameExtract, "convert", filepath.Base(artifact), err))
	}
	text = textutil.NormalizeText(text)
	if strings.TrimSpace(text) == "" {
		logging.WarnWithContext(logger, "artifact produced no text", "extract_empty",
			logging.String("path", artifact),
			logging.String(logging.FieldErrorHint, "the artifact may be a scanned image without a text layer"),
			logging.String(logging.FieldImpact, "empty corpus entry"),
		)
	}

	part, err := fileutil.CreateExclusive(fileutil.TempPath(target))
	if err != nil {
		return s.fail(logger, res, artifact, stage.Wrap(stage.ErrPersistence, stage.NameExtract, "claim text file", "", err))
	}
	if _, err := io.WriteString(part, text); err != nil {
		fileutil.Abort(part)
		return s.fail(logger, res, artifact, stage.Wrap(stage.ErrPersistence, stage.NameExtract, "write text", "", err))
	}
	if err := fileutil.CommitTemp(part, target); err != nil {
		return s.fail(logger, res, artifact, stage.Wrap(stage.ErrPersistence, stage.NameExtract, "commit text", "", err))
	}

	s.removeArtifact(logger, artifact)
	res.Outcome = stage.OutcomeSucceeded
	logger.Info("artifact converted",
		logging.String("path", target),
		logging.Int("bytes", len(text)),
		logging.String(logging.FieldEventType, "artifact_converted"),
	)
	return res
}

func (s *Stage) removeArtifact(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.WarnWithContext(logger, "failed to remove converted artifact", "artifact_cleanup_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check artifact_dir permissions"),
			logging.String(logging.FieldImpact, "artifact will be skipped next run because its text exists"),
		)
	}
}

func (s *Stage) fail(logger *slog.Logger, res stage.Result, artifact string, err error) stage.Result {
	res.Outcome = stage.OutcomeFailed
	res.Err = err
	logging.WarnWithContext(logger, "artifact conversion failed", "extract_failed",
		logging.String("artifact", artifact),
		logging.ErrorKind(err),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "inspect the artifact; it is kept for the next run"),
		logging.String(logging.FieldImpact, "record not merged this run"),
	)
	return res
}
