package pipeline

import (
	"context"
	"log/slog"

	"paperpipe/internal/fileutil"
	"paperpipe/internal/ledger"
	"paperpipe/internal/logging"
	"paperpipe/internal/record"
	"paperpipe/internal/stage"
	"paperpipe/internal/state"
)

// commit prepends every merged record to the state store and saves it. This
// run's records come first in listing order, then older backlog newest first.
// It returns how many records were added and the resulting store size.
func (r *Runner) commit(ctx context.Context, logger *slog.Logger, store *ledger.Store, current *state.Store, newRecords []record.Record) (int, int, error) {
	ctx = stage.WithStage(ctx, stage.NameCommit)
	logger = logging.WithContext(ctx, logger)

	if err := r.resetOrphanedExtractions(ctx, logger, store); err != nil {
		return 0, current.Len(), err
	}

	merged, err := store.List(ctx, ledger.StatusMerged)
	if err != nil {
		return 0, current.Len(), stage.Wrap(stage.ErrPersistence, stage.NameCommit, "read merged items", "", err)
	}
	if len(merged) == 0 {
		return 0, current.Len(), nil
	}

	byKey := make(map[string]ledger.Item, len(merged))
	for _, item := range merged {
		byKey[item.IdentityKey] = item
	}
	batch := make([]record.Record, 0, len(merged))
	keys := make([]string, 0, len(merged))
	taken := make(map[string]struct{}, len(merged))
	take := func(rec record.Record) {
		if _, ok := taken[rec.IdentityKey]; ok {
			return
		}
		taken[rec.IdentityKey] = struct{}{}
		keys = append(keys, rec.IdentityKey)
		if !current.Has(rec.IdentityKey) {
			batch = append(batch, rec)
		}
	}
	for _, rec := range newRecords {
		if _, ok := byKey[rec.IdentityKey]; ok {
			take(rec)
		}
	}
	for _, item := range merged {
		take(item.Record)
	}

	next := current.Prepend(batch)
	added := next.Len() - current.Len()
	if added > 0 {
		if err := next.Save(r.cfg.Paths.StateFile); err != nil {
			return 0, current.Len(), err
		}
	}
	r.ledgerWarn(logger, store.MarkCommitted(ctx, keys...))

	logger.Info("state committed",
		logging.Int("added", added),
		logging.Int("total", next.Len()),
		logging.String("path", r.cfg.Paths.StateFile),
		logging.String(logging.FieldEventType, "state_committed"),
	)
	return added, next.Len(), nil
}

// resetOrphanedExtractions sends extracted items whose text file vanished back
// to pending so the next run fetches them again.
func (r *Runner) resetOrphanedExtractions(ctx context.Context, logger *slog.Logger, store *ledger.Store) error {
	extracted, err := store.List(ctx, ledger.StatusExtracted)
	if err != nil {
		return stage.Wrap(stage.ErrPersistence, stage.NameCommit, "read extracted items", "", err)
	}
	var orphaned []string
	for _, item := range extracted {
		exists, err := fileutil.Exists(r.cfg.TextPath(item.Slug))
		if err != nil || exists {
			continue
		}
		orphaned = append(orphaned, item.IdentityKey)
		logging.WarnWithContext(logger, "extracted text missing", "text_missing",
			logging.String(logging.FieldIdentityKey, item.IdentityKey),
			logging.String("path", r.cfg.TextPath(item.Slug)),
			logging.String(logging.FieldErrorHint, "text files should only be removed by the merge stage"),
			logging.String(logging.FieldImpact, "record will be fetched again"),
		)
	}
	r.ledgerWarn(logger, store.SetStatus(ctx, ledger.StatusPending, orphaned...))
	return nil
}
