package merge_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"paperpipe/internal/config"
	"paperpipe/internal/fileutil"
	"paperpipe/internal/ledger"
	"paperpipe/internal/logging"
	"paperpipe/internal/merge"
	"paperpipe/internal/record"
	"paperpipe/internal/stage"
	"paperpipe/internal/testsupport"
)

const sep = config.DefaultSeparator

func TestConcatenate(t *testing.T) {
	readers := func(parts ...string) []io.Reader {
		out := make([]io.Reader, len(parts))
		for i, p := range parts {
			out[i] = strings.NewReader(p)
		}
		return out
	}
	tests := []struct {
		name     string
		previous io.Reader
		entries  []io.Reader
		want     string
	}{
		{"empty corpus", nil, readers("A", "B"), "A" + sep + "B"},
		{"empty previous reader", strings.NewReader(""), readers("A"), "A"},
		{"existing corpus", strings.NewReader("X"), readers("A", "B"), "X" + sep + "A" + sep + "B"},
		{"no entries", strings.NewReader("X"), nil, "X"},
		{"nothing", nil, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := merge.Concatenate(&buf, tt.previous, tt.entries, sep); err != nil {
				t.Fatalf("Concatenate failed: %v", err)
			}
			if buf.String() != tt.want {
				t.Fatalf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func newStage(t *testing.T) (*merge.Stage, *config.Config, *ledger.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	return merge.New(cfg, store, logging.NewNop()), cfg, store
}

func TestMergeAllEmptyIsNoop(t *testing.T) {
	st, cfg, _ := newStage(t)

	report, err := st.MergeAll(context.Background())
	if err != nil {
		t.Fatalf("MergeAll failed: %v", err)
	}
	if len(report.Results) != 0 {
		t.Fatalf("expected no results, got %#v", report.Results)
	}
	testsupport.AssertMissing(t, cfg.Paths.CorpusFile)
}

func TestMergeAllOnEmptyCorpus(t *testing.T) {
	st, cfg, _ := newStage(t)
	testsupport.WriteFile(t, cfg.TextPath("a"), "A")
	testsupport.WriteFile(t, cfg.TextPath("b"), "B")

	report, err := st.MergeAll(context.Background())
	if err != nil {
		t.Fatalf("MergeAll failed: %v", err)
	}
	if report.Count(stage.OutcomeSucceeded) != 2 {
		t.Fatalf("expected 2 merged, got %#v", report.Results)
	}
	if got := testsupport.ReadFile(t, cfg.Paths.CorpusFile); got != "A"+sep+"B" {
		t.Fatalf("corpus = %q", got)
	}
	testsupport.AssertMissing(t, cfg.TextPath("a"))
	testsupport.AssertMissing(t, cfg.TextPath("b"))
	testsupport.AssertMissing(t, fileutil.TempPath(cfg.Paths.CorpusFile))
}

func TestMergeAllAppendsToExistingCorpus(t *testing.T) {
	st, cfg, _ := newStage(t)
	testsupport.WriteFile(t, cfg.Paths.CorpusFile, "X")
	testsupport.WriteFile(t, cfg.TextPath("c"), "C")

	if _, err := st.MergeAll(context.Background()); err != nil {
		t.Fatalf("MergeAll failed: %v", err)
	}
	if got := testsupport.ReadFile(t, cfg.Paths.CorpusFile); got != "X"+sep+"C" {
		t.Fatalf("corpus = %q", got)
	}
}

func TestMergeAllSkipsAlreadyMergedText(t *testing.T) {
	st, cfg, _ := newStage(t)
	testsupport.WriteFile(t, cfg.TextPath("a"), "A")
	if _, err := st.MergeAll(context.Background()); err != nil {
		t.Fatalf("first MergeAll failed: %v", err)
	}

	// Deleting the merged text failed last time.
	testsupport.WriteFile(t, cfg.TextPath("a"), "A")
	report, err := st.MergeAll(context.Background())
	if err != nil {
		t.Fatalf("second MergeAll failed: %v", err)
	}
	if report.Count(stage.OutcomeSkipped) != 1 || report.Count(stage.OutcomeSucceeded) != 0 {
		t.Fatalf("expected the stray text to be skipped, got %#v", report.Results)
	}
	if got := testsupport.ReadFile(t, cfg.Paths.CorpusFile); got != "A" {
		t.Fatalf("corpus double-counted: %q", got)
	}
	testsupport.AssertMissing(t, cfg.TextPath("a"))
}

func TestMergeAllSkipsTextOfCommittedRecord(t *testing.T) {
	st, cfg, store := newStage(t)
	ctx := context.Background()
	rec := record.New("A", "https://arxiv.org/abs/2501.00001", "https://arxiv.org/pdf/2501.00001", nil, "", "")
	if err := store.Track(ctx, []record.Record{rec}); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	testsupport.WriteFile(t, cfg.TextPath(rec.Slug()), "A")
	if _, err := st.MergeAll(ctx); err != nil {
		t.Fatalf("first MergeAll failed: %v", err)
	}
	if err := store.MarkCommitted(ctx, rec.IdentityKey); err != nil {
		t.Fatalf("MarkCommitted failed: %v", err)
	}

	testsupport.WriteFile(t, cfg.TextPath(rec.Slug()), "A")
	report, err := st.MergeAll(ctx)
	if err != nil {
		t.Fatalf("second MergeAll failed: %v", err)
	}
	if report.Count(stage.OutcomeSucceeded) != 0 {
		t.Fatalf("committed text merged again: %#v", report.Results)
	}
	if got := testsupport.ReadFile(t, cfg.Paths.CorpusFile); got != "A" {
		t.Fatalf("corpus double-counted: %q", got)
	}
	testsupport.AssertMissing(t, cfg.TextPath(rec.Slug()))
}

func TestRecoverPromotesLandedMerge(t *testing.T) {
	st, cfg, store := newStage(t)
	ctx := context.Background()

	// Crash after the corpus rename, before the journal was applied.
	testsupport.WriteFile(t, cfg.Paths.CorpusFile, "A")
	testsupport.WriteFile(t, cfg.TextPath("a"), "A")
	sha, err := fileutil.SHA256File(cfg.Paths.CorpusFile)
	if err != nil {
		t.Fatalf("hash corpus: %v", err)
	}
	if err := store.BeginMerge(ctx, sha, []string{"a"}); err != nil {
		t.Fatalf("BeginMerge failed: %v", err)
	}
	if err := store.BeginMerge(ctx, "stale", []string{"b"}); err != nil {
		t.Fatalf("BeginMerge failed: %v", err)
	}

	if err := st.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	pending, err := store.PendingMerges(ctx)
	if err != nil {
		t.Fatalf("PendingMerges failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected journal settled, got %#v", pending)
	}

	if _, err := st.MergeAll(ctx); err != nil {
		t.Fatalf("MergeAll failed: %v", err)
	}
	if got := testsupport.ReadFile(t, cfg.Paths.CorpusFile); got != "A" {
		t.Fatalf("corpus = %q, want unchanged", got)
	}
	testsupport.AssertMissing(t, cfg.TextPath("a"))
}

func TestRecoverDropsUnlandedMerge(t *testing.T) {
	st, cfg, store := newStage(t)
	ctx := context.Background()

	// Crash before the rename: the corpus is missing, text still pending.
	testsupport.WriteFile(t, cfg.TextPath("a"), "A")
	if err := store.BeginMerge(ctx, "never-landed", []string{"a"}); err != nil {
		t.Fatalf("BeginMerge failed: %v", err)
	}
	if err := st.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if _, err := st.MergeAll(ctx); err != nil {
		t.Fatalf("MergeAll failed: %v", err)
	}
	if got := testsupport.ReadFile(t, cfg.Paths.CorpusFile); got != "A" {
		t.Fatalf("corpus = %q, want A", got)
	}
}

type failingJournal struct {
	*ledger.Store
	dropped int
}

func (f *failingJournal) BeginMerge(context.Context, string, []string) error {
	return errors.New("database is locked")
}

func (f *failingJournal) DropPendingMerges(ctx context.Context) (int, error) {
	f.dropped++
	return f.Store.DropPendingMerges(ctx)
}

func TestMergeAllJournalFailureLeavesCorpus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	journal := &failingJournal{Store: testsupport.MustOpenLedger(t, cfg)}
	st := merge.New(cfg, journal, logging.NewNop())

	testsupport.WriteFile(t, cfg.Paths.CorpusFile, "X")
	testsupport.WriteFile(t, cfg.TextPath("a"), "A")

	_, err := st.MergeAll(context.Background())
	if err == nil {
		t.Fatal("expected merge error")
	}
	if stage.KindOf(err) != stage.KindPersistence {
		t.Fatalf("kind = %q, want persistence", stage.KindOf(err))
	}
	if journal.dropped != 1 {
		t.Fatalf("expected pending rows dropped once, got %d", journal.dropped)
	}
	if got := testsupport.ReadFile(t, cfg.Paths.CorpusFile); got != "X" {
		t.Fatalf("corpus modified: %q", got)
	}
	if _, err := os.Stat(cfg.TextPath("a")); err != nil {
		t.Fatalf("text should be kept: %v", err)
	}
	testsupport.AssertMissing(t, fileutil.TempPath(cfg.Paths.CorpusFile))
}
