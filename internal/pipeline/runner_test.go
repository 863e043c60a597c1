package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"

	"paperpipe/internal/config"
	"paperpipe/internal/fileutil"
	"paperpipe/internal/ledger"
	"paperpipe/internal/logging"
	"paperpipe/internal/metrics"
	"paperpipe/internal/pipeline"
	"paperpipe/internal/preflight"
	"paperpipe/internal/record"
	"paperpipe/internal/stage"
	"paperpipe/internal/state"
	"paperpipe/internal/testsupport"
)

type harness struct {
	t       *testing.T
	cfg     *config.Config
	server  *httptest.Server
	adapter *testsupport.FakeAdapter
	runner  *pipeline.Runner

	mu      sync.Mutex
	hits    map[string]int
	failing map[string]int
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		adapter: &testsupport.FakeAdapter{},
		hits:    make(map[string]int),
		failing: make(map[string]int),
	}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.hits[r.URL.Path]++
		status := h.failing[r.URL.Path]
		h.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write([]byte("text of " + strings.TrimPrefix(r.URL.Path, "/")))
	}))
	t.Cleanup(h.server.Close)

	opts = append([]testsupport.ConfigOption{testsupport.WithArtifactExt(".txt")}, opts...)
	h.cfg = testsupport.NewConfig(t, opts...)
	runner, err := pipeline.NewWithDependencies(h.cfg, logging.NewNop(), pipeline.Dependencies{
		Adapter:   h.adapter,
		Metrics:   metrics.New(),
		Preflight: func(context.Context, *config.Config) []preflight.Result { return nil },
	})
	if err != nil {
		t.Fatalf("NewWithDependencies: %v", err)
	}
	h.runner = runner
	return h
}

func (h *harness) paper(id string) record.Record {
	return record.New("Paper "+id, "https://arxiv.org/abs/"+id+"v1", h.server.URL+"/pdf/"+id, []string{"A. Author"}, "", "")
}

func (h *harness) fail(path string, status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if status == 0 {
		delete(h.failing, path)
		return
	}
	h.failing[path] = status
}

func (h *harness) hitCount(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

func (h *harness) run() pipeline.Summary {
	h.t.Helper()
	summary, err := h.runner.RunOnce(context.Background())
	if err != nil {
		h.t.Fatalf("RunOnce failed: %v", err)
	}
	return summary
}

func (h *harness) stateKeys() []string {
	h.t.Helper()
	st, err := state.Load(h.cfg.Paths.StateFile)
	if err != nil {
		h.t.Fatalf("load state: %v", err)
	}
	var keys []string
	for _, rec := range st.Records() {
		keys = append(keys, rec.IdentityKey)
	}
	return keys
}

func (h *harness) corpus() string {
	h.t.Helper()
	data, err := os.ReadFile(h.cfg.Paths.CorpusFile)
	if errors.Is(err, os.ErrNotExist) {
		return ""
	}
	if err != nil {
		h.t.Fatalf("read corpus: %v", err)
	}
	return string(data)
}

func (h *harness) ledgerItem(key string) *ledger.Item {
	h.t.Helper()
	store, err := ledger.Open(context.Background(), h.cfg.Paths.LedgerFile)
	if err != nil {
		h.t.Fatalf("open ledger: %v", err)
	}
	defer store.Close()
	item, err := store.Get(context.Background(), key)
	if err != nil {
		h.t.Fatalf("get ledger item: %v", err)
	}
	return item
}

func equalKeys(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRunOnceProcessesOnlyNewRecords(t *testing.T) {
	h := newHarness(t)
	seed := state.Empty().Prepend([]record.Record{h.paper("2501.00001")})
	if err := seed.Save(h.cfg.Paths.StateFile); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	h.adapter.SetRecords(h.paper("2501.00001"), h.paper("2501.00002"))

	summary := h.run()

	if summary.Fresh != 2 || summary.New != 1 || summary.Committed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if h.hitCount("/pdf/2501.00001") != 0 {
		t.Fatal("committed record must not be fetched")
	}
	if keys := h.stateKeys(); !equalKeys(keys, "2501.00002", "2501.00001") {
		t.Fatalf("state keys = %v", keys)
	}
	if got := h.corpus(); got != "text of pdf/2501.00002" {
		t.Fatalf("corpus = %q", got)
	}
	if item := h.ledgerItem("2501.00002"); item == nil || item.Status != ledger.StatusCommitted {
		t.Fatalf("ledger item = %#v", item)
	}
}

func TestRunOnceMergesInListingOrder(t *testing.T) {
	h := newHarness(t)
	h.adapter.SetRecords(h.paper("2501.00002"), h.paper("2501.00001"))

	summary := h.run()
	if summary.Merged != 2 || summary.Committed != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if keys := h.stateKeys(); !equalKeys(keys, "2501.00002", "2501.00001") {
		t.Fatalf("state keys = %v", keys)
	}
	sep := h.cfg.Merge.Separator
	// Merge order follows sorted slugs.
	if got := h.corpus(); got != "text of pdf/2501.00001"+sep+"text of pdf/2501.00002" {
		t.Fatalf("corpus = %q", got)
	}
	if _, err := os.Stat(h.cfg.Paths.SnapshotFile); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
}

func snapshotTree(t *testing.T, cfg *config.Config) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, path := range []string{cfg.Paths.StateFile, cfg.Paths.CorpusFile} {
		out[path] = testsupport.ReadFile(t, path)
	}
	for _, dir := range []string{cfg.Paths.ArtifactDir, cfg.Paths.TextDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("read dir %s: %v", dir, err)
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		sort.Strings(names)
		out[dir] = strings.Join(names, ",")
	}
	return out
}

func TestRunOnceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.adapter.SetRecords(h.paper("2501.00001"), h.paper("2501.00002"))
	h.run()
	before := snapshotTree(t, h.cfg)

	summary := h.run()
	if summary.New != 0 || summary.Committed != 0 || summary.Fetched != 0 {
		t.Fatalf("second run did work: %+v", summary)
	}
	after := snapshotTree(t, h.cfg)
	for key, value := range before {
		if after[key] != value {
			t.Fatalf("%s changed on second run: %q -> %q", key, value, after[key])
		}
	}
	if h.hitCount("/pdf/2501.00001") != 1 {
		t.Fatalf("artifact fetched %d times", h.hitCount("/pdf/2501.00001"))
	}
}

func TestRunOnceDropsStrayTextAfterCommit(t *testing.T) {
	h := newHarness(t)
	rec := h.paper("2501.00001")
	h.adapter.SetRecords(rec)
	h.run()
	before := h.corpus()

	// Leave a copy behind as if deleting the merged text had failed.
	testsupport.WriteFile(t, h.cfg.TextPath(rec.Slug()), "text of pdf/2501.00001")

	summary := h.run()
	if summary.Merged != 0 || summary.Committed != 0 {
		t.Fatalf("stray text was processed: %+v", summary)
	}
	if got := h.corpus(); got != before {
		t.Fatalf("corpus changed: %q -> %q", before, got)
	}
	if n := strings.Count(h.corpus(), "text of pdf/2501.00001"); n != 1 {
		t.Fatalf("corpus holds entry %d times", n)
	}
	testsupport.AssertMissing(t, h.cfg.TextPath(rec.Slug()))
	if item := h.ledgerItem(rec.IdentityKey); item == nil || item.Status != ledger.StatusCommitted {
		t.Fatalf("ledger item = %#v", item)
	}
}

func TestRunOnceIsolatesFailedFetch(t *testing.T) {
	h := newHarness(t)
	h.fail("/pdf/2501.00002", http.StatusServiceUnavailable)
	h.adapter.SetRecords(h.paper("2501.00001"), h.paper("2501.00002"))

	summary := h.run()
	if summary.Committed != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.FailuresByKind[stage.KindTransientNetwork] != 1 {
		t.Fatalf("failures by kind = %v", summary.FailuresByKind)
	}
	if keys := h.stateKeys(); !equalKeys(keys, "2501.00001") {
		t.Fatalf("state keys = %v", keys)
	}
	item := h.ledgerItem("2501.00002")
	if item == nil || item.Status != ledger.StatusFailed || item.Attempts != 1 {
		t.Fatalf("ledger item = %#v", item)
	}
	entries, _ := os.ReadDir(h.cfg.Paths.ArtifactDir)
	for _, entry := range entries {
		if fileutil.IsTemp(entry.Name()) {
			t.Fatalf("partial artifact left behind: %s", entry.Name())
		}
	}

	h.fail("/pdf/2501.00002", 0)
	summary = h.run()
	if summary.Committed != 1 {
		t.Fatalf("retry run summary: %+v", summary)
	}
	if keys := h.stateKeys(); !equalKeys(keys, "2501.00002", "2501.00001") {
		t.Fatalf("state keys = %v", keys)
	}
}

func TestRunOnceSweepsStalePartialArtifacts(t *testing.T) {
	h := newHarness(t)
	rec := h.paper("2501.00001")
	final := h.cfg.ArtifactPath(rec.Slug())
	testsupport.WriteFile(t, fileutil.TempPath(final), "truncated garb")
	h.adapter.SetRecords(rec)

	summary := h.run()
	if summary.Fetched != 1 || summary.Committed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := h.corpus(); got != "text of pdf/2501.00001" {
		t.Fatalf("corpus = %q", got)
	}
	testsupport.AssertMissing(t, fileutil.TempPath(final))
}

func TestRunOnceListingFailureProcessesBacklog(t *testing.T) {
	h := newHarness(t)
	h.fail("/pdf/2501.00001", http.StatusNotFound)
	h.adapter.SetRecords(h.paper("2501.00001"))
	first := h.run()
	if first.Failed != 1 || first.Committed != 0 {
		t.Fatalf("first run summary: %+v", first)
	}

	h.fail("/pdf/2501.00001", 0)
	h.adapter.Err = errors.New("listing unavailable")
	summary := h.run()
	if summary.SourceError == "" {
		t.Fatal("expected source error in summary")
	}
	if summary.Backlog != 1 || summary.Committed != 1 {
		t.Fatalf("backlog run summary: %+v", summary)
	}
	if keys := h.stateKeys(); !equalKeys(keys, "2501.00001") {
		t.Fatalf("state keys = %v", keys)
	}
}

func TestRunOnceCountsDegradedKeys(t *testing.T) {
	h := newHarness(t)
	rec := record.New("Odd Listing", "https://example.org/paper/7", h.server.URL+"/files/7", nil, "", "")
	h.adapter.SetRecords(rec)

	summary := h.run()
	if summary.Degraded != 1 {
		t.Fatalf("degraded = %d, want 1", summary.Degraded)
	}
	if keys := h.stateKeys(); !equalKeys(keys, "https://example.org/paper/7") {
		t.Fatalf("state keys = %v", keys)
	}
}

func TestRunOnceFailsWhenLocked(t *testing.T) {
	h := newHarness(t)
	lock := flock.New(h.cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("take lock: %v", err)
	}
	defer lock.Unlock()

	_, err = h.runner.RunOnce(context.Background())
	if !errors.Is(err, pipeline.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if stage.KindOf(err) != stage.KindEnvironment {
		t.Fatalf("kind = %q, want environment", stage.KindOf(err))
	}
}

func TestRunOnceMergeFailureSkipsCommit(t *testing.T) {
	h := newHarness(t)
	if err := os.MkdirAll(h.cfg.Paths.CorpusFile, 0o755); err != nil {
		t.Fatalf("block corpus: %v", err)
	}
	h.adapter.SetRecords(h.paper("2501.00001"))

	_, err := h.runner.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected merge failure")
	}
	if stage.KindOf(err) != stage.KindPersistence {
		t.Fatalf("kind = %q, want persistence", stage.KindOf(err))
	}
	if keys := h.stateKeys(); len(keys) != 0 {
		t.Fatalf("state must stay empty, got %v", keys)
	}
	rec := h.paper("2501.00001")
	if _, err := os.Stat(h.cfg.TextPath(rec.Slug())); err != nil {
		t.Fatalf("text should be kept for the next run: %v", err)
	}
}

func TestRunOnceRecoversFromFailedStateSave(t *testing.T) {
	h := newHarness(t)
	blocker := filepath.Join(h.cfg.Paths.StateFile+".tmp", "x")
	testsupport.WriteFile(t, blocker, "x")
	h.adapter.SetRecords(h.paper("2501.00001"))

	if _, err := h.runner.RunOnce(context.Background()); err == nil {
		t.Fatal("expected state save failure")
	}
	if got := h.corpus(); got != "text of pdf/2501.00001" {
		t.Fatalf("corpus = %q", got)
	}
	if item := h.ledgerItem("2501.00001"); item.Status != ledger.StatusMerged {
		t.Fatalf("status = %q, want merged", item.Status)
	}

	if err := os.RemoveAll(filepath.Dir(blocker)); err != nil {
		t.Fatalf("remove blocker: %v", err)
	}
	summary := h.run()
	if summary.Fetched != 0 || summary.Committed != 1 {
		t.Fatalf("recovery summary: %+v", summary)
	}
	if keys := h.stateKeys(); !equalKeys(keys, "2501.00001") {
		t.Fatalf("state keys = %v", keys)
	}
	if got := h.corpus(); got != "text of pdf/2501.00001" {
		t.Fatalf("corpus double-counted: %q", got)
	}
}
