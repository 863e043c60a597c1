package testsupport

import (
	"context"
	"testing"

	"paperpipe/internal/config"
	"paperpipe/internal/ledger"
)

// MustOpenLedger opens a ledger.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(context.Background(), cfg.Paths.LedgerFile)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
