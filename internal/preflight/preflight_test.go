package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"paperpipe/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func withStatfs(t *testing.T, fn func(string) (uint64, uint64, error)) {
	t.Helper()
	orig := statfs
	statfs = fn
	t.Cleanup(func() { statfs = orig })
}

func TestCheckFreeSpace(t *testing.T) {
	withStatfs(t, func(string) (uint64, uint64, error) { return 10 << 30, 1 << 30, nil })
	if result := CheckFreeSpace("space", "/", 512<<20); !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
	if result := CheckFreeSpace("space", "/", 2<<30); result.Passed {
		t.Fatal("expected failure when below minimum")
	}

	withStatfs(t, func(string) (uint64, uint64, error) { return 0, 0, errors.New("no such device") })
	if result := CheckFreeSpace("space", "/", 1); result.Passed {
		t.Fatal("expected failure on statfs error")
	}
}

func TestCheckFreeSpaceRealFilesystem(t *testing.T) {
	result := CheckFreeSpace("space", t.TempDir(), 1)
	if !result.Passed {
		t.Fatalf("expected temp dir to have at least one free byte: %s", result.Detail)
	}
}

func TestRunAll(t *testing.T) {
	withStatfs(t, func(string) (uint64, uint64, error) { return 10 << 30, 5 << 30, nil })
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.BaseDir = base
	cfg.Paths.ArtifactDir = filepath.Join(base, "pdf")
	cfg.Paths.TextDir = filepath.Join(base, "txt")
	if err := os.MkdirAll(cfg.Paths.ArtifactDir, 0o755); err != nil {
		t.Fatal(err)
	}

	failed := Failed(RunAll(context.Background(), &cfg))
	if len(failed) != 1 || failed[0].Name != "Text directory" {
		t.Fatalf("expected only the missing text dir to fail, got %#v", failed)
	}
}

func TestCheckSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Source.URL = srv.URL
	if result := CheckSource(context.Background(), &cfg); !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}

	cfg.Source.URL = srv.URL
	cfg.Source.UserAgent = ""
	if result := CheckSource(context.Background(), &cfg); result.Passed {
		t.Fatal("expected failure on 403")
	}

	cfg.Source.URL = filepath.Join(t.TempDir(), "missing.json")
	if result := CheckSource(context.Background(), &cfg); result.Passed {
		t.Fatal("expected failure for missing file")
	}
}
