package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"paperpipe/internal/record"
	"paperpipe/internal/stage"
)

func rec(id string) record.Record {
	return record.New("Title "+id, "https://arxiv.org/abs/"+id, "", nil, "", "")
}

func keysOf(records []record.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.IdentityKey
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "base.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 0 || len(s.Keys()) != 0 {
		t.Fatalf("expected empty store, got %s", s)
	}
}

func TestLoadCorruptFileIsPersistenceError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, stage.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestPrependOrderAndDedup(t *testing.T) {
	s := Empty().Prepend([]record.Record{rec("2401.00001")})
	next := s.Prepend([]record.Record{rec("2501.00002"), rec("2401.00001"), rec("2501.00003"), rec("2501.00002")})

	if got, want := keysOf(next.Records()), []string{"2501.00002", "2501.00003", "2401.00001"}; !equal(got, want) {
		t.Fatalf("records = %v, want %v", got, want)
	}
	if s.Len() != 1 {
		t.Fatal("Prepend must not modify the receiver")
	}
	if !next.Has("2501.00003") || next.Has("9999.99999") {
		t.Fatal("unexpected key membership")
	}
}

func TestSaveLoadRoundTripKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "base.json")
	s := Empty().Prepend([]record.Record{rec("2501.00002"), rec("2501.00001")})
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := keysOf(loaded.Records()), []string{"2501.00002", "2501.00001"}; !equal(got, want) {
		t.Fatalf("records = %v, want %v", got, want)
	}
	if loaded.Records()[0].Title != "Title 2501.00002" {
		t.Fatalf("title lost: %+v", loaded.Records()[0])
	}
}

func TestSaveEmptyWritesArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.json")
	if err := Empty().Save(path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "[]" {
		t.Fatalf("content = %q", data)
	}
}

func TestSaveFailureLeavesPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base.json")
	if err := Empty().Prepend([]record.Record{rec("2501.00001")}).Save(path); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	// A directory squatting on the temp path makes the write fail.
	if err := os.Mkdir(path+".tmp", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path+".tmp", "x"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	err := Empty().Prepend([]record.Record{rec("2501.00009")}).Save(path)
	if !errors.Is(err, stage.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatal("failed save must not alter the state file")
	}
}
