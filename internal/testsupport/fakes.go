package testsupport

import (
	"context"
	"os"
	"sync"

	"paperpipe/internal/record"
)

// FakeAdapter is a source adapter returning fixed records or an error.
type FakeAdapter struct {
	mu      sync.Mutex
	Records []record.Record
	Err     error
	Calls   int
}

// Name identifies the fake.
func (f *FakeAdapter) Name() string { return "fake" }

// Fetch returns the configured records.
func (f *FakeAdapter) Fetch(ctx context.Context, _ string) ([]record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]record.Record(nil), f.Records...), nil
}

// SetRecords replaces the records returned by later calls.
func (f *FakeAdapter) SetRecords(records ...record.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Records = records
}

// FakeExtractor reads the artifact as text, or fails for paths listed in
// Fail.
type FakeExtractor struct {
	mu   sync.Mutex
	Fail map[string]error
	Seen []string
}

// Extract implements extract.Extractor.
func (f *FakeExtractor) Extract(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	f.Seen = append(f.Seen, path)
	failure := f.Fail[path]
	f.mu.Unlock()
	if failure != nil {
		return "", failure
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
