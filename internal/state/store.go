package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"paperpipe/internal/fileutil"
	"paperpipe/internal/record"
	"paperpipe/internal/stage"
)

// Store is an immutable snapshot of committed records, newest first, with
// unique identity keys. Mutations return a new Store.
type Store struct {
	records []record.Record
	keys    map[string]struct{}
}

// Empty returns a store with no records.
func Empty() *Store {
	return &Store{keys: map[string]struct{}{}}
}

// Load reads the store at path. A missing or empty file yields an empty store;
// unreadable or corrupt content is a persistence error so the caller never
// silently treats every item as new.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Empty(), nil
		}
		return nil, stage.Wrap(stage.ErrPersistence, stage.NameCommit, "load state", path, err)
	}
	if len(data) == 0 {
		return Empty(), nil
	}

	var records []record.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, stage.Wrap(stage.ErrPersistence, stage.NameCommit, "parse state", path, err)
	}
	return Empty().Prepend(records), nil
}

// Keys returns the set of committed identity keys. The map is shared and must
// not be modified.
func (s *Store) Keys() map[string]struct{} {
	return s.keys
}

// Has reports whether key is committed.
func (s *Store) Has(key string) bool {
	_, ok := s.keys[key]
	return ok
}

// Records returns a copy of the committed records, newest first.
func (s *Store) Records() []record.Record {
	return slices.Clone(s.records)
}

// Len returns the number of committed records.
func (s *Store) Len() int {
	return len(s.records)
}

// Prepend returns a new Store with batch placed before the existing records.
// Records whose key is already committed, or repeated within batch, are
// skipped; the remaining batch order is preserved.
func (s *Store) Prepend(batch []record.Record) *Store {
	next := &Store{
		records: make([]record.Record, 0, len(batch)+len(s.records)),
		keys:    make(map[string]struct{}, len(batch)+len(s.keys)),
	}
	for key := range s.keys {
		next.keys[key] = struct{}{}
	}
	for _, r := range batch {
		if r.IdentityKey == "" {
			continue
		}
		if _, seen := next.keys[r.IdentityKey]; seen {
			continue
		}
		next.keys[r.IdentityKey] = struct{}{}
		next.records = append(next.records, r)
	}
	next.records = append(next.records, s.records...)
	return next
}

// Save writes the store to path atomically. On failure the previous file is
// left intact.
func (s *Store) Save(path string) error {
	records := s.records
	if records == nil {
		records = []record.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return stage.Wrap(stage.ErrPersistence, stage.NameCommit, "marshal state", "", err)
	}
	if err := fileutil.WriteFileAtomic(path, data); err != nil {
		return stage.Wrap(stage.ErrPersistence, stage.NameCommit, "save state", path, err)
	}
	return nil
}

// String summarizes the store for logs.
func (s *Store) String() string {
	return fmt.Sprintf("state(%d records)", len(s.records))
}
