package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Merge journal states.
const (
	MergePending = "pending"
	MergeApplied = "applied"
	MergeClosed  = "closed"
)

// MergeEntry is one journal row: a text file folded into the corpus version
// identified by CorpusSHA256.
type MergeEntry struct {
	ID           int64
	Slug         string
	IdentityKey  string
	CorpusSHA256 string
	State        string
	CreatedAt    time.Time
	AppliedAt    time.Time
}

// BeginMerge journals slugs as pending against the corpus digest that will
// exist once the merge's rename lands.
func (s *Store) BeginMerge(ctx context.Context, corpusSHA string, slugs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.timestamp()
	for _, slug := range slugs {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO merges (slug, identity_key, corpus_sha256, state, created_at)
            VALUES (?, (SELECT identity_key FROM items WHERE slug = ? LIMIT 1), ?, ?, ?)`,
			slug, slug, corpusSHA, MergePending, now)
		if err != nil {
			return fmt.Errorf("journal merge %s: %w", slug, err)
		}
	}
	return tx.Commit()
}

// ApplyMerge marks the pending rows for corpusSHA applied and moves the
// matching items to merged.
func (s *Store) ApplyMerge(ctx context.Context, corpusSHA string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin apply tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.timestamp()
	res, err := tx.ExecContext(ctx,
		`UPDATE merges SET state = ?, applied_at = ? WHERE state = ? AND corpus_sha256 = ?`,
		MergeApplied, now, MergePending, corpusSHA)
	if err != nil {
		return 0, fmt.Errorf("apply merge: %w", err)
	}
	applied, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `
        UPDATE items SET status = ?, updated_at = ?, last_error = NULL, error_kind = NULL
        WHERE status != ? AND slug IN (
            SELECT slug FROM merges WHERE state = ? AND corpus_sha256 = ?
        )`,
		StatusMerged, now, StatusCommitted, MergeApplied, corpusSHA)
	if err != nil {
		return 0, fmt.Errorf("mark merged items: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit apply tx: %w", err)
	}
	return int(applied), nil
}

// DropPendingMerges deletes pending journal rows, returning how many were
// removed.
func (s *Store) DropPendingMerges(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM merges WHERE state = ?`, MergePending)
	if err != nil {
		return 0, fmt.Errorf("drop pending merges: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PendingMerges returns the pending journal rows.
func (s *Store) PendingMerges(ctx context.Context) ([]MergeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, slug, COALESCE(identity_key, ''), corpus_sha256, state, created_at, applied_at
        FROM merges WHERE state = ? ORDER BY id`, MergePending)
	if err != nil {
		return nil, fmt.Errorf("list pending merges: %w", err)
	}
	defer rows.Close()

	var out []MergeEntry
	for rows.Next() {
		var (
			entry   MergeEntry
			created sql.NullString
			applied sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Slug, &entry.IdentityKey, &entry.CorpusSHA256, &entry.State, &created, &applied); err != nil {
			return nil, err
		}
		entry.CreatedAt = parseTime(created)
		entry.AppliedAt = parseTime(applied)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// AppliedSlugs reports which of slugs already have an applied journal row.
func (s *Store) AppliedSlugs(ctx context.Context, slugs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(slugs))
	if len(slugs) == 0 {
		return out, nil
	}
	args := append([]any{MergeApplied}, stringArgs(slugs)...)
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT slug FROM merges WHERE state = ? AND slug IN (`+placeholders(len(slugs))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query applied merges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		out[slug] = true
	}
	return out, rows.Err()
}

// MarkCommitted moves the items with the given keys to committed. Their
// journal rows stay applied so a stray copy of the text is never merged
// twice; Track closes them if the record has to be merged again.
func (s *Store) MarkCommitted(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := append([]any{StatusCommitted, s.timestamp()}, stringArgs(keys)...)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = ?, last_error = NULL, error_kind = NULL
         WHERE identity_key IN (`+placeholders(len(keys))+`)`, args...); err != nil {
		return fmt.Errorf("mark committed: %w", err)
	}
	return nil
}
