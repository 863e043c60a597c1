package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paperpipe/internal/record"
	"paperpipe/internal/stage"
)

// Status is the furthest stage an item has completed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFetched   Status = "fetched"
	StatusExtracted Status = "extracted"
	StatusMerged    Status = "merged"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
)

// Item is one tracked record.
type Item struct {
	IdentityKey string
	Slug        string
	Record      record.Record
	Status      Status
	Attempts    int
	LastStage   string
	LastError   string
	ErrorKind   stage.Kind
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const itemColumns = "identity_key, slug, record_json, status, attempts, last_stage, last_error, error_kind, created_at, updated_at"

// Track inserts records as pending. Existing rows keep their progress, except
// that a committed row is reset to pending: the state store no longer holds it.
// The reset also closes the row's applied merge journal entries so the text
// is merged again.
func (s *Store) Track(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin track tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.timestamp()
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", rec.IdentityKey, err)
		}
		_, err = tx.ExecContext(ctx, `
            UPDATE merges SET state = ?
            WHERE state = ? AND identity_key = ? AND EXISTS (
                SELECT 1 FROM items WHERE identity_key = ? AND status = ?
            )`,
			MergeClosed, MergeApplied, rec.IdentityKey, rec.IdentityKey, StatusCommitted,
		)
		if err != nil {
			return fmt.Errorf("reopen %s: %w", rec.IdentityKey, err)
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO items (identity_key, slug, record_json, status, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?)
            ON CONFLICT(identity_key) DO UPDATE SET
                slug = excluded.slug,
                record_json = excluded.record_json,
                status = CASE WHEN items.status = ? THEN ? ELSE items.status END,
                updated_at = excluded.updated_at`,
			rec.IdentityKey, rec.Slug(), string(data), StatusPending, now, now,
			StatusCommitted, StatusPending,
		)
		if err != nil {
			return fmt.Errorf("track %s: %w", rec.IdentityKey, err)
		}
	}
	return tx.Commit()
}

// Get returns the item for key, or nil when untracked.
func (s *Store) Get(ctx context.Context, key string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE identity_key = ?`, key)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// List returns items with any of the given statuses (all items when none are
// given), newest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at DESC, identity_key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// SetStatus moves the items with the given keys to status and clears their
// last error.
func (s *Store) SetStatus(ctx context.Context, status Status, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := append([]any{status, s.timestamp()}, stringArgs(keys)...)
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = ?, last_error = NULL, error_kind = NULL
         WHERE identity_key IN (`+placeholders(len(keys))+`)`, args...)
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

// SetStatusBySlug is SetStatus for stages that only know file slugs.
func (s *Store) SetStatusBySlug(ctx context.Context, status Status, slugs ...string) error {
	if len(slugs) == 0 {
		return nil
	}
	args := append([]any{status, s.timestamp()}, stringArgs(slugs)...)
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = ?, last_error = NULL, error_kind = NULL
         WHERE status != 'committed' AND slug IN (`+placeholders(len(slugs))+`)`, args...)
	if err != nil {
		return fmt.Errorf("set status %s by slug: %w", status, err)
	}
	return nil
}

// RecordFailure marks key failed in stageName and bumps its attempt count.
func (s *Store) RecordFailure(ctx context.Context, key, stageName string, failure error) error {
	return s.recordFailure(ctx, "identity_key", key, stageName, failure)
}

// RecordFailureBySlug is RecordFailure for stages that only know file slugs.
func (s *Store) RecordFailureBySlug(ctx context.Context, slug, stageName string, failure error) error {
	return s.recordFailure(ctx, "slug", slug, stageName, failure)
}

func (s *Store) recordFailure(ctx context.Context, column, value, stageName string, failure error) error {
	msg := ""
	if failure != nil {
		msg = failure.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, attempts = attempts + 1, last_stage = ?, last_error = ?, error_kind = ?, updated_at = ?
         WHERE status != 'committed' AND `+column+` = ?`,
		StatusFailed, nullableString(stageName), nullableString(msg), nullableString(string(stage.KindOf(failure))), s.timestamp(), value,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		item       Item
		recordJSON string
		status     string
		lastStage  sql.NullString
		lastError  sql.NullString
		errorKind  sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(
		&item.IdentityKey,
		&item.Slug,
		&recordJSON,
		&status,
		&item.Attempts,
		&lastStage,
		&lastError,
		&errorKind,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(recordJSON), &item.Record); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", item.IdentityKey, err)
	}
	item.Status = Status(status)
	item.LastStage = lastStage.String
	item.LastError = lastError.String
	item.ErrorKind = stage.Kind(errorKind.String)
	item.CreatedAt = parseTime(createdRaw)
	item.UpdatedAt = parseTime(updatedRaw)
	return &item, nil
}
