package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Run is one persisted pipeline pass.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Fresh      int
	New        int
	Fetched    int
	Converted  int
	Merged     int
	Committed  int
	Failed     int
	Degraded   int
	Error      string
}

// RecordRun stores run. Re-recording the same id replaces the row.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT OR REPLACE INTO runs (
            run_id, started_at, finished_at, fresh, new_items, fetched,
            converted, merged, committed, failed, degraded, error
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.Fresh, run.New, run.Fetched, run.Converted,
		run.Merged, run.Committed, run.Failed, run.Degraded,
		nullableString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, most recent first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, started_at, finished_at, fresh, new_items, fetched,
               converted, merged, committed, failed, degraded, error
        FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			started  sql.NullString
			finished sql.NullString
			runErr   sql.NullString
		)
		if err := rows.Scan(
			&run.ID, &started, &finished, &run.Fresh, &run.New, &run.Fetched,
			&run.Converted, &run.Merged, &run.Committed, &run.Failed, &run.Degraded, &runErr,
		); err != nil {
			return nil, err
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		run.Error = runErr.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
