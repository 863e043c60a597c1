package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"paperpipe/internal/config"
	"paperpipe/internal/logging"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Daily fires once per day at a fixed wall-clock time in loc.
type Daily struct {
	hour   int
	minute int
	loc    *time.Location
	logger *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewDaily builds a schedule for hour:minute in loc. A nil loc means local
// time.
func NewDaily(hour, minute int, loc *time.Location, logger *slog.Logger) (*Daily, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid schedule time %02d:%02d", hour, minute)
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Daily{
		hour:   hour,
		minute: minute,
		loc:    loc,
		logger: logging.NewComponentLogger(logger, "scheduler"),
		now:    time.Now,
		after:  time.After,
	}, nil
}

// FromConfig builds the daily schedule from schedule.time in local time.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Daily, error) {
	if cfg == nil {
		return nil, errors.New("scheduler requires a config")
	}
	hour, minute, err := cfg.ScheduleClock()
	if err != nil {
		return nil, err
	}
	return NewDaily(hour, minute, time.Local, logger)
}

// Next returns the first trigger strictly after from. Days where the wall
// clock skips the trigger time are resolved by time.Date normalization.
func (d *Daily) Next(from time.Time) time.Time {
	from = from.In(d.loc)
	next := time.Date(from.Year(), from.Month(), from.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(from) {
		next = time.Date(from.Year(), from.Month(), from.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

// Run waits for each trigger and calls job until ctx is canceled. Job errors
// are logged and do not stop the schedule. With immediate set the job also
// runs once before the first wait.
func (d *Daily) Run(ctx context.Context, immediate bool, job Job) error {
	if job == nil {
		return errors.New("scheduler requires a job")
	}
	if immediate {
		d.invoke(ctx, job)
	}
	for {
		next := d.Next(d.now())
		d.logger.Info("next run scheduled",
			logging.String("at", next.Format(time.RFC3339)),
			logging.String(logging.FieldEventType, "schedule_next"),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.after(time.Until(next)):
		}
		d.invoke(ctx, job)
	}
}

func (d *Daily) invoke(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	if err := job(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logging.WarnWithContext(d.logger, "scheduled run failed", "schedule_run_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "see the run_failed entry for details"),
			logging.String(logging.FieldImpact, "the next attempt happens at the following trigger"),
		)
	}
}
