package pipeline

import (
	"sort"
	"time"

	"paperpipe/internal/logging"
	"paperpipe/internal/stage"
)

// Summary reports what one run did. Counts are per record.
type Summary struct {
	RunID          string
	StartedAt      time.Time
	Duration       time.Duration
	Fresh          int
	ParseSkipped   int
	New            int
	Backlog        int
	Fetched        int
	Skipped        int
	Converted      int
	Merged         int
	Committed      int
	Failed         int
	Degraded       int
	StateRecords   int
	SourceError    string
	FailuresByKind map[stage.Kind]int
}

func (s *Summary) addReport(report stage.Report) {
	for kind, n := range report.FailuresByKind() {
		if s.FailuresByKind == nil {
			s.FailuresByKind = make(map[stage.Kind]int)
		}
		s.FailuresByKind[kind] += n
	}
	s.Failed += report.Count(stage.OutcomeFailed)
}

// Kinds returns the failure kinds in stable order.
func (s Summary) Kinds() []stage.Kind {
	kinds := make([]stage.Kind, 0, len(s.FailuresByKind))
	for kind := range s.FailuresByKind {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (s Summary) logAttrs() []any {
	attrs := []logging.Attr{
		logging.Int("fresh", s.Fresh),
		logging.Int("new", s.New),
		logging.Int("backlog", s.Backlog),
		logging.Int("fetched", s.Fetched),
		logging.Int("skipped", s.Skipped),
		logging.Int("converted", s.Converted),
		logging.Int("merged", s.Merged),
		logging.Int("committed", s.Committed),
		logging.Int("failed", s.Failed),
		logging.Int("degraded_keys", s.Degraded),
		logging.Int("state_records", s.StateRecords),
		logging.Duration("duration", s.Duration),
	}
	if s.ParseSkipped > 0 {
		attrs = append(attrs, logging.Int("parse_skipped", s.ParseSkipped))
	}
	if s.SourceError != "" {
		attrs = append(attrs, logging.String("source_error", s.SourceError))
	}
	for _, kind := range s.Kinds() {
		attrs = append(attrs, logging.Int("failed_"+string(kind), s.FailuresByKind[kind]))
	}
	return logging.Args(attrs...)
}
