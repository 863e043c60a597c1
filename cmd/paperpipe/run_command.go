package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"paperpipe/internal/pipeline"
)

type summaryView struct {
	RunID          string         `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	DurationMS     int64          `json:"duration_ms"`
	Fresh          int            `json:"fresh"`
	ParseSkipped   int            `json:"parse_skipped"`
	New            int            `json:"new"`
	Backlog        int            `json:"backlog"`
	Fetched        int            `json:"fetched"`
	Skipped        int            `json:"skipped"`
	Converted      int            `json:"converted"`
	Merged         int            `json:"merged"`
	Committed      int            `json:"committed"`
	Failed         int            `json:"failed"`
	Degraded       int            `json:"degraded_keys"`
	StateRecords   int            `json:"state_records"`
	SourceError    string         `json:"source_error,omitempty"`
	FailuresByKind map[string]int `json:"failures_by_kind,omitempty"`
	Error          string         `json:"error,omitempty"`
}

func newSummaryView(s pipeline.Summary, runErr error) summaryView {
	view := summaryView{
		RunID:        s.RunID,
		StartedAt:    s.StartedAt,
		DurationMS:   s.Duration.Milliseconds(),
		Fresh:        s.Fresh,
		ParseSkipped: s.ParseSkipped,
		New:          s.New,
		Backlog:      s.Backlog,
		Fetched:      s.Fetched,
		Skipped:      s.Skipped,
		Converted:    s.Converted,
		Merged:       s.Merged,
		Committed:    s.Committed,
		Failed:       s.Failed,
		Degraded:     s.Degraded,
		StateRecords: s.StateRecords,
		SourceError:  s.SourceError,
	}
	for _, kind := range s.Kinds() {
		if view.FailuresByKind == nil {
			view.FailuresByKind = make(map[string]int)
		}
		view.FailuresByKind[string(kind)] = s.FailuresByKind[kind]
	}
	if runErr != nil {
		view.Error = runErr.Error()
	}
	return view
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pipeline pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			var extra pipeline.Dependencies
			var bar *stageProgress
			if !noProgress && !jsonOutput && isTerminal(cmd.ErrOrStderr()) {
				bar = newStageProgress(cmd.ErrOrStderr())
				extra.Progress = bar.update
			}
			runner, err := ctx.newRunner(logger, extra)
			if err != nil {
				return err
			}

			summary, runErr := runner.RunOnce(cmd.Context())
			if bar != nil {
				bar.finish()
			}
			if jsonOutput {
				if err := writeJSON(cmd, newSummaryView(summary, runErr)); err != nil {
					return err
				}
				return runErr
			}
			printSummary(cmd.OutOrStdout(), summary, runErr, isTerminal(cmd.OutOrStdout()))
			return runErr
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run summary as JSON")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bars")
	return cmd
}

func printSummary(out io.Writer, s pipeline.Summary, runErr error, colorize bool) {
	fmt.Fprintln(out, renderSectionHeader("Run "+s.RunID, colorize))
	switch {
	case runErr != nil:
		fmt.Fprintln(out, renderStatusLine("Result", statusError, runErr.Error(), colorize))
	case s.Failed > 0 || s.SourceError != "":
		fmt.Fprintln(out, renderStatusLine("Result", statusWarn, "completed with errors", colorize))
	default:
		fmt.Fprintln(out, renderStatusLine("Result", statusOK, "completed", colorize))
	}
	if s.SourceError != "" {
		fmt.Fprintln(out, renderStatusLine("Listing", statusWarn, s.SourceError, colorize))
	}
	if s.Degraded > 0 {
		fmt.Fprintln(out, renderStatusLine("Identity keys", statusWarn, strconv.Itoa(s.Degraded)+" fell back to raw URLs", colorize))
	}

	rows := [][]string{
		{"listed", strconv.Itoa(s.Fresh)},
		{"new", strconv.Itoa(s.New)},
		{"backlog", strconv.Itoa(s.Backlog)},
		{"fetched", strconv.Itoa(s.Fetched)},
		{"converted", strconv.Itoa(s.Converted)},
		{"merged", strconv.Itoa(s.Merged)},
		{"committed", strconv.Itoa(s.Committed)},
		{"failed", strconv.Itoa(s.Failed)},
	}
	for _, kind := range s.Kinds() {
		rows = append(rows, []string{"  " + string(kind), strconv.Itoa(s.FailuresByKind[kind])})
	}
	rows = append(rows, []string{"state records", strconv.Itoa(s.StateRecords)})
	fmt.Fprintln(out, renderTable([]string{"Step", "Count"}, rows, 1))
	fmt.Fprintf(out, "Finished in %s\n", s.Duration.Round(time.Millisecond))
}
