package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"paperpipe/internal/config"
	"paperpipe/internal/ledger"
	"paperpipe/internal/state"
)

var ledgerStatuses = []ledger.Status{
	ledger.StatusPending,
	ledger.StatusFetched,
	ledger.StatusExtracted,
	ledger.StatusMerged,
	ledger.StatusCommitted,
	ledger.StatusFailed,
}

type runView struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	New        int       `json:"new"`
	Committed  int       `json:"committed"`
	Failed     int       `json:"failed"`
	Degraded   int       `json:"degraded_keys"`
	Error      string    `json:"error,omitempty"`
}

type statusView struct {
	BaseDir      string         `json:"base_dir"`
	RunActive    bool           `json:"run_active"`
	StateRecords int            `json:"state_records"`
	CorpusBytes  int64          `json:"corpus_bytes"`
	CorpusMTime  *time.Time     `json:"corpus_modified,omitempty"`
	Ledger       map[string]int `json:"ledger"`
	Runs         []runView      `json:"recent_runs"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var runLimit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show state store, ledger and recent run status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			view, err := collectStatus(cmd, cfg, runLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, view)
			}
			printStatus(cmd.OutOrStdout(), view, isTerminal(cmd.OutOrStdout()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print status as JSON")
	cmd.Flags().IntVar(&runLimit, "runs", 5, "Number of recent runs to show")
	return cmd
}

func collectStatus(cmd *cobra.Command, cfg *config.Config, runLimit int) (statusView, error) {
	view := statusView{BaseDir: cfg.Paths.BaseDir, Ledger: make(map[string]int)}

	lock := flock.New(cfg.LockPath())
	if ok, err := lock.TryLock(); err == nil {
		if ok {
			_ = lock.Unlock()
		} else {
			view.RunActive = true
		}
	}

	st, err := state.Load(cfg.Paths.StateFile)
	if err != nil {
		return view, err
	}
	view.StateRecords = st.Len()

	if info, err := os.Stat(cfg.Paths.CorpusFile); err == nil {
		mtime := info.ModTime()
		view.CorpusBytes = info.Size()
		view.CorpusMTime = &mtime
	} else if !errors.Is(err, os.ErrNotExist) {
		return view, fmt.Errorf("stat corpus: %w", err)
	}

	store, err := ledger.Open(cmd.Context(), cfg.Paths.LedgerFile)
	if err != nil {
		return view, fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats(cmd.Context())
	if err != nil {
		return view, err
	}
	for _, status := range ledgerStatuses {
		view.Ledger[string(status)] = stats[status]
	}

	runs, err := store.RecentRuns(cmd.Context(), runLimit)
	if err != nil {
		return view, err
	}
	view.Runs = make([]runView, 0, len(runs))
	for _, run := range runs {
		view.Runs = append(view.Runs, runView{
			RunID:      run.ID,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
			New:        run.New,
			Committed:  run.Committed,
			Failed:     run.Failed,
			Degraded:   run.Degraded,
			Error:      run.Error,
		})
	}
	return view, nil
}

func printStatus(out io.Writer, view statusView, colorize bool) {
	fmt.Fprintln(out, renderSectionHeader("paperpipe", colorize))
	fmt.Fprintln(out, renderStatusLine("Working directory", statusInfo, view.BaseDir, colorize))
	if view.RunActive {
		fmt.Fprintln(out, renderStatusLine("Run", statusWarn, "in progress", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Run", statusOK, "idle", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("State records", statusInfo, humanize.Comma(int64(view.StateRecords)), colorize))
	if view.CorpusMTime == nil {
		fmt.Fprintln(out, renderStatusLine("Corpus", statusWarn, "not created yet", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Corpus", statusInfo,
			humanize.IBytes(uint64(view.CorpusBytes))+", updated "+humanize.Time(*view.CorpusMTime), colorize))
	}
	failed := view.Ledger[string(ledger.StatusFailed)]
	if failed > 0 {
		fmt.Fprintln(out, renderStatusLine("Failed items", statusWarn, strconv.Itoa(failed)+" awaiting retry", colorize))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSectionHeader("Ledger", colorize))
	rows := make([][]string, 0, len(ledgerStatuses))
	for _, status := range ledgerStatuses {
		rows = append(rows, []string{string(status), strconv.Itoa(view.Ledger[string(status)])})
	}
	fmt.Fprintln(out, renderTable([]string{"Status", "Items"}, rows, 1))

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSectionHeader("Recent runs", colorize))
	if len(view.Runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return
	}
	runRows := make([][]string, 0, len(view.Runs))
	for _, run := range view.Runs {
		result := "ok"
		if run.Error != "" {
			result = truncate(run.Error, 48)
		}
		runRows = append(runRows, []string{
			humanize.Time(run.StartedAt),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String(),
			strconv.Itoa(run.New),
			strconv.Itoa(run.Committed),
			strconv.Itoa(run.Failed),
			result,
		})
	}
	fmt.Fprintln(out, renderTable([]string{"Started", "Took", "New", "Committed", "Failed", "Result"}, runRows, 2, 3, 4))
}
