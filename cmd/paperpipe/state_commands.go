package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"paperpipe/internal/record"
	"paperpipe/internal/state"
)

func newStateCommand(ctx *commandContext) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the state store",
	}
	stateCmd.AddCommand(newStateListCommand(ctx))
	return stateCmd
}

func newStateListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List committed records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := state.Load(cfg.Paths.StateFile)
			if err != nil {
				return err
			}
			records := st.Records()
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}
			if jsonOutput {
				if records == nil {
					records = []record.Record{}
				}
				return writeJSON(cmd, records)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "State store is empty")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for i, rec := range records {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					rec.IdentityKey,
					truncate(rec.Title, 60),
					rec.SubmittedDateRaw,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"#", "Key", "Title", "Submitted"}, rows, 0))
			if len(records) < st.Len() {
				fmt.Fprintf(out, "Showing %d of %d records\n", len(records), st.Len())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print records as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records to show (0 for all)")
	return cmd
}
