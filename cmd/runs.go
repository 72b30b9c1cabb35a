package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bouwdata/heritage-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect enrichment run history",
	Long:  "Commands for listing past enrichment runs and the identifier substitutions they recorded.",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrichment runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tINPUT\tSTATUS\tROWS\tWRITTEN\tSTARTED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				r.ID, r.Input, r.Status, r.TotalRows, r.Written,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its substitutions and unresolved ids",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		fmt.Printf("Run %s\n", run.ID)
		fmt.Printf("  input:   %s\n", run.Input)
		fmt.Printf("  status:  %s\n", run.Status)
		fmt.Printf("  rows:    %d total, %d written\n", run.TotalRows, run.Written)
		fmt.Printf("  started: %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
		if run.FinishedAt != nil {
			fmt.Printf("  finished: %s\n", run.FinishedAt.Local().Format("2006-01-02 15:04:05"))
		}

		aliases, err := st.ListAliases(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show aliases")
		}
		if len(aliases) > 0 {
			fmt.Printf("\nSubstitutions (%d):\n", len(aliases))
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "  ORIGINAL\tSUBSTITUTE")
			for original, alternate := range aliases {
				fmt.Fprintf(w, "  %s\t%s\n", original, alternate)
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}

		unresolved, err := st.ListUnresolved(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show unresolved")
		}
		if len(unresolved) > 0 {
			fmt.Printf("\nUnresolved ids (%d):\n", len(unresolved))
			for _, id := range unresolved {
				fmt.Printf("  %s\n", id)
			}
		}
		return nil
	},
}

func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	if cfg.Store.Path == "" {
		return nil, eris.New("store.path is not configured; run history is disabled")
	}
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func init() {
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
