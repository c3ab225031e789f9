package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/optimo/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ledger, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer ledger.Close()

		runs, err := ledger.List(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATE\tUPDATED\tPROBLEM")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.State, r.UpdatedAt.Format(time.RFC3339), truncate(r.Problem.Text, 50))
		}
		return tw.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print one run record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ledger, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer ledger.Close()

		run, err := ledger.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}

func truncate(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' {
			r = r[:i]
			break
		}
	}
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-3]) + "..."
}
