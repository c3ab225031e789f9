package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/optimo/internal/orchestrator"
	"github.com/example/optimo/internal/sandbox"
)

var execCmd = &cobra.Command{
	Use:   "exec <file.py>",
	Short: "Execute a Pyomo model in the sandbox and summarize it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		src, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		report, err := sandbox.New(cfg.Sandbox, log, nil).Execute(cmd.Context(), string(src))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), orchestrator.Summarize(report))
		if !report.Success {
			return errors.New(report.Error)
		}
		return nil
	},
}
