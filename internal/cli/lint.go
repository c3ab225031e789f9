package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/optimo/internal/lint"
)

var lintCmd = &cobra.Command{
	Use:   "lint <file.py>",
	Short: "Run the code quality gate on a Python file",
	Long: `Run the same quality gate the Integrator uses: auto-fixing lint, the non-fatal
finding allow-list and the prohibited-construct policy. With --write the auto-fixed
source replaces the file when the gate accepts it.`,
	Args: cobra.ExactArgs(1),
	RunE: runLint,
}

func init() {
	lintCmd.Flags().Bool("write", false, "write the auto-fixed source back to the file")
}

// gateOracle lets tests replace ruff.
var gateOracle lint.Oracle

func runLint(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	src, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	oracle := gateOracle
	if oracle == nil {
		oracle = lint.NewRuff(cfg.Lint, lint.ExecRunner{})
	}

	v, err := lint.NewGate(oracle, cfg.Lint).Evaluate(cmd.Context(), string(src))
	if err != nil {
		return fmt.Errorf("lint %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	for _, f := range v.Findings {
		fmt.Fprintf(out, "%s:%d:%d: %s %s\n", args[0], f.Line, f.Column, f.Code, f.Message)
	}
	if !v.Accepted {
		fmt.Fprintln(out, v.Diagnostic)
		return errors.New("rejected: " + v.Reason)
	}
	fmt.Fprintln(out, "accepted")
	if write, _ := cmd.Flags().GetBool("write"); write && v.Code != string(src) {
		return os.WriteFile(args[0], []byte(v.Code), 0o644)
	}
	return nil
}
