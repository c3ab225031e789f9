package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/optimo/internal/intake"
	"github.com/example/optimo/internal/models"
	"github.com/example/optimo/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run [problem...]",
	Short: "Run the pipeline on a problem",
	Long: `Run the pipeline on a problem given as arguments, as a document (--file) or both.

When the Expert asks clarifying questions they are printed and answers are read from
stdin, one line per round. With --no-input the run stops at the first question and the
command exits with an error.

Examples:
  optimo run "A farmer has 100 acres for wheat and corn..."
  optimo run --file problem.pdf
  optimo run --file data.csv "Plan next season's planting using the attached yields"`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("file", "", "problem document (.txt, .md, .html, .pdf, .csv)")
	runCmd.Flags().Bool("no-input", false, "do not prompt for clarification answers")
}

func runRun(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	noInput, _ := cmd.Flags().GetBool("no-input")
	ctx := cmd.Context()

	problem := strings.TrimSpace(strings.Join(args, " "))
	if file != "" {
		doc, err := intake.ReadFile(file)
		if err != nil {
			return err
		}
		text, err := intake.Extract(ctx, doc, intake.DefaultLimits)
		if err != nil {
			return fmt.Errorf("extract %s: %w", file, err)
		}
		problem = intake.Compose(problem, text)
	}
	if problem == "" {
		return errors.New("no problem given: pass it as arguments or with --file")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())
	outcome := a.Coordinator.Start(ctx, problem)
	for outcome.State == models.StateClarificationNeeded {
		printQuestions(out, outcome)
		if noInput {
			return outcome.Err()
		}
		fmt.Fprint(out, "> ")
		answer, rerr := in.ReadString('\n')
		if strings.TrimSpace(answer) == "" {
			if rerr != nil {
				return fmt.Errorf("no answer given: %w", outcome.Err())
			}
			continue
		}
		outcome, err = a.Coordinator.Clarify(ctx, outcome.RunID, answer)
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Run %s: %s\n", outcome.RunID, outcome.State)
	if outcome.State == models.StateFailed {
		return outcome.Err()
	}
	if outcome.ArtifactPath != "" {
		fmt.Fprintf(out, "Model written to %s\n", outcome.ArtifactPath)
	}
	fmt.Fprintln(out, outcome.Summary)
	return nil
}

func printQuestions(w io.Writer, o *orchestrator.Outcome) {
	fmt.Fprintln(w, "The expert needs more information.")
	if o.Explanation != "" {
		fmt.Fprintln(w, o.Explanation)
	}
	for _, q := range o.Questions {
		fmt.Fprintf(w, " - %s\n", q)
	}
}
