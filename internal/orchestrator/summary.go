package orchestrator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/example/optimo/internal/models"
)

const objectiveUnknown = "Unknown (not solved)"

// Summarize renders a report in fixed order: success flag, objective name, objective
// value and solver output, each line only when there is something to show.
func Summarize(r *models.ExecutionReport) string {
	if r == nil {
		return ""
	}
	lines := []string{fmt.Sprintf("Success: %t", r.Success)}
	if r.ObjectiveName != "" {
		lines = append(lines, "Objective Name: "+r.ObjectiveName)
	}
	switch {
	case r.ObjectiveValue != nil:
		lines = append(lines, "Objective Value: "+strconv.FormatFloat(*r.ObjectiveValue, 'f', -1, 64))
	case r.ObjectiveUnknown:
		lines = append(lines, "Objective Value: "+objectiveUnknown)
	}
	if strings.TrimSpace(r.Stdout) != "" {
		lines = append(lines, "Solver output:\n"+r.Stdout)
	}
	return strings.Join(lines, "\n")
}
