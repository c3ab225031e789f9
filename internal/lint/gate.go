package lint

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/models"
)

// Rejection reasons.
const (
	ReasonLint   = "lint"
	ReasonPolicy = "policy"
)

// Verdict is the gate's decision on one attempt.
type Verdict struct {
	Accepted   bool
	Code       string           // accepted (auto-fixed) source
	Findings   []models.Finding // findings tolerated on acceptance, or the blocking ones
	Reason     string           // set on rejection
	Diagnostic string           // fed back to the generator on rejection
}

// Gate applies the lint oracle, the non-fatal allow-list and the prohibited-token
// policy. It fails closed: anything not positively accepted is rejected.
type Gate struct {
	oracle     Oracle
	nonFatal   map[string]bool
	prohibited []string
}

func NewGate(oracle Oracle, cfg config.LintConfig) *Gate {
	nonFatal := make(map[string]bool, len(cfg.NonFatalCodes))
	for _, c := range cfg.NonFatalCodes {
		nonFatal[strings.TrimSpace(c)] = true
	}
	return &Gate{oracle: oracle, nonFatal: nonFatal, prohibited: cfg.ProhibitedTokens}
}

// Evaluate returns a verdict, or an error when the oracle could not run.
func (g *Gate) Evaluate(ctx context.Context, source string) (*Verdict, error) {
	rep, err := g.oracle.Lint(ctx, source)
	if err != nil {
		return nil, err
	}

	v := &Verdict{Code: rep.Fixed}
	switch {
	case rep.ExitCode == 0:
		v.Accepted = true
	case len(rep.Findings) > 0 && g.allNonFatal(rep.Findings):
		v.Accepted = true
		v.Findings = rep.Findings
	default:
		v.Reason = ReasonLint
		v.Findings = g.blocking(rep.Findings)
		v.Diagnostic = fmt.Sprintf(
			"Static analysis found issues that could not be auto-fixed. Regenerate the code so that it passes lint cleanly.\n\nLinter output:\n%s",
			rep.Output)
		return v, nil
	}

	if tok := g.prohibitedToken(v.Code); tok != "" {
		return &Verdict{
			Reason:     ReasonPolicy,
			Diagnostic: fmt.Sprintf("The code contains the prohibited construct %q. Regenerate it without %q.", tok, tok),
		}, nil
	}
	return v, nil
}

func (g *Gate) allNonFatal(findings []models.Finding) bool {
	for _, f := range findings {
		if !g.nonFatal[f.Code] {
			return false
		}
	}
	return true
}

func (g *Gate) blocking(findings []models.Finding) []models.Finding {
	var out []models.Finding
	for _, f := range findings {
		if !g.nonFatal[f.Code] {
			out = append(out, f)
		}
	}
	return out
}

func (g *Gate) prohibitedToken(code string) string {
	for _, tok := range g.prohibited {
		if tok != "" && strings.Contains(code, tok) {
			return tok
		}
	}
	return ""
}
