package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type State string

const (
	StateAwaitingReformulation State = "AWAITING_REFORMULATION"
	StateReformulated          State = "REFORMULATED"
	StateAwaitingCode          State = "AWAITING_CODE"
	StateCodeAccepted          State = "CODE_ACCEPTED"
	StateValidated             State = "VALIDATED"
	StateClarificationNeeded   State = "CLARIFICATION_NEEDED"
	StateFailed                State = "FAILED"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateValidated || s == StateFailed
}

type ProblemClass string

const (
	ClassLinear       ProblemClass = "Linear Programming"
	ClassInteger      ProblemClass = "Integer Programming"
	ClassMixedInteger ProblemClass = "Mixed-Integer Programming"
	ClassNonlinear    ProblemClass = "Nonlinear Programming"
	ClassStochastic   ProblemClass = "Stochastic Programming"
	ClassOther        ProblemClass = "Other"
)

// ProblemClasses lists the accepted problem-class tags in declaration order.
var ProblemClasses = []ProblemClass{
	ClassLinear, ClassInteger, ClassMixedInteger, ClassNonlinear, ClassStochastic, ClassOther,
}

func (c ProblemClass) Valid() bool {
	for _, k := range ProblemClasses {
		if c == k {
			return true
		}
	}
	return false
}

// Clarification is one exchange of the clarification loop.
type Clarification struct {
	Questions []string `json:"questions,omitempty"`
	Answer    string   `json:"answer"`
}

// ProblemStatement is the caller's text plus every clarification answered so far.
// Only the coordinator appends to it.
type ProblemStatement struct {
	Text           string          `json:"text"`
	Clarifications []Clarification `json:"clarifications,omitempty"`
}

const clarificationMarker = "Clarifications:"

// Append records an answered clarification round.
func (p *ProblemStatement) Append(questions []string, answer string) {
	p.Clarifications = append(p.Clarifications, Clarification{
		Questions: append([]string(nil), questions...),
		Answer:    strings.TrimSpace(answer),
	})
}

// Rounds is the number of clarification answers recorded.
func (p *ProblemStatement) Rounds() int { return len(p.Clarifications) }

// Prompt renders the statement the way callers of the stateless entry point do:
// the original text followed by one "Clarifications: <answer>" block per round.
func (p *ProblemStatement) Prompt() string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(p.Text, "\n"))
	for _, c := range p.Clarifications {
		b.WriteString("\n")
		b.WriteString(clarificationMarker)
		b.WriteString(" ")
		b.WriteString(c.Answer)
		b.WriteString("\n")
	}
	return b.String()
}

// ParseProblemStatement splits a rendered prompt back into the original text and its
// clarification answers. Text without markers is returned as-is.
func ParseProblemStatement(text string) ProblemStatement {
	lines := strings.Split(text, "\n")
	var ps ProblemStatement
	var head []string
	var current *Clarification
	for _, ln := range lines {
		trimmed := strings.TrimSpace(ln)
		if strings.HasPrefix(trimmed, clarificationMarker) {
			ps.Clarifications = append(ps.Clarifications, Clarification{
				Answer: strings.TrimSpace(strings.TrimPrefix(trimmed, clarificationMarker)),
			})
			current = &ps.Clarifications[len(ps.Clarifications)-1]
			continue
		}
		if current != nil {
			if trimmed == "" {
				continue
			}
			if current.Answer == "" {
				current.Answer = trimmed
			} else {
				current.Answer += "\n" + trimmed
			}
			continue
		}
		head = append(head, ln)
	}
	ps.Text = strings.TrimRight(strings.Join(head, "\n"), "\n")
	return ps
}

// Reformulation is the Expert's finalized restatement of the problem.
type Reformulation struct {
	ReformulatedProblem string       `json:"reformulated_problem"`
	ProblemClass        ProblemClass `json:"problem_type"`
	Assumptions         []string     `json:"assumptions"`
}

// ClarificationRequest asks the caller for missing information.
type ClarificationRequest struct {
	Explanation string   `json:"explanation"`
	Questions   []string `json:"clarification_questions"`
}

type ExpertKind string

const (
	ExpertReformulation ExpertKind = "reformulation"
	ExpertInquiry       ExpertKind = "inquiry"
)

// ExpertOutput holds exactly one of the two Expert variants, selected by Kind.
type ExpertOutput struct {
	Kind          ExpertKind            `json:"kind"`
	Reformulation *Reformulation        `json:"reformulation,omitempty"`
	Clarification *ClarificationRequest `json:"clarification,omitempty"`
}

var ErrInvalidExpertOutput = errors.New("invalid expert output")

func (o *ExpertOutput) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: empty", ErrInvalidExpertOutput)
	}
	switch o.Kind {
	case ExpertReformulation:
		if o.Reformulation == nil || o.Clarification != nil {
			return fmt.Errorf("%w: reformulation kind must carry only a reformulation", ErrInvalidExpertOutput)
		}
	case ExpertInquiry:
		if o.Clarification == nil || o.Reformulation != nil {
			return fmt.Errorf("%w: inquiry kind must carry only a clarification request", ErrInvalidExpertOutput)
		}
		if len(o.Clarification.Questions) == 0 {
			return fmt.Errorf("%w: clarification request has no questions", ErrInvalidExpertOutput)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidExpertOutput, o.Kind)
	}
	return nil
}

// Artifact is generated source accepted by the quality gate.
type Artifact struct {
	Code     string    `json:"code"`
	Attempts int       `json:"attempts"`
	Findings []Finding `json:"findings,omitempty"`
}

// Finding is one static-analysis issue reported for generated code.
type Finding struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ExecutionReport is what one sandbox execution produced.
type ExecutionReport struct {
	Success          bool          `json:"success"`
	Stdout           string        `json:"stdout,omitempty"`
	Stderr           string        `json:"stderr,omitempty"`
	Error            string        `json:"error,omitempty"`
	ObjectiveName    string        `json:"objective_name,omitempty"`
	ObjectiveValue   *float64      `json:"objective_value,omitempty"`
	ObjectiveUnknown bool          `json:"objective_unknown,omitempty"`
	ExitCode         int           `json:"exit_code"`
	TimedOut         bool          `json:"timed_out,omitempty"`
	Truncated        bool          `json:"truncated,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// HasObjectiveValue reports whether the summary has an objective value line to print.
func (r *ExecutionReport) HasObjectiveValue() bool {
	return r.ObjectiveValue != nil || r.ObjectiveUnknown
}

// Transition is one edge taken by a run's state machine.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Run is the full record of one pipeline run.
type Run struct {
	ID            string           `json:"id"`
	State         State            `json:"state"`
	Problem       ProblemStatement `json:"problem"`
	Questions     []string         `json:"questions,omitempty"`
	Explanation   string           `json:"explanation,omitempty"`
	Reformulation *Reformulation   `json:"reformulation,omitempty"`
	Artifact      *Artifact        `json:"artifact,omitempty"`
	ArtifactPath  string           `json:"artifact_path,omitempty"`
	Report        *ExecutionReport `json:"report,omitempty"`
	Summary       string           `json:"summary,omitempty"`
	Diagnostic    string           `json:"diagnostic,omitempty"`
	Transitions   []Transition     `json:"transitions,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}
