package orchestrator

import (
	"errors"
	"strings"
)

var (
	// ErrClarificationExhausted ends a run whose Expert keeps asking questions after
	// the configured number of answered rounds.
	ErrClarificationExhausted = errors.New("clarification limit reached")
	ErrRunNotFound            = errors.New("run not found")
	ErrNotAwaitingAnswer      = errors.New("run is not awaiting clarification")
	ErrEmptyAnswer            = errors.New("clarification answer is empty")
	ErrEmptyProblem           = errors.New("problem text is empty")
)

// ClarificationError is the signal that a run is suspended until the caller answers
// Questions. It is not a failure.
type ClarificationError struct {
	RunID       string
	Explanation string
	Questions   []string
}

func (e *ClarificationError) Error() string {
	return "clarification needed: " + strings.Join(e.Questions, "; ")
}

// FailedError carries the diagnostic of a run that ended in FAILED.
type FailedError struct {
	RunID      string
	Diagnostic string
}

func (e *FailedError) Error() string { return e.Diagnostic }
