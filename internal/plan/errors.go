package plan

import (
	"errors"
	"fmt"
)

// ErrBackendUnavailable marks an analysis-backend failure (timeout, resource
// exhaustion). It is fatal for the current run: the engine must halt rather
// than fall back to a cheaper heuristic, because a systematically wrong
// inclusion decision corrupts everything downstream.
var ErrBackendUnavailable = errors.New("analysis backend unavailable")

// ScopeError is a fatal input problem: a dependency cycle, a catalog miss, an
// orphan work item. Never auto-repaired; carries enough detail to fix the input.
type ScopeError struct {
	Step        string // Pipeline step that detected it
	Detail      string
	Remediation string
}

func (e *ScopeError) Error() string {
	if e.Remediation != "" {
		return fmt.Sprintf("%s: %s (remediation: %s)", e.Step, e.Detail, e.Remediation)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Detail)
}

// CompletenessError blocks progression until a resolution sub-protocol runs:
// assessment count mismatch, unresolved uncertain classifications.
type CompletenessError struct {
	Step   string
	Detail string
}

func (e *CompletenessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Detail)
}

// IsFatal reports whether err should terminate the run outright, as opposed to
// suspending for user input.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var scope *ScopeError
	if errors.As(err, &scope) {
		return true
	}
	var completeness *CompletenessError
	if errors.As(err, &completeness) {
		return true
	}
	return errors.Is(err, ErrBackendUnavailable)
}
