// Package verify implements the Verification Gate: an external collaborator
// with a single operation, VerifyChange, that runs post-edit checks
// (type-check, tests, lint) and reports whether they all passed.
package verify

import "fmt"

// Severity classifies a CheckError.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// CheckError is one diagnostic surfaced by a verification check, with
// best-effort file/line extraction from the underlying tool's output.
type CheckError struct {
	File       string
	Line       int
	Severity   Severity
	Message    string
	Suggestion string
}

// CheckResult is the outcome of one verification check (e.g. "cargo check").
type CheckResult struct {
	Name       string
	Passed     bool
	DurationMs int64
	Output     string
	Errors     []CheckError
}

// Report is the ordered result of all post-edit checks run for one trigger.
type Report struct {
	Trigger       string
	Paths         []string
	Checks        []CheckResult
	OverallPassed bool
	NextSteps     []string
}

// Render produces the text attached to a tool result when OverallPassed is
// false, summarizing which checks failed and the suggested next steps.
func (r Report) Render() string {
	if r.OverallPassed {
		return ""
	}
	s := fmt.Sprintf("验证未通过（触发: %s）:\n", r.Trigger)
	for _, c := range r.Checks {
		if c.Passed {
			continue
		}
		s += fmt.Sprintf("- %s 失败", c.Name)
		for _, e := range c.Errors {
			if e.File != "" {
				s += fmt.Sprintf("\n    %s:%d: %s", e.File, e.Line, e.Message)
			} else {
				s += fmt.Sprintf("\n    %s", e.Message)
			}
			if e.Suggestion != "" {
				s += fmt.Sprintf(" (建议: %s)", e.Suggestion)
			}
		}
		s += "\n"
	}
	if len(r.NextSteps) > 0 {
		s += "建议的后续步骤:\n"
		for _, n := range r.NextSteps {
			s += fmt.Sprintf("- %s\n", n)
		}
	}
	return s
}
