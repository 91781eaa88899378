// Package health defines the post-deploy verification report and its verdict
// aggregation. Pure values, no I/O; the checks themselves live in the
// validator that produces the report.
package health

import (
	"fmt"
	"strings"
)

// Check is one named verification result. A check appends to the report
// exactly once and is never mutated afterwards.
type Check struct {
	Name    string
	Passed  bool
	Skipped bool
	// Advisory checks are recorded but never change the overall verdict.
	Advisory bool
	Detail   string
}

// Report is the ordered, append-only result of a verification pass.
type Report struct {
	checks []Check
}

// Append records one check result. Order of appends is the order of checks.
func (r *Report) Append(c Check) {
	r.checks = append(r.checks, c)
}

// Checks returns the recorded checks in order.
func (r *Report) Checks() []Check {
	out := make([]Check, len(r.checks))
	copy(out, r.checks)
	return out
}

// Passed reports the overall verdict: the logical AND of every non-advisory
// check. Skipped non-advisory checks count as failures, since a skipped check
// means its precondition already failed.
func (r *Report) Passed() bool {
	for _, c := range r.checks {
		if c.Advisory {
			continue
		}
		if c.Skipped || !c.Passed {
			return false
		}
	}
	return len(r.checks) > 0
}

// FailedNames lists the non-advisory checks that did not pass.
func (r *Report) FailedNames() []string {
	var failed []string
	for _, c := range r.checks {
		if !c.Advisory && (c.Skipped || !c.Passed) {
			failed = append(failed, c.Name)
		}
	}
	return failed
}

// Summary renders a one-line verdict for error messages.
func (r *Report) Summary() string {
	failed := r.FailedNames()
	if len(failed) == 0 {
		return fmt.Sprintf("all %d checks passed", len(r.checks))
	}
	return fmt.Sprintf("%d of %d checks failed: %s",
		len(failed), len(r.checks), strings.Join(failed, ", "))
}

// String renders the itemized report, one check per line.
func (r *Report) String() string {
	var sb strings.Builder
	for _, c := range r.checks {
		status := "FAIL"
		switch {
		case c.Skipped:
			status = "SKIP"
		case c.Passed:
			status = "PASS"
		}
		if c.Advisory {
			status += " (advisory)"
		}
		fmt.Fprintf(&sb, "[%s] %s", status, c.Name)
		if c.Detail != "" {
			fmt.Fprintf(&sb, ": %s", c.Detail)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
