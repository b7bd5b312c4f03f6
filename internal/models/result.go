package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the outcome of archiving one unit.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFail    Status = "FAIL"
)

// RunResult holds the outcome of a single borg create invocation.
type RunResult struct {
	Status   Status
	Unit     string
	Repos    string
	ErrText  string // captured stderr, failures only
	Duration time.Duration
}

// Archive returns the repository-qualified unit name, e.g. "ssh://host/repo::db".
func (r RunResult) Archive() string {
	return fmt.Sprintf("%s::%s", r.Repos, r.Unit)
}

// Failed reports whether the unit failed.
func (r RunResult) Failed() bool {
	return r.Status != StatusSuccess
}

// Lines renders the result as report lines. A failure carries the error
// text on its own line.
func (r RunResult) Lines() []string {
	lines := []string{fmt.Sprintf("%s: %s", r.Status, r.Archive())}
	if r.Failed() {
		lines = append(lines, r.ErrText)
	}
	return lines
}

// RunReport aggregates every result of one run.
type RunReport struct {
	RunID     string
	Hostname  string
	Repos     string
	DryRun    bool
	StartTime time.Time
	Duration  time.Duration
	Results   []RunResult
}

// Add appends a result in accumulation order.
func (r *RunReport) Add(result RunResult) {
	r.Results = append(r.Results, result)
}

// Lines returns the report lines of all results in accumulation order.
func (r *RunReport) Lines() []string {
	var lines []string
	for _, res := range r.Results {
		lines = append(lines, res.Lines()...)
	}
	return lines
}

// Body is the plain-text report body.
func (r *RunReport) Body() string {
	return strings.Join(r.Lines(), "\n")
}

// Subject is the report subject line.
func (r *RunReport) Subject() string {
	return fmt.Sprintf("Backup Summary for %s", r.Hostname)
}

// Failed returns the number of failed units.
func (r *RunReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Failed() {
			n++
		}
	}
	return n
}

// Succeeded returns the number of archived units.
func (r *RunReport) Succeeded() int {
	return len(r.Results) - r.Failed()
}

// ShouldNotify reports whether the report has to be delivered: never on a
// dry run, never when nothing ran.
func (r *RunReport) ShouldNotify() bool {
	return !r.DryRun && len(r.Lines()) > 0
}
