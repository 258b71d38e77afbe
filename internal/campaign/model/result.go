package model

import (
	"sort"
	"time"
)

// Status is the terminal state of one build target.
type Status string

const (
	StatusPassed Status = "Passed"
	StatusFailed Status = "Failed"
	StatusError  Status = "Error"
)

// Failure reasons recorded on non-passing results.
const (
	ReasonTimeout  = "timeout"
	ReasonCanceled = "canceled"
	ReasonStart    = "start failed"
	ReasonExitCode = "exit code"
)

// ExecutionResult is produced exactly once per build target.
type ExecutionResult struct {
	Target       string        `json:"target"`
	Status       Status        `json:"status"`
	LogPath      string        `json:"log_path"`
	CoveragePath string        `json:"coverage_path,omitempty"`
	WorkDir      string        `json:"work_dir"`
	FailedStage  string        `json:"failed_stage,omitempty"`
	ExitCode     int           `json:"exit_code"`
	Reason       string        `json:"reason,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
}

// Passed reports whether the target finished every stage successfully.
func (r ExecutionResult) Passed() bool {
	return r.Status == StatusPassed
}

// Counts aggregates results by status.
type Counts struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Error  int `json:"error"`
}

// Tally counts results by status.
func Tally(results map[string]ExecutionResult) Counts {
	var c Counts
	for _, r := range results {
		c.Total++
		switch r.Status {
		case StatusPassed:
			c.Passed++
		case StatusFailed:
			c.Failed++
		default:
			c.Error++
		}
	}
	return c
}

// SortedNames returns the result keys in lexical order.
func SortedNames(results map[string]ExecutionResult) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
