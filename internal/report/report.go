// Package report defines the run result shape and writes it to disk (JSON,
// HTML) and to stdout (a columnized text summary).
package report

import "time"

// StepError is the serialized form of whatever error a step produced.
type StepError struct {
	Message string `json:"message"`
}

// StepResult records the outcome of dispatching one step.
type StepResult struct {
	Step       string      `json:"step"`
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      *StepError  `json:"error,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	DurationMs int64       `json:"durationMs"`
}

// Summary totals a Report's results.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Report is the full machine-readable artifact of one RunFeature call.
type Report struct {
	Timestamp   time.Time    `json:"timestamp"`
	DurationMs  int64        `json:"durationMs"`
	HostVersion string       `json:"hostVersion"`
	Results     []StepResult `json:"results"`
	Summary     Summary      `json:"summary"`
}

// New builds a Report from an ordered result list, the run's start time, and
// the host binary's own version (for reproducing a run against the build
// that produced its artifacts).
func New(start time.Time, hostVersion string, results []StepResult) Report {
	summary := Summary{}
	for _, r := range results {
		summary.Total++
		if r.Success {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	return Report{
		Timestamp:   start,
		DurationMs:  time.Since(start).Milliseconds(),
		HostVersion: hostVersion,
		Results:     results,
		Summary:     summary,
	}
}

// Failed reports whether any step in the run failed, for the CLI's exit code.
func (r Report) Failed() bool {
	return r.Summary.Failed > 0
}
