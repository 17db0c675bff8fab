package models

import "strings"

// Status is the lifecycle state of a job.
type Status string

const (
	// StatusQueued is set by the API when the job row is created.
	StatusQueued Status = "queued"
	// StatusProcessing is set by the worker on pipeline entry.
	StatusProcessing Status = "processing"

	// terminal states
	StatusSucceeded         Status = "succeeded"
	StatusSucceededDegraded Status = "succeeded_degraded"
	StatusFailed            Status = "failed"
)

// IsTerminal reports whether a job in this state is done.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusSucceededDegraded, StatusFailed:
		return true
	default:
		return false
	}
}

// ToStatus parses a stored status string. Unknown values map to "".
func ToStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusQueued:
		return StatusQueued
	case StatusProcessing:
		return StatusProcessing
	case StatusSucceeded:
		return StatusSucceeded
	case StatusSucceededDegraded:
		return StatusSucceededDegraded
	case StatusFailed:
		return StatusFailed
	default:
		return ""
	}
}
