package batch

import "mailvetter/internal/engine"

// EventType distinguishes the three shapes of ProgressEvent emitted by a
// streamed (bulk) run.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// ProgressEvent is one line of a streamed bulk response. Progress is
// monotone non-decreasing across a run; Complete is emitted exactly once
// at the end unless the run was aborted, in which case Error is emitted
// instead.
type ProgressEvent struct {
	Type     EventType                 `json:"type"`
	Progress float64                   `json:"progress,omitempty"`
	Results  []engine.ValidationResult `json:"results,omitempty"`
	Error    string                    `json:"error,omitempty"`
}
