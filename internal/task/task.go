package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the conversion work a task carries. It doubles as the
// broker routing key, so the values are wire-stable.
type Kind string

const (
	KindTTS    Kind = "tts"
	KindVC     Kind = "vc"
	KindConcat Kind = "concat"
)

// Kinds lists every task kind in dispatch order.
var Kinds = []Kind{KindTTS, KindVC, KindConcat}

// ParseKind validates a kind string received from the API surface.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTTS, KindVC, KindConcat:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown task kind: %q", s)
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusRunnable   Status = "RUNNABLE"
	StatusBlocked    Status = "BLOCKED"
	StatusWaiting    Status = "WAITING"
	StatusTerminated Status = "TERMINATED"
	StatusFailed     Status = "FAILED"
	StatusCompleted  Status = "COMPLETED"
)

// transitions is the full edge set of the status state machine. BLOCKED and
// WAITING are reachable for flow control (manual hold, backpressure) even
// though the base pipeline never produces them; a task found in either state
// must still be able to resume or terminate.
var transitions = map[Status][]Status{
	StatusNew:      {StatusRunnable, StatusBlocked, StatusWaiting, StatusTerminated},
	StatusRunnable: {StatusCompleted, StatusFailed, StatusBlocked, StatusWaiting, StatusTerminated},
	StatusBlocked:  {StatusRunnable, StatusTerminated},
	StatusWaiting:  {StatusRunnable, StatusTerminated},
}

// CanTransition reports whether the state machine allows moving to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing edges.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusRunnable, StatusBlocked, StatusWaiting,
		StatusTerminated, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// Task is one unit of dispatched conversion work. Payload holds the exact
// message body published to the broker, so a task stuck in NEW can be
// republished verbatim.
type Task struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"projectId"`
	Kind          Kind            `json:"kind"`
	Status        Status          `json:"status"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	TrackingID    *string         `json:"trackingId,omitempty"`
	ResultMessage *string         `json:"resultMessage,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// History is one append-only record of a status transition.
type History struct {
	TaskID    string    `json:"taskId"`
	OldStatus Status    `json:"oldStatus"`
	NewStatus Status    `json:"newStatus"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
