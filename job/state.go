package job

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle position of a job.
type State string

const (
	StatePendingURL  State = "PENDING_URL"
	StateDownloading State = "DOWNLOADING"
	StatePending     State = "PENDING"
	StateProcessing  State = "PROCESSING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// States lists every state in path order.
var States = []State{
	StatePendingURL,
	StateDownloading,
	StatePending,
	StateProcessing,
	StateDone,
	StateFailed,
}

// Terminal reports whether no further transitions can leave s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// ParseState converts a string to a State.
func ParseState(str string) (State, error) {
	s := State(str)
	if !s.Valid() {
		return "", fmt.Errorf("invalid job state: %s", str)
	}
	return s, nil
}

// UnmarshalJSON rejects unknown states.
func (s *State) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	parsed, err := ParseState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Event is something that happens to a job.
type Event string

const (
	EventDownloadDelivered Event = "download_delivered"
	EventDownloadSucceeded Event = "download_succeeded"
	EventDownloadFailed    Event = "download_failed"
	EventAnalyzeDelivered  Event = "analyze_delivered"
	EventAnalyzeSucceeded  Event = "analyze_succeeded"
	EventAnalyzeFailed     Event = "analyze_failed"
	EventEnqueueFailed     Event = "enqueue_failed"
)

// Events lists every event.
var Events = []Event{
	EventDownloadDelivered,
	EventDownloadSucceeded,
	EventDownloadFailed,
	EventAnalyzeDelivered,
	EventAnalyzeSucceeded,
	EventAnalyzeFailed,
	EventEnqueueFailed,
}

// transitions is the complete table; any pair missing here is illegal.
var transitions = map[State]map[Event]State{
	StatePendingURL: {
		EventDownloadDelivered: StateDownloading,
		EventEnqueueFailed:     StateFailed,
	},
	StateDownloading: {
		EventDownloadSucceeded: StatePending,
		EventDownloadFailed:    StateFailed,
	},
	StatePending: {
		EventAnalyzeDelivered: StateProcessing,
		EventEnqueueFailed:    StateFailed,
	},
	StateProcessing: {
		EventAnalyzeSucceeded: StateDone,
		EventAnalyzeFailed:    StateFailed,
	},
	StateDone:   {},
	StateFailed: {},
}

// Next returns the state ev leads to from s, or ErrIllegalTransition.
func Next(s State, ev Event) (State, error) {
	to, ok := transitions[s][ev]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, s)
	}
	return to, nil
}
