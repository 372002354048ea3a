package pipeline

import "fmt"

// State is the lifecycle state shared by stages and pipelines.
type State string

const (
	// StateQueued marks a pipeline that was ingested but not yet confirmed.
	// Stages never use it.
	StateQueued     State = "QUEUED"
	StatePending    State = "PENDING"
	StateUploading  State = "UPLOADING"
	StateProcessing State = "PROCESSING"
	StateReady      State = "READY"
	StateFinished   State = "FINISHED"
	StateError      State = "ERROR"
	StateSkipped    State = "SKIPPED"
)

var knownStates = map[State]struct{}{
	StateQueued:     {},
	StatePending:    {},
	StateUploading:  {},
	StateProcessing: {},
	StateReady:      {},
	StateFinished:   {},
	StateError:      {},
	StateSkipped:    {},
}

// ParseState validates a persisted state string.
func ParseState(value string) (State, error) {
	state := State(value)
	if _, ok := knownStates[state]; !ok {
		return "", fmt.Errorf("unknown state %q", value)
	}
	return state, nil
}

// IsTerminal reports whether a stage in this state will not move again on its own.
func (s State) IsTerminal() bool {
	switch s {
	case StateFinished, StateError, StateSkipped:
		return true
	default:
		return false
	}
}

// IsRunning reports whether a provider call is outstanding.
func (s State) IsRunning() bool {
	return s == StateUploading || s == StateProcessing
}

func (s State) String() string { return string(s) }
