package types

// StreamState is the lifecycle state of a stream entry.
type StreamState string

const (
	// StateStreaming is the initial state; the worker is still producing text.
	StateStreaming StreamState = "streaming"
	// StateDone means the upstream finished cleanly and post-processing ran.
	StateDone StreamState = "done"
	// StateError means the stream failed or timed out.
	StateError StreamState = "error"
	// StateAborted means the client cancelled the stream.
	StateAborted StreamState = "aborted"
)

// Terminal reports whether no further buffer growth can occur in this state.
func (s StreamState) Terminal() bool {
	return s == StateDone || s == StateError || s == StateAborted
}
