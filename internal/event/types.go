package event

// StreamData is the payload for all stream lifecycle events.
type StreamData struct {
	StreamID    string `json:"streamId"`
	RequesterID string `json:"requesterId"`
	SubjectID   string `json:"subjectId"`
	// Error is set for stream.error and stream.aborted events.
	Error string `json:"error,omitempty"`
}
