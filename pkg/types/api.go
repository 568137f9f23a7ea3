package types

// StartStreamRequest is the body of POST /stream.
type StartStreamRequest struct {
	SubjectID      string `json:"subjectId"`
	SelectedAnswer string `json:"selectedAnswer"`
	// UserMessage is the follow-up question for multi-turn exchanges.
	// Empty on the first turn.
	UserMessage string `json:"userMessage,omitempty"`
	// ConversationHistory carries prior turns. If present it must contain a
	// system message; otherwise it is discarded and the context is rebuilt.
	ConversationHistory []ChatMessage `json:"conversationHistory,omitempty"`
}

// StartStreamResponse is the body returned by POST /stream.
type StartStreamResponse struct {
	StreamID string `json:"streamId"`
}

// PollResponse is the body returned by GET /stream/{streamID}.
type PollResponse struct {
	// Content is the full accumulated text up to the new cursor.
	Content string `json:"content"`
	// NewContent is the delta since the client-supplied cursor.
	NewContent string `json:"newContent"`
	// Cursor is the offset to pass on the next poll.
	Cursor int `json:"cursor"`
	// Done is true once the stream reached a terminal state.
	Done bool `json:"done"`
	// Error is a user-safe message, set only on failed or aborted streams.
	Error string `json:"error,omitempty"`
	// ConversationHistory is returned only when done without error, so the
	// client can carry it into the next turn.
	ConversationHistory []ChatMessage `json:"conversationHistory,omitempty"`
}

// AbortResponse is the body returned by POST /stream/{streamID}/abort.
type AbortResponse struct {
	Success bool `json:"success"`
}
