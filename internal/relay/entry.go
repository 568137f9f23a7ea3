// Package relay implements the in-memory streaming response relay: a keyed
// registry of in-flight and recently finished generation streams, the worker
// that drives each stream, and the background sweepers that reclaim entries.
package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/quizmentor-ai/quizmentor/pkg/types"
)

// User-safe terminal messages. Internal error detail never reaches clients.
const (
	msgGeneric    = "Something went wrong while generating the response."
	msgTimeout    = "Response timed out."
	msgExpired    = "Stream expired."
	msgAborted    = "Stream aborted."
	msgSuperseded = "New stream started."
	msgShutdown   = "Server shutting down."
)

// Entry tracks one in-flight or recently finished generation stream. It is
// owned by the registry; the buffer is written only by the entry's single
// worker, while sweepers and abort calls only ever move the state forward to
// a terminal value.
type Entry struct {
	id          string
	requesterID string
	subjectID   string
	createdAt   time.Time

	mu           sync.Mutex
	buffer       strings.Builder
	state        types.StreamState
	errorMessage string
	lastActivity time.Time
	history      []types.ChatMessage

	// cancel releases the worker's upstream call when a terminal transition
	// happens outside the worker (abort, heartbeat timeout, stale eviction).
	cancel context.CancelFunc
}

func newEntry(id, requesterID, subjectID string) *Entry {
	now := time.Now()
	return &Entry{
		id:           id,
		requesterID:  requesterID,
		subjectID:    subjectID,
		createdAt:    now,
		state:        types.StateStreaming,
		lastActivity: now,
	}
}

// ID returns the entry's opaque stream id.
func (e *Entry) ID() string { return e.id }

// append grows the buffer by one delta. It refuses to write once the entry
// is terminal, returning false so the worker stops its read loop.
func (e *Entry) append(text string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return false
	}
	e.buffer.WriteString(text)
	e.lastActivity = time.Now()
	return true
}

// transition moves the entry into a terminal state. The first terminal
// transition wins; later attempts are no-ops and return false. Terminal
// transitions never touch the buffer or the conversation history.
func (e *Entry) transition(state types.StreamState, errorMessage string) bool {
	if !state.Terminal() {
		return false
	}
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return false
	}
	e.state = state
	if state != types.StateDone {
		e.errorMessage = errorMessage
	}
	e.lastActivity = time.Now()
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// setCancel registers the worker's context cancel func.
func (e *Entry) setCancel(cancel context.CancelFunc) {
	e.mu.Lock()
	terminal := e.state.Terminal()
	if !terminal {
		e.cancel = cancel
	}
	e.mu.Unlock()
	if terminal {
		// Terminal transition raced the worker start; release immediately.
		cancel()
	}
}

// setHistory replaces the conversation history (worker only, before the
// upstream call).
func (e *Entry) setHistory(history []types.ChatMessage) {
	e.mu.Lock()
	e.history = history
	e.mu.Unlock()
}

// appendAssistantTurn appends the assistant message after a clean finish.
func (e *Entry) appendAssistantTurn(content string) {
	e.mu.Lock()
	e.history = append(e.history, types.ChatMessage{Role: types.RoleAssistant, Content: content})
	e.mu.Unlock()
}

// snapshot is a consistent point-in-time view of an entry, read under the
// entry lock so a poller never observes a half-applied mutation.
type snapshot struct {
	Content      string
	State        types.StreamState
	ErrorMessage string
	History      []types.ChatMessage
}

// view returns a consistent snapshot. The history slice is copied so later
// worker appends cannot race readers.
func (e *Entry) view() snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := snapshot{
		Content:      e.buffer.String(),
		State:        e.state,
		ErrorMessage: e.errorMessage,
	}
	if len(e.history) > 0 {
		s.History = make([]types.ChatMessage, len(e.history))
		copy(s.History, e.history)
	}
	return s
}

// bufferLen returns the current accumulated length.
func (e *Entry) bufferLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer.Len()
}

// currentState returns the entry state.
func (e *Entry) currentState() types.StreamState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// idleFor returns how long ago the entry last saw activity.
func (e *Entry) idleFor(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Sub(e.lastActivity)
}

// clear drops the large fields so peak memory is bounded even if map removal
// is delayed. Called only by the single-flighted eviction path.
func (e *Entry) clear() {
	e.mu.Lock()
	e.buffer.Reset()
	e.history = nil
	e.mu.Unlock()
}
