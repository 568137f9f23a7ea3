package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/quizmentor-ai/quizmentor/internal/event"
	"github.com/quizmentor-ai/quizmentor/internal/interaction"
	"github.com/quizmentor-ai/quizmentor/internal/logging"
	"github.com/quizmentor-ai/quizmentor/internal/upstream"
	"github.com/quizmentor-ai/quizmentor/pkg/types"
)

// Errors surfaced synchronously to the HTTP layer.
var (
	ErrNotFound     = errors.New("stream not found")
	ErrUnauthorized = errors.New("not the stream owner")
	ErrShuttingDown = errors.New("relay is shutting down")
)

// DeltaStream is the consumed half of one upstream completion call.
type DeltaStream interface {
	Recv() (upstream.Delta, error)
	Close() error
}

// Completer performs one upstream chat-completion call. It is the relay's
// only window into the provider.
type Completer interface {
	Stream(ctx context.Context, messages []types.ChatMessage) (DeltaStream, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, messages []types.ChatMessage) (DeltaStream, error)

func (f CompleterFunc) Stream(ctx context.Context, messages []types.ChatMessage) (DeltaStream, error) {
	return f(ctx, messages)
}

// Recorder persists one completed interaction. Failures are logged and
// swallowed by the worker, never propagated.
type Recorder interface {
	Record(ctx context.Context, rec interaction.Record) error
}

// ContextBuilder renders the system message seeding a fresh stream from
// durable domain data. It must be deterministic: the relay rebuilds the
// context for every new entry whose client history lacks a system message.
type ContextBuilder interface {
	SystemMessage(subjectID, selectedAnswer string) types.ChatMessage
}

// Deps are the registry's external collaborators.
type Deps struct {
	Completer Completer
	Recorder  Recorder
	Context   ContextBuilder
	Bus       *event.Bus
	// Model is recorded in interaction logs.
	Model string
}

// Registry is the process-wide table of stream entries. It owns the worker
// goroutines and the two background sweepers, and is the only shared mutable
// resource in the relay.
type Registry struct {
	cfg  types.RelayConfig
	deps Deps
	log  zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry

	evictions singleflight.Group

	workers  sync.WaitGroup
	sweepers sync.WaitGroup
	stopCh   chan struct{}

	shutdownOnce sync.Once
	shuttingDown bool
}

// NewRegistry creates a stream registry. Call Start to launch the sweepers
// and Shutdown to drain.
func NewRegistry(cfg types.RelayConfig, deps Deps) *Registry {
	return &Registry{
		cfg:     cfg.WithDefaults(),
		deps:    deps,
		log:     logging.Component("relay"),
		entries: make(map[string]*Entry),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the heartbeat and cleanup sweepers.
func (r *Registry) Start() {
	r.sweepers.Add(2)
	go r.runHeartbeatSweeper()
	go r.runCleanupSweeper()
	r.log.Info().
		Dur("idleThreshold", r.cfg.IdleThreshold.Std()).
		Dur("gracePeriod", r.cfg.GracePeriod.Std()).
		Dur("maxStreamDuration", r.cfg.MaxStreamDuration.Std()).
		Msg("stream registry started")
}

// StartStream creates a new entry for one logical exchange and spawns its
// worker. Any other live entry for the same requester and subject is marked
// aborted first so two workers never answer the same question thread.
func (r *Registry) StartStream(ctx context.Context, requesterID string, req types.StartStreamRequest) (string, error) {
	if requesterID == "" || req.SubjectID == "" {
		return "", fmt.Errorf("requester and subject are required")
	}

	history := req.ConversationHistory
	if len(history) > 0 && !types.HasSystemMessage(history) {
		// A history without its system message is invalid; drop it and
		// rebuild the context from durable data.
		r.log.Warn().Str("subject", req.SubjectID).Msg("discarding conversation history without system message")
		history = nil
	}

	userTurn := req.UserMessage
	if userTurn == "" {
		userTurn = fmt.Sprintf("I selected %q. Please explain whether this is correct and why.", req.SelectedAnswer)
	}
	if len(history) == 0 {
		history = []types.ChatMessage{r.deps.Context.SystemMessage(req.SubjectID, req.SelectedAnswer)}
	}
	history = append(history, types.ChatMessage{Role: types.RoleUser, Content: userTurn})

	id := newStreamID(requesterID, req.SubjectID)
	entry := newEntry(id, requesterID, req.SubjectID)
	entry.setHistory(history)

	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return "", ErrShuttingDown
	}
	// Supersede concurrent streams for the same logical subject.
	var superseded []*Entry
	for _, other := range r.entries {
		if other.requesterID == requesterID && other.subjectID == req.SubjectID && !other.currentState().Terminal() {
			superseded = append(superseded, other)
		}
	}
	if _, exists := r.entries[id]; exists {
		// ULIDs make this unreachable in practice; refuse re-creation anyway.
		r.mu.Unlock()
		return "", fmt.Errorf("stream id collision")
	}
	r.entries[id] = entry
	r.workers.Add(1)
	r.mu.Unlock()

	for _, other := range superseded {
		if other.transition(types.StateAborted, msgSuperseded) {
			r.publish(event.StreamAborted, other, msgSuperseded)
		}
	}

	go r.runWorker(entry, userTurn)
	r.publish(event.StreamStarted, entry, "")
	return id, nil
}

// Poll returns the buffer delta past the client-held cursor along with the
// entry's current state. It never blocks and is safe to call any number of
// times with repeated or stale cursors.
func (r *Registry) Poll(id string, cursor int) (types.PollResponse, error) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return types.PollResponse{}, ErrNotFound
	}

	snap := entry.view()
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(snap.Content) {
		// A cursor past the end yields an empty delta, never an error.
		cursor = len(snap.Content)
	}

	resp := types.PollResponse{
		Content:    snap.Content,
		NewContent: snap.Content[cursor:],
		Cursor:     len(snap.Content),
		Done:       snap.State.Terminal(),
		Error:      snap.ErrorMessage,
	}
	if snap.State == types.StateDone {
		resp.ConversationHistory = snap.History
	}

	// A poller observing a long-finished entry triggers the same
	// single-flighted eviction the sweeper would.
	if snap.State.Terminal() && entry.idleFor(time.Now()) > r.cfg.GracePeriod.Std() {
		go r.evict(id)
	}

	return resp, nil
}

// Abort cancels a live stream. Ownership is verified against the requester
// embedded in the id; aborting an already terminal entry is a no-op.
func (r *Registry) Abort(id, requesterID string) error {
	owner, _, err := parseStreamID(id)
	if err != nil {
		return ErrNotFound
	}
	if owner != requesterID {
		return ErrUnauthorized
	}

	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	if entry.transition(types.StateAborted, msgAborted) {
		r.publish(event.StreamAborted, entry, msgAborted)
	}
	return nil
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// evict clears an entry's large fields and removes it from the registry.
// Single-flighted per id: concurrent sweeps and poll-triggered cleanups
// collapse into one removal. Returns true if this eviction removed the entry.
func (r *Registry) evict(id string) bool {
	removed, _, _ := r.evictions.Do(id, func() (any, error) {
		r.mu.Lock()
		entry, ok := r.entries[id]
		r.mu.Unlock()
		if !ok {
			return false, nil
		}

		// Entries still streaming are force-terminated so their worker stops
		// writing before the buffer is dropped.
		if entry.transition(types.StateError, msgExpired) {
			r.publish(event.StreamError, entry, msgExpired)
		}

		// Clear large fields first to bound peak memory even if removal is
		// delayed.
		entry.clear()

		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()

		r.publish(event.StreamEvicted, entry, "")
		r.log.Debug().Str("stream", id).Msg("entry evicted")
		return true, nil
	})
	return removed.(bool)
}

// Shutdown stops the sweepers, force-terminates all live entries and waits
// for workers to exit, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		r.mu.Lock()
		r.shuttingDown = true
		r.mu.Unlock()
		close(r.stopCh)
	})
	r.sweepers.Wait()

	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	for _, e := range entries {
		if e.transition(types.StateError, msgShutdown) {
			r.publish(event.StreamError, e, msgShutdown)
		}
	}

	done := make(chan struct{})
	go func() {
		r.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out waiting for workers: %w", ctx.Err())
	}
}

func (r *Registry) publish(t event.EventType, e *Entry, errMsg string) {
	if r.deps.Bus == nil {
		return
	}
	r.deps.Bus.Publish(event.Event{Type: t, Data: event.StreamData{
		StreamID:    e.id,
		RequesterID: e.requesterID,
		SubjectID:   e.subjectID,
		Error:       errMsg,
	}})
}
