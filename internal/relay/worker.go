package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/quizmentor-ai/quizmentor/internal/event"
	"github.com/quizmentor-ai/quizmentor/internal/interaction"
	"github.com/quizmentor-ai/quizmentor/pkg/types"
)

// runWorker owns the entire lifecycle of one entry from creation to a
// terminal state. Exactly one worker runs per entry id.
func (r *Registry) runWorker(entry *Entry, userTurn string) {
	defer r.workers.Done()

	start := time.Now()
	maxDuration := r.cfg.MaxStreamDuration.Std()

	// The deadline backs the worker's self-driven absolute cap; external
	// terminal transitions (abort, heartbeat, shutdown) cancel it so a
	// blocked upstream read is released promptly.
	ctx, cancel := context.WithTimeout(context.Background(), maxDuration)
	defer cancel()
	entry.setCancel(cancel)

	messages := entry.view().History

	stream, err := r.deps.Completer.Stream(ctx, messages)
	if err != nil {
		r.finishWithError(entry, start, messages, userTurn, "", err)
		return
	}
	// Close is idempotent; this backstops every exit path below.
	defer stream.Close()

	var reply strings.Builder
	for {
		if time.Since(start) > maxDuration {
			// A slow-but-steady stream must not run forever.
			if entry.transition(types.StateError, msgTimeout) {
				r.publish(event.StreamError, entry, msgTimeout)
				r.record(entry, start, messages, userTurn, reply.String(), msgTimeout)
			}
			return
		}

		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if entry.currentState().Terminal() {
				// Abort or sweeper timeout landed first; its transition
				// already cancelled our context. Nothing left to report.
				return
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				if entry.transition(types.StateError, msgTimeout) {
					r.publish(event.StreamError, entry, msgTimeout)
					r.record(entry, start, messages, userTurn, reply.String(), msgTimeout)
				}
				return
			}
			r.finishWithError(entry, start, messages, userTurn, reply.String(), err)
			return
		}

		if delta.Content != "" {
			reply.WriteString(delta.Content)
			if !entry.append(delta.Content) {
				// Terminal state landed between reads (cooperative abort);
				// stop consuming upstream within this iteration.
				return
			}
		}
	}

	// Clean upstream finish: persist the exchange, extend the conversation,
	// then transition. Persistence is best-effort and never blocks DONE.
	response := reply.String()
	r.record(entry, start, messages, userTurn, response, "")
	entry.appendAssistantTurn(response)
	if entry.transition(types.StateDone, "") {
		r.publish(event.StreamDone, entry, "")
	}
}

// finishWithError moves the entry to ERROR with a user-safe message, logging
// the real cause and still attempting an error-flavored interaction record.
func (r *Registry) finishWithError(entry *Entry, start time.Time, messages []types.ChatMessage, userTurn, partial string, cause error) {
	r.log.Error().Err(cause).Str("stream", entry.id).Msg("stream worker failed")
	if entry.transition(types.StateError, msgGeneric) {
		r.publish(event.StreamError, entry, msgGeneric)
		r.record(entry, start, messages, userTurn, partial, msgGeneric)
	}
}

// record persists the interaction best-effort. A logging failure must not
// mask the stream outcome nor crash the worker.
func (r *Registry) record(entry *Entry, start time.Time, messages []types.ChatMessage, userTurn, response, errMsg string) {
	if r.deps.Recorder == nil {
		return
	}

	var systemMessage string
	if len(messages) > 0 && messages[0].Role == types.RoleSystem {
		systemMessage = messages[0].Content
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.deps.Recorder.Record(ctx, interaction.Record{
		RequesterID:   entry.requesterID,
		SubjectID:     entry.subjectID,
		Model:         r.deps.Model,
		SystemMessage: systemMessage,
		UserMessage:   userTurn,
		AIResponse:    response,
		DurationMS:    time.Since(start).Milliseconds(),
		Error:         errMsg,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("stream", entry.id).Msg("failed to persist interaction")
	}
}
