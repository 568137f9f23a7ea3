package relay

import (
	"time"

	"github.com/quizmentor-ai/quizmentor/internal/event"
	"github.com/quizmentor-ai/quizmentor/pkg/types"
)

// runHeartbeatSweeper periodically force-terminates streaming entries whose
// worker has stopped updating them. It never touches buffers or histories;
// if it races a near-simultaneous worker completion, whichever terminal
// transition lands first wins and the other is a no-op.
func (r *Registry) runHeartbeatSweeper() {
	defer r.sweepers.Done()

	ticker := time.NewTicker(r.cfg.HeartbeatPeriod.Std())
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			r.sweepHeartbeat(now)
		}
	}
}

func (r *Registry) sweepHeartbeat(now time.Time) {
	for _, entry := range r.listEntries() {
		if entry.currentState() != types.StateStreaming {
			continue
		}
		if entry.idleFor(now) <= r.cfg.IdleThreshold.Std() {
			continue
		}
		if entry.transition(types.StateError, msgTimeout) {
			r.log.Warn().Str("stream", entry.id).Msg("idle stream timed out")
			r.publish(event.StreamError, entry, msgTimeout)
		}
	}
}

// runCleanupSweeper periodically evicts entries: terminal ones past the
// grace window, and any entry past the stale ceiling regardless of state.
func (r *Registry) runCleanupSweeper() {
	defer r.sweepers.Done()

	ticker := time.NewTicker(r.cfg.CleanupPeriod.Std())
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			r.sweepCleanup(now)
		}
	}
}

func (r *Registry) sweepCleanup(now time.Time) {
	for _, entry := range r.listEntries() {
		idle := entry.idleFor(now)
		terminal := entry.currentState().Terminal()

		switch {
		case idle > r.cfg.StaleCeiling.Std():
			r.evict(entry.id)
		case terminal && idle > r.cfg.GracePeriod.Std():
			r.evict(entry.id)
		}
	}
}

func (r *Registry) listEntries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	return entries
}
