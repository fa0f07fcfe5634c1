package history

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cascade-labs/cascade/internal/events"
)

// Recorder subscribes to the event bus and persists every lifecycle event
// it receives. Persistence is best-effort: a write failure is logged and
// never propagates back into the engine.
type Recorder struct {
	store  *Store
	logger *slog.Logger

	cancel func()
	done   chan struct{}
	once   sync.Once
}

// NewRecorder creates a recorder writing to store. A nil logger falls back
// to slog.Default().
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start subscribes to the bus and begins draining events in a background
// goroutine. Call Stop to unsubscribe and wait for the drain to finish.
func (r *Recorder) Start(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe(events.Filter{}, 256)
	r.cancel = cancel

	go func() {
		defer close(r.done)
		for ev := range ch {
			if err := r.store.AppendEvent(ctx, ev); err != nil {
				r.logger.Warn("failed to persist run event",
					"run_id", ev.RunID,
					"type", ev.Type,
					"error", err,
				)
			}
		}
	}()
}

// Stop unsubscribes from the bus and waits until buffered events have been
// written. Safe to call more than once.
func (r *Recorder) Stop() {
	r.once.Do(func() {
		if r.cancel == nil {
			return
		}
		r.cancel()
		<-r.done
	})
}
