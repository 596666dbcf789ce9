package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultWriteTimeout = 5 * time.Second

// AsyncRecorder hands entries to a single background worker so callers are
// never blocked by the sink. When the buffer is full the entry is dropped
// and a warning is logged.
type AsyncRecorder struct {
	sink    Sink
	entries chan Entry
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewAsyncRecorder(sink Sink, buffer int) *AsyncRecorder {
	if buffer <= 0 {
		buffer = 256
	}
	r := &AsyncRecorder{
		sink:    sink,
		entries: make(chan Entry, buffer),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *AsyncRecorder) Record(_ context.Context, entry Entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	select {
	case r.entries <- entry:
	default:
		r.dropped.Add(1)
		log.Warn().
			Str("action", entry.Action).
			Str("resource_id", entry.ResourceID).
			Msg("audit: buffer full, entry dropped")
	}
}

// Dropped returns the number of entries discarded because the buffer was full.
func (r *AsyncRecorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *AsyncRecorder) run() {
	defer close(r.done)
	for entry := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
		if err := r.sink.Write(ctx, entry); err != nil {
			log.Error().
				Err(err).
				Str("action", entry.Action).
				Str("resource_id", entry.ResourceID).
				Msg("audit: failed to write entry")
		}
		cancel()
	}
}

// Close stops accepting entries and waits for the worker to drain the
// buffer, or for ctx to expire.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.entries)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
