package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scanguard/internal/metrics"
)

const defaultQueueSize = 256

// Recorder hands events to a Sink from a single background writer. Record
// never blocks: when the queue is full the event is dropped and counted.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	queue   chan Event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
}

func NewRecorder(sink Sink, queueSize int, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sink:    sink,
		logger:  logger,
		queue:   make(chan Event, queueSize),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
	}
	go r.run()
	return r
}

// Record enqueues e and reports whether it was accepted.
func (r *Recorder) Record(e Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- e:
		return true
	default:
		metrics.AuditDropped.Inc()
		r.logger.Warn("audit queue full, dropping event", "type", e.Type)
		return false
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.Append(ctx, e); err != nil {
			r.logger.Warn("audit write failed", "type", e.Type, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}
