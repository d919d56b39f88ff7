package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	queueSize   = 256
	sendTimeout = 5 * time.Second
)

// Recorder stamps events with a run ID and delivers them to a sink in the
// background. Delivery failures are logged and never reach the caller.
// A nil *Recorder discards everything.
type Recorder struct {
	sink     Sink
	runID    string
	pipeline string
	log      *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

func NewRecorder(sink Sink, pipeline string, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		sink:     sink,
		runID:    uuid.NewString(),
		pipeline: pipeline,
		log:      log,
		queue:    make(chan Event, queueSize),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	return r.runID
}

// Record queues e. When the queue is full the event is dropped.
func (r *Recorder) Record(e Event) {
	if r == nil {
		return
	}
	e.RunID = r.runID
	e.Pipeline = r.pipeline
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.log.Warn("history queue full, event dropped", "type", e.Type, "name", e.Name)
	}
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := r.sink.Send(ctx, e); err != nil {
			r.log.Warn("history sink send failed", "type", e.Type, "name", e.Name, "error", err)
		}
		cancel()
	}
}

// Close flushes queued events and closes the sink when it supports it.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
	if c, ok := r.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
