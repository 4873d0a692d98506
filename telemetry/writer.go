package telemetry

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Sink consumes records on the writer goroutine.
type Sink interface {
	Write(Record) error
	Close() error
}

// Writer queues records without bound and hands them to its sinks on its own
// goroutine, so Log never blocks the control loop.
type Writer struct {
	sinks  []Sink
	logger *zap.Logger

	mu     sync.Mutex
	queue  []Record
	wake   chan struct{}
	failed map[int]bool
}

// NewWriter returns a writer feeding sinks.
func NewWriter(logger *zap.Logger, sinks ...Sink) *Writer {
	return &Writer{
		sinks:  sinks,
		logger: logger.Named("telemetry"),
		wake:   make(chan struct{}, 1),
		failed: make(map[int]bool),
	}
}

// Log queues r.
func (w *Writer) Log(r Record) {
	w.mu.Lock()
	w.queue = append(w.queue, r)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Pending is the number of queued records.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Run writes queued records until ctx is done, then writes what is left and
// closes the sinks.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.flush()
			var err error
			for _, s := range w.sinks {
				err = multierr.Append(err, s.Close())
			}
			return err
		case <-w.wake:
			w.flush()
		}
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	q := w.queue
	w.queue = nil
	w.mu.Unlock()

	for _, r := range q {
		for i, s := range w.sinks {
			err := s.Write(r)
			// Log once per outage.
			switch {
			case err != nil && !w.failed[i]:
				w.logger.Warn("telemetry sink failed", zap.Int("sink", i), zap.Error(err))
				w.failed[i] = true
			case err == nil && w.failed[i]:
				w.logger.Info("telemetry sink recovered", zap.Int("sink", i))
				w.failed[i] = false
			}
		}
	}
}
