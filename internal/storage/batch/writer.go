// Package batch implements the background write engine shared by the
// SQL storage backends: a condition-gated FIFO of pending insert
// batches with back-pressure, a single writer goroutine, and a
// sentinel-based flush barrier.
package batch

import (
	"sync"

	"go.uber.org/zap"
)

// entry is one queued batch. An entry with no items is a flush-barrier
// sentinel: it is dequeued in order but never flushed.
type entry[T any] struct {
	items   []T
	removed bool
}

// Writer owns a dedicated goroutine that merges queued batches into
// durable storage via the flush callback. Exactly one Writer mutates
// the store's tables while batch mode is active.
type Writer[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []*entry[T]
	busy    bool
	max     int
	stopped bool
	done    chan struct{}

	flush  func(items []T) error
	logger *zap.Logger
}

// NewWriter starts the background writer. flush is called once per
// non-empty batch; its error is logged and the batch dropped, and
// subsequent batches continue.
func NewWriter[T any](maxPending int, flush func(items []T) error, logger *zap.Logger) *Writer[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer[T]{
		max:    maxPending,
		done:   make(chan struct{}),
		flush:  flush,
		logger: logger,
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Enqueue adds a batch to the pending queue, blocking while the queue
// is at capacity (back-pressure). The batch slice is owned by the
// writer after the call.
func (w *Writer[T]) Enqueue(items []T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.pending) >= w.max {
		w.logger.Debug("pending batch queue is full, waiting for space")
		w.cond.Wait()
	}
	w.pending = append(w.pending, &entry[T]{items: items})
	w.logger.Debug("queued batch", zap.Int("items", len(items)))
	w.cond.Broadcast()
}

// Wait is the flush barrier: it enqueues an empty sentinel batch and
// returns once the sentinel has been dequeued, i.e. once every batch
// accepted before the call is durable. Short-circuits when the writer
// is idle and the queue is empty.
func (w *Writer[T]) Wait() {
	w.mu.Lock()
	if len(w.pending) == 0 && !w.busy {
		w.mu.Unlock()
		return
	}
	for len(w.pending) >= w.max {
		w.cond.Wait()
	}
	sentinel := &entry[T]{}
	w.pending = append(w.pending, sentinel)
	w.cond.Broadcast()
	for !sentinel.removed {
		w.cond.Wait()
	}
	w.mu.Unlock()
}

// Pending returns the number of queued batches.
func (w *Writer[T]) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Stop processes all pending batches, then terminates the writer
// goroutine and waits for it to exit. Safe to call more than once.
func (w *Writer[T]) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.stopped = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
}

func (w *Writer[T]) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.pending) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if len(w.pending) == 0 {
			// Stopped with nothing left to process.
			w.mu.Unlock()
			return
		}
		head := w.pending[0]
		w.pending = w.pending[1:]
		w.busy = true
		w.mu.Unlock()

		if len(head.items) > 0 {
			if err := w.flush(head.items); err != nil {
				// The batch is lost; an operator must consult logs.
				w.logger.Error("failed to merge batch into database",
					zap.Int("items", len(head.items)),
					zap.Error(err))
			} else {
				w.logger.Debug("processed queued batch", zap.Int("items", len(head.items)))
			}
		}

		w.mu.Lock()
		head.removed = true
		w.busy = false
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}
