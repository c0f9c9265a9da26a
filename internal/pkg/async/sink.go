// Package async provides a bounded worker sink for fire-and-forget side
// effects. Tasks run off the request path; failures and panics are logged and
// never propagate to the caller.
package async

import (
	"log/slog"
	"sync"
)

type task struct {
	name    string
	execute func() error
}

// Sink runs tasks on a fixed pool of workers with catch-and-log error
// handling. It is the dispatch point for goal evaluation and visitor profile
// updates, which must never fail or delay the ingestion response.
type Sink struct {
	logger *slog.Logger
	tasks  chan task
	wg     sync.WaitGroup

	// mu serializes enqueues against Stop closing the queue, so a Go racing
	// a shutdown can never send on the closed channel.
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewSink starts workerCount workers draining the task queue.
func NewSink(logger *slog.Logger, workerCount, queueSize int) *Sink {
	if workerCount <= 0 {
		workerCount = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	s := &Sink{
		logger: logger,
		tasks:  make(chan task, queueSize),
	}

	for i := 0; i < workerCount; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for t := range s.tasks {
		s.run(t)
	}
}

func (s *Sink) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in async task",
				slog.String("task", t.name),
				slog.Any("panic", r))
		}
	}()

	if err := t.execute(); err != nil {
		s.logger.Error("Async task failed",
			slog.String("task", t.name),
			slog.Any("error", err))
	}
}

// Go enqueues a task. When the queue is full the task runs inline on the
// caller's goroutine rather than being dropped; side effects are best-effort
// but not optional. After Stop, Go is a no-op.
func (s *Sink) Go(name string, execute func() error) {
	t := task{name: name, execute: execute}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.tasks <- t:
		s.mu.Unlock()
		return
	default:
	}
	s.mu.Unlock()

	s.run(t)
}

// Start satisfies the background worker interface; workers are already
// running from construction.
func (s *Sink) Start() error {
	return nil
}

// Stop closes the queue and waits for the workers to finish draining it.
// Tasks already enqueued still run; Go becomes a no-op.
func (s *Sink) Stop() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.tasks)
		s.mu.Unlock()
	})
	s.wg.Wait()
}
