// Package telemetry records proxy outcomes into the telemetry store without
// ever touching the request path. Handlers submit events after the response
// is built; a fixed pool of workers drains a bounded queue. When the queue is
// full the event is dropped and counted, and write errors are logged only.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Options sizes the sink.
type Options struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// Sink is a detached, best-effort writer.
type Sink struct {
	db   *gorm.DB
	opts Options

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

// NewSink builds a sink over db and starts its workers. A nil db yields a
// sink that accepts and discards every event.
func NewSink(db *gorm.DB, opts Options) *Sink {
	if opts.QueueSize < 1 {
		opts.QueueSize = 1024
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	s := &Sink{
		db:    db,
		opts:  opts,
		queue: make(chan Event, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Submit enqueues e and returns immediately. It reports false when the event
// was dropped because the queue is full or the sink has shut down.
func (s *Sink) Submit(e Event) bool {
	if e == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		events.WithLabelValues(e.Kind(), "dropped").Inc()
		return false
	}
	select {
	case s.queue <- e:
		queueDepth.Set(float64(len(s.queue)))
		return true
	default:
		events.WithLabelValues(e.Kind(), "dropped").Inc()
		log.Warn().Str("kind", e.Kind()).Msg("telemetry queue full, event dropped")
		return false
	}
}

// Len returns the number of queued events.
func (s *Sink) Len() int { return len(s.queue) }

// Shutdown stops intake and waits for queued events to be written, or for ctx
// to end. Events still queued when ctx ends are lost.
func (s *Sink) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		log.Warn().Int("pending", len(s.queue)).Msg("telemetry drain interrupted")
		return ctx.Err()
	}
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for e := range s.queue {
		queueDepth.Set(float64(len(s.queue)))
		s.write(e)
	}
}

func (s *Sink) write(e Event) {
	defer func() {
		if r := recover(); r != nil {
			events.WithLabelValues(e.Kind(), "failed").Inc()
			log.Error().Interface("panic", r).Str("kind", e.Kind()).Msg("telemetry write panicked")
		}
	}()
	if s.db == nil {
		events.WithLabelValues(e.Kind(), "dropped").Inc()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()
	if err := e.Write(ctx, s.db); err != nil {
		events.WithLabelValues(e.Kind(), "failed").Inc()
		log.Warn().Err(err).Str("kind", e.Kind()).Msg("telemetry write failed")
		return
	}
	events.WithLabelValues(e.Kind(), "written").Inc()
}
