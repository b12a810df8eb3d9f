// Package drain implements the Drain Scheduler: single-worker serialization
// over a process-local in-memory queue of numbered signals, guarded by an
// atomic work-indicator counter so publishing never blocks and at most one
// worker runs the Apply Engine at a time.
package drain

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/durocore/duro/internal/apply"
	"github.com/durocore/duro/internal/clockwork"
	"github.com/durocore/duro/internal/store"
)

// Timer is the subset of *time.Timer a Scheduler needs; it exists so tests
// can substitute a deterministic executor.
type Timer interface {
	Stop() bool
}

// Executor hosts both the drain worker and delayed-signal timers. The
// default, GoExecutor, runs the worker on its own goroutine and schedules
// timers with time.AfterFunc; tests supply a synchronous stand-in so
// assertions don't race a background goroutine.
type Executor interface {
	Execute(f func())
	AfterFunc(d time.Duration, f func()) Timer
}

// GoExecutor is the production Executor: goroutines and time.AfterFunc.
type GoExecutor struct{}

func (GoExecutor) Execute(f func()) { go f() }

func (GoExecutor) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ErrorHandler is consulted whenever the Apply Engine fails a signal. The
// scheduler always recovers by rescheduling; ErrorHandler exists purely for
// observability (logging, metrics), matching the Java teacher's
// non-throwing error-handler default.
type ErrorHandler func(in apply.Input, err error)

func defaultErrorHandler(in apply.Input, err error) {
	slog.Error("apply failed", "class", in.Class, "id", in.ID, "err", err)
}

// Scheduler owns the in-memory FIFO queue and the atomic work indicator.
// Offer is non-blocking from every caller's perspective: it appends to the
// queue and, only on the zero-to-nonzero transition, hands the drain loop
// to the Executor.
type Scheduler struct {
	engine        *apply.Engine
	store         *store.Store
	clock         clockwork.Clock
	executor      Executor
	retryInterval time.Duration
	errorHandler  ErrorHandler

	mu    sync.Mutex
	queue []apply.Input

	wip atomic.Int32
}

// Config collects the Scheduler's dependencies.
type Config struct {
	Engine        *apply.Engine
	Store         *store.Store
	Clock         clockwork.Clock
	Executor      Executor
	RetryInterval time.Duration
	ErrorHandler  ErrorHandler
}

// New builds a Scheduler from cfg, filling in a GoExecutor and the default
// error handler if left unset.
func New(cfg Config) *Scheduler {
	if cfg.Executor == nil {
		cfg.Executor = GoExecutor{}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	return &Scheduler{
		engine:        cfg.Engine,
		store:         cfg.Store,
		clock:         cfg.Clock,
		executor:      cfg.Executor,
		retryInterval: cfg.RetryInterval,
		errorHandler:  cfg.ErrorHandler,
	}
}

// Offer appends in to the tail of the in-memory queue and ensures a drain
// worker is running. Safe to call from any goroutine, including from
// within the drain worker itself (a transition's own outbound signals are
// offered this way once their transaction has committed).
func (s *Scheduler) Offer(in apply.Input) {
	s.mu.Lock()
	s.queue = append(s.queue, in)
	s.mu.Unlock()
	s.drain()
}

// ScheduleDelayed arranges for in to be Offered once its FireAt has
// elapsed. Used both for freshly produced delayed signals and for
// rescheduling rows recovered at startup.
func (s *Scheduler) ScheduleDelayed(in apply.Input) Timer {
	delay := time.Duration(in.FireAt-s.clock.Now()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	return s.executor.AfterFunc(delay, func() {
		s.Offer(in)
	})
}

// Initialize performs startup recovery: every delayed row is rescheduled at
// its fire-at, and every non-delayed row is offered immediately. The
// non-delayed half closes the crash-recovery gap the source implementation
// leaves open (see the design notes on the signal-queue-replay question);
// without it, a signal enqueued just before a crash would sit in the table
// forever, invisible to the in-memory queue, until some unrelated publish
// happened to wake the drain loop.
func (s *Scheduler) Initialize(ctx context.Context) error {
	delayed, err := s.store.Delayed.SelectAll(ctx, s.store.DB())
	if err != nil {
		return err
	}
	for _, d := range delayed {
		s.ScheduleDelayed(apply.Input{
			Seq: d.Seq, Class: d.Class, ID: d.ID,
			EventClass: d.EventClass, EventBytes: d.EventBytes,
			Delayed: true, FireAt: d.FireAt,
			CorrelationID: d.CorrelationID,
		})
	}

	pending, err := s.store.Signals.SelectAll(ctx, s.store.DB())
	if err != nil {
		return err
	}
	for _, p := range pending {
		s.Offer(apply.Input{
			Seq: p.Seq, Class: p.Class, ID: p.ID,
			EventClass: p.EventClass, EventBytes: p.EventBytes,
			CorrelationID: p.CorrelationID,
		})
	}
	return nil
}

// drain is the atomic work-indicator gate. Only the increment that observes
// zero starts the worker; every other concurrent Offer just adds to the
// indicator, which the running worker will notice on its next zero-check
// and loop again instead of exiting.
func (s *Scheduler) drain() {
	if s.wip.Add(1) == 1 {
		s.executor.Execute(s.runLoop)
	}
}

// runLoop drains the queue to empty, publishing outbound signals as each
// signal commits, until it observes the work indicator settle at zero. On
// an Apply Engine failure it stops entirely — the failed signal stays at
// the head of the queue — and schedules itself to resume after
// retryInterval, so a persistent failure (e.g. the database is down)
// degrades to periodic retries instead of a spin loop.
func (s *Scheduler) runLoop() {
	missed := int32(1)
	for {
		for {
			in, ok := s.peek()
			if !ok {
				break
			}

			result, err := s.engine.Apply(context.Background(), in)
			if err != nil {
				s.errorHandler(in, err)
				retry := s.retryInterval
				if retry < 0 {
					retry = 0
				}
				s.executor.AfterFunc(retry, s.runLoop)
				return
			}

			s.pop()
			s.dispatch(result)
		}

		missed = s.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

// dispatch offers every freshly produced non-delayed signal and schedules
// every delayed one. Offering back into the same queue this loop is
// draining is safe: the append happens under s.mu and the next peek picks
// it up in order, no recursive drain() call needed since this worker is
// already the active one.
func (s *Scheduler) dispatch(result apply.Result) {
	for _, sig := range result.ToOther {
		s.mu.Lock()
		s.queue = append(s.queue, apply.Input{
			Seq: sig.Seq, Class: sig.Class, ID: sig.ID,
			EventClass: sig.EventClass, EventBytes: sig.EventBytes,
			CorrelationID: sig.CorrelationID,
		})
		s.mu.Unlock()
	}
	for _, sig := range result.ToOtherAt {
		s.ScheduleDelayed(apply.Input{
			Seq: sig.Seq, Class: sig.Class, ID: sig.ID,
			EventClass: sig.EventClass, EventBytes: sig.EventBytes,
			Delayed: true, FireAt: sig.FireAt,
			CorrelationID: sig.CorrelationID,
		})
	}
}

func (s *Scheduler) peek() (apply.Input, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return apply.Input{}, false
	}
	return s.queue[0], true
}

func (s *Scheduler) pop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		s.queue = s.queue[1:]
	}
}
