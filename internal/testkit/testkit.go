// Package testkit collects deterministic test doubles for the runtime's
// external dependencies: a settable clock, an in-memory SQLite store, and
// an error handler that fails a test immediately instead of logging and
// retrying.
package testkit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/durocore/duro/internal/apply"
	"github.com/durocore/duro/internal/drain"
	"github.com/durocore/duro/internal/sqlcatalog"
	"github.com/durocore/duro/internal/store"
)

// FixedClock is a clockwork.Clock a test can advance explicitly, so
// delayed-signal fire-at math doesn't depend on wall-clock timing.
type FixedClock struct {
	mu  sync.Mutex
	now int64
}

// NewFixedClock returns a FixedClock starting at now.
func NewFixedClock(now int64) *FixedClock {
	return &FixedClock{now: now}
}

// Now returns the clock's current value.
func (c *FixedClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by deltaMs and returns the new value.
func (c *FixedClock) Advance(deltaMs int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += deltaMs
	return c.now
}

// OpenMemoryStore opens a fresh in-memory SQLite store with the schema
// bootstrapped, closing it automatically at test cleanup. The DSN is a
// fixed shared-cache in-memory database, so stores open at the same time
// in one process share its tables; it is discarded when the last of them
// closes, so a call made after earlier stores were closed starts empty.
func OpenMemoryStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open("sqlite3", "file::memory:?cache=shared&_fk=1", sqlcatalog.Default())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap memory store: %v", err)
	}
	return st
}

// SyncExecutor is a drain.Executor that runs the drain worker synchronously
// on the calling goroutine and defers every AfterFunc callback until a test
// explicitly calls FireDue, so scenario tests can assert on the queue's
// state between an apply and its delayed follow-up without racing a real
// timer.
type SyncExecutor struct {
	mu      sync.Mutex
	pending []func()
}

// Execute runs f synchronously, in the calling goroutine.
func (e *SyncExecutor) Execute(f func()) { f() }

// AfterFunc records f to run on the next FireDue call, ignoring d.
func (e *SyncExecutor) AfterFunc(d time.Duration, f func()) drain.Timer {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := &fakeTimer{}
	e.pending = append(e.pending, func() {
		if !t.stopped() {
			f()
		}
	})
	return t
}

// FireDue runs every callback recorded since the last FireDue call.
func (e *SyncExecutor) FireDue() {
	e.mu.Lock()
	due := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, f := range due {
		f()
	}
}

type fakeTimer struct {
	mu      sync.Mutex
	isStopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasRunning := !t.isStopped
	t.isStopped = true
	return wasRunning
}

func (t *fakeTimer) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isStopped
}

// FailOnError returns a drain.ErrorHandler that fails t immediately,
// for tests that expect every apply cycle to succeed and want a loud
// signal the moment one doesn't.
func FailOnError(t *testing.T) func(in apply.Input, err error) {
	t.Helper()
	return func(in apply.Input, err error) {
		t.Errorf("apply failed for %s/%s: %v", in.Class, in.ID, err)
	}
}

// RethrowingErrorHandler panics with the apply error instead of logging
// and retrying, for tests that deliberately induce a failure and want it
// to surface at the call site rather than disappear into the default
// log-and-retry behavior.
func RethrowingErrorHandler(in apply.Input, err error) {
	panic(fmt.Sprintf("apply failed for %s/%s: %v", in.Class, in.ID, err))
}
