package drain_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durocore/duro/internal/apply"
	"github.com/durocore/duro/internal/behavior"
	"github.com/durocore/duro/internal/codec"
	"github.com/durocore/duro/internal/drain"
	"github.com/durocore/duro/internal/testkit"
)

// pingClass fixture: Ping{} bumps a counter and, when Cascade is set,
// forwards an immediate or delayed signal to another entity — enough
// surface to exercise the scheduler's queue, dispatch, and retry paths
// without depending on a real-world Behavior.

const pingClass = "Ping"

type pingState string

func (s pingState) String() string { return string(s) }

type pingEntity struct {
	Count int
}

type ping struct {
	ForwardTo string
	FireAt    *int64
	Fail      bool
}

type pingMachine struct {
	id     string
	entity pingEntity
	exists bool
	other  []behavior.OtherSignal
}

func (m pingMachine) Class() string                             { return pingClass }
func (m pingMachine) ID() string                                 { return m.id }
func (m pingMachine) State() behavior.StateValue                 { return pingState("Active") }
func (m pingMachine) Current() (any, bool)                       { return m.entity, m.exists }
func (m pingMachine) PendingSelfSignals() []behavior.Event       { return nil }
func (m pingMachine) PendingOtherSignals() []behavior.OtherSignal { return m.other }

func (m pingMachine) Signal(event behavior.Event) (behavior.Machine, error) {
	next := m
	next.other = nil
	next.exists = true

	switch e := event.(type) {
	case behavior.Create:
		return next, nil
	case ping:
		if e.Fail {
			return nil, fmt.Errorf("ping fixture: deliberate failure")
		}
		next.entity.Count++
		if e.ForwardTo != "" {
			next.other = []behavior.OtherSignal{{
				ToClass: pingClass, ToID: e.ForwardTo, Event: ping{}, FireAt: e.FireAt,
			}}
		}
	default:
		return nil, fmt.Errorf("ping fixture: unhandled event %T", event)
	}
	return next, nil
}

type pingBehavior struct{}

func (pingBehavior) Create(id string) behavior.Machine { return pingMachine{id: id} }

func (pingBehavior) Rehydrate(id string, entity any, _ behavior.StateValue) behavior.Machine {
	e := entity.(*pingEntity)
	return pingMachine{id: id, entity: *e, exists: true}
}

func (pingBehavior) From(string) (behavior.StateValue, error) { return pingState("Active"), nil }

type harness struct {
	engine    *apply.Engine
	scheduler *drain.Scheduler
	executor  *testkit.SyncExecutor
	clock     *testkit.FixedClock
}

func newHarness(t *testing.T, errorHandler func(apply.Input, error)) *harness {
	t.Helper()
	st := testkit.OpenMemoryStore(t)
	clock := testkit.NewFixedClock(1_000)

	entitySerializer := codec.NewJSONSerializer()
	entitySerializer.Register(pingClass, func() any { return new(pingEntity) })

	eventSerializer := codec.NewJSONSerializer()
	eventSerializer.Register(codec.ClassName(ping{}), func() any { return new(ping) })

	engine := &apply.Engine{
		Behaviors:        behavior.MapFactory{pingClass: pingBehavior{}},
		EntitySerializer: entitySerializer,
		EventSerializer:  eventSerializer,
		Store:            st,
	}

	if errorHandler == nil {
		errorHandler = testkit.FailOnError(t)
	}

	executor := &testkit.SyncExecutor{}
	scheduler := drain.New(drain.Config{
		Engine:        engine,
		Store:         st,
		Clock:         clock,
		Executor:      executor,
		RetryInterval: time.Second,
		ErrorHandler:  errorHandler,
	})

	return &harness{engine: engine, scheduler: scheduler, executor: executor, clock: clock}
}

func (h *harness) publish(t *testing.T, id string, event ping) apply.Input {
	t.Helper()
	bytes, err := h.engine.EventSerializer.Serialize(event)
	require.NoError(t, err)
	eventClass := codec.ClassName(event)
	correlationID := "test-corr-" + id
	seq, err := h.engine.Store.Signals.Enqueue(context.Background(), h.engine.Store.DB(), pingClass, id, eventClass, bytes, correlationID)
	require.NoError(t, err)
	in := apply.Input{Seq: seq, Class: pingClass, ID: id, EventClass: eventClass, EventBytes: bytes, CorrelationID: correlationID}
	h.scheduler.Offer(in)
	return in
}

func (h *harness) readCount(t *testing.T, id string) int {
	t.Helper()
	bytes, _, ok, err := h.engine.Store.Entity.ReadEntity(context.Background(), h.engine.Store.DB(), pingClass, id)
	require.NoError(t, err)
	require.True(t, ok)
	v, err := h.engine.EntitySerializer.Deserialize(pingClass, bytes)
	require.NoError(t, err)
	return v.(*pingEntity).Count
}

// Offer synchronously drains a single signal through the SyncExecutor,
// leaving the entity updated by the time Offer returns.
func TestOfferDrainsSynchronouslyUnderSyncExecutor(t *testing.T) {
	h := newHarness(t, nil)
	h.publish(t, "p1", ping{})
	assert.Equal(t, 1, h.readCount(t, "p1"))
}

// A transition's own immediate outbound signal is dispatched back into
// the queue and drained within the same runLoop pass, no extra Offer
// needed from the caller.
func TestDispatchDrainsChainedImmediateSignal(t *testing.T) {
	h := newHarness(t, nil)
	h.publish(t, "p1", ping{ForwardTo: "p2"})

	assert.Equal(t, 1, h.readCount(t, "p1"))
	assert.Equal(t, 1, h.readCount(t, "p2"))
}

// A delayed outbound signal is scheduled with the executor rather than
// drained immediately; it only lands once the test fires the timer.
func TestDispatchSchedulesDelayedSignal(t *testing.T) {
	h := newHarness(t, nil)
	fireAt := h.clock.Now() + 5_000
	h.publish(t, "p1", ping{ForwardTo: "p2", FireAt: &fireAt})

	assert.Equal(t, 1, h.readCount(t, "p1"))
	_, _, ok, err := h.engine.Store.Entity.ReadEntity(context.Background(), h.engine.Store.DB(), pingClass, "p2")
	require.NoError(t, err)
	assert.False(t, ok, "delayed signal must not fire before the timer")

	h.executor.FireDue()
	assert.Equal(t, 1, h.readCount(t, "p2"))
}

// On an Apply Engine failure, runLoop stops without popping the failed
// signal and reschedules itself via AfterFunc instead of busy-spinning;
// firing that retry re-attempts the same signal.
func TestRunLoopReschedulesOnFailureInsteadOfSpinning(t *testing.T) {
	var handled []error
	h := newHarness(t, func(in apply.Input, err error) { handled = append(handled, err) })

	in := h.publish(t, "p1", ping{Fail: true})
	require.Len(t, handled, 1, "the failing apply must invoke the error handler exactly once per attempt")

	exists, err := h.engine.Store.Signals.Exists(context.Background(), h.engine.Store.DB(), in.Seq)
	require.NoError(t, err)
	assert.True(t, exists, "a failed signal must remain queued for retry")

	// Firing the retry timer with the same failing payload still queued
	// re-attempts it and fails again, rather than silently dropping it.
	h.executor.FireDue()
	assert.Len(t, handled, 2)
}

// Initialize recovers both halves of crash-time state: delayed rows are
// rescheduled at their fire-at, and any non-delayed row still sitting in
// the table (orphaned by a crash between enqueue and in-memory Offer) is
// drained immediately.
func TestInitializeRecoversBothQueues(t *testing.T) {
	st := testkit.OpenMemoryStore(t)
	clock := testkit.NewFixedClock(1_000)

	entitySerializer := codec.NewJSONSerializer()
	entitySerializer.Register(pingClass, func() any { return new(pingEntity) })
	eventSerializer := codec.NewJSONSerializer()
	eventSerializer.Register(codec.ClassName(ping{}), func() any { return new(ping) })

	engine := &apply.Engine{
		Behaviors:        behavior.MapFactory{pingClass: pingBehavior{}},
		EntitySerializer: entitySerializer,
		EventSerializer:  eventSerializer,
		Store:            st,
	}

	bytes, err := eventSerializer.Serialize(ping{})
	require.NoError(t, err)
	eventClass := codec.ClassName(ping{})
	_, err = st.Signals.Enqueue(context.Background(), st.DB(), pingClass, "orphan", eventClass, bytes, "test-corr-orphan")
	require.NoError(t, err)
	_, err = st.Delayed.Insert(context.Background(), st.DB(), pingClass, "scheduler", pingClass, "delayed1", eventClass, bytes, 6_000, "test-corr-delayed1")
	require.NoError(t, err)

	executor := &testkit.SyncExecutor{}
	scheduler := drain.New(drain.Config{
		Engine: engine, Store: st, Clock: clock, Executor: executor,
		RetryInterval: time.Second, ErrorHandler: testkit.FailOnError(t),
	})

	require.NoError(t, scheduler.Initialize(context.Background()))

	bytesOut, _, ok, err := st.Entity.ReadEntity(context.Background(), st.DB(), pingClass, "orphan")
	require.NoError(t, err)
	require.True(t, ok, "an orphaned non-delayed row must be drained by Initialize")
	v, err := entitySerializer.Deserialize(pingClass, bytesOut)
	require.NoError(t, err)
	assert.Equal(t, 1, v.(*pingEntity).Count)

	_, _, ok, err = st.Entity.ReadEntity(context.Background(), st.DB(), pingClass, "delayed1")
	require.NoError(t, err)
	assert.False(t, ok, "a delayed row must not fire before its scheduled time")

	executor.FireDue()
	_, _, ok, err = st.Entity.ReadEntity(context.Background(), st.DB(), pingClass, "delayed1")
	require.NoError(t, err)
	assert.True(t, ok, "firing the timer must deliver the recovered delayed row")
}
