package apply_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durocore/duro/internal/apply"
	"github.com/durocore/duro/internal/behavior"
	"github.com/durocore/duro/internal/codec"
	"github.com/durocore/duro/internal/testkit"
)

// A minimal Counter fixture exercises the Apply Engine directly, without
// going through a full drain scheduler or a real-world Behavior: an
// entity holding a running total, with events to bump it, cascade a
// second self-signal, emit a cross-entity signal, schedule a delayed one,
// and deliberately fail mid-transition.

const counterClass = "Counter"

type counterState string

func (s counterState) String() string { return string(s) }

type counterEntity struct {
	Count int `json:"count"`
}

type increment struct{ By int }
type cascadeIncrement struct{ By int }
type notify struct{ Count int }
type emitTo struct {
	ToClass string
	ToID    string
}
type emitDelayedTo struct {
	ToClass string
	ToID    string
	FireAt  int64
}
type explode struct{}

type counterMachine struct {
	id     string
	entity counterEntity
	state  counterState
	exists bool
	self   []behavior.Event
	other  []behavior.OtherSignal
}

func (m counterMachine) Class() string                        { return counterClass }
func (m counterMachine) ID() string                            { return m.id }
func (m counterMachine) State() behavior.StateValue            { return m.state }
func (m counterMachine) Current() (any, bool)                  { return m.entity, m.exists }
func (m counterMachine) PendingSelfSignals() []behavior.Event  { return m.self }
func (m counterMachine) PendingOtherSignals() []behavior.OtherSignal {
	return m.other
}

func (m counterMachine) Signal(event behavior.Event) (behavior.Machine, error) {
	next := m
	next.self = nil
	next.other = nil

	switch e := event.(type) {
	case behavior.Create:
		next.state = "Active"
		next.exists = true
	case increment:
		next.entity.Count += e.By
	case cascadeIncrement:
		next.entity.Count += e.By
		next.self = []behavior.Event{increment{By: 100}}
	case emitTo:
		next.other = []behavior.OtherSignal{{
			ToClass: e.ToClass, ToID: e.ToID, Event: notify{Count: next.entity.Count},
		}}
	case emitDelayedTo:
		fireAt := e.FireAt
		next.other = []behavior.OtherSignal{{
			ToClass: e.ToClass, ToID: e.ToID, Event: notify{Count: next.entity.Count}, FireAt: &fireAt,
		}}
	case explode:
		return nil, fmt.Errorf("counter fixture: deliberate failure")
	default:
		return nil, fmt.Errorf("counter fixture: unhandled event %T", event)
	}
	return next, nil
}

type counterBehavior struct{}

func (counterBehavior) Create(id string) behavior.Machine {
	return counterMachine{id: id, state: "New"}
}

func (counterBehavior) Rehydrate(id string, entity any, stateValue behavior.StateValue) behavior.Machine {
	e := entity.(*counterEntity)
	return counterMachine{id: id, entity: *e, state: stateValue.(counterState), exists: true}
}

func (counterBehavior) From(name string) (behavior.StateValue, error) {
	return counterState(name), nil
}

func newFixtureEngine(t *testing.T) *apply.Engine {
	t.Helper()

	st := testkit.OpenMemoryStore(t)

	entitySerializer := codec.NewJSONSerializer()
	entitySerializer.Register(counterClass, func() any { return new(counterEntity) })

	eventSerializer := codec.NewJSONSerializer()
	eventSerializer.Register(codec.ClassName(increment{}), func() any { return new(increment) })
	eventSerializer.Register(codec.ClassName(cascadeIncrement{}), func() any { return new(cascadeIncrement) })
	eventSerializer.Register(codec.ClassName(notify{}), func() any { return new(notify) })
	eventSerializer.Register(codec.ClassName(emitTo{}), func() any { return new(emitTo) })
	eventSerializer.Register(codec.ClassName(emitDelayedTo{}), func() any { return new(emitDelayedTo) })
	eventSerializer.Register(codec.ClassName(explode{}), func() any { return new(explode) })
	eventSerializer.Register(codec.ClassName(behavior.CancelTimedSignal{}), func() any { return new(behavior.CancelTimedSignal) })

	return &apply.Engine{
		Behaviors:        behavior.MapFactory{counterClass: counterBehavior{}},
		EntitySerializer: entitySerializer,
		EventSerializer:  eventSerializer,
		Store:            st,
		StoreSignals:     true,
		PropertiesFactory: func(entity any) map[string]string {
			e := entity.(counterEntity)
			return map[string]string{"count": fmt.Sprintf("%d", e.Count)}
		},
	}
}

func enqueue(t *testing.T, engine *apply.Engine, id string, event behavior.Event) apply.Input {
	t.Helper()
	bytes, err := engine.EventSerializer.Serialize(event)
	require.NoError(t, err)
	eventClass := codec.ClassName(event)
	correlationID := "test-corr-" + id
	seq, err := engine.Store.Signals.Enqueue(context.Background(), engine.Store.DB(), counterClass, id, eventClass, bytes, correlationID)
	require.NoError(t, err)
	return apply.Input{Seq: seq, Class: counterClass, ID: id, EventClass: eventClass, EventBytes: bytes, CorrelationID: correlationID}
}

func readCounter(t *testing.T, engine *apply.Engine, id string) (counterEntity, string) {
	t.Helper()
	bytes, state, ok, err := engine.Store.Entity.ReadEntity(context.Background(), engine.Store.DB(), counterClass, id)
	require.NoError(t, err)
	require.True(t, ok)
	v, err := engine.EntitySerializer.Deserialize(counterClass, bytes)
	require.NoError(t, err)
	return *v.(*counterEntity), state
}

// A signal to a fresh id folds Create into the self-signal cascade ahead
// of the published event, rather than requiring a separate Create call.
func TestApplyAutoCreatesOnFreshID(t *testing.T) {
	engine := newFixtureEngine(t)
	in := enqueue(t, engine, "c1", increment{By: 5})

	_, err := engine.Apply(context.Background(), in)
	require.NoError(t, err)

	entity, state := readCounter(t, engine, "c1")
	assert.Equal(t, "Active", state)
	assert.Equal(t, 5, entity.Count)
}

// A self-signal emitted by a transition is delivered within the same
// apply cycle, ahead of anything already queued behind it.
func TestApplyDrainsSelfSignalCascade(t *testing.T) {
	engine := newFixtureEngine(t)
	in := enqueue(t, engine, "c1", cascadeIncrement{By: 1})

	_, err := engine.Apply(context.Background(), in)
	require.NoError(t, err)

	entity, _ := readCounter(t, engine, "c1")
	assert.Equal(t, 101, entity.Count)
}

// An OtherSignal with no FireAt is queued to the non-delayed signal
// table and returned in Result.ToOther, numbered for the caller to offer.
func TestApplyQueuesImmediateOtherSignal(t *testing.T) {
	engine := newFixtureEngine(t)
	in := enqueue(t, engine, "c1", increment{By: 3})
	_, err := engine.Apply(context.Background(), in)
	require.NoError(t, err)

	in2 := enqueue(t, engine, "c1", emitTo{ToClass: counterClass, ToID: "c2"})
	result, err := engine.Apply(context.Background(), in2)
	require.NoError(t, err)

	require.Len(t, result.ToOther, 1)
	assert.Equal(t, counterClass, result.ToOther[0].Class)
	assert.Equal(t, "c2", result.ToOther[0].ID)
	assert.Equal(t, "notify", result.ToOther[0].EventClass)

	exists, err := engine.Store.Signals.Exists(context.Background(), engine.Store.DB(), result.ToOther[0].Seq)
	require.NoError(t, err)
	assert.True(t, exists)
}

// An OtherSignal with FireAt set goes to the delayed queue instead, and
// the input row that produced it is still deleted.
func TestApplyQueuesDelayedOtherSignal(t *testing.T) {
	engine := newFixtureEngine(t)
	in := enqueue(t, engine, "c1", emitDelayedTo{ToClass: counterClass, ToID: "c2", FireAt: 5_000})
	result, err := engine.Apply(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, result.ToOtherAt, 1)
	assert.EqualValues(t, 5_000, result.ToOtherAt[0].FireAt)

	stillQueued, err := engine.Store.Signals.Exists(context.Background(), engine.Store.DB(), in.Seq)
	require.NoError(t, err)
	assert.False(t, stillQueued)
}

// The distinguished CancelTimedSignal event never reaches a Machine: it
// deletes a delayed row by cancellation key and leaves the entity alone.
func TestApplyCancelTimedSignalNeverReachesMachine(t *testing.T) {
	engine := newFixtureEngine(t)

	delayedSeq, err := engine.Store.Delayed.Insert(context.Background(), engine.Store.DB(),
		counterClass, "c1", counterClass, "c2", "notify", []byte(`{"Count":1}`), 5_000, "test-corr-delayed")
	require.NoError(t, err)

	cancel := behavior.CancelTimedSignal{FromClass: counterClass, FromID: "c1"}
	bytes, err := engine.EventSerializer.Serialize(cancel)
	require.NoError(t, err)
	eventClass := codec.ClassName(cancel)
	seq, err := engine.Store.Signals.Enqueue(context.Background(), engine.Store.DB(), counterClass, "c2", eventClass, bytes, "test-corr-cancel")
	require.NoError(t, err)

	_, err = engine.Apply(context.Background(), apply.Input{
		Seq: seq, Class: counterClass, ID: "c2", EventClass: eventClass, EventBytes: bytes, CorrelationID: "test-corr-cancel",
	})
	require.NoError(t, err)

	stillScheduled, err := engine.Store.Delayed.Exists(context.Background(), engine.Store.DB(), delayedSeq)
	require.NoError(t, err)
	assert.False(t, stillScheduled)

	_, _, ok, err := engine.Store.Entity.ReadEntity(context.Background(), engine.Store.DB(), counterClass, "c2")
	require.NoError(t, err)
	assert.False(t, ok, "cancellation must not create the target entity")
}

// If the input signal row was already deleted (e.g. a concurrent crash
// recovery beat this call to it), Apply is a no-op rather than an error.
func TestApplyIsNoOpWhenInputAlreadyGone(t *testing.T) {
	engine := newFixtureEngine(t)
	in := enqueue(t, engine, "c1", increment{By: 1})
	require.NoError(t, engine.Store.Signals.Delete(context.Background(), engine.Store.DB(), in.Seq))

	result, err := engine.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, result.ToOther)

	_, _, ok, err := engine.Store.Entity.ReadEntity(context.Background(), engine.Store.DB(), counterClass, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

// A transition error rolls back the whole cycle: the input row survives
// for a retry and no entity or outbound signal is left behind.
func TestApplyRollsBackOnTransitionError(t *testing.T) {
	engine := newFixtureEngine(t)
	in := enqueue(t, engine, "c1", explode{})

	_, err := engine.Apply(context.Background(), in)
	require.Error(t, err)

	stillQueued, err := engine.Store.Signals.Exists(context.Background(), engine.Store.DB(), in.Seq)
	require.NoError(t, err)
	assert.True(t, stillQueued, "failed apply must leave the input row in place for retry")

	_, _, ok, err := engine.Store.Entity.ReadEntity(context.Background(), engine.Store.DB(), counterClass, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

// The PropertiesFactory hook projects the entity into searchable
// name/value rows every time the entity is saved.
func TestApplySavesProjectedProperties(t *testing.T) {
	engine := newFixtureEngine(t)
	in := enqueue(t, engine, "c1", increment{By: 7})
	_, err := engine.Apply(context.Background(), in)
	require.NoError(t, err)

	rows, err := engine.Store.Entity.ByProperty(context.Background(), engine.Store.DB(), counterClass, "count", "7")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c1", rows[0].ID)
}

// EnterContext/leave brackets every apply cycle exactly once, success or
// failure, mirroring how the runtime scopes its process-wide persistence
// context to the worker's call.
func TestApplyEnterContextBracketsEveryCycle(t *testing.T) {
	engine := newFixtureEngine(t)
	var entries, leaves int
	engine.EnterContext = func() func() {
		entries++
		return func() { leaves++ }
	}

	in := enqueue(t, engine, "c1", increment{By: 1})
	_, err := engine.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, entries)
	assert.Equal(t, 1, leaves)

	failing := enqueue(t, engine, "c1", explode{})
	_, err = engine.Apply(context.Background(), failing)
	require.Error(t, err)
	assert.Equal(t, 2, entries)
	assert.Equal(t, 2, leaves)
}
