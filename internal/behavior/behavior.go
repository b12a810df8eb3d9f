// Package behavior defines the external interface between the runtime and
// per-entity-class FSM implementations. Nothing in this package knows how
// any particular state machine works — it only describes the shape a
// Behavior must have so the Apply Engine can drive it.
package behavior

// StateValue is the FSM's internal representation of "where it is". It must
// be able to render itself back into the string persisted in the entity
// table.
type StateValue interface {
	String() string
}

// Event is anything a Behavior's Machine can be signaled with. The runtime
// treats events as opaque except for the two distinguished cases below,
// which it recognizes by type switch before ever calling into a Machine.
type Event any

// Create is the distinguished event delivered to a freshly-created entity,
// i.e. one with no existing row in the Entity Store. Every Behavior must
// have a transition out of its initial state on Create.
type Create struct{}

// CancelTimedSignal is the distinguished event that removes a pending
// delayed signal identified by its cancellation key, without ever reaching
// a Machine. FromClass/FromID name the entity that originally scheduled the
// delayed signal; the target class/id come from the enclosing signal.
type CancelTimedSignal struct {
	FromClass string
	FromID    string
}

// OtherSignal is one signal a Machine wants delivered to a (possibly
// different) entity. FireAt is nil for immediate delivery; when set, it is
// milliseconds since epoch and the signal goes through the delayed queue.
type OtherSignal struct {
	ToClass string
	ToID    string
	Event   Event
	FireAt  *int64
}

// Machine is one immutable snapshot of an entity's state machine. Signal
// produces the next snapshot; it never mutates the receiver. Behaviors are
// expected to be referentially transparent — same state, same event, same
// resulting snapshot and pending signals, every time.
type Machine interface {
	// Signal advances the machine by one event, returning the resulting
	// snapshot. Any signals the transition wants to emit are collected on
	// the returned Machine and read back via PendingSelfSignals /
	// PendingOtherSignals.
	Signal(event Event) (Machine, error)

	// Current returns the entity value carried by this snapshot, and false
	// if the entity has not been created yet (e.g. before its first
	// successful transition out of the initial state).
	Current() (entity any, ok bool)

	// State returns the machine's current state value.
	State() StateValue

	// PendingSelfSignals returns, in emission order, the events this
	// transition wants delivered to the same entity within the same apply
	// cycle (the self-signal cascade).
	PendingSelfSignals() []Event

	// PendingOtherSignals returns, in emission order, the signals this
	// transition wants delivered to other entities (or scheduled, if
	// FireAt is set).
	PendingOtherSignals() []OtherSignal

	// Class returns the entity's class name, matching the key it is
	// registered under in the runtime's Behavior map.
	Class() string

	// ID returns the entity's id within its class.
	ID() string
}

// Behavior is the per-class adapter the Apply Engine consults to create or
// rehydrate a Machine.
type Behavior interface {
	// Create returns a fresh, unsignaled machine for a new entity. The
	// runtime immediately signals it with Create.
	Create(id string) Machine

	// Rehydrate returns a machine positioned at stateValue, wrapping the
	// given deserialized entity snapshot.
	Rehydrate(id string, entity any, stateValue StateValue) Machine

	// From parses a state name, as persisted in the entity table, back
	// into this Behavior's StateValue representation.
	From(stateName string) (StateValue, error)
}

// Factory resolves a Behavior by entity class name. Class names are the
// runtime's only notion of entity type; they are persisted verbatim in the
// entity and signal tables and must not be renamed once used.
type Factory interface {
	Behavior(class string) (Behavior, bool)
}

// FactoryFunc adapts a function to a Factory.
type FactoryFunc func(class string) (Behavior, bool)

// Behavior calls f.
func (f FactoryFunc) Behavior(class string) (Behavior, bool) {
	return f(class)
}

// MapFactory is a Factory backed by a static map, the common case (a fixed
// set of entity classes known at startup).
type MapFactory map[string]Behavior

// Behavior looks up class in the map.
func (m MapFactory) Behavior(class string) (Behavior, bool) {
	b, ok := m[class]
	return b, ok
}
