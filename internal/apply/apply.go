// Package apply implements the Apply Engine: the per-signal transactional
// cycle that reads an entity, drives its state machine, and persists the
// resulting entity, property, and outbound-signal rows atomically.
package apply

import (
	"context"
	"database/sql"

	"github.com/durocore/duro/internal/behavior"
	"github.com/durocore/duro/internal/codec"
	"github.com/durocore/duro/internal/ferrors"
	"github.com/durocore/duro/internal/store"
)

// Input identifies one numbered signal for the engine to process. Delayed
// distinguishes which queue the row came from (and hence which table Exists
// and Delete address); FireAt is only meaningful when Delayed is true.
type Input struct {
	Seq        int64
	Class      string
	ID         string
	EventClass string
	EventBytes []byte
	Delayed    bool
	FireAt     int64

	// CorrelationID ties this signal back to the publish that started its
	// cascade. Every signal the Apply Engine emits while processing this
	// Input inherits it, so the whole cascade is traceable to one origin
	// in the signal_store audit log.
	CorrelationID string
}

// Result carries the outbound signals the cycle produced, freshly numbered,
// so the Drain Scheduler can offer the non-delayed ones to itself and hand
// the delayed ones to its timer.
type Result struct {
	ToOther   []store.NumberedSignal
	ToOtherAt []store.NumberedDelayedSignal
}

// PropertiesFactory projects an entity value into the flat name/value map
// stored as searchable property rows. A nil factory yields no properties.
type PropertiesFactory func(entity any) map[string]string

// queuedEvent carries one event waiting for delivery to the machine in the
// self-signal cascade, along with the serialized form the audit log wants,
// so a self-emitted event doesn't have to be re-serialized just to log it.
type queuedEvent struct {
	event behavior.Event
	class string
	bytes []byte
}

// isCreate reports whether event is a behavior.Create.
func isCreate(event behavior.Event) bool {
	_, ok := event.(behavior.Create)
	return ok
}

// Engine wires the Behavior registry, the two serializers, and the store
// together to run one signal at a time. It holds no per-call state and is
// safe to reuse (though not to call concurrently — the Drain Scheduler
// guarantees single-worker access).
type Engine struct {
	Behaviors         behavior.Factory
	EntitySerializer  codec.Serializer
	EventSerializer   codec.Serializer
	Store             *store.Store
	StoreSignals      bool
	PropertiesFactory PropertiesFactory

	// EnterContext, if set, runs at the start of every apply cycle; the
	// func it returns is deferred to run at the end. This is how the
	// runtime scopes its process-wide "current persistence context" slot
	// to the worker's apply call, so a Behavior can reach back into the
	// runtime (e.g. to run a nested query) without threading an extra
	// parameter through the Machine interface.
	EnterContext func() (leave func())
}

// Apply runs the ten-step transactional cycle described for one numbered
// signal. Any error rolls back the whole transaction and leaves the input
// row in place, so the caller can retry.
func (e *Engine) Apply(ctx context.Context, in Input) (Result, error) {
	if e.EnterContext != nil {
		leave := e.EnterContext()
		defer leave()
	}

	tx, err := e.Store.BeginTx(ctx)
	if err != nil {
		return Result{}, err
	}
	result, err := e.apply(ctx, tx, in)
	if err != nil {
		tx.Rollback()
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, &ferrors.StorageError{Op: "commit apply", Err: err}
	}
	return result, nil
}

func (e *Engine) apply(ctx context.Context, tx *sql.Tx, in Input) (Result, error) {
	// Step 1: verify the input signal still exists. A signal can vanish
	// between being offered and being processed if a prior worker crashed
	// mid-cycle after deleting the row but before this retry was
	// scheduled; treat that as already-done.
	exists, err := e.exists(ctx, tx, in)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return Result{}, nil
	}

	event, err := e.EventSerializer.Deserialize(in.EventClass, in.EventBytes)
	if err != nil {
		return Result{}, err
	}
	// Deserialize always hands back a pointer (json.Unmarshal needs an
	// addressable target); dereference it so this queue-delivered event
	// matches the same value type a Behavior would see for one constructed
	// in-process during a self-signal cascade.
	event = codec.Deref(event)

	// Step 2: the distinguished cancellation event is recognized here,
	// before ever reaching a Machine, and never reaches one. It deletes the
	// delayed row it targets and its own input row in the same
	// transaction, so a later Initialize never redelivers it.
	if c, ok := event.(behavior.CancelTimedSignal); ok {
		if err := e.Store.Delayed.DeleteByCancellationKey(ctx, tx, c.FromClass, c.FromID, in.Class, in.ID); err != nil {
			return Result{}, err
		}
		if in.Delayed {
			if err := e.Store.Delayed.Delete(ctx, tx, in.Seq); err != nil {
				return Result{}, err
			}
		} else if err := e.Store.Signals.Delete(ctx, tx, in.Seq); err != nil {
			return Result{}, err
		}
		return Result{}, nil
	}

	// Step 3: resolve Behavior, read entity.
	beh, ok := e.Behaviors.Behavior(in.Class)
	if !ok {
		return Result{}, &ferrors.BehaviorResolutionError{Class: in.Class}
	}

	entityBytes, stateName, hasEntity, err := e.Store.Entity.ReadEntity(ctx, tx, in.Class, in.ID)
	if err != nil {
		return Result{}, err
	}

	// Step 4: construct the machine. A brand-new entity's Create transition
	// is folded into the step 5 cascade below (rather than driven here in
	// isolation) so any self-signals Create's own onEntry action emits are
	// captured by the same loop that captures every later transition's —
	// otherwise a Behavior that reacts to Create by immediately signalling
	// itself again would silently lose that signal. If the published event
	// is itself a Create (a caller creating an entity explicitly, rather
	// than relying on auto-create), it isn't folded in twice: the queue
	// starts with just that one Create.
	var machine behavior.Machine
	self := make([]queuedEvent, 0, 2)
	if !hasEntity {
		machine = beh.Create(in.ID)
		if !isCreate(event) {
			createBytes, err := e.EventSerializer.Serialize(behavior.Create{})
			if err != nil {
				return Result{}, err
			}
			self = append(self, queuedEvent{event: behavior.Create{}, class: codec.ClassName(behavior.Create{}), bytes: createBytes})
		}
	} else {
		entityValue, err := e.EntitySerializer.Deserialize(in.Class, entityBytes)
		if err != nil {
			return Result{}, err
		}
		stateValue, err := beh.From(stateName)
		if err != nil {
			return Result{}, err
		}
		machine = beh.Rehydrate(in.ID, entityValue, stateValue)
	}
	self = append(self, queuedEvent{event: event, class: in.EventClass, bytes: in.EventBytes})

	// Step 5: the self-signal cascade. self is a deque of events still to
	// be delivered to this entity; other accumulates signals bound for
	// other entities as they're emitted. Newly emitted self-signals go to
	// the head of the queue, in their own emission order, so the first one
	// a transition emits is the very next one processed. Every event
	// delivered here — the originally published one and every self-signal
	// the cascade emits — is appended to the audit log as it's delivered,
	// so a multi-step cascade (e.g. Create emitting Clear) produces one
	// signal_store row per step, in delivery order.
	var other []behavior.OtherSignal
	for len(self) > 0 {
		next := self[0]
		self = self[1:]

		if e.StoreSignals {
			if err := e.Store.Audit.Append(ctx, tx, in.Class, in.ID, next.class, next.bytes, in.CorrelationID); err != nil {
				return Result{}, err
			}
		}

		machine, err = machine.Signal(next.event)
		if err != nil {
			return Result{}, err
		}

		if pending := machine.PendingSelfSignals(); len(pending) > 0 {
			queuedPending := make([]queuedEvent, len(pending))
			for i, p := range pending {
				pendingBytes, err := e.EventSerializer.Serialize(p)
				if err != nil {
					return Result{}, err
				}
				queuedPending[i] = queuedEvent{event: p, class: codec.ClassName(p), bytes: pendingBytes}
			}
			self = append(queuedPending, self...)
		}
		other = append(other, machine.PendingOtherSignals()...)
	}

	// Step 6: insert outbound signals.
	var result Result
	for _, sig := range other {
		eventBytes, err := e.EventSerializer.Serialize(sig.Event)
		if err != nil {
			return Result{}, err
		}
		eventClass := codec.ClassName(sig.Event)

		if sig.FireAt == nil {
			seq, err := e.Store.Signals.Enqueue(ctx, tx, sig.ToClass, sig.ToID, eventClass, eventBytes, in.CorrelationID)
			if err != nil {
				return Result{}, err
			}
			result.ToOther = append(result.ToOther, store.NumberedSignal{
				Seq: seq, Class: sig.ToClass, ID: sig.ToID, EventClass: eventClass, EventBytes: eventBytes,
				CorrelationID: in.CorrelationID,
			})
			continue
		}

		seq, err := e.Store.Delayed.Insert(ctx, tx, in.Class, in.ID, sig.ToClass, sig.ToID, eventClass, eventBytes, *sig.FireAt, in.CorrelationID)
		if err != nil {
			return Result{}, err
		}
		result.ToOtherAt = append(result.ToOtherAt, store.NumberedDelayedSignal{
			Seq: seq, FromClass: in.Class, FromID: in.ID, Class: sig.ToClass, ID: sig.ToID,
			EventClass: eventClass, EventBytes: eventBytes, FireAt: *sig.FireAt,
			CorrelationID: in.CorrelationID,
		})
	}

	// Step 7: remove the input signal row.
	if in.Delayed {
		if err := e.Store.Delayed.Delete(ctx, tx, in.Seq); err != nil {
			return Result{}, err
		}
	} else {
		if err := e.Store.Signals.Delete(ctx, tx, in.Seq); err != nil {
			return Result{}, err
		}
	}

	// Step 8: save entity and properties, if the machine reached a
	// non-terminal-before-creation state.
	if entityValue, ok := machine.Current(); ok {
		bytes, err := e.EntitySerializer.Serialize(entityValue)
		if err != nil {
			return Result{}, err
		}
		if err := e.Store.Entity.SaveEntity(ctx, tx, machine.Class(), machine.ID(), bytes, machine.State().String()); err != nil {
			return Result{}, err
		}

		var props map[string]string
		if e.PropertiesFactory != nil {
			props = e.PropertiesFactory(entityValue)
		}
		if err := e.Store.Entity.SaveProperties(ctx, tx, machine.Class(), machine.ID(), props); err != nil {
			return Result{}, err
		}
	}

	return result, nil
}

func (e *Engine) exists(ctx context.Context, tx *sql.Tx, in Input) (bool, error) {
	if in.Delayed {
		return e.Store.Delayed.Exists(ctx, tx, in.Seq)
	}
	return e.Store.Signals.Exists(ctx, tx, in.Seq)
}
