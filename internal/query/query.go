// Package query implements the Query API: read-only lookups against the
// entity table and its property index, with no transaction guarantees
// beyond whatever a single pooled connection gives for free.
package query

import (
	"context"

	"github.com/durocore/duro/internal/behavior"
	"github.com/durocore/duro/internal/codec"
	"github.com/durocore/duro/internal/ferrors"
	"github.com/durocore/duro/internal/store"
)

// Combine selects how GetByProperties joins its predicates.
type Combine int

const (
	// And requires every predicate to match.
	And Combine = iota
	// Or requires at least one predicate to match.
	Or
)

// WithState pairs a decoded entity with its FSM state value.
type WithState struct {
	Entity any
	State  behavior.StateValue
}

// Item pairs an entity with the id it was stored under, for the
// list-shaped queries.
type Item struct {
	ID     string
	Entity any
}

// API is the Query API. It reads directly against the pooled connection
// (store.Store.DB()), never against a transaction, since queries never
// need to observe an in-flight apply cycle.
type API struct {
	store            *store.Store
	entitySerializer codec.Serializer
	behaviors        behavior.Factory
}

// New builds an API over st, decoding entity bytes with entitySerializer
// and resolving state names through behaviors.
func New(st *store.Store, entitySerializer codec.Serializer, behaviors behavior.Factory) *API {
	return &API{store: st, entitySerializer: entitySerializer, behaviors: behaviors}
}

// Get returns the decoded entity for (class, id), or ok=false if none
// exists.
func (a *API) Get(ctx context.Context, class, id string) (entity any, ok bool, err error) {
	bytes, _, exists, err := a.store.Entity.ReadEntity(ctx, a.store.DB(), class, id)
	if err != nil || !exists {
		return nil, false, err
	}
	v, err := a.entitySerializer.Deserialize(class, bytes)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// GetWithState returns the decoded entity and its parsed state value.
func (a *API) GetWithState(ctx context.Context, class, id string) (result WithState, ok bool, err error) {
	bytes, stateName, exists, err := a.store.Entity.ReadEntity(ctx, a.store.DB(), class, id)
	if err != nil || !exists {
		return WithState{}, false, err
	}
	v, err := a.entitySerializer.Deserialize(class, bytes)
	if err != nil {
		return WithState{}, false, err
	}
	beh, ok := a.behaviors.Behavior(class)
	if !ok {
		return WithState{}, false, &ferrors.BehaviorResolutionError{Class: class}
	}
	state, err := beh.From(stateName)
	if err != nil {
		return WithState{}, false, err
	}
	return WithState{Entity: v, State: state}, true, nil
}

// ListAll returns every entity of class, ordered by id.
func (a *API) ListAll(ctx context.Context, class string) ([]Item, error) {
	rows, err := a.store.Entity.ListAll(ctx, a.store.DB(), class)
	if err != nil {
		return nil, err
	}
	return a.decodeRows(class, rows)
}

// GetByProperty returns every entity of class carrying the property
// name=value.
func (a *API) GetByProperty(ctx context.Context, class, name, value string) ([]Item, error) {
	rows, err := a.store.Entity.ByProperty(ctx, a.store.DB(), class, name, value)
	if err != nil {
		return nil, err
	}
	return a.decodeRows(class, rows)
}

// GetByProperties returns every entity of class matching props, combined
// per combine.
func (a *API) GetByProperties(ctx context.Context, class string, props map[string]string, combine Combine) ([]Item, error) {
	rows, err := a.store.Entity.ByProperties(ctx, a.store.DB(), class, props, combine == And)
	if err != nil {
		return nil, err
	}
	return a.decodeRows(class, rows)
}

// RangeQuery is the parameter set for GetByPropertyWithRange.
type RangeQuery struct {
	Class          string
	Name           string
	Value          string
	RangeName      string
	RangeStart     int64
	StartInclusive bool
	RangeEnd       int64
	EndInclusive   bool
	Limit          int
	LastID         string
}

// GetByPropertyWithRange returns a deterministically ordered, keyset-paged
// slice of entities matching Name=Value whose RangeName property falls
// between RangeStart and RangeEnd, each bound included or excluded per
// StartInclusive/EndInclusive. LastID, if set, excludes every id at or
// before it, matching the previous page's final id.
func (a *API) GetByPropertyWithRange(ctx context.Context, rq RangeQuery) ([]Item, error) {
	rows, err := a.store.Entity.ByPropertyRange(ctx, a.store.DB(), store.RangeQuery{
		Class: rq.Class, Name: rq.Name, Value: rq.Value,
		RangeName: rq.RangeName, RangeStart: rq.RangeStart, StartInclusive: rq.StartInclusive,
		RangeEnd: rq.RangeEnd, EndInclusive: rq.EndInclusive,
		Limit: rq.Limit, LastID: rq.LastID,
	})
	if err != nil {
		return nil, err
	}
	return a.decodeRows(rq.Class, rows)
}

func (a *API) decodeRows(class string, rows []store.EntityRow) ([]Item, error) {
	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		v, err := a.entitySerializer.Deserialize(class, r.Bytes)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{ID: r.ID, Entity: v})
	}
	return items, nil
}
