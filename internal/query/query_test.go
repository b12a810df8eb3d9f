package query_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durocore/duro/internal/behavior"
	"github.com/durocore/duro/internal/codec"
	"github.com/durocore/duro/internal/query"
	"github.com/durocore/duro/internal/testkit"
)

const widgetClass = "Widget"

type widget struct {
	Name  string
	Price int
}

type widgetState string

func (s widgetState) String() string { return string(s) }

type widgetBehavior struct{}

func (widgetBehavior) Create(id string) behavior.Machine { panic("not used by query tests") }
func (widgetBehavior) Rehydrate(id string, entity any, stateValue behavior.StateValue) behavior.Machine {
	panic("not used by query tests")
}
func (widgetBehavior) From(name string) (behavior.StateValue, error) { return widgetState(name), nil }

func newAPI(t *testing.T) (*query.API, func(id string, w widget, state string, props map[string]string)) {
	t.Helper()
	st := testkit.OpenMemoryStore(t)

	serializer := codec.NewJSONSerializer()
	serializer.Register(widgetClass, func() any { return new(widget) })

	api := query.New(st, serializer, behavior.MapFactory{widgetClass: widgetBehavior{}})

	seed := func(id string, w widget, state string, props map[string]string) {
		bytes, err := serializer.Serialize(w)
		require.NoError(t, err)
		require.NoError(t, st.Entity.SaveEntity(context.Background(), st.DB(), widgetClass, id, bytes, state))
		require.NoError(t, st.Entity.SaveProperties(context.Background(), st.DB(), widgetClass, id, props))
	}
	return api, seed
}

func TestGetReturnsDecodedEntity(t *testing.T) {
	api, seed := newAPI(t)
	seed("w1", widget{Name: "sprocket", Price: 5}, "Active", nil)

	entity, ok, err := api.Get(context.Background(), widgetClass, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sprocket", entity.(*widget).Name)
}

func TestGetReportsMissingEntity(t *testing.T) {
	api, _ := newAPI(t)
	_, ok, err := api.Get(context.Background(), widgetClass, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetWithStateParsesStateValue(t *testing.T) {
	api, seed := newAPI(t)
	seed("w1", widget{Name: "sprocket"}, "Active", nil)

	result, ok, err := api.GetWithState(context.Background(), widgetClass, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Active", result.State.String())
	assert.Equal(t, "sprocket", result.Entity.(*widget).Name)
}

func TestGetWithStateFailsForUnregisteredClass(t *testing.T) {
	st := testkit.OpenMemoryStore(t)
	serializer := codec.NewJSONSerializer()
	serializer.Register(widgetClass, func() any { return new(widget) })
	api := query.New(st, serializer, behavior.MapFactory{})

	bytes, err := serializer.Serialize(widget{Name: "sprocket"})
	require.NoError(t, err)
	require.NoError(t, st.Entity.SaveEntity(context.Background(), st.DB(), widgetClass, "w1", bytes, "Active"))

	_, _, err = api.GetWithState(context.Background(), widgetClass, "w1")
	assert.Error(t, err)
}

func TestListAllOrdersByID(t *testing.T) {
	api, seed := newAPI(t)
	seed("w2", widget{Name: "second"}, "Active", nil)
	seed("w1", widget{Name: "first"}, "Active", nil)

	items, err := api.ListAll(context.Background(), widgetClass)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "w1", items[0].ID)
	assert.Equal(t, "w2", items[1].ID)
}

func TestGetByPropertyFiltersOnIndexedValue(t *testing.T) {
	api, seed := newAPI(t)
	seed("w1", widget{Name: "sprocket"}, "Active", map[string]string{"color": "red"})
	seed("w2", widget{Name: "cog"}, "Active", map[string]string{"color": "blue"})

	items, err := api.GetByProperty(context.Background(), widgetClass, "color", "red")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "w1", items[0].ID)
}

func TestGetByPropertiesCombinesWithOrAndAnd(t *testing.T) {
	api, seed := newAPI(t)
	seed("w1", widget{Name: "sprocket"}, "Active", map[string]string{"color": "red", "size": "small"})
	seed("w2", widget{Name: "cog"}, "Active", map[string]string{"color": "blue", "size": "small"})

	and, err := api.GetByProperties(context.Background(), widgetClass, map[string]string{"color": "red", "size": "small"}, query.And)
	require.NoError(t, err)
	assert.Len(t, and, 1)

	or, err := api.GetByProperties(context.Background(), widgetClass, map[string]string{"color": "red", "size": "small"}, query.Or)
	require.NoError(t, err)
	assert.Len(t, or, 2, "both widgets satisfy at least one OR predicate")
}

func TestGetByPropertyWithRangeFiltersAndPaginates(t *testing.T) {
	api, seed := newAPI(t)
	seed("w1", widget{Name: "a"}, "Active", map[string]string{"kind": "part", "price": "10"})
	seed("w2", widget{Name: "b"}, "Active", map[string]string{"kind": "part", "price": "20"})
	seed("w3", widget{Name: "c"}, "Active", map[string]string{"kind": "part", "price": "30"})

	items, err := api.GetByPropertyWithRange(context.Background(), query.RangeQuery{
		Class: widgetClass, Name: "kind", Value: "part",
		RangeName: "price", RangeStart: 10, StartInclusive: false,
		RangeEnd: 30, EndInclusive: true,
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "w2", items[0].ID)
	assert.Equal(t, "w3", items[1].ID)

	paged, err := api.GetByPropertyWithRange(context.Background(), query.RangeQuery{
		Class: widgetClass, Name: "kind", Value: "part",
		RangeName: "price", RangeStart: 0, StartInclusive: true,
		RangeEnd: 100, EndInclusive: true,
		LastID: "w2",
	})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "w3", paged[0].ID)
}
