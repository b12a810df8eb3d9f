// Package runtime assembles the Clock, Serializer, Store, Apply Engine,
// Drain Scheduler, and Query API into the single object applications
// embed: a Runtime. Building one never touches the database beyond
// opening a connection pool; call Bootstrap or BootstrapSQL explicitly to
// create the schema, then Initialize to recover any in-flight work from a
// previous run.
package runtime

import (
	"context"
	"time"

	"github.com/durocore/duro/internal/apply"
	"github.com/durocore/duro/internal/behavior"
	"github.com/durocore/duro/internal/clockwork"
	"github.com/durocore/duro/internal/codec"
	"github.com/durocore/duro/internal/drain"
	"github.com/durocore/duro/internal/ferrors"
	"github.com/durocore/duro/internal/idgen"
	"github.com/durocore/duro/internal/query"
	"github.com/durocore/duro/internal/sqlcatalog"
	"github.com/durocore/duro/internal/store"
)

// DefaultRetryInterval is used when no Option overrides it, matching the
// Java teacher's DEFAULT_RETRY_INTERVAL_MS.
const DefaultRetryInterval = 30 * time.Second

// config accumulates Option values before Build validates and wires them.
type config struct {
	driverName        string
	dsn               string
	catalog           *sqlcatalog.Catalog
	clock             clockwork.Clock
	entitySerializer  codec.Serializer
	eventSerializer   codec.Serializer
	behaviors         behavior.Factory
	storeSignals      bool
	errorHandler      drain.ErrorHandler
	retryInterval     time.Duration
	propertiesFactory apply.PropertiesFactory
	executor          drain.Executor
	idGen             idgen.Generator
}

// Option configures a Runtime before it's built. Options are applied in
// order, so a later Option overrides an earlier one for the same field.
type Option func(*config)

// WithDatabase selects the driver ("sqlite3", "postgres", "mysql") and its
// DSN. Required.
func WithDatabase(driverName, dsn string) Option {
	return func(c *config) { c.driverName, c.dsn = driverName, dsn }
}

// WithCatalog overrides the SQL catalog. Defaults to sqlcatalog.Default()
// (SQLite) if driverName is "sqlite3"; postgres/mysql driver names select
// sqlcatalog.Postgres()/sqlcatalog.MySQL() automatically unless overridden
// here.
func WithCatalog(catalog *sqlcatalog.Catalog) Option {
	return func(c *config) { c.catalog = catalog }
}

// WithClock overrides the wall clock used to stamp and schedule delayed
// signals. Defaults to clockwork.SystemClock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *config) { c.clock = clock }
}

// WithSerializers sets the entity and event Serializers. Required.
func WithSerializers(entity, event codec.Serializer) Option {
	return func(c *config) { c.entitySerializer, c.eventSerializer = entity, event }
}

// WithBehaviors sets the Behavior factory the Apply Engine resolves
// entity classes against. Required.
func WithBehaviors(behaviors behavior.Factory) Option {
	return func(c *config) { c.behaviors = behaviors }
}

// WithStoreSignals toggles the append-only signal-store audit log.
// Defaults to true.
func WithStoreSignals(enabled bool) Option {
	return func(c *config) { c.storeSignals = enabled }
}

// WithErrorHandler overrides how Apply Engine failures are reported.
// Defaults to logging via log/slog.
func WithErrorHandler(h drain.ErrorHandler) Option {
	return func(c *config) { c.errorHandler = h }
}

// WithRetryInterval overrides how long the Drain Scheduler waits before
// resuming after an Apply Engine failure. Defaults to DefaultRetryInterval.
func WithRetryInterval(d time.Duration) Option {
	return func(c *config) { c.retryInterval = d }
}

// WithPropertiesFactory sets the projection from a decoded entity to its
// searchable property map. Defaults to producing no properties.
func WithPropertiesFactory(f apply.PropertiesFactory) Option {
	return func(c *config) { c.propertiesFactory = f }
}

// WithExecutor overrides the Drain Scheduler's Executor. Defaults to
// drain.GoExecutor{}; tests substitute a synchronous executor.
func WithExecutor(e drain.Executor) Option {
	return func(c *config) { c.executor = e }
}

// WithIDGenerator overrides how Signal mints the correlation id stamped on
// a freshly published signal. Defaults to idgen.UUIDv7Generator{}; tests
// substitute idgen.NewFixedGenerator for deterministic assertions.
func WithIDGenerator(g idgen.Generator) Option {
	return func(c *config) { c.idGen = g }
}

// Runtime is the assembled system: one Store, one Apply Engine, one Drain
// Scheduler, and one Query API sharing the same catalog and serializers.
type Runtime struct {
	Store    *store.Store
	Apply    *apply.Engine
	Drain    *drain.Scheduler
	Query    *query.API
	Clock    clockwork.Clock
	Catalog  *sqlcatalog.Catalog
	IDGen    idgen.Generator
}

// Build validates opts, opens the database, and wires every component. It
// does not bootstrap the schema or recover in-flight work; call Bootstrap
// (or BootstrapSQL) and then Initialize before Signal-ing anything.
func Build(opts ...Option) (*Runtime, error) {
	c := &config{
		clock:        clockwork.SystemClock{},
		storeSignals: true,
		retryInterval: DefaultRetryInterval,
		idGen:        idgen.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.driverName == "" {
		return nil, &ferrors.ConfigurationError{Field: "database"}
	}
	if c.entitySerializer == nil || c.eventSerializer == nil {
		return nil, &ferrors.ConfigurationError{Field: "serializers"}
	}
	if c.behaviors == nil {
		return nil, &ferrors.ConfigurationError{Field: "behaviors"}
	}

	if c.catalog == nil {
		switch c.driverName {
		case "postgres":
			c.catalog = sqlcatalog.Postgres()
		case "mysql":
			c.catalog = sqlcatalog.MySQL()
		default:
			c.catalog = sqlcatalog.Default()
		}
	}

	st, err := store.Open(c.driverName, c.dsn, c.catalog)
	if err != nil {
		return nil, err
	}

	queryAPI := query.New(st, c.entitySerializer, c.behaviors)

	engine := &apply.Engine{
		Behaviors:         c.behaviors,
		EntitySerializer:  c.entitySerializer,
		EventSerializer:   c.eventSerializer,
		Store:             st,
		StoreSignals:      c.storeSignals,
		PropertiesFactory: c.propertiesFactory,
		EnterContext: func() func() {
			return enterContext(&Context{Query: queryAPI})
		},
	}

	scheduler := drain.New(drain.Config{
		Engine:        engine,
		Store:         st,
		Clock:         c.clock,
		Executor:      c.executor,
		RetryInterval: c.retryInterval,
		ErrorHandler:  c.errorHandler,
	})

	return &Runtime{
		Store:   st,
		Apply:   engine,
		Drain:   scheduler,
		Query:   queryAPI,
		Clock:   c.clock,
		Catalog: c.catalog,
		IDGen:   c.idGen,
	}, nil
}

// Bootstrap creates the runtime's schema using its catalog's default DDL.
// Idempotent.
func (r *Runtime) Bootstrap(ctx context.Context) error {
	return r.Store.Bootstrap(ctx)
}

// BootstrapSQL creates the schema from caller-supplied DDL instead of the
// catalog default, for callers who manage their own migrations.
func (r *Runtime) BootstrapSQL(ctx context.Context, schemaSQL string) error {
	return r.Store.BootstrapSQL(ctx, schemaSQL)
}

// Initialize recovers in-flight work left over from a previous run:
// delayed signals are rescheduled at their fire-at, and pending
// non-delayed signals are offered immediately. Call once at startup,
// after Bootstrap.
func (r *Runtime) Initialize(ctx context.Context) error {
	return r.Drain.Initialize(ctx)
}

// Signal publishes event to (class, id) for immediate, non-delayed
// delivery: it durably enqueues the signal, then offers it to the Drain
// Scheduler. It returns the correlation id stamped on the signal, so a
// caller can tie a later audit-log lookup back to this specific publish.
func (r *Runtime) Signal(ctx context.Context, class, id string, event behavior.Event) (string, error) {
	bytes, err := r.Apply.EventSerializer.Serialize(event)
	if err != nil {
		return "", err
	}
	eventClass := codec.ClassName(event)
	correlationID := r.IDGen.Generate()

	seq, err := r.Store.Signals.Enqueue(ctx, r.Store.DB(), class, id, eventClass, bytes, correlationID)
	if err != nil {
		return "", err
	}
	r.Drain.Offer(apply.Input{
		Seq: seq, Class: class, ID: id, EventClass: eventClass, EventBytes: bytes,
		CorrelationID: correlationID,
	})
	return correlationID, nil
}

// SignalAt is the public timed-publish entrypoint and always fails with
// UnsupportedOperationError. Delayed publication originates from FSM
// emission only: a Behavior transition schedules one by returning an
// OtherSignal with FireAt set, which the Apply Engine inserts into
// delayed_signal_queue as part of the same transaction (see apply.go's
// outbound-signal step) — there is no legitimate way for a caller outside
// the FSM to schedule delayed delivery. This mirrors the Java source's
// signal(Signal<?, String>) overload, which throws
// UnsupportedOperationException whenever the given Signal carries a time.
func (r *Runtime) SignalAt(ctx context.Context, fromClass, fromID, class, id string, event behavior.Event, fireAt int64) (string, error) {
	return "", &ferrors.UnsupportedOperationError{Op: "signal with a fire-at via the public entrypoint"}
}

// Close releases the underlying connection pool.
func (r *Runtime) Close() error {
	return r.Store.Close()
}
