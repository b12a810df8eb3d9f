// Package sqlcatalog holds the named, parameterized SQL statements the
// store issues. Statement names and their parameter shapes are the
// contract the rest of the runtime depends on; the SQL text itself is
// swappable per dialect.
package sqlcatalog

// Catalog groups every statement the persistence layer needs. A Catalog is
// immutable once built; runtime.WithCatalog accepts any value here, so a
// caller may substitute a fully custom dialect without touching the store
// package.
type Catalog struct {
	Dialect string

	CreateSchema string

	EntityRead   string
	EntityUpdate string
	EntityInsert string

	EntitySelectAll string // SELECT id, bytes, state ordered by id, for listAll

	PropertyDelete string
	PropertyInsert string
	PropertyByName string // WHERE cls=? AND name=? AND value=?

	// Placeholder renders the driver's positional-parameter token for the
	// n-th (1-based) bound value. The Query API builds getByProperties and
	// getByPropertyWithRange statements at call time, since their shape
	// depends on how many predicates the caller passed; every other
	// statement in this catalog is static.
	Placeholder func(n int) string

	// NumericCast wraps a SQL expression (an entity_property.value
	// reference) so it compares as a 64-bit integer instead of text. Range
	// queries operate on this cast expression.
	NumericCast func(expr string) string

	SignalQueueInsert    string // returns assigned seq via LastInsertId (sqlite/mysql) or RETURNING (postgres)
	SignalQueueSelectAll string // ordered by seq ASC, for startup recovery
	SignalQueueExists    string
	SignalQueueDelete    string

	DelayedQueueInsert          string
	DelayedQueueSelectAll       string
	DelayedQueueDeleteByKey     string
	DelayedQueueExists          string
	DelayedQueueDelete          string

	SignalStoreAppend string
}

// Default returns the catalog for github.com/mattn/go-sqlite3, using "?"
// positional placeholders and AUTOINCREMENT primary keys.
func Default() *Catalog {
	return &Catalog{
		Dialect: "sqlite3",

		CreateSchema: schemaSQLite,

		EntityRead:   `SELECT bytes, state FROM entity WHERE cls = ? AND id = ?`,
		EntityUpdate: `UPDATE entity SET bytes = ?, state = ? WHERE cls = ? AND id = ?`,
		EntityInsert: `INSERT INTO entity (cls, id, bytes, state) VALUES (?, ?, ?, ?)`,

		EntitySelectAll: `SELECT id, bytes, state FROM entity WHERE cls = ? ORDER BY id ASC`,

		PropertyDelete: `DELETE FROM entity_property WHERE cls = ? AND id = ?`,
		PropertyInsert: `INSERT INTO entity_property (cls, id, name, value) VALUES (?, ?, ?, ?)`,
		PropertyByName: `SELECT DISTINCT id FROM entity_property WHERE cls = ? AND name = ? AND value = ?`,

		Placeholder: func(int) string { return "?" },
		NumericCast: func(expr string) string { return "CAST(" + expr + " AS INTEGER)" },

		SignalQueueInsert:    `INSERT INTO signal_queue (cls, id, event_cls, event_bytes, correlation_id) VALUES (?, ?, ?, ?, ?)`,
		SignalQueueSelectAll: `SELECT seq, cls, id, event_cls, event_bytes, correlation_id FROM signal_queue ORDER BY seq ASC`,
		SignalQueueExists:    `SELECT COUNT(*) FROM signal_queue WHERE seq = ?`,
		SignalQueueDelete:    `DELETE FROM signal_queue WHERE seq = ?`,

		DelayedQueueInsert: `INSERT INTO delayed_signal_queue
			(from_cls, from_id, cls, id, event_cls, event_bytes, fire_at, correlation_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		DelayedQueueSelectAll: `SELECT seq, from_cls, from_id, cls, id, event_cls, event_bytes, fire_at, correlation_id
			FROM delayed_signal_queue ORDER BY seq ASC`,
		DelayedQueueDeleteByKey: `DELETE FROM delayed_signal_queue
			WHERE from_cls = ? AND from_id = ? AND cls = ? AND id = ?`,
		DelayedQueueExists: `SELECT COUNT(*) FROM delayed_signal_queue WHERE seq = ?`,
		DelayedQueueDelete: `DELETE FROM delayed_signal_queue WHERE seq = ?`,

		SignalStoreAppend: `INSERT INTO signal_store (cls, id, event_cls, event_bytes, correlation_id) VALUES (?, ?, ?, ?, ?)`,
	}
}
