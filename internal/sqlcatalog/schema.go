package sqlcatalog

import "fmt"

// schemaSQLite is the bit-level contract from the runtime's storage schema:
// entity, entity_property, signal_queue, delayed_signal_queue, signal_store,
// plus a schema_version row used to make bootstrap idempotent across
// restarts (mirrors the PRAGMA user_version discipline used elsewhere).
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS entity (
	cls   TEXT NOT NULL,
	id    TEXT NOT NULL,
	bytes BLOB NOT NULL,
	state TEXT NOT NULL,
	PRIMARY KEY (cls, id)
);

CREATE TABLE IF NOT EXISTS entity_property (
	cls   TEXT NOT NULL,
	id    TEXT NOT NULL,
	name  TEXT NOT NULL,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entity_property_lookup ON entity_property (cls, name, value);
CREATE INDEX IF NOT EXISTS idx_entity_property_owner ON entity_property (cls, id);

CREATE TABLE IF NOT EXISTS signal_queue (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	cls            TEXT NOT NULL,
	id             TEXT NOT NULL,
	event_cls      TEXT NOT NULL,
	event_bytes    BLOB NOT NULL,
	correlation_id TEXT NOT NULL,
	ts             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS delayed_signal_queue (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	from_cls       TEXT NOT NULL,
	from_id        TEXT NOT NULL,
	cls            TEXT NOT NULL,
	id             TEXT NOT NULL,
	event_cls      TEXT NOT NULL,
	event_bytes    BLOB NOT NULL,
	fire_at        BIGINT NOT NULL,
	correlation_id TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_delayed_signal_queue_key
	ON delayed_signal_queue (from_cls, from_id, cls, id);

CREATE TABLE IF NOT EXISTS signal_store (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	cls            TEXT NOT NULL,
	id             TEXT NOT NULL,
	event_cls      TEXT NOT NULL,
	event_bytes    BLOB NOT NULL,
	correlation_id TEXT NOT NULL,
	ts             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);
`

// schemaPostgres is the equivalent DDL for github.com/lib/pq, using
// BIGSERIAL/TIMESTAMPTZ in place of SQLite's AUTOINCREMENT/TIMESTAMP.
const schemaPostgres = `
CREATE TABLE IF NOT EXISTS entity (
	cls   TEXT NOT NULL,
	id    TEXT NOT NULL,
	bytes BYTEA NOT NULL,
	state TEXT NOT NULL,
	PRIMARY KEY (cls, id)
);

CREATE TABLE IF NOT EXISTS entity_property (
	cls   TEXT NOT NULL,
	id    TEXT NOT NULL,
	name  TEXT NOT NULL,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entity_property_lookup ON entity_property (cls, name, value);
CREATE INDEX IF NOT EXISTS idx_entity_property_owner ON entity_property (cls, id);

CREATE TABLE IF NOT EXISTS signal_queue (
	seq            BIGSERIAL PRIMARY KEY,
	cls            TEXT NOT NULL,
	id             TEXT NOT NULL,
	event_cls      TEXT NOT NULL,
	event_bytes    BYTEA NOT NULL,
	correlation_id TEXT NOT NULL,
	ts             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS delayed_signal_queue (
	seq            BIGSERIAL PRIMARY KEY,
	from_cls       TEXT NOT NULL,
	from_id        TEXT NOT NULL,
	cls            TEXT NOT NULL,
	id             TEXT NOT NULL,
	event_cls      TEXT NOT NULL,
	event_bytes    BYTEA NOT NULL,
	fire_at        BIGINT NOT NULL,
	correlation_id TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_delayed_signal_queue_key
	ON delayed_signal_queue (from_cls, from_id, cls, id);

CREATE TABLE IF NOT EXISTS signal_store (
	seq            BIGSERIAL PRIMARY KEY,
	cls            TEXT NOT NULL,
	id             TEXT NOT NULL,
	event_cls      TEXT NOT NULL,
	event_bytes    BYTEA NOT NULL,
	correlation_id TEXT NOT NULL,
	ts             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);
`

// schemaMySQL is the equivalent DDL for github.com/go-sql-driver/mysql.
const schemaMySQL = `
CREATE TABLE IF NOT EXISTS entity (
	cls   VARCHAR(255) NOT NULL,
	id    VARCHAR(255) NOT NULL,
	bytes LONGBLOB NOT NULL,
	state VARCHAR(255) NOT NULL,
	PRIMARY KEY (cls, id)
);

CREATE TABLE IF NOT EXISTS entity_property (
	cls   VARCHAR(255) NOT NULL,
	id    VARCHAR(255) NOT NULL,
	name  VARCHAR(255) NOT NULL,
	value VARCHAR(1024) NOT NULL,
	INDEX idx_entity_property_lookup (cls, name, value(255)),
	INDEX idx_entity_property_owner (cls, id)
);

CREATE TABLE IF NOT EXISTS signal_queue (
	seq            BIGINT AUTO_INCREMENT PRIMARY KEY,
	cls            VARCHAR(255) NOT NULL,
	id             VARCHAR(255) NOT NULL,
	event_cls      VARCHAR(255) NOT NULL,
	event_bytes    LONGBLOB NOT NULL,
	correlation_id VARCHAR(255) NOT NULL,
	ts             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS delayed_signal_queue (
	seq            BIGINT AUTO_INCREMENT PRIMARY KEY,
	from_cls       VARCHAR(255) NOT NULL,
	from_id        VARCHAR(255) NOT NULL,
	cls            VARCHAR(255) NOT NULL,
	id             VARCHAR(255) NOT NULL,
	event_cls      VARCHAR(255) NOT NULL,
	event_bytes    LONGBLOB NOT NULL,
	fire_at        BIGINT NOT NULL,
	correlation_id VARCHAR(255) NOT NULL,
	UNIQUE KEY idx_delayed_signal_queue_key (from_cls, from_id, cls, id)
);

CREATE TABLE IF NOT EXISTS signal_store (
	seq            BIGINT AUTO_INCREMENT PRIMARY KEY,
	cls            VARCHAR(255) NOT NULL,
	id             VARCHAR(255) NOT NULL,
	event_cls      VARCHAR(255) NOT NULL,
	event_bytes    LONGBLOB NOT NULL,
	correlation_id VARCHAR(255) NOT NULL,
	ts             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);
`

// Postgres returns the catalog for github.com/lib/pq, using "$n" positional
// placeholders and RETURNING for assigned sequence numbers, following the
// $-placeholder convention used throughout chendingplano-Shared's Postgres
// helpers.
func Postgres() *Catalog {
	return &Catalog{
		Dialect: "postgres",

		CreateSchema: schemaPostgres,

		EntityRead:   `SELECT bytes, state FROM entity WHERE cls = $1 AND id = $2`,
		EntityUpdate: `UPDATE entity SET bytes = $1, state = $2 WHERE cls = $3 AND id = $4`,
		EntityInsert: `INSERT INTO entity (cls, id, bytes, state) VALUES ($1, $2, $3, $4)`,

		EntitySelectAll: `SELECT id, bytes, state FROM entity WHERE cls = $1 ORDER BY id ASC`,

		PropertyDelete: `DELETE FROM entity_property WHERE cls = $1 AND id = $2`,
		PropertyInsert: `INSERT INTO entity_property (cls, id, name, value) VALUES ($1, $2, $3, $4)`,
		PropertyByName: `SELECT DISTINCT id FROM entity_property WHERE cls = $1 AND name = $2 AND value = $3`,

		Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		NumericCast: func(expr string) string { return "CAST(" + expr + " AS BIGINT)" },

		SignalQueueInsert: `INSERT INTO signal_queue (cls, id, event_cls, event_bytes, correlation_id)
			VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
		SignalQueueSelectAll: `SELECT seq, cls, id, event_cls, event_bytes, correlation_id FROM signal_queue ORDER BY seq ASC`,
		SignalQueueExists:    `SELECT COUNT(*) FROM signal_queue WHERE seq = $1`,
		SignalQueueDelete:    `DELETE FROM signal_queue WHERE seq = $1`,

		DelayedQueueInsert: `INSERT INTO delayed_signal_queue
			(from_cls, from_id, cls, id, event_cls, event_bytes, fire_at, correlation_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING seq`,
		DelayedQueueSelectAll: `SELECT seq, from_cls, from_id, cls, id, event_cls, event_bytes, fire_at, correlation_id
			FROM delayed_signal_queue ORDER BY seq ASC`,
		DelayedQueueDeleteByKey: `DELETE FROM delayed_signal_queue
			WHERE from_cls = $1 AND from_id = $2 AND cls = $3 AND id = $4`,
		DelayedQueueExists: `SELECT COUNT(*) FROM delayed_signal_queue WHERE seq = $1`,
		DelayedQueueDelete: `DELETE FROM delayed_signal_queue WHERE seq = $1`,

		SignalStoreAppend: `INSERT INTO signal_store (cls, id, event_cls, event_bytes, correlation_id) VALUES ($1, $2, $3, $4, $5)`,
	}
}

// MySQL returns the catalog for github.com/go-sql-driver/mysql, using "?"
// positional placeholders like the SQLite dialect but LAST_INSERT_ID()
// semantics for assigned sequence numbers.
func MySQL() *Catalog {
	return &Catalog{
		Dialect: "mysql",

		CreateSchema: schemaMySQL,

		EntityRead:   `SELECT bytes, state FROM entity WHERE cls = ? AND id = ?`,
		EntityUpdate: `UPDATE entity SET bytes = ?, state = ? WHERE cls = ? AND id = ?`,
		EntityInsert: `INSERT INTO entity (cls, id, bytes, state) VALUES (?, ?, ?, ?)`,

		EntitySelectAll: `SELECT id, bytes, state FROM entity WHERE cls = ? ORDER BY id ASC`,

		PropertyDelete: `DELETE FROM entity_property WHERE cls = ? AND id = ?`,
		PropertyInsert: `INSERT INTO entity_property (cls, id, name, value) VALUES (?, ?, ?, ?)`,
		PropertyByName: `SELECT DISTINCT id FROM entity_property WHERE cls = ? AND name = ? AND value = ?`,

		Placeholder: func(int) string { return "?" },
		NumericCast: func(expr string) string { return "CAST(" + expr + " AS SIGNED)" },

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
