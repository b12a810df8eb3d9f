package store

import (
	"context"
	"database/sql"

	"github.com/durocore/duro/internal/ferrors"
	"github.com/durocore/duro/internal/sqlcatalog"
)

// EntityStore reads and writes entity bytes+state and the property rows
// projected from them. Every method takes a Queryer so it can run inside
// the Apply Engine's transaction or, for reads, directly against the
// pooled connection.
type EntityStore struct {
	catalog *sqlcatalog.Catalog
}

// ReadEntity returns the persisted bytes and state name for (class, id).
// ok is false if no row exists.
func (e *EntityStore) ReadEntity(ctx context.Context, q Queryer, class, id string) (bytes []byte, state string, ok bool, err error) {
	row := q.QueryRowContext(ctx, e.catalog.EntityRead, class, id)
	if err := row.Scan(&bytes, &state); err != nil {
		if err == sql.ErrNoRows {
			return nil, "", false, nil
		}
		return nil, "", false, &ferrors.StorageError{Op: "read entity", Err: err}
	}
	return bytes, state, true, nil
}

// SaveEntity is update-if-exists-else-insert: idempotent with respect to
// (class, id) regardless of whether a row was already present.
func (e *EntityStore) SaveEntity(ctx context.Context, q Queryer, class, id string, bytes []byte, state string) error {
	res, err := q.ExecContext(ctx, e.catalog.EntityUpdate, bytes, state, class, id)
	if err != nil {
		return &ferrors.StorageError{Op: "update entity", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &ferrors.StorageError{Op: "update entity rows affected", Err: err}
	}
	if n > 0 {
		return nil
	}

	if _, err := q.ExecContext(ctx, e.catalog.EntityInsert, class, id, bytes, state); err != nil {
		return &ferrors.StorageError{Op: "insert entity", Err: err}
	}
	return nil
}

// SaveProperties rebuilds the property rows for (class, id): delete all,
// then insert one row per map entry. An empty map leaves the entity with
// no property rows.
func (e *EntityStore) SaveProperties(ctx context.Context, q Queryer, class, id string, props map[string]string) error {
	if _, err := q.ExecContext(ctx, e.catalog.PropertyDelete, class, id); err != nil {
		return &ferrors.StorageError{Op: "delete properties", Err: err}
	}
	for name, value := range props {
		if _, err := q.ExecContext(ctx, e.catalog.PropertyInsert, class, id, name, value); err != nil {
			return &ferrors.StorageError{Op: "insert property", Err: err}
		}
	}
	return nil
}
