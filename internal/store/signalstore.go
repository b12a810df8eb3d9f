package store

import (
	"context"

	"github.com/durocore/duro/internal/ferrors"
	"github.com/durocore/duro/internal/sqlcatalog"
)

// SignalStore is the optional append-only audit log of every event that
// reaches an entity. It is never read by the runtime; it exists purely for
// external audit/replay.
type SignalStore struct {
	catalog *sqlcatalog.Catalog
}

// Append records one event delivered to (class, id), tagged with the
// correlation id of the publish (or cascade) that produced it. Called
// inside the apply transaction only when storeSignals is enabled.
func (s *SignalStore) Append(ctx context.Context, tx Queryer, class, id, eventClass string, eventBytes []byte, correlationID string) error {
	if _, err := tx.ExecContext(ctx, s.catalog.SignalStoreAppend, class, id, eventClass, eventBytes, correlationID); err != nil {
		return &ferrors.StorageError{Op: "append signal store", Err: err}
	}
	return nil
}
