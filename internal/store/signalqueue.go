package store

import (
	"context"

	"github.com/durocore/duro/internal/ferrors"
	"github.com/durocore/duro/internal/sqlcatalog"
)

// SignalQueue is the durable FIFO of undelivered non-delayed signals.
// Sequence numbers are assigned by the database (AUTOINCREMENT/BIGSERIAL)
// and are strictly increasing across the life of the store.
type SignalQueue struct {
	catalog *sqlcatalog.Catalog
}

// Enqueue inserts one row and returns its assigned sequence number.
// correlationID ties this signal back to the publish (or the cascade) that
// produced it; SelectAll and the audit log both recover it verbatim.
func (q *SignalQueue) Enqueue(ctx context.Context, tx Queryer, class, id, eventClass string, eventBytes []byte, correlationID string) (int64, error) {
	if q.catalog.Dialect == "postgres" {
		var seq int64
		row := tx.QueryRowContext(ctx, q.catalog.SignalQueueInsert, class, id, eventClass, eventBytes, correlationID)
		if err := row.Scan(&seq); err != nil {
			return 0, &ferrors.StorageError{Op: "enqueue signal", Err: err}
		}
		return seq, nil
	}

	res, err := tx.ExecContext(ctx, q.catalog.SignalQueueInsert, class, id, eventClass, eventBytes, correlationID)
	if err != nil {
		return 0, &ferrors.StorageError{Op: "enqueue signal", Err: err}
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, &ferrors.StorageError{Op: "enqueue signal last insert id", Err: err}
	}
	return seq, nil
}

// Exists reports whether seq is still queued.
func (q *SignalQueue) Exists(ctx context.Context, tx Queryer, seq int64) (bool, error) {
	var count int
	if err := tx.QueryRowContext(ctx, q.catalog.SignalQueueExists, seq).Scan(&count); err != nil {
		return false, &ferrors.StorageError{Op: "signal exists", Err: err}
	}
	return count > 0, nil
}

// Delete removes seq from the queue.
func (q *SignalQueue) Delete(ctx context.Context, tx Queryer, seq int64) error {
	if _, err := tx.ExecContext(ctx, q.catalog.SignalQueueDelete, seq); err != nil {
		return &ferrors.StorageError{Op: "delete signal", Err: err}
	}
	return nil
}

// SelectAll returns every queued row in ascending sequence order. Used by
// startup recovery to enumerate rows orphaned by a crash (the adopted fix
// to spec.md §9's open question — see the Drain Scheduler).
func (q *SignalQueue) SelectAll(ctx context.Context, conn Queryer) ([]NumberedSignal, error) {
	rows, err := conn.QueryContext(ctx, q.catalog.SignalQueueSelectAll)
	if err != nil {
		return nil, &ferrors.StorageError{Op: "select all signals", Err: err}
	}
	defer rows.Close()

	var out []NumberedSignal
	for rows.Next() {
		var s NumberedSignal
		if err := rows.Scan(&s.Seq, &s.Class, &s.ID, &s.EventClass, &s.EventBytes, &s.CorrelationID); err != nil {
			return nil, &ferrors.StorageError{Op: "scan signal", Err: err}
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &ferrors.StorageError{Op: "iterate signals", Err: err}
	}
	return out, nil
}
