package store

import (
	"context"

	"github.com/durocore/duro/internal/ferrors"
	"github.com/durocore/duro/internal/sqlcatalog"
)

// DelayedSignalQueue is the durable table of timed (fromEntity -> toEntity)
// signals. At most one live row exists per cancellation key
// (fromClass, fromID, class, id); Insert enforces this by deleting any
// existing row for the key before inserting the new one.
type DelayedSignalQueue struct {
	catalog *sqlcatalog.Catalog
}

// Insert deletes any row with the same cancellation key, then inserts the
// new delayed row, returning its assigned sequence number. correlationID
// ties this delayed signal back to the publish (or the cascade) that
// produced it.
func (q *DelayedSignalQueue) Insert(ctx context.Context, tx Queryer, fromClass, fromID, class, id, eventClass string, eventBytes []byte, fireAt int64, correlationID string) (int64, error) {
	if err := q.DeleteByCancellationKey(ctx, tx, fromClass, fromID, class, id); err != nil {
		return 0, err
	}

	if q.catalog.Dialect == "postgres" {
		var seq int64
		row := tx.QueryRowContext(ctx, q.catalog.DelayedQueueInsert, fromClass, fromID, class, id, eventClass, eventBytes, fireAt, correlationID)
		if err := row.Scan(&seq); err != nil {
			return 0, &ferrors.StorageError{Op: "insert delayed signal", Err: err}
		}
		return seq, nil
	}

	res, err := tx.ExecContext(ctx, q.catalog.DelayedQueueInsert, fromClass, fromID, class, id, eventClass, eventBytes, fireAt, correlationID)
	if err != nil {
		return 0, &ferrors.StorageError{Op: "insert delayed signal", Err: err}
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, &ferrors.StorageError{Op: "insert delayed signal last insert id", Err: err}
	}
	return seq, nil
}

// DeleteByCancellationKey removes the delayed row (if any) keyed by
// (fromClass, fromID, class, id). This is both how the distinguished
// CancelTimedSignal event is honored and how Insert enforces at-most-one
// live row per key.
func (q *DelayedSignalQueue) DeleteByCancellationKey(ctx context.Context, tx Queryer, fromClass, fromID, class, id string) error {
	if _, err := tx.ExecContext(ctx, q.catalog.DelayedQueueDeleteByKey, fromClass, fromID, class, id); err != nil {
		return &ferrors.StorageError{Op: "delete delayed signal by key", Err: err}
	}
	return nil
}

// Exists reports whether seq is still scheduled.
func (q *DelayedSignalQueue) Exists(ctx context.Context, tx Queryer, seq int64) (bool, error) {
	var count int
	if err := tx.QueryRowContext(ctx, q.catalog.DelayedQueueExists, seq).Scan(&count); err != nil {
		return false, &ferrors.StorageError{Op: "delayed signal exists", Err: err}
	}
	return count > 0, nil
}

// Delete removes seq from the delayed queue.
func (q *DelayedSignalQueue) Delete(ctx context.Context, tx Queryer, seq int64) error {
	if _, err := tx.ExecContext(ctx, q.catalog.DelayedQueueDelete, seq); err != nil {
		return &ferrors.StorageError{Op: "delete delayed signal", Err: err}
	}
	return nil
}

// SelectAll returns every delayed row in ascending sequence order. Used on
// startup to schedule each row at its fire-at.
func (q *DelayedSignalQueue) SelectAll(ctx context.Context, conn Queryer) ([]NumberedDelayedSignal, error) {
	rows, err := conn.QueryContext(ctx, q.catalog.DelayedQueueSelectAll)
	if err != nil {
		return nil, &ferrors.StorageError{Op: "select all delayed signals", Err: err}
	}
	defer rows.Close()

	var out []NumberedDelayedSignal
	for rows.Next() {
		var d NumberedDelayedSignal
		if err := rows.Scan(&d.Seq, &d.FromClass, &d.FromID, &d.Class, &d.ID, &d.EventClass, &d.EventBytes, &d.FireAt, &d.CorrelationID); err != nil {
			return nil, &ferrors.StorageError{Op: "scan delayed signal", Err: err}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &ferrors.StorageError{Op: "iterate delayed signals", Err: err}
	}
	return out, nil
}
