package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/recsync/internal/materialize"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/register"
)

var _ materialize.Materializer = (*Store)(nil)

// Commit durably records one operation: it appends o to the log and
// writes the registers o carries, in a single transaction.
//
// The log insert uses ON CONFLICT(id) DO NOTHING, so a redelivered
// operation is not logged twice; isNew reports whether it was appended.
// Register writes only replace stored rows they dominate, which makes the
// persisted registers the merge of every committed operation regardless of
// commit order or of what the in-memory merge decided.
func (s *Store) Commit(ctx context.Context, o op.Operation) (isNew bool, err error) {
	id, err := op.ID(o)
	if err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	payload, err := op.Marshal(o)
	if err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	ts, err := sqlTimestamp(o.Stamp.Time)
	if err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("commit: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO operations
		(id, record_id, model, type, timestamp, node_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		id,
		o.RecordID.String(),
		o.Model,
		string(o.Kind),
		ts,
		string(o.Stamp.Node),
		string(payload),
	)
	if err != nil {
		return false, fmt.Errorf("commit: append operation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("commit: rows affected: %w", err)
	}

	key := register.KeyOf(o)
	fields, liveness := register.Writes(o)
	for _, name := range o.Fields() {
		if err := writeRegister(ctx, tx, key, name, fields[name]); err != nil {
			return false, fmt.Errorf("commit: %w", err)
		}
	}
	if err := writeLiveness(ctx, tx, key, liveness); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return affected == 1, nil
}

// writeRegister upserts a field register if it dominates the stored one:
// later stamp, or equal stamp and greater canonical value bytes. TEXT
// comparison uses BINARY collation, which matches bytes.Compare.
func writeRegister(ctx context.Context, tx *sql.Tx, k register.Key, field string, r register.Register) error {
	value, err := marshalValue(r.Value)
	if err != nil {
		return fmt.Errorf("register %s.%s: %w", k, field, err)
	}
	ts, err := sqlTimestamp(r.Stamp.Time)
	if err != nil {
		return fmt.Errorf("register %s.%s: %w", k, field, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO registers (model, record_id, field, value, timestamp, node_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(model, record_id, field) DO UPDATE SET
			value = excluded.value,
			timestamp = excluded.timestamp,
			node_id = excluded.node_id
		WHERE excluded.timestamp > registers.timestamp
		   OR (excluded.timestamp = registers.timestamp AND excluded.node_id > registers.node_id)
		   OR (excluded.timestamp = registers.timestamp AND excluded.node_id = registers.node_id
		       AND excluded.value > registers.value)
	`, k.Model, k.RecordID.String(), field, value, ts, string(r.Stamp.Node))
	if err != nil {
		return fmt.Errorf("register %s.%s: %w", k, field, err)
	}
	return nil
}

// writeLiveness upserts a liveness register if it dominates the stored one.
// On equal stamps the tombstone wins.
func writeLiveness(ctx context.Context, tx *sql.Tx, k register.Key, l register.Liveness) error {
	ts, err := sqlTimestamp(l.Stamp.Time)
	if err != nil {
		return fmt.Errorf("liveness %s: %w", k, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tombstones (model, record_id, deleted, timestamp, node_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(model, record_id) DO UPDATE SET
			deleted = excluded.deleted,
			timestamp = excluded.timestamp,
			node_id = excluded.node_id
		WHERE excluded.timestamp > tombstones.timestamp
		   OR (excluded.timestamp = tombstones.timestamp AND excluded.node_id > tombstones.node_id)
		   OR (excluded.timestamp = tombstones.timestamp AND excluded.node_id = tombstones.node_id
		       AND excluded.deleted > tombstones.deleted)
	`, k.Model, k.RecordID.String(), boolToInt(l.Deleted), ts, string(l.Stamp.Node))
	if err != nil {
		return fmt.Errorf("liveness %s: %w", k, err)
	}
	return nil
}

// Materialize implements materialize.Materializer over the records table.
// Deleted records are removed; visible ones are replaced whole.
func (s *Store) Materialize(ctx context.Context, rec materialize.Record) error {
	if rec.Deleted {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM records WHERE model = ? AND record_id = ?
		`, rec.Key.Model, rec.Key.RecordID.String())
		if err != nil {
			return fmt.Errorf("materialize %s: %w", rec.Key, err)
		}
		return nil
	}

	data, err := marshalFields(rec.Fields)
	if err != nil {
		return fmt.Errorf("materialize %s: %w", rec.Key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (model, record_id, data)
		VALUES (?, ?, ?)
		ON CONFLICT(model, record_id) DO UPDATE SET data = excluded.data
	`, rec.Key.Model, rec.Key.RecordID.String(), data)
	if err != nil {
		return fmt.Errorf("materialize %s: %w", rec.Key, err)
	}
	return nil
}
