package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/register"
)

// RecordRow is one row of the materialized records table.
type RecordRow struct {
	Key    register.Key
	Fields ir.IRObject
}

// ReadRecord returns the materialized fields of a visible record.
// Returns sql.ErrNoRows if the record is absent or deleted.
func (s *Store) ReadRecord(ctx context.Context, k register.Key) (ir.IRObject, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM records WHERE model = ? AND record_id = ?
	`, k.Model, k.RecordID.String()).Scan(&data)
	if err != nil {
		return nil, err
	}
	return unmarshalFields(data)
}

// ListRecords returns materialized records ordered by model, then id.
// An empty model lists every model.
//
// Returns an empty slice (not nil) if there are no records.
func (s *Store) ListRecords(ctx context.Context, model string) ([]RecordRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, record_id, data
		FROM records
		WHERE ? = '' OR model = ?
		ORDER BY model ASC, record_id COLLATE BINARY ASC
	`, model, model)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []RecordRow{}
	for rows.Next() {
		var m, id, data string
		if err := rows.Scan(&m, &id, &data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rid, err := op.ParseRecordID(id)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		fields, err := unmarshalFields(data)
		if err != nil {
			return nil, fmt.Errorf("scan record %s/%s: %w", m, id, err)
		}
		out = append(out, RecordRow{Key: register.Key{Model: m, RecordID: rid}, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// LoadRegisters merges every persisted field and liveness register into
// dst and returns the number of registers loaded. Loading is itself a
// merge, so dst may already hold state.
func (s *Store) LoadRegisters(ctx context.Context, dst *register.Store) (int, error) {
	n, err := s.loadFields(ctx, dst)
	if err != nil {
		return 0, err
	}
	m, err := s.loadLiveness(ctx, dst)
	if err != nil {
		return 0, err
	}
	return n + m, nil
}

func (s *Store) loadFields(ctx context.Context, dst *register.Store) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, record_id, field, value, timestamp, node_id
		FROM registers
		ORDER BY model ASC, record_id COLLATE BINARY ASC, field COLLATE BINARY ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("query registers: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var model, id, field, value, node string
		var ts int64
		if err := rows.Scan(&model, &id, &field, &value, &ts, &node); err != nil {
			return 0, fmt.Errorf("scan register: %w", err)
		}
		rid, err := op.ParseRecordID(id)
		if err != nil {
			return 0, fmt.Errorf("scan register: %w", err)
		}
		v, err := unmarshalValue(value)
		if err != nil {
			return 0, fmt.Errorf("scan register %s/%s.%s: %w", model, id, field, err)
		}
		dst.ApplyField(register.Key{Model: model, RecordID: rid}, field, v, stampFromSQL(ts, node))
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate registers: %w", err)
	}
	return n, nil
}

func (s *Store) loadLiveness(ctx context.Context, dst *register.Store) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, record_id, deleted, timestamp, node_id
		FROM tombstones
		ORDER BY model ASC, record_id COLLATE BINARY ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("query tombstones: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var model, id, node string
		var deleted int
		var ts int64
		if err := rows.Scan(&model, &id, &deleted, &ts, &node); err != nil {
			return 0, fmt.Errorf("scan tombstone: %w", err)
		}
		rid, err := op.ParseRecordID(id)
		if err != nil {
			return 0, fmt.Errorf("scan tombstone: %w", err)
		}
		l := register.Liveness{Deleted: deleted == 1, Stamp: stampFromSQL(ts, node)}
		dst.Update(register.Key{Model: model, RecordID: rid}, func(tx *register.Tx) {
			tx.ApplyLiveness(l)
		})
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate tombstones: %w", err)
	}
	return n, nil
}

// MaxStamp returns the greatest stamp in the operation log, or the zero
// stamp if the log is empty.
func (s *Store) MaxStamp(ctx context.Context) (clock.Stamp, error) {
	var ts int64
	var node string
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp, node_id
		FROM operations
		ORDER BY timestamp DESC, node_id COLLATE BINARY DESC
		LIMIT 1
	`).Scan(&ts, &node)
	if errors.Is(err, sql.ErrNoRows) {
		return clock.Stamp{}, nil
	}
	if err != nil {
		return clock.Stamp{}, fmt.Errorf("max stamp: %w", err)
	}
	return stampFromSQL(ts, node), nil
}

// CountOperations returns the number of logged operations.
func (s *Store) CountOperations(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&n); err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}
	return n, nil
}

// HasOperation reports whether an operation with the given content id is
// in the log.
func (s *Store) HasOperation(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM operations WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has operation: %w", err)
	}
	return true, nil
}
