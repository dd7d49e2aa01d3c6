package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/register"
)

// ForEachOperation streams the log to fn in seq ASC, id ASC order.
// Iteration stops at the first error from fn, which is returned unwrapped.
// fn must not call back into the store: the single connection is busy.
func (s *Store) ForEachOperation(ctx context.Context, fn func(op.Operation) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM operations
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return fmt.Errorf("query operations: %w", err)
	}
	return scanOperations(rows, fn)
}

// ReadOperations returns the whole log in replay order.
//
// Returns an empty slice (not nil) if the log is empty.
func (s *Store) ReadOperations(ctx context.Context) ([]op.Operation, error) {
	ops := []op.Operation{}
	err := s.ForEachOperation(ctx, func(o op.Operation) error {
		ops = append(ops, o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// History returns the logged operations targeting one record, in replay
// order.
func (s *Store) History(ctx context.Context, k register.Key) ([]op.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM operations
		WHERE model = ? AND record_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, k.Model, k.RecordID.String())
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	ops := []op.Operation{}
	err = scanOperations(rows, func(o op.Operation) error {
		ops = append(ops, o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

func scanOperations(rows *sql.Rows, fn func(op.Operation) error) error {
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan operation: %w", err)
		}
		o, err := op.Unmarshal([]byte(payload))
		if err != nil {
			return fmt.Errorf("decode logged operation: %w", err)
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate operations: %w", err)
	}
	return nil
}
