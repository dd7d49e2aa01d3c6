package materialize

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/register"
)

// MemoryView is an in-memory table of visible records.
//
// Thread-safety: MemoryView is safe for concurrent use.
type MemoryView struct {
	mu      sync.RWMutex
	records map[register.Key]ir.IRObject
}

var _ Materializer = (*MemoryView)(nil)

// NewMemoryView creates an empty view.
func NewMemoryView() *MemoryView {
	return &MemoryView{records: make(map[register.Key]ir.IRObject)}
}

// Materialize implements Materializer.
func (v *MemoryView) Materialize(_ context.Context, rec Record) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if rec.Deleted {
		delete(v.records, rec.Key)
		return nil
	}
	v.records[rec.Key] = rec.Fields.Clone()
	return nil
}

// Get returns the visible record at k.
func (v *MemoryView) Get(k register.Key) (ir.IRObject, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.records[k]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Len returns the number of visible records.
func (v *MemoryView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

// Keys returns the keys of visible records in key order.
func (v *MemoryView) Keys() []register.Key {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]register.Key, 0, len(v.records))
	for k := range v.records {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, register.Key.Compare)
	return keys
}
