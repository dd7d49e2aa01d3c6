package register

import (
	"maps"
	"slices"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/ir"
)

// cell is the register set of one record. Its mutex serializes every
// check-and-set on the record.
type cell struct {
	mu     sync.Mutex
	fields map[string]Register
	live   Liveness
}

func (c *cell) snapshot() State {
	return State{Fields: maps.Clone(c.fields), Liveness: c.live}
}

// Store is the in-memory Field Register Store.
//
// Thread-safety: Store is safe for concurrent use. Writes to one record are
// serialized by that record's lock; writes to different records never
// contend beyond the concurrent map.
type Store struct {
	cells *xsync.MapOf[Key, *cell]
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{cells: xsync.NewMapOf[Key, *cell]()}
}

func (s *Store) cell(k Key) *cell {
	c, _ := s.cells.LoadOrCompute(k, func() *cell {
		return &cell{fields: make(map[string]Register)}
	})
	return c
}

// Tx applies writes to one record while holding its lock.
// A Tx is only valid inside the function passed to Store.Update.
type Tx struct {
	c *cell
}

// ApplyField writes value to field if (stamp, value) dominates the stored
// register. It reports whether the register changed.
func (tx *Tx) ApplyField(field string, value ir.IRValue, stamp clock.Stamp) bool {
	incoming := Register{Value: value, Stamp: stamp}
	stored, ok := tx.c.fields[field]
	if ok && !incoming.Dominates(stored) {
		return false
	}
	tx.c.fields[field] = incoming
	return true
}

// ApplyLiveness writes l to the liveness register if it dominates.
func (tx *Tx) ApplyLiveness(l Liveness) bool {
	if !l.Dominates(tx.c.live) {
		return false
	}
	tx.c.live = l
	return true
}

// ApplyTombstone marks the record deleted at stamp if that dominates.
func (tx *Tx) ApplyTombstone(stamp clock.Stamp) bool {
	return tx.ApplyLiveness(Liveness{Deleted: true, Stamp: stamp})
}

// ApplyAlive marks the record alive at stamp if that dominates.
func (tx *Tx) ApplyAlive(stamp clock.Stamp) bool {
	return tx.ApplyLiveness(Liveness{Deleted: false, Stamp: stamp})
}

// Field returns the current register of field.
func (tx *Tx) Field(field string) (Register, bool) {
	r, ok := tx.c.fields[field]
	return r, ok
}

// State returns a snapshot of the record.
func (tx *Tx) State() State {
	return tx.c.snapshot()
}

// Update runs fn with exclusive access to the record at k, creating its
// state if this is the first write seen for it.
func (s *Store) Update(k Key, fn func(tx *Tx)) {
	c := s.cell(k)
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&Tx{c: c})
}

// ApplyField is Update with a single field write.
func (s *Store) ApplyField(k Key, field string, value ir.IRValue, stamp clock.Stamp) bool {
	var changed bool
	s.Update(k, func(tx *Tx) {
		changed = tx.ApplyField(field, value, stamp)
	})
	return changed
}

// ApplyTombstone is Update with a single tombstone write. The field
// registers are untouched.
func (s *Store) ApplyTombstone(k Key, stamp clock.Stamp) bool {
	var changed bool
	s.Update(k, func(tx *Tx) {
		changed = tx.ApplyTombstone(stamp)
	})
	return changed
}

// Get returns a snapshot of the record, or false if no write for it has
// ever been seen.
func (s *Store) Get(k Key) (State, bool) {
	c, ok := s.cells.Load(k)
	if !ok {
		return State{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot(), true
}

// Len returns the number of known records.
func (s *Store) Len() int {
	return s.cells.Size()
}

// Keys returns every known key in Key.Compare order.
func (s *Store) Keys() []Key {
	keys := make([]Key, 0, s.cells.Size())
	s.cells.Range(func(k Key, _ *cell) bool {
		keys = append(keys, k)
		return true
	})
	slices.SortFunc(keys, Key.Compare)
	return keys
}

// Range calls fn for every known record in key order until fn returns
// false. Each state is a snapshot taken when it is visited.
func (s *Store) Range(fn func(Key, State) bool) {
	for _, k := range s.Keys() {
		st, ok := s.Get(k)
		if !ok {
			continue
		}
		if !fn(k, st) {
			return
		}
	}
}

// Canonical encodes every register, stamps included, as canonical JSON in
// key order. Two stores holding the same registers encode identically.
func (s *Store) Canonical() ([]byte, error) {
	all := ir.IRArray{}
	s.Range(func(k Key, state State) bool {
		fields := ir.IRObject{}
		for name, r := range state.Fields {
			fields[name] = ir.IRObject{"value": r.Value, "stamp": ir.IRString(r.Stamp.String())}
		}
		all = append(all, ir.IRObject{
			"key":      ir.IRString(k.String()),
			"fields":   fields,
			"deleted":  ir.IRBool(state.Liveness.Deleted),
			"liveness": ir.IRString(state.Liveness.Stamp.String()),
		})
		return true
	})
	return ir.MarshalCanonical(all)
}
