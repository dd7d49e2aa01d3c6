package register

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/testutil"
)

var testKey = Key{Model: "tag", RecordID: op.RecordID(testutil.UUID(1))}

func TestStore_GetUnknown(t *testing.T) {
	s := NewStore()
	_, ok := s.Get(testKey)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len(), "Get must not create state")
}

func TestStore_ApplyFieldDominance(t *testing.T) {
	s := NewStore()

	assert.True(t, s.ApplyField(testKey, "name", ir.IRString("Work"), st(2, "a")))
	assert.False(t, s.ApplyField(testKey, "name", ir.IRString("Old"), st(1, "a")))
	assert.False(t, s.ApplyField(testKey, "name", ir.IRString("Work"), st(2, "a")), "redelivery is a no-op")
	assert.True(t, s.ApplyField(testKey, "name", ir.IRString("New"), st(3, "a")))

	state, ok := s.Get(testKey)
	require.True(t, ok)
	assert.Equal(t, Register{Value: ir.IRString("New"), Stamp: st(3, "a")}, state.Fields["name"])
}

func TestStore_FieldsAreIndependent(t *testing.T) {
	s := NewStore()

	s.ApplyField(testKey, "name", ir.IRString("Work"), st(5, "a"))
	s.ApplyField(testKey, "color", ir.IRString("blue"), st(5, "a"))
	assert.True(t, s.ApplyField(testKey, "color", ir.IRString("red"), st(6, "b")))
	assert.False(t, s.ApplyField(testKey, "name", ir.IRString("Home"), st(4, "b")))

	state, _ := s.Get(testKey)
	assert.Equal(t, ir.IRObject{"name": ir.IRString("Work"), "color": ir.IRString("red")}, state.Values())
	assert.Equal(t, st(5, "a"), state.Fields["name"].Stamp)
}

func TestStore_TombstoneIndependentOfFields(t *testing.T) {
	s := NewStore()

	assert.True(t, s.ApplyTombstone(testKey, st(5, "a")))
	assert.False(t, s.ApplyTombstone(testKey, st(5, "a")))

	// Field writes are accepted under a tombstone.
	assert.True(t, s.ApplyField(testKey, "name", ir.IRString("Work"), st(3, "a")))

	state, ok := s.Get(testKey)
	require.True(t, ok)
	assert.False(t, state.Visible())
	assert.Equal(t, ir.IRString("Work"), state.Fields["name"].Value)
}

func TestStore_Resurrection(t *testing.T) {
	s := NewStore()
	s.ApplyTombstone(testKey, st(5, "a"))

	s.Update(testKey, func(tx *Tx) {
		assert.False(t, tx.ApplyAlive(st(4, "a")), "older write keeps the tombstone")
	})
	state, _ := s.Get(testKey)
	assert.False(t, state.Visible())

	s.Update(testKey, func(tx *Tx) {
		assert.True(t, tx.ApplyAlive(st(6, "a")))
	})
	state, _ = s.Get(testKey)
	assert.True(t, state.Visible())
}

func TestStore_UpdateIsAtomicPerRecord(t *testing.T) {
	s := NewStore()
	s.Update(testKey, func(tx *Tx) {
		tx.ApplyField("name", ir.IRString("Work"), st(1, "a"))
		tx.ApplyAlive(st(1, "a"))

		r, ok := tx.Field("name")
		require.True(t, ok)
		assert.Equal(t, ir.IRString("Work"), r.Value)
		assert.Len(t, tx.State().Fields, 1)
	})
}

func TestStore_SnapshotIsDetached(t *testing.T) {
	s := NewStore()
	s.ApplyField(testKey, "name", ir.IRString("Work"), st(1, "a"))

	state, _ := s.Get(testKey)
	state.Fields["name"] = Register{Value: ir.IRString("mutated")}

	again, _ := s.Get(testKey)
	assert.Equal(t, ir.IRString("Work"), again.Fields["name"].Value)
}

func TestStore_RangeInKeyOrder(t *testing.T) {
	s := NewStore()
	keys := []Key{
		{Model: "volume", RecordID: op.RecordID(testutil.UUID(1))},
		{Model: "tag", RecordID: op.RecordID(testutil.UUID(2))},
		{Model: "tag", RecordID: op.RecordID(testutil.UUID(1))},
	}
	for _, k := range keys {
		s.ApplyTombstone(k, st(1, "a"))
	}

	var visited []Key
	s.Range(func(k Key, _ State) bool {
		visited = append(visited, k)
		return true
	})
	assert.Equal(t, []Key{keys[2], keys[1], keys[0]}, visited)
	assert.Equal(t, 3, s.Len())

	var first []Key
	s.Range(func(k Key, _ State) bool {
		first = append(first, k)
		return false
	})
	assert.Len(t, first, 1)
}

func TestStore_ConcurrentWritesSameField(t *testing.T) {
	s := NewStore()
	const writers = 64

	var wg sync.WaitGroup
	accepted := make([]bool, writers)
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			accepted[i] = s.ApplyField(testKey, "name", ir.IRInt(int64(i)), st(uint64(i+1), "a"))
		}(i)
	}
	wg.Wait()

	state, _ := s.Get(testKey)
	assert.Equal(t, ir.IRInt(writers-1), state.Fields["name"].Value)
	assert.True(t, accepted[writers-1], "the maximal write always passes the dominance check")
}

func TestStore_ConcurrentIndependentRecords(t *testing.T) {
	s := NewStore()
	const records = 100

	var wg sync.WaitGroup
	wg.Add(records)
	for i := 0; i < records; i++ {
		go func(i int) {
			defer wg.Done()
			k := Key{Model: "tag", RecordID: op.RecordID(testutil.UUID(uint64(i)))}
			for j := 1; j <= 10; j++ {
				s.ApplyField(k, "name", ir.IRString(fmt.Sprintf("v%d", j)), st(uint64(j), "a"))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, records, s.Len())
	s.Range(func(k Key, state State) bool {
		assert.Equal(t, ir.IRString("v10"), state.Fields["name"].Value, k.String())
		return true
	})
}

func TestStore_ConvergesUnderEveryPermutation(t *testing.T) {
	type write struct {
		field string
		value ir.IRValue
		stamp clock.Stamp
		tomb  bool
	}
	writes := []write{
		{field: "name", value: ir.IRString("Work"), stamp: st(1, "a")},
		{field: "color", value: ir.IRString("blue"), stamp: st(2, "b")},
		{field: "name", value: ir.IRString("Personal"), stamp: st(2, "a")},
		{tomb: true, stamp: st(3, "c")},
		{field: "name", value: ir.IRString("Tie"), stamp: st(2, "a")},
	}

	apply := func(order []int) State {
		s := NewStore()
		for _, i := range order {
			w := writes[i]
			if w.tomb {
				s.ApplyTombstone(testKey, w.stamp)
				continue
			}
			s.ApplyField(testKey, w.field, w.value, w.stamp)
		}
		state, _ := s.Get(testKey)
		return state
	}

	want := apply([]int{0, 1, 2, 3, 4})
	permute([]int{0, 1, 2, 3, 4}, func(order []int) {
		assert.Equal(t, want, apply(order), "order %v", order)
	})

	// "Tie" and "Personal" share a stamp; the greater canonical bytes win.
	assert.Equal(t, ir.IRString("Tie"), want.Fields["name"].Value)
	assert.False(t, want.Visible())
}

// permute calls fn with every permutation of xs (Heap's algorithm).
func permute(xs []int, fn func([]int)) {
	var gen func(int)
	gen = func(n int) {
		if n == 1 {
			fn(append([]int(nil), xs...))
			return
		}
		for i := 0; i < n-1; i++ {
			gen(n - 1)
			if n%2 == 0 {
				xs[i], xs[n-1] = xs[n-1], xs[i]
			} else {
				xs[0], xs[n-1] = xs[n-1], xs[0]
			}
		}
		gen(n - 1)
	}
	gen(len(xs))
}

func TestStore_Canonical(t *testing.T) {
	a := NewStore()
	b := NewStore()
	k := testKey

	a.ApplyField(k, "name", ir.IRString("x"), st(1, "a"))
	a.ApplyTombstone(k, st(2, "a"))
	b.ApplyTombstone(k, st(2, "a"))
	b.ApplyField(k, "name", ir.IRString("x"), st(1, "a"))

	ca, err := a.Canonical()
	require.NoError(t, err)
	cb, err := b.Canonical()
	require.NoError(t, err)
	assert.Equal(t, string(ca), string(cb))
	assert.Contains(t, string(ca), `"deleted":true`)

	b.ApplyField(k, "name", ir.IRString("y"), st(3, "a"))
	cb, err = b.Canonical()
	require.NoError(t, err)
	assert.NotEqual(t, string(ca), string(cb))

	empty, err := NewStore().Canonical()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}
