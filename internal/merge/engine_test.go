package merge

import (
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/metrics"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/register"
	"github.com/roach88/recsync/internal/schema"
	"github.com/roach88/recsync/internal/testutil"
)

var (
	idX = op.RecordID(testutil.UUID(1))
	idY = op.RecordID(testutil.UUID(2))
)

func tagRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(schema.Model{
		Name: "tag",
		Fields: []schema.Field{
			{Name: "name", Type: schema.TypeString},
			{Name: "color", Type: schema.TypeString, Nullable: true},
		},
		Required:  []string{"name"},
		Updatable: []string{"name", "color"},
	}))
	return reg
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(tagRegistry(t), register.NewStore(), append([]Option{WithLogger(quiet)}, opts...)...)
}

func at(ts uint64, node string) clock.Stamp {
	return clock.Stamp{Time: clock.Timestamp(ts), Node: clock.NodeID(node)}
}

func create(id op.RecordID, data ir.IRObject, s clock.Stamp) op.Operation {
	return op.NewCreate(id, "tag", data).WithStamp(s)
}

func update(id op.RecordID, field string, v ir.IRValue, s clock.Stamp) op.Operation {
	return op.NewUpdate(id, "tag", field, v).WithStamp(s)
}

func del(id op.RecordID, s clock.Stamp) op.Operation {
	return op.NewDelete(id, "tag").WithStamp(s)
}

func state(t *testing.T, e *Engine, id op.RecordID) register.State {
	t.Helper()
	s, ok := e.Registers().Get(register.Key{Model: "tag", RecordID: id})
	require.True(t, ok)
	return s
}

func TestApply_OutOfOrderUpdatesConverge(t *testing.T) {
	// Create at 1 (A), color at 2 (B), and a rename at 1.5 (A) that
	// arrives last. Timestamps are scaled by 10 to stay integral.
	ops := []op.Operation{
		create(idX, ir.IRObject{"name": ir.IRString("Work")}, at(10, testutil.NodeA)),
		update(idX, "color", ir.IRString("blue"), at(20, testutil.NodeB)),
		update(idX, "name", ir.IRString("Personal"), at(15, testutil.NodeA)),
	}

	permute(len(ops), func(order []int) {
		e := newTestEngine(t)
		for _, i := range order {
			_, err := e.Apply(ops[i])
			require.NoError(t, err)
		}
		s := state(t, e, idX)
		assert.Equal(t, ir.IRObject{"name": ir.IRString("Personal"), "color": ir.IRString("blue")}, s.Values(), "order %v", order)
		assert.True(t, s.Visible())
	})
}

func TestApply_ConcurrentCreatesTieBreakOnNode(t *testing.T) {
	a := create(idY, ir.IRObject{"name": ir.IRString("A")}, at(5, "node1"))
	b := create(idY, ir.IRObject{"name": ir.IRString("B")}, at(5, "node2"))

	for _, order := range [][]op.Operation{{a, b}, {b, a}} {
		e := newTestEngine(t)
		_, err := e.ApplyAll(order)
		require.NoError(t, err)
		assert.Equal(t, ir.IRString("B"), state(t, e, idY).Values()["name"])
	}
}

func TestApply_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	o := create(idX, ir.IRObject{"name": ir.IRString("Work"), "color": ir.IRString("red")}, at(1, "a"))

	first, err := e.Apply(o)
	require.NoError(t, err)
	assert.True(t, first.Accepted())
	assert.Equal(t, []string{"color", "name"}, first.Changed)
	before := state(t, e, idX)

	second, err := e.Apply(o)
	require.NoError(t, err)
	assert.False(t, second.Accepted())
	assert.Empty(t, second.Changed)
	assert.Equal(t, before, state(t, e, idX))
}

func TestApply_PerFieldIndependence(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Apply(create(idX, ir.IRObject{"name": ir.IRString("Work"), "color": ir.IRString("red")}, at(5, "a")))
	require.NoError(t, err)

	res, err := e.Apply(update(idX, "color", ir.IRString("blue"), at(5, "b")))
	require.NoError(t, err)
	assert.Equal(t, []string{"color"}, res.Changed)

	s := state(t, e, idX)
	assert.Equal(t, at(5, "a"), s.Fields["name"].Stamp)
	assert.Equal(t, ir.IRString("Work"), s.Fields["name"].Value)
	assert.Equal(t, at(5, "b"), s.Fields["color"].Stamp)
}

func TestApply_CreateIsNotPrivileged(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Apply(update(idX, "name", ir.IRString("Later"), at(9, "a")))
	require.NoError(t, err)

	res, err := e.Apply(create(idX, ir.IRObject{"name": ir.IRString("Initial"), "color": ir.IRString("red")}, at(1, "a")))
	require.NoError(t, err)
	assert.Equal(t, []string{"color"}, res.Changed)
	assert.False(t, res.LivenessChanged)

	assert.Equal(t, ir.IRString("Later"), state(t, e, idX).Values()["name"])
}

func TestApply_TombstoneResurrection(t *testing.T) {
	t.Run("later write resurrects", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.ApplyAll([]op.Operation{
			create(idX, ir.IRObject{"name": ir.IRString("Work")}, at(1, "a")),
			del(idX, at(5, "a")),
		})
		require.NoError(t, err)
		assert.False(t, state(t, e, idX).Visible())

		res, err := e.Apply(update(idX, "color", ir.IRString("blue"), at(6, "b")))
		require.NoError(t, err)
		assert.True(t, res.TombstoneChanged)
		assert.True(t, res.Visible)

		s := state(t, e, idX)
		assert.True(t, s.Visible())
		assert.Equal(t, ir.IRString("Work"), s.Values()["name"], "fields survive the tombstone")
	})

	t.Run("earlier write stays tombstoned", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.ApplyAll([]op.Operation{
			create(idX, ir.IRObject{"name": ir.IRString("Work")}, at(1, "a")),
			del(idX, at(5, "a")),
		})
		require.NoError(t, err)

		res, err := e.Apply(update(idX, "color", ir.IRString("blue"), at(4, "b")))
		require.NoError(t, err)
		assert.Equal(t, []string{"color"}, res.Changed, "the field register still merges")
		assert.False(t, res.Visible)
		assert.False(t, state(t, e, idX).Visible())
	})

	t.Run("delete wins an exact tie", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.ApplyAll([]op.Operation{
			del(idX, at(5, "a")),
			update(idX, "name", ir.IRString("Work"), at(5, "a")),
		})
		require.NoError(t, err)
		assert.False(t, state(t, e, idX).Visible())
	})
}

func TestApply_DeleteBeforeCreate(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Apply(del(idX, at(5, "a")))
	require.NoError(t, err)
	assert.True(t, res.LivenessChanged)
	assert.False(t, res.TombstoneChanged, "an unseen record was never visible")

	_, err = e.Apply(create(idX, ir.IRObject{"name": ir.IRString("Work")}, at(1, "a")))
	require.NoError(t, err)
	assert.False(t, state(t, e, idX).Visible())
}

func TestApply_UpdateBeforeCreate(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Apply(update(idX, "color", ir.IRString("blue"), at(3, "a")))
	require.NoError(t, err)
	assert.True(t, res.Visible)
	assert.True(t, res.TombstoneChanged)
	assert.Equal(t, 1, e.Registers().Len())
}

func TestApply_NullClearsNullableField(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ApplyAll([]op.Operation{
		create(idX, ir.IRObject{"name": ir.IRString("Work"), "color": ir.IRString("red")}, at(1, "a")),
		update(idX, "color", ir.Null, at(2, "a")),
	})
	require.NoError(t, err)
	assert.Equal(t, ir.Null, state(t, e, idX).Values()["color"])
}

func TestApply_Rejections(t *testing.T) {
	tests := []struct {
		name          string
		op            op.Operation
		serialization bool
	}{
		{"unstamped", op.NewDelete(idX, "tag"), true},
		{"missing node", op.NewDelete(idX, "tag").WithStamp(clock.Stamp{Time: 1}), true},
		{"nil record id", del(op.NilRecordID, at(1, "a")), true},
		{"unknown model", op.NewDelete(idX, "label").WithStamp(at(1, "a")), false},
		{"unknown field", update(idX, "icon", ir.IRString("x"), at(1, "a")), false},
		{"wrong type", update(idX, "name", ir.IRInt(1), at(1, "a")), false},
		{"create missing required", create(idX, ir.IRObject{"color": ir.IRString("red")}, at(1, "a")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			_, err := e.Apply(tt.op)
			require.Error(t, err)
			if tt.serialization {
				assert.True(t, op.IsSerializationError(err))
			} else {
				assert.True(t, schema.IsViolation(err))
			}
			assert.Equal(t, 0, e.Registers().Len(), "a rejected operation writes nothing")
		})
	}
}

func TestApplyAll_RejectionDoesNotStopOthers(t *testing.T) {
	e := newTestEngine(t)
	results, err := e.ApplyAll([]op.Operation{
		update(idX, "icon", ir.IRString("x"), at(1, "a")),
		create(idX, ir.IRObject{"name": ir.IRString("Work")}, at(2, "a")),
	})
	require.Error(t, err)
	assert.True(t, schema.IsViolation(err))
	require.Len(t, results, 2)
	assert.False(t, results[0].Accepted())
	assert.True(t, results[1].Accepted())
}

func TestApply_SinkNotifications(t *testing.T) {
	var changes []Change
	e := newTestEngine(t, WithSink(SinkFunc(func(c Change) { changes = append(changes, c) })))
	key := register.Key{Model: "tag", RecordID: idX}

	_, err := e.ApplyAll([]op.Operation{
		create(idX, ir.IRObject{"name": ir.IRString("Work")}, at(1, "a")),
		create(idX, ir.IRObject{"name": ir.IRString("Work")}, at(1, "a")),
		update(idX, "color", ir.IRString("blue"), at(2, "a")),
		update(idX, "color", ir.IRString("old"), at(1, "b")),
		del(idX, at(3, "a")),
		del(idX, at(4, "a")),
	})
	require.NoError(t, err)

	assert.Equal(t, []Change{
		{Key: key, Changed: []string{"name"}, TombstoneChanged: true},
		{Key: key, Changed: []string{"color"}},
		{Key: key, TombstoneChanged: true},
	}, changes)
}

func TestApply_ResultCarriesRegisters(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Apply(create(idX, ir.IRObject{"name": ir.IRString("Work")}, at(7, "a")))
	require.NoError(t, err)

	assert.Equal(t, map[string]register.Register{
		"name": {Value: ir.IRString("Work"), Stamp: at(7, "a")},
	}, res.Fields)
	assert.True(t, res.LivenessChanged)
	assert.Equal(t, register.Liveness{Stamp: at(7, "a")}, res.Liveness)
}

func TestApply_Metrics(t *testing.T) {
	m := metrics.New("a")
	e := newTestEngine(t, WithMetrics(m))

	_, _ = e.Apply(create(idX, ir.IRObject{"name": ir.IRString("Work")}, at(1, "a")))
	_, _ = e.Apply(create(idX, ir.IRObject{"name": ir.IRString("Work")}, at(1, "a")))
	_, _ = e.Apply(update(idX, "icon", ir.IRString("x"), at(2, "a")))

	assert.Equal(t, 1.0, prom.ToFloat64(m.OperationsTotal.WithLabelValues("tag", "Create", metrics.OutcomeApplied)))
	assert.Equal(t, 1.0, prom.ToFloat64(m.OperationsTotal.WithLabelValues("tag", "Create", metrics.OutcomeDominated)))
	assert.Equal(t, 1.0, prom.ToFloat64(m.OperationsTotal.WithLabelValues("tag", "Update", metrics.OutcomeRejected)))
	assert.Equal(t, 1.0, prom.ToFloat64(m.FieldsChangedTotal))
}

// randomOps builds a deterministic mixed workload over a few records.
func randomOps(seed int64, n int) []op.Operation {
	rng := rand.New(rand.NewSource(seed))
	ids := []op.RecordID{idX, idY, op.RecordID(testutil.UUID(3))}
	nodes := []string{testutil.NodeA, testutil.NodeB, testutil.NodeC}
	words := []string{"Work", "Home", "Travel", "Archive"}

	ops := make([]op.Operation, 0, n)
	for i := 0; i < n; i++ {
		id := ids[rng.Intn(len(ids))]
		// A narrow timestamp range forces plenty of ties.
		s := at(uint64(rng.Intn(6)+1), nodes[rng.Intn(len(nodes))])
		switch rng.Intn(5) {
		case 0:
			ops = append(ops, create(id, ir.IRObject{"name": ir.IRString(words[rng.Intn(len(words))])}, s))
		case 1, 2:
			ops = append(ops, update(id, "name", ir.IRString(words[rng.Intn(len(words))]), s))
		case 3:
			ops = append(ops, update(id, "color", ir.IRString(words[rng.Intn(len(words))]), s))
		default:
			ops = append(ops, del(id, s))
		}
	}
	return ops
}

func snapshot(e *Engine) map[register.Key]register.State {
	out := make(map[register.Key]register.State)
	e.Registers().Range(func(k register.Key, s register.State) bool {
		out[k] = s
		return true
	})
	return out
}

func TestApply_ConvergesUnderShuffledDelivery(t *testing.T) {
	ops := randomOps(42, 60)

	reference := newTestEngine(t)
	_, err := reference.ApplyAll(ops)
	require.NoError(t, err)
	want := snapshot(reference)

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 25; trial++ {
		shuffled := append([]op.Operation(nil), ops...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		// Duplicate a prefix to model at-least-once delivery.
		shuffled = append(shuffled, shuffled[:trial]...)

		e := newTestEngine(t)
		_, err := e.ApplyAll(shuffled)
		require.NoError(t, err)
		assert.Equal(t, want, snapshot(e), "trial %d", trial)
	}
}

func TestApply_ConcurrentDeliveryConverges(t *testing.T) {
	ops := randomOps(99, 200)

	reference := newTestEngine(t)
	_, err := reference.ApplyAll(ops)
	require.NoError(t, err)

	e := newTestEngine(t)
	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			// Every worker delivers every operation, in its own order.
			rng := rand.New(rand.NewSource(int64(w)))
			for _, i := range rng.Perm(len(ops)) {
				_, err := e.Apply(ops[i])
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, snapshot(reference), snapshot(e))
}

// permute calls fn with every ordering of 0..n-1.
func permute(n int, fn func([]int)) {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	var gen func(int)
	gen = func(k int) {
		if k == n {
			fn(append([]int(nil), order...))
			return
		}
		for i := k; i < n; i++ {
			order[k], order[i] = order[i], order[k]
			gen(k + 1)
			order[k], order[i] = order[i], order[k]
		}
	}
	gen(0)
}
