package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/merge"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/records"
	"github.com/roach88/recsync/internal/register"
	"github.com/roach88/recsync/internal/testutil"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// testEngine returns a merge engine over the concrete record models.
func testEngine() *merge.Engine {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return merge.New(records.NewRegistry(), register.NewStore(), merge.WithLogger(quiet))
}

// applyAndCommit merges o and commits the result, as a replica does.
func applyAndCommit(t *testing.T, s *Store, e *merge.Engine, o op.Operation) (merge.Result, bool) {
	t.Helper()
	res, err := e.Apply(o)
	require.NoError(t, err)
	isNew, err := s.Commit(testCtx(t), o)
	require.NoError(t, err)
	return res, isNew
}

func stamp(ts uint64, node clock.NodeID) clock.Stamp {
	return clock.Stamp{Time: clock.Timestamp(ts), Node: node}
}

var (
	tagID  = op.RecordID(testutil.UUID(1))
	tagKey = register.Key{Model: records.TagModel, RecordID: tagID}
)

func createTag(name string, ts uint64) op.Operation {
	return op.NewCreate(tagID, records.TagModel, ir.IRObject{"name": ir.IRString(name)}).
		WithStamp(stamp(ts, testutil.NodeA))
}

func updateTag(field string, v ir.IRValue, ts uint64, node clock.NodeID) op.Operation {
	return op.NewUpdate(tagID, records.TagModel, field, v).WithStamp(stamp(ts, node))
}

func deleteTag(ts uint64) op.Operation {
	return op.NewDelete(tagID, records.TagModel).WithStamp(stamp(ts, testutil.NodeA))
}
