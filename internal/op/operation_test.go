package op

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/testutil"
)

var testID = RecordID(testutil.UUID(1))

func TestNewCreate_CopiesData(t *testing.T) {
	data := ir.IRObject{"name": ir.IRString("Work")}
	o := NewCreate(testID, "tag", data)

	data["name"] = ir.IRString("mutated")

	assert.Equal(t, KindCreate, o.Kind)
	assert.Equal(t, ir.IRString("Work"), o.Data["name"])
	assert.True(t, o.Stamp.IsZero())
}

func TestNewCreate_CanonicalizesValues(t *testing.T) {
	o := NewCreate(testID, "tag", ir.IRObject{"name": ir.IRString("Cafe\u0301"), "color": ir.IRString("bad\xffutf8")})
	assert.Equal(t, ir.IRString("Caf\u00e9"), o.Data["name"])
	assert.Equal(t, ir.IRString("bad\ufffdutf8"), o.Data["color"])

	u := NewUpdate(testID, "tag", "color", ir.IRString("\xfe"))
	assert.Equal(t, ir.IRString("\ufffd"), u.Value)

	decoded, err := Unmarshal(mustMarshal(t, o.WithStamp(clock.Stamp{Time: 1, Node: "node-a"})))
	require.NoError(t, err)
	assert.Equal(t, o.Data, decoded.Data)
}

func mustMarshal(t *testing.T, o Operation) []byte {
	t.Helper()
	data, err := Marshal(o)
	require.NoError(t, err)
	return data
}

func TestNewCreate_NilDataBecomesEmpty(t *testing.T) {
	o := NewCreate(testID, "tag", nil)
	require.NotNil(t, o.Data)
	assert.NoError(t, o.Check())
}

func TestNewUpdate_NilValueIsNull(t *testing.T) {
	o := NewUpdate(testID, "tag", "color", nil)
	assert.Equal(t, ir.Null, o.Value)
	assert.Equal(t, []string{"color"}, o.Fields())
}

func TestWithStamp_ReturnsCopy(t *testing.T) {
	o := NewDelete(testID, "tag")
	s := clock.Stamp{Time: 10, Node: testutil.NodeA}

	stamped := o.WithStamp(s)

	assert.Equal(t, s, stamped.Stamp)
	assert.True(t, o.Stamp.IsZero())
}

func TestFields(t *testing.T) {
	create := NewCreate(testID, "tag", ir.IRObject{"name": ir.IRString("a"), "color": ir.IRString("b")})
	assert.Equal(t, []string{"color", "name"}, create.Fields())

	assert.Nil(t, NewDelete(testID, "tag").Fields())
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name  string
		op    Operation
		field string
	}{
		{"nil record id", NewDelete(NilRecordID, "tag"), "record_id"},
		{"empty model", NewDelete(testID, ""), "model"},
		{"unknown kind", Operation{RecordID: testID, Model: "tag", Kind: "Merge"}, "type"},
		{"create without data", Operation{RecordID: testID, Model: "tag", Kind: KindCreate}, "data"},
		{"update without field", Operation{RecordID: testID, Model: "tag", Kind: KindUpdate, Value: ir.Null}, "field"},
		{"update without value", Operation{RecordID: testID, Model: "tag", Kind: KindUpdate, Field: "name"}, "value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Check()
			require.Error(t, err)
			assert.True(t, IsSerializationError(err))

			var se *SerializationError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.field, se.Field)
		})
	}
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindCreate.Valid())
	assert.True(t, KindUpdate.Valid())
	assert.True(t, KindDelete.Valid())
	assert.False(t, Kind("create").Valid())
}

func TestRecordID(t *testing.T) {
	id := NewRecordID()
	assert.False(t, id.IsNil())

	parsed, err := ParseRecordID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseRecordID("not-a-uuid")
	require.Error(t, err)
	assert.True(t, IsSerializationError(err))

	assert.Panics(t, func() { MustParseRecordID("nope") })
}

func TestNewRecordID_TimeOrdered(t *testing.T) {
	a := NewRecordID()
	b := NewRecordID()
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, a.String()[:8], b.String()[:8])
}
