package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var existingMembers = TableSchema{
	{Name: "id", Type: TypeInteger, Mode: ModeRequired},
	{Name: "name", Type: TypeString, Mode: ModeNullable},
	{Name: "level", Type: TypeInteger, Mode: ModeNullable},
}

func TestCompareNoChange(t *testing.T) {
	d := Compare(existingMembers, existingMembers)
	assert.Equal(t, DiffNoChange, d.Action)
}

func TestCompareAdditive(t *testing.T) {
	desired := append(TableSchema{}, existingMembers...)
	desired = append(desired, Column{Name: "position", Type: TypeString, Mode: ModeNullable})

	d := Compare(existingMembers, desired)
	assert.Equal(t, DiffAdditive, d.Action)
	require.Len(t, d.Added, 1)
	assert.Equal(t, "position", d.Added[0].Name)

	merged := Merge(existingMembers, d.Added)
	assert.Equal(t, desired, merged)
}

func TestCompareTypeChangeForcesRecreate(t *testing.T) {
	desired := TableSchema{
		{Name: "id", Type: TypeInteger, Mode: ModeRequired},
		{Name: "name", Type: TypeString, Mode: ModeNullable},
		{Name: "level", Type: TypeString, Mode: ModeNullable},
	}

	d := Compare(existingMembers, desired)
	assert.Equal(t, DiffRecreate, d.Action)
	require.Len(t, d.Changed, 1)
	assert.Equal(t, TypeChange{Name: "level", From: TypeInteger, To: TypeString}, d.Changed[0])
}

func TestCompareNewRequiredNeedsEmptyTable(t *testing.T) {
	desired := append(TableSchema{}, existingMembers...)
	desired = append(desired, Column{Name: "joined", Type: TypeTimestamp, Mode: ModeRequired})

	d := Compare(existingMembers, desired)
	assert.Equal(t, DiffRequiresEmpty, d.Action)
	require.Len(t, d.NewRequired, 1)
	assert.Equal(t, "joined", d.NewRequired[0].Name)
}

func TestCompareDroppedColumnsLeftAlone(t *testing.T) {
	desired := TableSchema{
		{Name: "id", Type: TypeInteger, Mode: ModeRequired},
	}
	d := Compare(existingMembers, desired)
	assert.Equal(t, DiffNoChange, d.Action, "columns absent from the batch stay in the table")
}

func TestTableSchemaHelpers(t *testing.T) {
	s := TableSchema{
		{Name: "created_at", Type: TypeTimestamp, Mode: ModeNullable},
		{Name: "id", Type: TypeInteger, Mode: ModeRequired},
		{Name: "server_timestamp", Type: TypeTimestamp, Mode: ModeRequired},
	}
	assert.Equal(t, []string{"created_at", "server_timestamp"}, s.TimestampColumns(),
		"timestamp columns come back in schema order")

	col, ok := s.Get("id")
	require.True(t, ok)
	assert.Equal(t, TypeInteger, col.Type)
}

func TestParseTableID(t *testing.T) {
	tid, err := ParseTableID("proj.game.members")
	require.NoError(t, err)
	assert.Equal(t, TableID{Project: "proj", Dataset: "game", Table: "members"}, tid)
	assert.Equal(t, "proj.game.members", tid.String())

	for _, bad := range []string{"", "game.members", "a.b.c.d", "a..c"} {
		_, err := ParseTableID(bad)
		assert.Error(t, err, "%q should be rejected", bad)
	}
}
