package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tornflow/tornflow/pkg/errors"
)

var memberSchema = TableSchema{
	{Name: "id", Type: TypeInteger, Mode: ModeRequired},
	{Name: "name", Type: TypeString, Mode: ModeNullable},
	{Name: "level", Type: TypeInteger, Mode: ModeNullable},
	{Name: "joined", Type: TypeTimestamp, Mode: ModeNullable},
}

func TestReconcileMissingRequiredColumn(t *testing.T) {
	v := NewValidator(AbortBatch, zap.NewNop())
	batch := Batch{
		{"name": "alpha", "level": 10},
		{"name": "beta", "level": 12},
	}

	_, err := v.Reconcile(batch, memberSchema, time.Now())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))
	assert.Contains(t, err.Error(), `"id"`)
}

func TestReconcileRequiredNullGetsDefault(t *testing.T) {
	v := NewValidator(AbortBatch, zap.NewNop())
	batch := Batch{
		{"id": 7, "name": "alpha"},
		{"id": nil, "name": "beta"},
	}

	out, err := v.Reconcile(batch, memberSchema, time.Now())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(0), out[1]["id"], "null REQUIRED integer defaults to 0")
}

func TestReconcileCoercesAndDropsExtras(t *testing.T) {
	v := NewValidator(AbortBatch, zap.NewNop())
	batch := Batch{
		{"id": "42", "name": "alpha", "level": 7.0, "joined": float64(1234567890), "extra": true},
	}

	out, err := v.Reconcile(batch, memberSchema, time.Now())
	require.NoError(t, err)
	require.Len(t, out, 1)

	row := out[0]
	assert.Equal(t, int64(42), row["id"])
	assert.Equal(t, int64(7), row["level"])
	assert.Equal(t, time.Unix(1234567890, 0).UTC(), row["joined"])
	_, hasExtra := row["extra"]
	assert.False(t, hasExtra, "columns outside the target schema are dropped")
}

func TestReconcileIdempotent(t *testing.T) {
	v := NewValidator(AbortBatch, zap.NewNop())
	ref := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	batch := Batch{
		{"id": "42", "name": "alpha", "level": 7.0, "joined": float64(1234567890)},
		{"id": 43, "name": nil, "level": nil, "joined": nil},
	}

	once, err := v.Reconcile(batch, memberSchema, ref)
	require.NoError(t, err)
	twice, err := v.Reconcile(once, memberSchema, ref)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestReconcilePolicies(t *testing.T) {
	batch := Batch{
		{"id": 1, "level": 5},
		{"id": 2, "level": "not a number"},
		{"id": 3, "level": 9},
	}

	_, err := NewValidator(AbortBatch, zap.NewNop()).Reconcile(batch, memberSchema, time.Now())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	out, err := NewValidator(SkipRow, zap.NewNop()).Reconcile(batch, memberSchema, time.Now())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0]["id"])
	assert.Equal(t, int64(3), out[1]["id"])
}

func TestReconcileRepeated(t *testing.T) {
	target := TableSchema{
		{Name: "id", Type: TypeInteger, Mode: ModeRequired},
		{Name: "tags", Type: TypeString, Mode: ModeRepeated},
	}
	v := NewValidator(AbortBatch, zap.NewNop())

	out, err := v.Reconcile(Batch{{"id": 1, "tags": []interface{}{"a", "b"}}}, target, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, out[0]["tags"])

	// missing list becomes empty, never null
	out, err = v.Reconcile(Batch{{"id": 2}}, target, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{}, out[0]["tags"])

	_, err = v.Reconcile(Batch{{"id": 3, "tags": "solo"}}, target, time.Now())
	assert.Error(t, err, "non-list value in REPEATED column")

	_, err = v.Reconcile(Batch{{"id": 4, "tags": []interface{}{"a", nil}}}, target, time.Now())
	assert.Error(t, err, "null element in REPEATED column")
}

func TestReconcileEmptyBatch(t *testing.T) {
	v := NewValidator(AbortBatch, zap.NewNop())
	out, err := v.Reconcile(Batch{}, memberSchema, time.Now())
	require.NoError(t, err)
	assert.Empty(t, out)
}
