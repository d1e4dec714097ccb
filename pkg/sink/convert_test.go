package sink

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tornflow/tornflow/pkg/config"
	"github.com/tornflow/tornflow/pkg/schema"
)

func TestSchemaConversionRoundTrip(t *testing.T) {
	s := schema.TableSchema{
		{Name: "id", Type: schema.TypeInteger, Mode: schema.ModeRequired},
		{Name: "name", Type: schema.TypeString, Mode: schema.ModeNullable},
		{Name: "respect", Type: schema.TypeFloat, Mode: schema.ModeNullable},
		{Name: "online", Type: schema.TypeBoolean, Mode: schema.ModeNullable},
		{Name: "seen", Type: schema.TypeTimestamp, Mode: schema.ModeNullable},
		{Name: "tags", Type: schema.TypeString, Mode: schema.ModeRepeated},
	}

	bq := toBigQuerySchema(s)
	require.Len(t, bq, len(s))
	assert.Equal(t, bigquery.IntegerFieldType, bq[0].Type)
	assert.True(t, bq[0].Required)
	assert.True(t, bq[5].Repeated)

	back := fromBigQuerySchema(bq)
	assert.Equal(t, s, back, "conversion must round-trip or schema diffs misfire")
}

func TestFromBigQuerySchemaUnknownTypeFallsBackToString(t *testing.T) {
	back := fromBigQuerySchema(bigquery.Schema{
		{Name: "blob", Type: bigquery.BytesFieldType},
	})
	require.Len(t, back, 1)
	assert.Equal(t, schema.TypeString, back[0].Type)
}

func TestEncodableRowFormatsTimestamps(t *testing.T) {
	seen := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	row := encodableRow(schema.Record{
		"id":   int64(7),
		"seen": seen,
		"name": nil,
	})

	assert.Equal(t, int64(7), row["id"])
	assert.Equal(t, "2026-08-01T12:30:00Z", row["seen"])
	assert.Nil(t, row["name"])
}

func TestWriteSkipsEmptyBatch(t *testing.T) {
	// No client needed: the zero-row check short-circuits before any
	// warehouse call.
	s := &Sink{logger: zap.NewNop()}
	tid := schema.TableID{Project: "p", Dataset: "d", Table: "t"}

	n, err := s.Write(context.Background(), tid, schema.Batch{}, crimeSchema, config.StorageModeAppend, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
