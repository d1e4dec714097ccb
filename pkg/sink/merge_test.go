package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tornflow/tornflow/pkg/schema"
)

var crimeSchema = schema.TableSchema{
	{Name: "crime_id", Type: schema.TypeInteger, Mode: schema.ModeRequired},
	{Name: "created_at", Type: schema.TypeTimestamp, Mode: schema.ModeNullable},
	{Name: "name", Type: schema.TypeString, Mode: schema.ModeNullable},
	{Name: "server_timestamp", Type: schema.TypeTimestamp, Mode: schema.ModeRequired},
}

func TestDedupColumnsExplicitKey(t *testing.T) {
	keys, err := dedupColumns(crimeSchema, []string{"crime_id"})
	require.NoError(t, err)
	assert.Equal(t, []string{"crime_id"}, keys)
}

func TestDedupColumnsExplicitKeyMustExist(t *testing.T) {
	_, err := dedupColumns(crimeSchema, []string{"missing"})
	assert.Error(t, err)
}

func TestDedupColumnsDefaultsToTimestamps(t *testing.T) {
	keys, err := dedupColumns(crimeSchema, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"created_at", "server_timestamp"}, keys,
		"all TIMESTAMP columns, in schema order")
}

func TestDedupColumnsNoCandidates(t *testing.T) {
	bare := schema.TableSchema{{Name: "id", Type: schema.TypeInteger, Mode: schema.ModeRequired}}
	_, err := dedupColumns(bare, nil)
	assert.Error(t, err)
}

func TestBuildMergeSQL(t *testing.T) {
	target := schema.TableID{Project: "p", Dataset: "d", Table: "crimes"}
	staging := schema.TableID{Project: "p", Dataset: "d", Table: "crimes_staging_ab12"}

	sql := buildMergeSQL(target, staging, []string{"crime_id", "server_timestamp"})

	assert.Contains(t, sql, "MERGE `p.d.crimes` T USING `p.d.crimes_staging_ab12` S")
	assert.Contains(t, sql, "T.`crime_id` = S.`crime_id`")
	assert.Contains(t, sql, "T.`server_timestamp` = S.`server_timestamp`")
	assert.Contains(t, sql, "T.`crime_id` IS NULL AND S.`crime_id` IS NULL",
		"null key components must match null, or reloads duplicate rows")
	assert.Contains(t, sql, "WHEN NOT MATCHED THEN INSERT ROW")
	assert.NotContains(t, sql, "WHEN MATCHED", "existing rows are never updated")
}
