package sink

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/tornflow/tornflow/pkg/schema"
)

// toBigQuerySchema converts a table schema to the BigQuery field list
func toBigQuerySchema(s schema.TableSchema) bigquery.Schema {
	var bq bigquery.Schema
	for _, col := range s {
		bq = append(bq, &bigquery.FieldSchema{
			Name:     col.Name,
			Type:     toBigQueryType(col.Type),
			Required: col.Mode == schema.ModeRequired,
			Repeated: col.Mode == schema.ModeRepeated,
		})
	}
	return bq
}

// fromBigQuerySchema converts a BigQuery field list back into a table
// schema, preserving warehouse column order.
func fromBigQuerySchema(bq bigquery.Schema) schema.TableSchema {
	out := make(schema.TableSchema, 0, len(bq))
	for _, f := range bq {
		col := schema.Column{
			Name: f.Name,
			Type: fromBigQueryType(f.Type),
			Mode: schema.ModeNullable,
		}
		if f.Required {
			col.Mode = schema.ModeRequired
		}
		if f.Repeated {
			col.Mode = schema.ModeRepeated
		}
		out = append(out, col)
	}
	return out
}

func toBigQueryType(t schema.ColumnType) bigquery.FieldType {
	switch t {
	case schema.TypeInteger:
		return bigquery.IntegerFieldType
	case schema.TypeFloat:
		return bigquery.FloatFieldType
	case schema.TypeBoolean:
		return bigquery.BooleanFieldType
	case schema.TypeTimestamp:
		return bigquery.TimestampFieldType
	default:
		return bigquery.StringFieldType
	}
}

func fromBigQueryType(t bigquery.FieldType) schema.ColumnType {
	switch t {
	case bigquery.IntegerFieldType:
		return schema.TypeInteger
	case bigquery.FloatFieldType:
		return schema.TypeFloat
	case bigquery.BooleanFieldType:
		return schema.TypeBoolean
	case bigquery.TimestampFieldType:
		return schema.TypeTimestamp
	default:
		return schema.TypeString
	}
}

// encodableRow rewrites a record for the newline-JSON load source:
// timestamps become RFC3339 strings, which the TIMESTAMP columns of the
// staging schema accept.
func encodableRow(rec schema.Record) map[string]interface{} {
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		if t, ok := v.(time.Time); ok {
			out[k] = t.UTC().Format(time.RFC3339Nano)
			continue
		}
		out[k] = v
	}
	return out
}
