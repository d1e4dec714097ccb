package transform

import (
	"math"
	"sort"
	"time"

	"github.com/tornflow/tornflow/pkg/schema"
)

// DefaultSampleSize bounds how many non-null values per column feed
// type inference.
const DefaultSampleSize = 100

// InferSchema derives a table schema from a batch by sampling the first
// sampleSize non-null values of each column. Integral numbers inside the
// plausible epoch range and ISO-8601 strings classify as TIMESTAMP;
// mixed INTEGER and FLOAT widen to FLOAT; any other mix, and all-null
// columns, fall back to STRING. Columns come out NULLABLE, sorted by
// name so the result is deterministic.
func InferSchema(batch schema.Batch, sampleSize int) schema.TableSchema {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	samples := make(map[string][]interface{})
	for _, rec := range batch {
		for name, v := range rec {
			if v == nil {
				if _, ok := samples[name]; !ok {
					samples[name] = nil
				}
				continue
			}
			if len(samples[name]) < sampleSize {
				samples[name] = append(samples[name], v)
			}
		}
	}

	names := make([]string, 0, len(samples))
	for name := range samples {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(schema.TableSchema, 0, len(names))
	for _, name := range names {
		out = append(out, schema.Column{
			Name: name,
			Type: inferColumn(samples[name]),
			Mode: schema.ModeNullable,
		})
	}
	return out
}

// EffectiveSchema is the schema a batch lands under: the declared
// columns, extended with inferred NULLABLE columns for fields the batch
// carries but the declaration omits. New upstream fields therefore
// surface in the warehouse instead of being dropped. Declared columns
// always win on overlap; an empty declaration yields the inferred
// schema outright.
func EffectiveSchema(declared schema.TableSchema, batch schema.Batch, sampleSize int) schema.TableSchema {
	inferred := InferSchema(batch, sampleSize)
	if len(declared) == 0 {
		return inferred
	}

	out := make(schema.TableSchema, len(declared), len(declared)+len(inferred))
	copy(out, declared)
	for _, col := range inferred {
		if _, ok := declared.Get(col.Name); !ok {
			out = append(out, col)
		}
	}
	return out
}

func inferColumn(values []interface{}) schema.ColumnType {
	if len(values) == 0 {
		return schema.TypeString
	}

	t := classifyValue(values[0])
	for _, v := range values[1:] {
		t = widen(t, classifyValue(v))
		if t == schema.TypeString {
			break
		}
	}
	return t
}

func classifyValue(v interface{}) schema.ColumnType {
	switch x := v.(type) {
	case bool:
		return schema.TypeBoolean
	case time.Time:
		return schema.TypeTimestamp
	case float64:
		if x == math.Trunc(x) {
			if schema.LooksLikeEpoch(int64(x)) {
				return schema.TypeTimestamp
			}
			return schema.TypeInteger
		}
		return schema.TypeFloat
	case int:
		if schema.LooksLikeEpoch(int64(x)) {
			return schema.TypeTimestamp
		}
		return schema.TypeInteger
	case int64:
		if schema.LooksLikeEpoch(x) {
			return schema.TypeTimestamp
		}
		return schema.TypeInteger
	case string:
		if schema.LooksLikeTimestampString(x) {
			return schema.TypeTimestamp
		}
		return schema.TypeString
	default:
		return schema.TypeString
	}
}

// widen resolves a type conflict between samples of one column
func widen(a, b schema.ColumnType) schema.ColumnType {
	if a == b {
		return a
	}
	numeric := func(t schema.ColumnType) bool {
		return t == schema.TypeInteger || t == schema.TypeFloat
	}
	if numeric(a) && numeric(b) {
		return schema.TypeFloat
	}
	// Epoch-looking values mixed with plain integers stay numeric
	if (a == schema.TypeTimestamp && numeric(b)) || (b == schema.TypeTimestamp && numeric(a)) {
		return schema.TypeInteger
	}
	return schema.TypeString
}
