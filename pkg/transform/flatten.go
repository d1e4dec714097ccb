// Package transform converts raw nested API response trees into flat,
// typed record batches: payload extraction, flattening, list explosion,
// type inference and reference-timestamp broadcast.
package transform

import (
	"github.com/tornflow/tornflow/pkg/json"
	"github.com/tornflow/tornflow/pkg/schema"
)

// Flatten collapses a nested map into a single-level record. Nested map
// keys join with "_" (a.b.c becomes a_b_c). List values pass through
// untouched so the explosion pass can consume them; SerializeLists
// converts whatever lists remain afterwards.
func Flatten(tree map[string]interface{}) schema.Record {
	out := make(schema.Record, len(tree))
	flattenInto(out, "", tree)
	return out
}

func flattenInto(out schema.Record, prefix string, value interface{}) {
	m, ok := value.(map[string]interface{})
	if !ok {
		out[prefix] = value
		return
	}
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		if _, nested := v.(map[string]interface{}); nested {
			flattenInto(out, key, v)
		} else {
			out[key] = v
		}
	}
}

// SerializeLists replaces every list value still present in the record
// with its JSON encoding. Applied after explosion so that only lists
// without an explosion rule reach the warehouse, as strings.
func SerializeLists(rec schema.Record) {
	for k, v := range rec {
		if _, ok := v.([]interface{}); !ok {
			continue
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			// Values came out of a JSON decoder; re-encoding cannot
			// realistically fail, but a null beats a corrupt cell.
			rec[k] = nil
			continue
		}
		rec[k] = string(encoded)
	}
}
