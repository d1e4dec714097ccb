package transform

import "github.com/tornflow/tornflow/pkg/schema"

// Explode expands a flattened record across its declared list fields,
// one output record per combination (cross-join). A missing or empty
// list contributes exactly one combination with no columns for that
// group, so the other groups still materialize. A record with no
// declared fields passes through unchanged.
func Explode(rec schema.Record, fields []string) []schema.Record {
	if len(fields) == 0 {
		return []schema.Record{rec}
	}

	base := make(schema.Record, len(rec))
	for k, v := range rec {
		base[k] = v
	}
	for _, f := range fields {
		delete(base, f)
	}

	out := []schema.Record{base}
	for _, field := range fields {
		elems, _ := rec[field].([]interface{})
		if len(elems) == 0 {
			continue
		}

		next := make([]schema.Record, 0, len(out)*len(elems))
		for _, partial := range out {
			for _, elem := range elems {
				row := make(schema.Record, len(partial)+4)
				for k, v := range partial {
					row[k] = v
				}
				mergeElement(row, field, elem)
				next = append(next, row)
			}
		}
		out = next
	}
	return out
}

// mergeElement folds one list element into a row under the list field's
// name: object elements flatten with the field as prefix, scalar
// elements land on the field itself.
func mergeElement(row schema.Record, field string, elem interface{}) {
	if obj, ok := elem.(map[string]interface{}); ok {
		flattenInto(row, field, obj)
		return
	}
	row[field] = elem
}
