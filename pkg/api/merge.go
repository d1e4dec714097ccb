package api

import "strings"

// mergeResponses folds a page into the accumulator. Fields that are
// lists on both sides concatenate; fields that are maps on both sides
// merge by key union with the newer page winning ties. Scalar fields
// (including pagination metadata) are overwritten by the newer page.
func mergeResponses(acc RawResponse, page RawResponse) {
	for k, v := range page {
		existing, ok := acc[k]
		if !ok {
			acc[k] = v
			continue
		}

		switch ev := existing.(type) {
		case []interface{}:
			if nv, ok := v.([]interface{}); ok {
				acc[k] = append(ev, nv...)
				continue
			}
		case map[string]interface{}:
			if nv, ok := v.(map[string]interface{}); ok {
				for nk, nvv := range nv {
					ev[nk] = nvv
				}
				continue
			}
		}
		acc[k] = v
	}
}

// lookupPath walks a dotted path ("_metadata.next") through nested
// maps, returning nil when any segment is absent.
func lookupPath(raw RawResponse, path string) interface{} {
	var cur interface{} = map[string]interface{}(raw)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

// countNewIdentifiers records the identifiers contributed by a page
// under the named field and returns how many were previously unseen.
// The field may hold an identifier-keyed map or a list of objects with
// an "id" member. An empty field name disables tracking and reports -1.
func countNewIdentifiers(page RawResponse, field string, seen map[string]bool) int {
	if field == "" {
		return -1
	}

	fresh := 0
	mark := func(id string) {
		if !seen[id] {
			seen[id] = true
			fresh++
		}
	}

	switch v := page[field].(type) {
	case map[string]interface{}:
		for id := range v {
			mark(id)
		}
	case []interface{}:
		for _, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			switch id := obj["id"].(type) {
			case string:
				mark(id)
			case float64:
				mark(formatFloatID(id))
			}
		}
	}
	return fresh
}

func formatFloatID(f float64) string {
	// identifiers arrive as JSON numbers; they are integral in practice
	return itoa(int(f))
}
