package transform

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tornflow/tornflow/pkg/errors"
	"github.com/tornflow/tornflow/pkg/schema"
)

// Rules describes how one endpoint's response tree becomes a batch
type Rules struct {
	// PayloadKey names the top-level field holding the payload. Empty
	// means the sole non-metadata key of the response.
	PayloadKey string

	// KeyedMap marks payloads shaped as an identifier-keyed map of row
	// objects. Each key becomes a record with the key injected under
	// IDField.
	KeyedMap bool
	IDField  string

	// ExplodeFields lists the flattened list fields to cross-join into
	// multiple output records. Lists without a rule serialize to JSON.
	ExplodeFields []string

	// TimestampField, when set, receives the cycle's reference time as
	// a constant column on every record.
	TimestampField string
}

// Engine applies one endpoint's transform rules
type Engine struct {
	rules  Rules
	logger *zap.Logger
}

// NewEngine creates a transform engine for one endpoint's rules
func NewEngine(rules Rules, logger *zap.Logger) *Engine {
	return &Engine{
		rules:  rules,
		logger: logger.With(zap.String("component", "transform")),
	}
}

// Transform turns a raw response tree into an ordered flat batch. The
// reference time is captured once per cycle by the caller and broadcast
// here so every record of the cycle shares it.
func (e *Engine) Transform(raw map[string]interface{}, ref time.Time) (schema.Batch, error) {
	payload, err := e.payload(raw)
	if err != nil {
		return nil, err
	}

	rows, err := e.rows(payload)
	if err != nil {
		return nil, err
	}

	batch := make(schema.Batch, 0, len(rows))
	for _, row := range rows {
		for _, rec := range Explode(row, e.rules.ExplodeFields) {
			SerializeLists(rec)
			if e.rules.TimestampField != "" {
				rec[e.rules.TimestampField] = ref.UTC()
			}
			batch = append(batch, rec)
		}
	}
	return batch, nil
}

// payload locates the payload subtree
func (e *Engine) payload(raw map[string]interface{}) (interface{}, error) {
	if e.rules.PayloadKey != "" {
		v, ok := raw[e.rules.PayloadKey]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeAPI,
				"payload key %q missing from response", e.rules.PayloadKey)
		}
		return v, nil
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		if strings.HasPrefix(k, "_") || k == "error" {
			continue
		}
		keys = append(keys, k)
	}
	switch len(keys) {
	case 0:
		return nil, errors.New(errors.ErrorTypeAPI, "response carries no payload")
	case 1:
		return raw[keys[0]], nil
	default:
		// Multi-field responses are themselves the payload
		trimmed := make(map[string]interface{}, len(keys))
		for _, k := range keys {
			trimmed[k] = raw[k]
		}
		return trimmed, nil
	}
}

// rows splits the payload into per-record subtrees and flattens each
func (e *Engine) rows(payload interface{}) ([]schema.Record, error) {
	switch p := payload.(type) {
	case map[string]interface{}:
		if e.rules.KeyedMap {
			return e.keyedRows(p)
		}
		return []schema.Record{Flatten(p)}, nil

	case []interface{}:
		rows := make([]schema.Record, 0, len(p))
		for _, elem := range p {
			obj, ok := elem.(map[string]interface{})
			if !ok {
				return nil, errors.Newf(errors.ErrorTypeValidation,
					"list payload element is %T, expected object", elem)
			}
			rows = append(rows, Flatten(obj))
		}
		return rows, nil

	default:
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"payload is %T, expected object or list", payload)
	}
}

// keyedRows turns an identifier-keyed map into one record per key, the
// key injected as the id field. Keys sort so batch order is stable.
func (e *Engine) keyedRows(p map[string]interface{}) ([]schema.Record, error) {
	idField := e.rules.IDField
	if idField == "" {
		idField = "id"
	}

	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]schema.Record, 0, len(keys))
	for _, k := range keys {
		obj, ok := p[k].(map[string]interface{})
		if !ok {
			e.logger.Warn("skipping non-object entry in keyed payload",
				zap.String("key", k))
			continue
		}
		rec := Flatten(obj)
		rec[idField] = k
		rows = append(rows, rec)
	}
	return rows, nil
}
