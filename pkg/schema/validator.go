package schema

import (
	"time"

	"go.uber.org/zap"

	"github.com/tornflow/tornflow/pkg/errors"
)

// Policy controls how row-level coercion failures are handled during
// reconciliation. The default aborts the batch for determinism.
type Policy int

const (
	// AbortBatch fails the whole batch on the first irreconcilable row
	AbortBatch Policy = iota
	// SkipRow drops irreconcilable rows and keeps going
	SkipRow
)

// Validator reconciles batches against a declared target schema
type Validator struct {
	policy Policy
	logger *zap.Logger
}

// NewValidator creates a validator with the given failure policy
func NewValidator(policy Policy, logger *zap.Logger) *Validator {
	return &Validator{
		policy: policy,
		logger: logger.With(zap.String("component", "validator")),
	}
}

// Reconcile validates and coerces batch against target. The returned
// batch contains exactly the target columns in schema order semantics:
// REQUIRED columns are default-filled when null, NULLABLE columns keep
// nulls, REPEATED columns must hold lists with no null elements.
//
// Reconcile is idempotent: applying it twice to the same batch and
// schema yields the same rows, because coercion of an already-coerced
// value is the identity.
func (v *Validator) Reconcile(batch Batch, target TableSchema, ref time.Time) (Batch, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	// A REQUIRED column missing from every row fails fast before any
	// per-row work: defaults substitute for nulls, never for a column
	// the source does not produce at all.
	for _, col := range target {
		if col.Mode != ModeRequired {
			continue
		}
		if !columnPresent(batch, col.Name) && len(batch) > 0 {
			return nil, errors.Newf(errors.ErrorTypeSchema,
				"required column %q missing from batch", col.Name)
		}
	}

	out := make(Batch, 0, len(batch))
	for i, rec := range batch {
		row, err := v.reconcileRow(rec, target, ref)
		if err != nil {
			if v.policy == SkipRow {
				v.logger.Warn("skipping irreconcilable row",
					zap.Int("row", i),
					zap.Error(err))
				continue
			}
			return nil, errors.Wrap(err, errors.ErrorTypeValidation,
				"batch aborted").WithDetail("row", i)
		}
		out = append(out, row)
	}

	return out, nil
}

func (v *Validator) reconcileRow(rec Record, target TableSchema, ref time.Time) (Record, error) {
	row := make(Record, len(target))

	for _, col := range target {
		raw, ok := rec[col.Name]

		if col.Mode == ModeRepeated {
			val, err := coerceRepeated(raw, ok, col)
			if err != nil {
				return nil, err
			}
			row[col.Name] = val
			continue
		}

		if !ok || raw == nil {
			if col.Mode == ModeRequired {
				row[col.Name] = DefaultValue(col.Type, ref)
			} else {
				row[col.Name] = nil
			}
			continue
		}

		val, err := Coerce(raw, col.Type)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation,
				"column "+col.Name)
		}
		if val == nil && col.Mode == ModeRequired {
			row[col.Name] = DefaultValue(col.Type, ref)
			continue
		}
		row[col.Name] = val
	}

	return row, nil
}

// coerceRepeated enforces that REPEATED columns hold list-shaped values
// with no null elements.
func coerceRepeated(raw interface{}, present bool, col Column) (interface{}, error) {
	if !present || raw == nil {
		return []interface{}{}, nil
	}

	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"repeated column %q holds non-list value %T", col.Name, raw)
	}

	out := make([]interface{}, 0, len(list))
	for i, elem := range list {
		if elem == nil {
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"repeated column %q has null element at %d", col.Name, i)
		}
		val, err := Coerce(elem, col.Type)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation,
				"repeated column "+col.Name)
		}
		out = append(out, val)
	}
	return out, nil
}

// columnPresent reports whether any record in the batch carries the key
// at all (a present-but-null value still counts as present).
func columnPresent(batch Batch, name string) bool {
	for _, rec := range batch {
		if _, ok := rec[name]; ok {
			return true
		}
	}
	return false
}
