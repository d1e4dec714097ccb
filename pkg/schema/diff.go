package schema

// DiffAction is the sink-facing verdict of a schema comparison
type DiffAction int

const (
	// DiffNoChange means the existing table already covers the batch
	DiffNoChange DiffAction = iota
	// DiffAdditive means only new nullable columns are needed
	DiffAdditive
	// DiffRecreate means an existing column changed type: the table is
	// dropped and recreated, accepting data loss
	DiffRecreate
	// DiffRequiresEmpty means a new REQUIRED column is demanded; legal
	// only against a table with no rows
	DiffRequiresEmpty
)

// TypeChange records a column whose type differs between schemas
type TypeChange struct {
	Name string
	From ColumnType
	To   ColumnType
}

// Diff is the result of comparing an existing table schema with the
// effective schema of an incoming batch.
type Diff struct {
	Action      DiffAction
	Added       []Column     // new NULLABLE/REPEATED columns to append
	NewRequired []Column     // new REQUIRED columns (need an empty table)
	Changed     []TypeChange // type changes forcing recreation
}

// Compare diffs desired against existing. Columns present in the table
// but absent from the batch are left alone; evolution is additive only.
func Compare(existing, desired TableSchema) Diff {
	d := Diff{}

	for _, want := range desired {
		have, ok := existing.Get(want.Name)
		if !ok {
			if want.Mode == ModeRequired {
				d.NewRequired = append(d.NewRequired, want)
			} else {
				d.Added = append(d.Added, want)
			}
			continue
		}
		if have.Type != want.Type {
			d.Changed = append(d.Changed, TypeChange{
				Name: want.Name,
				From: have.Type,
				To:   want.Type,
			})
		}
	}

	switch {
	case len(d.Changed) > 0:
		d.Action = DiffRecreate
	case len(d.NewRequired) > 0:
		d.Action = DiffRequiresEmpty
	case len(d.Added) > 0:
		d.Action = DiffAdditive
	default:
		d.Action = DiffNoChange
	}
	return d
}

// Merge appends the added columns of a diff to the existing schema,
// preserving order. Used for additive evolution.
func Merge(existing TableSchema, added []Column) TableSchema {
	out := make(TableSchema, len(existing), len(existing)+len(added))
	copy(out, existing)
	return append(out, added...)
}
