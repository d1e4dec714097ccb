// Package schema defines the tabular data model shared by the transform
// engine, the validator and the storage sink: flat records, column
// descriptors and target table schemas, plus the coercion rules used to
// move values between them.
package schema

import (
	"strings"

	"github.com/tornflow/tornflow/pkg/errors"
)

// ColumnType is the warehouse-facing type of a column
type ColumnType string

const (
	TypeString    ColumnType = "STRING"
	TypeInteger   ColumnType = "INTEGER"
	TypeFloat     ColumnType = "FLOAT"
	TypeBoolean   ColumnType = "BOOLEAN"
	TypeTimestamp ColumnType = "TIMESTAMP"
)

// ColumnMode describes the nullability of a column
type ColumnMode string

const (
	ModeRequired ColumnMode = "REQUIRED"
	ModeNullable ColumnMode = "NULLABLE"
	ModeRepeated ColumnMode = "REPEATED"
)

// Column describes a single target column
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
	Mode ColumnMode `json:"mode"`
}

// TableSchema is an ordered, name-unique set of columns. Order matters:
// it is the column order used when creating warehouse tables and when
// deriving deterministic dedup keys.
type TableSchema []Column

// Record is a single flat row: field path to scalar value (string,
// int64, float64, bool, time.Time or nil).
type Record map[string]interface{}

// Batch is an ordered sequence of records sharing one field set
// post-reconciliation.
type Batch []Record

// Index returns the position of the named column, or -1
func (s TableSchema) Index(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Get returns the named column
func (s TableSchema) Get(name string) (Column, bool) {
	if i := s.Index(name); i >= 0 {
		return s[i], true
	}
	return Column{}, false
}

// Names returns the column names in schema order
func (s TableSchema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// TimestampColumns returns the names of all TIMESTAMP columns in schema
// order. This is the fallback dedup key for append-mode writes.
func (s TableSchema) TimestampColumns() []string {
	var names []string
	for _, c := range s {
		if c.Type == TypeTimestamp {
			names = append(names, c.Name)
		}
	}
	return names
}

// Equal reports whether two schemas have identical columns in identical
// order.
func (s TableSchema) Equal(other TableSchema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Validate checks the schema for duplicate or empty column names and
// unknown types or modes.
func (s TableSchema) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, c := range s {
		if c.Name == "" {
			return errors.New(errors.ErrorTypeConfig, "column with empty name")
		}
		if seen[c.Name] {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate column %q", c.Name)
		}
		seen[c.Name] = true

		switch c.Type {
		case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeTimestamp:
		default:
			return errors.Newf(errors.ErrorTypeConfig, "column %q has unknown type %q", c.Name, c.Type)
		}
		switch c.Mode {
		case ModeRequired, ModeNullable, ModeRepeated:
		default:
			return errors.Newf(errors.ErrorTypeConfig, "column %q has unknown mode %q", c.Name, c.Mode)
		}
	}
	return nil
}

// TableID is a parsed three-part warehouse table identifier
type TableID struct {
	Project string
	Dataset string
	Table   string
}

// String returns the dotted form of the identifier
func (t TableID) String() string {
	return t.Project + "." + t.Dataset + "." + t.Table
}

// ParseTableID parses a `project.dataset.table` identifier. Malformed
// identifiers are a hard configuration error.
func ParseTableID(id string) (TableID, error) {
	parts := strings.Split(id, ".")
	if len(parts) != 3 {
		return TableID{}, errors.Newf(errors.ErrorTypeConfig,
			"table id %q is not of the form project.dataset.table", id)
	}
	for _, p := range parts {
		if p == "" {
			return TableID{}, errors.Newf(errors.ErrorTypeConfig,
				"table id %q has an empty component", id)
		}
	}
	return TableID{Project: parts[0], Dataset: parts[1], Table: parts[2]}, nil
}
