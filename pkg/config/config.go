// Package config provides the validated configuration surface of
// tornflow: endpoint descriptors, API credentials and the service-level
// runtime configuration. Everything is parsed and validated once at
// construction; the structs handed to the pipeline are immutable.
package config

import (
	"time"

	"github.com/tornflow/tornflow/pkg/errors"
	"github.com/tornflow/tornflow/pkg/schema"
)

// StorageMode selects the sink's write semantics for an endpoint
type StorageMode string

const (
	// StorageModeAppend merges new rows, skipping dedup-key duplicates
	StorageModeAppend StorageMode = "append"
	// StorageModeReplace atomically overwrites the target table
	StorageModeReplace StorageMode = "replace"
)

// Validate rejects unknown storage modes at construction time
func (m StorageMode) Validate() error {
	switch m {
	case StorageModeAppend, StorageModeReplace:
		return nil
	default:
		return errors.Newf(errors.ErrorTypeConfig, "invalid storage mode %q", m)
	}
}

// Endpoint describes one logical data source polled on a schedule. It is
// immutable for the lifetime of its processor.
type Endpoint struct {
	// Name identifies the endpoint in logs and metrics
	Name string `json:"name"`
	// Kind selects the handler from the static registry
	Kind string `json:"kind"`
	// URL is the request template; the credential is substituted into
	// the {key} placeholder
	URL string `json:"url"`
	// Table is the three-part target table id (project.dataset.table)
	Table string `json:"table"`
	// Frequency is the polling interval as an ISO-8601 duration
	Frequency string `json:"frequency"`
	// StorageMode is append (dedup-merge) or replace (atomic overwrite)
	StorageMode StorageMode `json:"storage_mode"`
	// APIKey names the credential to use; defaults to "default"
	APIKey string `json:"api_key"`
	// DedupKey optionally designates the append-mode merge key columns.
	// When empty the sink falls back to the table's TIMESTAMP columns.
	DedupKey []string `json:"dedup_key,omitempty"`

	// parsed fields, populated by Validate
	interval time.Duration
	tableID  schema.TableID
}

// Validate parses and checks every field. It must be called (and
// succeed) before the endpoint is handed to a processor.
func (e *Endpoint) Validate() error {
	if e.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "endpoint name is required")
	}
	if e.Kind == "" {
		e.Kind = e.Name
	}
	if e.URL == "" {
		return errors.Newf(errors.ErrorTypeConfig, "endpoint %s: url is required", e.Name)
	}
	if e.APIKey == "" {
		e.APIKey = "default"
	}

	if err := e.StorageMode.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "endpoint "+e.Name)
	}

	tid, err := schema.ParseTableID(e.Table)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "endpoint "+e.Name)
	}
	e.tableID = tid

	interval, err := ParseISODuration(e.Frequency)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "endpoint "+e.Name)
	}
	e.interval = interval

	return nil
}

// Interval returns the parsed polling interval
func (e *Endpoint) Interval() time.Duration {
	return e.interval
}

// TableID returns the parsed target table identifier
func (e *Endpoint) TableID() schema.TableID {
	return e.tableID
}
