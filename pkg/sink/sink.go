// Package sink lands record batches in BigQuery: table creation and
// schema evolution, staging-table load jobs, and append (dedup merge)
// or replace (atomic copy) write semantics.
package sink

import (
	"context"
	stderrors "errors"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tornflow/tornflow/pkg/config"
	"github.com/tornflow/tornflow/pkg/errors"
	"github.com/tornflow/tornflow/pkg/json"
	"github.com/tornflow/tornflow/pkg/metrics"
	"github.com/tornflow/tornflow/pkg/schema"
)

// stagingExpiration bounds how long an orphaned staging table survives
// a crash before the warehouse reaps it.
const stagingExpiration = 6 * time.Hour

// Config configures the BigQuery sink
type Config struct {
	ProjectID       string
	CredentialsPath string
	Location        string
	JobTimeout      time.Duration
}

// Sink writes batches to BigQuery through ephemeral staging tables
type Sink struct {
	client *bigquery.Client
	cfg    Config
	logger *zap.Logger
}

// New creates a sink backed by a BigQuery client
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to create BigQuery client")
	}

	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}

	return &Sink{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "sink")),
	}, nil
}

// Close releases the underlying client
func (s *Sink) Close() error {
	return s.client.Close()
}

// EnsureTable creates the dataset and table if absent and reconciles an
// existing table's schema against the desired one. New NULLABLE columns
// extend the table in place; a type change drops and recreates it (data
// loss, logged); a new REQUIRED column recreates an empty table and is
// a schema error against one holding rows. Returns the table's
// effective schema.
func (s *Sink) EnsureTable(ctx context.Context, tid schema.TableID, desired schema.TableSchema) (schema.TableSchema, error) {
	if err := desired.Validate(); err != nil {
		return nil, err
	}

	dataset := s.client.DatasetInProject(tid.Project, tid.Dataset)
	if _, err := dataset.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to read dataset metadata")
		}
		if err := dataset.Create(ctx, &bigquery.DatasetMetadata{Location: s.cfg.Location}); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to create dataset")
		}
		s.logger.Info("created dataset",
			zap.String("dataset", tid.Project+"."+tid.Dataset),
			zap.String("location", s.cfg.Location))
	}

	table := dataset.Table(tid.Table)
	md, err := table.Metadata(ctx)
	if err != nil {
		if !isNotFound(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to read table metadata")
		}
		if err := table.Create(ctx, &bigquery.TableMetadata{Schema: toBigQuerySchema(desired)}); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to create table")
		}
		s.logger.Info("created table", zap.String("table", tid.String()))
		metrics.SchemaChanges.WithLabelValues(tid.String(), "create").Inc()
		return desired, nil
	}

	existing := fromBigQuerySchema(md.Schema)
	diff := schema.Compare(existing, desired)

	switch planSchemaChange(diff, md.NumRows) {
	case actionNone:
		return existing, nil

	case actionExtend:
		merged := schema.Merge(existing, diff.Added)
		if _, err := table.Update(ctx, bigquery.TableMetadataToUpdate{
			Schema: toBigQuerySchema(merged),
		}, md.ETag); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to extend table schema")
		}
		s.logger.Info("extended table schema",
			zap.String("table", tid.String()),
			zap.Int("added_columns", len(diff.Added)))
		metrics.SchemaChanges.WithLabelValues(tid.String(), "extend").Inc()
		return merged, nil

	case actionRecreate:
		for _, ch := range diff.Changed {
			s.logger.Warn("column type changed, recreating table",
				zap.String("table", tid.String()),
				zap.String("column", ch.Name),
				zap.String("from", string(ch.From)),
				zap.String("to", string(ch.To)))
		}
		if len(diff.NewRequired) > 0 {
			s.logger.Info("recreating empty table for new REQUIRED columns",
				zap.String("table", tid.String()),
				zap.Int("required_columns", len(diff.NewRequired)))
		}
		if err := table.Delete(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to drop table for recreation")
		}
		if err := table.Create(ctx, &bigquery.TableMetadata{Schema: toBigQuerySchema(desired)}); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to recreate table")
		}
		metrics.SchemaChanges.WithLabelValues(tid.String(), "recreate").Inc()
		return desired, nil

	default:
		return nil, errors.Newf(errors.ErrorTypeSchema,
			"cannot add REQUIRED columns %v to non-empty table %s",
			diff.NewRequired, tid.String())
	}
}

// tableAction is the operation EnsureTable applies to an existing table
type tableAction int

const (
	actionNone tableAction = iota
	actionExtend
	actionRecreate
	actionReject
)

// planSchemaChange maps a schema diff onto the table operation.
// BigQuery rejects adding a REQUIRED column through a schema update
// even when the table holds no rows, so the empty-table case drops and
// recreates like a type change does.
func planSchemaChange(diff schema.Diff, numRows uint64) tableAction {
	switch diff.Action {
	case schema.DiffNoChange:
		return actionNone
	case schema.DiffAdditive:
		return actionExtend
	case schema.DiffRecreate:
		return actionRecreate
	case schema.DiffRequiresEmpty:
		if numRows > 0 {
			return actionReject
		}
		return actionRecreate
	default:
		return actionReject
	}
}

// Write lands a batch in the target table. The batch loads into an
// ephemeral staging table first; replace mode then copies it over the
// target atomically, append mode merge-inserts only the rows whose
// dedup-key tuple the target lacks. The staging table is deleted on
// every path. Returns the number of rows written to the target.
func (s *Sink) Write(ctx context.Context, tid schema.TableID, batch schema.Batch, tableSchema schema.TableSchema, mode config.StorageMode, dedupKey []string) (int64, error) {
	if len(batch) == 0 {
		s.logger.Debug("skipping empty batch", zap.String("table", tid.String()))
		return 0, nil
	}

	staging := schema.TableID{
		Project: tid.Project,
		Dataset: tid.Dataset,
		Table:   tid.Table + "_staging_" + stagingNonce(),
	}

	if err := s.createStaging(ctx, staging, tableSchema); err != nil {
		return 0, err
	}
	defer s.dropStaging(staging)

	loaded, err := s.loadStaging(ctx, staging, batch, tableSchema)
	if err != nil {
		return 0, err
	}

	switch mode {
	case config.StorageModeReplace:
		if err := s.replace(ctx, tid, staging); err != nil {
			return 0, err
		}
		return loaded, nil

	case config.StorageModeAppend:
		return s.appendMerge(ctx, tid, staging, tableSchema, dedupKey)

	default:
		return 0, errors.Newf(errors.ErrorTypeConfig, "unknown storage mode %q", mode)
	}
}

func (s *Sink) createStaging(ctx context.Context, staging schema.TableID, tableSchema schema.TableSchema) error {
	table := s.client.DatasetInProject(staging.Project, staging.Dataset).Table(staging.Table)
	err := table.Create(ctx, &bigquery.TableMetadata{
		Schema:         toBigQuerySchema(tableSchema),
		ExpirationTime: time.Now().Add(stagingExpiration),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to create staging table")
	}
	return nil
}

// dropStaging deletes the staging table. Runs on every exit path; a
// failure only logs since the expiration time reaps leftovers anyway.
func (s *Sink) dropStaging(staging schema.TableID) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	table := s.client.DatasetInProject(staging.Project, staging.Dataset).Table(staging.Table)
	if err := table.Delete(ctx); err != nil && !isNotFound(err) {
		s.logger.Warn("failed to delete staging table",
			zap.String("table", staging.String()),
			zap.Error(err))
	}
}

// loadStaging streams the batch as newline-delimited JSON into the
// staging table via a load job, truncating any prior content.
func (s *Sink) loadStaging(ctx context.Context, staging schema.TableID, batch schema.Batch, tableSchema schema.TableSchema) (int64, error) {
	reader, writer := io.Pipe()

	go func() {
		enc := json.NewEncoder(writer)
		for _, rec := range batch {
			if err := enc.Encode(encodableRow(rec)); err != nil {
				writer.CloseWithError(err)
				return
			}
		}
		_ = writer.Close()
	}()

	source := bigquery.NewReaderSource(reader)
	source.SourceFormat = bigquery.JSON
	source.Schema = toBigQuerySchema(tableSchema)

	table := s.client.DatasetInProject(staging.Project, staging.Dataset).Table(staging.Table)
	loader := table.LoaderFrom(source)
	loader.WriteDisposition = bigquery.WriteTruncate

	job, err := loader.Run(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeStorage, "failed to submit staging load job")
	}

	status, err := s.waitJob(ctx, job)
	if err != nil {
		return 0, err
	}

	if stats, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
		return stats.OutputRows, nil
	}
	return int64(len(batch)), nil
}

// replace copies staging over the target with WriteTruncate, which
// swaps the table contents in one job.
func (s *Sink) replace(ctx context.Context, tid, staging schema.TableID) error {
	dst := s.client.DatasetInProject(tid.Project, tid.Dataset).Table(tid.Table)
	src := s.client.DatasetInProject(staging.Project, staging.Dataset).Table(staging.Table)

	copier := dst.CopierFrom(src)
	copier.WriteDisposition = bigquery.WriteTruncate

	job, err := copier.Run(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to submit replace copy job")
	}
	_, err = s.waitJob(ctx, job)
	return err
}

// appendMerge inserts staging rows absent from the target by dedup key
func (s *Sink) appendMerge(ctx context.Context, tid, staging schema.TableID, tableSchema schema.TableSchema, dedupKey []string) (int64, error) {
	keys, err := dedupColumns(tableSchema, dedupKey)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeSchema, "cannot resolve append dedup key")
	}

	q := s.client.Query(buildMergeSQL(tid, staging, keys))
	q.Location = s.cfg.Location

	job, err := q.Run(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeStorage, "failed to submit merge job")
	}

	status, err := s.waitJob(ctx, job)
	if err != nil {
		return 0, err
	}

	if stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok && stats.DMLStats != nil {
		return stats.DMLStats.InsertedRowCount, nil
	}
	return 0, nil
}

// waitJob waits for a job within the configured timeout and surfaces
// job-level failure as a storage error.
func (s *Sink) waitJob(ctx context.Context, job *bigquery.Job) (*bigquery.JobStatus, error) {
	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	status, err := job.Wait(jobCtx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "job failed or timed out")
	}
	if status.Err() != nil {
		for _, jobErr := range status.Errors {
			s.logger.Error("job error detail",
				zap.String("job_id", job.ID()),
				zap.String("reason", jobErr.Reason),
				zap.String("message", jobErr.Message))
		}
		return nil, errors.Wrap(status.Err(), errors.ErrorTypeStorage, "job completed with errors")
	}
	return status, nil
}

// stagingNonce yields a short unique suffix for staging table names
func stagingNonce() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return stderrors.As(err, &gerr) && gerr.Code == 404
}
