package processor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tornflow/tornflow/pkg/api"
	"github.com/tornflow/tornflow/pkg/config"
	"github.com/tornflow/tornflow/pkg/errors"
	"github.com/tornflow/tornflow/pkg/metrics"
	"github.com/tornflow/tornflow/pkg/schema"
	"github.com/tornflow/tornflow/pkg/transform"
)

// Store is the warehouse surface the processor writes through
type Store interface {
	EnsureTable(ctx context.Context, tid schema.TableID, desired schema.TableSchema) (schema.TableSchema, error)
	Write(ctx context.Context, tid schema.TableID, batch schema.Batch, tableSchema schema.TableSchema, mode config.StorageMode, dedupKey []string) (int64, error)
}

// Fetcher is the API surface the processor reads through
type Fetcher interface {
	Fetch(ctx context.Context, endpoint *config.Endpoint, credName string) (api.RawResponse, error)
	FetchAll(ctx context.Context, endpoint *config.Endpoint, credName string, pg api.PaginationConfig) (api.RawResponse, error)
	FetchWindowed(ctx context.Context, endpoint *config.Endpoint, credName string, ref time.Time, wc api.WindowConfig) (api.RawResponse, error)
}

// TimeSource yields the cycle's reference timestamp
type TimeSource interface {
	Now(ctx context.Context) (time.Time, error)
}

// APITimeSource reads the reference time from the dedicated timestamp
// endpoint so every worker agrees on server time regardless of local
// clock drift.
type APITimeSource struct {
	client   Fetcher
	endpoint *config.Endpoint
	logger   *zap.Logger
}

// NewAPITimeSource creates a time source backed by the timestamp endpoint
func NewAPITimeSource(client Fetcher, endpoint *config.Endpoint, log *zap.Logger) *APITimeSource {
	return &APITimeSource{client: client, endpoint: endpoint, logger: log}
}

// Now fetches server time, falling back to the local clock when the
// endpoint is unreachable. The fallback is logged; a skewed reference
// beats a failed cycle.
func (t *APITimeSource) Now(ctx context.Context) (time.Time, error) {
	raw, err := t.client.Fetch(ctx, t.endpoint, t.endpoint.APIKey)
	if err != nil {
		t.logger.Warn("timestamp endpoint unavailable, using local clock", zap.Error(err))
		return time.Now().UTC(), nil
	}

	epoch, ok := raw["timestamp"].(float64)
	if !ok {
		t.logger.Warn("timestamp endpoint returned no timestamp field, using local clock")
		return time.Now().UTC(), nil
	}
	return time.Unix(int64(epoch), 0).UTC(), nil
}

// LocalTimeSource uses the local clock (tests, run-once mode)
type LocalTimeSource struct{}

func (LocalTimeSource) Now(context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

// Processor drives one endpoint's full ingestion cycle
type Processor struct {
	endpoint   *config.Endpoint
	handler    Handler
	client     Fetcher
	store      Store
	validator  *schema.Validator
	timeSource TimeSource
	logger     *zap.Logger
}

// New builds a processor for one endpoint, resolving its handler from
// the registry.
func New(endpoint *config.Endpoint, client Fetcher, store Store, validator *schema.Validator, ts TimeSource, log *zap.Logger) (*Processor, error) {
	handler, err := Lookup(endpoint.Kind)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "endpoint "+endpoint.Name)
	}

	return &Processor{
		endpoint:   endpoint,
		handler:    handler,
		client:     client,
		store:      store,
		validator:  validator,
		timeSource: ts,
		logger: log.With(
			zap.String("component", "processor"),
			zap.String("endpoint", endpoint.Name)),
	}, nil
}

// Endpoint returns the endpoint this processor serves
func (p *Processor) Endpoint() *config.Endpoint {
	return p.endpoint
}

// Run executes one cycle: reference time → fetch → transform →
// reconcile → ensure table → write. Errors return typed; the scheduler
// decides what to do with them.
func (p *Processor) Run(ctx context.Context) error {
	correlationID := uuid.New().String()
	log := p.logger.With(zap.String("correlation_id", correlationID))
	start := time.Now()

	rowsWritten, err := p.cycle(ctx, log)
	elapsed := time.Since(start)

	metrics.CycleDuration.WithLabelValues(p.endpoint.Name).Observe(elapsed.Seconds())
	if err != nil {
		metrics.Cycles.WithLabelValues(p.endpoint.Name, "error").Inc()
		log.Error("cycle failed",
			zap.String("error_type", string(errors.TypeOf(err))),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return err
	}

	metrics.Cycles.WithLabelValues(p.endpoint.Name, "success").Inc()
	metrics.RowsWritten.WithLabelValues(p.endpoint.Name, string(p.endpoint.StorageMode)).Add(float64(rowsWritten))
	log.Info("cycle complete",
		zap.Int64("rows", rowsWritten),
		zap.Duration("duration", elapsed))
	return nil
}

func (p *Processor) cycle(ctx context.Context, log *zap.Logger) (int64, error) {
	ref, err := p.timeSource.Now(ctx)
	if err != nil {
		return 0, err
	}

	fetchTimer := metrics.NewTimer(p.endpoint.Name, "fetch")
	raw, err := p.fetch(ctx, ref)
	fetchTimer.Stop()
	if err != nil {
		metrics.APIRequests.WithLabelValues(p.endpoint.Name, "error").Inc()
		return 0, err
	}
	metrics.APIRequests.WithLabelValues(p.endpoint.Name, "success").Inc()

	transformTimer := metrics.NewTimer(p.endpoint.Name, "transform")
	batch, err := p.handler.Transform(raw, ref)
	var desired schema.TableSchema
	if err == nil {
		desired = transform.EffectiveSchema(p.handler.Schema(), batch, transform.DefaultSampleSize)
		batch, err = p.validator.Reconcile(batch, desired, ref)
	}
	transformTimer.Stop()
	if err != nil {
		return 0, err
	}

	log.Debug("batch prepared", zap.Int("records", len(batch)))

	writeTimer := metrics.NewTimer(p.endpoint.Name, "write")
	defer writeTimer.Stop()

	tid := p.endpoint.TableID()
	tableSchema, err := p.store.EnsureTable(ctx, tid, desired)
	if err != nil {
		return 0, err
	}

	return p.store.Write(ctx, tid, batch, tableSchema, p.endpoint.StorageMode, p.endpoint.DedupKey)
}

// fetch drives the client according to the handler's plan
func (p *Processor) fetch(ctx context.Context, ref time.Time) (api.RawResponse, error) {
	plan := p.handler.Plan()
	switch {
	case plan.Windowed:
		return p.client.FetchWindowed(ctx, p.endpoint, p.endpoint.APIKey, ref, plan.Window)
	case plan.Paginate:
		return p.client.FetchAll(ctx, p.endpoint, p.endpoint.APIKey, plan.Pagination)
	default:
		return p.client.Fetch(ctx, p.endpoint, p.endpoint.APIKey)
	}
}
