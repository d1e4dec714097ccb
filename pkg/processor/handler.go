// Package processor executes one endpoint's ingestion cycle: fetch the
// raw response, transform it to a batch, reconcile against the table
// schema and land it in the warehouse. Endpoint kinds resolve to
// handlers through a static registry filled at init time.
package processor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tornflow/tornflow/pkg/api"
	"github.com/tornflow/tornflow/pkg/schema"
)

// FetchPlan tells the processor how to drive the API client for one
// endpoint kind.
type FetchPlan struct {
	// Paginate enables the cursor loop with these settings
	Paginate   bool
	Pagination api.PaginationConfig

	// Windowed enables the sliding-window historical walk. Implies
	// pagination inside each window.
	Windowed bool
	Window   api.WindowConfig
}

// Handler adapts one endpoint kind: its fetch plan, its declared table
// schema and its transform from raw response to batch.
type Handler interface {
	Kind() string
	Schema() schema.TableSchema
	Plan() FetchPlan
	Transform(raw map[string]interface{}, ref time.Time) (schema.Batch, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Handler)
)

// Register adds a handler to the registry. Called from init functions;
// a duplicate kind is a programming error and panics.
func Register(h Handler) {
	registryMu.Lock()
	defer registryMu.Unlock()

	kind := h.Kind()
	if _, exists := registry[kind]; exists {
		panic(fmt.Sprintf("processor: handler already registered for kind %q", kind))
	}
	registry[kind] = h
}

// Lookup resolves an endpoint kind to its handler
func Lookup(kind string) (Handler, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	h, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for endpoint kind %q", kind)
	}
	return h, nil
}

// Kinds returns the registered endpoint kinds, sorted
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
