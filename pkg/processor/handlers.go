package processor

import (
	"sync"
	"time"

	"github.com/tornflow/tornflow/pkg/api"
	"github.com/tornflow/tornflow/pkg/errors"
	"github.com/tornflow/tornflow/pkg/logger"
	"github.com/tornflow/tornflow/pkg/schema"
	"github.com/tornflow/tornflow/pkg/transform"
)

// serverTimestampColumn carries the cycle's reference time on every
// record and doubles as the default append dedup key.
const serverTimestampColumn = "server_timestamp"

func init() {
	Register(newCurrencyHandler())

	Register(&rulesHandler{
		kind: "members",
		schema: schema.TableSchema{
			{Name: "member_id", Type: schema.TypeInteger, Mode: schema.ModeRequired},
			{Name: "name", Type: schema.TypeString, Mode: schema.ModeNullable},
			{Name: "level", Type: schema.TypeInteger, Mode: schema.ModeNullable},
			{Name: "days_in_faction", Type: schema.TypeInteger, Mode: schema.ModeNullable},
			{Name: "last_action_status", Type: schema.TypeString, Mode: schema.ModeNullable},
			{Name: "last_action_timestamp", Type: schema.TypeTimestamp, Mode: schema.ModeNullable},
			{Name: "status_description", Type: schema.TypeString, Mode: schema.ModeNullable},
			{Name: "status_state", Type: schema.TypeString, Mode: schema.ModeNullable},
			{Name: "status_until", Type: schema.TypeTimestamp, Mode: schema.ModeNullable},
			{Name: "position", Type: schema.TypeString, Mode: schema.ModeNullable},
			{Name: serverTimestampColumn, Type: schema.TypeTimestamp, Mode: schema.ModeRequired},
		},
		rules: transform.Rules{
			PayloadKey:     "members",
			KeyedMap:       true,
			IDField:        "member_id",
			TimestampField: serverTimestampColumn,
		},
	})

	Register(&rulesHandler{
		kind: "crimes",
		schema: schema.TableSchema{
			{Name: "crime_id", Type: schema.TypeInteger, Mode: schema.ModeRequired},
			{Name: "name", Type: schema.TypeString, Mode: schema.ModeNullable},
			{Name: "difficulty", Type: schema.TypeInteger, Mode: schema.ModeNullable},
			{Name: "status", Type: schema.TypeString, Mode: schema.ModeNullable},
			{Name: "created_at", Type: schema.TypeTimestamp, Mode: schema.ModeNullable},
			{Name: "executed_at", Type: schema.TypeTimestamp, Mode: schema.ModeNullable},
			{Name: "participants_id", Type: schema.TypeInteger, Mode: schema.ModeNullable},
			{Name: "participants_position", Type: schema.TypeString, Mode: schema.ModeNullable},
			{Name: "participants_outcome", Type: schema.TypeString, Mode: schema.ModeNullable},
			{Name: "rewards_items_id", Type: schema.TypeInteger, Mode: schema.ModeNullable},
			{Name: "rewards_items_quantity", Type: schema.TypeInteger, Mode: schema.ModeNullable},
			{Name: "rewards_money", Type: schema.TypeInteger, Mode: schema.ModeNullable},
			{Name: "rewards_respect", Type: schema.TypeFloat, Mode: schema.ModeNullable},
			{Name: serverTimestampColumn, Type: schema.TypeTimestamp, Mode: schema.ModeRequired},
		},
		rules: transform.Rules{
			PayloadKey:     "crimes",
			KeyedMap:       true,
			IDField:        "crime_id",
			ExplodeFields:  []string{"participants", "rewards_items"},
			TimestampField: serverTimestampColumn,
		},
		plan: FetchPlan{
			Windowed: true,
			Window: api.WindowConfig{
				IdentifierKey: "crimes",
			},
		},
	})

	Register(&rulesHandler{
		kind: "items",
		schema: schema.TableSchema{
			{Name: "item_id", Type: schema.TypeInteger, Mode: schema.ModeRequired},
			{Name: "name", Type: schema.TypeString, Mode: schema.ModeNullable},
			{Name: "description", Type: schema.TypeString, Mode: schema.ModeNullable},
			{Name: "type", Type: schema.TypeString, Mode: schema.ModeNullable},
			{Name: "buy_price", Type: schema.TypeInteger, Mode: schema.ModeNullable},
			{Name: "sell_price", Type: schema.TypeInteger, Mode: schema.ModeNullable},
			{Name: "market_value", Type: schema.TypeInteger, Mode: schema.ModeNullable},
			{Name: "circulation", Type: schema.TypeInteger, Mode: schema.ModeNullable},
			{Name: serverTimestampColumn, Type: schema.TypeTimestamp, Mode: schema.ModeRequired},
		},
		rules: transform.Rules{
			PayloadKey:     "items",
			KeyedMap:       true,
			IDField:        "item_id",
			TimestampField: serverTimestampColumn,
		},
		plan: FetchPlan{
			Paginate: true,
			Pagination: api.PaginationConfig{
				IdentifierKey: "items",
			},
		},
	})
}

// rulesHandler is the generic handler: a declared schema plus transform
// rules fed through the engine.
type rulesHandler struct {
	kind   string
	schema schema.TableSchema
	rules  transform.Rules
	plan   FetchPlan

	once   sync.Once
	engine *transform.Engine
}

func (h *rulesHandler) Kind() string               { return h.kind }
func (h *rulesHandler) Schema() schema.TableSchema { return h.schema }
func (h *rulesHandler) Plan() FetchPlan            { return h.plan }

func (h *rulesHandler) Transform(raw map[string]interface{}, ref time.Time) (schema.Batch, error) {
	h.once.Do(func() {
		h.engine = transform.NewEngine(h.rules, logger.Get())
	})
	return h.engine.Transform(raw, ref)
}

// currencyHandler maps the points market snapshot onto the fixed
// currency table: points is currency 1.
type currencyHandler struct{}

func newCurrencyHandler() *currencyHandler { return &currencyHandler{} }

func (h *currencyHandler) Kind() string { return "currency" }

func (h *currencyHandler) Plan() FetchPlan { return FetchPlan{} }

func (h *currencyHandler) Schema() schema.TableSchema {
	return schema.TableSchema{
		{Name: "currency_id", Type: schema.TypeInteger, Mode: schema.ModeRequired},
		{Name: "name", Type: schema.TypeString, Mode: schema.ModeRequired},
		{Name: "buy_price", Type: schema.TypeFloat, Mode: schema.ModeNullable},
		{Name: "sell_price", Type: schema.TypeFloat, Mode: schema.ModeNullable},
		{Name: "circulation", Type: schema.TypeInteger, Mode: schema.ModeNullable},
		{Name: serverTimestampColumn, Type: schema.TypeTimestamp, Mode: schema.ModeRequired},
	}
}

func (h *currencyHandler) Transform(raw map[string]interface{}, ref time.Time) (schema.Batch, error) {
	points, ok := raw["points"].(map[string]interface{})
	if !ok {
		return nil, errors.New(errors.ErrorTypeAPI, `payload key "points" missing from response`)
	}

	rec := schema.Record{
		"currency_id":         1,
		"name":                "Points",
		"buy_price":           points["buy"],
		"sell_price":          points["sell"],
		"circulation":         points["total"],
		serverTimestampColumn: ref.UTC(),
	}
	return schema.Batch{rec}, nil
}
