package erp

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// schemaSet holds the compiled response and record schemas.
type schemaSet struct {
	list    *jsonschema.Schema
	detail  *jsonschema.Schema
	records map[model.ObjectType]*jsonschema.Schema
}

func compileSchemas() (*schemaSet, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	names := []string{"list.json", "detail.json", "order.json", "invoice.json"}
	for _, name := range names {
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	set := &schemaSet{records: make(map[model.ObjectType]*jsonschema.Schema)}
	var err error
	if set.list, err = c.Compile("list.json"); err != nil {
		return nil, fmt.Errorf("compile list schema: %w", err)
	}
	if set.detail, err = c.Compile("detail.json"); err != nil {
		return nil, fmt.Errorf("compile detail schema: %w", err)
	}
	if set.records[model.ObjectTypeOrder], err = c.Compile("order.json"); err != nil {
		return nil, fmt.Errorf("compile order schema: %w", err)
	}
	if set.records[model.ObjectTypeInvoice], err = c.Compile("invoice.json"); err != nil {
		return nil, fmt.Errorf("compile invoice schema: %w", err)
	}

	return set, nil
}

// validate checks raw against schema, mapping any failure to ErrMalformedResponse.
func validate(schema *jsonschema.Schema, raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %w", driven.ErrMalformedResponse, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %w", driven.ErrMalformedResponse, err)
	}
	return nil
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*f = ""
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return err
		}
		*f = flexString(n.String())
	}
	return nil
}

type wireParty struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Email    string `json:"email"`
}

type wireItem struct {
	Position    int         `json:"position"`
	SKU         string      `json:"sku"`
	Description string      `json:"description"`
	Quantity    json.Number `json:"quantity"`
	UnitPrice   json.Number `json:"unit_price"`
	Total       json.Number `json:"total"`
}

type wireOrder struct {
	ID        flexString  `json:"id"`
	Number    flexString  `json:"number"`
	Status    string      `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
	IssuedAt  *time.Time  `json:"issued_at"`
	Currency  string      `json:"currency"`
	Total     json.Number `json:"total"`
	Customer  wireParty   `json:"customer"`
	Items     []wireItem  `json:"items"`
}

type wireInvoice struct {
	ID        flexString  `json:"id"`
	Number    flexString  `json:"number"`
	Series    flexString  `json:"series"`
	Status    string      `json:"status"`
	AccessKey string      `json:"access_key"`
	OrderID   flexString  `json:"order_id"`
	UpdatedAt time.Time   `json:"updated_at"`
	IssuedAt  *time.Time  `json:"issued_at"`
	Total     json.Number `json:"total"`
	Customer  wireParty   `json:"customer"`
	Items     []wireItem  `json:"items"`
}

// decodeEnvelope validates one record and projects it into an Envelope.
func (s *schemaSet) decodeEnvelope(objectType model.ObjectType, raw json.RawMessage) (model.Envelope, error) {
	schema, ok := s.records[objectType]
	if !ok {
		return model.Envelope{}, fmt.Errorf("no schema for object type %q", objectType)
	}
	if err := validate(schema, raw); err != nil {
		return model.Envelope{}, err
	}

	env := model.Envelope{ObjectType: objectType, Raw: append(json.RawMessage(nil), raw...)}

	switch objectType {
	case model.ObjectTypeOrder:
		order, err := decodeOrder(raw)
		if err != nil {
			return model.Envelope{}, fmt.Errorf("%w: order: %w", driven.ErrMalformedResponse, err)
		}
		order.RawPayload = env.Raw
		env.ExternalID = order.ExternalID
		env.UpdatedAt = order.RemoteUpdatedAt
		env.Order = &order
	case model.ObjectTypeInvoice:
		invoice, err := decodeInvoice(raw)
		if err != nil {
			return model.Envelope{}, fmt.Errorf("%w: invoice: %w", driven.ErrMalformedResponse, err)
		}
		invoice.RawPayload = env.Raw
		env.ExternalID = invoice.ExternalID
		env.UpdatedAt = invoice.RemoteUpdatedAt
		env.Invoice = &invoice
	}

	if strings.TrimSpace(env.ExternalID) == "" {
		return model.Envelope{}, fmt.Errorf("%w: empty id", driven.ErrMalformedResponse)
	}

	return env, nil
}

func decodeOrder(raw []byte) (model.Order, error) {
	var w wireOrder
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Order{}, err
	}

	total, err := toCents(w.Total)
	if err != nil {
		return model.Order{}, fmt.Errorf("total: %w", err)
	}
	items, err := mapItems(w.Items)
	if err != nil {
		return model.Order{}, err
	}

	return model.Order{
		ExternalID:      string(w.ID),
		Number:          string(w.Number),
		Status:          w.Status,
		Customer:        model.Party(w.Customer),
		Total:           total,
		Currency:        w.Currency,
		IssuedAt:        derefTime(w.IssuedAt),
		RemoteUpdatedAt: w.UpdatedAt.UTC(),
		Items:           items,
	}, nil
}

func decodeInvoice(raw []byte) (model.Invoice, error) {
	var w wireInvoice
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Invoice{}, err
	}

	total, err := toCents(w.Total)
	if err != nil {
		return model.Invoice{}, fmt.Errorf("total: %w", err)
	}
	items, err := mapItems(w.Items)
	if err != nil {
		return model.Invoice{}, err
	}

	return model.Invoice{
		ExternalID:      string(w.ID),
		Number:          string(w.Number),
		Series:          string(w.Series),
		Status:          w.Status,
		AccessKey:       w.AccessKey,
		OrderExternalID: string(w.OrderID),
		Customer:        model.Party(w.Customer),
		Total:           total,
		IssuedAt:        derefTime(w.IssuedAt),
		RemoteUpdatedAt: w.UpdatedAt.UTC(),
		Items:           items,
	}, nil
}

func mapItems(in []wireItem) ([]model.LineItem, error) {
	items := make([]model.LineItem, 0, len(in))
	for i, w := range in {
		qty, err := w.Quantity.Float64()
		if err != nil {
			return nil, fmt.Errorf("item %d quantity: %w", i+1, err)
		}
		unit, err := toCents(w.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("item %d unit_price: %w", i+1, err)
		}
		total, err := toCents(w.Total)
		if err != nil {
			return nil, fmt.Errorf("item %d total: %w", i+1, err)
		}
		if w.Total == "" {
			total = int64(math.Round(qty * float64(unit)))
		}

		items = append(items, model.LineItem{
			Position:    w.Position,
			SKU:         w.SKU,
			Description: w.Description,
			Quantity:    qty,
			UnitPrice:   unit,
			Total:       total,
		})
	}
	return model.NumberLineItems(items)
}

// toCents converts a decimal currency amount to integer cents.
func toCents(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f * 100)), nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
