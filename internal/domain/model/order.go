package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Party is the customer recorded on an order or invoice.
type Party struct {
	Name     string
	Document string // Tax identifier as sent by the ERP.
	Email    string
}

// LineItem is one child line of an order or invoice. Amounts are in cents.
type LineItem struct {
	Position    int
	SKU         string
	Description string
	Quantity    float64
	UnitPrice   int64
	Total       int64
}

// ErrDuplicatePosition is returned when two line items claim the same position.
var ErrDuplicatePosition = errors.New("duplicate line item position")

// NumberLineItems returns a copy of items where every item without a positive
// position is numbered after the highest explicit one, keeping input order.
// Two items with the same explicit position fail with ErrDuplicatePosition.
func NumberLineItems(items []LineItem) ([]LineItem, error) {
	out := make([]LineItem, len(items))
	copy(out, items)

	seen := make(map[int]bool, len(out))
	highest := 0
	for _, item := range out {
		if item.Position <= 0 {
			continue
		}
		if seen[item.Position] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicatePosition, item.Position)
		}
		seen[item.Position] = true
		highest = max(highest, item.Position)
	}

	for i := range out {
		if out[i].Position <= 0 {
			highest++
			out[i].Position = highest
		}
	}

	return out, nil
}

// Order is the local projection of an external sales order.
type Order struct {
	ID              int64
	ExternalID      string
	Number          string
	Status          string
	Customer        Party
	Total           int64
	Currency        string
	IssuedAt        time.Time
	RemoteUpdatedAt time.Time
	SyncedAt        time.Time
	Items           []LineItem
	RawPayload      json.RawMessage
}

// Invoice is the local projection of an external invoice.
type Invoice struct {
	ID              int64
	ExternalID      string
	Number          string
	Series          string
	Status          string
	AccessKey       string
	OrderExternalID string
	Customer        Party
	Total           int64
	IssuedAt        time.Time
	RemoteUpdatedAt time.Time
	SyncedAt        time.Time
	Items           []LineItem
	RawPayload      json.RawMessage
}
