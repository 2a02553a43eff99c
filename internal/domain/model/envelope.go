package model

import (
	"encoding/json"
	"time"
)

// Envelope is one external record as returned by the ERP API. Exactly one of
// Order or Invoice is set, matching ObjectType. Raw keeps the untouched payload.
type Envelope struct {
	ObjectType ObjectType
	ExternalID string
	UpdatedAt  time.Time
	Order      *Order
	Invoice    *Invoice
	Raw        json.RawMessage
}

// TimeWindow bounds a modification-time query. A zero To means "open ended".
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// Page is one page of envelopes. NextPage is zero once the listing is exhausted.
type Page struct {
	Envelopes []Envelope
	NextPage  int
}

// Done reports whether no further pages exist.
func (p Page) Done() bool {
	return p.NextPage == 0
}
