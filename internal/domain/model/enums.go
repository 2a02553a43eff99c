package model

import "fmt"

// ObjectType identifies a kind of external business object that is synchronized.
type ObjectType string

const (
	ObjectTypeOrder   ObjectType = "order"
	ObjectTypeInvoice ObjectType = "invoice"
)

// ObjectTypes lists every synchronized object type in poll order.
var ObjectTypes = []ObjectType{ObjectTypeOrder, ObjectTypeInvoice}

// ParseObjectType validates a user- or webhook-supplied object type.
func ParseObjectType(s string) (ObjectType, error) {
	switch ObjectType(s) {
	case ObjectTypeOrder, ObjectTypeInvoice:
		return ObjectType(s), nil
	}
	return "", fmt.Errorf("unknown object type %q", s)
}

// ReconcileOutcome reports what reconciling one envelope did to the local store.
type ReconcileOutcome string

const (
	OutcomeInserted ReconcileOutcome = "inserted"
	OutcomeUpdated  ReconcileOutcome = "updated"
)

// SyncTrigger names the path that started a sync run.
type SyncTrigger string

const (
	TriggerWebhook  SyncTrigger = "webhook"
	TriggerPoll     SyncTrigger = "poll"
	TriggerBackfill SyncTrigger = "backfill"
)

// SyncRunStatus is the lifecycle state of a sync run.
type SyncRunStatus string

const (
	RunStatusRunning   SyncRunStatus = "running"
	RunStatusSucceeded SyncRunStatus = "succeeded"
	RunStatusFailed    SyncRunStatus = "failed"
)
