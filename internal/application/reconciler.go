package application

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// Reconciler applies one envelope to the local store, keyed by external id.
// Each call is all-or-nothing.
type Reconciler struct {
	store driven.RecordStore
	now   func() time.Time
}

// NewReconciler creates a Reconciler over store.
func NewReconciler(store driven.RecordStore) *Reconciler {
	return &Reconciler{store: store, now: time.Now}
}

// Reconcile inserts or overwrites the local row for env and reports which.
func (r *Reconciler) Reconcile(ctx context.Context, env model.Envelope) (model.ReconcileOutcome, error) {
	switch env.ObjectType {
	case model.ObjectTypeOrder:
		if env.Order == nil {
			return "", fmt.Errorf("order envelope %s has no payload: %w", env.ExternalID, driven.ErrMalformedResponse)
		}
		order := *env.Order
		order.ExternalID = env.ExternalID
		order.SyncedAt = r.now().UTC()
		if order.RawPayload == nil {
			order.RawPayload = env.Raw
		}
		return r.store.ReconcileOrder(ctx, order)

	case model.ObjectTypeInvoice:
		if env.Invoice == nil {
			return "", fmt.Errorf("invoice envelope %s has no payload: %w", env.ExternalID, driven.ErrMalformedResponse)
		}
		invoice := *env.Invoice
		invoice.ExternalID = env.ExternalID
		invoice.SyncedAt = r.now().UTC()
		if invoice.RawPayload == nil {
			invoice.RawPayload = env.Raw
		}
		return r.store.ReconcileInvoice(ctx, invoice)

	default:
		return "", fmt.Errorf("reconcile %s: unknown object type %q", env.ExternalID, env.ObjectType)
	}
}
