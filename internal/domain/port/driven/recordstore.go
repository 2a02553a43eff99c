package driven

import (
	"context"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
)

// RecordStore defines the driven port for reconciled local rows. Each Reconcile
// call is atomic: the parent row and its replaced child lines commit together
// or not at all. External ID is the sole identity key.
type RecordStore interface {
	ReconcileOrder(ctx context.Context, order model.Order) (model.ReconcileOutcome, error)
	ReconcileInvoice(ctx context.Context, invoice model.Invoice) (model.ReconcileOutcome, error)

	// GetOrder returns the order with the given external id, or (nil, nil).
	GetOrder(ctx context.Context, externalID string) (*model.Order, error)
	// GetInvoice returns the invoice with the given external id, or (nil, nil).
	GetInvoice(ctx context.Context, externalID string) (*model.Invoice, error)
	// Count returns how many local rows exist for the object type.
	Count(ctx context.Context, objectType model.ObjectType) (int, error)
}
