package driven

import (
	"context"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
)

// TokenSource yields an access token valid for at least the safety margin.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

// OAuthExchanger talks to the external OAuth token endpoint.
type OAuthExchanger interface {
	ExchangeCode(ctx context.Context, code string) (model.TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string) (model.TokenGrant, error)
	AuthorizeURL(state string) string
}

// ERPClient defines the driven port for reading orders and invoices from the
// external ERP. Pagination is explicit: pass page 1 first and follow
// Page.NextPage until Page.Done().
type ERPClient interface {
	ListOrders(ctx context.Context, window model.TimeWindow, page int) (model.Page, error)
	GetOrder(ctx context.Context, externalID string) (model.Envelope, error)
	ListInvoices(ctx context.Context, window model.TimeWindow, page int) (model.Page, error)
	GetInvoice(ctx context.Context, externalID string) (model.Envelope, error)
}
