package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ERPClient = (*Client)(nil)

// DefaultPageSize is used when NewClient is given a non-positive page size.
const DefaultPageSize = 100

// resourcePaths maps object types to their collection path under the API base.
var resourcePaths = map[model.ObjectType]string{
	model.ObjectTypeOrder:   "orders",
	model.ObjectTypeInvoice: "invoices",
}

// Client implements the driven.ERPClient port. Every call obtains a token from
// the TokenSource and executes through the shared Transport.
type Client struct {
	baseURL   *url.URL
	tokens    driven.TokenSource
	transport *Transport
	pageSize  int
	schemas   *schemaSet
}

// NewClient creates a Client for the API rooted at baseURL.
func NewClient(baseURL string, tokens driven.TokenSource, transport *Transport, pageSize int) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}

	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Client{
		baseURL:   u,
		tokens:    tokens,
		transport: transport,
		pageSize:  pageSize,
		schemas:   schemas,
	}, nil
}

// ListOrders returns one page of orders modified inside window.
func (c *Client) ListOrders(ctx context.Context, window model.TimeWindow, page int) (model.Page, error) {
	return c.list(ctx, model.ObjectTypeOrder, window, page)
}

// GetOrder fetches one order. A missing order fails with driven.ErrNotFound.
func (c *Client) GetOrder(ctx context.Context, externalID string) (model.Envelope, error) {
	return c.get(ctx, model.ObjectTypeOrder, externalID)
}

// ListInvoices returns one page of invoices modified inside window.
func (c *Client) ListInvoices(ctx context.Context, window model.TimeWindow, page int) (model.Page, error) {
	return c.list(ctx, model.ObjectTypeInvoice, window, page)
}

// GetInvoice fetches one invoice. A missing invoice fails with driven.ErrNotFound.
func (c *Client) GetInvoice(ctx context.Context, externalID string) (model.Envelope, error) {
	return c.get(ctx, model.ObjectTypeInvoice, externalID)
}

func (c *Client) list(ctx context.Context, objectType model.ObjectType, window model.TimeWindow, page int) (model.Page, error) {
	if page < 1 {
		page = 1
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(c.pageSize))
	if !window.From.IsZero() {
		q.Set("modified_from", window.From.UTC().Format(time.RFC3339))
	}
	if !window.To.IsZero() {
		q.Set("modified_to", window.To.UTC().Format(time.RFC3339))
	}

	path := resourcePaths[objectType]
	body, err := c.fetch(ctx, c.baseURL.JoinPath(path), q)
	if err != nil {
		return model.Page{}, fmt.Errorf("listing %s (page %d): %w", path, page, err)
	}

	if err := validate(c.schemas.list, body); err != nil {
		return model.Page{}, fmt.Errorf("listing %s (page %d): %w", path, page, err)
	}

	var resp struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Page{}, fmt.Errorf("listing %s (page %d): %w: %w", path, page, driven.ErrMalformedResponse, err)
	}

	envelopes := make([]model.Envelope, 0, len(resp.Data))
	for i, raw := range resp.Data {
		env, err := c.schemas.decodeEnvelope(objectType, raw)
		if err != nil {
			return model.Page{}, fmt.Errorf("listing %s (page %d, record %d): %w", path, page, i, err)
		}
		envelopes = append(envelopes, env)
	}

	next := 0
	if len(envelopes) >= c.pageSize {
		next = page + 1
	}

	slog.Debug("erp api list",
		"resource", path,
		"page", page,
		"count", len(envelopes),
		"next_page", next,
	)

	return model.Page{Envelopes: envelopes, NextPage: next}, nil
}

func (c *Client) get(ctx context.Context, objectType model.ObjectType, externalID string) (model.Envelope, error) {
	path := resourcePaths[objectType]
	if externalID == "" {
		return model.Envelope{}, fmt.Errorf("get %s: empty external id", path)
	}

	body, err := c.fetch(ctx, c.baseURL.JoinPath(path, externalID), nil)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("get %s %s: %w", path, externalID, err)
	}

	if err := validate(c.schemas.detail, body); err != nil {
		return model.Envelope{}, fmt.Errorf("get %s %s: %w", path, externalID, err)
	}

	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Envelope{}, fmt.Errorf("get %s %s: %w: %w", path, externalID, driven.ErrMalformedResponse, err)
	}

	env, err := c.schemas.decodeEnvelope(objectType, resp.Data)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("get %s %s: %w", path, externalID, err)
	}

	return env, nil
}

// fetch performs an authenticated GET. Token failures propagate unchanged.
func (c *Client) fetch(ctx context.Context, u *url.URL, q url.Values) ([]byte, error) {
	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	if q != nil {
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.transport.Do(req)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}
