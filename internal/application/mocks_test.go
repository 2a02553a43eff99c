package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// --- Credential store ---

type memCredentialStore struct {
	mu        sync.Mutex
	active    *model.Credential
	nextID    int64
	updates   int
	updateErr error
}

func (m *memCredentialStore) GetActive(context.Context) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, nil
	}
	c := *m.active
	return &c, nil
}

func (m *memCredentialStore) Activate(_ context.Context, cred model.Credential) (model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cred.ID = m.nextID
	cred.Active = true
	m.active = &cred
	return cred, nil
}

func (m *memCredentialStore) UpdateTokens(_ context.Context, id int64, access, refresh, tokenType string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if m.active == nil || m.active.ID != id {
		return driven.ErrAuthNotConfigured
	}
	m.updates++
	m.active.AccessToken = access
	m.active.RefreshToken = refresh
	m.active.TokenType = tokenType
	m.active.ExpiresAt = expiresAt
	return nil
}

func (m *memCredentialStore) Deactivate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
	return nil
}

func (m *memCredentialStore) snapshot() *model.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	c := *m.active
	return &c
}

// --- OAuth exchanger ---

type fakeOAuth struct {
	refreshCalls atomic.Int32
	refresh      func(refreshToken string) (model.TokenGrant, error)
	exchange     func(code string) (model.TokenGrant, error)
}

func (f *fakeOAuth) Refresh(_ context.Context, refreshToken string) (model.TokenGrant, error) {
	f.refreshCalls.Add(1)
	return f.refresh(refreshToken)
}

func (f *fakeOAuth) ExchangeCode(_ context.Context, code string) (model.TokenGrant, error) {
	return f.exchange(code)
}

func (f *fakeOAuth) AuthorizeURL(state string) string {
	return "https://erp.test/authorize?state=" + state
}

// --- Cursor store ---

type memCursorStore struct {
	mu       sync.Mutex
	cursors  map[model.ObjectType]time.Time
	advances int
}

func newMemCursorStore() *memCursorStore {
	return &memCursorStore{cursors: make(map[model.ObjectType]time.Time)}
}

func (m *memCursorStore) Get(_ context.Context, ot model.ObjectType) (*model.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.cursors[ot]
	if !ok {
		return nil, nil
	}
	return &model.SyncCursor{ObjectType: ot, LastSyncedAt: at}, nil
}

func (m *memCursorStore) Advance(_ context.Context, ot model.ObjectType, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advances++
	if at.After(m.cursors[ot]) {
		m.cursors[ot] = at
	}
	return nil
}

func (m *memCursorStore) List(context.Context) ([]model.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncCursor
	for _, ot := range model.ObjectTypes {
		if at, ok := m.cursors[ot]; ok {
			out = append(out, model.SyncCursor{ObjectType: ot, LastSyncedAt: at})
		}
	}
	return out, nil
}

// --- Record store ---

// memRecordStore keys rows by external id, like the unique constraint does.
type memRecordStore struct {
	mu       sync.Mutex
	orders   map[string]model.Order
	invoices map[string]model.Invoice
	failIDs  map[string]bool
	calls    int
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{
		orders:   make(map[string]model.Order),
		invoices: make(map[string]model.Invoice),
		failIDs:  make(map[string]bool),
	}
}

func (m *memRecordStore) ReconcileOrder(_ context.Context, o model.Order) (model.ReconcileOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failIDs[o.ExternalID] {
		return "", fmt.Errorf("reconcile order %s: %w", o.ExternalID, driven.ErrPersistence)
	}
	_, exists := m.orders[o.ExternalID]
	m.orders[o.ExternalID] = o
	if exists {
		return model.OutcomeUpdated, nil
	}
	return model.OutcomeInserted, nil
}

func (m *memRecordStore) ReconcileInvoice(_ context.Context, inv model.Invoice) (model.ReconcileOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failIDs[inv.ExternalID] {
		return "", fmt.Errorf("reconcile invoice %s: %w", inv.ExternalID, driven.ErrPersistence)
	}
	_, exists := m.invoices[inv.ExternalID]
	m.invoices[inv.ExternalID] = inv
	if exists {
		return model.OutcomeUpdated, nil
	}
	return model.OutcomeInserted, nil
}

func (m *memRecordStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *memRecordStore) GetInvoice(_ context.Context, id string) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (m *memRecordStore) Count(_ context.Context, ot model.ObjectType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ot {
	case model.ObjectTypeOrder:
		return len(m.orders), nil
	case model.ObjectTypeInvoice:
		return len(m.invoices), nil
	}
	return 0, errors.New("unknown type")
}

// --- Sync run store ---

type memRunStore struct {
	mu   sync.Mutex
	runs map[string]model.SyncRun
	ids  []string
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[string]model.SyncRun)}
}

func (m *memRunStore) Start(_ context.Context, run model.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	m.ids = append(m.ids, run.ID)
	return nil
}

func (m *memRunStore) Finish(_ context.Context, run model.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *memRunStore) ListRecent(_ context.Context, limit int) ([]model.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncRun
	for i := len(m.ids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[m.ids[i]])
	}
	return out, nil
}

func (m *memRunStore) all() []model.SyncRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SyncRun, 0, len(m.ids))
	for _, id := range m.ids {
		out = append(out, m.runs[id])
	}
	return out
}

// --- ERP client ---

type listCall struct {
	objectType model.ObjectType
	window     model.TimeWindow
	page       int
}

// fakeERP serves fixed pages per object type. A page number present in
// failPage fails until the entry is removed.
type fakeERP struct {
	mu       sync.Mutex
	pages    map[model.ObjectType][]model.Page
	records  map[string]model.Envelope
	failPage map[int]error
	calls    []listCall
}

func newFakeERP() *fakeERP {
	return &fakeERP{
		pages:    make(map[model.ObjectType][]model.Page),
		records:  make(map[string]model.Envelope),
		failPage: make(map[int]error),
	}
}

func (f *fakeERP) list(ot model.ObjectType, window model.TimeWindow, page int) (model.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, listCall{objectType: ot, window: window, page: page})
	if err, ok := f.failPage[page]; ok {
		return model.Page{}, err
	}
	pages := f.pages[ot]
	if page < 1 || page > len(pages) {
		return model.Page{}, nil
	}
	return pages[page-1], nil
}

func (f *fakeERP) ListOrders(_ context.Context, w model.TimeWindow, page int) (model.Page, error) {
	return f.list(model.ObjectTypeOrder, w, page)
}

func (f *fakeERP) ListInvoices(_ context.Context, w model.TimeWindow, page int) (model.Page, error) {
	return f.list(model.ObjectTypeInvoice, w, page)
}

func (f *fakeERP) get(id string) (model.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	env, ok := f.records[id]
	if !ok {
		return model.Envelope{}, &driven.APIError{Kind: driven.ErrNotFound, StatusCode: 404}
	}
	return env, nil
}

func (f *fakeERP) GetOrder(_ context.Context, id string) (model.Envelope, error) {
	return f.get(id)
}

func (f *fakeERP) GetInvoice(_ context.Context, id string) (model.Envelope, error) {
	return f.get(id)
}

func (f *fakeERP) listCalls() []listCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]listCall(nil), f.calls...)
}

// orderEnvelope builds an order envelope with the given status.
func orderEnvelope(id, status string, updated time.Time) model.Envelope {
	raw, _ := json.Marshal(map[string]any{"id": id, "status": status, "updated_at": updated})
	return model.Envelope{
		ObjectType: model.ObjectTypeOrder,
		ExternalID: id,
		UpdatedAt:  updated,
		Order: &model.Order{
			ExternalID:      id,
			Status:          status,
			RemoteUpdatedAt: updated,
		},
		Raw: raw,
	}
}

// pagesOf splits envelopes into pages of size with NextPage links.
func pagesOf(size int, envs ...model.Envelope) []model.Page {
	var pages []model.Page
	for i := 0; i < len(envs); i += size {
		end := min(i+size, len(envs))
		p := model.Page{Envelopes: envs[i:end]}
		if end < len(envs) {
			p.NextPage = len(pages) + 2
		}
		pages = append(pages, p)
	}
	return pages
}
