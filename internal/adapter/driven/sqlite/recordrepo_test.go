package sqlite

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

func testOrder(externalID string, updatedAt time.Time) model.Order {
	return model.Order{
		ExternalID:      externalID,
		Number:          "SO-" + externalID,
		Status:          "open",
		Customer:        model.Party{Name: "ACME", Document: "12345678000199", Email: "buyer@acme.test"},
		Total:           2500,
		Currency:        "BRL",
		IssuedAt:        updatedAt.Add(-time.Hour),
		RemoteUpdatedAt: updatedAt,
		Items: []model.LineItem{
			{Position: 1, SKU: "A", Description: "Widget", Quantity: 2, UnitPrice: 1000, Total: 2000},
			{Position: 2, SKU: "B", Description: "Gadget", Quantity: 1, UnitPrice: 500, Total: 500},
		},
		RawPayload: json.RawMessage(`{"id":"` + externalID + `"}`),
	}
}

func TestRecordRepo_ReconcileOrderInsertThenUpdate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordRepo(db)
	ctx := context.Background()
	at := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	outcome, err := repo.ReconcileOrder(ctx, testOrder("EXT-001", at))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInserted, outcome)

	outcome, err = repo.ReconcileOrder(ctx, testOrder("EXT-001", at))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeUpdated, outcome)

	n, err := repo.Count(ctx, model.ObjectTypeOrder)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var items int
	err = db.Reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_items`).Scan(&items)
	require.NoError(t, err)
	assert.Equal(t, 2, items)
}

func TestRecordRepo_ReconcileOrderReplacesItems(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordRepo(db)
	ctx := context.Background()
	at := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	_, err := repo.ReconcileOrder(ctx, testOrder("EXT-002", at))
	require.NoError(t, err)

	changed := testOrder("EXT-002", at.Add(time.Minute))
	changed.Status = "invoiced"
	changed.Total = 900
	changed.Items = []model.LineItem{{Position: 1, SKU: "C", Description: "Gizmo", Quantity: 3, UnitPrice: 300, Total: 900}}

	_, err = repo.ReconcileOrder(ctx, changed)
	require.NoError(t, err)

	got, err := repo.GetOrder(ctx, "EXT-002")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "invoiced", got.Status)
	assert.Equal(t, int64(900), got.Total)
	assert.True(t, changed.RemoteUpdatedAt.Equal(got.RemoteUpdatedAt))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "C", got.Items[0].SKU)
	assert.InDelta(t, 3.0, got.Items[0].Quantity, 0.0001)
	assert.JSONEq(t, `{"id":"EXT-002"}`, string(got.RawPayload))
}

func TestRecordRepo_ReconcileOrderFailedLinesRollBack(t *testing.T) {
	at := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		setup func(t *testing.T, db *DB)
		items []model.LineItem
	}{
		{
			name:  "duplicate positions",
			items: []model.LineItem{{Position: 1, SKU: "X", Quantity: 1}, {Position: 1, SKU: "Y", Quantity: 1}},
		},
		{
			name: "line insert rejected",
			setup: func(t *testing.T, db *DB) {
				t.Helper()
				_, err := db.Writer.ExecContext(context.Background(), `
					CREATE TRIGGER reject_line BEFORE INSERT ON order_items
					WHEN NEW.sku = 'REJECT'
					BEGIN SELECT RAISE(ABORT, 'line rejected'); END
				`)
				require.NoError(t, err)
			},
			items: []model.LineItem{{Position: 1, SKU: "Z", Quantity: 1}, {Position: 2, SKU: "REJECT", Quantity: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)
			repo := NewRecordRepo(db)
			ctx := context.Background()

			_, err := repo.ReconcileOrder(ctx, testOrder("EXT-ATOM", at))
			require.NoError(t, err)
			if tt.setup != nil {
				tt.setup(t, db)
			}

			changed := testOrder("EXT-ATOM", at.Add(time.Minute))
			changed.Status = "cancelled"
			changed.Total = 0
			changed.RawPayload = json.RawMessage(`{"id":"EXT-ATOM","status":"cancelled"}`)
			changed.Items = tt.items

			_, err = repo.ReconcileOrder(ctx, changed)
			require.Error(t, err)
			assert.ErrorIs(t, err, driven.ErrPersistence)

			got, err := repo.GetOrder(ctx, "EXT-ATOM")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "open", got.Status)
			assert.Equal(t, int64(2500), got.Total)
			assert.True(t, at.Equal(got.RemoteUpdatedAt))
			assert.JSONEq(t, `{"id":"EXT-ATOM"}`, string(got.RawPayload))
			require.Len(t, got.Items, 2)
			assert.Equal(t, "A", got.Items[0].SKU)
			assert.Equal(t, "B", got.Items[1].SKU)
		})
	}
}

func TestRecordRepo_ReconcileOrderNumbersMissingPositions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordRepo(db)
	ctx := context.Background()

	order := testOrder("EXT-POS", time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	order.Items = []model.LineItem{{SKU: "A", Quantity: 1}, {Position: 1, SKU: "B", Quantity: 1}}

	_, err := repo.ReconcileOrder(ctx, order)
	require.NoError(t, err)

	got, err := repo.GetOrder(ctx, "EXT-POS")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "B", got.Items[0].SKU)
	assert.Equal(t, 1, got.Items[0].Position)
	assert.Equal(t, "A", got.Items[1].SKU)
	assert.Equal(t, 2, got.Items[1].Position)
}

func TestRecordRepo_GetOrderMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordRepo(db)

	got, err := repo.GetOrder(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecordRepo_ConcurrentReconcileSingleRow(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordRepo(db)
	ctx := context.Background()
	at := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ReconcileOrder(ctx, testOrder("EXT-RACE", at))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	n, err := repo.Count(ctx, model.ObjectTypeOrder)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordRepo_ReconcileInvoice(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordRepo(db)
	ctx := context.Background()
	at := time.Date(2026, 1, 20, 9, 30, 0, 0, time.UTC)

	invoice := model.Invoice{
		ExternalID:      "INV-9",
		Number:          "1001",
		Series:          "1",
		Status:          "authorized",
		AccessKey:       "35260112345678000199550010000010011000000010",
		OrderExternalID: "EXT-001",
		Customer:        model.Party{Name: "ACME"},
		Total:           2500,
		RemoteUpdatedAt: at,
		Items:           []model.LineItem{{Position: 1, SKU: "A", Quantity: 1, UnitPrice: 2500, Total: 2500}},
		RawPayload:      json.RawMessage(`{}`),
	}

	outcome, err := repo.ReconcileInvoice(ctx, invoice)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInserted, outcome)

	outcome, err = repo.ReconcileInvoice(ctx, invoice)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeUpdated, outcome)

	got, err := repo.GetInvoice(ctx, "INV-9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "EXT-001", got.OrderExternalID)
	assert.True(t, got.IssuedAt.IsZero())
	require.Len(t, got.Items, 1)

	n, err := repo.Count(ctx, model.ObjectTypeInvoice)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordRepo_CountUnknownType(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordRepo(db)

	_, err := repo.Count(context.Background(), model.ObjectType("widget"))
	assert.Error(t, err)
}
