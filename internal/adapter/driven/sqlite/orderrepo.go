package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
)

// ReconcileOrder inserts or updates the order keyed by its external id and
// replaces its line items, all inside one transaction.
func (r *RecordRepo) ReconcileOrder(ctx context.Context, order model.Order) (model.ReconcileOutcome, error) {
	op := fmt.Sprintf("reconcile order %s", order.ExternalID)

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return "", persistenceError(op, fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	existingID, err := lookupID(ctx, tx, "orders", order.ExternalID)
	if err != nil {
		return "", persistenceError(op, err)
	}

	const upsert = `
		INSERT INTO orders (
			external_id, number, status, customer_name, customer_document, customer_email,
			total_cents, currency, issued_at, remote_updated_at, synced_at, raw_payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			number = excluded.number,
			status = excluded.status,
			customer_name = excluded.customer_name,
			customer_document = excluded.customer_document,
			customer_email = excluded.customer_email,
			total_cents = excluded.total_cents,
			currency = excluded.currency,
			issued_at = excluded.issued_at,
			remote_updated_at = excluded.remote_updated_at,
			synced_at = excluded.synced_at,
			raw_payload = excluded.raw_payload
		RETURNING id
	`

	syncedAt := order.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	var id int64
	err = tx.QueryRowContext(ctx, upsert,
		order.ExternalID, order.Number, order.Status,
		order.Customer.Name, order.Customer.Document, order.Customer.Email,
		order.Total, order.Currency, nullableTime(order.IssuedAt),
		formatTime(order.RemoteUpdatedAt), formatTime(syncedAt), string(order.RawPayload),
	).Scan(&id)
	if err != nil {
		return "", persistenceError(op, err)
	}

	if err := replaceItems(ctx, tx, "order_items", "order_id", id, order.Items); err != nil {
		return "", persistenceError(op, err)
	}

	if err := tx.Commit(); err != nil {
		return "", persistenceError(op, fmt.Errorf("commit: %w", err))
	}

	return outcomeFor(existingID), nil
}

// GetOrder returns the order with the given external id and its line items.
// Returns nil, nil if the order does not exist.
func (r *RecordRepo) GetOrder(ctx context.Context, externalID string) (*model.Order, error) {
	const query = `
		SELECT id, external_id, number, status, customer_name, customer_document, customer_email,
		       total_cents, currency, issued_at, remote_updated_at, synced_at, raw_payload
		FROM orders
		WHERE external_id = ?
	`

	order, err := scanOrder(r.db.Reader.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", externalID, err)
	}

	order.Items, err = r.loadItems(ctx, "order_items", "order_id", order.ID)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", externalID, err)
	}

	return order, nil
}

func scanOrder(s scanner) (*model.Order, error) {
	var o model.Order
	var issuedAt sql.NullString
	var remoteUpdatedAt, syncedAt, raw string

	err := s.Scan(
		&o.ID, &o.ExternalID, &o.Number, &o.Status,
		&o.Customer.Name, &o.Customer.Document, &o.Customer.Email,
		&o.Total, &o.Currency, &issuedAt, &remoteUpdatedAt, &syncedAt, &raw,
	)
	if err != nil {
		return nil, err
	}

	o.RawPayload = []byte(raw)

	if o.IssuedAt, err = parseNullTime(issuedAt); err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}
	if o.RemoteUpdatedAt, err = parseTime(remoteUpdatedAt); err != nil {
		return nil, fmt.Errorf("parse remote_updated_at: %w", err)
	}
	if o.SyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, fmt.Errorf("parse synced_at: %w", err)
	}

	return &o, nil
}
