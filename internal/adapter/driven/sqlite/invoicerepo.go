package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
)

// ReconcileInvoice inserts or updates the invoice keyed by its external id and
// replaces its line items, all inside one transaction.
func (r *RecordRepo) ReconcileInvoice(ctx context.Context, invoice model.Invoice) (model.ReconcileOutcome, error) {
	op := fmt.Sprintf("reconcile invoice %s", invoice.ExternalID)

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return "", persistenceError(op, fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	existingID, err := lookupID(ctx, tx, "invoices", invoice.ExternalID)
	if err != nil {
		return "", persistenceError(op, err)
	}

	const upsert = `
		INSERT INTO invoices (
			external_id, number, series, status, access_key, order_external_id,
			customer_name, customer_document, customer_email,
			total_cents, issued_at, remote_updated_at, synced_at, raw_payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			number = excluded.number,
			series = excluded.series,
			status = excluded.status,
			access_key = excluded.access_key,
			order_external_id = excluded.order_external_id,
			customer_name = excluded.customer_name,
			customer_document = excluded.customer_document,
			customer_email = excluded.customer_email,
			total_cents = excluded.total_cents,
			issued_at = excluded.issued_at,
			remote_updated_at = excluded.remote_updated_at,
			synced_at = excluded.synced_at,
			raw_payload = excluded.raw_payload
		RETURNING id
	`

	syncedAt := invoice.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	var id int64
	err = tx.QueryRowContext(ctx, upsert,
		invoice.ExternalID, invoice.Number, invoice.Series, invoice.Status,
		invoice.AccessKey, invoice.OrderExternalID,
		invoice.Customer.Name, invoice.Customer.Document, invoice.Customer.Email,
		invoice.Total, nullableTime(invoice.IssuedAt),
		formatTime(invoice.RemoteUpdatedAt), formatTime(syncedAt), string(invoice.RawPayload),
	).Scan(&id)
	if err != nil {
		return "", persistenceError(op, err)
	}

	if err := replaceItems(ctx, tx, "invoice_items", "invoice_id", id, invoice.Items); err != nil {
		return "", persistenceError(op, err)
	}

	if err := tx.Commit(); err != nil {
		return "", persistenceError(op, fmt.Errorf("commit: %w", err))
	}

	return outcomeFor(existingID), nil
}

// GetInvoice returns the invoice with the given external id and its line items.
// Returns nil, nil if the invoice does not exist.
func (r *RecordRepo) GetInvoice(ctx context.Context, externalID string) (*model.Invoice, error) {
	const query = `
		SELECT id, external_id, number, series, status, access_key, order_external_id,
		       customer_name, customer_document, customer_email,
		       total_cents, issued_at, remote_updated_at, synced_at, raw_payload
		FROM invoices
		WHERE external_id = ?
	`

	invoice, err := scanInvoice(r.db.Reader.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice %s: %w", externalID, err)
	}

	invoice.Items, err = r.loadItems(ctx, "invoice_items", "invoice_id", invoice.ID)
	if err != nil {
		return nil, fmt.Errorf("get invoice %s: %w", externalID, err)
	}

	return invoice, nil
}

func scanInvoice(s scanner) (*model.Invoice, error) {
	var inv model.Invoice
	var issuedAt sql.NullString
	var remoteUpdatedAt, syncedAt, raw string

	err := s.Scan(
		&inv.ID, &inv.ExternalID, &inv.Number, &inv.Series, &inv.Status,
		&inv.AccessKey, &inv.OrderExternalID,
		&inv.Customer.Name, &inv.Customer.Document, &inv.Customer.Email,
		&inv.Total, &issuedAt, &remoteUpdatedAt, &syncedAt, &raw,
	)
	if err != nil {
		return nil, err
	}

	inv.RawPayload = []byte(raw)

	if inv.IssuedAt, err = parseNullTime(issuedAt); err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}
	if inv.RemoteUpdatedAt, err = parseTime(remoteUpdatedAt); err != nil {
		return nil, fmt.Errorf("parse remote_updated_at: %w", err)
	}
	if inv.SyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, fmt.Errorf("parse synced_at: %w", err)
	}

	return &inv, nil
}
