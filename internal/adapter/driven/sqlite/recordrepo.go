package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RecordStore = (*RecordRepo)(nil)

// RecordRepo is the SQLite implementation of the RecordStore port interface.
// Orders and invoices live in separate tables, each with a child line table
// that is fully replaced on every reconcile.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new RecordRepo backed by the given DB.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// Count returns the number of local rows for objectType.
func (r *RecordRepo) Count(ctx context.Context, objectType model.ObjectType) (int, error) {
	var query string
	switch objectType {
	case model.ObjectTypeOrder:
		query = `SELECT COUNT(*) FROM orders`
	case model.ObjectTypeInvoice:
		query = `SELECT COUNT(*) FROM invoices`
	default:
		return 0, fmt.Errorf("count records: unknown object type %q", objectType)
	}

	var n int
	if err := r.db.Reader.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s rows: %w", objectType, err)
	}
	return n, nil
}

// lookupID returns the local id for externalID inside tx, or 0 if absent.
func lookupID(ctx context.Context, tx *sql.Tx, table, externalID string) (int64, error) {
	var id int64
	query := fmt.Sprintf(`SELECT id FROM %s WHERE external_id = ?`, table)
	err := tx.QueryRowContext(ctx, query, externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// replaceItems deletes every child line of parentID and inserts items,
// numbering any without a position after the explicit ones.
func replaceItems(ctx context.Context, tx *sql.Tx, table, parentColumn string, parentID int64, items []model.LineItem) error {
	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, parentColumn)
	if _, err := tx.ExecContext(ctx, deleteQuery, parentID); err != nil {
		return fmt.Errorf("delete %s for %d: %w", table, parentID, err)
	}

	numbered, err := model.NumberLineItems(items)
	if err != nil {
		return fmt.Errorf("%s for %d: %w", table, parentID, err)
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (%s, position, sku, description, quantity, unit_price_cents, total_cents)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, table, parentColumn)

	for _, item := range numbered {
		if _, err := tx.ExecContext(ctx, insertQuery,
			parentID, item.Position, item.SKU, item.Description, item.Quantity, item.UnitPrice, item.Total,
		); err != nil {
			return fmt.Errorf("insert %s line %d for %d: %w", table, item.Position, parentID, err)
		}
	}

	return nil
}

func (r *RecordRepo) loadItems(ctx context.Context, table, parentColumn string, parentID int64) ([]model.LineItem, error) {
	query := fmt.Sprintf(`
		SELECT position, sku, description, quantity, unit_price_cents, total_cents
		FROM %s
		WHERE %s = ?
		ORDER BY position
	`, table, parentColumn)

	rows, err := r.db.Reader.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	items := []model.LineItem{}
	for rows.Next() {
		var item model.LineItem
		if err := rows.Scan(&item.Position, &item.SKU, &item.Description, &item.Quantity, &item.UnitPrice, &item.Total); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}

	return items, nil
}

func outcomeFor(existingID int64) model.ReconcileOutcome {
	if existingID == 0 {
		return model.OutcomeInserted
	}
	return model.OutcomeUpdated
}
