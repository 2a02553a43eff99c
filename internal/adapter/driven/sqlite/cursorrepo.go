package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CursorStore = (*CursorRepo)(nil)

// CursorRepo is the SQLite implementation of the CursorStore port interface.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new CursorRepo backed by the given DB.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

// Get returns the cursor for objectType, or (nil, nil) if it was never advanced.
func (r *CursorRepo) Get(ctx context.Context, objectType model.ObjectType) (*model.SyncCursor, error) {
	const query = `SELECT object_type, last_synced_at FROM sync_cursors WHERE object_type = ?`

	cursor, err := scanCursor(r.db.Reader.QueryRowContext(ctx, query, string(objectType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor %s: %w", objectType, err)
	}

	return cursor, nil
}

// Advance moves the cursor forward to at. The conditional upsert keeps the
// stored value when it is already later, so the cursor never moves backwards.
func (r *CursorRepo) Advance(ctx context.Context, objectType model.ObjectType, at time.Time) error {
	const query = `
		INSERT INTO sync_cursors (object_type, last_synced_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(object_type) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at
		WHERE excluded.last_synced_at > sync_cursors.last_synced_at
	`

	_, err := r.db.Writer.ExecContext(ctx, query, string(objectType), formatTime(at), formatTime(time.Now()))
	if err != nil {
		return persistenceError(fmt.Sprintf("advance cursor %s", objectType), err)
	}

	return nil
}

// List returns every stored cursor ordered by object type.
func (r *CursorRepo) List(ctx context.Context) ([]model.SyncCursor, error) {
	const query = `SELECT object_type, last_synced_at FROM sync_cursors ORDER BY object_type`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var cursors []model.SyncCursor
	for rows.Next() {
		cursor, err := scanCursor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		cursors = append(cursors, *cursor)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}

	return cursors, nil
}

func scanCursor(s scanner) (*model.SyncCursor, error) {
	var cursor model.SyncCursor
	var objectType, lastSyncedAt string

	if err := s.Scan(&objectType, &lastSyncedAt); err != nil {
		return nil, err
	}

	cursor.ObjectType = model.ObjectType(objectType)

	var err error
	cursor.LastSyncedAt, err = parseTime(lastSyncedAt)
	if err != nil {
		return nil, fmt.Errorf("parse last_synced_at: %w", err)
	}

	return &cursor, nil
}
