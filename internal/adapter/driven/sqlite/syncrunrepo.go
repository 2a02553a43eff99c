package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SyncRunStore = (*SyncRunRepo)(nil)

// SyncRunRepo is the SQLite implementation of the SyncRunStore port interface.
type SyncRunRepo struct {
	db *DB
}

// NewSyncRunRepo creates a new SyncRunRepo backed by the given DB.
func NewSyncRunRepo(db *DB) *SyncRunRepo {
	return &SyncRunRepo{db: db}
}

// Start records a new run in the running state.
func (r *SyncRunRepo) Start(ctx context.Context, run model.SyncRun) error {
	const query = `
		INSERT INTO sync_runs (id, object_type, run_trigger, window_from, window_to, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		run.ID, string(run.ObjectType), string(run.Trigger),
		nullableTime(run.WindowFrom), nullableTime(run.WindowTo),
		formatTime(run.StartedAt), string(model.RunStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("start sync run %s: %w", run.ID, err)
	}

	return nil
}

// Finish stores the final status and counters of a run.
func (r *SyncRunRepo) Finish(ctx context.Context, run model.SyncRun) error {
	const query = `
		UPDATE sync_runs
		SET finished_at = ?, status = ?, fetched = ?, inserted = ?, updated = ?, failed = ?, error = ?
		WHERE id = ?
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		nullableTime(run.FinishedAt), string(run.Status),
		run.Fetched, run.Inserted, run.Updated, run.Failed, run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish sync run %s: %w", run.ID, err)
	}

	return nil
}

// ListRecent returns up to limit runs, newest first.
func (r *SyncRunRepo) ListRecent(ctx context.Context, limit int) ([]model.SyncRun, error) {
	const query = `
		SELECT id, object_type, run_trigger, window_from, window_to, started_at, finished_at,
		       status, fetched, inserted, updated, failed, error
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}

	return runs, nil
}

func scanSyncRun(s scanner) (*model.SyncRun, error) {
	var run model.SyncRun
	var objectType, trigger, status, startedAt string
	var windowFrom, windowTo, finishedAt sql.NullString

	err := s.Scan(
		&run.ID, &objectType, &trigger, &windowFrom, &windowTo, &startedAt, &finishedAt,
		&status, &run.Fetched, &run.Inserted, &run.Updated, &run.Failed, &run.Error,
	)
	if err != nil {
		return nil, err
	}

	run.ObjectType = model.ObjectType(objectType)
	run.Trigger = model.SyncTrigger(trigger)
	run.Status = model.SyncRunStatus(status)

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if run.WindowFrom, err = parseNullTime(windowFrom); err != nil {
		return nil, fmt.Errorf("parse window_from: %w", err)
	}
	if run.WindowTo, err = parseNullTime(windowTo); err != nil {
		return nil, fmt.Errorf("parse window_to: %w", err)
	}
	if run.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	return &run, nil
}
