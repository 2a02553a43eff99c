package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
)

// CursorStore defines the driven port for per-object-type sync cursors.
type CursorStore interface {
	// Get returns the cursor for the object type, or (nil, nil) if none exists yet.
	Get(ctx context.Context, objectType model.ObjectType) (*model.SyncCursor, error)
	// Advance moves the cursor to at. A value not later than the stored one is
	// ignored, keeping the cursor monotonic.
	Advance(ctx context.Context, objectType model.ObjectType, at time.Time) error
	// List returns all cursors ordered by object type.
	List(ctx context.Context) ([]model.SyncCursor, error)
}

// SyncRunStore defines the driven port for sync run bookkeeping.
type SyncRunStore interface {
	Start(ctx context.Context, run model.SyncRun) error
	Finish(ctx context.Context, run model.SyncRun) error
	// ListRecent returns the most recent runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]model.SyncRun, error)
}
