package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
)

func TestSyncRunRepo_StartFinishList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSyncRunRepo(db)
	ctx := context.Background()

	started := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	run := model.SyncRun{
		ID:         "run-1",
		ObjectType: model.ObjectTypeOrder,
		Trigger:    model.TriggerPoll,
		WindowFrom: started.Add(-time.Hour),
		WindowTo:   started,
		StartedAt:  started,
		Status:     model.RunStatusRunning,
	}
	require.NoError(t, repo.Start(ctx, run))

	run.Status = model.RunStatusFailed
	run.FinishedAt = started.Add(time.Second)
	run.Fetched = 3
	run.Inserted = 1
	run.Updated = 1
	run.Failed = 1
	run.Error = "boom"
	require.NoError(t, repo.Finish(ctx, run))

	later := model.SyncRun{
		ID:         "run-2",
		ObjectType: model.ObjectTypeInvoice,
		Trigger:    model.TriggerWebhook,
		StartedAt:  started.Add(time.Minute),
		Status:     model.RunStatusRunning,
	}
	require.NoError(t, repo.Start(ctx, later))

	runs, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, model.RunStatusRunning, runs[0].Status)
	assert.True(t, runs[0].FinishedAt.IsZero())

	got := runs[1]
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, model.TriggerPoll, got.Trigger)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, 3, got.Fetched)
	assert.Equal(t, 1, got.Inserted)
	assert.Equal(t, 1, got.Updated)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, "boom", got.Error)
	assert.True(t, run.WindowFrom.Equal(got.WindowFrom))
}

func TestSyncRunRepo_ListRecentLimit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSyncRunRepo(db)
	ctx := context.Background()

	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Start(ctx, model.SyncRun{
			ID:         id,
			ObjectType: model.ObjectTypeOrder,
			Trigger:    model.TriggerPoll,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			Status:     model.RunStatusRunning,
		}))
	}

	runs, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}
