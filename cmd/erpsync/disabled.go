package main

import (
	"context"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// disabledSyncer answers every sync trigger with ErrAuthNotConfigured while
// the ERP API settings are missing, so webhooks get a 503 and are redelivered.
type disabledSyncer struct{}

func (disabledSyncer) HandleWebhook(context.Context, model.ObjectType, string) (model.ReconcileOutcome, error) {
	return "", driven.ErrAuthNotConfigured
}

func (disabledSyncer) TriggerPoll(context.Context, model.ObjectType) (model.SyncRun, error) {
	return model.SyncRun{}, driven.ErrAuthNotConfigured
}

func (disabledSyncer) Backfill(context.Context, model.ObjectType, model.TimeWindow) (model.SyncRun, error) {
	return model.SyncRun{}, driven.ErrAuthNotConfigured
}
