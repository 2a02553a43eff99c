// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// ErrInvalidWindow is returned by Backfill for an empty or inverted range.
var ErrInvalidWindow = errors.New("backfill window must have From before To")

// SyncConfig tunes the SyncService.
type SyncConfig struct {
	PollInterval time.Duration
	// Lookback bounds the first poll of an object type that has no cursor yet.
	Lookback time.Duration
	// Workers is how many records of one page are reconciled concurrently.
	Workers int
}

// pollRequest represents a manual poll trigger.
type pollRequest struct {
	objectType model.ObjectType
	done       chan pollResult
}

type pollResult struct {
	run model.SyncRun
	err error
}

type lister func(ctx context.Context, window model.TimeWindow, page int) (model.Page, error)

type getter func(ctx context.Context, externalID string) (model.Envelope, error)

// SyncService drives the three sync paths (webhook, poll, backfill) into the
// shared Reconciler and keeps the cursor and run bookkeeping.
type SyncService struct {
	client     driven.ERPClient
	reconciler *Reconciler
	cursors    driven.CursorStore
	runs       driven.SyncRunStore
	cfg        SyncConfig

	now   func() time.Time
	newID func() string

	// typeLocks keeps two polls or backfills of one object type from overlapping.
	typeLocks map[model.ObjectType]*sync.Mutex
	pollCh    chan pollRequest
}

// NewSyncService creates a SyncService with all required dependencies.
func NewSyncService(
	client driven.ERPClient,
	reconciler *Reconciler,
	cursors driven.CursorStore,
	runs driven.SyncRunStore,
	cfg SyncConfig,
) *SyncService {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}

	locks := make(map[model.ObjectType]*sync.Mutex, len(model.ObjectTypes))
	for _, ot := range model.ObjectTypes {
		locks[ot] = &sync.Mutex{}
	}

	return &SyncService{
		client:     client,
		reconciler: reconciler,
		cursors:    cursors,
		runs:       runs,
		cfg:        cfg,
		now:        time.Now,
		newID:      uuid.NewString,
		typeLocks:  locks,
		pollCh:     make(chan pollRequest),
	}
}

// Start runs an immediate poll of every object type, then polls on the
// configured interval. It also serves manual TriggerPoll requests. Start
// blocks until the context is canceled.
func (s *SyncService) Start(ctx context.Context) {
	if err := s.PollAll(ctx); err != nil {
		slog.Error("initial poll failed", "error", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync service stopped")
			return
		case <-ticker.C:
			if err := s.PollAll(ctx); err != nil {
				slog.Error("poll cycle failed", "error", err)
			}
		case req := <-s.pollCh:
			run, err := s.Poll(ctx, req.objectType)
			req.done <- pollResult{run: run, err: err}
		}
	}
}

// TriggerPoll asks the running Start loop to poll objectType now. It blocks
// until that poll completes or the context is canceled.
func (s *SyncService) TriggerPoll(ctx context.Context, objectType model.ObjectType) (model.SyncRun, error) {
	req := pollRequest{objectType: objectType, done: make(chan pollResult, 1)}

	select {
	case s.pollCh <- req:
	case <-ctx.Done():
		return model.SyncRun{}, ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.run, res.err
	case <-ctx.Done():
		return model.SyncRun{}, ctx.Err()
	}
}

// PollAll polls every object type in order. One type failing does not stop
// the others.
func (s *SyncService) PollAll(ctx context.Context) error {
	start := time.Now()

	var errs []error
	for _, ot := range model.ObjectTypes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.Poll(ctx, ot); err != nil {
			errs = append(errs, err)
		}
	}

	slog.Info("poll cycle complete",
		"object_types", len(model.ObjectTypes),
		"errors", len(errs),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return errors.Join(errs...)
}

// HandleWebhook fetches one pushed record and reconciles it. A record the API
// reports as missing fails with driven.ErrNotFound.
func (s *SyncService) HandleWebhook(ctx context.Context, objectType model.ObjectType, externalID string) (model.ReconcileOutcome, error) {
	get, err := s.getterFor(objectType)
	if err != nil {
		return "", err
	}
	if externalID == "" {
		return "", errors.New("webhook: external id is required")
	}

	run := s.beginRun(ctx, objectType, model.TriggerWebhook, model.TimeWindow{}, s.now().UTC())

	env, err := get(ctx, externalID)
	if err != nil {
		err = fmt.Errorf("webhook %s %s: %w", objectType, externalID, err)
		s.finishRun(ctx, &run, err)
		return "", err
	}
	run.Fetched = 1

	outcome, err := s.reconciler.Reconcile(ctx, env)
	if err != nil {
		run.Failed = 1
		err = fmt.Errorf("webhook %s %s: %w", objectType, externalID, err)
		s.finishRun(ctx, &run, err)
		return "", err
	}
	run.Record(outcome)

	s.finishRun(ctx, &run, nil)
	return outcome, nil
}

// Poll reconciles every record of objectType changed since its cursor. The
// cursor advances to the run's start time only when every page and every
// record succeeded.
func (s *SyncService) Poll(ctx context.Context, objectType model.ObjectType) (model.SyncRun, error) {
	list, err := s.listerFor(objectType)
	if err != nil {
		return model.SyncRun{}, err
	}

	lock := s.typeLocks[objectType]
	lock.Lock()
	defer lock.Unlock()

	runStart := s.now().UTC()

	cursor, err := s.cursors.Get(ctx, objectType)
	if err != nil {
		return model.SyncRun{}, fmt.Errorf("poll %s: read cursor: %w", objectType, err)
	}

	from := runStart.Add(-s.cfg.Lookback)
	if cursor != nil {
		from = cursor.LastSyncedAt
	}
	window := model.TimeWindow{From: from, To: runStart}

	run := s.beginRun(ctx, objectType, model.TriggerPoll, window, runStart)

	err = s.syncWindow(ctx, &run, list, window)
	if err == nil {
		if advErr := s.cursors.Advance(ctx, objectType, runStart); advErr != nil {
			err = fmt.Errorf("advance cursor: %w", advErr)
		}
	}
	if err != nil {
		err = fmt.Errorf("poll %s: %w", objectType, err)
	}

	s.finishRun(ctx, &run, err)
	return run, err
}

// Backfill reconciles every record of objectType modified inside window.
// It never reads or moves the cursor.
func (s *SyncService) Backfill(ctx context.Context, objectType model.ObjectType, window model.TimeWindow) (model.SyncRun, error) {
	list, err := s.listerFor(objectType)
	if err != nil {
		return model.SyncRun{}, err
	}
	if window.From.IsZero() || window.To.IsZero() || !window.From.Before(window.To) {
		return model.SyncRun{}, ErrInvalidWindow
	}

	lock := s.typeLocks[objectType]
	lock.Lock()
	defer lock.Unlock()

	run := s.beginRun(ctx, objectType, model.TriggerBackfill, window, s.now().UTC())

	err = s.syncWindow(ctx, &run, list, window)
	if err != nil {
		err = fmt.Errorf("backfill %s: %w", objectType, err)
	}

	s.finishRun(ctx, &run, err)
	return run, err
}

// syncWindow walks every page of window in order. A page fetch failure or a
// next page that does not advance stops the walk; record failures are counted
// and the walk continues.
func (s *SyncService) syncWindow(ctx context.Context, run *model.SyncRun, list lister, window model.TimeWindow) error {
	var recordErr error

	page := 1
	for {
		p, err := list(ctx, window, page)
		if err != nil {
			return errors.Join(fmt.Errorf("fetch page %d: %w", page, err), recordErr)
		}

		run.Fetched += len(p.Envelopes)
		if err := s.reconcilePage(ctx, run, p.Envelopes); err != nil && recordErr == nil {
			recordErr = err
		}

		if p.Done() {
			break
		}
		if p.NextPage <= page {
			return errors.Join(
				fmt.Errorf("fetch page %d: %w: next page %d does not advance", page, driven.ErrMalformedResponse, p.NextPage),
				recordErr,
			)
		}
		page = p.NextPage
	}

	if recordErr != nil {
		return fmt.Errorf("%d of %d records failed: %w", run.Failed, run.Fetched, recordErr)
	}
	return nil
}

// reconcilePage reconciles envelopes with up to cfg.Workers in flight and
// returns the first failure.
func (s *SyncService) reconcilePage(ctx context.Context, run *model.SyncRun, envelopes []model.Envelope) error {
	var (
		mu       sync.Mutex
		firstErr error
		g        errgroup.Group
	)
	g.SetLimit(s.cfg.Workers)

	for _, env := range envelopes {
		g.Go(func() error {
			outcome, err := s.reconciler.Reconcile(ctx, env)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				run.Failed++
				if firstErr == nil {
					firstErr = err
				}
				slog.Warn("reconcile failed",
					"object_type", env.ObjectType,
					"external_id", env.ExternalID,
					"error", err,
				)
				return nil
			}
			run.Record(outcome)
			return nil
		})
	}

	_ = g.Wait()
	return firstErr
}

func (s *SyncService) beginRun(ctx context.Context, objectType model.ObjectType, trigger model.SyncTrigger, window model.TimeWindow, startedAt time.Time) model.SyncRun {
	run := model.SyncRun{
		ID:         s.newID(),
		ObjectType: objectType,
		Trigger:    trigger,
		WindowFrom: window.From,
		WindowTo:   window.To,
		StartedAt:  startedAt,
		Status:     model.RunStatusRunning,
	}

	if err := s.runs.Start(ctx, run); err != nil {
		slog.Warn("record sync run start failed", "run_id", run.ID, "error", err)
	}

	return run
}

// finishRun records the outcome even when ctx is already canceled.
func (s *SyncService) finishRun(ctx context.Context, run *model.SyncRun, err error) {
	run.FinishedAt = s.now().UTC()
	run.Status = model.RunStatusSucceeded
	if err != nil {
		run.Status = model.RunStatusFailed
		run.Error = err.Error()
	}

	if storeErr := s.runs.Finish(context.WithoutCancel(ctx), *run); storeErr != nil {
		slog.Warn("record sync run finish failed", "run_id", run.ID, "error", storeErr)
	}

	attrs := []any{
		"run_id", run.ID,
		"object_type", run.ObjectType,
		"trigger", run.Trigger,
		"fetched", run.Fetched,
		"inserted", run.Inserted,
		"updated", run.Updated,
		"failed", run.Failed,
		"duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
	}
	if err != nil {
		slog.Error("sync run failed", append(attrs, "error", err)...)
		return
	}
	slog.Info("sync run complete", attrs...)
}

func (s *SyncService) listerFor(objectType model.ObjectType) (lister, error) {
	switch objectType {
	case model.ObjectTypeOrder:
		return s.client.ListOrders, nil
	case model.ObjectTypeInvoice:
		return s.client.ListInvoices, nil
	}
	return nil, fmt.Errorf("unknown object type %q", objectType)
}

func (s *SyncService) getterFor(objectType model.ObjectType) (getter, error) {
	switch objectType {
	case model.ObjectTypeOrder:
		return s.client.GetOrder, nil
	case model.ObjectTypeInvoice:
		return s.client.GetInvoice, nil
	}
	return nil, fmt.Errorf("unknown object type %q", objectType)
}
