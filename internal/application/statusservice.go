package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// recentRunLimit is how many sync runs the status view includes.
const recentRunLimit = 20

// UsageReporter reports how many ERP requests were admitted today.
type UsageReporter interface {
	Used(ctx context.Context) (int, error)
}

// StatusService assembles the read-only operator view of the integration.
type StatusService struct {
	integration string
	tokens      *TokenManager
	cursors     driven.CursorStore
	records     driven.RecordStore
	runs        driven.SyncRunStore

	usage      UsageReporter
	dailyLimit int
}

// NewStatusService creates a StatusService.
func NewStatusService(
	integration string,
	tokens *TokenManager,
	cursors driven.CursorStore,
	records driven.RecordStore,
	runs driven.SyncRunStore,
) *StatusService {
	return &StatusService{
		integration: integration,
		tokens:      tokens,
		cursors:     cursors,
		records:     records,
		runs:        runs,
	}
}

// SetRequestUsage makes Status include today's request count read from usage.
func (s *StatusService) SetRequestUsage(usage UsageReporter, dailyLimit int) {
	s.usage = usage
	s.dailyLimit = dailyLimit
}

// Status reports connection state, request budget, cursors, local record
// counts and the most recent sync runs. It never calls the ERP.
func (s *StatusService) Status(ctx context.Context) (model.ConnectionStatus, error) {
	status, err := s.tokens.Connection(ctx)
	if err != nil {
		return model.ConnectionStatus{}, err
	}
	status.Integration = s.integration

	if s.usage != nil {
		used, err := s.usage.Used(ctx)
		if err != nil {
			slog.Warn("read request usage failed", "error", err)
		} else {
			status.Requests = &model.RequestUsage{UsedToday: used, DailyLimit: s.dailyLimit}
		}
	}

	cursors, err := s.cursors.List(ctx)
	if err != nil {
		return model.ConnectionStatus{}, fmt.Errorf("list cursors: %w", err)
	}
	status.Cursors = cursors

	status.RecordCounts = make(map[model.ObjectType]int, len(model.ObjectTypes))
	for _, ot := range model.ObjectTypes {
		n, err := s.records.Count(ctx, ot)
		if err != nil {
			return model.ConnectionStatus{}, fmt.Errorf("count %s: %w", ot, err)
		}
		status.RecordCounts[ot] = n
	}

	runs, err := s.runs.ListRecent(ctx, recentRunLimit)
	if err != nil {
		return model.ConnectionStatus{}, fmt.Errorf("list sync runs: %w", err)
	}
	status.RecentRuns = runs

	return status, nil
}
