package model

import "time"

// SyncCursor is the per-object-type watermark for incremental polls. It only
// moves forward.
type SyncCursor struct {
	ObjectType   ObjectType
	LastSyncedAt time.Time
}

// SyncRun records one invocation of a sync trigger and its counters.
type SyncRun struct {
	ID         string
	ObjectType ObjectType
	Trigger    SyncTrigger
	WindowFrom time.Time
	WindowTo   time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Status     SyncRunStatus
	Fetched    int
	Inserted   int
	Updated    int
	Failed     int
	Error      string
}

// Record adds one reconcile outcome to the run counters.
func (r *SyncRun) Record(outcome ReconcileOutcome) {
	switch outcome {
	case OutcomeInserted:
		r.Inserted++
	case OutcomeUpdated:
		r.Updated++
	}
}

// ConnectionStatus is the read-only operator view of the integration.
// Connected is false when no credential is active or the last refresh failed.
type ConnectionStatus struct {
	Integration  string
	Connected    bool
	ExpiresAt    time.Time
	AuthError    string
	Requests     *RequestUsage // Nil when sync is not configured or usage is unreadable.
	Cursors      []SyncCursor
	RecordCounts map[ObjectType]int
	RecentRuns   []SyncRun
}

// RequestUsage is the ERP request budget consumed in the current UTC day.
type RequestUsage struct {
	UsedToday  int
	DailyLimit int // Zero means no daily cap.
}
