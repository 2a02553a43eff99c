package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// WebhookRequest is the notification body the ERP posts to /webhooks/erp.
type WebhookRequest struct {
	ObjectType string `json:"object_type"`
	ExternalID string `json:"external_id"`
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome,omitempty"`
}

// BackfillRequest is the body of a backfill trigger. Both bounds are RFC 3339.
type BackfillRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SyncRunResponse is the JSON representation of one sync run.
type SyncRunResponse struct {
	ID         string `json:"id"`
	ObjectType string `json:"object_type"`
	Trigger    string `json:"trigger"`
	Status     string `json:"status"`
	WindowFrom string `json:"window_from,omitempty"`
	WindowTo   string `json:"window_to,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Fetched    int    `json:"fetched"`
	Inserted   int    `json:"inserted"`
	Updated    int    `json:"updated"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// CursorResponse is the JSON representation of a sync cursor.
type CursorResponse struct {
	ObjectType   string `json:"object_type"`
	LastSyncedAt string `json:"last_synced_at"`
}

// StatusResponse is the operator view of the integration.
type StatusResponse struct {
	Integration  string            `json:"integration"`
	Connected    bool              `json:"connected"`
	ExpiresAt    string            `json:"expires_at,omitempty"`
	AuthError    string            `json:"auth_error,omitempty"`
	Requests     *RequestUsage     `json:"requests,omitempty"`
	Cursors      []CursorResponse  `json:"cursors"`
	RecordCounts map[string]int    `json:"record_counts"`
	RecentRuns   []SyncRunResponse `json:"recent_runs"`
}

// RequestUsage is today's ERP request count against the daily limit.
type RequestUsage struct {
	UsedToday  int `json:"used_today"`
	DailyLimit int `json:"daily_limit"`
}

// ConnectResponse is returned once the OAuth callback stored a credential.
type ConnectResponse struct {
	Status    string `json:"status"`
	ExpiresAt string `json:"expires_at"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// formatTime renders t as RFC 3339, or "" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toSyncRunResponse(run model.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:         run.ID,
		ObjectType: string(run.ObjectType),
		Trigger:    string(run.Trigger),
		Status:     string(run.Status),
		WindowFrom: formatTime(run.WindowFrom),
		WindowTo:   formatTime(run.WindowTo),
		StartedAt:  formatTime(run.StartedAt),
		FinishedAt: formatTime(run.FinishedAt),
		Fetched:    run.Fetched,
		Inserted:   run.Inserted,
		Updated:    run.Updated,
		Failed:     run.Failed,
		Error:      run.Error,
	}
}

func toStatusResponse(s model.ConnectionStatus) StatusResponse {
	resp := StatusResponse{
		Integration:  s.Integration,
		Connected:    s.Connected,
		ExpiresAt:    formatTime(s.ExpiresAt),
		AuthError:    s.AuthError,
		Cursors:      make([]CursorResponse, 0, len(s.Cursors)),
		RecordCounts: make(map[string]int, len(s.RecordCounts)),
		RecentRuns:   make([]SyncRunResponse, 0, len(s.RecentRuns)),
	}

	if s.Requests != nil {
		resp.Requests = &RequestUsage{UsedToday: s.Requests.UsedToday, DailyLimit: s.Requests.DailyLimit}
	}
	for _, c := range s.Cursors {
		resp.Cursors = append(resp.Cursors, CursorResponse{
			ObjectType:   string(c.ObjectType),
			LastSyncedAt: formatTime(c.LastSyncedAt),
		})
	}
	for ot, n := range s.RecordCounts {
		resp.RecordCounts[string(ot)] = n
	}
	for _, run := range s.RecentRuns {
		resp.RecentRuns = append(resp.RecentRuns, toSyncRunResponse(run))
	}

	return resp
}
