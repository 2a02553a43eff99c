package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"github.com/ericfisherdev/erpsync/internal/application"
	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// Syncer is the part of the sync orchestrator the HTTP adapter drives.
type Syncer interface {
	HandleWebhook(ctx context.Context, objectType model.ObjectType, externalID string) (model.ReconcileOutcome, error)
	TriggerPoll(ctx context.Context, objectType model.ObjectType) (model.SyncRun, error)
	Backfill(ctx context.Context, objectType model.ObjectType, window model.TimeWindow) (model.SyncRun, error)
}

// StatusReporter serves the read-only status view.
type StatusReporter interface {
	Status(ctx context.Context) (model.ConnectionStatus, error)
}

// Connector runs the OAuth connect flow and disconnects the integration.
type Connector interface {
	AuthorizeURL(state string) string
	Authorize(ctx context.Context, code string) (model.Credential, error)
	Disconnect(ctx context.Context) error
}

// Options carries the secrets that switch optional surfaces on.
type Options struct {
	// WebhookSecret enables HMAC-SHA256 verification of webhook bodies.
	WebhookSecret []byte
	// OperatorSecret enables the operator endpoints. Without it they are not
	// registered.
	OperatorSecret []byte
	// SessionKey authenticates the OAuth state cookie. A random key is used
	// when empty, so pending connect flows do not survive a restart.
	SessionKey []byte
	// SecureCookies marks the state cookie Secure.
	SecureCookies bool
}

// Handler is the HTTP driving adapter that serves the webhook receiver, the
// status API and the operator endpoints.
type Handler struct {
	syncer    Syncer
	status    StatusReporter
	connector Connector
	opts      Options
	sessions  *sessions.CookieStore
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	syncer Syncer,
	status StatusReporter,
	connector Connector,
	opts Options,
	logger *slog.Logger,
) *Handler {
	key := opts.SessionKey
	if len(key) == 0 {
		key = securecookie.GenerateRandomKey(32)
	}

	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/oauth",
		MaxAge:   int(oauthStateTTL / time.Second),
		HttpOnly: true,
		Secure:   opts.SecureCookies,
		// Lax, the ERP redirects back with a top-level cross-site GET.
		SameSite: http.SameSiteLaxMode,
	}

	return &Handler{
		syncer:    syncer,
		status:    status,
		connector: connector,
		opts:      opts,
		sessions:  store,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhooks/erp", h.Webhook)
	mux.HandleFunc("GET /api/v1/status", h.Status)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	if len(h.opts.OperatorSecret) > 0 {
		op := func(next http.HandlerFunc) http.HandlerFunc {
			return requireOperator(h.opts.OperatorSecret, next)
		}
		mux.HandleFunc("POST /api/v1/sync/{type}/poll", op(h.TriggerPoll))
		mux.HandleFunc("POST /api/v1/sync/{type}/backfill", op(h.Backfill))
		mux.HandleFunc("POST /api/v1/connection/disconnect", op(h.Disconnect))
		mux.HandleFunc("GET /oauth/connect", op(h.Connect))
		mux.HandleFunc("GET /oauth/callback", h.Callback)
	} else {
		logger.Warn("operator endpoints disabled: no admin JWT secret configured")
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Status returns connection state, cursors, record counts and recent runs.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.status.Status(r.Context())
	if err != nil {
		h.logger.Error("failed to build status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(status))
}

// TriggerPoll runs an incremental poll of one object type and returns its run.
func (h *Handler) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	objectType, err := model.ParseObjectType(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.syncer.TriggerPoll(r.Context(), objectType)
	if err != nil && run.ID == "" {
		h.logger.Error("poll trigger failed", "object_type", objectType, "error", err)
		writeError(w, statusForError(err), err.Error())
		return
	}

	// A run that started is reported even when it failed; its status says so.
	writeJSON(w, http.StatusOK, toSyncRunResponse(run))
}

// Backfill starts a historical backfill in the background and answers 202.
func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	objectType, err := model.ParseObjectType(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	window, err := parseWindow(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The request context ends with the response; the backfill must not.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := h.syncer.Backfill(ctx, objectType, window); err != nil {
			h.logger.Error("backfill failed", "object_type", objectType, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "accepted",
		"object_type": string(objectType),
		"from":        formatTime(window.From),
		"to":          formatTime(window.To),
	})
}

// Disconnect deactivates the stored credential.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.connector.Disconnect(r.Context()); err != nil {
		h.logger.Error("disconnect failed", "error", err)
		writeError(w, statusForError(err), "disconnect failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

func parseWindow(req BackfillRequest) (model.TimeWindow, error) {
	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		return model.TimeWindow{}, errors.New("from must be an RFC 3339 timestamp")
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		return model.TimeWindow{}, errors.New("to must be an RFC 3339 timestamp")
	}
	if !from.Before(to) {
		return model.TimeWindow{}, application.ErrInvalidWindow
	}
	return model.TimeWindow{From: from.UTC(), To: to.UTC()}, nil
}

// statusForError maps a sync failure onto an HTTP status code.
func statusForError(err error) int {
	switch {
	case errors.Is(err, driven.ErrAuthNotConfigured),
		errors.Is(err, driven.ErrRefreshFailed),
		errors.Is(err, driven.ErrEncryptionKeyNotSet):
		return http.StatusServiceUnavailable
	case errors.Is(err, driven.ErrPersistence):
		return http.StatusInternalServerError
	case errors.Is(err, driven.ErrRateLimited),
		errors.Is(err, driven.ErrUnreachable),
		errors.Is(err, driven.ErrServerError),
		errors.Is(err, driven.ErrRequestRejected),
		errors.Is(err, driven.ErrNotFound),
		errors.Is(err, driven.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, application.ErrInvalidWindow):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
