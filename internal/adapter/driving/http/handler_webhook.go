package httphandler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

const (
	// SignatureHeader carries "sha256=<hex HMAC of the body>".
	SignatureHeader = "X-Erpsync-Signature"

	maxWebhookBody = 1 << 20
)

// Webhook fetches and reconciles the record named by a push notification.
// Failures answer non-2xx so the sender redelivers; a record the ERP no
// longer has is acknowledged as ignored.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(h.opts.WebhookSecret) > 0 && !validSignature(h.opts.WebhookSecret, r.Header.Get(SignatureHeader), body) {
		h.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	objectType, err := model.ParseObjectType(req.ObjectType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		writeError(w, http.StatusBadRequest, "external_id is required")
		return
	}

	outcome, err := h.syncer.HandleWebhook(r.Context(), objectType, externalID)
	if errors.Is(err, driven.ErrNotFound) {
		h.logger.Warn("webhook record not found upstream", "object_type", objectType, "external_id", externalID)
		writeJSON(w, http.StatusOK, WebhookResponse{Status: "ignored"})
		return
	}
	if err != nil {
		h.logger.Error("webhook reconcile failed",
			"object_type", objectType,
			"external_id", externalID,
			"error", err,
		)
		writeError(w, statusForError(err), "reconcile failed")
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Status: "reconciled", Outcome: string(outcome)})
}

// SignBody returns the signature header value for body under secret.
func SignBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret []byte, header string, body []byte) bool {
	if header == "" {
		return false
	}
	expected := SignBody(secret, body)
	return hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(header))), []byte(expected))
}
