package httphandler

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	oauthSessionName = "erpsync-oauth"
	oauthStateKey    = "state"
	oauthIssuedKey   = "issued"
	oauthStateTTL    = 10 * time.Minute
)

// Connect starts the authorization-code flow: it stores a random state in a
// signed cookie and redirects the operator to the ERP consent page.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, oauthSessionName)

	state := base64.RawURLEncoding.EncodeToString(securecookie.GenerateRandomKey(24))
	session.Values[oauthStateKey] = state
	session.Values[oauthIssuedKey] = time.Now().Unix()
	if err := session.Save(r, w); err != nil {
		h.logger.Error("failed to save oauth session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.Redirect(w, r, h.connector.AuthorizeURL(state), http.StatusFound)
}

// Callback completes the flow started by Connect. The state must match the
// cookie and be younger than ten minutes; it is consumed either way.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(r, oauthSessionName)
	if err != nil || session.IsNew {
		writeError(w, http.StatusBadRequest, "no pending authorization")
		return
	}

	want, _ := session.Values[oauthStateKey].(string)
	issued, _ := session.Values[oauthIssuedKey].(int64)

	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		h.logger.Warn("failed to clear oauth session", "error", err)
	}

	q := r.URL.Query()
	if msg := q.Get("error"); msg != "" {
		h.logger.Warn("authorization denied", "error", msg, "description", q.Get("error_description"))
		writeError(w, http.StatusBadRequest, "authorization denied: "+msg)
		return
	}

	got := q.Get("state")
	if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	}
	if time.Since(time.Unix(issued, 0)) > oauthStateTTL {
		writeError(w, http.StatusBadRequest, "authorization expired")
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	cred, err := h.connector.Authorize(r.Context(), code)
	if err != nil {
		h.logger.Error("authorization code exchange failed", "error", err)
		writeError(w, statusForError(err), "authorization failed")
		return
	}

	h.logger.Info("erp connected", "credential_id", cred.ID, "expires_at", cred.ExpiresAt)
	writeJSON(w, http.StatusOK, ConnectResponse{Status: "connected", ExpiresAt: formatTime(cred.ExpiresAt)})
}
