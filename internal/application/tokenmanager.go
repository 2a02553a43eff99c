package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// DefaultSafetyMargin is how long before expiry a token is refreshed.
const DefaultSafetyMargin = 5 * time.Minute

// refreshTimeout bounds one refresh exchange plus its write.
const refreshTimeout = 30 * time.Second

// Compile-time interface satisfaction check.
var _ driven.TokenSource = (*TokenManager)(nil)

// TokenManager is the only reader and writer of the credential's secrets.
// Concurrent callers that find the token inside the safety margin share a
// single refresh; the refreshed pair is persisted before any caller sees it.
type TokenManager struct {
	store  driven.CredentialStore
	oauth  driven.OAuthExchanger
	margin time.Duration
	now    func() time.Time

	flight singleflight.Group

	mu      sync.RWMutex
	lastErr error
}

// NewTokenManager creates a TokenManager with the default safety margin.
func NewTokenManager(store driven.CredentialStore, oauth driven.OAuthExchanger) *TokenManager {
	return &TokenManager{
		store:  store,
		oauth:  oauth,
		margin: DefaultSafetyMargin,
		now:    time.Now,
	}
}

// GetValidToken returns an access token valid for at least the safety margin.
// It fails with driven.ErrAuthNotConfigured when no credential is active and
// with driven.ErrRefreshFailed when a needed refresh does not succeed.
func (m *TokenManager) GetValidToken(ctx context.Context) (string, error) {
	cred, err := m.store.GetActive(ctx)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return "", driven.ErrAuthNotConfigured
	}
	if cred.ValidFor(m.now(), m.margin) {
		return cred.AccessToken, nil
	}

	// The shared refresh runs detached from any single caller's cancellation:
	// once the endpoint rotates the refresh token, the result must be stored.
	ch := m.flight.DoChan("refresh", func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(refreshCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	// Re-read inside the flight: an earlier flight may already have rotated it.
	cred, err := m.store.GetActive(ctx)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return "", driven.ErrAuthNotConfigured
	}
	if cred.ValidFor(m.now(), m.margin) {
		return cred.AccessToken, nil
	}

	grant, err := m.oauth.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if !errors.Is(err, driven.ErrRefreshFailed) {
			err = fmt.Errorf("%w: %w", driven.ErrRefreshFailed, err)
		}
		m.setLastErr(err)
		slog.Error("erp token refresh failed", "credential_id", cred.ID, "error", err)
		return "", err
	}

	refreshToken := grant.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}
	expiresAt := m.now().Add(grant.ExpiresIn).UTC()

	if err := m.store.UpdateTokens(ctx, cred.ID, grant.AccessToken, refreshToken, grant.TokenType, expiresAt); err != nil {
		err = fmt.Errorf("%w: persist refreshed token: %w", driven.ErrRefreshFailed, err)
		m.setLastErr(err)
		return "", err
	}

	slog.Info("erp token refreshed",
		"credential_id", cred.ID,
		"expires_at", expiresAt,
		"rotated", grant.RefreshToken != "",
	)

	refreshed := model.Credential{ExpiresAt: expiresAt}
	if !refreshed.ValidFor(m.now(), m.margin) {
		err := fmt.Errorf("%w: token lifetime %s is within the %s safety margin", driven.ErrRefreshFailed, grant.ExpiresIn, m.margin)
		m.setLastErr(err)
		return "", err
	}

	m.setLastErr(nil)
	return grant.AccessToken, nil
}

// Authorize completes the authorization-code exchange and makes the result
// the active credential, replacing any previous one.
func (m *TokenManager) Authorize(ctx context.Context, code string) (model.Credential, error) {
	if code == "" {
		return model.Credential{}, errors.New("authorization code is required")
	}

	grant, err := m.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return model.Credential{}, err
	}
	if grant.RefreshToken == "" {
		return model.Credential{}, fmt.Errorf("authorization response has no refresh_token: %w", driven.ErrMalformedResponse)
	}

	cred, err := m.store.Activate(ctx, model.Credential{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		TokenType:    grant.TokenType,
		ExpiresAt:    m.now().Add(grant.ExpiresIn).UTC(),
	})
	if err != nil {
		return model.Credential{}, fmt.Errorf("store credential: %w", err)
	}

	m.flight.Forget("refresh")
	m.setLastErr(nil)
	slog.Info("erp authorization completed", "credential_id", cred.ID, "expires_at", cred.ExpiresAt)

	return cred, nil
}

// AuthorizeURL returns the consent URL for the given anti-forgery state.
func (m *TokenManager) AuthorizeURL(state string) string {
	return m.oauth.AuthorizeURL(state)
}

// Disconnect deactivates the active credential. The row is kept for audit.
func (m *TokenManager) Disconnect(ctx context.Context) error {
	if err := m.store.Deactivate(ctx); err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}

	m.flight.Forget("refresh")
	m.setLastErr(nil)
	slog.Info("erp integration disconnected")

	return nil
}

// Connection reports whether a usable credential is on file. It never
// triggers a refresh.
func (m *TokenManager) Connection(ctx context.Context) (model.ConnectionStatus, error) {
	cred, err := m.store.GetActive(ctx)
	if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
		return model.ConnectionStatus{AuthError: err.Error()}, nil
	}
	if err != nil {
		return model.ConnectionStatus{}, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return model.ConnectionStatus{}, nil
	}

	status := model.ConnectionStatus{Connected: true, ExpiresAt: cred.ExpiresAt}
	if lastErr := m.getLastErr(); lastErr != nil {
		status.Connected = false
		status.AuthError = lastErr.Error()
	}

	return status, nil
}

func (m *TokenManager) setLastErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

func (m *TokenManager) getLastErr() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}
