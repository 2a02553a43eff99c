package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

var tmNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func newTestTokenManager(cred *model.Credential, oauth *fakeOAuth) (*TokenManager, *memCredentialStore) {
	store := &memCredentialStore{}
	if cred != nil {
		c := *cred
		c.ID = 1
		c.Active = true
		store.active = &c
		store.nextID = 1
	}
	m := NewTokenManager(store, oauth)
	m.now = func() time.Time { return tmNow }
	return m, store
}

func rotatingOAuth(lifetime time.Duration) *fakeOAuth {
	var mu sync.Mutex
	n := 0
	return &fakeOAuth{
		refresh: func(string) (model.TokenGrant, error) {
			mu.Lock()
			defer mu.Unlock()
			n++
			return model.TokenGrant{
				AccessToken:  fmt.Sprintf("access-%d", n+1),
				RefreshToken: fmt.Sprintf("refresh-%d", n+1),
				TokenType:    "Bearer",
				ExpiresIn:    lifetime,
			}, nil
		},
	}
}

func TestTokenManager_NoCredential(t *testing.T) {
	m, _ := newTestTokenManager(nil, rotatingOAuth(time.Hour))

	_, err := m.GetValidToken(context.Background())
	assert.ErrorIs(t, err, driven.ErrAuthNotConfigured)
}

func TestTokenManager_ValidTokenReturnedUnchanged(t *testing.T) {
	oauth := rotatingOAuth(time.Hour)
	m, store := newTestTokenManager(&model.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    tmNow.Add(10 * time.Minute),
	}, oauth)

	token, err := m.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, int32(0), oauth.refreshCalls.Load())
	assert.Equal(t, 0, store.updates)
}

func TestTokenManager_RefreshesInsideSafetyMargin(t *testing.T) {
	oauth := rotatingOAuth(6 * time.Hour)
	before := tmNow.Add(4 * time.Minute)
	m, store := newTestTokenManager(&model.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    before,
	}, oauth)

	token, err := m.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)

	stored := store.snapshot()
	require.NotNil(t, stored)
	assert.Equal(t, "access-2", stored.AccessToken)
	assert.Equal(t, "refresh-2", stored.RefreshToken)
	assert.True(t, stored.ExpiresAt.After(before))
	assert.Equal(t, 1, store.updates)
}

func TestTokenManager_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	oauth := &fakeOAuth{refresh: func(string) (model.TokenGrant, error) {
		return model.TokenGrant{AccessToken: "access-2", TokenType: "Bearer", ExpiresIn: time.Hour}, nil
	}}
	m, store := newTestTokenManager(&model.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    tmNow.Add(-time.Minute),
	}, oauth)

	_, err := m.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", store.snapshot().RefreshToken)
}

func TestTokenManager_RefreshFailureLeavesStateUntouched(t *testing.T) {
	oauth := &fakeOAuth{refresh: func(string) (model.TokenGrant, error) {
		return model.TokenGrant{}, errors.New("invalid_grant")
	}}
	original := model.Credential{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: tmNow.Add(time.Minute)}
	m, store := newTestTokenManager(&original, oauth)

	_, err := m.GetValidToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrRefreshFailed)

	stored := store.snapshot()
	assert.Equal(t, "access-1", stored.AccessToken)
	assert.Equal(t, "refresh-1", stored.RefreshToken)
	assert.True(t, original.ExpiresAt.Equal(stored.ExpiresAt))
	assert.Equal(t, 0, store.updates)

	status, err := m.Connection(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Contains(t, status.AuthError, "invalid_grant")
}

func TestTokenManager_PersistFailureIsRefreshFailed(t *testing.T) {
	m, store := newTestTokenManager(&model.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    tmNow,
	}, rotatingOAuth(time.Hour))
	store.updateErr = driven.ErrPersistence

	_, err := m.GetValidToken(context.Background())
	assert.ErrorIs(t, err, driven.ErrRefreshFailed)
	assert.ErrorIs(t, err, driven.ErrPersistence)
}

func TestTokenManager_ShortLivedRefreshNotReturned(t *testing.T) {
	m, store := newTestTokenManager(&model.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    tmNow,
	}, rotatingOAuth(2*time.Minute))

	_, err := m.GetValidToken(context.Background())
	assert.ErrorIs(t, err, driven.ErrRefreshFailed)

	// Rotation already happened upstream, so the new pair is kept.
	assert.Equal(t, "refresh-2", store.snapshot().RefreshToken)
}

func TestTokenManager_NeverReturnsTokenInsideMargin(t *testing.T) {
	offsets := []time.Duration{
		-time.Hour, -time.Second, 0, time.Minute, 4*time.Minute + 59*time.Second,
		5 * time.Minute, 5*time.Minute + time.Second, time.Hour,
	}

	for _, off := range offsets {
		t.Run(off.String(), func(t *testing.T) {
			m, store := newTestTokenManager(&model.Credential{
				AccessToken:  "access-1",
				RefreshToken: "refresh-1",
				ExpiresAt:    tmNow.Add(off),
			}, rotatingOAuth(time.Hour))

			token, err := m.GetValidToken(context.Background())
			require.NoError(t, err)

			stored := store.snapshot()
			assert.Equal(t, stored.AccessToken, token)
			assert.True(t, stored.ValidFor(tmNow, DefaultSafetyMargin),
				"returned token expires at %v, inside the margin", stored.ExpiresAt)
		})
	}
}

func TestTokenManager_ConcurrentCallersShareOneRefresh(t *testing.T) {
	release := make(chan struct{})
	oauth := &fakeOAuth{refresh: func(string) (model.TokenGrant, error) {
		<-release
		return model.TokenGrant{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: time.Hour}, nil
	}}
	m, store := newTestTokenManager(&model.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    tmNow.Add(-time.Minute),
	}, oauth)

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = m.GetValidToken(context.Background())
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-2", tokens[i])
	}
	assert.Equal(t, int32(1), oauth.refreshCalls.Load())
	assert.Equal(t, 1, store.updates)
}

func TestTokenManager_CallerCancelDoesNotAbortRefresh(t *testing.T) {
	release := make(chan struct{})
	oauth := &fakeOAuth{refresh: func(string) (model.TokenGrant, error) {
		<-release
		return model.TokenGrant{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: time.Hour}, nil
	}}
	m, store := newTestTokenManager(&model.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    tmNow,
	}, oauth)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.GetValidToken(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	assert.Eventually(t, func() bool {
		c := store.snapshot()
		return c != nil && c.RefreshToken == "refresh-2"
	}, time.Second, 10*time.Millisecond)
}

func TestTokenManager_AuthorizeAndDisconnect(t *testing.T) {
	oauth := &fakeOAuth{exchange: func(code string) (model.TokenGrant, error) {
		assert.Equal(t, "the-code", code)
		return model.TokenGrant{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", ExpiresIn: time.Hour}, nil
	}}
	m, store := newTestTokenManager(nil, oauth)
	ctx := context.Background()

	cred, err := m.Authorize(ctx, "the-code")
	require.NoError(t, err)
	assert.True(t, cred.Active)
	assert.True(t, tmNow.Add(time.Hour).Equal(cred.ExpiresAt))

	token, err := m.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", token)

	status, err := m.Connection(ctx)
	require.NoError(t, err)
	assert.True(t, status.Connected)

	require.NoError(t, m.Disconnect(ctx))
	assert.Nil(t, store.snapshot())

	_, err = m.GetValidToken(ctx)
	assert.ErrorIs(t, err, driven.ErrAuthNotConfigured)
}

func TestTokenManager_AuthorizeRequiresRefreshToken(t *testing.T) {
	oauth := &fakeOAuth{exchange: func(string) (model.TokenGrant, error) {
		return model.TokenGrant{AccessToken: "a", ExpiresIn: time.Hour}, nil
	}}
	m, store := newTestTokenManager(nil, oauth)

	_, err := m.Authorize(context.Background(), "code")
	assert.ErrorIs(t, err, driven.ErrMalformedResponse)
	assert.Nil(t, store.snapshot())

	_, err = m.Authorize(context.Background(), "")
	assert.Error(t, err)
}
