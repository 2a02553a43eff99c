package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
)

// CredentialStore defines the driven port for the OAuth credential record.
// The adapter encrypts token values at rest; this interface works on plaintext.
type CredentialStore interface {
	// GetActive returns the active credential for the store's integration.
	// Returns (nil, nil) if none is active.
	GetActive(ctx context.Context) (*model.Credential, error)

	// Activate deactivates any active credential and stores cred as the new
	// active one in a single transaction. Returns the stored credential.
	Activate(ctx context.Context, cred model.Credential) (model.Credential, error)

	// UpdateTokens replaces the token pair and expiry of the active credential
	// with the given id. Returns ErrAuthNotConfigured if that credential is no
	// longer active.
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken, tokenType string, expiresAt time.Time) error

	// Deactivate marks the active credential inactive without deleting it.
	Deactivate(ctx context.Context) error
}
