package model

import "time"

// Credential is the OAuth token pair held for one external integration.
// At most one Credential per integration has Active set.
type Credential struct {
	ID           int64
	Integration  string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ValidFor reports whether the access token remains usable for at least margin
// past now.
func (c Credential) ValidFor(now time.Time, margin time.Duration) bool {
	return now.Before(c.ExpiresAt.Add(-margin))
}

// TokenGrant is the token pair returned by the OAuth token endpoint.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
}
