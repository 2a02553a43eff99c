package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Token values are encrypted with AES-256-GCM before write and decrypted after read.
// All operations are scoped to a single integration name.
type CredentialRepo struct {
	db          *DB
	integration string
	key         []byte // 32-byte AES-256 key; nil when encryption is disabled.
	now         func() time.Time
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for AES-256-GCM,
// or nil to disable credential storage (reads and writes return ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, integration string, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, integration: integration, key: key, now: time.Now}
}

const credentialColumns = `id, integration, access_token, refresh_token, token_type, expires_at, active, created_at, updated_at`

// GetActive returns the active credential, or (nil, nil) when none exists.
func (r *CredentialRepo) GetActive(ctx context.Context) (*model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	query := `SELECT ` + credentialColumns + ` FROM oauth_credentials WHERE integration = ? AND active = 1`

	cred, err := r.scanCredential(r.db.Reader.QueryRowContext(ctx, query, r.integration))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active credential for %s: %w", r.integration, err)
	}

	return cred, nil
}

// Activate deactivates the current active credential (if any) and inserts cred
// as the new active credential in one transaction.
func (r *CredentialRepo) Activate(ctx context.Context, cred model.Credential) (model.Credential, error) {
	access, err := r.encrypt(cred.AccessToken)
	if err != nil {
		return model.Credential{}, err
	}
	refresh, err := r.encrypt(cred.RefreshToken)
	if err != nil {
		return model.Credential{}, err
	}

	now := r.now().UTC()
	tokenType := cred.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.Credential{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const deactivate = `UPDATE oauth_credentials SET active = 0, updated_at = ? WHERE integration = ? AND active = 1`
	if _, err := tx.ExecContext(ctx, deactivate, formatTime(now), r.integration); err != nil {
		return model.Credential{}, fmt.Errorf("deactivate previous credential for %s: %w", r.integration, err)
	}

	const insert = `
		INSERT INTO oauth_credentials (
			integration, access_token, refresh_token, token_type, expires_at, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 1, ?, ?)
	`
	result, err := tx.ExecContext(ctx, insert,
		r.integration, access, refresh, tokenType, formatTime(cred.ExpiresAt), formatTime(now), formatTime(now),
	)
	if err != nil {
		return model.Credential{}, fmt.Errorf("insert credential for %s: %w", r.integration, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.Credential{}, fmt.Errorf("read credential id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Credential{}, fmt.Errorf("commit credential for %s: %w", r.integration, err)
	}

	cred.ID = id
	cred.Integration = r.integration
	cred.TokenType = tokenType
	cred.Active = true
	cred.ExpiresAt = cred.ExpiresAt.UTC()
	cred.CreatedAt = now
	cred.UpdatedAt = now
	return cred, nil
}

// UpdateTokens replaces the token pair of the active credential with the given id.
func (r *CredentialRepo) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken, tokenType string, expiresAt time.Time) error {
	access, err := r.encrypt(accessToken)
	if err != nil {
		return err
	}
	refresh, err := r.encrypt(refreshToken)
	if err != nil {
		return err
	}

	const query = `
		UPDATE oauth_credentials
		SET access_token = ?, refresh_token = ?, token_type = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND integration = ? AND active = 1
	`
	result, err := r.db.Writer.ExecContext(ctx, query,
		access, refresh, tokenType, formatTime(expiresAt), formatTime(r.now()), id, r.integration,
	)
	if err != nil {
		return fmt.Errorf("update credential %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("credential %d is no longer active: %w", id, driven.ErrAuthNotConfigured)
	}

	return nil
}

// Deactivate marks the active credential inactive. The row is kept for audit.
// Deactivating when nothing is active is a no-op.
func (r *CredentialRepo) Deactivate(ctx context.Context) error {
	const query = `UPDATE oauth_credentials SET active = 0, updated_at = ? WHERE integration = ? AND active = 1`
	if _, err := r.db.Writer.ExecContext(ctx, query, formatTime(r.now()), r.integration); err != nil {
		return fmt.Errorf("deactivate credential for %s: %w", r.integration, err)
	}
	return nil
}

func (r *CredentialRepo) scanCredential(s scanner) (*model.Credential, error) {
	var cred model.Credential
	var access, refresh string
	var expiresAt, createdAt, updatedAt string
	var active int

	err := s.Scan(
		&cred.ID, &cred.Integration, &access, &refresh, &cred.TokenType,
		&expiresAt, &active, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cred.Active = active != 0

	if cred.AccessToken, err = r.decrypt(access); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if cred.RefreshToken, err = r.decrypt(refresh); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	if cred.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &cred, nil
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded string
// containing the nonce (12 bytes) prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext string) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}
