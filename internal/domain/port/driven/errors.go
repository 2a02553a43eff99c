// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the sync core. Adapters wrap these so callers can
// classify failures with errors.Is.
var (
	// ErrAuthNotConfigured indicates no active credential exists; an operator
	// must complete the authorization-code exchange first.
	ErrAuthNotConfigured = errors.New("erp authorization not configured")

	// ErrRefreshFailed indicates the OAuth refresh exchange was rejected or
	// could not complete. Stored credentials are left untouched.
	ErrRefreshFailed = errors.New("oauth token refresh failed")

	// ErrRateLimited indicates the external rate limit was hit and retries ran out,
	// or the local daily request budget is spent.
	ErrRateLimited = errors.New("erp rate limit exceeded")

	// ErrUnreachable indicates a network-level failure talking to the ERP.
	ErrUnreachable = errors.New("erp unreachable")

	// ErrServerError indicates the ERP answered with a 5xx status.
	ErrServerError = errors.New("erp server error")

	// ErrRequestRejected indicates a non-retryable 4xx answer.
	ErrRequestRejected = errors.New("erp rejected request")

	// ErrNotFound indicates the ERP reported the requested record does not exist.
	ErrNotFound = errors.New("erp record not found")

	// ErrMalformedResponse indicates a payload that does not match the expected
	// envelope shape. It is never retried.
	ErrMalformedResponse = errors.New("malformed erp response")

	// ErrPersistence indicates a local store failure; the enclosing reconcile
	// was rolled back.
	ErrPersistence = errors.New("local persistence failed")

	// ErrEncryptionKeyNotSet is returned by CredentialStore operations when
	// ERPSYNC_SECRET_KEY has not been configured.
	ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set ERPSYNC_SECRET_KEY")
)

// APIError is the classified result of one failed call to the ERP API.
// Retryable is decided where the failure is observed, so retry policy never
// inspects error text.
type APIError struct {
	Kind       error // One of the sentinel errors above.
	StatusCode int   // Zero for network-level failures.
	Retryable  bool
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		if e.Err != nil {
			return fmt.Sprintf("%v (status %d): %v", e.Kind, e.StatusCode, e.Err)
		}
		return fmt.Sprintf("%v (status %d)", e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsRetryable reports whether err carries a retryable APIError.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable
}
