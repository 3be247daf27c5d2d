package spapi

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter marks caller input rejected before any request is sent.
	ErrInvalidParameter = errors.New("spapi: invalid parameter")
	// ErrRetriesExhausted is returned when the attempt budget runs out on transient failures.
	ErrRetriesExhausted = errors.New("spapi: retries exhausted")
	// ErrUnauthorized is returned when the API rejects a freshly refreshed token.
	ErrUnauthorized = errors.New("spapi: unauthorized after token refresh")
	// ErrTokenExchange wraps failures of the LWA refresh-token grant.
	ErrTokenExchange = errors.New("spapi: token exchange failed")
	// ErrMissingCredentials is returned when LWA client id, secret or refresh token is empty.
	ErrMissingCredentials = errors.New("spapi: missing LWA credentials")
	// ErrUnknownScenario is returned by the mock transport for unsupported scenarios.
	ErrUnknownScenario = errors.New("spapi: unknown mock scenario")
)

// StatusError is a non-retryable HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("spapi: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("spapi: unexpected status %d: %s", e.StatusCode, e.Body)
}
