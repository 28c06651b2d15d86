package aggregator

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthenticationError reports a failed credential exchange. No retry is
// attempted beyond the single forced refresh a rejected token earns.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("aggregator authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// UpstreamAuthError reports a token rejected twice in a row for one fetch.
type UpstreamAuthError struct {
	Status int
}

func (e *UpstreamAuthError) Error() string {
	return fmt.Sprintf("aggregator rejected token after forced refresh (status %d)", e.Status)
}

// UpstreamError reports a non-auth HTTP failure from the aggregator.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("aggregator error (%d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("aggregator error (%d)", e.Status)
}

// ParseError reports a malformed upstream payload.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed aggregator payload: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsAuthFailure reports whether err is any of the token-related failures.
func IsAuthFailure(err error) bool {
	var authErr *AuthenticationError
	var upstreamAuth *UpstreamAuthError
	return errors.As(err, &authErr) || errors.As(err, &upstreamAuth)
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
