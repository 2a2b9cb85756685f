package timetree

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// AuthError is returned when signing in fails, either because the service
// rejected the credentials or because it could not be reached.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("timetree: authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "timetree: authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError represents a non-success HTTP response, after the single
// re-authentication retry has been spent.
type APIError struct {
	Op         string
	StatusCode int
	// Body is the response body. It is complete for create-event errors
	// and cut to maxErrorBody bytes, on a rune boundary, otherwise.
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("timetree: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsAuthError reports whether err is, or wraps, an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsUnauthorized reports whether err is an API error with status 401.
func IsUnauthorized(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusUnauthorized
}

const maxErrorBody = 512

// truncateBody cuts b to at most maxErrorBody bytes without splitting a
// UTF-8 sequence.
func truncateBody(b []byte) string {
	if len(b) <= maxErrorBody {
		return string(b)
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut])
}
