package shared

import (
	"errors"
	"strings"
)

// Error taxonomy shared by every layer. Handlers map these to HTTP statuses
// through httpx.RespondError.
var (
	// ErrUnauthenticated indicates a request without a valid identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates an authenticated principal lacking a relation.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates a resource absent or outside the partner scope.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrUpstream indicates that the FGA service, the database or the identity
	// provider failed.
	ErrUpstream = errors.New("upstream failure")
)

// UserSafeMessage returns a message suitable for API clients. Upstream and
// unclassified errors collapse to a generic message.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrForbidden), errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrIdempotencyConflict):
		return strings.TrimSpace(err.Error())
	default:
		return "internal error"
	}
}
