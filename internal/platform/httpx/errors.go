// Package httpx provides JSON response helpers shared by all handlers.
package httpx

import (
	"errors"
	"net/http"

	"github.com/partnerportal/portal/internal/shared"
)

// StatusFor maps the portal error taxonomy to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, shared.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrDuplicate), errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as an {"error": message} body. Upstream and unknown
// failures are reported with a generic message; details stay in the logs.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		Error(w, status, "internal error")
		return
	}
	Error(w, status, shared.UserSafeMessage(err))
}
