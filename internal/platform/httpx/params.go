package httpx

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/partnerportal/portal/internal/shared"
)

// UUIDParam reads a UUID route parameter. Malformed ids cannot name a row,
// so they are reported as not found.
func UUIDParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%s %q: %w", name, raw, shared.ErrNotFound)
	}
	return id.String(), nil
}

// BoolQuery parses a boolean query parameter, defaulting to false.
func BoolQuery(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// IdempotencyKey returns the Idempotency-Key request header.
func IdempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}
