// Package identity resolves bearer tokens issued by Auth0 into portal
// principals and wraps the Auth0 Management API used during onboarding.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/partnerportal/portal/internal/shared"
)

var (
	// ErrInvalidToken is returned for missing, malformed or unverifiable tokens.
	ErrInvalidToken = fmt.Errorf("identity: invalid token: %w", shared.ErrUnauthenticated)
	// ErrDirectoryDisabled is returned when management credentials are absent.
	ErrDirectoryDisabled = fmt.Errorf("identity: user directory not configured, invite by user_id: %w", shared.ErrValidation)
	// ErrDirectory wraps Auth0 Management API failures.
	ErrDirectory = errors.New("identity: directory request failed")
)

// Claims is the verified content of an access token.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Principal converts claims to the request principal.
func (c Claims) Principal() shared.Principal {
	return shared.Principal{ID: c.Subject, Email: c.Email, Name: c.Name}
}

// TokenVerifier validates a raw bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (Claims, error)
}

// ProfileSource loads profile attributes missing from the token.
type ProfileSource interface {
	Profile(ctx context.Context, rawToken string) (Claims, error)
}

// Directory provisions users and organizations in the identity provider.
type Directory interface {
	// EnsureUser returns the id of the user with email, creating it when absent.
	EnsureUser(ctx context.Context, email, name string) (string, error)
	// CreateOrganization creates an organization and returns its id.
	CreateOrganization(ctx context.Context, slug, displayName string) (string, error)
	// AddOrganizationMember adds userID to the organization.
	AddOrganizationMember(ctx context.Context, orgID, userID string) error
}

// NoopDirectory is used when the Management API is not configured.
type NoopDirectory struct{}

// EnsureUser implements Directory.
func (NoopDirectory) EnsureUser(context.Context, string, string) (string, error) {
	return "", ErrDirectoryDisabled
}

// CreateOrganization implements Directory.
func (NoopDirectory) CreateOrganization(context.Context, string, string) (string, error) {
	return "", nil
}

// AddOrganizationMember implements Directory.
func (NoopDirectory) AddOrganizationMember(context.Context, string, string) error {
	return nil
}
