package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/auth0/go-auth0"
	"github.com/auth0/go-auth0/management"
	"github.com/sethvargo/go-password/password"
)

type userAPI interface {
	ListByEmail(ctx context.Context, email string, opts ...management.RequestOption) ([]*management.User, error)
	Create(ctx context.Context, u *management.User, opts ...management.RequestOption) error
}

type organizationAPI interface {
	Create(ctx context.Context, o *management.Organization, opts ...management.RequestOption) error
	AddMembers(ctx context.Context, id string, memberIDs []string, opts ...management.RequestOption) error
}

// Auth0Directory implements Directory over the Auth0 Management API.
type Auth0Directory struct {
	users      userAPI
	orgs       organizationAPI
	connection string
	logger     *slog.Logger
}

// Auth0Config holds Management API credentials.
type Auth0Config struct {
	Domain       string
	ClientID     string
	ClientSecret string
	Connection   string
}

// NewAuth0Directory authenticates with client credentials.
func NewAuth0Directory(ctx context.Context, cfg Auth0Config, logger *slog.Logger) (*Auth0Directory, error) {
	domain := strings.TrimSuffix(strings.TrimPrefix(cfg.Domain, "https://"), "/")
	api, err := management.New(domain, management.WithClientCredentials(ctx, cfg.ClientID, cfg.ClientSecret))
	if err != nil {
		return nil, fmt.Errorf("identity: management client: %w", err)
	}
	return newAuth0Directory(api.User, api.Organization, cfg.Connection, logger), nil
}

func newAuth0Directory(users userAPI, orgs organizationAPI, connection string, logger *slog.Logger) *Auth0Directory {
	if logger == nil {
		logger = slog.Default()
	}
	if connection == "" {
		connection = "Username-Password-Authentication"
	}
	return &Auth0Directory{users: users, orgs: orgs, connection: connection, logger: logger}
}

// EnsureUser implements Directory. New users get a random password and must
// reset it through the verification email.
func (d *Auth0Directory) EnsureUser(ctx context.Context, email, name string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("identity: email required")
	}
	if id, err := d.lookup(ctx, email); err != nil || id != "" {
		return id, err
	}
	secret, err := password.Generate(24, 4, 4, false, false)
	if err != nil {
		return "", fmt.Errorf("identity: generate password: %w", err)
	}
	user := &management.User{
		Connection:  auth0.String(d.connection),
		Email:       auth0.String(email),
		Password:    auth0.String(secret),
		VerifyEmail: auth0.Bool(true),
	}
	if name = strings.TrimSpace(name); name != "" {
		user.Name = auth0.String(name)
	}
	if err := d.users.Create(ctx, user); err != nil {
		if isConflict(err) {
			// created concurrently by another invite
			return d.lookup(ctx, email)
		}
		return "", fmt.Errorf("%w: create user: %v", ErrDirectory, err)
	}
	d.logger.Info("directory user created", slog.String("user_id", user.GetID()))
	return user.GetID(), nil
}

func (d *Auth0Directory) lookup(ctx context.Context, email string) (string, error) {
	users, err := d.users.ListByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("%w: list users: %v", ErrDirectory, err)
	}
	for _, u := range users {
		if u.GetID() != "" {
			return u.GetID(), nil
		}
	}
	return "", nil
}

// CreateOrganization implements Directory.
func (d *Auth0Directory) CreateOrganization(ctx context.Context, slug, displayName string) (string, error) {
	org := &management.Organization{
		Name:        auth0.String(slug),
		DisplayName: auth0.String(displayName),
	}
	if err := d.orgs.Create(ctx, org); err != nil {
		return "", fmt.Errorf("%w: create organization: %v", ErrDirectory, err)
	}
	return org.GetID(), nil
}

// AddOrganizationMember implements Directory.
func (d *Auth0Directory) AddOrganizationMember(ctx context.Context, orgID, userID string) error {
	if orgID == "" || userID == "" {
		return nil
	}
	if err := d.orgs.AddMembers(ctx, orgID, []string{userID}); err != nil {
		return fmt.Errorf("%w: add member: %v", ErrDirectory, err)
	}
	return nil
}

func isConflict(err error) bool {
	var mErr management.Error
	return errors.As(err, &mErr) && mErr.Status() == http.StatusConflict
}
