package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCVerifier verifies Auth0 access tokens (RS256 JWTs) against the
// tenant's discovery document.
type OIDCVerifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers issuer and builds a verifier checking audience.
func NewOIDCVerifier(ctx context.Context, issuer, audience string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("identity: discover %s: %w", issuer, err)
	}
	verifier := provider.Verifier(&oidc.Config{
		ClientID:          audience,
		SkipClientIDCheck: audience == "",
	})
	return &OIDCVerifier{provider: provider, verifier: verifier}, nil
}

// Verify implements TokenVerifier.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (Claims, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims Claims
	if err := token.Claims(&claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims.Subject = token.Subject
	return claims, nil
}

// Profile implements ProfileSource through the userinfo endpoint.
func (v *OIDCVerifier) Profile(ctx context.Context, rawToken string) (Claims, error) {
	info, err := v.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: rawToken, TokenType: "Bearer"}))
	if err != nil {
		return Claims{}, fmt.Errorf("identity: userinfo: %w", err)
	}
	claims := Claims{Subject: info.Subject, Email: info.Email}
	var extra struct {
		Name     string `json:"name"`
		Nickname string `json:"nickname"`
	}
	if err := info.Claims(&extra); err == nil {
		claims.Name = extra.Name
		if claims.Name == "" {
			claims.Name = extra.Nickname
		}
	}
	return claims, nil
}

// DevVerifier accepts tokens of the form "dev.<subject>". It exists for local
// development without an Auth0 tenant and is never wired in production.
type DevVerifier struct{}

// Verify implements TokenVerifier.
func (DevVerifier) Verify(_ context.Context, rawToken string) (Claims, error) {
	sub, ok := strings.CutPrefix(rawToken, "dev.")
	if !ok || strings.TrimSpace(sub) == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Subject: sub}, nil
}
