package identity

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/partnerportal/portal/internal/platform/httpx"
	"github.com/partnerportal/portal/internal/shared"
)

// Authenticator resolves the bearer token of each request into a principal.
type Authenticator struct {
	Verifier TokenVerifier
	Profiles ProfileSource
	Cache    *ProfileCache
	Logger   *slog.Logger
}

// Authenticate rejects requests without a valid token with 401 and stores the
// principal in the request context otherwise.
func (a Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			httpx.RespondError(w, ErrInvalidToken)
			return
		}
		claims, err := a.Verifier.Verify(r.Context(), raw)
		if err != nil {
			a.logger().Debug("token rejected", slog.Any("error", err))
			httpx.RespondError(w, ErrInvalidToken)
			return
		}
		if claims.Subject == "" {
			httpx.RespondError(w, ErrInvalidToken)
			return
		}
		claims = a.completeProfile(r, raw, claims)
		ctx := shared.ContextWithPrincipal(r.Context(), claims.Principal())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// completeProfile fills email and name from the userinfo endpoint. Failures
// are logged; a profile is never required to authenticate.
func (a Authenticator) completeProfile(r *http.Request, raw string, claims Claims) Claims {
	if a.Profiles == nil || (claims.Email != "" && claims.Name != "") {
		return claims
	}
	profile, err := a.Cache.Fetch(r.Context(), claims.Subject, func(ctx context.Context) (Claims, error) {
		return a.Profiles.Profile(ctx, raw)
	})
	if err != nil {
		a.logger().Warn("profile lookup failed", slog.String("sub", claims.Subject), slog.Any("error", err))
		return claims
	}
	if claims.Email == "" {
		claims.Email = profile.Email
	}
	if claims.Name == "" {
		claims.Name = profile.Name
	}
	return claims
}

func (a Authenticator) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
