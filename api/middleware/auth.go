package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/angelmondragon/fulfillment-engine/api/responses"
	pkgAuth "github.com/angelmondragon/fulfillment-engine/pkg/auth"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

type TokenVerifier interface {
	Verify(raw string) (*pkgAuth.AccessTokenClaims, error)
}

// Auth requires a valid bearer token and stores its user and role on the
// request context.
func Auth(verifier TokenVerifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := verifier.Verify(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			principal := Principal{UserID: claims.UserID.String(), Role: claims.Role}
			ctx := WithPrincipal(r.Context(), principal)
			if logg != nil {
				ctx = logg.WithActorRole(logg.WithUserID(ctx, principal.UserID), string(principal.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole admits callers whose token carries one of roles. It must run
// after Auth.
func RequireRole(logg *logger.Logger, roles ...enums.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(roles, RoleFromContext(r.Context())) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
