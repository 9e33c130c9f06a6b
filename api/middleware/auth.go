package middleware

import (
	"net/http"
	"strings"

	"github.com/ecobricks/rewards-backend/api/responses"
	pkgAuth "github.com/ecobricks/rewards-backend/pkg/auth"
	"github.com/ecobricks/rewards-backend/pkg/config"
	pkgerrors "github.com/ecobricks/rewards-backend/pkg/errors"
	"github.com/ecobricks/rewards-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the caller identity.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			identity := claims.Identity()
			ctx := WithIdentity(r.Context(), identity)
			if logg != nil {
				ctx = logg.WithActorRole(logg.WithUserID(ctx, identity.UserID), identity.Role.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
