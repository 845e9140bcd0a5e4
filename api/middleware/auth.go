package middleware

import (
	"net/http"
	"strings"

	"github.com/baltauto/loyalty-backend/api/responses"
	pkgauth "github.com/baltauto/loyalty-backend/pkg/auth"
	"github.com/baltauto/loyalty-backend/pkg/config"
	pkgerrors "github.com/baltauto/loyalty-backend/pkg/errors"
	"github.com/baltauto/loyalty-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the
// calling service identity.
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

			claims, err := pkgauth.ParseServiceToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithCaller(r.Context(), claims.Caller)
			if logg != nil {
				ctx = logg.WithField(ctx, "caller", claims.Caller)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
