package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/boddenberg/bankbot-go/internal/auth"

	"go.uber.org/zap"
)

type contextKey string

const workerClaimsKey contextKey = "workerClaims"

// WorkerAuthMiddleware validates Bearer worker tokens and injects the claims
// into the request context. A nil issuer leaves the routes open.
func WorkerAuthMiddleware(issuer *auth.TokenIssuer, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if issuer == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing worker token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid token format")
				return
			}

			claims, err := issuer.Validate(parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), workerClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKeyMiddleware checks the X-API-Key header against the configured bcrypt
// hash. A disabled checker lets every request through.
func APIKeyMiddleware(checker *auth.APIKeyChecker, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if checker == nil || !checker.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := checker.Check(r.Header.Get("X-API-Key")); err != nil {
				logger.Warn("auth: api key rejected",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WorkerClaimsFromContext returns the authenticated worker, or nil when the
// worker routes run without authentication.
func WorkerClaimsFromContext(ctx context.Context) *auth.WorkerClaims {
	v, _ := ctx.Value(workerClaimsKey).(*auth.WorkerClaims)
	return v
}
