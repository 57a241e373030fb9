// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-transcript-service/pkg/constants"
)

// TenantAuthenticator resolves request credentials to a tenant user ID.
type TenantAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, apiKey string) (string, error)
	AuthenticateBearer(ctx context.Context, bearerToken string) (string, error)
}

// TenantAuthMiddleware authenticates every request except health checks and the
// webhook, which carries its own signature. An X-API-Key header takes
// precedence over an Authorization bearer token.
func TenantAuthMiddleware(authenticator TenantAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthPath(r.URL.Path) || r.URL.Path == WebhookPath {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			var (
				userID string
				err    error
			)
			if apiKey := r.Header.Get(constants.APIKeyHeader); apiKey != "" {
				userID, err = authenticator.AuthenticateAPIKey(ctx, apiKey)
			} else {
				userID, err = authenticator.AuthenticateBearer(ctx, bearerToken(r.Header.Get(constants.AuthorizationHeader)))
			}
			if err != nil {
				slog.InfoContext(ctx, "rejected unauthenticated request", logging.ErrKey, err)
				writeUnauthenticated(w, err)
				return
			}

			ctx = context.WithValue(ctx, constants.UserIDContextID, userID)
			// Indexer messages published for this request carry the caller.
			ctx = context.WithValue(ctx, constants.PrincipalContextID, userID)
			if authorization := r.Header.Get(constants.AuthorizationHeader); authorization != "" {
				ctx = context.WithValue(ctx, constants.AuthorizationContextID, authorization)
			}
			ctx = logging.AppendCtx(ctx, slog.String("user_id", userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the tenant user set by TenantAuthMiddleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(constants.UserIDContextID).(string)
	return userID, ok && userID != ""
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeUnauthenticated(w http.ResponseWriter, err error) {
	status, code := http.StatusUnauthorized, domain.ErrorTypeUnauthenticated.String()
	message := "authentication required"
	if domain.GetErrorType(err) == domain.ErrorTypeUnavailable {
		status, code = http.StatusServiceUnavailable, domain.ErrorTypeUnavailable.String()
		message = "authentication is temporarily unavailable"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
