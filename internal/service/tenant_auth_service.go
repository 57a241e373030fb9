// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/auth"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
)

// TenantAuthService resolves a tenant credential to the user it belongs to.
// API keys are looked up by hash; bearer tokens are validated as JWTs.
type TenantAuthService struct {
	TokenRepository domain.APITokenRepository
	Auth            auth.IJWTAuth
}

// NewTenantAuthService creates a new TenantAuthService. jwtAuth may be nil, in
// which case only API keys are accepted.
func NewTenantAuthService(tokenRepository domain.APITokenRepository, jwtAuth auth.IJWTAuth) *TenantAuthService {
	return &TenantAuthService{
		TokenRepository: tokenRepository,
		Auth:            jwtAuth,
	}
}

// ServiceReady checks if the service is ready for use.
func (s *TenantAuthService) ServiceReady() bool {
	return s.TokenRepository != nil
}

// HashAPIKey returns the stored form of an API key.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// AuthenticateAPIKey returns the user the API key was issued to.
func (s *TenantAuthService) AuthenticateAPIKey(ctx context.Context, apiKey string) (string, error) {
	if !s.ServiceReady() {
		slog.ErrorContext(ctx, "tenant auth not initialized", logging.PriorityCritical())
		return "", domain.NewUnavailableError("tenant auth not ready")
	}
	if apiKey == "" {
		return "", domain.NewUnauthenticatedError("missing API key", domain.ErrUnauthenticated)
	}

	token, err := s.TokenRepository.GetByHash(ctx, HashAPIKey(apiKey))
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			return "", domain.NewUnauthenticatedError("unknown API key", domain.ErrUnauthenticated)
		}
		slog.ErrorContext(ctx, "error looking up API key", logging.ErrKey, err)
		return "", err
	}

	return token.UserID, nil
}

// AuthenticateBearer returns the principal of a bearer token.
func (s *TenantAuthService) AuthenticateBearer(ctx context.Context, bearerToken string) (string, error) {
	if s.Auth == nil {
		return "", domain.NewUnauthenticatedError("bearer tokens are not accepted", domain.ErrUnauthenticated)
	}
	if bearerToken == "" {
		return "", domain.NewUnauthenticatedError("missing bearer token", domain.ErrUnauthenticated)
	}

	principal, err := s.Auth.ParsePrincipal(ctx, bearerToken, slog.Default())
	if err != nil {
		return "", domain.NewUnauthenticatedError("invalid bearer token", domain.ErrUnauthenticated, err)
	}
	if principal == "" {
		return "", domain.NewUnauthenticatedError("bearer token has no principal", domain.ErrUnauthenticated)
	}

	return principal, nil
}

// SeedStaticTokens stores the "key:user" pairs of a comma separated list.
// It is meant for local development, where nothing else provisions keys.
func (s *TenantAuthService) SeedStaticTokens(ctx context.Context, pairs string) (int, error) {
	if strings.TrimSpace(pairs) == "" {
		return 0, nil
	}
	if !s.ServiceReady() {
		return 0, domain.NewUnavailableError("tenant auth not ready")
	}

	seeded := 0
	now := time.Now().UTC()
	for _, pair := range strings.Split(pairs, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, userID, ok := strings.Cut(pair, ":")
		key, userID = strings.TrimSpace(key), strings.TrimSpace(userID)
		if !ok || key == "" || userID == "" {
			return seeded, domain.NewValidationError(fmt.Sprintf("static token entry %d is not key:user", seeded+1))
		}

		err := s.TokenRepository.Put(ctx, &models.APIToken{
			TokenHash: HashAPIKey(key),
			UserID:    userID,
			CreatedAt: now,
		})
		if err != nil {
			return seeded, err
		}
		seeded++
	}

	slog.InfoContext(ctx, "seeded static API tokens", "count", seeded)
	return seeded, nil
}
