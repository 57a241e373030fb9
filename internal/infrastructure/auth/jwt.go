// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package auth validates tenant bearer tokens.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
)

const (
	// PS256 is the signing algorithm of tenant tokens.
	PS256 = validator.PS256

	defaultIssuer   = "heimdall"
	defaultAudience = "lfx-v2-transcript-service"
	defaultJWKSURL  = "http://heimdall:4457/.well-known/jwks"
	jwksCacheTTL    = 5 * time.Minute
)

// IJWTAuth resolves a bearer token to the principal it was issued for.
type IJWTAuth interface {
	ParsePrincipal(ctx context.Context, token string, logger *slog.Logger) (string, error)
}

var _ IJWTAuth = (*JWTAuth)(nil)

// TenantClaims are the custom claims carried by a tenant token.
type TenantClaims struct {
	Principal string `json:"principal"`
	Email     string `json:"email,omitempty"`
}

// Validate checks that the token names a principal.
func (c *TenantClaims) Validate(ctx context.Context) error {
	if c.Principal == "" {
		return errors.New("principal must be provided")
	}
	return nil
}

// JWTAuthConfig holds the JWT validation settings.
type JWTAuthConfig struct {
	// JWKSURL is where the signing keys are fetched from.
	JWKSURL string
	// Audience is the expected aud claim.
	Audience string
	// MockLocalPrincipal, when set, skips validation and returns this principal.
	// Only for local development.
	MockLocalPrincipal string
}

// JWTAuth validates tenant tokens and extracts their principal.
type JWTAuth struct {
	validator *validator.Validator
	config    JWTAuthConfig
}

// withDefaults fills in the JWKS URL and audience of the platform gateway.
func (c JWTAuthConfig) withDefaults() JWTAuthConfig {
	if c.JWKSURL == "" {
		c.JWKSURL = defaultJWKSURL
	}
	if c.Audience == "" {
		c.Audience = defaultAudience
	}
	return c
}

// NewJWTAuth builds a validator backed by a caching JWKS provider.
func NewJWTAuth(config JWTAuthConfig) (*JWTAuth, error) {
	config = config.withDefaults()

	jwksURI, err := url.Parse(config.JWKSURL)
	if err != nil {
		return nil, err
	}
	issuer, err := url.Parse(defaultIssuer)
	if err != nil {
		return nil, err
	}

	provider := jwks.NewCachingProvider(issuer, jwksCacheTTL, jwks.WithCustomJWKSURI(jwksURI))

	customClaims := func() validator.CustomClaims {
		return &TenantClaims{}
	}

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		PS256,
		issuer.String(),
		[]string{config.Audience},
		validator.WithCustomClaims(customClaims),
		validator.WithAllowedClockSkew(5*time.Second),
	)
	if err != nil {
		return nil, err
	}

	return &JWTAuth{
		validator: jwtValidator,
		config:    config,
	}, nil
}

// ParsePrincipal validates token and returns its principal.
func (j *JWTAuth) ParsePrincipal(ctx context.Context, token string, logger *slog.Logger) (string, error) {
	if j.config.MockLocalPrincipal != "" {
		logger.InfoContext(ctx, "JWT validation is disabled, using mock principal",
			"principal", j.config.MockLocalPrincipal,
		)
		return j.config.MockLocalPrincipal, nil
	}

	if j.validator == nil {
		return "", errors.New("JWT validator is not set up")
	}

	parsed, err := j.validator.ValidateToken(ctx, token)
	if err != nil {
		logger.WarnContext(ctx, "unable to validate JWT", logging.ErrKey, err)
		return "", err
	}

	claims, ok := parsed.(*validator.ValidatedClaims)
	if !ok {
		return "", errors.New("failed to get validated authorization claims")
	}

	customClaims, ok := claims.CustomClaims.(*TenantClaims)
	if !ok {
		return "", errors.New("failed to get custom authorization claims")
	}

	return customClaims.Principal, nil
}
