package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"docent/internal/domain"
)

// CognitoClaims are the token claims checked on admin requests.
type CognitoClaims struct {
	jwt.RegisteredClaims
	TokenUse string   `json:"token_use"`
	Username string   `json:"username,omitempty"`
	Groups   []string `json:"cognito:groups,omitempty"`
}

// TokenVerifier validates bearer tokens on protected routes.
type TokenVerifier interface {
	VerifyToken(tokenString string) (*CognitoClaims, error)
}

// CognitoJWTVerifier implements TokenVerifier using the Cognito user pool
// JWKS endpoint. Keys are cached and refreshed by keyfunc based on HTTP
// cache headers.
type CognitoJWTVerifier struct {
	jwks   keyfunc.Keyfunc
	logger *slog.Logger
}

// NewJWTVerifier creates a verifier that fetches public keys from the given
// JWKS URL.
func NewJWTVerifier(jwksURL string, logger *slog.Logger) (*CognitoJWTVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("JWKS URL cannot be empty")
	}

	jwks, err := keyfunc.NewDefaultCtx(context.Background(), []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS client: %w", err)
	}

	logger.Info("JWT verifier initialized", "jwks_url", jwksURL)

	return &CognitoJWTVerifier{
		jwks:   jwks,
		logger: logger,
	}, nil
}

// VerifyToken validates a JWT and extracts its Cognito claims.
func (v *CognitoJWTVerifier) VerifyToken(tokenString string) (*CognitoClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CognitoClaims{}, v.jwks.Keyfunc)
	if err != nil {
		v.logger.Debug("token parse failed", "error", err)
		return nil, domain.ErrUnauthorized
	}
	if !token.Valid {
		return nil, domain.ErrUnauthorized
	}

	// Prevent algorithm confusion: Cognito signs with RS256 only
	if token.Method.Alg() != "RS256" {
		v.logger.Warn("token uses unexpected algorithm", "algorithm", token.Method.Alg())
		return nil, domain.ErrUnauthorized
	}

	claims, ok := token.Claims.(*CognitoClaims)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	if claims.Subject == "" {
		v.logger.Debug("token missing subject claim")
		return nil, domain.ErrUnauthorized
	}
	switch claims.TokenUse {
	case "access", "id":
	default:
		v.logger.Warn("token has unexpected token_use", "token_use", claims.TokenUse)
		return nil, domain.ErrUnauthorized
	}

	return claims, nil
}
