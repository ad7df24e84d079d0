package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AccessTokenDuration  = 30 * time.Minute
	RefreshTokenDuration = 30 * 24 * time.Hour
)

const issuer = "danmakud"

type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

var errWrongTokenType = errors.New("wrong token type")

type Claims struct {
	ViewerID  string    `json:"viewerId"`
	TokenType TokenType `json:"type"`
	jwt.RegisteredClaims
}

func GenerateAccessToken(secret, viewerID string) (string, error) {
	return generateToken(secret, viewerID, AccessToken, AccessTokenDuration, "")
}

// GenerateRefreshToken signs a refresh token whose jti is tokenID, the key
// of its refresh_tokens row.
func GenerateRefreshToken(secret, viewerID, tokenID string) (string, error) {
	return generateToken(secret, viewerID, RefreshToken, RefreshTokenDuration, tokenID)
}

// ValidateToken parses an HS256 token issued by this service and checks that
// it is of the expected type.
func ValidateToken(secret, tokenStr string, want TokenType) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.TokenType != want {
		return nil, fmt.Errorf("%w: got %q", errWrongTokenType, claims.TokenType)
	}
	if claims.ViewerID == "" {
		return nil, errors.New("token has no viewer")
	}
	if want == RefreshToken && claims.ID == "" {
		return nil, errors.New("refresh token has no id")
	}
	return claims, nil
}

func generateToken(secret, viewerID string, tokenType TokenType, ttl time.Duration, tokenID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		ViewerID:  viewerID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   viewerID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        tokenID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}
