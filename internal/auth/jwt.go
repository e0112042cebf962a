package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const jwtIssuer = "warren"

// SessionClaims are the claims carried by an RS256 session JWT.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// SignSessionJWT mints an RS256 JWT for a validated user session. Newt
// agents verify these locally against the public PEM they receive in the
// auth-proxy config.
func (k *Keys) SignSessionJWT(userID, email string, expiresAt time.Time) (string, error) {
	now := time.Now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    jwtIssuer,
			Audience:  jwt.ClaimStrings{jwtIssuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
		Email: email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(k.privateKey)
	if err != nil {
		return "", fmt.Errorf("auth: sign session token: %w", err)
	}
	return signed, nil
}

// VerifySessionJWT parses and validates a session JWT against the public key.
func (k *Keys) VerifySessionJWT(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&SessionClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return k.publicKey, nil
		},
		jwt.WithAudience(jwtIssuer),
		jwt.WithIssuer(jwtIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate session token: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	return claims, nil
}
