package core

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidState = errors.New("invalid state token")
	ErrExpiredState = errors.New("state token expired")
)

// stateClaims carries the initiating user through the OAuth redirect.
type stateClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// GenerateStateToken signs a short-lived state token for the handshake.
// The token is opaque to the provider and round-trips the user identifier
// back to the callback without trusting the browser.
func GenerateStateToken(userID string, config *Config) (string, error) {
	now := time.Now()
	expiresAt := now.Add(time.Duration(config.StateTokenDuration) * time.Second)

	claims := &stateClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.StateSecret))
}

// ValidateStateToken returns the user identifier the state was issued for.
func ValidateStateToken(tokenString string, config *Config) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &stateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidState
		}
		return []byte(config.StateSecret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredState
		}
		return "", ErrInvalidState
	}

	claims, ok := token.Claims.(*stateClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", ErrInvalidState
	}

	return claims.UserID, nil
}
