package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected            = errors.New("google fit not connected")
	ErrReauthorizationRequired = errors.New("token expired and no refresh token on file")
	ErrRefreshFailed           = errors.New("token refresh failed")
)

// TokenManager resolves a valid access token for a user, refreshing and
// persisting the credential when necessary. It is the only component that
// mutates AccessToken/ExpiresAt after the handshake.
type TokenManager struct {
	creds    CredentialRepository
	provider FitnessProvider
	cipher   *TokenCipher
}

func NewTokenManager(creds CredentialRepository, provider FitnessProvider, cipher *TokenCipher) *TokenManager {
	return &TokenManager{
		creds:    creds,
		provider: provider,
		cipher:   cipher,
	}
}

// EnsureValidAccessToken returns an access token that is valid now.
//
// A refresh persists the entire credential record (read-modify-write).
// Concurrent refreshes for the same user are tolerated: the provider accepts
// duplicate refresh calls and the store is last-writer-wins, so the returned
// token is not guaranteed to match what is stored a moment later.
func (m *TokenManager) EnsureValidAccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := m.creds.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotConnected
		}
		return "", fmt.Errorf("failed to load credential: %w", err)
	}

	if !cred.Expired(time.Now()) {
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" {
		// No silent renewal possible; the user must redo the handshake.
		return "", ErrReauthorizationRequired
	}

	refreshToken, err := m.cipher.Open(cred.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	TokenRefreshCounter.Inc()

	tokens, err := m.provider.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		// Leave the stale record untouched so a later attempt can retry.
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	updated := *cred
	updated.AccessToken = tokens.AccessToken
	updated.ExpiresAt = tokens.ExpiresAt

	// The refresh token is provider-stable; keep the stored one unless the
	// provider rotated it.
	if tokens.RefreshToken != "" && tokens.RefreshToken != refreshToken {
		sealed, err := m.cipher.Seal(tokens.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		updated.RefreshToken = sealed
	}

	if err := m.creds.PutCredential(ctx, &updated); err != nil {
		return "", fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	return tokens.AccessToken, nil
}
