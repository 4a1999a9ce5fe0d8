package core

import (
	"context"
	"errors"
	"time"
)

var (
	ErrProviderExchange = errors.New("provider token exchange failed")
	ErrProviderRefresh  = errors.New("provider token refresh failed")
	ErrUpstream         = errors.New("provider metrics request failed")
)

// OAuthTokens represents the tokens returned by the fitness provider.
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// FitnessProvider is the delegated-access surface of the third-party
// fitness service: the OAuth legs plus the aggregate metrics query.
type FitnessProvider interface {
	// AuthCodeURL builds the consent URL the user is sent to, carrying
	// the opaque state token. No network call.
	AuthCodeURL(state string) string

	ExchangeCode(ctx context.Context, code string) (*OAuthTokens, error)

	RefreshAccessToken(ctx context.Context, refreshToken string) (*OAuthTokens, error)

	// FetchDailySteps returns the step count aggregated over the calendar
	// day containing the given instant. It never retries and never
	// refreshes tokens; that is the caller's job.
	FetchDailySteps(ctx context.Context, accessToken string, day time.Time) (int, error)
}
