package providers

import (
	"context"
	"time"

	"healthd/core"
)

// Predefined test authorization codes
const (
	ValidCode1        = "mock_auth_code_1"
	ValidCode2        = "mock_auth_code_2"
	CodeWithoutGrant  = "mock_auth_code_no_refresh"
	BrokenAccessToken = "mock_access_token_broken"
)

// Predefined test OAuth tokens
var (
	Tokens1 = &core.OAuthTokens{
		AccessToken:  "mock_access_token_1",
		RefreshToken: "mock_refresh_token_1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	Tokens2 = &core.OAuthTokens{
		AccessToken:  "mock_access_token_2",
		RefreshToken: "mock_refresh_token_2",
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	// Exchange result for a grant where the provider returned no refresh
	// token (user had already consented without offline access).
	TokensNoRefresh = &core.OAuthTokens{
		AccessToken: "mock_access_token_no_refresh",
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	Tokens1Refreshed = &core.OAuthTokens{
		AccessToken: "mock_access_token_1_refreshed",
		// No rotation: refresh token stays stable
		ExpiresAt: time.Now().Add(time.Hour),
	}

	Tokens2Refreshed = &core.OAuthTokens{
		AccessToken:  "mock_access_token_2_refreshed",
		RefreshToken: "mock_refresh_token_2_rotated",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
)

// Default step counts per access token
var DefaultSteps = map[string]int{
	Tokens1.AccessToken:          7000,
	Tokens2.AccessToken:          4321,
	TokensNoRefresh.AccessToken:  1200,
	Tokens1Refreshed.AccessToken: 7000,
	Tokens2Refreshed.AccessToken: 4321,
}

// MockProvider is a scripted implementation of core.FitnessProvider.
type MockProvider struct {
	codeToTokens    map[string]*core.OAuthTokens
	refreshToTokens map[string]*core.OAuthTokens
	Steps           map[string]int

	// Track method calls for verification
	ExchangeCodeCalls       int
	RefreshAccessTokenCalls int
	FetchDailyStepsCalls    int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		codeToTokens: map[string]*core.OAuthTokens{
			ValidCode1:       Tokens1,
			ValidCode2:       Tokens2,
			CodeWithoutGrant: TokensNoRefresh,
		},

		refreshToTokens: map[string]*core.OAuthTokens{
			Tokens1.RefreshToken: Tokens1Refreshed,
			Tokens2.RefreshToken: Tokens2Refreshed,
		},

		Steps: DefaultSteps,
	}
}

func (m *MockProvider) AuthCodeURL(state string) string {
	return "https://mock.test/o/oauth2/auth?state=" + state
}

func (m *MockProvider) ExchangeCode(ctx context.Context, code string) (*core.OAuthTokens, error) {
	m.ExchangeCodeCalls++

	tokens, ok := m.codeToTokens[code]
	if !ok {
		return nil, core.ErrProviderExchange
	}
	return tokens, nil
}

func (m *MockProvider) RefreshAccessToken(ctx context.Context, refreshToken string) (*core.OAuthTokens, error) {
	m.RefreshAccessTokenCalls++

	tokens, ok := m.refreshToTokens[refreshToken]
	if !ok {
		return nil, core.ErrProviderRefresh
	}
	return tokens, nil
}

func (m *MockProvider) FetchDailySteps(ctx context.Context, accessToken string, day time.Time) (int, error) {
	m.FetchDailyStepsCalls++

	steps, ok := m.Steps[accessToken]
	if !ok {
		return 0, core.ErrUpstream
	}
	return steps, nil
}
