package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"healthd/core"

	"golang.org/x/oauth2"
)

const fitnessActivityScope = "https://www.googleapis.com/auth/fitness.activity.read"

type GoogleFitConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`

	// Base URLs are overridable so tests can point the provider at a
	// local server. Empty fields fall back to the real Google endpoints.
	AuthURL        string `yaml:"auth_url,omitempty"`
	TokenURL       string `yaml:"token_url,omitempty"`
	FitnessBaseURL string `yaml:"fitness_base_url,omitempty"`

	// TimeZone defines the calendar day for the step aggregate,
	// e.g. "Europe/Berlin". Empty means the server's local zone.
	TimeZone string `yaml:"timezone,omitempty"`
}

type GoogleFitProvider struct {
	oauth          *oauth2.Config
	httpClient     *http.Client
	fitnessBaseURL string
	location       *time.Location
}

func NewGoogleFitProvider(config *GoogleFitConfig) (*GoogleFitProvider, error) {
	authURL := config.AuthURL
	if authURL == "" {
		authURL = "https://accounts.google.com/o/oauth2/auth"
	}
	tokenURL := config.TokenURL
	if tokenURL == "" {
		tokenURL = "https://oauth2.googleapis.com/token"
	}
	fitnessBaseURL := config.FitnessBaseURL
	if fitnessBaseURL == "" {
		fitnessBaseURL = "https://www.googleapis.com/fitness/v1"
	}

	location := time.Local
	if config.TimeZone != "" {
		loc, err := time.LoadLocation(config.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", config.TimeZone, err)
		}
		location = loc
	}

	return &GoogleFitProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURI,
			Scopes:       []string{fitnessActivityScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		fitnessBaseURL: fitnessBaseURL,
		location:       location,
	}, nil
}

// AuthCodeURL asks for offline access so the exchange yields a refresh
// token, and forces the consent screen because Google only returns the
// refresh token on a fresh grant.
func (g *GoogleFitProvider) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *GoogleFitProvider) ExchangeCode(ctx context.Context, code string) (*core.OAuthTokens, error) {
	token, err := g.oauth.Exchange(g.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderExchange, err)
	}

	return &core.OAuthTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

func (g *GoogleFitProvider) RefreshAccessToken(ctx context.Context, refreshToken string) (*core.OAuthTokens, error) {
	source := g.oauth.TokenSource(g.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})

	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderRefresh, err)
	}

	tokens := &core.OAuthTokens{
		AccessToken: token.AccessToken,
		ExpiresAt:   token.Expiry,
	}
	// Google normally keeps the refresh token stable; pass a rotation
	// through only when one actually arrives.
	if token.RefreshToken != refreshToken {
		tokens.RefreshToken = token.RefreshToken
	}
	return tokens, nil
}

type aggregateRequest struct {
	AggregateBy     []aggregateBy `json:"aggregateBy"`
	BucketByTime    bucketByTime  `json:"bucketByTime"`
	StartTimeMillis int64         `json:"startTimeMillis"`
	EndTimeMillis   int64         `json:"endTimeMillis"`
}

type aggregateBy struct {
	DataTypeName string `json:"dataTypeName"`
	DataSourceID string `json:"dataSourceId,omitempty"`
}

type bucketByTime struct {
	DurationMillis int64 `json:"durationMillis"`
}

type aggregateResponse struct {
	Bucket []struct {
		Dataset []struct {
			Point []struct {
				Value []struct {
					IntVal int64 `json:"intVal"`
				} `json:"value"`
			} `json:"point"`
		} `json:"dataset"`
	} `json:"bucket"`
}

// FetchDailySteps queries the aggregate API for the calendar day containing
// the given instant, in the provider's configured time zone.
func (g *GoogleFitProvider) FetchDailySteps(ctx context.Context, accessToken string, day time.Time) (int, error) {
	local := day.In(g.location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.location)
	// Next midnight, not start+24h: DST transition days are 23 or 25 hours.
	end := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, g.location)

	reqBody := aggregateRequest{
		AggregateBy: []aggregateBy{{
			DataTypeName: core.StepDeltaCollection,
			DataSourceID: "derived:com.google.step_count.delta:com.google.android.gms:estimated_steps",
		}},
		BucketByTime:    bucketByTime{DurationMillis: end.Sub(start).Milliseconds()},
		StartTimeMillis: start.UnixMilli(),
		EndTimeMillis:   end.UnixMilli(),
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}

	aggregateURL := g.fitnessBaseURL + "/users/me/dataset:aggregate"
	req, err := http.NewRequestWithContext(ctx, "POST", aggregateURL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("%w: status %d: %s", core.ErrUpstream, resp.StatusCode, string(body))
	}

	var aggResp aggregateResponse
	if err := json.NewDecoder(resp.Body).Decode(&aggResp); err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}

	steps := 0
	for _, bucket := range aggResp.Bucket {
		for _, dataset := range bucket.Dataset {
			for _, point := range dataset.Point {
				for _, value := range point.Value {
					steps += int(value.IntVal)
				}
			}
		}
	}

	return steps, nil
}

// oauthContext routes the oauth2 package's HTTP calls through the
// provider's bounded client.
func (g *GoogleFitProvider) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}
