package providers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"healthd/core"
	"healthd/core/providers"

	"github.com/stretchr/testify/assert"
)

type capturedAggregate struct {
	StartTimeMillis int64 `json:"startTimeMillis"`
	EndTimeMillis   int64 `json:"endTimeMillis"`
}

// newAggregateServer answers the dataset:aggregate call with a fixed step
// count and records the requested time window.
func newAggregateServer(t *testing.T, steps int, captured *capturedAggregate) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test_access_token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"bucket": []map[string]interface{}{{
				"dataset": []map[string]interface{}{{
					"point": []map[string]interface{}{{
						"value": []map[string]interface{}{{"intVal": steps}},
					}},
				}},
			}},
		})
	}))
}

func newTestProvider(t *testing.T, baseURL, timezone string) *providers.GoogleFitProvider {
	t.Helper()

	provider, err := providers.NewGoogleFitProvider(&providers.GoogleFitConfig{
		ClientID:       "test_client_id",
		ClientSecret:   "test_client_secret",
		FitnessBaseURL: baseURL,
		TimeZone:       timezone,
	})
	assert.NoError(t, err)
	return provider
}

func TestFetchDailySteps_DayWindow(t *testing.T) {
	var captured capturedAggregate
	server := newAggregateServer(t, 4200, &captured)
	defer server.Close()

	provider := newTestProvider(t, server.URL, "Europe/Berlin")

	loc, err := time.LoadLocation("Europe/Berlin")
	assert.NoError(t, err)

	day := time.Date(2026, 8, 29, 15, 30, 0, 0, loc)
	steps, err := provider.FetchDailySteps(context.Background(), "test_access_token", day)
	assert.NoError(t, err)
	assert.Equal(t, 4200, steps)

	assert.Equal(t, time.Date(2026, 8, 29, 0, 0, 0, 0, loc).UnixMilli(), captured.StartTimeMillis)
	assert.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, loc).UnixMilli(), captured.EndTimeMillis)
}

func TestFetchDailySteps_DSTTransitionDay(t *testing.T) {
	var captured capturedAggregate
	server := newAggregateServer(t, 100, &captured)
	defer server.Close()

	provider := newTestProvider(t, server.URL, "Europe/Berlin")

	loc, err := time.LoadLocation("Europe/Berlin")
	assert.NoError(t, err)

	// Spring-forward day in Berlin: 29 March 2026 has 23 hours.
	day := time.Date(2026, 3, 29, 12, 0, 0, 0, loc)
	_, err = provider.FetchDailySteps(context.Background(), "test_access_token", day)
	assert.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 29, 0, 0, 0, 0, loc).UnixMilli(), captured.StartTimeMillis)
	assert.Equal(t, time.Date(2026, 3, 30, 0, 0, 0, 0, loc).UnixMilli(), captured.EndTimeMillis)
	assert.Equal(t, (23 * time.Hour).Milliseconds(), captured.EndTimeMillis-captured.StartTimeMillis)
}

func TestFetchDailySteps_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL, "UTC")

	_, err := provider.FetchDailySteps(context.Background(), "test_access_token", time.Now())
	assert.ErrorIs(t, err, core.ErrUpstream)
}
