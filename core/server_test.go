package core_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"healthd/core"
	"healthd/core/providers"
	"healthd/storage"

	"github.com/stretchr/testify/assert"
)

func setupTestServer(t *testing.T) (*core.Server, *storage.MockStore, *providers.MockProvider, *core.Config) {
	t.Helper()

	config := &core.Config{
		StateSecret:        "test_state_secret",
		StateTokenDuration: 600,
		EncryptionKey:      storage.TestEncryptionKey,
		FrontendURL:        "https://app.test/settings",
	}

	store := storage.NewMockStore()
	provider := providers.NewMockProvider()

	cipher, err := core.NewTokenCipher(config.EncryptionKey)
	assert.NoError(t, err)

	syncService := core.NewSyncService(store, store, store, provider, cipher, config)
	return core.NewServer(syncService, config), store, provider, config
}

func makeRequest(t *testing.T, handler http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(dest))
}

// --- connect ---

func TestHandleConnect_MissingUserID(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleConnect, http.MethodGet, "/oauth/connect", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestHandleConnect_RedirectsWithState(t *testing.T) {
	server, _, _, config := setupTestServer(t)

	rec := makeRequest(t, server.HandleConnect, http.MethodGet, "/oauth/connect?userId=user_new", "")

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	location := rec.Header().Get("Location")
	assert.Contains(t, location, "https://mock.test/o/oauth2/auth?state=")

	state := strings.TrimPrefix(location, "https://mock.test/o/oauth2/auth?state=")
	userID, err := core.ValidateStateToken(state, config)
	assert.NoError(t, err)
	assert.Equal(t, "user_new", userID)
}

// --- callback ---

func TestHandleOAuthCallback_MissingCode(t *testing.T) {
	server, _, provider, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleOAuthCallback, http.MethodGet, "/oauth/callback?error=access_denied", "")

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://app.test/settings?fit_error=no_code", rec.Header().Get("Location"))
	assert.Equal(t, 0, provider.ExchangeCodeCalls, "no exchange attempt without a code")
}

func TestHandleOAuthCallback_Success(t *testing.T) {
	server, store, _, config := setupTestServer(t)

	state, err := core.GenerateStateToken("user_new", config)
	assert.NoError(t, err)

	rec := makeRequest(t, server.HandleOAuthCallback, http.MethodGet,
		"/oauth/callback?code="+providers.ValidCode1+"&state="+state, "")

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://app.test/settings?fit=connected", rec.Header().Get("Location"))

	cred, err := store.GetCredential(context.Background(), "user_new")
	assert.NoError(t, err)
	assert.Equal(t, providers.Tokens1.AccessToken, cred.AccessToken)

	cipher, err := core.NewTokenCipher(config.EncryptionKey)
	assert.NoError(t, err)
	refreshToken, err := cipher.Open(cred.RefreshToken)
	assert.NoError(t, err)
	assert.Equal(t, providers.Tokens1.RefreshToken, refreshToken)
}

func TestHandleOAuthCallback_InvalidState(t *testing.T) {
	server, store, provider, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleOAuthCallback, http.MethodGet,
		"/oauth/callback?code="+providers.ValidCode1+"&state=forged", "")

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://app.test/settings?fit_error=oauth_failed", rec.Header().Get("Location"))
	assert.Equal(t, 0, provider.ExchangeCodeCalls, "state is checked before the exchange")
	assert.Equal(t, 0, store.PutCredentialCalls)
}

func TestHandleOAuthCallback_ExchangeFails(t *testing.T) {
	server, store, provider, config := setupTestServer(t)

	state, err := core.GenerateStateToken("user_new", config)
	assert.NoError(t, err)

	rec := makeRequest(t, server.HandleOAuthCallback, http.MethodGet,
		"/oauth/callback?code=bogus_code&state="+state, "")

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://app.test/settings?fit_error=oauth_failed", rec.Header().Get("Location"))
	assert.Equal(t, 1, provider.ExchangeCodeCalls)
	assert.Equal(t, 0, store.PutCredentialCalls)
}

func TestHandleOAuthCallback_OverwritesExistingCredential(t *testing.T) {
	server, store, _, config := setupTestServer(t)

	state, err := core.GenerateStateToken(storage.UserConnected, config)
	assert.NoError(t, err)

	rec := makeRequest(t, server.HandleOAuthCallback, http.MethodGet,
		"/oauth/callback?code="+providers.ValidCode2+"&state="+state, "")

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://app.test/settings?fit=connected", rec.Header().Get("Location"))

	cred, err := store.GetCredential(context.Background(), storage.UserConnected)
	assert.NoError(t, err)
	assert.Equal(t, providers.Tokens2.AccessToken, cred.AccessToken)
}

// --- disconnect ---

func TestHandleDisconnect(t *testing.T) {
	server, store, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleDisconnect, http.MethodPost, "/oauth/disconnect",
		`{"userId":"`+storage.UserConnected+`"}`)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "disconnected", body["status"])

	_, err := store.GetCredential(context.Background(), storage.UserConnected)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestHandleDisconnect_UnknownUser(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleDisconnect, http.MethodPost, "/oauth/disconnect",
		`{"userId":"`+storage.UserUnknown+`"}`)

	// Idempotent: disconnecting a user with no credential still succeeds.
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- sync ---

func TestHandleSync_MissingUserID(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleSync, http.MethodPost, "/sync", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestHandleSync_NotConnected(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleSync, http.MethodPost, "/sync",
		`{"userId":"`+storage.UserUnknown+`"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "not_connected", body["error"])
}

func TestHandleSync_SuccessWithWeight(t *testing.T) {
	server, store, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleSync, http.MethodPost, "/sync",
		`{"userId":"`+storage.UserConnected+`","userEmail":"`+storage.EmailWithWeight+`"}`)

	assert.Equal(t, http.StatusOK, rec.Code)

	var result core.SyncResult
	decodeBody(t, rec, &result)
	assert.Equal(t, 7000, result.Steps)
	assert.Equal(t, 70, result.WalkingTime)
	assert.Equal(t, 228, result.Calories) // 7000 * 65kg * 0.0005
	assert.Equal(t, core.SourceGoogleFit, result.Source)
	assert.False(t, result.SyncedAt.IsZero())

	assert.Equal(t, 1, store.DeleteFlagCalls, "a successful sync consumes the flag")
}

func TestHandleSync_DefaultWeight(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleSync, http.MethodPost, "/sync",
		`{"userId":"`+storage.UserConnected+`"}`)

	assert.Equal(t, http.StatusOK, rec.Code)

	var result core.SyncResult
	decodeBody(t, rec, &result)
	assert.Equal(t, 245, result.Calories) // 7000 * 70kg * 0.0005
}

func TestHandleSync_NoWeightRecords(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleSync, http.MethodPost, "/sync",
		`{"userId":"`+storage.UserConnected+`","userEmail":"`+storage.EmailWithoutWeight+`"}`)

	assert.Equal(t, http.StatusOK, rec.Code)

	var result core.SyncResult
	decodeBody(t, rec, &result)
	assert.Equal(t, 245, result.Calories, "records without weight samples fall back to the default")
}

func TestHandleSync_RefreshesExpiredToken(t *testing.T) {
	server, _, provider, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleSync, http.MethodPost, "/sync",
		`{"userId":"`+storage.UserExpired+`"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, provider.RefreshAccessTokenCalls)

	var result core.SyncResult
	decodeBody(t, rec, &result)
	assert.Equal(t, 7000, result.Steps)
}

func TestHandleSync_ReauthorizationRequired(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleSync, http.MethodPost, "/sync",
		`{"userId":"`+storage.UserExpiredNoRefresh+`"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "reauthorization_required", body["error"])
}

func TestHandleSync_RefreshFailed(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleSync, http.MethodPost, "/sync",
		`{"userId":"`+storage.UserExpiredBadToken+`"}`)

	// A rejected refresh surfaces the same way as a missing grant.
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "reauthorization_required", body["error"])
}

func TestHandleSync_UpstreamError(t *testing.T) {
	server, store, provider, _ := setupTestServer(t)
	provider.Steps = map[string]int{}

	rec := makeRequest(t, server.HandleSync, http.MethodPost, "/sync",
		`{"userId":"`+storage.UserConnected+`"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "upstream_error", body["error"])
	assert.Equal(t, 0, store.DeleteFlagCalls, "a failed sync must not consume the flag")
}

// --- sync status ---

func TestHandleSyncStatus_MissingUserID(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleSyncStatus, http.MethodGet, "/sync", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSyncStatus_NoFlag(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleSyncStatus, http.MethodGet, "/sync?userId="+storage.UserConnected, "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var status core.UpdateStatus
	decodeBody(t, rec, &status)
	assert.False(t, status.HasUpdate)
	assert.Nil(t, status.Timestamp)
}

// --- webhook ---

func TestHandleWebhook_MissingFields(t *testing.T) {
	server, store, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleWebhook, http.MethodPost, "/webhook",
		`{"collectionName":"`+core.StepDeltaCollection+`"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "invalid_payload", body["error"])
	assert.Equal(t, 0, store.SetFlagCalls)
}

func TestHandleWebhook_StepDelta(t *testing.T) {
	server, store, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleWebhook, http.MethodPost, "/webhook",
		`{"collectionName":"`+core.StepDeltaCollection+`","userId":"`+storage.UserConnected+`"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.SetFlagCalls)
	assert.Equal(t, core.UpdateFlagTTL, store.LastSetTTL)

	// The flag is visible through the poll endpoint, for that user only.
	statusRec := makeRequest(t, server.HandleSyncStatus, http.MethodGet, "/sync?userId="+storage.UserConnected, "")
	var status core.UpdateStatus
	decodeBody(t, statusRec, &status)
	assert.True(t, status.HasUpdate)
	assert.NotNil(t, status.Timestamp)

	otherRec := makeRequest(t, server.HandleSyncStatus, http.MethodGet, "/sync?userId="+storage.UserExpired, "")
	var otherStatus core.UpdateStatus
	decodeBody(t, otherRec, &otherStatus)
	assert.False(t, otherStatus.HasUpdate)
}

func TestHandleWebhook_OtherCollection(t *testing.T) {
	server, store, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleWebhook, http.MethodPost, "/webhook",
		`{"collectionName":"com.google.heart_rate.bpm","userId":"`+storage.UserConnected+`"}`)

	// Acknowledged but ignored.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, store.SetFlagCalls)
}

func TestHandleWebhook_FlagConsumedBySync(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	makeRequest(t, server.HandleWebhook, http.MethodPost, "/webhook",
		`{"collectionName":"`+core.StepDeltaCollection+`","userId":"`+storage.UserConnected+`"}`)

	syncRec := makeRequest(t, server.HandleSync, http.MethodPost, "/sync",
		`{"userId":"`+storage.UserConnected+`"}`)
	assert.Equal(t, http.StatusOK, syncRec.Code)

	statusRec := makeRequest(t, server.HandleSyncStatus, http.MethodGet, "/sync?userId="+storage.UserConnected, "")
	var status core.UpdateStatus
	decodeBody(t, statusRec, &status)
	assert.False(t, status.HasUpdate)
}

func TestHandleWebhookVerify_Challenge(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleWebhookVerify, http.MethodGet, "/webhook?hub.challenge=abc123", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "abc123", rec.Body.String())
}

func TestHandleWebhookVerify_NoChallenge(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleWebhookVerify, http.MethodGet, "/webhook", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

// --- misc ---

func TestHandleHealth(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleHealth, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestMethodNotAllowed(t *testing.T) {
	server, _, _, _ := setupTestServer(t)

	rec := makeRequest(t, server.HandleSync, http.MethodGet, "/sync", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = makeRequest(t, server.HandleWebhook, http.MethodGet, "/webhook", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = makeRequest(t, server.HandleSyncStatus, http.MethodPost, "/sync?userId=u", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
