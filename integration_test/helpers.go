package integration_test

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SyncResponse struct {
	Steps       int    `json:"steps"`
	WalkingTime int    `json:"walkingTime"`
	Calories    int    `json:"calories"`
	Source      string `json:"source"`
	SyncedAt    string `json:"syncedAt"`
}

type UpdateStatusResponse struct {
	HasUpdate bool    `json:"hasUpdate"`
	Timestamp *string `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// noRedirectClient leaves provider and frontend redirects unfollowed so the
// tests can inspect Location headers.
var noRedirectClient = &http.Client{
	Timeout: 5 * time.Second,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

func startConnect(baseURL, userID string) (*http.Response, error) {
	return noRedirectClient.Get(baseURL + "/oauth/connect?userId=" + url.QueryEscape(userID))
}

func completeCallback(baseURL, code, state string) (*http.Response, error) {
	target := baseURL + "/oauth/callback?code=" + url.QueryEscape(code) + "&state=" + url.QueryEscape(state)
	return noRedirectClient.Get(target)
}

func disconnect(baseURL, userID string) (*http.Response, error) {
	body := fmt.Sprintf(`{"userId":%q}`, userID)
	return noRedirectClient.Post(baseURL+"/oauth/disconnect", "application/json", strings.NewReader(body))
}

func runSync(baseURL, userID, userEmail string) (*http.Response, error) {
	body := fmt.Sprintf(`{"userId":%q,"userEmail":%q}`, userID, userEmail)
	return noRedirectClient.Post(baseURL+"/sync", "application/json", strings.NewReader(body))
}

func pollStatus(baseURL, userID string) (*http.Response, error) {
	return noRedirectClient.Get(baseURL + "/sync?userId=" + url.QueryEscape(userID))
}

func postNotification(baseURL, collectionName, userID string) (*http.Response, error) {
	body := fmt.Sprintf(`{"collectionName":%q,"userId":%q}`, collectionName, userID)
	return noRedirectClient.Post(baseURL+"/webhook", "application/json", strings.NewReader(body))
}

// stateFromLocation pulls the OAuth state parameter out of the consent
// redirect issued by /oauth/connect.
func stateFromLocation(location string) (string, error) {
	parsed, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	state := parsed.Query().Get("state")
	if state == "" {
		return "", fmt.Errorf("no state parameter in %q", location)
	}
	return state, nil
}

func parseSyncResponse(resp *http.Response) (*SyncResponse, error) {
	var result SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func parseStatusResponse(resp *http.Response) (*UpdateStatusResponse, error) {
	var result UpdateStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func parseErrorResponse(resp *http.Response) (*ErrorResponse, error) {
	var result ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func countCredentials(dbPath string) (int, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM fit_credentials").Scan(&count)
	return count, err
}

func credentialAccessToken(dbPath, userID string) (string, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var token string
	err = db.QueryRow("SELECT access_token FROM fit_credentials WHERE user_id = ?", userID).Scan(&token)
	return token, err
}

func cleanDatabase(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec("DELETE FROM fit_credentials"); err != nil {
		return err
	}
	if _, err := db.Exec("DELETE FROM update_flags"); err != nil {
		return err
	}
	_, err = db.Exec("DELETE FROM health_records")
	return err
}

func insertHealthRecord(dbPath, userEmail string, weightKg float64, recordedAt time.Time) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Exec(
		"INSERT INTO health_records (user_email, weight_kg, recorded_at) VALUES (?, ?, ?)",
		userEmail, weightKg, recordedAt.UnixMilli(),
	)
	return err
}

func waitForServer(baseURL string, maxAttempts int) error {
	client := &http.Client{Timeout: 1 * time.Second}
	for i := 0; i < maxAttempts; i++ {
		resp, err := client.Get(baseURL + "/health")
		if err == nil && resp.StatusCode == 200 {
			resp.Body.Close()
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("server failed to start after %d attempts", maxAttempts)
}
