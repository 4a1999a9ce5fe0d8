package integration_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
)

// Scripted authorization codes the mock accepts.
const (
	CodeAlice      = "fit_code_alice"
	CodeBob        = "fit_code_bob"
	CodeShortLived = "fit_code_short"
)

type mockGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	Steps        int
}

var mockGrants = map[string]mockGrant{
	CodeAlice: {
		AccessToken:  "fit_access_alice",
		RefreshToken: "fit_refresh_alice",
		ExpiresIn:    3600,
		Steps:        8450,
	},
	CodeBob: {
		AccessToken:  "fit_access_bob",
		RefreshToken: "fit_refresh_bob",
		ExpiresIn:    3600,
		Steps:        312,
	},
	// Expires almost immediately so a later sync has to refresh.
	CodeShortLived: {
		AccessToken:  "fit_access_short",
		RefreshToken: "fit_refresh_short",
		ExpiresIn:    1,
		Steps:        2100,
	},
}

// MockFitServer plays both Google endpoints the daemon talks to: the OAuth
// token endpoint and the fitness aggregate API.
type MockFitServer struct {
	server *httptest.Server

	mu           sync.Mutex
	accessSteps  map[string]int    // access token -> step count
	refreshables map[string]string // refresh token -> refreshed access token
	refreshCalls int
}

func NewMockFitServer() *MockFitServer {
	m := &MockFitServer{
		accessSteps:  make(map[string]int),
		refreshables: make(map[string]string),
	}

	for _, grant := range mockGrants {
		m.accessSteps[grant.AccessToken] = grant.Steps
		m.accessSteps[grant.AccessToken+"_refreshed"] = grant.Steps
		m.refreshables[grant.RefreshToken] = grant.AccessToken + "_refreshed"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", m.handleToken)
	mux.HandleFunc("/users/me/dataset:aggregate", m.handleAggregate)

	m.server = httptest.NewServer(mux)
	return m
}

func (m *MockFitServer) URL() string {
	return m.server.URL
}

func (m *MockFitServer) Close() {
	m.server.Close()
}

func (m *MockFitServer) RefreshCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCalls
}

func (m *MockFitServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, _ := io.ReadAll(r.Body)
	params, _ := url.ParseQuery(string(body))

	switch params.Get("grant_type") {
	case "authorization_code":
		if grant, ok := mockGrants[params.Get("code")]; ok {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token":  grant.AccessToken,
				"refresh_token": grant.RefreshToken,
				"expires_in":    grant.ExpiresIn,
				"token_type":    "Bearer",
			})
			return
		}

	case "refresh_token":
		m.mu.Lock()
		refreshed, ok := m.refreshables[params.Get("refresh_token")]
		if ok {
			m.refreshCalls++
		}
		m.mu.Unlock()

		if ok {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": refreshed,
				"expires_in":   3600,
				"token_type":   "Bearer",
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
}

func (m *MockFitServer) handleAggregate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	auth := r.Header.Get("Authorization")
	if len(auth) < 8 || auth[:7] != "Bearer " {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	m.mu.Lock()
	steps, ok := m.accessSteps[auth[7:]]
	m.mu.Unlock()

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_token"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"bucket": []map[string]interface{}{{
			"dataset": []map[string]interface{}{{
				"point": []map[string]interface{}{{
					"value": []map[string]interface{}{{
						"intVal": steps,
					}},
				}},
			}},
		}},
	})
}
