package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

type Server struct {
	syncService *SyncService
	config      *Config
}

func NewServer(syncService *SyncService, config *Config) *Server {
	return &Server{
		syncService: syncService,
		config:      config,
	}
}

// HandleConnect starts the handshake: issues a state token for the user and
// sends the browser to the provider consent page.
func (s *Server) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodGet) {
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "userId is required")
		return
	}

	authURL, err := s.syncService.BeginAuthorization(userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to start authorization")
		return
	}

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// HandleOAuthCallback completes the handshake. It always answers with a
// redirect to the frontend; the outcome travels as a query parameter and the
// credential never reaches the browser.
func (s *Server) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")

	if code == "" {
		// The provider declined or the user bailed; no exchange attempt.
		s.redirectOutcome(w, r, "fit_error", "no_code")
		return
	}

	if err := s.syncService.CompleteAuthorization(r.Context(), code, state); err != nil {
		s.redirectOutcome(w, r, "fit_error", "oauth_failed")
		return
	}

	s.redirectOutcome(w, r, "fit", "connected")
}

func (s *Server) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		UserID string `json:"userId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "userId is required")
		return
	}

	if err := s.syncService.Disconnect(r.Context(), req.UserID); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to disconnect")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// HandleSync runs a client-initiated sync.
func (s *Server) HandleSync(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		UserID    string `json:"userId"`
		UserEmail string `json:"userEmail"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "userId is required")
		return
	}

	result, err := s.syncService.Sync(r.Context(), req.UserID, req.UserEmail)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotConnected):
			respondError(w, http.StatusUnauthorized, "not_connected", "Google Fit is not connected")
		case errors.Is(err, ErrReauthorizationRequired), errors.Is(err, ErrRefreshFailed):
			// Both look the same from outside: the token could not be
			// renewed and the client should send the user back through
			// the handshake (a later retry may still succeed after a
			// transient refresh failure).
			respondError(w, http.StatusUnauthorized, "reauthorization_required", "Access token expired and could not be refreshed")
		case errors.Is(err, ErrUpstream):
			respondError(w, http.StatusInternalServerError, "upstream_error", "Failed to fetch steps from Google Fit")
		default:
			respondError(w, http.StatusInternalServerError, "internal_error", "Sync failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// HandleSyncStatus is the poll endpoint of the update notification channel.
func (s *Server) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodGet) {
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "userId is required")
		return
	}

	status, err := s.syncService.CheckUpdate(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to check updates")
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// HandleWebhook ingests provider push notifications.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	var notification PushNotification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload", "Invalid notification body")
		return
	}

	if _, err := s.syncService.IngestNotification(r.Context(), &notification); err != nil {
		if errors.Is(err, ErrInvalidPayload) {
			respondError(w, http.StatusBadRequest, "invalid_payload", "collectionName and userId are required")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to process notification")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleWebhookVerify answers the provider's registration probe. The
// challenge must be echoed back as plain text, not wrapped in the JSON
// envelope used everywhere else.
func (s *Server) HandleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodGet) {
		return
	}

	if challenge := r.URL.Query().Get("hub.challenge"); challenge != "" {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, challenge)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Helper functions

func (s *Server) redirectOutcome(w http.ResponseWriter, r *http.Request, key, value string) {
	http.Redirect(w, r, s.config.FrontendURL+"?"+key+"="+value, http.StatusTemporaryRedirect)
}

func validateMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
