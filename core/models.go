package core

import (
	"time"
)

// StepDeltaCollection is the provider collection that carries step data.
const StepDeltaCollection = "com.google.step_count.delta"

// UpdateFlagTTL is how long an update flag lives before the storage layer
// expires it. Absence of a flag only means "no change observed recently".
const UpdateFlagTTL = time.Hour

// OAuthCredential holds one user's delegated Google Fit access.
// There is at most one record per user; mutation is always a full replace
// performed by the handshake (creation) or the token manager (renewal).
type OAuthCredential struct {
	UserID       string
	AccessToken  string
	RefreshToken string // AES-GCM ciphertext; empty means the grant had no refresh token
	ExpiresAt    time.Time
	ConnectedAt  time.Time
}

// Expired reports whether the access token must not be used at the given
// instant. The boundary is inclusive: a token at its exact expiry time is
// already expired.
func (c *OAuthCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// UpdateFlag marks that the provider reported a data change for a user.
// It is a hint with a fixed TTL, not a durable fact.
type UpdateFlag struct {
	Updated   bool      `json:"updated"`
	Timestamp time.Time `json:"timestamp"`
	DataType  string    `json:"dataType"`
}

// UpdateStatus is the poll response for the update notification channel.
type UpdateStatus struct {
	HasUpdate bool       `json:"hasUpdate"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// HealthRecord is one entry of the externally-owned health record
// collection. This service only reads it, looking for weight samples.
type HealthRecord struct {
	UserEmail  string
	WeightKg   *float64
	RecordedAt time.Time
}

// WalkingMetrics is derived from a step count, computed fresh on every
// sync and never persisted.
type WalkingMetrics struct {
	Steps       int `json:"steps"`
	WalkingTime int `json:"walkingTime"` // minutes
	Calories    int `json:"calories"`
}

// SyncResult is the response of a completed client-initiated sync.
type SyncResult struct {
	WalkingMetrics
	Source   string    `json:"source"`
	SyncedAt time.Time `json:"syncedAt"`
}

// PushNotification is the payload the provider posts to the webhook.
type PushNotification struct {
	CollectionName string `json:"collectionName"`
	UserID         string `json:"userId"`
	DataSourceID   string `json:"dataSourceId,omitempty"`
}
