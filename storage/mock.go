package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"time"

	"healthd/core"
	"healthd/core/providers"
)

// TestEncryptionKey is the AES-256 key the fixtures are sealed with.
const TestEncryptionKey = "12345678901234567890123456789012"

func testEncrypt(plaintext string) string {
	key := []byte(TestEncryptionKey)
	block, _ := aes.NewCipher(key)
	gcm, _ := cipher.NewGCM(block)
	nonce := make([]byte, gcm.NonceSize())
	io.ReadFull(rand.Reader, nonce)
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext)
}

// Fixture user ids
const (
	UserConnected        = "user_connected"         // valid access token
	UserExpired          = "user_expired"           // expired, refreshable
	UserExpiredNoRefresh = "user_expired_no_grant"  // expired, no refresh token
	UserExpiredBadToken  = "user_expired_bad_token" // expired, provider rejects refresh
	UserUnknown          = "user_unknown"           // no credential on file
)

// Fixture emails
const (
	EmailWithWeight    = "user1@example.test"
	EmailWithoutWeight = "user2@example.test"
)

func weightPtr(kg float64) *float64 { return &kg }

var (
	CredConnected = &core.OAuthCredential{
		UserID:       UserConnected,
		AccessToken:  providers.Tokens1.AccessToken,
		RefreshToken: testEncrypt(providers.Tokens1.RefreshToken),
		ExpiresAt:    time.Now().Add(time.Hour),
		ConnectedAt:  time.Now().Add(-24 * time.Hour),
	}

	CredExpired = &core.OAuthCredential{
		UserID:       UserExpired,
		AccessToken:  "mock_access_token_stale",
		RefreshToken: testEncrypt(providers.Tokens1.RefreshToken),
		ExpiresAt:    time.Now().Add(-time.Hour),
		ConnectedAt:  time.Now().Add(-48 * time.Hour),
	}

	CredExpiredNoRefresh = &core.OAuthCredential{
		UserID:      UserExpiredNoRefresh,
		AccessToken: "mock_access_token_stale",
		ExpiresAt:   time.Now().Add(-time.Hour),
		ConnectedAt: time.Now().Add(-48 * time.Hour),
	}

	CredExpiredBadToken = &core.OAuthCredential{
		UserID:       UserExpiredBadToken,
		AccessToken:  "mock_access_token_stale",
		RefreshToken: testEncrypt("mock_refresh_token_revoked"),
		ExpiresAt:    time.Now().Add(-time.Hour),
		ConnectedAt:  time.Now().Add(-48 * time.Hour),
	}

	AllCredentials = []*core.OAuthCredential{
		CredConnected, CredExpired, CredExpiredNoRefresh, CredExpiredBadToken,
	}

	// Newest-first, with a weightless entry on top of the latest weight:
	// the first-match lookup must skip it and land on 65, not on the
	// older 80.
	RecordsWithWeight = []core.HealthRecord{
		{UserEmail: EmailWithWeight, RecordedAt: time.Now().Add(-1 * time.Hour)},
		{UserEmail: EmailWithWeight, WeightKg: weightPtr(65), RecordedAt: time.Now().Add(-2 * time.Hour)},
		{UserEmail: EmailWithWeight, WeightKg: weightPtr(80), RecordedAt: time.Now().Add(-72 * time.Hour)},
	}

	RecordsWithoutWeight = []core.HealthRecord{
		{UserEmail: EmailWithoutWeight, RecordedAt: time.Now().Add(-1 * time.Hour)},
		{UserEmail: EmailWithoutWeight, RecordedAt: time.Now().Add(-3 * time.Hour)},
	}
)

type flagEntry struct {
	flag      *core.UpdateFlag
	expiresAt time.Time
}

// MockStore is an in-memory implementation of every storage interface,
// preloaded with fixtures.
type MockStore struct {
	credentials map[string]*core.OAuthCredential
	flags       map[string]flagEntry
	records     map[string][]core.HealthRecord

	// Track method calls for verification
	GetCredentialCalls    int
	PutCredentialCalls    int
	DeleteCredentialCalls int
	SetFlagCalls          int
	GetFlagCalls          int
	DeleteFlagCalls       int
	HealthRecordCalls     int

	// LastSetTTL records the TTL of the most recent SetFlag call.
	LastSetTTL time.Duration
}

func NewMockStore() *MockStore {
	store := &MockStore{
		credentials: make(map[string]*core.OAuthCredential),
		flags:       make(map[string]flagEntry),
		records: map[string][]core.HealthRecord{
			EmailWithWeight:    RecordsWithWeight,
			EmailWithoutWeight: RecordsWithoutWeight,
		},
	}

	for _, cred := range AllCredentials {
		copied := *cred
		store.credentials[cred.UserID] = &copied
	}

	return store
}

func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) GetCredential(ctx context.Context, userID string) (*core.OAuthCredential, error) {
	m.GetCredentialCalls++

	cred, ok := m.credentials[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *cred
	return &copied, nil
}

func (m *MockStore) PutCredential(ctx context.Context, cred *core.OAuthCredential) error {
	m.PutCredentialCalls++

	copied := *cred
	m.credentials[cred.UserID] = &copied
	return nil
}

func (m *MockStore) DeleteCredential(ctx context.Context, userID string) error {
	m.DeleteCredentialCalls++

	delete(m.credentials, userID)
	return nil
}

func (m *MockStore) SetFlag(ctx context.Context, userID string, flag *core.UpdateFlag, ttl time.Duration) error {
	m.SetFlagCalls++
	m.LastSetTTL = ttl

	m.flags[userID] = flagEntry{flag: flag, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MockStore) GetFlag(ctx context.Context, userID string) (*core.UpdateFlag, error) {
	m.GetFlagCalls++

	entry, ok := m.flags[userID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, core.ErrNotFound
	}
	return entry.flag, nil
}

func (m *MockStore) DeleteFlag(ctx context.Context, userID string) error {
	m.DeleteFlagCalls++

	delete(m.flags, userID)
	return nil
}

func (m *MockStore) GetHealthRecords(ctx context.Context, userEmail string) ([]core.HealthRecord, error) {
	m.HealthRecordCalls++

	return m.records[userEmail], nil
}
