package core

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// CredentialRepository persists one OAuthCredential per user.
//
// PutCredential is a full-record replace. Concurrent refreshes for the same
// user are last-writer-wins; the store is not required to provide a
// transactional read-modify-write.
type CredentialRepository interface {
	GetCredential(ctx context.Context, userID string) (*OAuthCredential, error)

	PutCredential(ctx context.Context, cred *OAuthCredential) error

	DeleteCredential(ctx context.Context, userID string) error
}

// FlagStore keeps at most one UpdateFlag per user. Expiry is the store's
// responsibility: a flag set with a TTL must stop being returned by GetFlag
// once the TTL has passed, without any in-process timer on the caller's
// side.
type FlagStore interface {
	SetFlag(ctx context.Context, userID string, flag *UpdateFlag, ttl time.Duration) error

	// GetFlag returns ErrNotFound for both "never set" and "expired".
	GetFlag(ctx context.Context, userID string) (*UpdateFlag, error)

	DeleteFlag(ctx context.Context, userID string) error
}

// HealthRecordSource reads the externally-owned health record collection.
// Records come back in the collection's own order (typically newest-first);
// this service trusts that order and never sorts.
type HealthRecordSource interface {
	GetHealthRecords(ctx context.Context, userEmail string) ([]HealthRecord, error)
}
