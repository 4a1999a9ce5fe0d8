package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPayload = errors.New("invalid webhook payload")

// SourceGoogleFit tags sync results with where the steps came from.
const SourceGoogleFit = "google_fit"

// SyncService glues the handshake, token manager, provider and stores into
// the client-facing operations.
type SyncService struct {
	creds    CredentialRepository
	flags    FlagStore
	records  HealthRecordSource
	provider FitnessProvider
	tokens   *TokenManager
	cipher   *TokenCipher
	config   *Config
}

func NewSyncService(
	creds CredentialRepository,
	flags FlagStore,
	records HealthRecordSource,
	provider FitnessProvider,
	cipher *TokenCipher,
	config *Config,
) *SyncService {
	return &SyncService{
		creds:    creds,
		flags:    flags,
		records:  records,
		provider: provider,
		tokens:   NewTokenManager(creds, provider, cipher),
		cipher:   cipher,
		config:   config,
	}
}

// BeginAuthorization issues a signed state token for the user and returns
// the provider consent URL to redirect them to.
func (s *SyncService) BeginAuthorization(userID string) (string, error) {
	state, err := GenerateStateToken(userID, s.config)
	if err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	return s.provider.AuthCodeURL(state), nil
}

// CompleteAuthorization exchanges the callback code and writes a fresh
// credential for the user the state was issued to, unconditionally
// overwriting any prior record. Failures are not retried; the user restarts
// the handshake.
func (s *SyncService) CompleteAuthorization(ctx context.Context, code, state string) error {
	userID, err := ValidateStateToken(state, s.config)
	if err != nil {
		return err
	}

	tokens, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange code: %w", err)
	}

	cred := &OAuthCredential{
		UserID:      userID,
		AccessToken: tokens.AccessToken,
		ExpiresAt:   tokens.ExpiresAt,
		ConnectedAt: time.Now(),
	}

	if tokens.RefreshToken != "" {
		sealed, err := s.cipher.Seal(tokens.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		cred.RefreshToken = sealed
	}

	if err := s.creds.PutCredential(ctx, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// Disconnect removes the user's credential. Unlinking does not touch any
// pending update flag; it expires on its own.
func (s *SyncService) Disconnect(ctx context.Context, userID string) error {
	if err := s.creds.DeleteCredential(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// Sync runs the end-to-end pull: valid token, today's steps, weight sample,
// derived metrics. Any failure before the metrics are computed aborts with
// the originating error; partial results are never returned. On success the
// user's update flag is consumed.
func (s *SyncService) Sync(ctx context.Context, userID, userEmail string) (*SyncResult, error) {
	SyncCounter.Inc()

	accessToken, err := s.tokens.EnsureValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	steps, err := s.provider.FetchDailySteps(ctx, accessToken, time.Now())
	if err != nil {
		return nil, err
	}

	weight := DefaultWeightKg
	if userEmail != "" {
		records, err := s.records.GetHealthRecords(ctx, userEmail)
		if err != nil {
			return nil, fmt.Errorf("failed to read health records: %w", err)
		}
		weight = WeightFromRecords(records)
	}

	metrics := CalculateWalkingMetrics(steps, weight)

	// Acknowledge the consumed flag. If the delete fails the TTL removes
	// it anyway, so the sync result still stands.
	_ = s.flags.DeleteFlag(ctx, userID)

	return &SyncResult{
		WalkingMetrics: metrics,
		Source:         SourceGoogleFit,
		SyncedAt:       time.Now(),
	}, nil
}

// CheckUpdate is the poll side of the notification channel: a pure read of
// the flag. It never deletes; expiry and the sync ack are the only removal
// paths.
func (s *SyncService) CheckUpdate(ctx context.Context, userID string) (*UpdateStatus, error) {
	flag, err := s.flags.GetFlag(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &UpdateStatus{HasUpdate: false}, nil
		}
		return nil, fmt.Errorf("failed to read update flag: %w", err)
	}

	ts := flag.Timestamp
	return &UpdateStatus{HasUpdate: true, Timestamp: &ts}, nil
}

// IngestNotification validates a provider push and, for step-delta
// notifications, flags the user as having fresh data. Unknown collection
// types are accepted and ignored: the provider may send types this service
// does not act on yet. Returns whether a flag was written.
func (s *SyncService) IngestNotification(ctx context.Context, n *PushNotification) (bool, error) {
	WebhookCounter.Inc()

	if n == nil || n.CollectionName == "" || n.UserID == "" {
		return false, ErrInvalidPayload
	}

	if n.CollectionName != StepDeltaCollection {
		return false, nil
	}

	flag := &UpdateFlag{
		Updated:   true,
		Timestamp: time.Now(),
		DataType:  "steps",
	}

	if err := s.flags.SetFlag(ctx, n.UserID, flag, UpdateFlagTTL); err != nil {
		return false, fmt.Errorf("failed to write update flag: %w", err)
	}
	return true, nil
}
