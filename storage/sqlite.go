package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"healthd/core"

	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite/schema.sql
var sqliteSchema string

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(sqliteSchema)
	return err
}

func (s *SQLiteStore) GetCredential(ctx context.Context, userID string) (*core.OAuthCredential, error) {
	query := `
		SELECT user_id, access_token, refresh_token, expires_at, connected_at
		FROM fit_credentials
		WHERE user_id = ?
	`

	var cred core.OAuthCredential
	var expiresAt, connectedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&cred.UserID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&expiresAt,
		&connectedAt,
	)

	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cred.ExpiresAt = time.UnixMilli(expiresAt)
	cred.ConnectedAt = time.UnixMilli(connectedAt)

	return &cred, nil
}

// PutCredential replaces the whole record. Concurrent writers are
// last-writer-wins; there is no conditional update here.
func (s *SQLiteStore) PutCredential(ctx context.Context, cred *core.OAuthCredential) error {
	query := `
		INSERT INTO fit_credentials (user_id, access_token, refresh_token, expires_at, connected_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			connected_at = excluded.connected_at
	`

	_, err := s.db.ExecContext(ctx, query,
		cred.UserID,
		cred.AccessToken,
		cred.RefreshToken,
		cred.ExpiresAt.UnixMilli(),
		cred.ConnectedAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) DeleteCredential(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM fit_credentials WHERE user_id = ?`, userID)
	return err
}

func (s *SQLiteStore) SetFlag(ctx context.Context, userID string, flag *core.UpdateFlag, ttl time.Duration) error {
	query := `
		INSERT INTO update_flags (user_id, updated, observed_at, data_type, expires_at)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			updated = 1,
			observed_at = excluded.observed_at,
			data_type = excluded.data_type,
			expires_at = excluded.expires_at
	`

	_, err := s.db.ExecContext(ctx, query,
		userID,
		flag.Timestamp.UnixMilli(),
		flag.DataType,
		time.Now().Add(ttl).UnixMilli(),
	)
	return err
}

// GetFlag treats an expired row as absent and purges it lazily; there is no
// cleanup scheduler.
func (s *SQLiteStore) GetFlag(ctx context.Context, userID string) (*core.UpdateFlag, error) {
	query := `
		SELECT observed_at, data_type, expires_at
		FROM update_flags
		WHERE user_id = ?
	`

	var observedAt, expiresAt int64
	var dataType string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(&observedAt, &dataType, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if time.Now().UnixMilli() >= expiresAt {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM update_flags WHERE user_id = ? AND expires_at = ?`, userID, expiresAt)
		return nil, core.ErrNotFound
	}

	return &core.UpdateFlag{
		Updated:   true,
		Timestamp: time.UnixMilli(observedAt),
		DataType:  dataType,
	}, nil
}

func (s *SQLiteStore) DeleteFlag(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM update_flags WHERE user_id = ?`, userID)
	return err
}

// GetHealthRecords returns the user's records newest-first. Consumers pick
// the first weight-bearing entry in this order.
func (s *SQLiteStore) GetHealthRecords(ctx context.Context, userEmail string) ([]core.HealthRecord, error) {
	query := `
		SELECT user_email, weight_kg, recorded_at
		FROM health_records
		WHERE user_email = ?
		ORDER BY recorded_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userEmail)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []core.HealthRecord
	for rows.Next() {
		var record core.HealthRecord
		var weight sql.NullFloat64
		var recordedAt int64

		if err := rows.Scan(&record.UserEmail, &weight, &recordedAt); err != nil {
			return nil, err
		}
		if weight.Valid {
			w := weight.Float64
			record.WeightKg = &w
		}
		record.RecordedAt = time.UnixMilli(recordedAt)
		records = append(records, record)
	}

	return records, rows.Err()
}
