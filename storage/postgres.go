package storage

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"healthd/core"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

type PostgresConfig struct {
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Debug    bool   `yaml:"debug,omitempty"`
}

type fitCredential struct {
	bun.BaseModel `bun:"table:fit_credentials"`

	UserID       string    `bun:"user_id,pk"`
	AccessToken  string    `bun:"access_token"`
	RefreshToken string    `bun:"refresh_token"`
	ExpiresAt    time.Time `bun:"expires_at"`
	ConnectedAt  time.Time `bun:"connected_at"`
}

type updateFlag struct {
	bun.BaseModel `bun:"table:update_flags"`

	UserID     string    `bun:"user_id,pk"`
	Updated    bool      `bun:"updated"`
	ObservedAt time.Time `bun:"observed_at"`
	DataType   string    `bun:"data_type"`
	ExpiresAt  time.Time `bun:"expires_at"`
}

type healthRecord struct {
	bun.BaseModel `bun:"table:health_records"`

	ID         int64     `bun:"id,pk,autoincrement"`
	UserEmail  string    `bun:"user_email"`
	WeightKg   *float64  `bun:"weight_kg"`
	RecordedAt time.Time `bun:"recorded_at"`
}

type PostgresStore struct {
	db *bun.DB
}

func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db := bun.NewDB(sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithAddr(config.Addr),
		pgdriver.WithUser(config.User),
		pgdriver.WithPassword(config.Password),
		pgdriver.WithDatabase(config.Database),
		pgdriver.WithInsecure(true),
	)), pgdialect.New())

	if config.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	maxOpenConns := 4 * runtime.GOMAXPROCS(0)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	store := &PostgresStore{db: db}

	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) createSchema() error {
	models := []any{
		(*fitCredential)(nil),
		(*updateFlag)(nil),
		(*healthRecord)(nil),
	}

	for _, model := range models {
		if _, err := s.db.NewCreateTable().IfNotExists().Model(model).Exec(context.Background()); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetCredential(ctx context.Context, userID string) (*core.OAuthCredential, error) {
	row := new(fitCredential)

	err := s.db.NewSelect().Model(row).Where("user_id = ?", userID).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &core.OAuthCredential{
		UserID:       row.UserID,
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiresAt:    row.ExpiresAt,
		ConnectedAt:  row.ConnectedAt,
	}, nil
}

func (s *PostgresStore) PutCredential(ctx context.Context, cred *core.OAuthCredential) error {
	row := &fitCredential{
		UserID:       cred.UserID,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    cred.ExpiresAt,
		ConnectedAt:  cred.ConnectedAt,
	}

	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (user_id) DO UPDATE").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("expires_at = EXCLUDED.expires_at").
		Set("connected_at = EXCLUDED.connected_at").
		Exec(ctx)
	return err
}

func (s *PostgresStore) DeleteCredential(ctx context.Context, userID string) error {
	_, err := s.db.NewDelete().
		Model((*fitCredential)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func (s *PostgresStore) SetFlag(ctx context.Context, userID string, flag *core.UpdateFlag, ttl time.Duration) error {
	row := &updateFlag{
		UserID:     userID,
		Updated:    true,
		ObservedAt: flag.Timestamp,
		DataType:   flag.DataType,
		ExpiresAt:  time.Now().Add(ttl),
	}

	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (user_id) DO UPDATE").
		Set("updated = EXCLUDED.updated").
		Set("observed_at = EXCLUDED.observed_at").
		Set("data_type = EXCLUDED.data_type").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	return err
}

func (s *PostgresStore) GetFlag(ctx context.Context, userID string) (*core.UpdateFlag, error) {
	row := new(updateFlag)

	err := s.db.NewSelect().
		Model(row).
		Where("user_id = ?", userID).
		Where("expires_at > ?", time.Now()).
		Scan(ctx)
	if err == sql.ErrNoRows {
		// Expired rows count as absent; purge whatever is there.
		_, _ = s.db.NewDelete().
			Model((*updateFlag)(nil)).
			Where("user_id = ? AND expires_at <= ?", userID, time.Now()).
			Exec(ctx)
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &core.UpdateFlag{
		Updated:   true,
		Timestamp: row.ObservedAt,
		DataType:  row.DataType,
	}, nil
}

func (s *PostgresStore) DeleteFlag(ctx context.Context, userID string) error {
	_, err := s.db.NewDelete().
		Model((*updateFlag)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func (s *PostgresStore) GetHealthRecords(ctx context.Context, userEmail string) ([]core.HealthRecord, error) {
	var rows []healthRecord

	err := s.db.NewSelect().
		Model(&rows).
		Where("user_email = ?", userEmail).
		Order("recorded_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]core.HealthRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, core.HealthRecord{
			UserEmail:  row.UserEmail,
			WeightKg:   row.WeightKg,
			RecordedAt: row.RecordedAt,
		})
	}
	return records, nil
}
