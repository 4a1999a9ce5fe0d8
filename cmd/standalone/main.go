package main

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"healthd/core"
	"healthd/core/providers"
	"healthd/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Core   *core.Config               `yaml:",inline"`
	Google *providers.GoogleFitConfig `yaml:"google"`

	DB    DBConfig `yaml:"db"`
	Flags string   `yaml:"flags"` // "memory" (default) or "db"
	Port  string   `yaml:"port"`
}

type DBConfig struct {
	Type       string                  `yaml:"type"`
	SQLitePath string                  `yaml:"sqlite_path"`
	Postgres   *storage.PostgresConfig `yaml:"postgres"`
}

type Store interface {
	core.CredentialRepository
	core.FlagStore
	core.HealthRecordSource
	Close() error
}

func main() {
	configPath := getEnv("CONFIG_PATH", "config.yaml")
	appConfig := loadConfigFromYAML(configPath)

	store := initStore(appConfig.DB)
	defer store.Close()

	flags := initFlagStore(appConfig.Flags, store)

	if appConfig.Google == nil {
		log.Fatal("google provider configuration is required")
	}
	provider, err := providers.NewGoogleFitProvider(appConfig.Google)
	if err != nil {
		log.Fatalf("Failed to initialize Google Fit provider: %v", err)
	}

	cipher, err := core.NewTokenCipher(appConfig.Core.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize token cipher: %v", err)
	}

	syncService := core.NewSyncService(store, flags, store, provider, cipher, appConfig.Core)
	server := core.NewServer(syncService, appConfig.Core)

	r := chi.NewRouter()
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/oauth/connect", server.HandleConnect)
	r.Get("/oauth/callback", server.HandleOAuthCallback)
	r.Post("/oauth/disconnect", server.HandleDisconnect)
	r.Post("/sync", server.HandleSync)
	r.Get("/sync", server.HandleSyncStatus)
	r.Post("/webhook", server.HandleWebhook)
	r.Get("/webhook", server.HandleWebhookVerify)
	r.Get("/health", server.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	log.Printf("Starting healthd server on port %s", appConfig.Port)

	if err := http.ListenAndServe(":"+appConfig.Port, r); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func loadConfigFromYAML(path string) *AppConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read config file %s: %v", path, err)
	}

	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		log.Fatalf("Failed to parse config file: %v", err)
	}

	if config.Core == nil {
		log.Fatal("core configuration is missing")
	}
	if config.Core.StateTokenDuration == 0 {
		config.Core.StateTokenDuration = 600
	}
	if config.Port == "" {
		config.Port = "8080"
	}

	return &config
}

func initStore(dbConfig DBConfig) Store {
	switch strings.ToLower(dbConfig.Type) {
	case "sqlite":
		store, err := storage.NewSQLiteStore(dbConfig.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite store: %v", err)
		}
		log.Printf("Using SQLite database: %s", dbConfig.SQLitePath)
		return store

	case "postgres":
		if dbConfig.Postgres == nil {
			log.Fatal("db.postgres configuration is missing")
		}
		store, err := storage.NewPostgresStore(dbConfig.Postgres)
		if err != nil {
			log.Fatalf("Failed to initialize Postgres store: %v", err)
		}
		log.Printf("Using Postgres database: %s/%s", dbConfig.Postgres.Addr, dbConfig.Postgres.Database)
		return store

	case "mock":
		log.Println("Using mock store (in-memory)")
		return storage.NewMockStore()

	default:
		log.Fatalf("Unsupported DB type: %s (supported: sqlite, postgres, mock)", dbConfig.Type)
		return nil
	}
}

// initFlagStore picks where update flags live. "memory" keeps them in a
// process-local TTL cache; "db" shares them through the main store, which
// multi-instance deployments need.
func initFlagStore(kind string, store Store) core.FlagStore {
	switch strings.ToLower(kind) {
	case "", "memory":
		log.Println("Using in-memory update flag cache")
		return storage.NewFlagCache()
	case "db":
		return store
	default:
		log.Fatalf("Unsupported flag store: %s (supported: memory, db)", kind)
		return nil
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
