// Package config loads process configuration from the environment using a
// small set of typed getEnv helpers, the same idiom pkg/config/jobx.go and
// pkg/config/notifx.go already use for their own sections.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the ingestion service.
type Config struct {
	Port string

	Database   DatabaseConfig
	Redis      RedisConfig
	Vault      VaultConfig
	Google     GoogleConfig
	Microsoft  MicrosoftConfig
	Classifier ClassifierConfig
	Ingest     IngestConfig
	Jobx       JobxConfig
	Notifx     NotifxConfig
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the Redis connection backing the job queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// VaultConfig configures the secret vault's per-purpose keyring.
// Keys are standard base64-encoded 32-byte AES-256 keys supplied out of band
// (environment today, a real secrets manager in production).
type VaultConfig struct {
	// MasterKey, when set, derives every per-purpose key; the individual
	// key entries below are only consulted when it is empty.
	MasterKey       string
	RefreshTokenKey string
}

// GoogleConfig configures the Google OAuth2 + Pub/Sub integration.
// Signup and link-email flows use distinct registered redirect URIs.
type GoogleConfig struct {
	ClientID          string
	ClientSecret      string
	RedirectURL       string
	SignupRedirectURL string
	LinkRedirectURL   string
	PubSubTopic       string
	Scopes            []string
}

// MicrosoftConfig configures the Microsoft identity platform + Graph
// change-notification integration.
type MicrosoftConfig struct {
	ClientID          string
	ClientSecret      string
	RedirectURL       string
	SignupRedirectURL string
	LinkRedirectURL   string
	Authority         string
	ClientState       string
	Scopes            []string
}

// ClassifierConfig configures the LLM-backed classifier.
type ClassifierConfig struct {
	Provider      string
	Model         string
	APIKey        string
	AzureEndpoint string
	ReadTimeout   time.Duration
}

// IngestConfig configures the orchestrator's retry/backfill/alerting policy.
type IngestConfig struct {
	MaxRetries       int
	BackfillPoolSize int
	BackfillCount    int
	ProviderTimeout  time.Duration
	AdminAlertEmails []string
	SweepInterval    time.Duration
	// ArchiveDir enables raw-message archival when non-empty.
	ArchiveDir string
	StateNonce string
}

// Load reads configuration from the environment. Missing required vault
// keys are reported by the caller as a fatal startup error, not here —
// Load itself never exits the process.
func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "ingestcore"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},

		Vault: VaultConfig{
			MasterKey:       getEnv("VAULT_MASTER_KEY", ""),
			RefreshTokenKey: getEnv("VAULT_REFRESH_TOKEN_KEY", ""),
		},

		Google: GoogleConfig{
			ClientID:          getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret:      getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:       getEnv("GOOGLE_REDIRECT_URL", ""),
			SignupRedirectURL: getEnv("GOOGLE_SIGNUP_REDIRECT_URL", getEnv("GOOGLE_REDIRECT_URL", "")),
			LinkRedirectURL:   getEnv("GOOGLE_LINK_REDIRECT_URL", getEnv("GOOGLE_REDIRECT_URL", "")),
			PubSubTopic:       getEnv("GOOGLE_PUBSUB_TOPIC", ""),
			Scopes: getEnvStringSlice("GOOGLE_SCOPES", []string{
				"https://www.googleapis.com/auth/gmail.readonly",
				"https://www.googleapis.com/auth/userinfo.email",
			}),
		},

		Microsoft: MicrosoftConfig{
			ClientID:          getEnv("MICROSOFT_CLIENT_ID", ""),
			ClientSecret:      getEnv("MICROSOFT_CLIENT_SECRET", ""),
			RedirectURL:       getEnv("MICROSOFT_REDIRECT_URL", ""),
			SignupRedirectURL: getEnv("MICROSOFT_SIGNUP_REDIRECT_URL", getEnv("MICROSOFT_REDIRECT_URL", "")),
			LinkRedirectURL:   getEnv("MICROSOFT_LINK_REDIRECT_URL", getEnv("MICROSOFT_REDIRECT_URL", "")),
			Authority:         getEnv("MICROSOFT_AUTHORITY", "https://login.microsoftonline.com/common"),
			ClientState:       getEnv("MICROSOFT_CLIENT_STATE", ""),
			Scopes: getEnvStringSlice("MICROSOFT_SCOPES", []string{
				"offline_access", "Mail.Read", "User.Read",
			}),
		},

		Classifier: ClassifierConfig{
			Provider:      getEnv("CLASSIFIER_PROVIDER", "openai"),
			Model:         getEnv("CLASSIFIER_MODEL", "gpt-4o-mini"),
			APIKey:        getEnv("CLASSIFIER_API_KEY", getEnv("OPENAI_API_KEY", "")),
			AzureEndpoint: getEnv("CLASSIFIER_AZURE_ENDPOINT", ""),
			ReadTimeout:   getEnvDuration("CLASSIFIER_READ_TIMEOUT", 120*time.Second),
		},

		Ingest: IngestConfig{
			MaxRetries:       getEnvInt("MAX_RETRIES", 3),
			BackfillPoolSize: getEnvInt("BACKFILL_POOL_SIZE", 10),
			BackfillCount:    getEnvInt("BACKFILL_COUNT", 50),
			ProviderTimeout:  getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second),
			AdminAlertEmails: getEnvStringSlice("ADMIN_ALERT_EMAILS", nil),
			SweepInterval:    getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
			ArchiveDir:       getEnv("ARCHIVE_DIR", ""),
			StateNonce:       getEnv("OAUTH_STATE_NONCE", "inboxcore-oauth-state"),
		},

		Jobx:   loadJobxConfig(),
		Notifx: loadNotifxConfig(),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvStringSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
