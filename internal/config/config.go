package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all process configuration for the cache/tracker service.
type Config struct {
	// Server
	Port        string
	Environment string

	Database DatabaseConfig
	Tracker  TrackerConfig
	Admin    AdminConfig
	JWT      JWTConfig
}

// DatabaseConfig describes the Postgres connection used by the loader and
// the dedicated LISTEN connection.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

// ConnString builds a libpq-style connection string for pgx.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// TrackerConfig holds the scheduling and tuning knobs spec.md §6 names.
type TrackerConfig struct {
	ForwardWindow          time.Duration // loader lookahead for sessions/rules
	CleanupInterval        time.Duration // C7 cleaner period
	StartupCleanupDelay    time.Duration // C7 first-run delay
	RotationInterval       time.Duration // C8 minute-rotation tick, 1m unless ROTATION_INTERVAL overrides it
	SessionTrackerCleanup  time.Duration // C9 session-tracker persistence sweep
	RuleTrackerCleanup     time.Duration // C9 rule-tracker staleness sweep
	RuleTrackerStaleAfter  time.Duration // idle threshold before a rule tracker is stale
	ActivityThreshold      float64       // strict threshold for Tracker.IsActive
	PersistWriteTimeout    time.Duration // per-attempt deadline for aggregate writes
	// PersistRetryQueue is read from PERSIST_RETRY_QUEUE and passed to the
	// tracker registry, which does not act on it: a session tracker is
	// evicted after its aggregate write whether the write failed or not,
	// and there is no retry queue, whatever this flag's value.
	PersistRetryQueue bool
}

// AdminConfig gates the admin-facing HTTP surface (/admin/cleanup,
// /admin/login, the livefeed websocket). When PasswordHash is empty, admin
// auth is disabled entirely, matching the spec's explicit non-goal of "any
// authorization model" for the core itself — this is strictly an outer
// HTTP-layer convenience, not part of the cache engine.
type AdminConfig struct {
	PasswordHash string // bcrypt hash; ADMIN_PASSWORD_HASH env var
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

// Load reads configuration from the environment, applying the defaults
// spec.md §6 lists. A .env file is loaded first if present; its absence is
// not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "school_cache"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},

		Tracker: TrackerConfig{
			ForwardWindow:         getEnvAsDuration("FORWARD_WINDOW", 7*24*time.Hour),
			CleanupInterval:       getEnvAsDuration("CLEANUP_INTERVAL", 6*time.Hour),
			StartupCleanupDelay:   getEnvAsDuration("STARTUP_CLEANUP_DELAY", time.Hour),
			RotationInterval:      getEnvAsDuration("ROTATION_INTERVAL", time.Minute),
			SessionTrackerCleanup: getEnvAsDuration("SESSION_TRACKER_CLEANUP", 5*time.Minute),
			RuleTrackerCleanup:    getEnvAsDuration("RULE_TRACKER_CLEANUP", 10*time.Minute),
			RuleTrackerStaleAfter: getEnvAsDuration("RULE_TRACKER_STALE_AFTER", 30*time.Minute),
			ActivityThreshold:     getEnvAsFloat("ACTIVITY_THRESHOLD", 0.8),
			PersistWriteTimeout:   getEnvAsDuration("PERSIST_WRITE_TIMEOUT", 5*time.Second),
			PersistRetryQueue:     getEnvAsBool("PERSIST_RETRY_QUEUE", false),
		},

		Admin: AdminConfig{
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},

		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Expiry: getEnvAsDuration("JWT_EXPIRY", 24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields for production deployments.
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if c.Admin.PasswordHash == "" {
			log.Println("WARNING: ADMIN_PASSWORD_HASH not set - admin endpoints are unauthenticated")
		}
		if c.Database.Password == "" {
			log.Println("WARNING: DB_PASSWORD not set")
		}
	}
	if c.Tracker.ActivityThreshold <= 0 || c.Tracker.ActivityThreshold >= 1 {
		return fmt.Errorf("ACTIVITY_THRESHOLD must be in (0, 1), got %v", c.Tracker.ActivityThreshold)
	}
	return nil
}

func getEnv(key string, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultVal
	}
	return value
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultVal
	}
	return value
}
