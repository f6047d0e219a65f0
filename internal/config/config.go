package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Session policies. "multi" keeps every device's refresh chain alive,
// "single" revokes all prior chains of an identity on each new login.
const (
	SessionPolicyMulti  = "multi"
	SessionPolicySingle = "single"
)

// Lockout backends.
const (
	LockoutBackendMemory = "memory"
	LockoutBackendRedis  = "redis"
)

const minJWTSecretLength = 32

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port           int    `envconfig:"PORT" default:"8080"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	DatabaseURL    string `envconfig:"DATABASE_URL" default:""`
	Storage        string `envconfig:"STORAGE" default:"postgres"`
	MigrateOnStart bool   `envconfig:"MIGRATE_ON_START" default:"true"`
	Version        string `envconfig:"VERSION" default:"dev"`
	BcryptCost     int    `envconfig:"BCRYPT_COST" default:"12"`

	JWTSecret            string        `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer            string        `envconfig:"JWT_ISSUER" default:"tutorlink"`
	JWTAudience          string        `envconfig:"JWT_AUDIENCE" default:"tutorlink-clients"`
	AccessTokenTTL       time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"15m"`
	RefreshTokenTTL      time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"168h"`
	EmailConfirmationTTL time.Duration `envconfig:"EMAIL_CONFIRMATION_TTL" default:"24h"`
	ConfirmationURL      string        `envconfig:"CONFIRMATION_URL" default:"http://localhost:8080/api/account/confirm-email"`
	SessionPolicy        string        `envconfig:"SESSION_POLICY" default:"multi"`

	LockoutMaxAttempts int           `envconfig:"LOCKOUT_MAX_ATTEMPTS" default:"5"`
	LockoutWindow      time.Duration `envconfig:"LOCKOUT_WINDOW" default:"15m"`
	LockoutDuration    time.Duration `envconfig:"LOCKOUT_DURATION" default:"15m"`
	LockoutBackend     string        `envconfig:"LOCKOUT_BACKEND" default:"memory"`
	RedisAddr          string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword      string        `envconfig:"REDIS_PASSWORD" default:""`

	GoogleClientID   string        `envconfig:"GOOGLE_CLIENT_ID" default:""`
	FederatedTimeout time.Duration `envconfig:"FEDERATED_TIMEOUT" default:"5s"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"30"`
	RateLimitBurst     int `envconfig:"RATE_LIMIT_BURST" default:"10"`

	BootstrapAdminEmail    string `envconfig:"BOOTSTRAP_ADMIN_EMAIL" default:""`
	BootstrapAdminPassword string `envconfig:"BOOTSTRAP_ADMIN_PASSWORD" default:""`
}

// Load reads configuration from environment variables into a Config struct.
// A .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if len(c.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength))
	}

	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORAGE=postgres"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("STORAGE must be %q or %q", StoragePostgres, StorageMemory))
	}

	if c.SessionPolicy != SessionPolicyMulti && c.SessionPolicy != SessionPolicySingle {
		errs = append(errs, fmt.Errorf("SESSION_POLICY must be %q or %q", SessionPolicyMulti, SessionPolicySingle))
	}

	if c.LockoutBackend != LockoutBackendMemory && c.LockoutBackend != LockoutBackendRedis {
		errs = append(errs, fmt.Errorf("LOCKOUT_BACKEND must be %q or %q", LockoutBackendMemory, LockoutBackendRedis))
	}
	if c.LockoutMaxAttempts < 1 {
		errs = append(errs, errors.New("LOCKOUT_MAX_ATTEMPTS must be positive"))
	}

	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}

	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		errs = append(errs, errors.New("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together"))
	}

	return errors.Join(errs...)
}
