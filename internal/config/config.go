package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Session  SessionConfig
	MFA      MFAConfig
	Lockout  LockoutConfig
	Reset    PasswordResetConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	AllowedOrigins  []string
	TrustedProxies  []string
	TrustedNetworks []string // CIDRs whose clients may skip MFA per policy
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	MFAChallengeExpiry time.Duration
}

type SessionConfig struct {
	AbsoluteTimeout   time.Duration // 1h-24h, default 8h
	IdleTimeout       time.Duration // 15m-120m, default 30m
	RememberMeTimeout time.Duration // Absolute timeout when remember-me is set
	MaxConcurrent     int           // Per-user session cap, default 3
	ReaperInterval    time.Duration // Periodic expired-session sweep
}

type MFAConfig struct {
	Issuer          string
	SkewSeconds     int // Total clock-skew tolerance around the current step
	BackupCodeCount int
	EncryptionKey   string // 32 bytes for AES-256-GCM at-rest secret encryption
}

type LockoutConfig struct {
	MaxAttempts int           // Consecutive failures before lock, default 5
	Window      time.Duration // Rolling window for counting failures
	Duration    time.Duration // Lock duration once tripped
}

type PasswordResetConfig struct {
	TokenTTL time.Duration // Default 1 hour
	BaseURL  string        // Link base for reset emails
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatekeeper"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Env:             env,
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS"),
			TrustedProxies:  getEnvAsList("TRUSTED_PROXIES"),
			TrustedNetworks: getEnvAsList("TRUSTED_NETWORKS"),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			MFAChallengeExpiry: getEnvAsDuration("MFA_CHALLENGE_EXPIRY", 5*time.Minute),
		},
		Session: SessionConfig{
			AbsoluteTimeout:   time.Duration(getEnvAsInt("SESSION_ABSOLUTE_TIMEOUT_HOURS", 8)) * time.Hour,
			IdleTimeout:       time.Duration(getEnvAsInt("SESSION_IDLE_TIMEOUT_MINUTES", 30)) * time.Minute,
			RememberMeTimeout: time.Duration(getEnvAsInt("SESSION_REMEMBER_ME_DAYS", 30)) * 24 * time.Hour,
			MaxConcurrent:     getEnvAsInt("SESSION_MAX_CONCURRENT", 3),
			ReaperInterval:    getEnvAsDuration("SESSION_REAPER_INTERVAL", 60*time.Second),
		},
		MFA: MFAConfig{
			Issuer:          getEnv("MFA_ISSUER", "Gatekeeper"),
			SkewSeconds:     getEnvAsInt("MFA_SKEW_SECONDS", 90),
			BackupCodeCount: getEnvAsInt("MFA_BACKUP_CODE_COUNT", 8),
			EncryptionKey:   getEnv("MFA_ENCRYPTION_KEY", ""),
		},
		Lockout: LockoutConfig{
			MaxAttempts: getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
			Window:      time.Duration(getEnvAsInt("LOCKOUT_WINDOW_MINUTES", 15)) * time.Minute,
			Duration:    time.Duration(getEnvAsInt("LOCKOUT_DURATION_MINUTES", 15)) * time.Minute,
		},
		Reset: PasswordResetConfig{
			TokenTTL: time.Duration(getEnvAsInt("PASSWORD_RESET_TOKEN_TTL_MINUTES", 60)) * time.Minute,
			BaseURL:  getEnv("PASSWORD_RESET_URL_BASE", "http://localhost:3000/reset-password"),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@localhost"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Session.validate(); err != nil {
		return nil, err
	}

	if len(cfg.MFA.EncryptionKey) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(cfg.MFA.EncryptionKey))
	}

	return cfg, nil
}

// validate enforces the recognized ranges for session timeout policy.
func (c *SessionConfig) validate() error {
	if c.AbsoluteTimeout < 1*time.Hour || c.AbsoluteTimeout > 24*time.Hour {
		return fmt.Errorf("SESSION_ABSOLUTE_TIMEOUT_HOURS must be between 1 and 24 (got %s)", c.AbsoluteTimeout)
	}
	if c.IdleTimeout < 15*time.Minute || c.IdleTimeout > 120*time.Minute {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT_MINUTES must be between 15 and 120 (got %s)", c.IdleTimeout)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("SESSION_MAX_CONCURRENT must be at least 1 (got %d)", c.MaxConcurrent)
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return []string{}
	}
	items := strings.Split(value, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	return items
}
