package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration. It is built once at
// startup from environment variables and passed into constructors;
// nothing below this layer reads the environment directly.
type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	SentryDSN   string

	// SigningSecret is the process-wide HMAC key for bearer tokens.
	// Rotating it invalidates every outstanding token, so rotation is
	// an operator action, never something done mid-process.
	SigningSecret string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// PBKDF2Iterations is a floor, not a ceiling. It should only ever
	// trend upward as hardware gets faster.
	PBKDF2Iterations int

	MaxLoginAttempts int
	AttemptWindow    time.Duration
	LockoutDuration  time.Duration
	AttemptRetention time.Duration
}

// Load reads configuration from environment variables, applying
// development-friendly defaults where a value is absent.
func Load() Config {
	return Config{
		Env:              getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SentryDSN:        os.Getenv("SENTRY_DSN"),
		SigningSecret:    os.Getenv("AUTH_SIGNING_SECRET"),
		AccessTokenTTL:   getEnvAsDuration("ACCESS_TOKEN_TTL", 30*time.Minute),
		RefreshTokenTTL:  getEnvAsDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		PBKDF2Iterations: getEnvAsInt("PBKDF2_ITERATIONS", 10000),
		MaxLoginAttempts: getEnvAsInt("MAX_LOGIN_ATTEMPTS", 5),
		AttemptWindow:    getEnvAsDuration("ATTEMPT_WINDOW", 15*time.Minute),
		LockoutDuration:  getEnvAsDuration("LOCKOUT_DURATION", time.Hour),
		AttemptRetention: getEnvAsDuration("ATTEMPT_RETENTION", 24*time.Hour),
	}
}

func getEnv(name, defaultVal string) string {
	if val := os.Getenv(name); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}
