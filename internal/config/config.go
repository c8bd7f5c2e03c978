package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the immutable application snapshot read once at startup.
type Config struct {
	Env         string
	ListenAddr  string
	DatabaseURL string
	RedisURL    string
	SentryDSN   string

	JWTPrivateKeyPEM string
	JWTKeyID         string
	Issuer           string
	Audience         string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SessionTTL time.Duration
	ClockSkew  time.Duration

	LockoutThreshold int
	LockoutDuration  time.Duration
	MFAThreshold     float64
	MaxSessions      int

	AuditBufferSize int
}

// Load reads configuration from environment variables with production
// defaults.
func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "development"),
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		SentryDSN:   os.Getenv("SENTRY_DSN"),

		JWTPrivateKeyPEM: os.Getenv("JWT_PRIVATE_KEY"),
		JWTKeyID:         getEnv("JWT_KEY_ID", "sig-1"),
		Issuer:           getEnv("JWT_ISSUER", "https://auth.clearpathsec.io"),
		Audience:         getEnv("JWT_AUDIENCE", "bastion"),

		AccessTTL:  getEnvAsDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTTL: getEnvAsDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		SessionTTL: getEnvAsDuration("SESSION_TTL", 60*time.Minute),
		ClockSkew:  getEnvAsDuration("CLOCK_SKEW", 60*time.Second),

		LockoutThreshold: getEnvAsInt("LOCKOUT_THRESHOLD", 5),
		LockoutDuration:  getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
		MFAThreshold:     getEnvAsFloat("MFA_RISK_THRESHOLD", 0.7),
		MaxSessions:      getEnvAsInt("MAX_SESSIONS_PER_USER", 5),

		AuditBufferSize: getEnvAsInt("AUDIT_BUFFER_SIZE", 1024),
	}
}

func getEnv(name, defaultVal string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	v := os.Getenv(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloat(name string, defaultVal float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
