package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port                   string
	LogLevel               string
	DatabaseURL            string
	RedisAddr              string
	JWTSecret              string
	EvidenceSigningSecret  string
	EvidencePayloadBackend string
	IdempotencyTTL         time.Duration
	QueryCacheTTL          time.Duration
	OTLPEndpoint           string
	AuditDenials           bool
	ProfilesDir            string
	Profile                string

	// BurstRPS and BurstSize shape the per-tenant smoother that spreads a
	// window quota over time. BurstRPS 0 disables smoothing.
	BurstRPS  float64
	BurstSize int

	// RolesFile optionally replaces the built-in role table.
	RolesFile string

	// WorkflowsDir optionally seeds workflow definitions at startup.
	WorkflowsDir string

	// OutboxInterval is how often the relay drains pending events.
	OutboxInterval time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to local generic postgres
		dbURL = "postgres://portarium@localhost:5432/portarium?sslmode=disable"
	}

	payloadBackend := os.Getenv("EVIDENCE_PAYLOAD_BACKEND")
	if payloadBackend == "" {
		payloadBackend = "inline"
	}

	profilesDir := os.Getenv("PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	return &Config{
		Port:                   port,
		LogLevel:               logLevel,
		DatabaseURL:            dbURL,
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		EvidenceSigningSecret:  os.Getenv("EVIDENCE_SIGNING_SECRET"),
		EvidencePayloadBackend: payloadBackend,
		IdempotencyTTL:         durationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
		QueryCacheTTL:          durationEnv("QUERY_CACHE_TTL", 30*time.Second),
		OTLPEndpoint:           os.Getenv("OTLP_ENDPOINT"),
		AuditDenials:           os.Getenv("AUDIT_DENIALS") == "true",
		ProfilesDir:            profilesDir,
		Profile:                os.Getenv("OPERATING_PROFILE"),
		BurstRPS:               floatEnv("BURST_RPS", 50),
		BurstSize:              intEnv("BURST_SIZE", 100),
		RolesFile:              os.Getenv("ROLES_FILE"),
		WorkflowsDir:           os.Getenv("WORKFLOWS_DIR"),
		OutboxInterval:         durationEnv("OUTBOX_INTERVAL", 2*time.Second),
	}
}

func floatEnv(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 {
		return v
	}
	return fallback
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
