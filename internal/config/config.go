// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, provider
// credentials, presence backing, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-consult-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// PushConfig defines the push provider credentials. An empty endpoint or key
// disables the push channel (skipped, not an error).
type PushConfig struct {
	Endpoint string // PUSH_ENDPOINT (messages:send URL)
	APIKey   string // PUSH_API_KEY
}

// EmailConfig defines the transactional email provider settings. An empty key
// or sender disables the email channel.
type EmailConfig struct {
	APIKey   string // SENDGRID_API_KEY
	From     string // EMAIL_FROM
	FromName string // EMAIL_FROM_NAME
}

// Tier is one progressive rate-limit escalation level.
type Tier struct {
	Max    int
	Window time.Duration
}

// PresenceConfig selects the presence registry backing.
type PresenceConfig struct {
	Backend   string // PRESENCE_BACKEND: local|redis
	RedisAddr string // REDIS_ADDR (host:port), required for redis backend
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath string // SQLite path

	// Edge rate limiting (token bucket, per instance)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Store-backed rate limiting (fixed window, progressive tiers)
	RateTiers []Tier // RATE_TIERS, loosest first

	// Providers
	Push            PushConfig
	Email           EmailConfig
	ProviderTimeout time.Duration // bound per provider call

	// Realtime hub
	Presence           PresenceConfig
	CallReaperInterval time.Duration // 0 disables the abandoned-call reaper

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// defaultTiers is the escalation ladder used when RATE_TIERS is unset:
// 30 req/min, then 10 req/min, then 3 per 5 minutes for repeat offenders.
var defaultTiers = []Tier{
	{Max: 30, Window: time.Minute},
	{Max: 10, Window: time.Minute},
	{Max: 3, Window: 5 * time.Minute},
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "app.db"),

		// Edge rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Providers
		Push: PushConfig{
			Endpoint: getenv("PUSH_ENDPOINT", ""),
			APIKey:   getenv("PUSH_API_KEY", ""),
		},
		Email: EmailConfig{
			APIKey:   getenv("SENDGRID_API_KEY", ""),
			From:     getenv("EMAIL_FROM", ""),
			FromName: getenv("EMAIL_FROM_NAME", "Astroveda"),
		},
		ProviderTimeout: getdur("PROVIDER_TIMEOUT", 10*time.Second),

		// Realtime hub
		Presence: PresenceConfig{
			Backend:   strings.ToLower(getenv("PRESENCE_BACKEND", "local")),
			RedisAddr: getenv("REDIS_ADDR", ""),
		},
		CallReaperInterval: getdur("CALL_REAPER_INTERVAL", 0),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-consult-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	tiers, err := parseTiers(getenv("RATE_TIERS", ""))
	if err != nil {
		return cfg, err
	}
	cfg.RateTiers = tiers

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.ProviderTimeout <= 0 {
		return cfg, errors.New("PROVIDER_TIMEOUT must be > 0")
	}
	switch cfg.Presence.Backend {
	case "local":
	case "redis":
		if strings.TrimSpace(cfg.Presence.RedisAddr) == "" {
			return cfg, errors.New("REDIS_ADDR is required when PRESENCE_BACKEND=redis")
		}
	default:
		return cfg, errors.New("PRESENCE_BACKEND must be local or redis")
	}
	if cfg.CallReaperInterval < 0 {
		return cfg, errors.New("CALL_REAPER_INTERVAL must be >= 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// parseTiers parses RATE_TIERS, a comma-separated list of max/window pairs
// ordered loosest first, e.g. "30/1m,10/1m,3/5m". Empty input yields the
// default ladder.
func parseTiers(s string) ([]Tier, error) {
	if strings.TrimSpace(s) == "" {
		return defaultTiers, nil
	}
	parts := strings.Split(s, ",")
	out := make([]Tier, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		mw := strings.SplitN(p, "/", 2)
		if len(mw) != 2 {
			return nil, errors.New("RATE_TIERS entries must look like max/window, e.g. 30/1m")
		}
		max, err := strconv.Atoi(strings.TrimSpace(mw[0]))
		if err != nil || max < 1 {
			return nil, errors.New("RATE_TIERS max must be a positive integer")
		}
		window, err := time.ParseDuration(strings.TrimSpace(mw[1]))
		if err != nil || window <= 0 {
			return nil, errors.New("RATE_TIERS window must be a positive duration")
		}
		out = append(out, Tier{Max: max, Window: window})
	}
	if len(out) == 0 {
		return defaultTiers, nil
	}
	return out, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
