// Package config loads the service configuration from environment variables.
// Every key has a default. Load normalizes the raw values and reports all
// validation problems in one joined error.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the origins allowed to call the API and open /ws.
// Empty means any origin.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig controls HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry export settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT, host:port
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RedisConfig enables the optional event mirror. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // channel prefix for mirrored events
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// Config holds all configuration values for the service.
type Config struct {
	// HTTP server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging and docs
	LogLevel       string
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	// Storage
	DBDriver string // sqlite|postgres
	DSN      string // file path for sqlite, URL or keyword DSN for postgres

	// Identity
	JWTSecret           string // HS256 key; empty disables bearer tokens
	AllowHeaderIdentity bool   // trust X-User-ID when no bearer token is sent
	TokenTTL            time.Duration

	// Real-time delivery
	Redis           RedisConfig
	HubBuffer       int           // per-subscriber queue length
	TypingThrottle  time.Duration // min gap between typing events per (user, chat)
	WSPingInterval  time.Duration
	MaxContentRunes int
	MaxPageSize     int

	// Housekeeping
	NotificationTTL time.Duration // 0 keeps notifications until deleted
	JanitorInterval time.Duration

	RateRPS   float64
	RateBurst int

	CORS     CORSConfig
	Security SecurityConfig

	IdempotencyTTL time.Duration

	OTEL OTELConfig
}

// MustLoad is Load for main: it panics on an invalid configuration.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, applies defaults and validates the result.
// The returned Config is populated even when err is non-nil.
func Load() (Config, error) {
	cfg := Config{
		Port:              envStr("PORT", "8080"),
		ReadTimeout:       envDur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: envDur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      envDur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       envDur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    envInt("MAX_HEADER_BYTES", 1<<20),
		GinMode:           envLower("GIN_MODE", "release"),

		LogLevel:       envLower("LOG_LEVEL", "info"),
		LogPretty:      envBool("LOG_PRETTY", false),
		SwaggerEnabled: envBool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(envStr("API_BASE_PATH", "/api/v1")),

		DBDriver: envLower("DB_DRIVER", "sqlite"),
		DSN:      envStr("DB_DSN", envStr("DB_PATH", "chat.db")),

		JWTSecret:           envStr("JWT_SECRET", ""),
		AllowHeaderIdentity: envBool("ALLOW_HEADER_IDENTITY", false),
		TokenTTL:            envDur("TOKEN_TTL", 24*time.Hour),

		Redis: RedisConfig{
			Addr:     envStr("REDIS_ADDR", ""),
			Password: envStr("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
			Prefix:   envStr("REDIS_PREFIX", "chat:events:"),
		},
		HubBuffer:       envInt("HUB_BUFFER", 64),
		TypingThrottle:  envDur("TYPING_THROTTLE", 3*time.Second),
		WSPingInterval:  envDur("WS_PING_INTERVAL", 30*time.Second),
		MaxContentRunes: envInt("MAX_CONTENT_RUNES", 4000),
		MaxPageSize:     envInt("MAX_PAGE_SIZE", 100),

		NotificationTTL: envDur("NOTIFICATION_TTL", 30*24*time.Hour),
		JanitorInterval: envDur("JANITOR_INTERVAL", 10*time.Minute),

		RateRPS:   envFloat("RATE_RPS", 5.0),
		RateBurst: envInt("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: splitCSV(envStr("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: envBool("ENABLE_HSTS", false),
			HSTSMaxAge: envDur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: envDur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			Endpoint:    envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: envStr("OTEL_SERVICE_NAME", "go-chat-realtime"),
			SampleRatio: envFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if !oneOf(cfg.GinMode, "debug", "release", "test") {
		cfg.GinMode = "release"
	}
	return cfg, cfg.validate()
}

// rule is one validation check; bad is evaluated against the loaded Config.
type rule struct {
	bad bool
	msg string
}

func (c Config) validate() error {
	rules := []rule{
		{!oneOf(c.LogLevel, "debug", "info", "warn", "error", "fatal", "panic"),
			"LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"},
		{strings.TrimSpace(c.Port) == "", "PORT must not be empty"},
		{c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0,
			"timeouts must be positive durations"},
		{c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0"},
		{!oneOf(c.DBDriver, "sqlite", "postgres"), "DB_DRIVER must be one of: sqlite, postgres"},
		{strings.TrimSpace(c.DSN) == "", "DB_DSN must not be empty"},
		{c.JWTSecret == "" && !c.AllowHeaderIdentity, "JWT_SECRET is required unless ALLOW_HEADER_IDENTITY is on"},
		{c.TokenTTL <= 0, "TOKEN_TTL must be > 0"},
		{c.Redis.DB < 0, "REDIS_DB must be >= 0"},
		{c.HubBuffer < 1, "HUB_BUFFER must be >= 1"},
		{c.TypingThrottle < 0, "TYPING_THROTTLE must be >= 0"},
		{c.NotificationTTL < 0, "NOTIFICATION_TTL must be >= 0"},
		{c.WSPingInterval <= 0, "WS_PING_INTERVAL must be > 0"},
		{c.JanitorInterval <= 0, "JANITOR_INTERVAL must be > 0"},
		{c.MaxContentRunes < 1, "MAX_CONTENT_RUNES must be >= 1"},
		{c.MaxPageSize < 1, "MAX_PAGE_SIZE must be >= 1"},
		{c.RateRPS < 0, "RATE_RPS must be >= 0"},
		{c.RateBurst < 1, "RATE_BURST must be >= 1"},
		{c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0"},
		{c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0"},
		{c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
	}
	var errs []error
	for _, r := range rules {
		if r.bad {
			errs = append(errs, errors.New(r.msg))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

// lookup parses the value of k with parse. Unset, empty or unparsable
// values yield def.
func lookup[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func envStr(k, def string) string {
	return lookup(k, def, func(v string) (string, error) { return v, nil })
}

func envLower(k, def string) string { return strings.ToLower(envStr(k, def)) }

func envInt(k string, def int) int { return lookup(k, def, strconv.Atoi) }

func envFloat(k string, def float64) float64 {
	return lookup(k, def, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
}

func envDur(k string, def time.Duration) time.Duration { return lookup(k, def, time.ParseDuration) }

func envBool(k string, def bool) bool { return lookup(k, def, parseFlag) }

// parseFlag accepts the usual spellings of on/off, case-insensitively.
func parseFlag(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath returns p with one leading slash and no trailing one;
// empty becomes "/".
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
