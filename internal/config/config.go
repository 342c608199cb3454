// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, persistence, the chat transport, external collaborators, the
// handoff outbox, and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the operator API.
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "resume-intake-bot")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the record store backend.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// TelegramConfig holds chat transport settings.
type TelegramConfig struct {
	Token       string // BOT_TOKEN
	APIEndpoint string // TELEGRAM_API_ENDPOINT, printf-style like tgbotapi.APIEndpoint
	StickerID   string // sent after the last question
}

// OpenAIConfig holds generation and transcription settings.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// StorageConfig holds object storage settings (S3-compatible, MinIO client).
type StorageConfig struct {
	Endpoint          string
	Region            string
	AccessKey         string
	SecretKey         string
	UseSSL            bool
	ImagesBucket      string
	ResumesBucket     string
	ExperiencesBucket string
}

// MailConfig holds delivery settings.
type MailConfig struct {
	APIKey string
	From   string
	To     string // fixed operator recipient
}

// OutboxConfig tunes the handoff sweeper.
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BackoffBase  time.Duration
	Lease        time.Duration
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
	PublicURL         string        // externally reachable base URL, used to register the webhook

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for operator API routes

	// Persistence
	DB       DBConfig
	RedisURL string // optional; enables Redis-backed update dedupe

	// Webhooks
	WebhookSecret   string        // shared secret expected in the ?secret= query parameter
	UpdateDedupeTTL time.Duration // how long a processed update id is remembered

	// Conversation
	DefaultLanguage string
	MaxAge          int

	// External collaborators
	DisableExternalCalls bool
	Telegram             TelegramConfig
	OpenAI               OpenAIConfig
	CloudConvertAPIKey   string
	CloudConvertBaseURL  string
	BrowserlessAPIKey    string
	BrowserlessURL       string
	Mail                 MailConfig
	Storage              StorageConfig
	SignedURLTTL         time.Duration
	PhotoWidth           int
	HTTPClientTimeout    time.Duration

	// Handoffs
	HandoffTimeout time.Duration
	Outbox         OutboxConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
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
		PublicURL:         strings.TrimRight(getenv("PUBLIC_URL", ""), "/"),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Persistence
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "intake.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		RedisURL: getenv("REDIS_URL", ""),

		// Webhooks
		WebhookSecret:   getenv("WEBHOOK_SECRET", getenv("FUNCTION_SECRET", "")),
		UpdateDedupeTTL: getdur("UPDATE_DEDUPE_TTL", 24*time.Hour),

		// Conversation
		DefaultLanguage: strings.ToLower(getenv("DEFAULT_LANGUAGE", "en")),
		MaxAge:          getint("MAX_AGE", 130),

		// External collaborators
		DisableExternalCalls: getbool("DISABLE_EXTERNAL_CALLS", getbool("DISABLE_CLOUD_SERVICES", false)),
		Telegram: TelegramConfig{
			Token:       getenv("BOT_TOKEN", ""),
			APIEndpoint: getenv("TELEGRAM_API_ENDPOINT", "https://api.telegram.org/bot%s/%s"),
			StickerID:   getenv("TELEGRAM_STICKER_ID", "CAACAgQAAxkBAAEi6x9kmXxaAa9YSX-R-HLqSykB5Eh2HwACEQADwSr1H-LzA6AOf05zLwQ"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getenv("OPENAI_API_KEY", ""),
			BaseURL: getenv("OPENAI_BASE_URL", ""),
			Model:   getenv("OPENAI_MODEL", "gpt-3.5-turbo"),
		},
		CloudConvertAPIKey:  getenv("CLOUDCONVERT_API_KEY", ""),
		CloudConvertBaseURL: strings.TrimRight(getenv("CLOUDCONVERT_BASE_URL", "https://api.cloudconvert.com/v2"), "/"),
		BrowserlessAPIKey:   getenv("BROWSERLESS_API_KEY", ""),
		BrowserlessURL:      strings.TrimRight(getenv("BROWSERLESS_URL", "https://chrome.browserless.io"), "/"),
		Mail: MailConfig{
			APIKey: getenv("RESEND_API_KEY", ""),
			From:   getenv("MAIL_FROM", "onboarding@resend.dev"),
			To:     getenv("MAIL_TO", ""),
		},
		Storage: StorageConfig{
			Endpoint:          getenv("STORAGE_ENDPOINT", "localhost:9000"),
			Region:            getenv("STORAGE_REGION", "us-east-1"),
			AccessKey:         getenv("STORAGE_ACCESS_KEY", ""),
			SecretKey:         getenv("STORAGE_SECRET_KEY", ""),
			UseSSL:            getbool("STORAGE_USE_SSL", false),
			ImagesBucket:      getenv("STORAGE_IMAGES_BUCKET", "images"),
			ResumesBucket:     getenv("STORAGE_RESUMES_BUCKET", "resumes"),
			ExperiencesBucket: getenv("STORAGE_EXPERIENCES_BUCKET", "experiences"),
		},
		SignedURLTTL:      getdur("SIGNED_URL_TTL", 60*time.Second),
		PhotoWidth:        getint("PHOTO_WIDTH", 200),
		HTTPClientTimeout: getdur("HTTP_CLIENT_TIMEOUT", 60*time.Second),

		// Handoffs
		HandoffTimeout: getdur("HANDOFF_TIMEOUT", 2*time.Minute),
		Outbox: OutboxConfig{
			PollInterval: getdur("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getint("OUTBOX_BATCH_SIZE", 10),
			MaxAttempts:  getint("OUTBOX_MAX_ATTEMPTS", 5),
			BackoffBase:  getdur("OUTBOX_BACKOFF_BASE", 10*time.Second),
			Lease:        getdur("OUTBOX_LEASE", 5*time.Minute),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "resume-intake-bot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
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
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return cfg, errors.New("WEBHOOK_SECRET must not be empty")
	}
	if cfg.UpdateDedupeTTL <= 0 {
		return cfg, errors.New("UPDATE_DEDUPE_TTL must be > 0")
	}
	if cfg.DefaultLanguage == "" {
		return cfg, errors.New("DEFAULT_LANGUAGE must not be empty")
	}
	if cfg.MaxAge < 1 {
		return cfg, errors.New("MAX_AGE must be >= 1")
	}
	if !cfg.DisableExternalCalls {
		if cfg.Telegram.Token == "" {
			return cfg, errors.New("BOT_TOKEN must be set unless DISABLE_EXTERNAL_CALLS is true")
		}
		if cfg.Mail.To == "" {
			return cfg, errors.New("MAIL_TO must be set unless DISABLE_EXTERNAL_CALLS is true")
		}
	}
	if cfg.SignedURLTTL <= 0 {
		return cfg, errors.New("SIGNED_URL_TTL must be > 0")
	}
	if cfg.PhotoWidth < 0 {
		return cfg, errors.New("PHOTO_WIDTH must be >= 0")
	}
	if cfg.HTTPClientTimeout <= 0 || cfg.HandoffTimeout <= 0 {
		return cfg, errors.New("HTTP_CLIENT_TIMEOUT and HANDOFF_TIMEOUT must be > 0")
	}
	if cfg.Outbox.PollInterval <= 0 || cfg.Outbox.BackoffBase <= 0 || cfg.Outbox.Lease <= 0 {
		return cfg, errors.New("OUTBOX_POLL_INTERVAL, OUTBOX_BACKOFF_BASE and OUTBOX_LEASE must be > 0")
	}
	if cfg.Outbox.BatchSize < 1 {
		return cfg, errors.New("OUTBOX_BATCH_SIZE must be >= 1")
	}
	if cfg.Outbox.MaxAttempts < 1 {
		return cfg, errors.New("OUTBOX_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
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
