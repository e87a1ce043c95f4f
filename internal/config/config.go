package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment       string
	HTTPPort          string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Issuer            string
	DatabaseURL       string
	MigrateOnStart    bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTPrivateKeyPEM     string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	RefreshTokenRotation bool
	AuthorizationCodeTTL time.Duration

	SessionTTL          time.Duration
	SessionCookieSecure bool
	ConsentTTL          time.Duration

	RateLimitMax      int
	RateLimitWindow   time.Duration
	RateLimitRPM      int
	DashboardCacheTTL time.Duration

	ServiceName       string
	TelemetryEndpoint string
	TelemetryInsecure bool

	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTLS      bool

	AdminUsername string
	AdminPassword string
	AdminEmail    string

	BootstrapClientID           string
	BootstrapClientSecret       string
	BootstrapClientName         string
	BootstrapClientRedirectURIs []string
	BootstrapClientScopes       []string
}

// IsDevelopment reports whether the process runs with development defaults.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	port := getEnv("HTTP_PORT", "8080")
	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPPort:          port,
		ReadHeaderTimeout: getDuration("HTTP_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownTimeout:   getDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		Issuer:            strings.TrimRight(getEnv("ISSUER_URL", "http://localhost:"+port), "/"),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MigrateOnStart:    getBool("DATABASE_MIGRATE", true),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		JWTPrivateKeyPEM:     os.Getenv("JWT_PRIVATE_KEY_PEM"),
		AccessTokenTTL:       getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:      getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		RefreshTokenRotation: getBool("REFRESH_TOKEN_ROTATION", false),
		AuthorizationCodeTTL: getDuration("AUTHORIZATION_CODE_TTL", 5*time.Minute),

		SessionTTL:          getDuration("SESSION_TTL", 60*time.Minute),
		SessionCookieSecure: getBool("SESSION_COOKIE_SECURE", false),
		ConsentTTL:          getDuration("CONSENT_TTL", 30*24*time.Hour),

		RateLimitMax:      getInt("RATE_LIMIT_MAX", getInt("RATE_LIMIT_PER_SECOND", 10)),
		RateLimitWindow:   getDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitRPM:      getInt("RATE_LIMIT_RPM", 600),
		DashboardCacheTTL: getDuration("DASHBOARD_CACHE_TTL", 60*time.Second),

		ServiceName:       getEnv("SERVICE_NAME", "sso-auth"),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),

		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),

		SMTPHost:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort:     getInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@localhost"),
		SMTPTLS:      getBool("SMTP_TLS", true),

		AdminUsername: strings.TrimSpace(os.Getenv("ADMIN_USERNAME")),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminEmail:    strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),

		BootstrapClientID:           strings.TrimSpace(os.Getenv("BOOTSTRAP_CLIENT_ID")),
		BootstrapClientSecret:       os.Getenv("BOOTSTRAP_CLIENT_SECRET"),
		BootstrapClientName:         getEnv("BOOTSTRAP_CLIENT_NAME", "Default client"),
		BootstrapClientRedirectURIs: getList("BOOTSTRAP_CLIENT_REDIRECT_URIS", nil),
		BootstrapClientScopes:       getList("BOOTSTRAP_CLIENT_SCOPES", []string{"openid", "profile", "email"}),
	}

	// Legacy integer forms.
	if days := getInt("REFRESH_TOKEN_TTL_DAYS", 0); days > 0 {
		cfg.RefreshTokenTTL = time.Duration(days) * 24 * time.Hour
	}
	if minutes := getInt("SESSION_TTL_MINUTES", 0); minutes > 0 {
		cfg.SessionTTL = time.Duration(minutes) * time.Minute
	}

	if cfg.DatabaseURL == "" && !cfg.IsDevelopment() {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AdminUsername != "" && cfg.AdminPassword == "" {
		return Config{}, fmt.Errorf("ADMIN_PASSWORD is required when ADMIN_USERNAME is set")
	}
	if cfg.BootstrapClientID != "" && len(cfg.BootstrapClientRedirectURIs) == 0 {
		return Config{}, fmt.Errorf("BOOTSTRAP_CLIENT_REDIRECT_URIS is required when BOOTSTRAP_CLIENT_ID is set")
	}
	if cfg.AccessTokenTTL <= 0 {
		return Config{}, fmt.Errorf("ACCESS_TOKEN_TTL must be positive")
	}
	if cfg.RateLimitMax < 1 {
		cfg.RateLimitMax = 1
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
