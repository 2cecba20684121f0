package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/totpguard/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Audit sink selectors for TOTP_LOGGING_CLASS
const (
	LoggingClassNoop     = "noop"
	LoggingClassSlog     = "slog"
	LoggingClassDatabase = "database"
)

// Rate limiter backends
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Mail providers
const (
	MailProviderSES  = "ses"
	MailProviderSMTP = "smtp"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	TOTP     TOTPConfig
	Redis    RedisConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string `validate:"required"`
	Port              int    `validate:"gte=1,lte=65535"`
	User              string `validate:"required"`
	Password          string `validate:"required"`
	Name              string `validate:"required"`
	SSLMode           string `validate:"oneof=disable require verify-ca verify-full"`
	MaxConns          int32  `validate:"gte=1"`
	MinConns          int32  `validate:"gte=0"`
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string `validate:"required"`
	Env            string `validate:"oneof=development staging production test"`
	LogLevel       string `validate:"oneof=debug info warn error"`
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	PublicBaseURL  string `validate:"required,url"`
	TrustedProxies []string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite string `validate:"oneof=strict lax none"`
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	PendingTokenExpiry time.Duration
	CSRFTokenExpiry    time.Duration
	LogoutPath         string `validate:"required,startswith=/"`
}

// TOTPConfig is the immutable 2FA configuration. It is built once at startup and
// passed by reference to the components that need it.
type TOTPConfig struct {
	HomePath        string `validate:"required,startswith=/"`
	EnableForgot2FA bool
	FromEmail       string
	LoggingClass    string `validate:"oneof=noop slog database"`
	Issuer          string `validate:"required"`
	LinkSigningKey  string `validate:"min=32"`
	LinkLifetime    time.Duration

	RateLimitBackend  string `validate:"oneof=memory redis"`
	RateLimitRequests int    `validate:"gte=1"`
	RateLimitWindow   time.Duration
	PruneInterval     time.Duration

	// Coarse per-IP cap on the public verify endpoint
	VerifyRequestsPerMinute int `validate:"gte=1"`
	FailureDelay            time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
}

type EmailConfig struct {
	Provider     string `validate:"oneof=ses smtp"`
	AWSRegion    string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

var validate = validator.New()

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")
	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("%w: JWT_SECRET is required", models.ErrConfiguration)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "totpguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			CookieDomain:   getEnv("COOKIE_DOMAIN", ""),
			CookieSecure:   getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieSameSite: getEnv("COOKIE_SAMESITE", "lax"),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			PendingTokenExpiry: getEnvAsDuration("PENDING_TOKEN_EXPIRY", 5*time.Minute),
			CSRFTokenExpiry:    getEnvAsDuration("CSRF_TOKEN_EXPIRY", 15*time.Minute),
			LogoutPath:         getEnv("LOGOUT_PATH", "/logout"),
		},
		TOTP: TOTPConfig{
			HomePath:                getEnv("TOTP_HOME_PATH", "/"),
			EnableForgot2FA:         getEnvAsBool("TOTP_ENABLE_FORGOT", false),
			FromEmail:               strings.TrimSpace(getEnv("FROM_EMAIL", "")),
			LoggingClass:            getEnv("TOTP_LOGGING_CLASS", LoggingClassNoop),
			Issuer:                  getEnv("TOTP_ISSUER", "Totpguard"),
			LinkSigningKey:          getEnv("TOTP_LINK_SIGNING_KEY", jwtSecret),
			LinkLifetime:            getEnvAsDuration("TOTP_LINK_LIFETIME", time.Hour),
			RateLimitBackend:        getEnv("TOTP_RATE_LIMIT_BACKEND", RateLimitBackendMemory),
			RateLimitRequests:       getEnvAsInt("TOTP_RATE_LIMIT_REQUESTS", 3),
			RateLimitWindow:         getEnvAsDuration("TOTP_RATE_LIMIT_WINDOW", 15*time.Minute),
			PruneInterval:           getEnvAsDuration("TOTP_RATE_LIMIT_PRUNE_INTERVAL", 5*time.Minute),
			VerifyRequestsPerMinute: getEnvAsInt("TOTP_VERIFY_REQUESTS_PER_MINUTE", 20),
			FailureDelay:            getEnvAsDuration("TOTP_VERIFY_FAILURE_DELAY", 250*time.Millisecond),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			Provider:     getEnv("MAIL_PROVIDER", MailProviderSES),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		},
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the whole configuration. Every failure wraps models.ErrConfiguration
// so main can refuse to boot.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return fmt.Errorf("%w: %s failed %q (%s)", models.ErrConfiguration, fe.Namespace(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}

	if c.TOTP.LinkLifetime <= 0 || c.TOTP.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: TOTP link lifetime and rate limit window must be positive", models.ErrConfiguration)
	}

	if c.TOTP.EnableForgot2FA {
		if c.TOTP.FromEmail == "" {
			return fmt.Errorf("%w: FROM_EMAIL is required when TOTP_ENABLE_FORGOT is set", models.ErrConfiguration)
		}
		if err := validate.Var(c.TOTP.FromEmail, "email"); err != nil {
			return fmt.Errorf("%w: FROM_EMAIL %q is not a valid email address", models.ErrConfiguration, c.TOTP.FromEmail)
		}
		if c.Email.Provider == MailProviderSMTP && c.Email.SMTPHost == "" {
			return fmt.Errorf("%w: SMTP_HOST is required for the smtp mail provider", models.ErrConfiguration)
		}
	}

	if c.TOTP.RateLimitBackend == RateLimitBackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("%w: REDIS_ADDR is required for the redis rate limit backend", models.ErrConfiguration)
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("%w: JWT_SECRET must be at least %d characters in %s environment (got %d)",
			models.ErrConfiguration, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%w: JWT_SECRET cannot be a common weak value", models.ErrConfiguration)
		}
	}

	return nil
}

// IsDevelopment reports whether audit sink failures should surface to callers
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "development"
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

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
	value := getEnv(key, "")
	if value == "" {
		return []string{}
	}
	items := strings.Split(value, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	return items
}
