package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	appErrors "github.com/rentella/property-auth-api/pkg/errors"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CSRF      CSRFConfig
	CORS      CORSConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig governs access-token signing and refresh-token lifetimes.
type JWTConfig struct {
	Secret             string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
}

// CSRFConfig governs the double-submit token pair.
type CSRFConfig struct {
	Secret     string
	Expiry     time.Duration
	CookieName string
	HeaderName string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RateLimitConfig holds per-class fixed-window thresholds.
type RateLimitConfig struct {
	Window        time.Duration
	LoginLimit    int
	RegisterLimit int
	GenericLimit  int
}

// SecurityConfig controls response hardening behaviour.
type SecurityConfig struct {
	SSLRedirect bool
	ExemptPaths []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		QueryTimeout: parseDuration(v.GetString("DB_QUERY_TIMEOUT"), 5*time.Second),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:             v.GetString("JWT_SECRET"),
		AccessTokenExpiry:  parseDuration(v.GetString("ACCESS_TOKEN_EXPIRATION"), 30*time.Minute),
		RefreshTokenExpiry: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 720*time.Hour),
		Issuer:             v.GetString("JWT_ISSUER"),
	}

	cfg.CSRF = CSRFConfig{
		Secret:     v.GetString("CSRF_SECRET"),
		Expiry:     parseDuration(v.GetString("CSRF_TOKEN_EXPIRATION"), time.Hour),
		CookieName: v.GetString("CSRF_COOKIE_NAME"),
		HeaderName: v.GetString("CSRF_HEADER_NAME"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.RateLimit = RateLimitConfig{
		Window:        parseDuration(v.GetString("RATE_LIMIT_WINDOW"), time.Minute),
		LoginLimit:    v.GetInt("RATE_LIMIT_LOGIN"),
		RegisterLimit: v.GetInt("RATE_LIMIT_REGISTER"),
		GenericLimit:  v.GetInt("RATE_LIMIT_GENERIC"),
	}

	cfg.Security = SecurityConfig{
		SSLRedirect: v.GetBool("SSL_REDIRECT"),
		ExemptPaths: splitAndTrim(v.GetString("SECURITY_EXEMPT_PATHS")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that would run the engine without real
// secrets. Missing secrets are fatal at startup, never per-request.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return appErrors.Clone(appErrors.ErrConfig, "JWT_SECRET must be set")
	}
	if c.CSRF.Secret == "" {
		return appErrors.Clone(appErrors.ErrConfig, "CSRF_SECRET must be set")
	}
	if c.Env == EnvProduction {
		if c.JWT.Secret == devJWTSecret {
			return appErrors.Clone(appErrors.ErrConfig, "JWT_SECRET must not use the development default in production")
		}
		if c.CSRF.Secret == devCSRFSecret {
			return appErrors.Clone(appErrors.ErrConfig, "CSRF_SECRET must not use the development default in production")
		}
	}
	if c.JWT.AccessTokenExpiry <= 0 || c.JWT.RefreshTokenExpiry <= 0 {
		return appErrors.Clone(appErrors.ErrConfig, "token expirations must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return appErrors.Clone(appErrors.ErrConfig, fmt.Sprintf("invalid rate limit window %s", c.RateLimit.Window))
	}
	return nil
}

const (
	devJWTSecret  = "dev_jwt_secret"
	devCSRFSecret = "dev_csrf_secret"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "property_auth")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_QUERY_TIMEOUT", "5s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", devJWTSecret)
	v.SetDefault("JWT_ISSUER", "property-auth-api")
	v.SetDefault("ACCESS_TOKEN_EXPIRATION", "30m")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "720h")

	v.SetDefault("CSRF_SECRET", devCSRFSecret)
	v.SetDefault("CSRF_TOKEN_EXPIRATION", "1h")
	v.SetDefault("CSRF_COOKIE_NAME", "csrf_token")
	v.SetDefault("CSRF_HEADER_NAME", "X-CSRF-Token")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("RATE_LIMIT_WINDOW", "60s")
	v.SetDefault("RATE_LIMIT_LOGIN", 5)
	v.SetDefault("RATE_LIMIT_REGISTER", 3)
	v.SetDefault("RATE_LIMIT_GENERIC", 60)

	v.SetDefault("SSL_REDIRECT", false)
	v.SetDefault("SECURITY_EXEMPT_PATHS", "/health,/ready,/metrics")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
