package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Cache       CacheConfig
	MercadoPago MercadoPagoConfig
	Pricing     PricingConfig
	Mail        MailConfig
	Jobs        JobsConfig
	Sweeper     SweeperConfig
	Migrations  MigrationsConfig
	Swagger     SwaggerConfig
	Metrics     MetricsConfig
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
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig toggles the Redis read-through cache for enrollment details.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// MercadoPagoConfig holds the payment gateway credentials and callback URLs.
type MercadoPagoConfig struct {
	AccessToken     string
	BaseURL         string
	WebhookSecret   string
	Timeout         time.Duration
	NotificationURL string
	BackURL         string
	Mock            bool
}

// PricingConfig carries the price table in whole currency units.
type PricingConfig struct {
	FeeColonia       int64
	FeeCiclo         int64
	FeePackCompleto  int64
	CourseBasePrice  int64
	CycleMonthlyRate int64
}

// MailConfig configures outbound transactional email.
type MailConfig struct {
	Enabled        bool
	SendGridAPIKey string
	FromEmail      string
	FromName       string
}

// JobsConfig sizes the in-process background queue.
type JobsConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// SweeperConfig controls expiry of enrollments that never received a payment.
type SweeperConfig struct {
	Enabled    bool
	Schedule   string
	PendingTTL time.Duration
	BatchSize  int
}

type MigrationsConfig struct {
	Path string
}

type SwaggerConfig struct {
	Enabled bool
}

type MetricsConfig struct {
	Enabled bool
}

// IsProduction reports whether the service runs with production hardening.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, EnvProduction)
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
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
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
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("CACHE_ENABLED"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 5*time.Minute),
	}

	cfg.MercadoPago = MercadoPagoConfig{
		AccessToken:     v.GetString("MP_ACCESS_TOKEN"),
		BaseURL:         v.GetString("MP_BASE_URL"),
		WebhookSecret:   v.GetString("MP_WEBHOOK_SECRET"),
		Timeout:         parseDuration(v.GetString("MP_TIMEOUT"), 10*time.Second),
		NotificationURL: v.GetString("MP_NOTIFICATION_URL"),
		BackURL:         v.GetString("MP_BACK_URL"),
		Mock:            v.GetBool("MP_MOCK"),
	}

	cfg.Pricing = PricingConfig{
		FeeColonia:       v.GetInt64("PRICE_FEE_COLONIA"),
		FeeCiclo:         v.GetInt64("PRICE_FEE_CICLO_2026"),
		FeePackCompleto:  v.GetInt64("PRICE_FEE_PACK_COMPLETO"),
		CourseBasePrice:  v.GetInt64("PRICE_COURSE_BASE"),
		CycleMonthlyRate: v.GetInt64("PRICE_CYCLE_MONTHLY"),
	}

	cfg.Mail = MailConfig{
		Enabled:        v.GetBool("MAIL_ENABLED"),
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		FromEmail:      v.GetString("MAIL_FROM"),
		FromName:       v.GetString("MAIL_FROM_NAME"),
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("JOBS_WORKERS"),
		BufferSize: v.GetInt("JOBS_BUFFER"),
		MaxRetries: v.GetInt("JOBS_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("JOBS_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Sweeper = SweeperConfig{
		Enabled:    v.GetBool("SWEEPER_ENABLED"),
		Schedule:   v.GetString("SWEEPER_SCHEDULE"),
		PendingTTL: parseDuration(v.GetString("SWEEPER_PENDING_TTL"), 72*time.Hour),
		BatchSize:  v.GetInt("SWEEPER_BATCH_SIZE"),
	}

	cfg.Migrations = MigrationsConfig{Path: v.GetString("MIGRATIONS_PATH")}
	cfg.Swagger = SwaggerConfig{Enabled: v.GetBool("SWAGGER_ENABLED")}
	cfg.Metrics = MetricsConfig{Enabled: v.GetBool("METRICS_ENABLED")}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "tutoring_enrollments")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "tutoring-enrollment-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_TTL", "5m")

	v.SetDefault("MP_ACCESS_TOKEN", "")
	v.SetDefault("MP_BASE_URL", "https://api.mercadopago.com")
	v.SetDefault("MP_WEBHOOK_SECRET", "")
	v.SetDefault("MP_TIMEOUT", "10s")
	v.SetDefault("MP_NOTIFICATION_URL", "http://localhost:8080/api/v1/webhooks/mercadopago")
	v.SetDefault("MP_BACK_URL", "http://localhost:3000/inscripcion-2026")
	v.SetDefault("MP_MOCK", false)

	v.SetDefault("PRICE_FEE_COLONIA", 25000)
	v.SetDefault("PRICE_FEE_CICLO_2026", 50000)
	v.SetDefault("PRICE_FEE_PACK_COMPLETO", 60000)
	v.SetDefault("PRICE_COURSE_BASE", 55000)
	v.SetDefault("PRICE_CYCLE_MONTHLY", 50000)

	v.SetDefault("MAIL_ENABLED", false)
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_FROM", "inscripciones@example.com")
	v.SetDefault("MAIL_FROM_NAME", "Inscripciones")

	v.SetDefault("JOBS_WORKERS", 2)
	v.SetDefault("JOBS_BUFFER", 64)
	v.SetDefault("JOBS_MAX_RETRIES", 3)
	v.SetDefault("JOBS_RETRY_DELAY", "5s")

	v.SetDefault("SWEEPER_ENABLED", false)
	v.SetDefault("SWEEPER_SCHEDULE", "@every 1h")
	v.SetDefault("SWEEPER_PENDING_TTL", "72h")
	v.SetDefault("SWEEPER_BATCH_SIZE", 100)

	v.SetDefault("MIGRATIONS_PATH", "file://migrations")
	v.SetDefault("SWAGGER_ENABLED", true)
	v.SetDefault("METRICS_ENABLED", true)
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
