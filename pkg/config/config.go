package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
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
	PublicURL string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Catalog   CatalogConfig
	Payment   PaymentConfig
	Storage   StorageConfig
	Webhook   WebhookConfig
	Purchases PurchasesConfig
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

// URL renders the connection settings as a postgres:// URL for the migrator.
func (c DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Name,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
	Issuer            string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CatalogConfig tunes the public course catalog.
type CatalogConfig struct {
	CacheTTL        time.Duration
	DefaultCurrency string
}

// PaymentConfig holds the payment gateway credentials and verification switches.
type PaymentConfig struct {
	BaseURL       string
	PublicKey     string
	SecretKey     string
	SecretHash    string
	SigningSecret string
	VerifyRemote  bool
	RedirectURL   string
	Timeout       time.Duration
}

// StorageConfig controls where uploaded resources live and how download links are signed.
type StorageConfig struct {
	Dir              string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// WebhookConfig throttles inbound gateway notifications per client IP.
type WebhookConfig struct {
	RatePerMinute float64
	Burst         int
}

// PurchasesConfig sizes the payment event projector.
type PurchasesConfig struct {
	Workers       int
	MaxRetries    int
	RetryDelay    time.Duration
	ReplayOnStart bool
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.PublicURL = strings.TrimRight(v.GetString("PUBLIC_URL"), "/")

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
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
		Issuer:            v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Catalog = CatalogConfig{
		CacheTTL:        parseDuration(v.GetString("CATALOG_CACHE_TTL"), 5*time.Minute),
		DefaultCurrency: strings.ToUpper(v.GetString("CATALOG_DEFAULT_CURRENCY")),
	}

	cfg.Payment = PaymentConfig{
		BaseURL:       strings.TrimRight(v.GetString("PAYMENT_BASE_URL"), "/"),
		PublicKey:     v.GetString("PAYMENT_PUBLIC_KEY"),
		SecretKey:     v.GetString("PAYMENT_SECRET_KEY"),
		SecretHash:    v.GetString("PAYMENT_SECRET_HASH"),
		SigningSecret: v.GetString("PAYMENT_SIGNING_SECRET"),
		VerifyRemote:  v.GetBool("PAYMENT_VERIFY_REMOTE"),
		RedirectURL:   v.GetString("PAYMENT_REDIRECT_URL"),
		Timeout:       parseDuration(v.GetString("PAYMENT_TIMEOUT"), 10*time.Second),
	}

	maxUpload := v.GetInt64("STORAGE_MAX_FILE_SIZE")
	if maxUpload <= 0 {
		maxUpload = 50 * 1024 * 1024
	}
	cfg.Storage = StorageConfig{
		Dir:              v.GetString("STORAGE_DIR"),
		SignedURLSecret:  v.GetString("STORAGE_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("STORAGE_SIGNED_URL_TTL"), 30*time.Minute),
		MaxFileSizeBytes: maxUpload,
		AllowedMIMEs:     splitAndTrim(v.GetString("STORAGE_ALLOWED_MIME_TYPES")),
	}

	cfg.Webhook = WebhookConfig{
		RatePerMinute: v.GetFloat64("WEBHOOK_RATE_PER_MINUTE"),
		Burst:         v.GetInt("WEBHOOK_BURST"),
	}

	cfg.Purchases = PurchasesConfig{
		Workers:       v.GetInt("PURCHASE_WORKERS"),
		MaxRetries:    v.GetInt("PURCHASE_MAX_RETRIES"),
		RetryDelay:    parseDuration(v.GetString("PURCHASE_RETRY_DELAY"), 5*time.Second),
		ReplayOnStart: v.GetBool("PURCHASE_REPLAY_ON_START"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("PUBLIC_URL", "http://localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "coursemart")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")
	v.SetDefault("JWT_ISSUER", "coursemart-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CATALOG_CACHE_TTL", "5m")
	v.SetDefault("CATALOG_DEFAULT_CURRENCY", "USD")

	v.SetDefault("PAYMENT_BASE_URL", "https://api.flutterwave.com/v3")
	v.SetDefault("PAYMENT_PUBLIC_KEY", "")
	v.SetDefault("PAYMENT_SECRET_KEY", "")
	v.SetDefault("PAYMENT_SECRET_HASH", "")
	v.SetDefault("PAYMENT_SIGNING_SECRET", "")
	v.SetDefault("PAYMENT_VERIFY_REMOTE", false)
	v.SetDefault("PAYMENT_REDIRECT_URL", "")
	v.SetDefault("PAYMENT_TIMEOUT", "10s")

	v.SetDefault("STORAGE_DIR", "./storage")
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", "30m")
	v.SetDefault("STORAGE_MAX_FILE_SIZE", 50*1024*1024)
	v.SetDefault("STORAGE_ALLOWED_MIME_TYPES", "application/pdf,application/zip,video/mp4,image/png,image/jpeg")

	v.SetDefault("WEBHOOK_RATE_PER_MINUTE", 120)
	v.SetDefault("WEBHOOK_BURST", 30)

	v.SetDefault("PURCHASE_WORKERS", 2)
	v.SetDefault("PURCHASE_MAX_RETRIES", 5)
	v.SetDefault("PURCHASE_RETRY_DELAY", "5s")
	v.SetDefault("PURCHASE_REPLAY_ON_START", true)
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
