package config

import (
	"errors"
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

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Mail          MailConfig
	Calendar      CalendarConfig
	Identity      IdentityConfig
	Documents     DocumentsConfig
	Presentations PresentationsConfig
	Feed          FeedConfig
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
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MailConfig configures the outbound notification gateway.
type MailConfig struct {
	Enabled       bool
	SendgridKey   string
	FromName      string
	FromAddress   string
	SubjectPrefix string
	WorkerRetries int
}

// CalendarConfig points at the external calendar server used for
// presentation event sync.
type CalendarConfig struct {
	Enabled  bool
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// IdentityConfig configures the identity-provider group management API.
type IdentityConfig struct {
	Enabled       bool
	BaseURL       string
	Realm         string
	AdminToken    string
	Timeout       time.Duration
	GroupCacheTTL time.Duration
	WorkerRetries int
}

// DocumentsConfig controls the content-addressed document store.
type DocumentsConfig struct {
	StorageDir       string
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// PresentationsConfig tunes presentation scheduling behaviour.
type PresentationsConfig struct {
	DefaultDuration time.Duration
}

// FeedConfig controls the public ICS feed.
type FeedConfig struct {
	CacheTTL time.Duration
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
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Mail = MailConfig{
		Enabled:       v.GetBool("ENABLE_MAIL"),
		SendgridKey:   v.GetString("SENDGRID_API_KEY"),
		FromName:      v.GetString("MAIL_FROM_NAME"),
		FromAddress:   v.GetString("MAIL_FROM_ADDRESS"),
		SubjectPrefix: v.GetString("MAIL_SUBJECT_PREFIX"),
		WorkerRetries: v.GetInt("MAIL_WORKER_RETRIES"),
	}

	cfg.Calendar = CalendarConfig{
		Enabled:  v.GetBool("ENABLE_CALENDAR_SYNC"),
		BaseURL:  v.GetString("CALENDAR_BASE_URL"),
		Username: v.GetString("CALENDAR_USERNAME"),
		Password: v.GetString("CALENDAR_PASSWORD"),
		Timeout:  parseDuration(v.GetString("CALENDAR_TIMEOUT"), 10*time.Second),
	}

	cfg.Identity = IdentityConfig{
		Enabled:       v.GetBool("ENABLE_IDENTITY_SYNC"),
		BaseURL:       v.GetString("IDENTITY_BASE_URL"),
		Realm:         v.GetString("IDENTITY_REALM"),
		AdminToken:    v.GetString("IDENTITY_ADMIN_TOKEN"),
		Timeout:       parseDuration(v.GetString("IDENTITY_TIMEOUT"), 10*time.Second),
		GroupCacheTTL: parseDuration(v.GetString("IDENTITY_GROUP_CACHE_TTL"), 5*time.Minute),
		WorkerRetries: v.GetInt("IDENTITY_WORKER_RETRIES"),
	}

	maxDocSize := v.GetInt64("DOCUMENTS_MAX_FILE_SIZE")
	if maxDocSize <= 0 {
		maxDocSize = 25 * 1024 * 1024
	}
	cfg.Documents = DocumentsConfig{
		StorageDir:       v.GetString("DOCUMENTS_STORAGE_DIR"),
		MaxFileSizeBytes: maxDocSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("DOCUMENTS_ALLOWED_MIME_TYPES")),
	}

	cfg.Presentations = PresentationsConfig{
		DefaultDuration: parseDuration(v.GetString("PRESENTATION_DEFAULT_DURATION"), 45*time.Minute),
	}

	cfg.Feed = FeedConfig{
		CacheTTL: parseDuration(v.GetString("FEED_CACHE_TTL"), 5*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v2")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "thesis_mgmt")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_MAIL", false)
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_FROM_NAME", "Thesis Management")
	v.SetDefault("MAIL_FROM_ADDRESS", "no-reply@localhost")
	v.SetDefault("MAIL_SUBJECT_PREFIX", "[Thesis Management] ")
	v.SetDefault("MAIL_WORKER_RETRIES", 3)

	v.SetDefault("ENABLE_CALENDAR_SYNC", false)
	v.SetDefault("CALENDAR_BASE_URL", "http://localhost:5232/calendars/theses")
	v.SetDefault("CALENDAR_USERNAME", "")
	v.SetDefault("CALENDAR_PASSWORD", "")
	v.SetDefault("CALENDAR_TIMEOUT", "10s")

	v.SetDefault("ENABLE_IDENTITY_SYNC", false)
	v.SetDefault("IDENTITY_BASE_URL", "http://localhost:8180")
	v.SetDefault("IDENTITY_REALM", "campus")
	v.SetDefault("IDENTITY_ADMIN_TOKEN", "")
	v.SetDefault("IDENTITY_TIMEOUT", "10s")
	v.SetDefault("IDENTITY_GROUP_CACHE_TTL", "5m")
	v.SetDefault("IDENTITY_WORKER_RETRIES", 3)

	v.SetDefault("DOCUMENTS_STORAGE_DIR", "./documents")
	v.SetDefault("DOCUMENTS_MAX_FILE_SIZE", 25*1024*1024)
	v.SetDefault("DOCUMENTS_ALLOWED_MIME_TYPES", "application/pdf")

	v.SetDefault("PRESENTATION_DEFAULT_DURATION", "45m")
	v.SetDefault("FEED_CACHE_TTL", "5m")
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
