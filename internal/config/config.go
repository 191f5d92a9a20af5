package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lingosum/intake/internal/intake"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	OIDC       OIDCConfig
	RateLimit  RateLimitConfig
	Summarizer SummarizerConfig
	Intake     IntakeConfig
	Storage    StorageConfig
	Notify     NotifyConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

// OIDCConfig enables identity provider tokens when Issuer is set
type OIDCConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
}

type RateLimitConfig struct {
	SummarizePerMin int
	UploadPerHour   int
	BatchPerHour    int
}

type SummarizerConfig struct {
	BaseURL            string
	Timeout            int // seconds
	DefaultLanguage    string
	MinLength          int
	MaxLength          int
	PreserveFormatting bool
}

type IntakeConfig struct {
	MaxBytes         int64
	AllowedMimeTypes []string
	GroupSize        int
	SharedPayloadTTL int // minutes
	SessionTTL       int // minutes
}

// StorageConfig selects the shared registry tier: "redis" (default) or "r2"
// for an S3-compatible bucket.
type StorageConfig struct {
	Backend         string
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Endpoint        string
	Region          string
	PathStyle       bool
}

// UsesObjectStore reports whether shared payloads live in a bucket.
func (c StorageConfig) UsesObjectStore() bool {
	return c.Backend == "r2" || c.Backend == "s3"
}

type NotifyConfig struct {
	ExpiresIn int // milliseconds
}

// TimeoutDuration returns the remote call timeout.
func (c SummarizerConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func Load() (*Config, error) {
	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = viper.BindEnv("oidc.audience", "OIDC_AUDIENCE")
	_ = viper.BindEnv("oidc.jwks_url", "OIDC_JWKS_URL")
	_ = viper.BindEnv("summarizer.base_url", "SUMMARIZER_BASE_URL")
	_ = viper.BindEnv("summarizer.timeout", "SUMMARIZER_TIMEOUT")
	_ = viper.BindEnv("summarizer.default_language", "SUMMARIZER_DEFAULT_LANGUAGE")
	_ = viper.BindEnv("intake.max_bytes", "INTAKE_MAX_BYTES")
	_ = viper.BindEnv("intake.group_size", "INTAKE_GROUP_SIZE")
	_ = viper.BindEnv("storage.backend", "STORAGE_BACKEND")
	_ = viper.BindEnv("storage.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("storage.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")

	// Defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.summarize_per_min", 30)
	viper.SetDefault("ratelimit.upload_per_hour", 200)
	viper.SetDefault("ratelimit.batch_per_hour", 30)

	// Remote summarizer defaults
	viper.SetDefault("summarizer.base_url", "http://localhost:8000")
	viper.SetDefault("summarizer.timeout", 120)
	viper.SetDefault("summarizer.default_language", "en")
	viper.SetDefault("summarizer.min_length", 50)
	viper.SetDefault("summarizer.max_length", 150)
	viper.SetDefault("summarizer.preserve_formatting", false)

	// Intake defaults
	viper.SetDefault("intake.max_bytes", 10*1024*1024)
	viper.SetDefault("intake.allowed_mime_types", intake.DefaultAllowedMimeTypes)
	viper.SetDefault("intake.group_size", 3)
	viper.SetDefault("intake.shared_payload_ttl", 60)
	viper.SetDefault("intake.session_ttl", 120)

	viper.SetDefault("storage.backend", "redis")
	viper.SetDefault("storage.bucket_name", "lingosum-intake")
	viper.SetDefault("storage.region", "auto")

	viper.SetDefault("notify.expires_in", 5000)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		OIDC: OIDCConfig{
			Issuer:   viper.GetString("oidc.issuer"),
			Audience: viper.GetString("oidc.audience"),
			JWKSURL:  viper.GetString("oidc.jwks_url"),
		},
		RateLimit: RateLimitConfig{
			SummarizePerMin: viper.GetInt("ratelimit.summarize_per_min"),
			UploadPerHour:   viper.GetInt("ratelimit.upload_per_hour"),
			BatchPerHour:    viper.GetInt("ratelimit.batch_per_hour"),
		},
		Summarizer: SummarizerConfig{
			BaseURL:            strings.TrimRight(viper.GetString("summarizer.base_url"), "/"),
			Timeout:            viper.GetInt("summarizer.timeout"),
			DefaultLanguage:    viper.GetString("summarizer.default_language"),
			MinLength:          viper.GetInt("summarizer.min_length"),
			MaxLength:          viper.GetInt("summarizer.max_length"),
			PreserveFormatting: viper.GetBool("summarizer.preserve_formatting"),
		},
		Intake: IntakeConfig{
			MaxBytes:         viper.GetInt64("intake.max_bytes"),
			AllowedMimeTypes: viper.GetStringSlice("intake.allowed_mime_types"),
			GroupSize:        viper.GetInt("intake.group_size"),
			SharedPayloadTTL: viper.GetInt("intake.shared_payload_ttl"),
			SessionTTL:       viper.GetInt("intake.session_ttl"),
		},
		Storage: StorageConfig{
			Backend:         strings.ToLower(viper.GetString("storage.backend")),
			AccountID:       viper.GetString("storage.account_id"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			Endpoint:        viper.GetString("storage.endpoint"),
			Region:          viper.GetString("storage.region"),
			PathStyle:       viper.GetBool("storage.path_style"),
		},
		Notify: NotifyConfig{
			ExpiresIn: viper.GetInt("notify.expires_in"),
		},
	}

	return cfg, nil
}
