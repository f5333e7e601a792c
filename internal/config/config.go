package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// MaxSummaryCacheTTL bounds how stale a cached worklist summary may be.
const MaxSummaryCacheTTL = 5 * time.Minute

// S3 rejects multipart parts below 5 MiB.
const minPartSize = 5 << 20

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL     string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	IngestBodyLimit string        `mapstructure:"INGEST_BODY_LIMIT"`

	RedisURL        string        `mapstructure:"REDIS_URL"`
	SummaryCacheTTL time.Duration `mapstructure:"SUMMARY_CACHE_TTL"`

	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`
	MinioPartSize  string `mapstructure:"MINIO_PART_SIZE"`

	DirectoryURL     string        `mapstructure:"DIRECTORY_URL"`
	DirectoryToken   string        `mapstructure:"DIRECTORY_TOKEN"`
	DirectoryTimeout time.Duration `mapstructure:"DIRECTORY_TIMEOUT"`

	ExportLockTTL time.Duration `mapstructure:"EXPORT_LOCK_TTL"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "REQUEST_TIMEOUT", "BODY_LIMIT", "INGEST_BODY_LIMIT",
	"REDIS_URL", "SUMMARY_CACHE_TTL",
	"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL", "MINIO_PART_SIZE",
	"DIRECTORY_URL", "DIRECTORY_TOKEN", "DIRECTORY_TIMEOUT",
	"EXPORT_LOCK_TTL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1MiB")
	v.SetDefault("INGEST_BODY_LIMIT", "8MiB")
	v.SetDefault("SUMMARY_CACHE_TTL", "1m")
	v.SetDefault("MINIO_BUCKET", "studyflow-exports")
	v.SetDefault("MINIO_PART_SIZE", "16MiB")
	v.SetDefault("DIRECTORY_TIMEOUT", "5s")
	v.SetDefault("EXPORT_LOCK_TTL", "2m")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SummaryCacheTTL > MaxSummaryCacheTTL {
		cfg.SummaryCacheTTL = MaxSummaryCacheTTL
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in development mode (ENV=development); DevAuthMiddleware grants admin to every request")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CacheEnabled reports whether the worklist summary cache should be wired.
func (c *Config) CacheEnabled() bool {
	return c.RedisURL != "" && c.SummaryCacheTTL > 0
}

// ExportsEnabled reports whether exports to object storage are possible.
// They need both a bucket and a Redis instance for the export lock.
func (c *Config) ExportsEnabled() bool {
	return c.MinioEndpoint != "" && c.RedisURL != ""
}

// Validate rejects configurations that would run without real auth outside
// development, or with half-configured optional backends.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is for development and testing only; use AUTH_JWKS_URL in production")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.MinioEndpoint != "" && (c.MinioAccessKey == "" || c.MinioSecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}
	if c.MinioEndpoint != "" && c.MinioBucket == "" {
		return fmt.Errorf("MINIO_BUCKET is required when MINIO_ENDPOINT is set")
	}
	if _, err := c.PartSizeBytes(); err != nil {
		return err
	}
	return nil
}

// PartSizeBytes parses MINIO_PART_SIZE. Empty means the store default.
func (c *Config) PartSizeBytes() (uint64, error) {
	if c.MinioPartSize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.MinioPartSize)
	if err != nil {
		return 0, fmt.Errorf("MINIO_PART_SIZE: %w", err)
	}
	if n < minPartSize {
		return 0, fmt.Errorf("MINIO_PART_SIZE must be at least 5MiB, got %s", c.MinioPartSize)
	}
	return n, nil
}
