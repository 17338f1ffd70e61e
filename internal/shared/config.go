package shared

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog/log"

	"guest_reviews/internal/cache"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// DefaultListingIDs are synced by the ingestor when INGEST_LISTING_IDS is unset.
var DefaultListingIDs = []int64{101, 102, 103}

type Config struct {
	AppEnv      string `env:"APP_ENV" env-default:"prod"`
	HTTPAddr    string `env:"HTTP_ADDR" env-default:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" env-default:":9100"`
	MySQLDSN    string `env:"MYSQL_DSN" env-default:"root:root@tcp(localhost:3306)/reviews?parseTime=true&charset=utf8mb4,utf8&loc=UTC"`

	CacheBackend string `env:"CACHE_BACKEND" env-default:"memory"`
	RedisAddr    string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPass    string `env:"REDIS_PASSWORD"`
	RedisDB      int    `env:"REDIS_DB" env-default:"0"`

	Channel ChannelConfig
	Cache   CacheConfig

	ApprovalMaxBatch    int `env:"APPROVAL_MAX_BATCH" env-default:"100"`
	ApprovalMaxResponse int `env:"APPROVAL_MAX_RESPONSE" env-default:"2000"`

	Workers    int     `env:"INGEST_WORKERS" env-default:"8"`
	ListingIDs []int64 `env:"INGEST_LISTING_IDS" env-separator:","`
}

type ChannelConfig struct {
	BaseURL   string        `env:"CHANNEL_BASE_URL"`
	AccountID string        `env:"CHANNEL_ACCOUNT_ID"`
	APIKey    string        `env:"CHANNEL_API_KEY"`
	Timeout   time.Duration `env:"CHANNEL_TIMEOUT" env-default:"10s"`
	Retries   int           `env:"CHANNEL_RETRIES" env-default:"3"`
	RPS       int           `env:"CHANNEL_RPS" env-default:"5"`
	MockMode  bool          `env:"CHANNEL_MOCK_MODE" env-default:"false"`
	MockFile  string        `env:"CHANNEL_MOCK_FILE"`
}

type CacheConfig struct {
	TTLSeconds       int     `env:"CACHE_TTL_SECONDS" env-default:"300"`
	RefreshThreshold float64 `env:"CACHE_REFRESH_THRESHOLD" env-default:"0.8"`
	KeyPrefix        string  `env:"CACHE_KEY_PREFIX" env-default:"reviews"`
	RefreshWorkers   int     `env:"CACHE_REFRESH_WORKERS" env-default:"2"`
	RefreshQueue     int     `env:"CACHE_REFRESH_QUEUE" env-default:"64"`
}

// TTL is the configured entry lifetime clamped to [120s, 300s].
func (c CacheConfig) TTL() time.Duration {
	return cache.ClampTTL(time.Duration(c.TTLSeconds) * time.Second)
}

func Load() (Config, error) {
	var c Config
	if err := cleanenv.ReadEnv(&c); err != nil {
		return Config{}, fmt.Errorf("config: read env: %w", err)
	}
	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: validate: %w", err)
	}
	if len(c.ListingIDs) == 0 {
		c.ListingIDs = append([]int64(nil), DefaultListingIDs...)
	}
	if c.Cache.RefreshThreshold <= 0 || c.Cache.RefreshThreshold > 1 {
		log.Warn().Float64("threshold", c.Cache.RefreshThreshold).Msg("CACHE_REFRESH_THRESHOLD out of (0,1]; using 0.8")
		c.Cache.RefreshThreshold = 0.8
	}
	if c.Channel.APIKey == "" && !c.Channel.MockMode {
		log.Warn().Msg("CHANNEL_API_KEY is empty; serving mock reviews")
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", CacheBackendMemory, CacheBackendRedis, c.CacheBackend)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("INGEST_WORKERS must be positive, got %d", c.Workers)
	}
	if c.ApprovalMaxBatch <= 0 || c.ApprovalMaxResponse <= 0 {
		return fmt.Errorf("approval limits must be positive")
	}
	if c.Channel.Retries < 1 {
		return fmt.Errorf("CHANNEL_RETRIES must be at least 1, got %d", c.Channel.Retries)
	}
	return nil
}
