package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	App     AppConfig     `json:"app"`
	Storage StorageConfig `json:"storage"`
	Cache   CacheConfig   `json:"cache"`
	History HistoryConfig `json:"history"`
	Redis   RedisConfig   `json:"redis"`
	Sources SourcesConfig `json:"sources"`
}

// AppConfig holds base application settings.
type AppConfig struct {
	Env         string  `json:"env"`           // local / prod
	LogLevel    string  `json:"log_level"`     // debug / info / warn / error
	HTTPAddr    string  `json:"http_addr"`     // API listen address
	AdminAPIKey string  `json:"admin_api_key"` // admin API key (empty disables auth)
	RateLimit   float64 `json:"rate_limit"`    // outbound tokens/s per source
	RateBurst   float64 `json:"rate_burst"`    // outbound bucket size
}

// StorageConfig selects and locates the relational store.
type StorageConfig struct {
	Driver string `json:"driver"` // sqlite (default) or mysql
	Path   string `json:"path"`   // sqlite database file path
	DSN    string `json:"dsn"`    // mysql DSN (used when driver is mysql)
}

// CacheConfig holds API cache TTLs.
type CacheConfig struct {
	TTL      time.Duration `json:"ttl"`       // success outcome TTL (default 24h)
	ErrorTTL time.Duration `json:"error_ttl"` // upstream error outcome TTL (default 1h)
}

// HistoryConfig holds history view settings.
type HistoryConfig struct {
	WindowDays int `json:"window_days"` // rolling window size, clamped to [1, 30]
}

// RedisConfig holds Redis connection settings for cache and rate limiter.
type RedisConfig struct {
	Addr         string        `json:"addr"`
	Password     string        `json:"password"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// BrickLinkCredentials holds the OAuth1 credential quad.
type BrickLinkCredentials struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	Token          string `json:"token"`
	TokenSecret    string `json:"token_secret"`
}

// SourcesConfig holds upstream marketplace settings.
type SourcesConfig struct {
	Timeout            time.Duration        `json:"timeout"` // per-request upstream timeout
	BrickLink          BrickLinkCredentials `json:"bricklink"`
	BrickSetAPIKey     string               `json:"brickset_api_key"`
	BrickEconomyAPIKey string               `json:"brickeconomy_api_key"`
	Currency           string               `json:"currency"` // BrickEconomy currency code
}

// Load reads configuration from a JSON file, then applies defaults and
// environment overrides. A missing file falls back to defaults.
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)
		clampConfig(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	clampConfig(cfg)

	return cfg, nil
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:       "local",
			LogLevel:  "info",
			HTTPAddr:  ":8080",
			RateLimit: 2,
			RateBurst: 5,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "brickradar.db",
		},
		Cache: CacheConfig{
			TTL:      24 * time.Hour,
			ErrorTTL: time.Hour,
		},
		History: HistoryConfig{
			WindowDays: 7,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			Password:     "",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Sources: SourcesConfig{
			Timeout:  20 * time.Second,
			Currency: "USD",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaults.Storage.Path
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = defaults.Cache.TTL
	}
	if cfg.Cache.ErrorTTL == 0 {
		cfg.Cache.ErrorTTL = defaults.Cache.ErrorTTL
	}

	if cfg.History.WindowDays == 0 {
		cfg.History.WindowDays = defaults.History.WindowDays
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = defaults.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns == 0 {
		cfg.Redis.MinIdleConns = defaults.Redis.MinIdleConns
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = defaults.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = defaults.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = defaults.Redis.WriteTimeout
	}

	if cfg.Sources.Timeout == 0 {
		cfg.Sources.Timeout = defaults.Sources.Timeout
	}
	if cfg.Sources.Currency == "" {
		cfg.Sources.Currency = defaults.Sources.Currency
	}
}

// clampConfig enforces documented bounds after all overrides are applied.
func clampConfig(cfg *Config) {
	if cfg.History.WindowDays < 1 {
		cfg.History.WindowDays = 1
	}
	if cfg.History.WindowDays > 30 {
		cfg.History.WindowDays = 30
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	// App
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("ADMIN_API_KEY"); v != "" {
		cfg.App.AdminAPIKey = v
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}

	// Storage. QUERY_LOG_DB_PATH is the historical name for the sqlite file.
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("QUERY_LOG_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Storage.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") {
		cfg.Storage.DSN = buildMySQLDSN(cfg.Storage.DSN)
	}

	// Cache
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("CACHE_ERROR_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ErrorTTL = d
		}
	}

	// History
	if v := os.Getenv("HISTORY_WINDOW_DAYS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			cfg.History.WindowDays = i
		}
	}

	// Redis
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Redis.PoolSize = i
		}
	}
	if v := os.Getenv("REDIS_MIN_IDLE_CONNS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Redis.MinIdleConns = i
		}
	}
	if v := os.Getenv("REDIS_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.DialTimeout = d
		}
	}
	if v := os.Getenv("REDIS_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.ReadTimeout = d
		}
	}
	if v := os.Getenv("REDIS_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.WriteTimeout = d
		}
	}

	// Sources
	if v := os.Getenv("SOURCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sources.Timeout = d
		}
	}
	if v := os.Getenv("BRICKLINK_CONSUMER_KEY"); v != "" {
		cfg.Sources.BrickLink.ConsumerKey = v
	}
	if v := os.Getenv("BRICKLINK_CONSUMER_SECRET"); v != "" {
		cfg.Sources.BrickLink.ConsumerSecret = v
	}
	if v := os.Getenv("BRICKLINK_TOKEN"); v != "" {
		cfg.Sources.BrickLink.Token = v
	}
	if v := os.Getenv("BRICKLINK_TOKEN_SECRET"); v != "" {
		cfg.Sources.BrickLink.TokenSecret = v
	}
	if v := os.Getenv("BRICKSET_API_KEY"); v != "" {
		cfg.Sources.BrickSetAPIKey = v
	}
	if v := os.Getenv("BRICKECONOMY_API_KEY"); v != "" {
		cfg.Sources.BrickEconomyAPIKey = v
	}
	if v := os.Getenv("BRICKECONOMY_CURRENCY"); v != "" {
		cfg.Sources.Currency = strings.ToUpper(v)
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func buildMySQLDSN(fallbackDSN string) string {
	parsed, err := mysql.ParseDSN(fallbackDSN)
	if err != nil {
		parsed = &mysql.Config{
			User:   "root",
			Passwd: "",
			Net:    "tcp",
			Addr:   "localhost:3306",
			DBName: "brickradar",
			Params: map[string]string{
				"parseTime": "true",
				"loc":       "Local",
			},
		}
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		port := "3306"
		if p := os.Getenv("DB_PORT"); p != "" {
			port = p
		} else if strings.Contains(parsed.Addr, ":") {
			parts := strings.Split(parsed.Addr, ":")
			if len(parts) == 2 {
				port = parts[1]
			}
		}
		parsed.Addr = v + ":" + port
	}
	if v := os.Getenv("DB_USER"); v != "" {
		parsed.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		parsed.Passwd = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		parsed.DBName = v
	}

	return parsed.FormatDSN()
}

// BrickLinkConfigured reports whether the full OAuth1 quad is present.
func (s *SourcesConfig) BrickLinkConfigured() bool {
	bl := s.BrickLink
	return bl.ConsumerKey != "" && bl.ConsumerSecret != "" && bl.Token != "" && bl.TokenSecret != ""
}
