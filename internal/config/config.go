package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// Defaults applied when the file leaves a knob unset.
const (
	DefaultCacheTTLSeconds        = 300
	DefaultRateLimitWindowSeconds = 3600
	DefaultRateLimitGeneral       = 1000
	DefaultRateLimitCreate        = 50
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                   string   `yaml:"port"`
	DatabaseURL            string   `yaml:"databaseURL"`
	RedisAddr              string   `yaml:"redisAddr"`
	RedisPassword          string   `yaml:"redisPassword"`
	LogLevel               string   `yaml:"logLevel"`
	CacheTTLSeconds        int      `yaml:"cacheTTLSeconds"`
	RateLimitWindowSeconds int      `yaml:"rateLimitWindowSeconds"`
	RateLimitGeneral       int      `yaml:"rateLimitGeneral"`
	RateLimitCreate        int      `yaml:"rateLimitCreate"`
	TrustedProxies         []string `yaml:"trustedProxies"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LIBRARIAN_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheTTLSeconds = n
		}
	}
	if v := os.Getenv("LIBRARIAN_RATE_LIMIT_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitWindowSeconds = n
		}
	}
	if v := os.Getenv("LIBRARIAN_RATE_LIMIT_GENERAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitGeneral = n
		}
	}
	if v := os.Getenv("LIBRARIAN_RATE_LIMIT_CREATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitCreate = n
		}
	}
	if v := os.Getenv("LIBRARIAN_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.CacheTTLSeconds == 0 {
		cfg.CacheTTLSeconds = DefaultCacheTTLSeconds
	}
	if cfg.RateLimitWindowSeconds == 0 {
		cfg.RateLimitWindowSeconds = DefaultRateLimitWindowSeconds
	}
	if cfg.RateLimitGeneral == 0 {
		cfg.RateLimitGeneral = DefaultRateLimitGeneral
	}
	if cfg.RateLimitCreate == 0 {
		cfg.RateLimitCreate = DefaultRateLimitCreate
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.CacheTTLSeconds < 0 {
		return errors.New("config: cacheTTLSeconds must not be negative")
	}
	if cfg.RateLimitWindowSeconds < 0 || cfg.RateLimitGeneral < 0 || cfg.RateLimitCreate < 0 {
		return errors.New("config: rate limit settings must not be negative")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
