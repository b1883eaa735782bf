package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
port: "8080"
databaseURL: "postgres://localhost:5432/library"
redisAddr: "localhost:6379"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.Port)
	}
	if cfg.CacheTTLSeconds != DefaultCacheTTLSeconds {
		t.Fatalf("cacheTTLSeconds = %d, want %d", cfg.CacheTTLSeconds, DefaultCacheTTLSeconds)
	}
	if cfg.RateLimitWindowSeconds != DefaultRateLimitWindowSeconds {
		t.Fatalf("rateLimitWindowSeconds = %d, want %d", cfg.RateLimitWindowSeconds, DefaultRateLimitWindowSeconds)
	}
	if cfg.RateLimitGeneral != DefaultRateLimitGeneral {
		t.Fatalf("rateLimitGeneral = %d, want %d", cfg.RateLimitGeneral, DefaultRateLimitGeneral)
	}
	if cfg.RateLimitCreate != DefaultRateLimitCreate {
		t.Fatalf("rateLimitCreate = %d, want %d", cfg.RateLimitCreate, DefaultRateLimitCreate)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, minimalConfig+`
logLevel: "debug"
cacheTTLSeconds: 60
rateLimitWindowSeconds: 120
rateLimitGeneral: 20
rateLimitCreate: 5
trustedProxies:
  - "10.0.0.0/8"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("logLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.CacheTTLSeconds != 60 || cfg.RateLimitWindowSeconds != 120 || cfg.RateLimitGeneral != 20 || cfg.RateLimitCreate != 5 {
		t.Fatalf("unexpected knobs: %+v", cfg)
	}
	if len(cfg.TrustedProxies) != 1 || cfg.TrustedProxies[0] != "10.0.0.0/8" {
		t.Fatalf("trustedProxies = %v", cfg.TrustedProxies)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LIBRARIAN_CACHE_TTL_SECONDS", "45")
	t.Setenv("LIBRARIAN_RATE_LIMIT_GENERAL", "7")
	t.Setenv("LIBRARIAN_TRUSTED_PROXIES", "10.0.0.1, 10.0.0.2")

	cfg, err := Load(writeConfigFile(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want env override 9090", cfg.Port)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("redisAddr = %q, want env override", cfg.RedisAddr)
	}
	if cfg.CacheTTLSeconds != 45 {
		t.Fatalf("cacheTTLSeconds = %d, want 45", cfg.CacheTTLSeconds)
	}
	if cfg.RateLimitGeneral != 7 {
		t.Fatalf("rateLimitGeneral = %d, want 7", cfg.RateLimitGeneral)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "10.0.0.2" {
		t.Fatalf("trustedProxies = %v", cfg.TrustedProxies)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing port", `
databaseURL: "postgres://localhost/library"
redisAddr: "localhost:6379"
`},
		{"missing databaseURL", `
port: "8080"
redisAddr: "localhost:6379"
`},
		{"missing redisAddr", `
port: "8080"
databaseURL: "postgres://localhost/library"
`},
		{"negative ttl", minimalConfig + `
cacheTTLSeconds: -1
`},
		{"negative rate limit", minimalConfig + `
rateLimitGeneral: -5
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfigFile(t, tt.content)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfigFile(t, "port: [unclosed")); err == nil {
		t.Fatalf("expected parse error")
	}
}
