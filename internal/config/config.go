// Package config collects the environment-driven settings for the control
// plane into typed structs, read through a small env() helper per option
// with fail-fast validation of dangerous combinations at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

// Pricing holds the per-1k-token cost used by BillingStore.calculate_cost.
type Pricing struct {
	InputPer1k  float64
	OutputPer1k float64
}

// CacheConfig holds the thread cache capacity and TTL tunables.
type CacheConfig struct {
	NMax int
	TTL  time.Duration
}

// RateLimitConfig holds a request-count-per-window rate limit.
type RateLimitConfig struct {
	Window time.Duration
	Max    int
}

// Config is the fully resolved set of server options.
type Config struct {
	Port             string
	DatabaseURL      string
	ObjectMountPath  string
	EngineBaseURL    string
	EngineCredential string
	AdminCredential  string
	LegacyAllowlist  []string
	AllowOpenMode    bool
	CORSOrigin       string
	Pricing          Pricing
	Cache            CacheConfig
	GlobalRateLimit  RateLimitConfig
	ExecuteRateLimit RateLimitConfig
	ExecuteDeadline  time.Duration
	MaxTaskBytes     int64
	MaxUploadBytes   int64
	MaxBodyBytes     int64
	RetentionHorizon time.Duration
	DevMode          bool
}

// Load resolves a Config from the process environment, applying defaults
// and failing fast on dangerous combinations.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             env("PORT", "8080"),
		DatabaseURL:      env("DATABASE_PATH", os.Getenv("DATABASE_URL")),
		ObjectMountPath:  env("OBJECT_MOUNT_PATH", "./data/objects"),
		EngineBaseURL:    env("ENGINE_BASE_URL", "http://localhost:9090"),
		EngineCredential: os.Getenv("ENGINE_CREDENTIAL"),
		AdminCredential:  os.Getenv("ADMIN_CREDENTIAL"),
		CORSOrigin:       env("CORS_ORIGIN", "*"),
		Pricing: Pricing{
			InputPer1k:  envFloat("PRICING_INPUT_PER_1K", 0.015),
			OutputPer1k: envFloat("PRICING_OUTPUT_PER_1K", 0.045),
		},
		Cache: CacheConfig{
			NMax: envInt("CACHE_N_MAX", 100),
			TTL:  envDuration("CACHE_TTL", 24*time.Hour),
		},
		GlobalRateLimit: RateLimitConfig{
			Window: 15 * time.Minute,
			Max:    envInt("RATE_LIMIT_GLOBAL_MAX", 100),
		},
		ExecuteRateLimit: RateLimitConfig{
			Window: 15 * time.Minute,
			Max:    envInt("RATE_LIMIT_EXECUTE_MAX", 30),
		},
		ExecuteDeadline:  envDuration("EXECUTE_DEADLINE", 10*time.Minute),
		MaxTaskBytes:     100 * 1024,
		MaxUploadBytes:   100 * 1024 * 1024,
		MaxBodyBytes:     10 * 1024 * 1024,
		RetentionHorizon: envDuration("RETENTION_HORIZON", 7*24*time.Hour),
		DevMode:          env("ENV", "") == "dev",
		AllowOpenMode:    envBool("ALLOW_OPEN_MODE", false),
	}

	if raw := strings.TrimSpace(os.Getenv("LEGACY_KEY_ALLOWLIST")); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.LegacyAllowlist = append(cfg.LegacyAllowlist, k)
			}
		}
	}

	if cfg.ExecuteDeadline > 15*time.Minute {
		cfg.ExecuteDeadline = 15 * time.Minute
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_PATH (or DATABASE_URL) is required")
	}
	if c.EngineCredential == "" {
		return fmt.Errorf("config: ENGINE_CREDENTIAL is required")
	}
	if c.AdminCredential == "" {
		return fmt.Errorf("config: ADMIN_CREDENTIAL is required")
	}
	if c.Cache.NMax <= 0 {
		return fmt.Errorf("config: CACHE_N_MAX must be positive")
	}
	if c.Pricing.InputPer1k < 0 || c.Pricing.OutputPer1k < 0 {
		return fmt.Errorf("config: pricing must be non-negative")
	}
	// Running without authentication must be an explicit operator decision,
	// never a default. With it set, the auth middleware admits every
	// credential-less request whether or not any keys exist in the store.
	if c.AllowOpenMode && len(c.LegacyAllowlist) > 0 {
		return fmt.Errorf("config: ALLOW_OPEN_MODE and LEGACY_KEY_ALLOWLIST are mutually exclusive")
	}
	return nil
}
