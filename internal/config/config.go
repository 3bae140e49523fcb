package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Port                      string `toml:"port"`
	AllowedOrigin             string `toml:"allowed_origin"`
	DatabaseURL               string `toml:"database_url"`
	RedisAddr                 string `toml:"redis_addr"`
	RedisPassword             string `toml:"redis_password"`
	RedisDB                   int    `toml:"redis_db"`
	CommissionCacheTTLSeconds int    `toml:"commission_cache_ttl_seconds"`
	AuthSecret                string `toml:"auth_secret"`
	AccessTokenTTLMinutes     int    `toml:"access_token_ttl_minutes"`
	ManagerPIN                string `toml:"manager_pin"`
	LedgerCASRetries          int    `toml:"ledger_cas_retries"`
}

func defaults() Config {
	return Config{
		Port:                      "8080",
		AllowedOrigin:             "http://127.0.0.1:3000",
		CommissionCacheTTLSeconds: 300,
		AccessTokenTTLMinutes:     480,
		LedgerCASRetries:          3,
	}
}

func Load() Config {
	cfg := defaults()
	applyEnv(&cfg)
	return cfg
}

// LoadFile reads a TOML file over the defaults; environment variables still
// take precedence over values from the file.
func LoadFile(path string) (Config, error) {
	cfg := defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

// FromEnvironment loads CONFIG_FILE when it is set and falls back to Load.
func FromEnvironment() (Config, error) {
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		return LoadFile(path)
	}
	return Load(), nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.AllowedOrigin = getEnv("ALLOWED_ORIGIN", cfg.AllowedOrigin)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB, 0)
	cfg.CommissionCacheTTLSeconds = getEnvInt("COMMISSION_CACHE_TTL_SECONDS", cfg.CommissionCacheTTLSeconds, 1)
	cfg.AuthSecret = strings.TrimSpace(getEnv("AUTH_SECRET", cfg.AuthSecret))
	cfg.AccessTokenTTLMinutes = getEnvInt("ACCESS_TOKEN_TTL_MINUTES", cfg.AccessTokenTTLMinutes, 1)
	cfg.ManagerPIN = strings.TrimSpace(getEnv("MANAGER_PIN", cfg.ManagerPIN))
	cfg.LedgerCASRetries = getEnvInt("LEDGER_CAS_RETRIES", cfg.LedgerCASRetries, 0)
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getEnvInt keeps fallback when the variable is unset, malformed or below min.
func getEnvInt(key string, fallback int, min int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < min {
		return fallback
	}
	return val
}
