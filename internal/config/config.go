// Package config loads relayd settings from the environment, reading a .env
// file first when one is present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	RelayAddr     string
	RedisURL      string
	DatabaseURL   string
	JWTSecret     string
	CORSOrigins   []string
	LogLevel      string
	LogFormat     string
	RoleSeedSalt  string
	JournalKey    string
	JournalMaxLen int64
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		RelayAddr:     ":8080",
		CORSOrigins:   []string{"*"},
		LogLevel:      "info",
		LogFormat:     "text",
		JournalKey:    "room_journal",
		JournalMaxLen: 10000,
	}
}

// Load reads .env files (missing files are ignored) and then the environment.
// Variables already set in the environment win over .env values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, starting from Defaults.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Defaults()
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("RELAY_ADDR", &cfg.RelayAddr)
	str("REDIS_URL", &cfg.RedisURL)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("ROLE_SEED_SALT", &cfg.RoleSeedSalt)
	str("JOURNAL_KEY", &cfg.JournalKey)

	if v := strings.TrimSpace(getenv("CORS_ORIGINS")); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORSOrigins = origins
	}
	if v := strings.TrimSpace(getenv("JOURNAL_MAXLEN")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("config: JOURNAL_MAXLEN %q is not a non-negative integer", v)
		}
		cfg.JournalMaxLen = n
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}
	return cfg, nil
}
