// Package config reads the service configuration from PORTAL_* environment
// variables. cmd/api loads a .env file first when one is present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// DefaultRoster is the fixed list of family-health units scored and ranked
// by the portal. Override with PORTAL_ROSTER (comma-separated).
var DefaultRoster = []string{
	"PSF CANUDOS",
	"PSF CAROLINA",
	"PSF VARZEA",
	"PSF ARNOLD",
	"PSF NOEME TELES",
}

// Config holds everything cmd/api needs to wire the service.
type Config struct {
	Addr  string
	Store string

	PGDSN    string
	MongoURI string
	MongoDB  string

	// Redis keeps session presence and the portal counter out of the
	// primary store when configured; empty means the primary store
	// handles both.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SharedPassword string
	TokenTTL       time.Duration

	Roster []string

	RateBurst  int
	RatePerSec int
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Addr:           envOr("PORTAL_ADDR", ":8080"),
		Store:          strings.ToLower(envOr("PORTAL_STORE", StoreMemory)),
		PGDSN:          os.Getenv("PORTAL_PG_DSN"),
		MongoURI:       os.Getenv("PORTAL_MONGO_URI"),
		MongoDB:        envOr("PORTAL_MONGO_DB", "acsportal"),
		RedisAddr:      os.Getenv("PORTAL_REDIS_ADDR"),
		RedisPassword:  os.Getenv("PORTAL_REDIS_PASSWORD"),
		SharedPassword: envOr("PORTAL_SHARED_PASSWORD", "1234"),
	}

	var err error
	if cfg.RedisDB, err = envInt("PORTAL_REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = envInt("PORTAL_RATE_BURST", 20); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSec, err = envInt("PORTAL_RATE_PER_SEC", 10); err != nil {
		return Config{}, err
	}

	ttlRaw := envOr("PORTAL_TOKEN_TTL", "12h")
	if cfg.TokenTTL, err = time.ParseDuration(ttlRaw); err != nil {
		return Config{}, fmt.Errorf("PORTAL_TOKEN_TTL: %w", err)
	}

	if raw := strings.TrimSpace(os.Getenv("PORTAL_ROSTER")); raw != "" {
		for _, team := range strings.Split(raw, ",") {
			if team = strings.TrimSpace(team); team != "" {
				cfg.Roster = append(cfg.Roster, team)
			}
		}
	} else {
		cfg.Roster = append(cfg.Roster, DefaultRoster...)
	}

	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.PGDSN == "" {
			return Config{}, fmt.Errorf("PORTAL_PG_DSN is required for the %s store", StorePostgres)
		}
	case StoreMongo:
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("PORTAL_MONGO_URI is required for the %s store", StoreMongo)
		}
	default:
		return Config{}, fmt.Errorf("unknown store backend %q", cfg.Store)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
