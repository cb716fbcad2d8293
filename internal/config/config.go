// Package config reads service settings from the environment, optionally
// seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

const (
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

type Redis struct {
	Host   string
	Port   string
	Pass   string
	DB     int
	Prefix string
}

func (r Redis) Addr() string {
	return r.Host + ":" + r.Port
}

type Config struct {
	HTTPAddr    string
	LogLevel    string
	StoreDriver string
	DatabaseURL string
	SQLitePath  string
	Redis       Redis

	// Tokens maps bearer tokens to roles.
	Tokens map[string]string

	StylePresetsFile string
	SerializedWrites bool

	ExportS3Bucket string
	ExportS3Prefix string
}

// Load reads the process environment. Values missing from it are taken from
// the given .env files; files that do not exist are skipped.
func Load(envFiles ...string) (Config, error) {
	fileVals := map[string]string{}
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, seen := fileVals[k]; !seen {
				fileVals[k] = v
			}
		}
	}
	return FromLookup(func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fileVals[key]
	})
}

// FromLookup builds a Config from getenv.
func FromLookup(getenv func(string) string) (Config, error) {
	envOr := func(key, fallback string) string {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return fallback
		}
		return v
	}

	cfg := Config{
		HTTPAddr:         envOr("HTTP_ADDR", ":8081"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		StoreDriver:      strings.ToLower(envOr("STORE_DRIVER", "")),
		DatabaseURL:      envOr("DATABASE_URL", ""),
		SQLitePath:       envOr("SQLITE_PATH", "data/cabinmap.db"),
		StylePresetsFile: envOr("STYLE_PRESETS_FILE", ""),
		ExportS3Bucket:   envOr("EXPORT_S3_BUCKET", ""),
		ExportS3Prefix:   envOr("EXPORT_S3_PREFIX", "exports/"),
		Redis: Redis{
			Host:   envOr("REDIS_HOST", "127.0.0.1"),
			Port:   envOr("REDIS_PORT", "6379"),
			Pass:   envOr("REDIS_PASS", ""),
			Prefix: envOr("REDIS_PREFIX", "cabinmap:"),
		},
	}

	// A database URL alone selects Postgres.
	if cfg.StoreDriver == "" {
		if cfg.DatabaseURL != "" {
			cfg.StoreDriver = DriverPostgres
		} else {
			cfg.StoreDriver = DriverMemory
		}
	}
	switch cfg.StoreDriver {
	case DriverMemory, DriverSQLite, DriverRedis:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if v := envOr("REDIS_DB", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid REDIS_DB %q", v)
		}
		cfg.Redis.DB = n
	}

	if v := envOr("SERIALIZED_WRITES", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERIALIZED_WRITES %q", v)
		}
		cfg.SerializedWrites = b
	}

	tokens, err := ParseTokens(envOr("API_TOKENS", ""))
	if err != nil {
		return Config{}, err
	}
	cfg.Tokens = tokens
	return cfg, nil
}

// ParseTokens parses "token:role,token:role". A token without a role is an
// editor.
func ParseTokens(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		token, role, found := strings.Cut(part, ":")
		token = strings.TrimSpace(token)
		role = strings.ToLower(strings.TrimSpace(role))
		if !found || role == "" {
			role = RoleEditor
		}
		if token == "" {
			return nil, fmt.Errorf("API_TOKENS: empty token in %q", part)
		}
		if role != RoleEditor && role != RoleViewer {
			return nil, fmt.Errorf("API_TOKENS: unknown role %q", role)
		}
		out[token] = role
	}
	return out, nil
}
