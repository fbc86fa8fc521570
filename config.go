package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"taskhub-api/auth"
	"taskhub-api/broadcast"
)

const (
	backendTables = "aztables"
	backendMemory = "memory"

	minSecretLength = 32
)

type config struct {
	Port string

	Backend     string
	ConnString  string
	UsersTable  string
	TasksTable  string
	StorageInit bool

	SigningKey   auth.SigningKey
	PreviousKeys []auth.SigningKey
	BcryptCost   int

	RedisConn     string
	EventsChannel string
	EventsBuffer  int

	EnablePprof bool
	Debug       bool
	JSONLogs    bool
}

// loadConfig reads the service configuration from the environment.
func loadConfig(getenv func(string) string) (config, error) {
	cfg := config{
		Port:          envOr(getenv, "PORT", "4000"),
		Backend:       strings.ToLower(envOr(getenv, "STORAGE_BACKEND", backendTables)),
		ConnString:    getenv("STORAGE_CONNECTION_STRING"),
		UsersTable:    envOr(getenv, "USERS_TABLE", "Users"),
		TasksTable:    envOr(getenv, "TASKS_TABLE", "Tasks"),
		RedisConn:     getenv("REDIS_CONNECTION_STRING"),
		EventsChannel: envOr(getenv, "EVENTS_CHANNEL", "taskhub-events"),
		EventsBuffer:  broadcast.DefaultBuffer,
		BcryptCost:    bcrypt.DefaultCost,
		JSONLogs:      strings.EqualFold(getenv("LOG_FORMAT"), "json"),
	}
	cfg.StorageInit = parseFlag(getenv("STORAGE_INIT"))
	cfg.EnablePprof = parseFlag(getenv("ENABLE_PPROF"))
	cfg.Debug = parseFlag(getenv("DEBUG"))

	switch cfg.Backend {
	case backendTables:
		if cfg.ConnString == "" {
			return cfg, errors.New("missing STORAGE_CONNECTION_STRING")
		}
	case backendMemory:
	default:
		return cfg, fmt.Errorf("invalid STORAGE_BACKEND %q", cfg.Backend)
	}

	secret := getenv("JWT_SECRET")
	if len(secret) < minSecretLength {
		return cfg, fmt.Errorf("JWT_SECRET must be at least %d characters", minSecretLength)
	}
	cfg.SigningKey = auth.SigningKey{ID: envOr(getenv, "JWT_KEY_ID", "primary"), Secret: []byte(secret)}
	previous, err := auth.ParseKeyList(getenv("JWT_PREVIOUS_KEYS"))
	if err != nil {
		return cfg, fmt.Errorf("invalid JWT_PREVIOUS_KEYS: %w", err)
	}
	cfg.PreviousKeys = previous

	if v := getenv("BCRYPT_COST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < bcrypt.MinCost || n > 14 {
			return cfg, fmt.Errorf("invalid BCRYPT_COST %q", v)
		}
		cfg.BcryptCost = n
	}
	if v := getenv("EVENTS_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid EVENTS_BUFFER %q", v)
		}
		cfg.EventsBuffer = n
	}
	return cfg, nil
}

// parseRedisOptions accepts a redis URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func parseRedisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" {
		return nil, errors.New("missing redis address")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseFlag(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
