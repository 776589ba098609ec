// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config holds the service settings.
type Config struct {
	Debug   bool
	LogJSON bool
	Port    string

	StorageConnectionString string
	TasksTable              string
	UsersTable              string
	ChangesQueue            string

	RedisConnectionString string
	RedisPoolSize         int
	TaskCacheTTL          time.Duration
	DeduperTTL            time.Duration
	TaskUpdatesChannel    string

	Auth0Domain   string
	Auth0Audience string
	LocalAuthMode string
	LocalSecret   string
	SessionTTL    time.Duration
	SessionIdle   time.Duration

	RelayPollInterval time.Duration
}

// LocalAuth reports whether sessions are signed with the shared HS256 secret.
func (c Config) LocalAuth() bool { return c.LocalAuthMode == "hs256" }

// Issuer returns the expected token issuer.
func (c Config) Issuer() string {
	if c.LocalAuth() || c.Auth0Domain == "" {
		return ""
	}
	return "https://" + c.Auth0Domain + "/"
}

// ConfigureLogging applies the log level and format to the standard logger.
func (c Config) ConfigureLogging() {
	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if c.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

// Load reads the API configuration from the process environment.
func Load() (Config, error) {
	return load(os.Getenv)
}

// LoadRelay reads the change relay configuration. The relay needs the
// storage and redis settings only.
func LoadRelay() (Config, error) {
	return loadRelay(os.Getenv)
}

func loadRelay(getenv func(string) string) (Config, error) {
	cfg, err := loadBackends(getenv)
	if err != nil {
		return Config{}, err
	}
	if cfg.RelayPollInterval, err = envDur(getenv, "RELAY_POLL_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func load(getenv func(string) string) (Config, error) {
	cfg, err := loadBackends(getenv)
	if err != nil {
		return Config{}, err
	}
	cfg.Auth0Domain = getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = getenv("AUTH0_AUDIENCE")
	cfg.LocalAuthMode = strings.ToLower(getenv("LOCAL_AUTH_MODE"))
	cfg.LocalSecret = getenv("LOCAL_AUTH_SHARED_SECRET")

	switch cfg.LocalAuthMode {
	case "":
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			return Config{}, errors.New("missing Auth0 config")
		}
	case "hs256":
		if cfg.LocalSecret == "" {
			return Config{}, errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
	default:
		return Config{}, fmt.Errorf("unsupported LOCAL_AUTH_MODE value %q", cfg.LocalAuthMode)
	}

	if cfg.DeduperTTL, err = envDur(getenv, "DEDUPER_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = envDur(getenv, "SESSION_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.SessionIdle, err = envDur(getenv, "SESSION_IDLE_TIMEOUT", 30*time.Minute); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadBackends(getenv func(string) string) (Config, error) {
	var err error
	cfg := Config{
		Port:                    getenv("PORT"),
		StorageConnectionString: getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:              getenv("TASKS_TABLE"),
		UsersTable:              getenv("USERS_TABLE"),
		ChangesQueue:            getenv("CHANGES_QUEUE"),
		RedisConnectionString:   getenv("REDIS_CONNECTION_STRING"),
		TaskUpdatesChannel:      getenv("TASK_UPDATES_CHANNEL"),
	}
	if dbg, perr := strconv.ParseBool(getenv("DEBUG")); perr == nil {
		cfg.Debug = dbg
	}
	cfg.LogJSON = strings.EqualFold(getenv("LOG_FORMAT"), "json")
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.TaskUpdatesChannel == "" {
		cfg.TaskUpdatesChannel = "task-updates"
	}

	if cfg.StorageConnectionString == "" || cfg.TasksTable == "" || cfg.UsersTable == "" || cfg.ChangesQueue == "" {
		return Config{}, errors.New("missing storage config")
	}
	if cfg.RedisConnectionString == "" {
		return Config{}, errors.New("missing redis config")
	}
	if cfg.TaskCacheTTL, err = envDur(getenv, "TASK_CACHE_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RedisPoolSize, err = envInt(getenv, "REDIS_POOL_SIZE", 10); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envDur(getenv func(string) string, name string, def time.Duration) (time.Duration, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", name)
	}
	return d, nil
}

func envInt(getenv func(string) string, name string, def int) (int, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", name)
	}
	return n, nil
}
