package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "roundtable.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ROUNDTABLE_PORT")
	setString(&cfg.Server.CORSOrigin, "ROUNDTABLE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ROUNDTABLE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ROUNDTABLE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ROUNDTABLE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ROUNDTABLE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ROUNDTABLE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setDuration(&cfg.NATS.HeartbeatInterval, "ROUNDTABLE_HEARTBEAT_INTERVAL")
	setDuration(&cfg.NATS.HeartbeatTTL, "ROUNDTABLE_HEARTBEAT_TTL")
	setString(&cfg.Logging.Level, "ROUNDTABLE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ROUNDTABLE_LOG_SERVICE")
	setInt(&cfg.Breaker.FailureThreshold, "ROUNDTABLE_BREAKER_FAILURE_THRESHOLD")
	setInt(&cfg.Breaker.SuccessThreshold, "ROUNDTABLE_BREAKER_SUCCESS_THRESHOLD")
	setDuration(&cfg.Breaker.Timeout, "ROUNDTABLE_BREAKER_TIMEOUT")
	setDuration(&cfg.Router.RequestTimeout, "ROUNDTABLE_ROUTER_REQUEST_TIMEOUT")
	setInt(&cfg.Router.DefaultMaxTokens, "ROUNDTABLE_ROUTER_MAX_TOKENS")
	setString(&cfg.Router.OpenRouterURL, "ROUNDTABLE_OPENROUTER_URL")
	setInt(&cfg.Engine.MaxDegradedTurns, "ROUNDTABLE_MAX_DEGRADED_TURNS")
	setDuration(&cfg.Engine.ScoreCacheTTL, "ROUNDTABLE_SCORE_CACHE_TTL")
	setInt(&cfg.Runner.MaxAttempts, "ROUNDTABLE_RUNNER_MAX_ATTEMPTS")
	setDuration(&cfg.Runner.InitialBackoff, "ROUNDTABLE_RUNNER_INITIAL_BACKOFF")
	setInt64(&cfg.Runner.MaxConcurrent, "ROUNDTABLE_RUNNER_MAX_CONCURRENT")
}

// validate rejects configurations that cannot work.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port must not be empty")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn must not be empty")
	}
	if cfg.Breaker.FailureThreshold < 1 {
		return errors.New("breaker.failure_threshold must be >= 1")
	}
	if cfg.Breaker.SuccessThreshold < 1 {
		return errors.New("breaker.success_threshold must be >= 1")
	}
	if cfg.Engine.MaxDegradedTurns < 0 {
		return errors.New("engine.max_degraded_turns must be >= 0")
	}
	if cfg.Runner.MaxAttempts < 1 {
		return errors.New("runner.max_attempts must be >= 1")
	}
	if cfg.Runner.MaxConcurrent < 1 {
		return errors.New("runner.max_concurrent must be >= 1")
	}
	for name, pt := range cfg.Engine.Phases {
		if pt.MaxDuration <= 0 {
			return fmt.Errorf("engine.phases.%s.max_duration must be > 0", name)
		}
		if pt.Grace < 0 {
			return fmt.Errorf("engine.phases.%s.grace must be >= 0", name)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
