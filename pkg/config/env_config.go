// pkg/config/env_config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvironmentConfig holds operational settings read from the environment.
// These cover the process-level concerns (shutdown, memory ceiling, and the
// persistence circuit breaker) rather than game rules.
type EnvironmentConfig struct {
	MaxMemoryMB     int64
	ShutdownTimeout time.Duration

	CircuitBreakerMaxRequests         int
	CircuitBreakerInterval            time.Duration
	CircuitBreakerTimeout             time.Duration
	CircuitBreakerMaxConsecutiveFails int
}

// LoadConfigFromEnv reads the operational configuration from ASTRODUEL_*
// environment variables, falling back to safe defaults.
func LoadConfigFromEnv() (*EnvironmentConfig, error) {
	cfg := &EnvironmentConfig{
		MaxMemoryMB:     500,
		ShutdownTimeout: 30 * time.Second,

		CircuitBreakerMaxRequests:         3,
		CircuitBreakerInterval:            60 * time.Second,
		CircuitBreakerTimeout:             30 * time.Second,
		CircuitBreakerMaxConsecutiveFails: 5,
	}

	if v := os.Getenv("ASTRODUEL_MAX_MEMORY_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid ASTRODUEL_MAX_MEMORY_MB %q", v)
		}
		cfg.MaxMemoryMB = n
	}
	if v := os.Getenv("ASTRODUEL_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid ASTRODUEL_SHUTDOWN_TIMEOUT %q", v)
		}
		cfg.ShutdownTimeout = d
	}
	if v := os.Getenv("ASTRODUEL_BREAKER_MAX_FAILS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid ASTRODUEL_BREAKER_MAX_FAILS %q", v)
		}
		cfg.CircuitBreakerMaxConsecutiveFails = n
	}
	if v := os.Getenv("ASTRODUEL_BREAKER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid ASTRODUEL_BREAKER_TIMEOUT %q", v)
		}
		cfg.CircuitBreakerTimeout = d
	}

	return cfg, nil
}
