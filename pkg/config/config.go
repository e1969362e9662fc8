// pkg/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Fuel policies resolve the move/fuel interaction explicitly instead of
// leaving it implicit in handler ordering.
const (
	// FuelPolicyPartial applies a move even when the cost exceeds the
	// remaining fuel; the pool floors at zero. New moves are still blocked
	// once the pool is empty.
	FuelPolicyPartial = "partial"
	// FuelPolicyStrict rejects any move the current pool cannot pay for.
	FuelPolicyStrict = "strict"
)

// GameConfig contains configuration for the astroduel server
type GameConfig struct {
	WorldWidth    float64       `json:"worldWidth"`
	WorldHeight   float64       `json:"worldHeight"`
	Rules         GameRules     `json:"gameRules"`
	NetworkConfig NetworkConfig `json:"network"`
	DatabasePath  string        `json:"databasePath"`
}

// GameRules contains per-room rules configuration
type GameRules struct {
	TurnLimit          int     `json:"turnLimit"`
	StartingFuel       float64 `json:"startingFuel"`
	MoveFuelCost       float64 `json:"moveFuelCost"`
	FuelPolicy         string  `json:"fuelPolicy"`
	BulletBounty       int     `json:"bulletBounty"`
	HazardBounty       int     `json:"hazardBounty"`
	CollisionPenalty   int     `json:"collisionPenalty"`
	PowerUpSpawnChance float64 `json:"powerUpSpawnChance"`
	ShieldTurns        int     `json:"shieldTurns"`
	HazardCount        int     `json:"hazardCount"`
	TurnStepMillis     float64 `json:"turnStepMillis"`
}

// NetworkConfig contains network-related configuration
type NetworkConfig struct {
	ListenAddress      string `json:"listenAddress"`
	HealthPort         int    `json:"healthPort"`
	TickIntervalMillis int    `json:"tickIntervalMillis"`
}

// LoadConfig loads a configuration from a file
func LoadConfig(path string) (*GameConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config GameConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// SaveConfig saves a configuration to a file
func SaveConfig(config *GameConfig, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks configuration values that would otherwise fail at runtime.
func (c *GameConfig) Validate() error {
	if c.WorldWidth <= 0 || c.WorldHeight <= 0 {
		return fmt.Errorf("world bounds must be positive, got %gx%g", c.WorldWidth, c.WorldHeight)
	}
	if c.Rules.TurnLimit < 1 {
		return fmt.Errorf("turn limit must be at least 1, got %d", c.Rules.TurnLimit)
	}
	if c.Rules.HazardCount < 0 {
		return fmt.Errorf("hazard count cannot be negative, got %d", c.Rules.HazardCount)
	}
	if c.Rules.PowerUpSpawnChance < 0 || c.Rules.PowerUpSpawnChance > 1 {
		return fmt.Errorf("power-up spawn chance must be in [0,1], got %g", c.Rules.PowerUpSpawnChance)
	}
	switch c.Rules.FuelPolicy {
	case FuelPolicyPartial, FuelPolicyStrict:
	default:
		return fmt.Errorf("unknown fuel policy %q", c.Rules.FuelPolicy)
	}
	return nil
}

// DefaultConfig returns the default server configuration. The numbers mirror
// the client's fixed 800x600 playfield and the stock 21-turn match.
func DefaultConfig() *GameConfig {
	return &GameConfig{
		WorldWidth:  800,
		WorldHeight: 600,
		Rules: GameRules{
			TurnLimit:          21,
			StartingFuel:       100,
			MoveFuelCost:       10,
			FuelPolicy:         FuelPolicyPartial,
			BulletBounty:       20,
			HazardBounty:       10,
			CollisionPenalty:   5,
			PowerUpSpawnChance: 0.2,
			ShieldTurns:        3,
			HazardCount:        10,
			TurnStepMillis:     1000,
		},
		NetworkConfig: NetworkConfig{
			ListenAddress:      ":3000",
			HealthPort:         8080,
			TickIntervalMillis: 50,
		},
		DatabasePath: "astroduel.db",
	}
}

// ApplyEnvironmentOverrides overrides configuration values from ASTRODUEL_*
// environment variables. Unset variables leave the config untouched.
func ApplyEnvironmentOverrides(config *GameConfig) error {
	if v := os.Getenv("ASTRODUEL_LISTEN_ADDR"); v != "" {
		config.NetworkConfig.ListenAddress = v
	}
	if v := os.Getenv("ASTRODUEL_DB_PATH"); v != "" {
		config.DatabasePath = v
	}
	if v := os.Getenv("ASTRODUEL_TURN_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ASTRODUEL_TURN_LIMIT %q: %w", v, err)
		}
		config.Rules.TurnLimit = limit
	}
	if v := os.Getenv("ASTRODUEL_FUEL_POLICY"); v != "" {
		config.Rules.FuelPolicy = v
	}
	if v := os.Getenv("ASTRODUEL_HEALTH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ASTRODUEL_HEALTH_PORT %q: %w", v, err)
		}
		config.NetworkConfig.HealthPort = port
	}
	return config.Validate()
}
