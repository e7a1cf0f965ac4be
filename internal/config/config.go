// Package config loads engine configuration from an optional YAML file
// overlaid with environment variables. Env always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the binary needs to wire itself.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`

	CacheTTL  time.Duration `yaml:"-"`
	HexEdgeM  float64       `yaml:"hexEdgeM"`
	FuelPerKm float64       `yaml:"fuelPerKm"`
	SpeedMps  float64       `yaml:"speedMps"`

	// SequencerPolicy pins the stop ordering algorithm; empty means best
	// available with fallback.
	SequencerPolicy string `yaml:"sequencerPolicy"`

	// TelemetryBurst and TelemetryPerMin bound websocket ingest per rider.
	TelemetryPerMin float64 `yaml:"telemetryPerMin"`
	TelemetryBurst  int     `yaml:"telemetryBurst"`

	CacheTTLSeconds int `yaml:"cacheTtlSeconds"`
}

// Load reads CONFIG_FILE (if set) then overlays environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            "8080",
		CacheTTLSeconds: 300,
		HexEdgeM:        174,
		FuelPerKm:       0.03,
		SpeedMps:        8.33,
		TelemetryPerMin: 2,
		TelemetryBurst:  5,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.SequencerPolicy = getEnv("SEQUENCER_POLICY", cfg.SequencerPolicy)
	cfg.CacheTTLSeconds = getIntEnv("CACHE_TTL_SECONDS", cfg.CacheTTLSeconds)
	cfg.HexEdgeM = getFloatEnv("HEX_EDGE_M", cfg.HexEdgeM)
	cfg.FuelPerKm = getFloatEnv("FUEL_PER_KM", cfg.FuelPerKm)
	cfg.SpeedMps = getFloatEnv("SPEED_MPS", cfg.SpeedMps)
	cfg.TelemetryPerMin = getFloatEnv("TELEMETRY_PER_MIN", cfg.TelemetryPerMin)
	cfg.TelemetryBurst = getIntEnv("TELEMETRY_BURST", cfg.TelemetryBurst)

	cfg.CacheTTL = time.Duration(cfg.CacheTTLSeconds) * time.Second
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
