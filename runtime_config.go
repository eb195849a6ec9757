package server

import (
	"os"
	"strconv"
	"strings"
)

// Defaults for the simulation surface.
const (
	DefaultWidth     = 40
	DefaultHeight    = 20
	DefaultFoodCount = 1
)

// RuntimeConfig carries the env-derived rates, world bounds, and AOI
// parameters. Values are clamped at load so the rest of the code can trust
// them.
type RuntimeConfig struct {
	TickHz          int
	SpectatorHz     int
	PlayerHz        int
	EnableBroadcast bool
	DebugTPS        bool

	Width            int
	Height           int
	MaxSnakesPerUser int

	BindHost string
	BindPort int

	ChunkSize       int
	AOIRadius       int
	SingleChunkMode bool
	AOIEnabled      bool
}

// RuntimeConfigFromEnv reads every knob from the environment, applying
// defaults and clamps. Unset or malformed values fall back silently; the
// caller logs the effective config once at boot.
func RuntimeConfigFromEnv() RuntimeConfig {
	cfg := RuntimeConfig{
		TickHz:           10,
		SpectatorHz:      10,
		PlayerHz:         10,
		EnableBroadcast:  true,
		Width:            DefaultWidth,
		Height:           DefaultHeight,
		MaxSnakesPerUser: 3,
		BindHost:         "127.0.0.1",
		BindPort:         8080,
		ChunkSize:        64,
		AOIRadius:        1,
		SingleChunkMode:  true,
	}

	cfg.TickHz = clampInt(envInt("TICK_HZ", cfg.TickHz), 5, 60)
	cfg.SpectatorHz = clampInt(envInt("SPECTATOR_HZ", cfg.SpectatorHz), 1, 60)
	cfg.PlayerHz = clampInt(envInt("PLAYER_HZ", cfg.PlayerHz), 1, 60)
	cfg.EnableBroadcast = envBool("ENABLE_BROADCAST", cfg.EnableBroadcast)
	cfg.DebugTPS = envBool("DEBUG_TPS", cfg.DebugTPS)
	if os.Getenv("DEBUG_TPS") == "" {
		// Older deployments used LOG_HZ for the same switch.
		cfg.DebugTPS = envBool("LOG_HZ", cfg.DebugTPS)
	}
	if os.Getenv("TICK_HZ") == "" {
		// Older deployments configured the period instead of the rate.
		if legacyMS := envInt("SNAKE_TICK_MS", -1); legacyMS > 0 {
			cfg.TickHz = clampInt(int(1000.0/float64(legacyMS)+0.5), 5, 60)
		}
	}

	cfg.Width = maxInt(10, envInt("SNAKE_W", cfg.Width))
	cfg.Height = maxInt(10, envInt("SNAKE_H", cfg.Height))
	cfg.MaxSnakesPerUser = maxInt(1, envInt("SNAKE_MAX_PER_USER", cfg.MaxSnakesPerUser))

	if host := os.Getenv("SERVER_BIND_HOST"); host != "" {
		cfg.BindHost = host
	}
	cfg.BindPort = maxInt(1, envInt("SERVER_BIND_PORT", cfg.BindPort))

	cfg.ChunkSize = maxInt(minChunkSize, envInt("CHUNK_SIZE", cfg.ChunkSize))
	cfg.AOIRadius = maxInt(0, envInt("AOI_RADIUS", cfg.AOIRadius))
	cfg.SingleChunkMode = envBool("SINGLE_CHUNK_MODE", cfg.SingleChunkMode)
	cfg.AOIEnabled = envBool("AOI_ENABLED", cfg.AOIEnabled)

	return cfg
}

// TickIntervalMS returns the tick period, never below 1ms.
func (c RuntimeConfig) TickIntervalMS() int {
	return maxInt(1, int(1000.0/float64(c.TickHz)+0.5))
}

// SpectatorIntervalMS returns the broadcast period, never below 1ms.
func (c RuntimeConfig) SpectatorIntervalMS() int {
	return maxInt(1, int(1000.0/float64(c.SpectatorHz)+0.5))
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(name string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(name))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
