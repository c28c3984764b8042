package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the bot.
type Config struct {
	DiscordToken string
	DatabaseDSN  string
	Timezone     *time.Location
	LogLevel     string
	ScanSpec     string
	// LockRoles are the privileged role IDs a private-mode lock acts on.
	LockRoles []string
}

// Load loads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	// .env file is optional, continue with environment variables
	_ = godotenv.Load()

	config := &Config{
		DiscordToken: os.Getenv("DISCORD_TOKEN"),
		DatabaseDSN:  os.Getenv("DATABASE_DSN"),
		LogLevel:     getenvDefault("LOG_LEVEL", "info"),
		ScanSpec:     getenvDefault("CLEANUP_SCAN_SPEC", "@every 30s"),
	}

	if config.DiscordToken == "" {
		return nil, &ConfigError{Field: "DISCORD_TOKEN", Message: "DISCORD_TOKEN is required"}
	}
	if config.DatabaseDSN == "" {
		return nil, &ConfigError{Field: "DATABASE_DSN", Message: "DATABASE_DSN is required"}
	}

	tz := getenvDefault("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &ConfigError{Field: "TIMEZONE", Message: fmt.Sprintf("unknown timezone %q", tz)}
	}
	config.Timezone = loc

	if raw := os.Getenv("LOCK_PRIVILEGED_ROLES"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				config.LockRoles = append(config.LockRoles, id)
			}
		}
	}

	return config, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
