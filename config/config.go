// Package config loads the daemon configuration from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all daemon settings.
type Config struct {
	APIBaseURL string
	HTTPPort   int

	MPVBinPath    string
	MPVSocketPath string
	Volume        int
	CacheSecs     int

	TickInterval time.Duration

	HistoryDBPath string

	LogLevel string
	Debug    bool

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
}

// Load reads configuration from the environment, with an optional .env
// file, and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL: getEnvWithDefault("JUKEBOX_API_URL", "http://localhost:3001/api"),
		HTTPPort:   getEnvAsIntWithDefault("JUKEBOX_HTTP_PORT", 3002),

		MPVBinPath:    getEnvWithDefault("JUKEBOX_MPV_BIN", "mpv"),
		MPVSocketPath: getEnvWithDefault("JUKEBOX_MPV_SOCKET", "/tmp/jukebox_mpv.sock"),
		Volume:        getEnvAsIntWithDefault("JUKEBOX_VOLUME", 80),
		CacheSecs:     getEnvAsIntWithDefault("JUKEBOX_CACHE_SECS", 20),

		TickInterval: time.Duration(getEnvAsIntWithDefault("JUKEBOX_TICK_MS", 1000)) * time.Millisecond,

		HistoryDBPath: getEnvWithDefault("JUKEBOX_HISTORY_DB", "data/history.db"),

		LogLevel: getEnvWithDefault("LOG_LEVEL", "info"),
		Debug:    getEnvAsBool("JUKEBOX_DEBUG"),

		RedisHost:     getEnvWithDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvAsIntWithDefault("REDIS_PORT", 6379),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsIntWithDefault("REDIS_DB", 1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("JUKEBOX_API_URL is required")
	}
	if c.MPVSocketPath == "" {
		return errors.New("JUKEBOX_MPV_SOCKET is required")
	}
	if c.Volume < 0 || c.Volume > 100 {
		return errors.New("JUKEBOX_VOLUME must be between 0 and 100")
	}
	if c.CacheSecs < 1 {
		return errors.New("JUKEBOX_CACHE_SECS must be at least 1")
	}
	if c.TickInterval < 100*time.Millisecond {
		return errors.New("JUKEBOX_TICK_MS must be at least 100")
	}
	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsIntWithDefault(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return false
}
