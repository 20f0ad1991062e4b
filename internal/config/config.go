// Package config loads runtime configuration from CASTBEAM_* environment
// variables with sensible defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Control API
	APIAddr string

	// Streaming server. Port 0 picks a free one at bind time.
	StreamAddr string

	// Transcoding
	FFmpegPath string
	// StreamWait bounds how long a transcoded range request blocks for
	// bytes that are not produced yet.
	StreamWait time.Duration
	// BufferCapBytes bounds retained transcode output before head
	// eviction.
	BufferCapBytes int64

	// Protocol timing
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	LaunchTimeout     time.Duration

	// StatusPollRate throttles receiver status refreshes per second.
	StatusPollRate float64

	// Debug enables verbose structured logging.
	Debug bool
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		APIAddr:           getEnv("CASTBEAM_API_ADDR", ":8010"),
		StreamAddr:        getEnv("CASTBEAM_STREAM_ADDR", ":0"),
		FFmpegPath:        getEnv("CASTBEAM_FFMPEG_PATH", "ffmpeg"),
		StreamWait:        getDurationEnv("CASTBEAM_STREAM_WAIT", 30*time.Second),
		BufferCapBytes:    getInt64Env("CASTBEAM_BUFFER_CAP_BYTES", 256<<20),
		HeartbeatInterval: getDurationEnv("CASTBEAM_HEARTBEAT_INTERVAL", 5*time.Second),
		HeartbeatTimeout:  getDurationEnv("CASTBEAM_HEARTBEAT_TIMEOUT", 10*time.Second),
		LaunchTimeout:     getDurationEnv("CASTBEAM_LAUNCH_TIMEOUT", 10*time.Second),
		StatusPollRate:    getFloatEnv("CASTBEAM_STATUS_POLL_RATE", 1),
		Debug:             getBoolEnv("CASTBEAM_DEBUG", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
