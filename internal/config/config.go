package config

import (
	"fmt"
	"os"
)

type Config struct {
	Env           string
	ListenAddr    string
	DatabaseURL   string
	RedisURL      string
	PolicyPath    string
	HealthWorkers int
	RateLimit     int // requests per minute per client; 0 disables
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		if _, err := fmt.Sscanf(v, "%d", &out); err == nil {
			return out
		}
	}
	return def
}

// Load reads configuration from the environment. DATABASE_URL is optional;
// without it the server runs on the in-memory store for local work.
func Load() Config {
	return Config{
		Env:           getenv("APP_ENV", "development"),
		ListenAddr:    getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		PolicyPath:    os.Getenv("POLICY_CONFIG_PATH"),
		HealthWorkers: getenvInt("HEALTH_WORKERS", 0),
		RateLimit:     getenvInt("RATE_LIMIT_PER_MINUTE", 0),
	}
}
