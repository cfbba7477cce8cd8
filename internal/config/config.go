// Package config centralises the engine's environment-variable driven
// configuration, following the same os.Getenv-with-fallback-and-log
// pattern the teacher used in its two separate main()s.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting the engine's entrypoints
// need. Zero value is not meaningful — build with Load.
type Config struct {
	ListenAddr        string
	CORSOrigin        string
	ProxyFilePath     string
	ProvidersFilePath string
	RedisAddr         string
	DBURL             string
	WorkerConcurrency int
	LogVerbose        bool
}

// Load reads a .env file if present (silently ignored if absent, matching
// godotenv's convention for local-dev convenience) then populates Config
// from the environment, logging what it picked up the way the teacher's
// main() functions did at startup.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️  error loading .env file: %v", err)
	}

	cfg := Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		CORSOrigin:        getEnv("CORS_ORIGIN", "*"),
		ProxyFilePath:     getEnv("PROXY_FILE", ""),
		ProvidersFilePath: getEnv("PROVIDERS_FILE", ""),
		RedisAddr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		DBURL:             getEnv("DB_URL", ""),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),
		LogVerbose:        strings.EqualFold(getEnv("LOG_VERBOSE", "false"), "true"),
	}

	log.Printf("🔧 config loaded: listen=%s proxies=%q providers=%q concurrency=%d",
		cfg.ListenAddr, cfg.ProxyFilePath, cfg.ProvidersFilePath, cfg.WorkerConcurrency)

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("⚠️  %s=%q invalid, defaulting to %d", key, raw, fallback)
		return fallback
	}
	return v
}
