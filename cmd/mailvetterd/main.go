// Command mailvetterd runs the HTTP API: single-address checks, synchronous
// small batches, and asynchronous CSV bulk jobs backed by Postgres and
// Redis.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"mailvetter/internal/api"
	"mailvetter/internal/batch"
	"mailvetter/internal/cache"
	"mailvetter/internal/config"
	"mailvetter/internal/dnsfacade"
	"mailvetter/internal/engine"
	"mailvetter/internal/provider"
	"mailvetter/internal/proxy"
	"mailvetter/internal/store"
	"mailvetter/internal/verifier"
)

func main() {
	cfg := config.Load()

	log.Println("🔌 Connecting to Redis...")
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DialTimeout: 5 * time.Second})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("❌ failed to connect to Redis: %v", err)
	}
	pingCancel()
	log.Println("✅ Connected to Redis")

	if cfg.DBURL == "" {
		log.Fatal("❌ DB_URL environment variable is required")
	}
	log.Println("🔌 Connecting to Postgres...")
	db, err := store.Open(context.Background(), cfg.DBURL)
	if err != nil {
		log.Fatalf("❌ failed to connect to Postgres: %v", err)
	}
	defer db.Close()
	log.Println("✅ Connected to Postgres & migrations applied")

	proxyPool := proxy.New()
	if cfg.ProxyFilePath != "" {
		proxyPool, err = proxy.Load(cfg.ProxyFilePath)
		if err != nil {
			log.Fatalf("❌ failed to load proxy list: %v", err)
		}
		log.Printf("🛡️  loaded %d proxy entries from %s", proxyPool.Len(), cfg.ProxyFilePath)
	} else {
		log.Println("⚠️  no PROXY_FILE configured, dialing MX hosts directly")
	}

	registry := provider.NewRegistry()
	if cfg.ProvidersFilePath != "" {
		if err := registry.LoadOverrides(cfg.ProvidersFilePath); err != nil {
			log.Fatalf("❌ failed to load provider overrides: %v", err)
		}
		log.Printf("📇 loaded provider overrides from %s", cfg.ProvidersFilePath)
	}

	dnsCache := cache.New()
	resolver := dnsfacade.New(10*time.Second, dnsCache)

	v := verifier.New(proxyPool).WithRateLimit(5, 10)
	eng := engine.New(resolver, registry, v)
	scheduler := batch.New(eng)
	tracker := batch.NewJobTracker(redisClient, 24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache.StartCleanup(ctx, dnsCache, 5*time.Minute)
	log.Println("✅ cache eviction goroutine started (interval: 5m)")

	srv := &api.Server{
		Engine:     eng,
		Scheduler:  scheduler,
		Store:      db,
		Tracker:    tracker,
		APIKey:     os.Getenv("API_KEY"),
		CORSOrigin: cfg.CORSOrigin,
	}
	httpServer := srv.NewHTTPServer(cfg.ListenAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 mailvetterd listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ server error: %v", err)
		}
	}()

	<-quit
	log.Println("⏳ shutdown signal received, draining in-flight requests...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("❌ graceful shutdown failed: %v", err)
	}
	log.Println("✅ server shut down cleanly.")
}
