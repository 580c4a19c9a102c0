// cmd/server/main.go
// HTTP API service: set fetching, scoring, history.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brickradar/internal/api"
	"brickradar/internal/cache"
	"brickradar/internal/config"
	"brickradar/internal/model"
	"brickradar/internal/pkg/logger"
	"brickradar/internal/pkg/ratelimit"
	"brickradar/internal/service"
	"brickradar/internal/sources"
	"brickradar/internal/store"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func main() {
	configFile := flag.String("config", "", "config file path")
	flag.Parse()

	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slogger := logger.NewDefault(cfg.App.LogLevel)
	slog.SetDefault(slogger)
	slogger.Info("starting brickradar server", slog.String("env", cfg.App.Env))

	db, err := model.Open(&cfg.Storage, slogger)
	if err != nil {
		slogger.Error("failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := model.AutoMigrate(db); err != nil {
		slogger.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slogger.Info("database ready", slog.String("driver", cfg.Storage.Driver))

	rdb := initRedis(cfg.Redis, slogger)
	if rdb != nil {
		defer rdb.Close()
	}

	svc := buildService(cfg, db, rdb, slogger)

	server := api.NewServer(svc, slogger, &api.Config{
		Addr:        cfg.App.HTTPAddr,
		Debug:       cfg.App.Env == "local",
		EnableCORS:  cfg.App.Env == "local",
		AdminAPIKey: cfg.App.AdminAPIKey,
		WindowDays:  cfg.History.WindowDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			slogger.Error("server error", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	slogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	slogger.Info("brickradar server stopped")
}

func loadConfig(configFile string) (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	for _, path := range []string{"configs/config.json", "config.json", "/etc/brickradar/config.json"} {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}
	return config.Load()
}

// initRedis connects the cache/limiter backend. An unreachable Redis is not
// fatal; the cache degrades to live fetches and the limiter fails open.
func initRedis(cfg config.RedisConfig, log *slog.Logger) *redis.Client {
	if cfg.Addr == "" {
		log.Warn("redis not configured, caching disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable, caching disabled", slog.String("error", err.Error()))
		rdb.Close()
		return nil
	}

	log.Info("redis connected", slog.String("addr", cfg.Addr))
	return rdb
}

// buildService wires storage, cache, limiter and the configured source
// clients into the fetch service.
func buildService(cfg *config.Config, db *gorm.DB, rdb *redis.Client, slogger *slog.Logger) *service.Service {
	st := store.New(db, slogger)
	ca := cache.New(rdb, cfg.Cache.TTL, cfg.Cache.ErrorTTL, slogger)

	var limiter *ratelimit.Limiter
	if rdb != nil && cfg.App.RateLimit > 0 {
		limiter = ratelimit.New(rdb, int(cfg.App.RateLimit), int(cfg.App.RateBurst))
	}

	var bl *sources.BrickLinkClient
	if cfg.Sources.BrickLinkConfigured() {
		c := cfg.Sources.BrickLink
		bl = sources.NewBrickLinkClient(c.ConsumerKey, c.ConsumerSecret, c.Token, c.TokenSecret, cfg.Sources.Timeout)
	} else {
		slogger.Warn("bricklink credentials absent, source disabled")
	}

	var bs *sources.BrickSetClient
	if cfg.Sources.BrickSetAPIKey != "" {
		bs = sources.NewBrickSetClient(cfg.Sources.BrickSetAPIKey, cfg.Sources.Timeout)
	} else {
		slogger.Warn("brickset API key absent, source disabled")
	}

	var be *sources.BrickEconomyClient
	if cfg.Sources.BrickEconomyAPIKey != "" {
		be = sources.NewBrickEconomyClient(cfg.Sources.BrickEconomyAPIKey, cfg.Sources.Timeout)
	} else {
		slogger.Warn("brickeconomy API key absent, source disabled")
	}

	return service.New(st, ca, limiter, bl, bs, be, cfg.Sources.Currency, slogger)
}
