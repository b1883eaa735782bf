package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"librarian/internal/app"
	"librarian/internal/cache"
	"librarian/internal/config"
	"librarian/internal/ratelimit"
	"librarian/internal/server"
	"librarian/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPassword, time.Duration(cfg.CacheTTLSeconds)*time.Second)

	limiter, err := ratelimit.NewRedisSlidingWindowLimiter(
		cfg.RedisAddr,
		cfg.RedisPassword,
		"librarian:ratelimit",
		time.Duration(cfg.RateLimitWindowSeconds)*time.Second,
		map[ratelimit.Class]int{
			ratelimit.ClassGeneral: cfg.RateLimitGeneral,
			ratelimit.ClassCreate:  cfg.RateLimitCreate,
		},
	)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Cache:       cacheClient,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Limiter:        limiter,
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
