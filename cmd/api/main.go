package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"guest_reviews/internal/adapters/channel"
	server "guest_reviews/internal/adapters/http_server"
	"guest_reviews/internal/adapters/observability"
	redisad "guest_reviews/internal/adapters/redis"
	"guest_reviews/internal/app"
	"guest_reviews/internal/cache"
	"guest_reviews/internal/shared"
	mysqlrepo "guest_reviews/internal/storage/mysql"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")
	repo := mysqlrepo.New(db)
	deps := map[string]app.Pinger{"mysql": repo}

	// cache
	metrics := observability.NewRegistry(cfg.CacheBackend)
	var store cache.Store = cache.NewMemoryStore()
	if cfg.CacheBackend == shared.CacheBackendRedis {
		rs := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		defer rs.Close()
		store = rs
		deps["redis"] = rs
	}
	c := cache.New(store, metrics, cache.Config{
		Prefix:           cfg.Cache.KeyPrefix,
		TTL:              cfg.Cache.TTL(),
		RefreshThreshold: cfg.Cache.RefreshThreshold,
		RefreshWorkers:   cfg.Cache.RefreshWorkers,
		RefreshQueue:     cfg.Cache.RefreshQueue,
		SweepInterval:    time.Minute,
	})
	defer c.Close()
	log.Info().Str("backend", cfg.CacheBackend).Dur("ttl", c.TTL()).Msg("cache ready")

	// services
	client := channel.New(channel.Config{
		BaseURL:   cfg.Channel.BaseURL,
		AccountID: cfg.Channel.AccountID,
		APIKey:    cfg.Channel.APIKey,
		Timeout:   cfg.Channel.Timeout,
		Retries:   cfg.Channel.Retries,
		RPS:       cfg.Channel.RPS,
		MockMode:  cfg.Channel.MockMode,
		MockFile:  cfg.Channel.MockFile,
	}, metrics)
	norm := app.NewNormalizer()

	// http
	srv := server.New()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Reviews: app.NewReviewService(client, repo, c, norm),
		Approvals: app.NewApprovalService(repo, c, app.ApprovalConfig{
			MaxBatch:       cfg.ApprovalMaxBatch,
			MaxResponseLen: cfg.ApprovalMaxResponse,
		}),
		Health: app.NewHealthService(client, metrics, deps),
		Cache:  c,
	})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}
