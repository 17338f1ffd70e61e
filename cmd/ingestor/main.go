package main

import (
	"context"
	"database/sql"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"guest_reviews/internal/adapters/channel"
	"guest_reviews/internal/adapters/observability"
	redisad "guest_reviews/internal/adapters/redis"
	"guest_reviews/internal/app"
	"guest_reviews/internal/cache"
	"guest_reviews/internal/domain"
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

	// initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	log.Info().
		Str("base", cfg.Channel.BaseURL).
		Bool("mock", cfg.Channel.MockMode).
		Int("workers", cfg.Workers).
		Int("listings", len(cfg.ListingIDs)).
		Msg("ingestor starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	metrics := observability.NewRegistry(cfg.CacheBackend)
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

	// only a shared cache can be invalidated from this process
	var c domain.Cache
	if cfg.CacheBackend == shared.CacheBackendRedis {
		rs := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		defer rs.Close()
		rc := cache.New(rs, metrics, cache.Config{Prefix: cfg.Cache.KeyPrefix, TTL: cfg.Cache.TTL()})
		defer rc.Close()
		c = rc
	}
	ing := app.NewIngestionService(client, repo, c, app.NewNormalizer())

	sem := semaphore.NewWeighted(int64(cfg.Workers))
	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for _, id := range cfg.ListingIDs {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Warn().Err(err).Msg("ingestion interrupted")
			break
		}

		wg.Add(1)
		go func(listingID int64) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := ing.SyncListing(ctx, listingID)
			if err != nil {
				failed.Add(1)
				log.Warn().Int64("listing", listingID).Err(err).Msg("sync failed")
				return
			}
			log.Info().
				Int64("listing", listingID).
				Int("fetched", res.Fetched).
				Int("stored", res.Stored).
				Int("dropped", res.Dropped).
				Str("source", string(res.Source)).
				Msg("sync ok")
		}(id)
	}

	wg.Wait()
	log.Info().Int32("failed", failed.Load()).Msg("ingestion completed")
}
