package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/config"
	"retailpos/backend/internal/httpapi"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
	mongostore "retailpos/backend/internal/store/mongo"
	pgstore "retailpos/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	switch {
	case cfg.DatabaseURL != "":
		if cfg.DatabaseMigrate {
			if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
				log.Fatalf("postgres migration failed: %v", err)
			}
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	case cfg.MongoURI != "":
		mg, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Fatalf("mongo unavailable (%v) and MONGO_URI is set; refusing to start with in-memory fallback", err)
		}
		repo = mg
		closers = append(closers, mg.Close)
		log.Println("repository: mongo")
	default:
		repo = memory.NewSeeded()
		log.Println("repository: in-memory (seeded demo tenant)")
	}

	settingsCache := cache.SettingsCache(cache.NoopSettingsCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSettingsCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
			_ = redisCache.Close()
		} else {
			settingsCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	posMetrics := metrics.New()
	svc := service.New(repo, service.Options{
		Cache:          settingsCache,
		CacheTTL:       cfg.SettingsCacheTTL,
		DefaultTaxRate: &cfg.DefaultTaxRatePercent,
		Metrics:        posMetrics,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		LoginPerMinute: cfg.LoginRatePerMinute,
		Metrics:        posMetrics.Handler(),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	var sweeper sync.WaitGroup
	if cfg.LoyaltyRetryInterval > 0 {
		sweeper.Add(1)
		go func() {
			defer sweeper.Done()
			runLoyaltySweeper(sweepCtx, svc, cfg.LoyaltyRetryInterval)
		}()
	}

	go func() {
		log.Printf("retail POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	stopSweep()
	sweeper.Wait()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// runLoyaltySweeper replays deferred loyalty accruals until ctx is done.
func runLoyaltySweeper(ctx context.Context, svc *service.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := svc.SweepPendingLoyalty(ctx)
			if err != nil {
				log.Printf("loyalty sweep failed: %v", err)
				continue
			}
			if result.Attempted > 0 {
				log.Printf("loyalty sweep attempted=%d applied=%d failed=%d", result.Attempted, result.Applied, result.Failed)
			}
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive")
	}
	return nil
}
