// Package main запускает HTTP-сервер сервиса подбора исполнителей.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/fairmatch/internal/config"
	"github.com/mmeshcher/fairmatch/internal/events"
	"github.com/mmeshcher/fairmatch/internal/geo"
	"github.com/mmeshcher/fairmatch/internal/handler"
	"github.com/mmeshcher/fairmatch/internal/identity"
	"github.com/mmeshcher/fairmatch/internal/middleware"
	"github.com/mmeshcher/fairmatch/internal/repository"
	"github.com/mmeshcher/fairmatch/internal/scheduler"
	"github.com/mmeshcher/fairmatch/internal/seed"
	"github.com/mmeshcher/fairmatch/internal/service"
)

// store объединяет всё, что сервис и геоиндекс требуют от хранилища.
type store interface {
	service.Repository
	geo.Store
	Ping(ctx context.Context) error
	Close() error
}

func openStore(cfg *config.Config) (store, error) {
	if cfg.DatabaseURI != "" {
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	}
	return repository.NewSQLiteRepository(cfg.SQLitePath)
}

func newRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return rdb, nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openStore(cfg)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SeedFile != "" {
		n, err := seed.LoadFile(ctx, cfg.SeedFile, repo)
		if err != nil {
			sugar.Fatalw("seed error", "error", err.Error(), "file", cfg.SeedFile)
		}
		sugar.Infow("users seeded", "count", n, "file", cfg.SeedFile)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err = newRedisClient(pingCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer rdb.Close()
	}

	var identityClient service.IdentityClient
	if cfg.IdentityAddress != "" {
		identityClient = identity.NewClient(cfg.IdentityAddress)
	}
	svc := service.NewService(repo, identityClient)

	var geoCache geo.Cache
	if rdb != nil {
		geoCache = geo.NewRedisCache(rdb)
	}
	geoIndex := geo.NewIndex(repo, geoCache, logger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret, svc, logger)
	if cfg.JWTSecret == "" {
		sugar.Warn("JWT secret is not configured, tokens are signed with a random key")
	}

	h := handler.NewHandler(svc, geoIndex, logger, authMiddleware).
		WithHealthCheck(repo.Ping)
	if rdb != nil {
		h.WithNotifier(events.NewPublisher(rdb, logger))
		if cfg.BidRateLimit > 0 {
			h.WithBidLimiter(middleware.NewRateLimiter(rdb, "bids", cfg.BidRateLimit, logger))
		}
	}

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Сверка Redis-индекса с хранилищем нужна только при включённом кэше.
	if geoCache != nil {
		sched := scheduler.New(geoIndex, cfg.GeoReconcileSpec, logger)
		if err := sched.Start(ctx); err != nil {
			sugar.Fatalw("scheduler initialization error", "error", err.Error())
		}
		g.Go(func() error {
			<-ctx.Done()
			sched.Stop()
			return nil
		})
	}

	g.Go(func() error {
		sugar.Infow("starting fairmatch server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
