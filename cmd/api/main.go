package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"movie-auth/internal/config"
	"movie-auth/internal/db"
	apihttp "movie-auth/internal/http"
	"movie-auth/internal/repository"
	"movie-auth/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	if cfg.IsDevelopment() {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	userRepo, closeStore, err := openUserRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("user store init", zap.Error(err))
	}
	defer closeStore()

	var emailCache service.EmailCache
	switch {
	case cfg.RedisAddr == "":
	case cfg.StoreDriver == config.DriverMemory:
		logger.Warn("email cache disabled for the in-memory store")
	default:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, email cache disabled", zap.Error(err))
		} else {
			emailCache = service.NewRedisEmailCache(redisClient, cfg.EmailCacheTTL, cfg.StoreNamespace())
		}
		cancel()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := apihttp.NewMetrics(registry)

	hasher := service.NewBcryptHasher(cfg.BcryptCost, cfg.HashWorkers)
	userSvc, err := service.NewUserService(logger, userRepo, hasher, emailCache)
	if err != nil {
		logger.Fatal("user service init", zap.Error(err))
	}
	userHandler := apihttp.NewUserHandler(logger, userSvc, metrics)
	router := apihttp.NewRouter(logger, apihttp.RouterOptions{
		CORSOrigin:     cfg.CORSOrigin,
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        metrics,
		Gatherer:       registry,
	}, userHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
		zap.Bool("email_cache", emailCache != nil),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

// openUserRepository crea el store según STORE_DRIVER y aplica migraciones.
func openUserRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.UserRepository, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := db.MigrateSQLite(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		return repository.NewSQLiteUserRepository(sqlDB), func() { sqlDB.Close() }, nil
	case config.DriverMemory:
		logger.Warn("using in-memory user store; users are lost on restart")
		return repository.NewMemoryUserRepository(), func() {}, nil
	default:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Ping(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := db.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repository.NewPgUserRepository(pool), pool.Close, nil
	}
}
