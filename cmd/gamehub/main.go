package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/playforge/gamehub/internal/admission"
	"github.com/playforge/gamehub/internal/config"
	redisx "github.com/playforge/gamehub/internal/redis"
	"github.com/playforge/gamehub/internal/server"
	"github.com/playforge/gamehub/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	cfgPath := os.Getenv("GAMEHUB_CONFIG")
	manager, err := config.Load(cfgPath, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	manager.Watch()

	cfg := manager.Config()
	policy := manager.Current()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Backing store: Redis when enabled, in-process otherwise. Both sides
	// of the admission core (quota ledger and session registry) share it
	// under disjoint key prefixes.
	var store admission.Store
	if cfg.Redis.Enabled {
		rc := redisx.DefaultConfig()
		rc.Addr = cfg.Redis.Addr
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		if cfg.Redis.PoolSize > 0 {
			rc.PoolSize = cfg.Redis.PoolSize
		}
		if cfg.Redis.MinIdleConns > 0 {
			rc.MinIdleConns = cfg.Redis.MinIdleConns
		}
		rc.EnableSentinel = cfg.Redis.EnableSentinel
		rc.SentinelAddrs = cfg.Redis.SentinelAddrs
		rc.SentinelPassword = cfg.Redis.SentinelPassword
		rc.MasterName = cfg.Redis.MasterName
		rc.EnableCluster = cfg.Redis.EnableCluster
		rc.ClusterAddrs = cfg.Redis.ClusterAddrs

		client, err := redisx.NewClient(rc, zapLogger)
		if err != nil {
			zapLogger.Warn("Redis unreachable at startup, admission will fail open until it recovers", zap.Error(err))
		}
		store = admission.NewRedisStore(client)
	} else {
		store = admission.NewMemoryStore()
	}

	ledger := admission.NewLedger(store, zapLogger, policy.StoreTimeout)
	registry := admission.NewRegistry(store, zapLogger, policy.SessionTTL, policy.TournamentTTL, policy.StoreTimeout)

	middleware := admission.NewMiddleware(manager, ledger, registry, nil, zapLogger)
	sampler := admission.NewSampler(
		admission.InFlightLoadProvider(middleware.InFlight(), int64(maxConcurrency())),
		5*time.Second,
		zapLogger,
	)
	middleware.SetSampler(sampler)
	sampler.Start(ctx)
	admission.StartBackgroundCleanup(ctx, store, time.Minute, zapLogger)

	adminAPI := admission.NewAdminAPI(manager, ledger, registry, zapLogger, manager.SetEmergencyMode)

	srv := server.New(server.Options{
		Logger:    zapLogger,
		Admission: middleware,
		AdminAPI:  adminAPI,
		Store:     store,
		JWTSecret: []byte(os.Getenv("JWT_SECRET")),
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	go func() {
		zapLogger.Info("gamehub listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func maxConcurrency() int {
	// Rough in-flight capacity used to scale the sampled service load.
	return 512
}
