package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"cashflow/internal/amqp"
	"cashflow/internal/backend"
	"cashflow/internal/cache"
	"cashflow/internal/cli"
	"cashflow/internal/core"
	apphttp "cashflow/internal/http"
	"cashflow/internal/log"
	"cashflow/internal/services"
	"cashflow/internal/viewstate"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.MustLoadConfig()
	logger := cli.SetupLogger(cfg)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Slog()).
		CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	var kv viewstate.KV = result.ViewStates
	if kv == nil {
		kv = viewstate.NewMemoryKV(0)
	}
	views := viewstate.NewStore(kv, logger.WithComponent(log.ComponentViewState).Slog(), cfg.AppEnv)

	cashflowCache := cache.NewLRUCache[core.CashflowResponse](cfg.CacheMaxEntries, cfg.CacheTTL)
	categoryFlowCache := cache.NewLRUCache[core.CategoryFlowResponse](cfg.CacheMaxEntries, cfg.CacheTTL)
	cacheManager := cache.NewManager(logger.WithComponent(log.ComponentCache).Slog())
	cacheManager.Register(cashflowCache)
	cacheManager.Register(categoryFlowCache)
	if cfg.CacheTTL > 0 {
		cacheManager.StartCleanup(cfg.CacheCleanupInterval)
	}

	opts := services.DashboardOptions{
		Backend:           result.Backend,
		ViewState:         views,
		Logger:            logger.WithComponent(log.ComponentDashboard).Slog(),
		CashflowCache:     cashflowCache,
		CategoryFlowCache: categoryFlowCache,
	}

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, logger.WithComponent(log.ComponentAMQP).Slog())
		if err != nil {
			logger.Warn("AMQP unavailable, cache invalidation stays local", "error", err)
			amqpClient = nil
		} else {
			opts.Publisher = amqpClient
			logger.Info("AMQP cache invalidation enabled", "exchange", cfg.AMQPExchange, "source", amqpClient.Source())
		}
	}

	svc := services.NewDashboardService(opts)
	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger.WithComponent(log.ComponentHTTP),
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cacheManager.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", "error", err)
			}
		}
		if err := result.Close(); err != nil {
			logger.Warn("Backend close error", "error", err)
		}
	})

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeInvalidations(ctx, svc.HandleInvalidation)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Invalidation consumer stopped", "error", err)
			}
		}()
	}

	logger.Info("Starting cashflow server", "port", cfg.Port, "backend", cfg.DataBackend, "env", cfg.AppEnv)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
