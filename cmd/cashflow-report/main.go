package main

import (
	"context"
	"fmt"
	"os"

	"cashflow/internal/backend"
	"cashflow/internal/cli"
	"cashflow/internal/log"
	"cashflow/internal/report"
	"cashflow/internal/services"
)

func main() {
	cli.LoadEnvFile()

	cmd := report.NewRootCmd(openDashboard)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openDashboard(ctx context.Context) (report.Dashboard, func(), error) {
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(log.Config{
		Level:     cfg.SlogLevel(),
		Component: log.ComponentReport,
		Output:    os.Stderr,
	})

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	result, err := backend.NewFactory(logger.Slog()).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, nil, err
	}

	svc := services.NewDashboardService(services.DashboardOptions{
		Backend: result.Backend,
		Logger:  logger.Slog(),
	})
	cleanup := func() {
		if err := result.Close(); err != nil {
			logger.Warn("Backend close error", "error", err)
		}
	}
	return svc, cleanup, nil
}
