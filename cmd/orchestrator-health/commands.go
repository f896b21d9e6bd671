package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/troneras/workflow-orchestrator/pkg/cmd"
	"github.com/troneras/workflow-orchestrator/pkg/health"
	"github.com/troneras/workflow-orchestrator/pkg/log"
	"github.com/troneras/workflow-orchestrator/pkg/otelhelper"
	"github.com/troneras/workflow-orchestrator/pkg/provider"
	"github.com/urfave/cli/v3"
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "provider-base-url",
			Usage:   "Base URL of the workflow provider API",
			Sources: cli.EnvVars("PROVIDER_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to a YAML settings file",
			Sources: cli.EnvVars("CONFIG"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Check stale providers on the configured schedule",
		Flags:   commonFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			return withChecker(ctx, command, func(ctx context.Context, checker *health.Checker, logger *slog.Logger) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				if err := checker.Start(ctx); err != nil {
					return err
				}
				defer checker.Stop()

				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

				<-sigChan
				logger.InfoContext(ctx, "Shutting down health checker...")

				return nil
			})
		},
	}
}

func NewCheckCommand() *cli.Command {
	flags := append(commonFlags(),
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Check every active provider, not only stale ones",
		},
		&cli.StringFlag{
			Name:  "workflow-id",
			Usage: "Check only the provider of this workflow",
		},
	)

	return &cli.Command{
		Name:    "check",
		Aliases: []string{"c"},
		Usage:   "Check providers once and print the results",
		Flags:   flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			return withChecker(ctx, command, func(ctx context.Context, checker *health.Checker, _ *slog.Logger) error {
				reports, err := check(ctx, checker, command.String("workflow-id"), command.Bool("force"))
				if err != nil {
					return err
				}

				return printReports(os.Stdout, reports)
			})
		},
	}
}

func withChecker(
	ctx context.Context,
	command *cli.Command,
	fn func(context.Context, *health.Checker, *slog.Logger) error,
) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule(serviceName)

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := shutdown(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	settings, err := cmd.LoadConfig(command.String("config"), command.String("provider-base-url"))
	if err != nil {
		return err
	}

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	client := provider.NewClient(settings.Provider.BaseURL, cmd.NewHTTPClient(0))

	return fn(ctx, newChecker(client, persistence, settings.Health, logger, tracer), logger)
}
