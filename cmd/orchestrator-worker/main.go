package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/troneras/workflow-orchestrator/pkg/cmd"
	"github.com/troneras/workflow-orchestrator/pkg/execution"
	"github.com/troneras/workflow-orchestrator/pkg/log"
	"github.com/troneras/workflow-orchestrator/pkg/otelhelper"
	"github.com/troneras/workflow-orchestrator/pkg/provider"
	"github.com/troneras/workflow-orchestrator/pkg/runner"
	"github.com/troneras/workflow-orchestrator/pkg/stream"
	"github.com/troneras/workflow-orchestrator/pkg/webhook"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "orchestrator-worker"

func main() {
	cmd := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Run requested workflow executions against the provider",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "provider-base-url",
				Usage:   "Base URL of the workflow provider API",
				Sources: cli.EnvVars("PROVIDER_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for execution locks",
				Sources: cli.EnvVars("REDIS_URL"),
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
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule(serviceName).With("workerId", workerID)

			tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
			if err != nil {
				return err
			}

			defer func() {
				if err := shutdown(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			logger.InfoContext(ctx, "Initializing Orchestrator Worker")

			settings, err := cmd.LoadConfig(command.String("config"), command.String("provider-base-url"))
			if err != nil {
				return err
			}

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), serviceName, logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			locker, closeLocker := cmd.NewLocker(ctx, logger, command.String("redis-url"))
			defer func() {
				if err := closeLocker(); err != nil {
					logger.ErrorContext(ctx, "Failed to close locker", "error", err)
				}
			}()

			dispatcher := webhook.NewDispatcher(
				persistence.WebhookAttemptRepository(),
				cmd.NewHTTPClient(settings.Webhook.Timeout),
				settings.Webhook,
				logger,
				webhook.WithTracer(tracer),
			)

			executionRunner := runner.NewRunner(runner.Deps{
				Executions: persistence.ExecutionRepository(),
				Events:     persistence.StreamEventRepository(),
				Providers:  persistence.ProviderRepository(),
				Tasks:      persistence.TaskRepository(),
				Client:     provider.NewClient(settings.Provider.BaseURL, cmd.NewHTTPClient(0)),
				Parser:     stream.NewParser(logger, stream.WithMaxLineBytes(settings.Runner.MaxLineBytes)),
				Machine:    execution.NewMachine(persistence.StreamEventRepository(), nil),
				Webhooks:   dispatcher,
				Locker:     locker,
				Tracer:     tracer,
				Logger:     logger,
			}, settings.Runner)

			worker := NewWorker(workerID, executionRunner, persistence.ExecutionRepository(), eventBus, logger)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
