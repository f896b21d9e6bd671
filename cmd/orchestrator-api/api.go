// Package main provides the orchestrator API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/troneras/workflow-orchestrator/pkg/eventbus"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"github.com/troneras/workflow-orchestrator/pkg/services"
	"github.com/troneras/workflow-orchestrator/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	webhooks    services.Webhooks
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	webhooks services.Webhooks,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		publisher:   publisher,
		webhooks:    webhooks,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	orchestrator := services.NewOrchestrator(a.persistence, a.publisher, a.webhooks, a.logger)
	handlers := web.NewAPIHandlers(orchestrator, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Workflow Orchestrator API")
	})

	handlers.Register(app.Group("/orchestrator"))

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
