package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/ticket-mailer/internal/observability"
	"github.com/kursadbilgin/ticket-mailer/internal/transport"
	"go.uber.org/zap"
)

// NewOpsApp builds the operational HTTP surface: health probes and metrics.
func NewOpsApp(deps ReadinessDeps, metrics *observability.Metrics, logger *zap.Logger) *fiber.App {
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "ticket-mailer",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})

	app.Use(metrics.HTTPMiddleware())
	RegisterHealthRoutes(app, deps)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	return app
}
