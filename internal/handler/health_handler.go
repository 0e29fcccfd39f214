package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency that can report liveness of its connection.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type ListenerPinger interface {
	Ping(ctx context.Context) error
}

type IntakeStatus interface {
	Ready() bool
}

type GateStatus interface {
	Tripped() bool
	Failures() int
}

// ReadinessDeps are the components checked by /readyz. Redis and Gate are
// optional.
type ReadinessDeps struct {
	DB       Pinger
	Listener ListenerPinger
	Redis    *redis.Client
	Intake   IntakeStatus
	Gate     GateStatus
}

func RegisterHealthRoutes(app fiber.Router, deps ReadinessDeps) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(deps))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

// ReadyzHandler reports 503 until the intake loop has drained its startup
// backlog and while any connection is down. A tripped send gate is reported
// but does not fail readiness.
func ReadyzHandler(deps ReadinessDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		ready := true
		checks := fiber.Map{}

		check := func(name string, err error) {
			if err != nil {
				ready = false
				checks[name] = "down"
				return
			}
			checks[name] = "ok"
		}

		if deps.DB != nil {
			check("postgres", deps.DB.PingContext(ctx))
		}
		if deps.Listener != nil {
			check("listener", deps.Listener.Ping(ctx))
		}
		if deps.Redis != nil {
			check("redis", deps.Redis.Ping(ctx).Err())
		}

		if deps.Intake != nil {
			if deps.Intake.Ready() {
				checks["intake"] = "ok"
			} else {
				ready = false
				checks["intake"] = "starting"
			}
		}

		if deps.Gate != nil {
			gate := fiber.Map{"failures": deps.Gate.Failures(), "status": "open"}
			if deps.Gate.Tripped() {
				gate["status"] = "cooling_down"
			}
			checks["sendGate"] = gate
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
