package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/ticket-mailer/internal/config"
	"github.com/kursadbilgin/ticket-mailer/internal/handler"
	"github.com/kursadbilgin/ticket-mailer/internal/infra/postgresql"
	"github.com/kursadbilgin/ticket-mailer/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/ticket-mailer/internal/infra/redis"
	"github.com/kursadbilgin/ticket-mailer/internal/observability"
	"github.com/kursadbilgin/ticket-mailer/internal/provider"
	"github.com/kursadbilgin/ticket-mailer/internal/queue"
	"github.com/kursadbilgin/ticket-mailer/internal/ratelimit"
	"github.com/kursadbilgin/ticket-mailer/internal/repository"
	"github.com/kursadbilgin/ticket-mailer/internal/service"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ticket-mailer stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("ticket-mailer stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()
	dsn := cfg.Postgres.DSN()

	db, err := postgresql.NewPostgres(ctx, dsn)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if cfg.MigrateOnStart {
		if err := migrations.Migrate(db, cfg.NotifyChannel); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	listener, err := queue.NewPgListener(ctx, dsn, logger.Named("listener"), metrics)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := listener.Close(closeCtx); err != nil {
			logger.Warn("failed to close listener", zap.Error(err))
		}
	}()

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	limiter, err := newSendLimiter(cfg, rdb)
	if err != nil {
		return err
	}

	mailer, err := provider.NewSMTPProvider(provider.SMTPConfig{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		Username:   cfg.SMTP.Username,
		Password:   cfg.SMTP.Password,
		SenderName: cfg.SMTP.SenderName,
	})
	if err != nil {
		return err
	}

	tickets := repository.NewGormTicketRepo(db)
	gate := ratelimit.NewCooldownGate(cfg.Cooldown.Threshold, cfg.Cooldown.Period)

	processor, err := service.NewTicketProcessor(tickets, mailer, gate, service.ProcessorOptions{
		SkipDuringCooldown: cfg.Cooldown.Mode == config.CooldownSkip,
		QueryTimeout:       cfg.QueryTimeout,
		Limiter:            limiter,
		RelayHost:          cfg.SMTP.Host,
	}, logger.Named("processor"))
	if err != nil {
		return err
	}
	processor.SetMetrics(metrics)

	intake, err := service.NewIntake(listener, tickets, processor, service.IntakeOptions{
		Channel:        cfg.NotifyChannel,
		PollInterval:   cfg.PollInterval,
		RescanInterval: cfg.RescanInterval,
		QueryTimeout:   cfg.QueryTimeout,
		Gate:           gate,
	}, logger.Named("intake"))
	if err != nil {
		return err
	}
	intake.SetMetrics(metrics)

	logger.Info("ticket-mailer started",
		zap.String("channel", cfg.NotifyChannel),
		zap.String("database", cfg.Postgres.Host+":"+strconv.Itoa(cfg.Postgres.Port)+"/"+cfg.Postgres.Database),
		zap.String("relay", cfg.SMTP.Host+":"+strconv.Itoa(cfg.SMTP.Port)),
		zap.String("sender", cfg.SMTP.Username),
		zap.String("senderName", cfg.SMTP.SenderName),
		zap.Int("failureThreshold", gate.Threshold()),
		zap.Duration("cooldown", gate.Period()),
		zap.String("cooldownMode", string(cfg.Cooldown.Mode)),
		zap.Int("opsPort", cfg.OpsPort),
	)

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return intake.Run(groupCtx)
	})

	if cfg.OpsPort != 0 {
		app := handler.NewOpsApp(handler.ReadinessDeps{
			DB:       sqlDB,
			Listener: listener,
			Redis:    rdb,
			Intake:   intake,
			Gate:     gate,
		}, metrics, logger.Named("ops"))

		g.Go(func() error {
			return serveOps(groupCtx, app, cfg.OpsPort, logger)
		})
	}

	return g.Wait()
}

// newSendLimiter returns nil when throttling is disabled.
func newSendLimiter(cfg *config.Config, rdb *goredis.Client) (ratelimit.RateLimiter, error) {
	if cfg.SendRateLimitPerSec <= 0 {
		return nil, nil
	}
	if rdb != nil {
		return infraredis.NewRedisRateLimiter(rdb, cfg.SendRateLimitPerSec)
	}
	return ratelimit.NewLocalRateLimiter(cfg.SendRateLimitPerSec)
}

func serveOps(ctx context.Context, app *fiber.App, port int, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(":" + strconv.Itoa(port))
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-ctx.Done():
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Warn("ops server shutdown failed", zap.Error(err))
		}
		return nil
	}
}
