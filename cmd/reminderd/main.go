package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/webinar-reminder/internal/config"
	"github.com/kursadbilgin/webinar-reminder/internal/email"
	"github.com/kursadbilgin/webinar-reminder/internal/handler"
	"github.com/kursadbilgin/webinar-reminder/internal/infra/postgresql"
	"github.com/kursadbilgin/webinar-reminder/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/webinar-reminder/internal/infra/redis"
	"github.com/kursadbilgin/webinar-reminder/internal/observability"
	"github.com/kursadbilgin/webinar-reminder/internal/repository"
	"github.com/kursadbilgin/webinar-reminder/internal/service"
	"github.com/kursadbilgin/webinar-reminder/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "reminderd")
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("reminderd stopped with error", zap.Error(err))
	}
	logger.Info("reminderd stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.SendRateLimitPerSec)
	if err != nil {
		return err
	}
	locker, err := infraredis.NewRedisLocker(rdb, cfg.DispatchLease)
	if err != nil {
		return err
	}

	sender, err := email.NewSender(cfg.EmailSettings(), logger)
	if err != nil {
		return fmt.Errorf("email sender initialization failed: %w", err)
	}
	renderer, err := email.NewRenderer(cfg.SiteBaseURL)
	if err != nil {
		return fmt.Errorf("email templates failed to load: %w", err)
	}

	webinars := repository.NewGormWebinarRepo(db)
	registrations := repository.NewGormRegistrationRepo(db)
	dispatches := repository.NewGormDispatchRepo(db)
	deliveries := repository.NewGormDeliveryRepo(db)

	metrics := observability.NewMetrics()

	bulk, err := service.NewBulkSender(sender, renderer, deliveries, registrations, rateLimiter, cfg.BulkSender(), logger)
	if err != nil {
		return err
	}
	bulk.SetMetrics(metrics)

	scheduler, err := service.NewReminderScheduler(webinars, registrations, dispatches, deliveries, bulk, locker, cfg.Scheduler(), logger)
	if err != nil {
		return err
	}
	scheduler.SetMetrics(metrics)

	reminders, err := service.NewReminderService(webinars, registrations, dispatches, deliveries, bulk, cfg.DispatchLease, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               "reminderd",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, map[string]handler.Check{
		"postgres":  handler.PostgresCheck(sqlDB),
		"redis":     handler.RedisCheck(rdb),
		"scheduler": handler.SchedulerCheck(scheduler.LastTick, cfg.DispatchLease),
	})
	if err := handler.RegisterReminderRoutes(app, reminders); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Start(gctx)
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("reminderd listening", zap.String("addr", addr), zap.String("emailProvider", cfg.EmailProvider))
		if err := app.Listen(addr); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}
