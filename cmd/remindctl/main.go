package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/webinar-reminder/internal/config"
	"github.com/kursadbilgin/webinar-reminder/internal/email"
	"github.com/kursadbilgin/webinar-reminder/internal/infra/postgresql"
	"github.com/kursadbilgin/webinar-reminder/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/webinar-reminder/internal/infra/redis"
	"github.com/kursadbilgin/webinar-reminder/internal/observability"
	"github.com/kursadbilgin/webinar-reminder/internal/repository"
	"github.com/kursadbilgin/webinar-reminder/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	env := &environment{loadConfig: config.Load}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	runErr := newCommandLine(os.Stdout, env).run(ctx, os.Args)

	stop()
	env.close()

	if runErr != nil {
		if runErr != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", runErr)
		}
		os.Exit(1)
	}
}

// environment loads the configuration and opens connections on first use, so
// usage errors and flag mistakes need neither.
type environment struct {
	loadConfig func() (*config.Config, error)

	cfg     *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	closers []func() error
}

func (e *environment) database() (*gorm.DB, error) {
	if e.db != nil {
		return e.db, nil
	}

	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(cfg.LogLevel, "remindctl")
	if err != nil {
		return nil, err
	}
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		e.closers = append(e.closers, sqlDB.Close)
	}

	e.cfg, e.logger, e.db = cfg, logger, db
	return db, nil
}

func (e *environment) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

func newCommandLine(out io.Writer, env *environment) *commandLine {
	return &commandLine{
		out: out,
		migrate: func(ctx context.Context) error {
			db, err := env.database()
			if err != nil {
				return err
			}
			return migrations.Migrate(db.WithContext(ctx))
		},
		services: func(ctx context.Context) (*services, error) {
			db, err := env.database()
			if err != nil {
				return nil, err
			}
			svc, closeFn, err := buildServices(ctx, env.cfg, db, env.logger)
			if closeFn != nil {
				env.closers = append(env.closers, closeFn)
			}
			return svc, err
		},
		now: time.Now,
	}
}

func buildServices(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*services, func() error, error) {
	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis initialization failed: %w", err)
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.SendRateLimitPerSec)
	if err != nil {
		return nil, rdb.Close, err
	}
	locker, err := infraredis.NewRedisLocker(rdb, cfg.DispatchLease)
	if err != nil {
		return nil, rdb.Close, err
	}

	sender, err := email.NewSender(cfg.EmailSettings(), logger)
	if err != nil {
		return nil, rdb.Close, err
	}
	renderer, err := email.NewRenderer(cfg.SiteBaseURL)
	if err != nil {
		return nil, rdb.Close, err
	}

	webinars := repository.NewGormWebinarRepo(db)
	registrations := repository.NewGormRegistrationRepo(db)
	dispatches := repository.NewGormDispatchRepo(db)
	deliveries := repository.NewGormDeliveryRepo(db)

	bulk, err := service.NewBulkSender(sender, renderer, deliveries, registrations, rateLimiter, cfg.BulkSender(), logger)
	if err != nil {
		return nil, rdb.Close, err
	}
	scheduler, err := service.NewReminderScheduler(webinars, registrations, dispatches, deliveries, bulk, locker, cfg.Scheduler(), logger)
	if err != nil {
		return nil, rdb.Close, err
	}
	reminders, err := service.NewReminderService(webinars, registrations, dispatches, deliveries, bulk, cfg.DispatchLease, logger)
	if err != nil {
		return nil, rdb.Close, err
	}

	return &services{ticker: scheduler, reminders: reminders}, rdb.Close, nil
}
