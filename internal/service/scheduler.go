package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webinar-reminder/internal/domain"
	"github.com/kursadbilgin/webinar-reminder/internal/observability"
	"github.com/kursadbilgin/webinar-reminder/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultTickSchedule  = "@every 1m"
	DefaultQueryTimeout  = 15 * time.Second
	DefaultDispatchLease = 10 * time.Minute

	completeTimeout = 5 * time.Second
)

// Locker serialises dispatches of one (webinar, kind) across processes.
type Locker interface {
	Acquire(ctx context.Context, name string) (release func(context.Context) error, acquired bool, err error)
}

// SchedulerConfig tunes the scheduler. QueryTimeout bounds each store call of a
// tick; sends are bounded per call by the bulk sender and the dispatch lease.
type SchedulerConfig struct {
	Policies     []domain.WindowPolicy
	Lease        time.Duration
	Schedule     string
	QueryTimeout time.Duration
}

// TickResult summarises one scheduler pass.
type TickResult struct {
	RunID    string
	At       time.Time
	Outcomes []domain.Outcome
	Sent     int
	Failed   int
	Skipped  int
}

func (r *TickResult) add(o domain.Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	r.Sent += o.Success
	r.Failed += o.Failed
	if o.Skipped() {
		r.Skipped++
	}
}

// ReminderScheduler sends the scheduled reminder kinds for webinars whose
// start falls inside each policy's window, at most once per occurrence.
type ReminderScheduler struct {
	webinars      repository.WebinarRepository
	registrations repository.RegistrationRepository
	dispatches    repository.DispatchRepository
	runner        *dispatchRunner
	locker        Locker
	logger        *zap.Logger
	metrics       *observability.Metrics
	cfg           SchedulerConfig
	now           func() time.Time
	newRunID      func() string
	lastTick      atomic.Int64
}

func NewReminderScheduler(
	webinars repository.WebinarRepository,
	registrations repository.RegistrationRepository,
	dispatches repository.DispatchRepository,
	deliveries repository.DeliveryRepository,
	bulk *BulkSender,
	locker Locker,
	cfg SchedulerConfig,
	logger *zap.Logger,
) (*ReminderScheduler, error) {
	if webinars == nil || registrations == nil || dispatches == nil {
		return nil, fmt.Errorf("webinar, registration and dispatch repositories are required")
	}
	if bulk == nil {
		return nil, fmt.Errorf("bulk sender is required")
	}
	if len(cfg.Policies) == 0 {
		cfg.Policies = []domain.WindowPolicy{domain.DefaultPreEventPolicy(), domain.DefaultLiveNowPolicy()}
	}
	for _, p := range cfg.Policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultDispatchLease
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultTickSchedule
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &ReminderScheduler{
		webinars:      webinars,
		registrations: registrations,
		dispatches:    dispatches,
		locker:        locker,
		logger:        logger,
		cfg:           cfg,
		now:           time.Now,
		newRunID:      uuid.NewString,
	}
	s.runner = &dispatchRunner{
		dispatches: dispatches,
		deliveries: deliveries,
		bulk:       bulk,
		lease:      cfg.Lease,
		now:        func() time.Time { return s.now() },
	}
	return s, nil
}

func (s *ReminderScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs a tick immediately and then on the configured cron schedule
// until ctx is cancelled. A tick still running when the next one is due is
// not overlapped.
func (s *ReminderScheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	engine := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(newCronLogger(s.logger))),
	)
	if _, err := engine.AddFunc(s.cfg.Schedule, func() { s.runScheduledTick(ctx) }); err != nil {
		return fmt.Errorf("invalid tick schedule %q: %w", s.cfg.Schedule, err)
	}

	if ctx.Err() != nil {
		return nil
	}
	s.runScheduledTick(ctx)

	engine.Start()
	s.logger.Info("reminder scheduler started", zap.String("schedule", s.cfg.Schedule))

	<-ctx.Done()
	<-engine.Stop().Done()
	s.logger.Info("reminder scheduler stopped")
	return nil
}

// LastTick is the wall-clock time the last successful tick finished, or the
// zero time before the first one.
func (s *ReminderScheduler) LastTick() time.Time {
	nanos := s.lastTick.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (s *ReminderScheduler) runScheduledTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if _, err := s.RunTick(ctx, s.now()); err != nil && ctx.Err() == nil {
		s.logger.Error("reminder tick failed", zap.Error(err))
	}
}

// RunTick performs one scheduler pass at now. Store, claim and complete
// errors abort the pass; per-recipient send failures only show up in the
// outcomes.
func (s *ReminderScheduler) RunTick(ctx context.Context, now time.Time) (TickResult, error) {
	result := TickResult{RunID: s.newRunID(), At: now.UTC()}
	ctx = observability.WithRunID(ctx, result.RunID)
	logger := observability.ScopedLogger(s.logger, ctx)
	start := time.Now()

	err := s.runPolicies(ctx, now, &result, logger)

	tickResult := "ok"
	if err != nil {
		tickResult = "error"
	} else {
		s.lastTick.Store(time.Now().UnixNano())
	}
	s.metrics.ObserveTick(tickResult, time.Since(start))

	logger.Info("reminder tick finished",
		zap.Time("at", result.At),
		zap.Int("webinars", len(result.Outcomes)),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Bool("aborted", err != nil),
	)

	return result, err
}

func (s *ReminderScheduler) runPolicies(ctx context.Context, now time.Time, result *TickResult, logger *zap.Logger) error {
	for _, policy := range s.cfg.Policies {
		from, to := policy.Range(now)
		queryCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		webinars, err := s.webinars.ListActiveStartingBetween(queryCtx, from, to)
		cancel()
		if err != nil {
			return fmt.Errorf("list %s candidates: %w", policy.Kind, err)
		}

		for _, w := range webinars {
			if !w.IsActive || !policy.InWindow(w.StartsAt, now) {
				continue
			}
			if !policy.ShouldFire(w.StartsAt, now) {
				logger.Debug("webinar not yet in fire window",
					zap.String("webinarId", w.ID),
					zap.String("kind", policy.Kind.String()),
					zap.Duration("untilStart", w.StartsAt.Sub(now)),
				)
				continue
			}

			outcome, err := s.dispatch(ctx, policy.Kind, w, now)
			if err != nil {
				return err
			}
			result.add(outcome)
		}
	}
	return nil
}

func (s *ReminderScheduler) dispatch(ctx context.Context, kind domain.ReminderKind, w domain.Webinar, now time.Time) (domain.Outcome, error) {
	ctx = observability.WithDispatch(ctx, w.ID, kind.String(), w.OccurrenceDate())
	logger := observability.ScopedLogger(s.logger, ctx)
	outcome := domain.Outcome{WebinarID: w.ID, Kind: kind}

	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	registrations, err := s.registrations.ListConfirmed(queryCtx, w.ID)
	if err != nil {
		return outcome, fmt.Errorf("list registrations for webinar %s: %w", w.ID, err)
	}
	if len(registrations) == 0 {
		return s.skip(outcome, domain.SkipNoRecipients, logger), nil
	}
	outcome.Recipients = len(registrations)

	if s.locker != nil {
		release, acquired, err := s.locker.Acquire(queryCtx, w.ID+":"+kind.Label())
		switch {
		case err != nil:
			logger.Warn("dispatch lock unavailable, relying on the dispatch marker", zap.Error(err))
		case !acquired:
			return s.skip(outcome, domain.SkipLocked, logger), nil
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("failed to release dispatch lock", zap.Error(err))
				}
			}()
		}
	}

	dispatch, claimed, err := s.dispatches.Claim(queryCtx, repository.ClaimParams{
		WebinarID:      w.ID,
		Kind:           kind,
		OccurrenceDate: w.OccurrenceDate(),
		Source:         domain.DispatchSourceScheduler,
		Now:            now,
		Lease:          s.cfg.Lease,
	})
	if err != nil {
		return outcome, fmt.Errorf("claim %s for webinar %s: %w", kind, w.ID, err)
	}
	if !claimed {
		return s.skip(outcome, domain.SkipAlreadySent, logger), nil
	}

	return s.runner.run(ctx, kind, dispatch, w, registrations, false, logger)
}

func (s *ReminderScheduler) skip(outcome domain.Outcome, reason string, logger *zap.Logger) domain.Outcome {
	outcome.SkipReason = reason
	s.metrics.IncDispatchSkipped(outcome.Kind.Label(), reason)
	logger.Info("reminder dispatch skipped", zap.String("reason", reason))
	return outcome
}

type cronLogger struct {
	logger *zap.Logger
}

func newCronLogger(logger *zap.Logger) cron.Logger {
	return cronLogger{logger: logger}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
