package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webinar-reminder/internal/domain"
	"github.com/kursadbilgin/webinar-reminder/internal/email"
	"github.com/kursadbilgin/webinar-reminder/internal/observability"
	"github.com/kursadbilgin/webinar-reminder/internal/repository"
	"go.uber.org/zap"
)

// SendRequest is an operator-triggered send of one reminder kind for one webinar.
type SendRequest struct {
	// WebinarRef is a webinar id or slug.
	WebinarRef string
	Kind       domain.ReminderKind
	DryRun     bool
	// Force sends even when a marker exists and overwrites it afterwards.
	Force bool
	// OccurrenceDate overrides the date derived from the webinar start.
	OccurrenceDate string
}

// WebinarStatus is a webinar with the dispatch markers written for it.
type WebinarStatus struct {
	Webinar    domain.Webinar
	Dispatches []domain.ReminderDispatch
}

// ReminderService runs operator sends using the same dedup marker as the scheduler.
type ReminderService struct {
	webinars      repository.WebinarRepository
	registrations repository.RegistrationRepository
	dispatches    repository.DispatchRepository
	runner        *dispatchRunner
	lease         time.Duration
	logger        *zap.Logger
	now           func() time.Time
	newRunID      func() string
}

func NewReminderService(
	webinars repository.WebinarRepository,
	registrations repository.RegistrationRepository,
	dispatches repository.DispatchRepository,
	deliveries repository.DeliveryRepository,
	bulk *BulkSender,
	lease time.Duration,
	logger *zap.Logger,
) (*ReminderService, error) {
	if webinars == nil || registrations == nil || dispatches == nil {
		return nil, fmt.Errorf("webinar, registration and dispatch repositories are required")
	}
	if bulk == nil {
		return nil, fmt.Errorf("bulk sender is required")
	}
	if lease <= 0 {
		lease = DefaultDispatchLease
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &ReminderService{
		webinars:      webinars,
		registrations: registrations,
		dispatches:    dispatches,
		lease:         lease,
		logger:        logger,
		now:           time.Now,
		newRunID:      uuid.NewString,
	}
	s.runner = &dispatchRunner{
		dispatches: dispatches,
		deliveries: deliveries,
		bulk:       bulk,
		lease:      lease,
		now:        func() time.Time { return s.now() },
	}
	return s, nil
}

func (s *ReminderService) Send(ctx context.Context, req SendRequest) (domain.Outcome, error) {
	if !req.Kind.IsValid() {
		return domain.Outcome{}, fmt.Errorf("%w: invalid reminder kind %q", domain.ErrValidation, req.Kind)
	}

	w, err := s.resolveWebinar(ctx, req.WebinarRef)
	if err != nil {
		return domain.Outcome{}, err
	}
	if err := email.CheckRenderable(req.Kind, *w); err != nil {
		return domain.Outcome{}, err
	}

	occurrenceDate := w.OccurrenceDate()
	if req.OccurrenceDate != "" {
		if _, err := time.Parse(domain.OccurrenceDateLayout, req.OccurrenceDate); err != nil {
			return domain.Outcome{}, fmt.Errorf("%w: occurrence date must be YYYY-MM-DD", domain.ErrValidation)
		}
		occurrenceDate = req.OccurrenceDate
	}

	if _, ok := observability.RunIDFromContext(ctx); !ok {
		ctx = observability.WithRunID(ctx, s.newRunID())
	}
	ctx = observability.WithDispatch(ctx, w.ID, req.Kind.String(), occurrenceDate)
	logger := observability.ScopedLogger(s.logger, ctx).With(
		zap.Bool("dryRun", req.DryRun),
		zap.Bool("force", req.Force),
	)

	registrations, err := s.registrations.ListConfirmed(ctx, w.ID)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("list registrations for webinar %s: %w", w.ID, err)
	}
	outcome := domain.Outcome{WebinarID: w.ID, Kind: req.Kind, Recipients: len(registrations)}

	if req.DryRun {
		sent, err := s.dispatches.HasSent(ctx, w.ID, req.Kind, occurrenceDate)
		if err != nil {
			return domain.Outcome{}, fmt.Errorf("check dispatch marker: %w", err)
		}
		logger.Info("dry run", zap.Int("recipients", len(registrations)), zap.Bool("alreadySent", sent))
		outcome.SkipReason = domain.SkipDryRun
		return outcome, nil
	}

	if len(registrations) == 0 {
		logger.Info("no confirmed registrations, nothing to send")
		outcome.SkipReason = domain.SkipNoRecipients
		return outcome, nil
	}

	params := repository.ClaimParams{
		WebinarID:      w.ID,
		Kind:           req.Kind,
		OccurrenceDate: occurrenceDate,
		Source:         domain.DispatchSourceOperator,
		Now:            s.now(),
		Lease:          s.lease,
	}

	if req.Force {
		return s.forceSend(ctx, params, *w, registrations, logger)
	}

	dispatch, claimed, err := s.dispatches.Claim(ctx, params)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("claim %s for webinar %s: %w", req.Kind, w.ID, err)
	}
	if !claimed {
		return domain.Outcome{}, fmt.Errorf("%w: %s for webinar %s on %s", domain.ErrAlreadySent, req.Kind, w.ID, occurrenceDate)
	}

	return s.runner.run(ctx, req.Kind, dispatch, *w, registrations, false, logger)
}

// forceSend takes the marker over whatever its state and sends to every
// confirmed registrant again, recording deliveries against the marker.
func (s *ReminderService) forceSend(
	ctx context.Context,
	params repository.ClaimParams,
	w domain.Webinar,
	registrations []domain.Registration,
	logger *zap.Logger,
) (domain.Outcome, error) {
	dispatch, err := s.dispatches.ForceClaim(ctx, params)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("force claim %s for webinar %s: %w", params.Kind, w.ID, err)
	}
	logger.Info("dispatch marker taken over for a forced send", zap.Int("attempt", dispatch.Attempt))

	return s.runner.run(ctx, params.Kind, dispatch, w, registrations, true, logger)
}

func (s *ReminderService) Status(ctx context.Context, webinarRef string) (*WebinarStatus, error) {
	w, err := s.resolveWebinar(ctx, webinarRef)
	if err != nil {
		return nil, err
	}

	dispatches, err := s.dispatches.ListByWebinar(ctx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("list dispatches for webinar %s: %w", w.ID, err)
	}

	return &WebinarStatus{Webinar: *w, Dispatches: dispatches}, nil
}

// resolveWebinar accepts a webinar id or slug.
func (s *ReminderService) resolveWebinar(ctx context.Context, ref string) (*domain.Webinar, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: webinar id or slug is required", domain.ErrValidation)
	}

	if _, err := uuid.Parse(ref); err == nil {
		w, err := s.webinars.GetByID(ctx, ref)
		if err == nil {
			return w, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("load webinar %s: %w", ref, err)
		}
	}

	w, err := s.webinars.GetBySlug(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: webinar %q", domain.ErrNotFound, ref)
		}
		return nil, fmt.Errorf("load webinar %s: %w", ref, err)
	}
	return w, nil
}
