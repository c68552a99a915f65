package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/webinar-reminder/internal/domain"
	"github.com/kursadbilgin/webinar-reminder/internal/repository"
	"go.uber.org/zap"
)

// dispatchRunner sends a claimed dispatch and completes its marker. Shared by
// the scheduler and the operator path so both resume the same way.
type dispatchRunner struct {
	dispatches repository.DispatchRepository
	deliveries repository.DeliveryRepository
	bulk       *BulkSender
	lease      time.Duration
	now        func() time.Time
}

// run sends to the registrations of a claimed dispatch. With resend unset,
// registrations delivered by an earlier attempt are skipped.
//
// The claim is renewed while the batch runs. A batch stopped by ctx is released
// instead of completed so that the next run picks up the unsent recipients; a
// batch whose claim was taken over stops and leaves the marker to the new owner.
func (r *dispatchRunner) run(
	ctx context.Context,
	kind domain.ReminderKind,
	dispatch *domain.ReminderDispatch,
	w domain.Webinar,
	registrations []domain.Registration,
	resend bool,
	logger *zap.Logger,
) (domain.Outcome, error) {
	outcome := domain.Outcome{WebinarID: w.ID, Kind: kind, Recipients: len(registrations)}
	logger = logger.With(zap.String("dispatchId", dispatch.ID), zap.Int("attempt", dispatch.Attempt))

	pending, delivered := registrations, 0
	if !resend {
		var err error
		pending, delivered, err = r.pendingRecipients(ctx, dispatch, registrations)
		if err != nil {
			r.release(ctx, dispatch, logger)
			return outcome, err
		}
	}
	if delivered > 0 {
		logger.Info("resuming interrupted dispatch", zap.Int("alreadyDelivered", delivered))
	}

	keeper := &leaseKeeper{
		dispatches: r.dispatches,
		dispatch:   dispatch,
		every:      r.lease / 3,
		now:        r.now,
		renewedAt:  r.now(),
	}
	sent := r.bulk.Send(ctx, BulkSendRequest{
		Webinar:       w,
		Kind:          kind,
		Registrations: pending,
		DispatchID:    dispatch.ID,
		KeepAlive:     keeper.keepAlive,
	})
	outcome.Success = sent.Success
	outcome.Failed = sent.Failed

	switch {
	case errors.Is(keeper.err, domain.ErrClaimLost):
		logger.Warn("dispatch taken over by another run, stopped sending", zap.Int("success", sent.Success))
		return outcome, nil
	case keeper.err != nil:
		r.release(ctx, dispatch, logger)
		return outcome, fmt.Errorf("renew dispatch %s: %w", dispatch.ID, keeper.err)
	case ctx.Err() != nil:
		r.release(ctx, dispatch, logger)
		return outcome, fmt.Errorf("dispatch %s interrupted: %w", dispatch.ID, ctx.Err())
	}

	completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()
	err := r.dispatches.Complete(completeCtx, dispatch.ID, dispatch.Attempt, delivered+sent.Success, sent.Failed, r.now())
	if errors.Is(err, domain.ErrClaimLost) {
		logger.Warn("dispatch taken over before completion", zap.Int("success", sent.Success))
		return outcome, nil
	}
	if err != nil {
		return outcome, fmt.Errorf("complete dispatch %s: %w", dispatch.ID, err)
	}

	logger.Info("reminders sent",
		zap.Int("recipients", len(pending)),
		zap.Int("success", sent.Success),
		zap.Int("failed", sent.Failed),
	)
	return outcome, nil
}

// release hands an unfinished dispatch back for the next run.
func (r *dispatchRunner) release(ctx context.Context, dispatch *domain.ReminderDispatch, logger *zap.Logger) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()

	err := r.dispatches.Release(releaseCtx, dispatch.ID, dispatch.Attempt)
	switch {
	case err == nil:
		logger.Warn("dispatch interrupted, released for the next run")
	case errors.Is(err, domain.ErrClaimLost):
	default:
		logger.Error("failed to release dispatch, it resumes after the lease", zap.Error(err))
	}
}

// pendingRecipients drops registrations already delivered by an earlier
// attempt of the same dispatch.
func (r *dispatchRunner) pendingRecipients(ctx context.Context, dispatch *domain.ReminderDispatch, registrations []domain.Registration) ([]domain.Registration, int, error) {
	if dispatch.Attempt <= 1 || r.deliveries == nil {
		return registrations, 0, nil
	}

	sentIDs, err := r.deliveries.SentRegistrationIDs(ctx, dispatch.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("load deliveries of dispatch %s: %w", dispatch.ID, err)
	}

	pending := make([]domain.Registration, 0, len(registrations))
	for _, reg := range registrations {
		if _, ok := sentIDs[reg.ID]; ok {
			continue
		}
		pending = append(pending, reg)
	}
	return pending, len(registrations) - len(pending), nil
}

// leaseKeeper renews a dispatch claim once a third of the lease has passed
// since the last renewal. The first failure is kept in err.
type leaseKeeper struct {
	dispatches repository.DispatchRepository
	dispatch   *domain.ReminderDispatch
	every      time.Duration
	now        func() time.Time
	renewedAt  time.Time
	err        error
}

func (k *leaseKeeper) keepAlive(ctx context.Context) error {
	at := k.now()
	if at.Sub(k.renewedAt) < k.every {
		return nil
	}
	if err := k.dispatches.Renew(ctx, k.dispatch.ID, k.dispatch.Attempt, at); err != nil {
		k.err = err
		return err
	}
	k.renewedAt = at
	return nil
}
