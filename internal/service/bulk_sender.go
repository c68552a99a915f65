package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webinar-reminder/internal/domain"
	"github.com/kursadbilgin/webinar-reminder/internal/email"
	"github.com/kursadbilgin/webinar-reminder/internal/observability"
	"github.com/kursadbilgin/webinar-reminder/internal/ratelimit"
	"github.com/kursadbilgin/webinar-reminder/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultSendDelay   = 150 * time.Millisecond
	DefaultSendTimeout = 10 * time.Second

	defaultRateLimitKey = "email"
)

// MessageRenderer builds the email for one recipient.
type MessageRenderer interface {
	Render(kind domain.ReminderKind, w domain.Webinar, reg domain.Registration, now time.Time) (email.Message, error)
}

type BulkSenderConfig struct {
	Delay        time.Duration
	SendTimeout  time.Duration
	RateLimitKey string
}

// BulkSendRequest is one webinar's batch of recipients for a reminder kind.
// DispatchID is empty for unmarked sends; no delivery rows are written then.
type BulkSendRequest struct {
	Webinar       domain.Webinar
	Kind          domain.ReminderKind
	Registrations []domain.Registration
	DispatchID    string
	// KeepAlive runs before every recipient. An error stops the batch.
	KeepAlive func(ctx context.Context) error
}

// BulkSender sends one email per registration, sequentially and in order.
type BulkSender struct {
	sender        email.Sender
	renderer      MessageRenderer
	deliveries    repository.DeliveryRepository
	registrations repository.RegistrationRepository
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	cfg           BulkSenderConfig
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

func NewBulkSender(
	sender email.Sender,
	renderer MessageRenderer,
	deliveries repository.DeliveryRepository,
	registrations repository.RegistrationRepository,
	rateLimiter ratelimit.RateLimiter,
	cfg BulkSenderConfig,
	logger *zap.Logger,
) (*BulkSender, error) {
	if sender == nil {
		return nil, fmt.Errorf("email sender is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("message renderer is required")
	}
	if cfg.Delay < 0 {
		cfg.Delay = DefaultSendDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if strings.TrimSpace(cfg.RateLimitKey) == "" {
		cfg.RateLimitKey = defaultRateLimitKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BulkSender{
		sender:        sender,
		renderer:      renderer,
		deliveries:    deliveries,
		registrations: registrations,
		rateLimiter:   rateLimiter,
		logger:        logger,
		cfg:           cfg,
		now:           time.Now,
		sleep:         sleepWithContext,
	}, nil
}

func (s *BulkSender) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Send never returns an error: every recipient ends up in exactly one of
// Success or Failed. Recipients left when ctx is done or KeepAlive fails count
// as failed.
func (s *BulkSender) Send(ctx context.Context, req BulkSendRequest) domain.Outcome {
	outcome := domain.Outcome{
		WebinarID:  req.Webinar.ID,
		Kind:       req.Kind,
		Recipients: len(req.Registrations),
	}
	ctx = observability.WithDispatch(ctx, req.Webinar.ID, req.Kind.String(), "")
	logger := observability.ScopedLogger(s.logger, ctx)
	kindLabel := req.Kind.Label()
	reminded := make([]string, 0, len(req.Registrations))

	for i, reg := range req.Registrations {
		if i > 0 && s.cfg.Delay > 0 {
			if err := s.sleep(ctx, s.cfg.Delay); err != nil {
				s.abandon(&outcome, kindLabel, len(req.Registrations)-i, logger, err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			s.abandon(&outcome, kindLabel, len(req.Registrations)-i, logger, err)
			break
		}
		if req.KeepAlive != nil {
			if err := req.KeepAlive(ctx); err != nil {
				s.abandon(&outcome, kindLabel, len(req.Registrations)-i, logger, err)
				break
			}
		}

		messageID, err := s.sendOne(ctx, req, reg)
		if err != nil {
			outcome.Failed++
			s.metrics.IncReminderFailed(kindLabel, email.Reason(err))
			logger.Warn("reminder send failed",
				zap.String("registrationId", reg.ID),
				zap.String("recipient", reg.Email),
				zap.Bool("transient", email.IsTransient(err)),
				zap.Error(err),
			)
			s.recordDelivery(ctx, req.DispatchID, reg, "", err, logger)
			continue
		}

		outcome.Success++
		s.metrics.IncReminderSent(kindLabel)
		reminded = append(reminded, reg.ID)
		s.recordDelivery(ctx, req.DispatchID, reg, messageID, nil, logger)
	}

	if req.Kind == domain.KindPreEvent && s.registrations != nil && len(reminded) > 0 {
		if err := s.registrations.MarkReminded(context.WithoutCancel(ctx), reminded, s.now()); err != nil {
			logger.Error("failed to stamp reminder_sent_at", zap.Int("count", len(reminded)), zap.Error(err))
		}
	}

	return outcome
}

func (s *BulkSender) sendOne(ctx context.Context, req BulkSendRequest, reg domain.Registration) (string, error) {
	msg, err := s.renderer.Render(req.Kind, req.Webinar, reg, s.now())
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, s.cfg.RateLimitKey); err != nil {
			return "", fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	start := s.now()
	resp, err := s.sender.Send(sendCtx, msg)
	s.metrics.ObserveReminderSendDuration(req.Kind.Label(), s.now().Sub(start))
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.MessageID, nil
}

func (s *BulkSender) abandon(outcome *domain.Outcome, kindLabel string, remaining int, logger *zap.Logger, cause error) {
	outcome.Failed += remaining
	for i := 0; i < remaining; i++ {
		s.metrics.IncReminderFailed(kindLabel, "canceled")
	}
	logger.Warn("bulk send interrupted", zap.Int("remaining", remaining), zap.Error(cause))
}

func (s *BulkSender) recordDelivery(ctx context.Context, dispatchID string, reg domain.Registration, messageID string, sendErr error, logger *zap.Logger) {
	if s.deliveries == nil || dispatchID == "" {
		return
	}

	delivery := &domain.ReminderDelivery{
		ID:             uuid.NewString(),
		DispatchID:     dispatchID,
		RegistrationID: reg.ID,
		Email:          reg.Email,
		Status:         domain.DeliveryStatusSent,
		CreatedAt:      s.now().UTC(),
	}
	if messageID != "" {
		delivery.ProviderMessageID = &messageID
	}
	if sendErr != nil {
		value := sendErr.Error()
		delivery.Status = domain.DeliveryStatusFailed
		delivery.Error = &value
	}

	// A cancelled tick must still record what was already sent.
	if err := s.deliveries.Record(context.WithoutCancel(ctx), delivery); err != nil {
		logger.Error("failed to record delivery",
			zap.String("registrationId", reg.ID),
			zap.String("status", string(delivery.Status)),
			zap.Error(err),
		)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
