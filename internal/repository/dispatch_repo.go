package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webinar-reminder/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var dispatchKeyColumns = []clause.Column{
	{Name: "webinar_id"},
	{Name: "kind"},
	{Name: "occurrence_date"},
}

// ClaimParams identifies the marker to claim and the lease after which an
// unfinished claim may be taken over.
type ClaimParams struct {
	WebinarID      string
	Kind           domain.ReminderKind
	OccurrenceDate string
	Source         domain.DispatchSource
	Now            time.Time
	Lease          time.Duration
}

// DispatchRepository stores the dedup markers. Renew, Release and Complete are
// fenced by the attempt returned from Claim or ForceClaim: once a later attempt
// has taken the marker over they return domain.ErrClaimLost.
type DispatchRepository interface {
	Claim(ctx context.Context, params ClaimParams) (*domain.ReminderDispatch, bool, error)
	ForceClaim(ctx context.Context, params ClaimParams) (*domain.ReminderDispatch, error)
	Renew(ctx context.Context, id string, attempt int, at time.Time) error
	Release(ctx context.Context, id string, attempt int) error
	Complete(ctx context.Context, id string, attempt int, success, failed int, at time.Time) error
	HasSent(ctx context.Context, webinarID string, kind domain.ReminderKind, occurrenceDate string) (bool, error)
	ListByWebinar(ctx context.Context, webinarID string) ([]domain.ReminderDispatch, error)
}

// releasedAt is written to claimed_at by Release so that the next Claim sees an
// expired lease whatever its length.
var releasedAt = time.Unix(0, 0).UTC()

type GormDispatchRepo struct {
	db *gorm.DB
}

func NewGormDispatchRepo(db *gorm.DB) *GormDispatchRepo {
	return &GormDispatchRepo{db: db}
}

// Claim atomically takes the dedup marker for (webinar, kind, date). It returns
// claimed=false when another run already holds or completed it. A CLAIMED marker
// older than the lease is taken over with its attempt counter incremented.
func (r *GormDispatchRepo) Claim(ctx context.Context, params ClaimParams) (*domain.ReminderDispatch, bool, error) {
	if err := validateClaimParams(params); err != nil {
		return nil, false, err
	}

	now := params.Now.UTC()
	model := &ReminderDispatchModel{
		ID:             uuid.NewString(),
		WebinarID:      params.WebinarID,
		Kind:           params.Kind,
		OccurrenceDate: params.OccurrenceDate,
		Status:         domain.DispatchStatusClaimed,
		Source:         params.Source,
		Attempt:        1,
		ClaimedAt:      now,
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: dispatchKeyColumns, DoNothing: true}).
		Create(model)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return dispatchModelToDomain(model), true, nil
	}

	if params.Lease <= 0 {
		return nil, false, nil
	}

	result = r.db.WithContext(ctx).
		Model(&ReminderDispatchModel{}).
		Where("webinar_id = ? AND kind = ? AND occurrence_date = ? AND status = ? AND claimed_at < ?",
			params.WebinarID, params.Kind, params.OccurrenceDate, domain.DispatchStatusClaimed, now.Add(-params.Lease)).
		Updates(map[string]any{
			"claimed_at": now,
			"source":     params.Source,
			"attempt":    gorm.Expr("attempt + 1"),
		})
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, false, nil
	}

	dispatch, err := r.get(ctx, params.WebinarID, params.Kind, params.OccurrenceDate)
	if err != nil {
		return nil, false, err
	}
	return dispatch, true, nil
}

func (r *GormDispatchRepo) Complete(ctx context.Context, id string, attempt int, success, failed int, at time.Time) error {
	return r.updateClaimed(ctx, id, attempt, map[string]any{
		"status":        domain.DispatchStatusCompleted,
		"success_count": success,
		"failed_count":  failed,
		"completed_at":  at.UTC(),
	})
}

// Renew extends the lease of a running dispatch.
func (r *GormDispatchRepo) Renew(ctx context.Context, id string, attempt int, at time.Time) error {
	return r.updateClaimed(ctx, id, attempt, map[string]any{"claimed_at": at.UTC()})
}

// Release expires the lease of an interrupted dispatch so the next Claim
// resumes it without waiting for the lease to run out.
func (r *GormDispatchRepo) Release(ctx context.Context, id string, attempt int) error {
	return r.updateClaimed(ctx, id, attempt, map[string]any{"claimed_at": releasedAt})
}

func (r *GormDispatchRepo) updateClaimed(ctx context.Context, id string, attempt int, values map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&ReminderDispatchModel{}).
		Where("id = ? AND attempt = ? AND status = ?", id, attempt, domain.DispatchStatusClaimed).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrClaimLost
	}
	return nil
}

func (r *GormDispatchRepo) HasSent(ctx context.Context, webinarID string, kind domain.ReminderKind, occurrenceDate string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ReminderDispatchModel{}).
		Where("webinar_id = ? AND kind = ? AND occurrence_date = ?", webinarID, kind, occurrenceDate).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ForceClaim takes the marker whatever its state, for an operator re-send. An
// existing marker goes back to CLAIMED with its attempt incremented, which
// fences out any run still holding the previous attempt.
func (r *GormDispatchRepo) ForceClaim(ctx context.Context, params ClaimParams) (*domain.ReminderDispatch, error) {
	if err := validateClaimParams(params); err != nil {
		return nil, err
	}

	now := params.Now.UTC()
	model := &ReminderDispatchModel{
		ID:             uuid.NewString(),
		WebinarID:      params.WebinarID,
		Kind:           params.Kind,
		OccurrenceDate: params.OccurrenceDate,
		Status:         domain.DispatchStatusClaimed,
		Source:         params.Source,
		Attempt:        1,
		ClaimedAt:      now,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: dispatchKeyColumns,
			DoUpdates: clause.Assignments(map[string]any{
				"status":        domain.DispatchStatusClaimed,
				"source":        params.Source,
				"success_count": 0,
				"failed_count":  0,
				"claimed_at":    now,
				"completed_at":  nil,
				"updated_at":    now,
				"attempt":       gorm.Expr("reminder_dispatches.attempt + 1"),
			}),
		}).
		Create(model).Error
	if err != nil {
		return nil, err
	}

	return r.get(ctx, params.WebinarID, params.Kind, params.OccurrenceDate)
}

func (r *GormDispatchRepo) ListByWebinar(ctx context.Context, webinarID string) ([]domain.ReminderDispatch, error) {
	var models []ReminderDispatchModel
	err := r.db.WithContext(ctx).
		Where("webinar_id = ?", webinarID).
		Order("occurrence_date DESC, kind ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	dispatches := make([]domain.ReminderDispatch, 0, len(models))
	for i := range models {
		dispatches = append(dispatches, *dispatchModelToDomain(&models[i]))
	}

	return dispatches, nil
}

func (r *GormDispatchRepo) get(ctx context.Context, webinarID string, kind domain.ReminderKind, occurrenceDate string) (*domain.ReminderDispatch, error) {
	var model ReminderDispatchModel
	err := r.db.WithContext(ctx).
		Where("webinar_id = ? AND kind = ? AND occurrence_date = ?", webinarID, kind, occurrenceDate).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return dispatchModelToDomain(&model), nil
}

func validateClaimParams(params ClaimParams) error {
	if params.WebinarID == "" {
		return fmt.Errorf("%w: webinar id is required", domain.ErrValidation)
	}
	if !params.Kind.IsValid() {
		return fmt.Errorf("%w: invalid reminder kind %q", domain.ErrValidation, params.Kind)
	}
	if _, err := time.Parse(domain.OccurrenceDateLayout, params.OccurrenceDate); err != nil {
		return fmt.Errorf("%w: invalid occurrence date %q", domain.ErrValidation, params.OccurrenceDate)
	}
	return nil
}
