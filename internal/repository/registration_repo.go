package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webinar-reminder/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RegistrationRepository interface {
	Create(ctx context.Context, reg *domain.Registration) error
	ListConfirmed(ctx context.Context, webinarID string) ([]domain.Registration, error)
	MarkReminded(ctx context.Context, ids []string, at time.Time) error
}

type GormRegistrationRepo struct {
	db *gorm.DB
}

func NewGormRegistrationRepo(db *gorm.DB) *GormRegistrationRepo {
	return &GormRegistrationRepo{db: db}
}

// Create inserts a registration. A second registration for the same webinar and
// email returns domain.ErrConflict.
func (r *GormRegistrationRepo) Create(ctx context.Context, reg *domain.Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}

	model := registrationModelFromDomain(reg)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "webinar_id"}, {Name: "email"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}

	*reg = *registrationModelToDomain(model)
	return nil
}

// ListConfirmed returns confirmed registrations in sign-up order.
func (r *GormRegistrationRepo) ListConfirmed(ctx context.Context, webinarID string) ([]domain.Registration, error) {
	var models []RegistrationModel
	err := r.db.WithContext(ctx).
		Where("webinar_id = ? AND is_confirmed = ?", webinarID, true).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	registrations := make([]domain.Registration, 0, len(models))
	for i := range models {
		registrations = append(registrations, *registrationModelToDomain(&models[i]))
	}

	return registrations, nil
}

func (r *GormRegistrationRepo) MarkReminded(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Model(&RegistrationModel{}).
		Where("id IN ?", ids).
		Update("reminder_sent_at", at.UTC()).Error
}
