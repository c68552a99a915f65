package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webinar-reminder/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeliveryRepository interface {
	Record(ctx context.Context, d *domain.ReminderDelivery) error
	SentRegistrationIDs(ctx context.Context, dispatchID string) (map[string]struct{}, error)
	ListByDispatch(ctx context.Context, dispatchID string) ([]domain.ReminderDelivery, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

// Record upserts the delivery of one registration within a dispatch. A resumed
// dispatch overwrites the previous attempt's row.
func (r *GormDeliveryRepo) Record(ctx context.Context, d *domain.ReminderDelivery) error {
	model := deliveryModelFromDomain(d)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dispatch_id"}, {Name: "registration_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "provider_message_id", "error", "email", "updated_at"}),
		}).
		Create(model).Error
}

func (r *GormDeliveryRepo) SentRegistrationIDs(ctx context.Context, dispatchID string) (map[string]struct{}, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&ReminderDeliveryModel{}).
		Where("dispatch_id = ? AND status = ?", dispatchID, domain.DeliveryStatusSent).
		Pluck("registration_id", &ids).Error
	if err != nil {
		return nil, err
	}

	sent := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		sent[id] = struct{}{}
	}
	return sent, nil
}

func (r *GormDeliveryRepo) ListByDispatch(ctx context.Context, dispatchID string) ([]domain.ReminderDelivery, error) {
	var models []ReminderDeliveryModel
	err := r.db.WithContext(ctx).
		Where("dispatch_id = ?", dispatchID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.ReminderDelivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}

	return deliveries, nil
}
