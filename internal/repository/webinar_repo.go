package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webinar-reminder/internal/domain"
	"gorm.io/gorm"
)

type WebinarRepository interface {
	Create(ctx context.Context, w *domain.Webinar) error
	GetByID(ctx context.Context, id string) (*domain.Webinar, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Webinar, error)
	ListActiveStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Webinar, error)
}

type GormWebinarRepo struct {
	db *gorm.DB
}

func NewGormWebinarRepo(db *gorm.DB) *GormWebinarRepo {
	return &GormWebinarRepo{db: db}
}

func (r *GormWebinarRepo) Create(ctx context.Context, w *domain.Webinar) error {
	if err := w.Validate(); err != nil {
		return err
	}

	model := webinarModelFromDomain(w)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	*w = *webinarModelToDomain(model)
	return nil
}

func (r *GormWebinarRepo) GetByID(ctx context.Context, id string) (*domain.Webinar, error) {
	var model WebinarModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return webinarModelToDomain(&model), nil
}

func (r *GormWebinarRepo) GetBySlug(ctx context.Context, slug string) (*domain.Webinar, error) {
	var model WebinarModel
	err := r.db.WithContext(ctx).
		Where("slug = ?", slug).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return webinarModelToDomain(&model), nil
}

// ListActiveStartingBetween returns active webinars with from <= starts_at <= to.
func (r *GormWebinarRepo) ListActiveStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Webinar, error) {
	var models []WebinarModel
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND starts_at >= ? AND starts_at <= ?", true, from.UTC(), to.UTC()).
		Order("starts_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	webinars := make([]domain.Webinar, 0, len(models))
	for i := range models {
		webinars = append(webinars, *webinarModelToDomain(&models[i]))
	}

	return webinars, nil
}
