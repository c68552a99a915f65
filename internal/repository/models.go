package repository

import (
	"time"

	"github.com/kursadbilgin/webinar-reminder/internal/domain"
)

// WebinarModel is the persistence model for the webinars table.
type WebinarModel struct {
	ID              string    `gorm:"type:uuid;primaryKey"`
	Title           string    `gorm:"type:varchar(255);not null"`
	Slug            string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_webinars_slug"`
	Description     string    `gorm:"type:text"`
	StartsAt        time.Time `gorm:"not null"`
	DurationMinutes int       `gorm:"not null"`
	IsActive        bool      `gorm:"not null"`
	Capacity        int       `gorm:"not null;default:0"`
	MeetingURL      string    `gorm:"type:varchar(1024)"`
	MeetingID       string    `gorm:"type:varchar(255)"`
	MeetingPassword string    `gorm:"type:varchar(255)"`
	RecordingURL    *string   `gorm:"type:varchar(1024)"`
	Notes           string    `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (WebinarModel) TableName() string {
	return "webinars"
}

// RegistrationModel is the persistence model for webinar_registrations.
type RegistrationModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	WebinarID      string  `gorm:"type:uuid;not null;uniqueIndex:idx_registrations_webinar_email,priority:1"`
	UserID         *string `gorm:"type:uuid"`
	Email          string  `gorm:"type:varchar(255);not null;uniqueIndex:idx_registrations_webinar_email,priority:2"`
	FullName       string  `gorm:"type:varchar(255)"`
	Phone          string  `gorm:"type:varchar(64)"`
	IsConfirmed    bool    `gorm:"not null;default:false"`
	Attended       bool    `gorm:"not null;default:false"`
	ReminderSentAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (RegistrationModel) TableName() string {
	return "webinar_registrations"
}

// ReminderDispatchModel is the persistence model for reminder_dispatches.
// The unique key is the dedup marker's check-and-set primitive.
type ReminderDispatchModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	WebinarID      string                `gorm:"type:uuid;not null;uniqueIndex:idx_dispatches_key,priority:1"`
	Kind           domain.ReminderKind   `gorm:"type:varchar(32);not null;uniqueIndex:idx_dispatches_key,priority:2"`
	OccurrenceDate string                `gorm:"type:varchar(10);not null;uniqueIndex:idx_dispatches_key,priority:3"`
	Status         domain.DispatchStatus `gorm:"type:varchar(20);not null"`
	Source         domain.DispatchSource `gorm:"type:varchar(20);not null"`
	Attempt        int                   `gorm:"not null;default:1"`
	SuccessCount   int                   `gorm:"not null;default:0"`
	FailedCount    int                   `gorm:"not null;default:0"`
	ClaimedAt      time.Time             `gorm:"not null"`
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ReminderDispatchModel) TableName() string {
	return "reminder_dispatches"
}

// ReminderDeliveryModel is the persistence model for reminder_deliveries.
type ReminderDeliveryModel struct {
	ID                string                `gorm:"type:uuid;primaryKey"`
	DispatchID        string                `gorm:"type:uuid;not null;uniqueIndex:idx_deliveries_dispatch_registration,priority:1"`
	RegistrationID    string                `gorm:"type:uuid;not null;uniqueIndex:idx_deliveries_dispatch_registration,priority:2"`
	Email             string                `gorm:"type:varchar(255);not null"`
	Status            domain.DeliveryStatus `gorm:"type:varchar(20);not null"`
	ProviderMessageID *string               `gorm:"type:varchar(255)"`
	Error             *string               `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (ReminderDeliveryModel) TableName() string {
	return "reminder_deliveries"
}

func webinarModelFromDomain(w *domain.Webinar) *WebinarModel {
	if w == nil {
		return nil
	}

	return &WebinarModel{
		ID:              w.ID,
		Title:           w.Title,
		Slug:            w.Slug,
		Description:     w.Description,
		StartsAt:        w.StartsAt.UTC(),
		DurationMinutes: w.DurationMinutes,
		IsActive:        w.IsActive,
		Capacity:        w.Capacity,
		MeetingURL:      w.MeetingURL,
		MeetingID:       w.MeetingID,
		MeetingPassword: w.MeetingPassword,
		RecordingURL:    w.RecordingURL,
		Notes:           w.Notes,
		CreatedAt:       w.CreatedAt,
		UpdatedAt:       w.UpdatedAt,
	}
}

func webinarModelToDomain(m *WebinarModel) *domain.Webinar {
	if m == nil {
		return nil
	}

	return &domain.Webinar{
		ID:              m.ID,
		Title:           m.Title,
		Slug:            m.Slug,
		Description:     m.Description,
		StartsAt:        m.StartsAt.UTC(),
		DurationMinutes: m.DurationMinutes,
		IsActive:        m.IsActive,
		Capacity:        m.Capacity,
		MeetingURL:      m.MeetingURL,
		MeetingID:       m.MeetingID,
		MeetingPassword: m.MeetingPassword,
		RecordingURL:    m.RecordingURL,
		Notes:           m.Notes,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func registrationModelFromDomain(r *domain.Registration) *RegistrationModel {
	if r == nil {
		return nil
	}

	return &RegistrationModel{
		ID:             r.ID,
		WebinarID:      r.WebinarID,
		UserID:         r.UserID,
		Email:          domain.NormalizeEmail(r.Email),
		FullName:       r.FullName,
		Phone:          r.Phone,
		IsConfirmed:    r.IsConfirmed,
		Attended:       r.Attended,
		ReminderSentAt: r.ReminderSentAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func registrationModelToDomain(m *RegistrationModel) *domain.Registration {
	if m == nil {
		return nil
	}

	return &domain.Registration{
		ID:             m.ID,
		WebinarID:      m.WebinarID,
		UserID:         m.UserID,
		Email:          m.Email,
		FullName:       m.FullName,
		Phone:          m.Phone,
		IsConfirmed:    m.IsConfirmed,
		Attended:       m.Attended,
		ReminderSentAt: m.ReminderSentAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func dispatchModelToDomain(m *ReminderDispatchModel) *domain.ReminderDispatch {
	if m == nil {
		return nil
	}

	return &domain.ReminderDispatch{
		ID:             m.ID,
		WebinarID:      m.WebinarID,
		Kind:           m.Kind,
		OccurrenceDate: m.OccurrenceDate,
		Status:         m.Status,
		Source:         m.Source,
		Attempt:        m.Attempt,
		SuccessCount:   m.SuccessCount,
		FailedCount:    m.FailedCount,
		ClaimedAt:      m.ClaimedAt.UTC(),
		CompletedAt:    m.CompletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func deliveryModelFromDomain(d *domain.ReminderDelivery) *ReminderDeliveryModel {
	if d == nil {
		return nil
	}

	return &ReminderDeliveryModel{
		ID:                d.ID,
		DispatchID:        d.DispatchID,
		RegistrationID:    d.RegistrationID,
		Email:             d.Email,
		Status:            d.Status,
		ProviderMessageID: d.ProviderMessageID,
		Error:             d.Error,
		CreatedAt:         d.CreatedAt,
	}
}

func deliveryModelToDomain(m *ReminderDeliveryModel) *domain.ReminderDelivery {
	if m == nil {
		return nil
	}

	return &domain.ReminderDelivery{
		ID:                m.ID,
		DispatchID:        m.DispatchID,
		RegistrationID:    m.RegistrationID,
		Email:             m.Email,
		Status:            m.Status,
		ProviderMessageID: m.ProviderMessageID,
		Error:             m.Error,
		CreatedAt:         m.CreatedAt,
	}
}
