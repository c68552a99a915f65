package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// OccurrenceDateLayout formats the calendar date a webinar instance is keyed by.
const OccurrenceDateLayout = "2006-01-02"

// Webinar is a scheduled live online event.
type Webinar struct {
	ID              string
	Title           string
	Slug            string
	Description     string
	StartsAt        time.Time
	DurationMinutes int
	IsActive        bool
	Capacity        int
	MeetingURL      string
	MeetingID       string
	MeetingPassword string
	RecordingURL    *string
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OccurrenceDate is the UTC calendar date of the webinar start.
func (w Webinar) OccurrenceDate() string {
	return w.StartsAt.UTC().Format(OccurrenceDateLayout)
}

func (w Webinar) EndsAt() time.Time {
	return w.StartsAt.Add(time.Duration(w.DurationMinutes) * time.Minute)
}

func (w *Webinar) Validate() error {
	if strings.TrimSpace(w.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(w.Slug) == "" {
		return fmt.Errorf("%w: slug is required", ErrValidation)
	}
	if w.StartsAt.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrValidation)
	}
	if w.DurationMinutes < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrValidation)
	}
	if w.Capacity < 0 {
		return fmt.Errorf("%w: capacity must not be negative", ErrValidation)
	}
	return nil
}

// Registration links a registrant to a webinar. At most one per (webinar, email).
type Registration struct {
	ID             string
	WebinarID      string
	UserID         *string
	Email          string
	FullName       string
	Phone          string
	IsConfirmed    bool
	Attended       bool
	ReminderSentAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NormalizeEmail is the form registrations are unique on.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *Registration) Validate() error {
	if strings.TrimSpace(r.WebinarID) == "" {
		return fmt.Errorf("%w: webinar id is required", ErrValidation)
	}
	email := NormalizeEmail(r.Email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: invalid email %q", ErrValidation, r.Email)
	}
	return nil
}

// DisplayName falls back to the email when no name was given.
func (r Registration) DisplayName() string {
	if name := strings.TrimSpace(r.FullName); name != "" {
		return name
	}
	return r.Email
}
