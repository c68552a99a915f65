package domain

import (
	"fmt"
	"strings"
	"time"
)

// ReminderKind identifies a class of webinar email. Each kind maps to one template.
type ReminderKind string

const (
	KindConfirmation       ReminderKind = "CONFIRMATION"
	KindPreEvent           ReminderKind = "PRE_EVENT"
	KindLiveNow            ReminderKind = "LIVE_NOW"
	KindRecordingAvailable ReminderKind = "RECORDING_AVAILABLE"
)

func (k ReminderKind) String() string { return string(k) }

func (k ReminderKind) IsValid() bool {
	switch k {
	case KindConfirmation, KindPreEvent, KindLiveNow, KindRecordingAvailable:
		return true
	}
	return false
}

// Label is the lower-case form used in metrics and Redis keys.
func (k ReminderKind) Label() string {
	return strings.ToLower(string(k))
}

func ParseReminderKind(s string) (ReminderKind, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	k := ReminderKind(normalized)
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid reminder kind %q", ErrValidation, s)
	}
	return k, nil
}

// WindowPolicy decides when a scheduled reminder kind fires.
// A webinar is due when it starts within [now-Lookback, now+Lookahead]. When FireMax is
// positive the time until start must also fall within [FireMin, FireMax].
type WindowPolicy struct {
	Kind      ReminderKind
	Lookback  time.Duration
	Lookahead time.Duration
	FireMin   time.Duration
	FireMax   time.Duration
}

// DefaultPreEventPolicy fires once roughly fifteen minutes before start.
func DefaultPreEventPolicy() WindowPolicy {
	return WindowPolicy{
		Kind:      KindPreEvent,
		Lookback:  15 * time.Minute,
		Lookahead: 20 * time.Minute,
		FireMin:   14 * time.Minute,
		FireMax:   16 * time.Minute,
	}
}

// DefaultLiveNowPolicy fires when the webinar has just started.
func DefaultLiveNowPolicy() WindowPolicy {
	return WindowPolicy{
		Kind:      KindLiveNow,
		Lookback:  2 * time.Minute,
		Lookahead: time.Minute,
	}
}

func (p WindowPolicy) Validate() error {
	if !p.Kind.IsValid() {
		return fmt.Errorf("%w: invalid policy kind %q", ErrValidation, p.Kind)
	}
	if p.Lookback < 0 || p.Lookahead < 0 {
		return fmt.Errorf("%w: %s window bounds must not be negative", ErrValidation, p.Kind)
	}
	if p.Lookback == 0 && p.Lookahead == 0 {
		return fmt.Errorf("%w: %s window is empty", ErrValidation, p.Kind)
	}
	if p.FireMax > 0 && p.FireMin > p.FireMax {
		return fmt.Errorf("%w: %s fire window min %s exceeds max %s", ErrValidation, p.Kind, p.FireMin, p.FireMax)
	}
	return nil
}

// Range returns the inclusive start-time range queried at now.
func (p WindowPolicy) Range(now time.Time) (time.Time, time.Time) {
	return now.Add(-p.Lookback), now.Add(p.Lookahead)
}

func (p WindowPolicy) InWindow(startsAt time.Time, now time.Time) bool {
	from, to := p.Range(now)
	return !startsAt.Before(from) && !startsAt.After(to)
}

func (p WindowPolicy) ShouldFire(startsAt time.Time, now time.Time) bool {
	if !p.InWindow(startsAt, now) {
		return false
	}
	if p.FireMax <= 0 {
		return true
	}
	until := startsAt.Sub(now)
	return until >= p.FireMin && until <= p.FireMax
}

// DispatchStatus is the state of a dedup marker.
type DispatchStatus string

const (
	DispatchStatusClaimed   DispatchStatus = "CLAIMED"
	DispatchStatusCompleted DispatchStatus = "COMPLETED"
)

func (s DispatchStatus) String() string { return string(s) }

// DispatchSource records who triggered a dispatch.
type DispatchSource string

const (
	DispatchSourceScheduler DispatchSource = "scheduler"
	DispatchSourceOperator  DispatchSource = "operator"
)

// ReminderDispatch is the dedup marker for one (webinar, kind, occurrence date).
type ReminderDispatch struct {
	ID             string
	WebinarID      string
	Kind           ReminderKind
	OccurrenceDate string
	Status         DispatchStatus
	Source         DispatchSource
	Attempt        int
	SuccessCount   int
	FailedCount    int
	ClaimedAt      time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeliveryStatus is the result of one recipient send.
type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "SENT"
	DeliveryStatusFailed DeliveryStatus = "FAILED"
)

// ReminderDelivery records a single recipient send within a dispatch.
type ReminderDelivery struct {
	ID                string
	DispatchID        string
	RegistrationID    string
	Email             string
	Status            DeliveryStatus
	ProviderMessageID *string
	Error             *string
	CreatedAt         time.Time
}

// Skip reasons reported on an Outcome.
const (
	SkipNoRecipients = "no_recipients"
	SkipAlreadySent  = "already_sent"
	SkipLocked       = "locked"
	SkipDryRun       = "dry_run"
)

// Outcome is the tally of one bulk send.
type Outcome struct {
	WebinarID  string
	Kind       ReminderKind
	Recipients int
	Success    int
	Failed     int
	SkipReason string
}

func (o Outcome) Skipped() bool { return o.SkipReason != "" }
