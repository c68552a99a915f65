package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webinar-reminder/internal/domain"
	"github.com/kursadbilgin/webinar-reminder/internal/email"
	"github.com/kursadbilgin/webinar-reminder/internal/ratelimit"
	"github.com/kursadbilgin/webinar-reminder/internal/repository"
)

type fakeWebinarRepo struct {
	createFn                    func(ctx context.Context, w *domain.Webinar) error
	getByIDFn                   func(ctx context.Context, id string) (*domain.Webinar, error)
	getBySlugFn                 func(ctx context.Context, slug string) (*domain.Webinar, error)
	listActiveStartingBetweenFn func(ctx context.Context, from, to time.Time) ([]domain.Webinar, error)
}

func (f *fakeWebinarRepo) Create(ctx context.Context, w *domain.Webinar) error {
	if f.createFn != nil {
		return f.createFn(ctx, w)
	}
	return nil
}

func (f *fakeWebinarRepo) GetByID(ctx context.Context, id string) (*domain.Webinar, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeWebinarRepo) GetBySlug(ctx context.Context, slug string) (*domain.Webinar, error) {
	if f.getBySlugFn != nil {
		return f.getBySlugFn(ctx, slug)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeWebinarRepo) ListActiveStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Webinar, error) {
	if f.listActiveStartingBetweenFn != nil {
		return f.listActiveStartingBetweenFn(ctx, from, to)
	}
	return nil, nil
}

var _ repository.WebinarRepository = (*fakeWebinarRepo)(nil)

type fakeRegistrationRepo struct {
	createFn        func(ctx context.Context, reg *domain.Registration) error
	listConfirmedFn func(ctx context.Context, webinarID string) ([]domain.Registration, error)
	markRemindedFn  func(ctx context.Context, ids []string, at time.Time) error
}

func (f *fakeRegistrationRepo) Create(ctx context.Context, reg *domain.Registration) error {
	if f.createFn != nil {
		return f.createFn(ctx, reg)
	}
	return nil
}

func (f *fakeRegistrationRepo) ListConfirmed(ctx context.Context, webinarID string) ([]domain.Registration, error) {
	if f.listConfirmedFn != nil {
		return f.listConfirmedFn(ctx, webinarID)
	}
	return nil, nil
}

func (f *fakeRegistrationRepo) MarkReminded(ctx context.Context, ids []string, at time.Time) error {
	if f.markRemindedFn != nil {
		return f.markRemindedFn(ctx, ids, at)
	}
	return nil
}

var _ repository.RegistrationRepository = (*fakeRegistrationRepo)(nil)

type fakeDispatchRepo struct {
	claimFn         func(ctx context.Context, params repository.ClaimParams) (*domain.ReminderDispatch, bool, error)
	forceClaimFn    func(ctx context.Context, params repository.ClaimParams) (*domain.ReminderDispatch, error)
	renewFn         func(ctx context.Context, id string, attempt int, at time.Time) error
	releaseFn       func(ctx context.Context, id string, attempt int) error
	completeFn      func(ctx context.Context, id string, attempt int, success, failed int, at time.Time) error
	hasSentFn       func(ctx context.Context, webinarID string, kind domain.ReminderKind, occurrenceDate string) (bool, error)
	listByWebinarFn func(ctx context.Context, webinarID string) ([]domain.ReminderDispatch, error)
}

func (f *fakeDispatchRepo) Claim(ctx context.Context, params repository.ClaimParams) (*domain.ReminderDispatch, bool, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, params)
	}
	return &domain.ReminderDispatch{
		ID:             "d-" + params.WebinarID,
		WebinarID:      params.WebinarID,
		Kind:           params.Kind,
		OccurrenceDate: params.OccurrenceDate,
		Status:         domain.DispatchStatusClaimed,
		Attempt:        1,
	}, true, nil
}

func (f *fakeDispatchRepo) ForceClaim(ctx context.Context, params repository.ClaimParams) (*domain.ReminderDispatch, error) {
	if f.forceClaimFn != nil {
		return f.forceClaimFn(ctx, params)
	}
	return &domain.ReminderDispatch{ID: "d-forced", Status: domain.DispatchStatusClaimed, Attempt: 1}, nil
}

func (f *fakeDispatchRepo) Renew(ctx context.Context, id string, attempt int, at time.Time) error {
	if f.renewFn != nil {
		return f.renewFn(ctx, id, attempt, at)
	}
	return nil
}

func (f *fakeDispatchRepo) Release(ctx context.Context, id string, attempt int) error {
	if f.releaseFn != nil {
		return f.releaseFn(ctx, id, attempt)
	}
	return nil
}

func (f *fakeDispatchRepo) Complete(ctx context.Context, id string, attempt int, success, failed int, at time.Time) error {
	if f.completeFn != nil {
		return f.completeFn(ctx, id, attempt, success, failed, at)
	}
	return nil
}

func (f *fakeDispatchRepo) HasSent(ctx context.Context, webinarID string, kind domain.ReminderKind, occurrenceDate string) (bool, error) {
	if f.hasSentFn != nil {
		return f.hasSentFn(ctx, webinarID, kind, occurrenceDate)
	}
	return false, nil
}

func (f *fakeDispatchRepo) ListByWebinar(ctx context.Context, webinarID string) ([]domain.ReminderDispatch, error) {
	if f.listByWebinarFn != nil {
		return f.listByWebinarFn(ctx, webinarID)
	}
	return nil, nil
}

var _ repository.DispatchRepository = (*fakeDispatchRepo)(nil)

type fakeDeliveryRepo struct {
	recordFn              func(ctx context.Context, d *domain.ReminderDelivery) error
	sentRegistrationIDsFn func(ctx context.Context, dispatchID string) (map[string]struct{}, error)
	listByDispatchFn      func(ctx context.Context, dispatchID string) ([]domain.ReminderDelivery, error)
}

func (f *fakeDeliveryRepo) Record(ctx context.Context, d *domain.ReminderDelivery) error {
	if f.recordFn != nil {
		return f.recordFn(ctx, d)
	}
	return nil
}

func (f *fakeDeliveryRepo) SentRegistrationIDs(ctx context.Context, dispatchID string) (map[string]struct{}, error) {
	if f.sentRegistrationIDsFn != nil {
		return f.sentRegistrationIDsFn(ctx, dispatchID)
	}
	return map[string]struct{}{}, nil
}

func (f *fakeDeliveryRepo) ListByDispatch(ctx context.Context, dispatchID string) ([]domain.ReminderDelivery, error) {
	if f.listByDispatchFn != nil {
		return f.listByDispatchFn(ctx, dispatchID)
	}
	return nil, nil
}

var _ repository.DeliveryRepository = (*fakeDeliveryRepo)(nil)

type fakeSender struct {
	mu     sync.Mutex
	sent   []email.Message
	sendFn func(ctx context.Context, msg email.Message) (*email.SendResponse, error)
}

func (f *fakeSender) Send(ctx context.Context, msg email.Message) (*email.SendResponse, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &email.SendResponse{StatusCode: 202, MessageID: "msg-" + msg.To}, nil
}

func (f *fakeSender) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.sent))
	for _, msg := range f.sent {
		out = append(out, msg.To)
	}
	return out
}

type fakeRenderer struct {
	renderFn func(kind domain.ReminderKind, w domain.Webinar, reg domain.Registration, now time.Time) (email.Message, error)
}

func (f *fakeRenderer) Render(kind domain.ReminderKind, w domain.Webinar, reg domain.Registration, now time.Time) (email.Message, error) {
	if f.renderFn != nil {
		return f.renderFn(kind, w, reg, now)
	}
	return email.Message{
		To:      reg.Email,
		ToName:  reg.FullName,
		Subject: string(kind) + ": " + w.Title,
		Text:    "see you soon",
	}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakeLocker struct {
	acquireFn func(ctx context.Context, name string) (func(context.Context) error, bool, error)
}

func (f *fakeLocker) Acquire(ctx context.Context, name string) (func(context.Context) error, bool, error) {
	if f.acquireFn != nil {
		return f.acquireFn(ctx, name)
	}
	return func(context.Context) error { return nil }, true, nil
}

// memoryDispatchStore mimics the unique-key claim of the dispatch table.
type memoryDispatchStore struct {
	mu         sync.Mutex
	dispatches map[string]*domain.ReminderDispatch
	deliveries map[string]map[string]domain.DeliveryStatus
}

func newMemoryDispatchStore() *memoryDispatchStore {
	return &memoryDispatchStore{
		dispatches: make(map[string]*domain.ReminderDispatch),
		deliveries: make(map[string]map[string]domain.DeliveryStatus),
	}
}

func dispatchKey(webinarID string, kind domain.ReminderKind, date string) string {
	return webinarID + "|" + string(kind) + "|" + date
}

func (m *memoryDispatchStore) Claim(ctx context.Context, params repository.ClaimParams) (*domain.ReminderDispatch, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dispatchKey(params.WebinarID, params.Kind, params.OccurrenceDate)
	existing, ok := m.dispatches[key]
	if !ok {
		d := &domain.ReminderDispatch{
			ID:             uuid.NewString(),
			WebinarID:      params.WebinarID,
			Kind:           params.Kind,
			OccurrenceDate: params.OccurrenceDate,
			Status:         domain.DispatchStatusClaimed,
			Source:         params.Source,
			Attempt:        1,
			ClaimedAt:      params.Now,
		}
		m.dispatches[key] = d
		copied := *d
		return &copied, true, nil
	}

	if params.Lease > 0 && existing.Status == domain.DispatchStatusClaimed && existing.ClaimedAt.Before(params.Now.Add(-params.Lease)) {
		existing.Attempt++
		existing.ClaimedAt = params.Now
		existing.Source = params.Source
		copied := *existing
		return &copied, true, nil
	}
	return nil, false, nil
}

// held returns the dispatch only while attempt still owns its claim.
func (m *memoryDispatchStore) held(id string, attempt int) (*domain.ReminderDispatch, error) {
	for _, d := range m.dispatches {
		if d.ID == id && d.Attempt == attempt && d.Status == domain.DispatchStatusClaimed {
			return d, nil
		}
	}
	return nil, domain.ErrClaimLost
}

func (m *memoryDispatchStore) Renew(ctx context.Context, id string, attempt int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.held(id, attempt)
	if err != nil {
		return err
	}
	d.ClaimedAt = at
	return nil
}

func (m *memoryDispatchStore) Release(ctx context.Context, id string, attempt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.held(id, attempt)
	if err != nil {
		return err
	}
	d.ClaimedAt = time.Unix(0, 0).UTC()
	return nil
}

func (m *memoryDispatchStore) Complete(ctx context.Context, id string, attempt int, success, failed int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.held(id, attempt)
	if err != nil {
		return err
	}
	d.Status = domain.DispatchStatusCompleted
	d.SuccessCount = success
	d.FailedCount = failed
	d.CompletedAt = &at
	return nil
}

func (m *memoryDispatchStore) HasSent(ctx context.Context, webinarID string, kind domain.ReminderKind, occurrenceDate string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.dispatches[dispatchKey(webinarID, kind, occurrenceDate)]
	return ok, nil
}

func (m *memoryDispatchStore) ForceClaim(ctx context.Context, params repository.ClaimParams) (*domain.ReminderDispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dispatchKey(params.WebinarID, params.Kind, params.OccurrenceDate)
	d, ok := m.dispatches[key]
	if !ok {
		d = &domain.ReminderDispatch{ID: uuid.NewString(), WebinarID: params.WebinarID, Kind: params.Kind, OccurrenceDate: params.OccurrenceDate}
		m.dispatches[key] = d
	}
	d.Attempt++
	d.Status = domain.DispatchStatusClaimed
	d.Source = params.Source
	d.ClaimedAt = params.Now
	d.SuccessCount = 0
	d.FailedCount = 0
	d.CompletedAt = nil
	copied := *d
	return &copied, nil
}

func (m *memoryDispatchStore) ListByWebinar(ctx context.Context, webinarID string) ([]domain.ReminderDispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.ReminderDispatch
	for _, d := range m.dispatches {
		if d.WebinarID == webinarID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memoryDispatchStore) get(webinarID string, kind domain.ReminderKind, date string) (domain.ReminderDispatch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.dispatches[dispatchKey(webinarID, kind, date)]
	if !ok {
		return domain.ReminderDispatch{}, false
	}
	return *d, true
}

func (m *memoryDispatchStore) Record(ctx context.Context, d *domain.ReminderDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deliveries[d.DispatchID] == nil {
		m.deliveries[d.DispatchID] = make(map[string]domain.DeliveryStatus)
	}
	m.deliveries[d.DispatchID][d.RegistrationID] = d.Status
	return nil
}

func (m *memoryDispatchStore) SentRegistrationIDs(ctx context.Context, dispatchID string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]struct{})
	for regID, status := range m.deliveries[dispatchID] {
		if status == domain.DeliveryStatusSent {
			out[regID] = struct{}{}
		}
	}
	return out, nil
}

func (m *memoryDispatchStore) deliveryCount(dispatchID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.deliveries[dispatchID])
}

func (m *memoryDispatchStore) ListByDispatch(ctx context.Context, dispatchID string) ([]domain.ReminderDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.ReminderDelivery
	for regID, status := range m.deliveries[dispatchID] {
		out = append(out, domain.ReminderDelivery{DispatchID: dispatchID, RegistrationID: regID, Status: status})
	}
	return out, nil
}

var (
	_ repository.DispatchRepository = (*memoryDispatchStore)(nil)
	_ repository.DeliveryRepository = (*memoryDispatchStore)(nil)
)
