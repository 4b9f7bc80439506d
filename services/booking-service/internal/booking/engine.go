package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/storage"
)

// Notifier receives committed lifecycle events. Publish must not block on
// delivery; it is called after the transaction has committed.
type Notifier interface {
	Publish(ctx context.Context, ev model.AppointmentEvent)
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, model.AppointmentEvent) {}

// Engine is the appointment lifecycle: availability queries plus the
// create, reschedule, cancel and complete transitions.
type Engine struct {
	store    storage.Store
	policies policy.Store
	manager  *Manager
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithClock overrides the wall clock used for lead time and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.manager.now = now
	}
}

func NewEngine(store storage.Store, policies policy.Store, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:    store,
		policies: policies,
		manager:  NewManager(store, policies, logger),
		notifier: nopNotifier{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type AvailabilityQuery struct {
	TenantID        string
	ResourceID      string
	ServiceID       string
	DurationMinutes int
	Date            civil.Date
}

type Availability struct {
	Date       civil.Date
	ResourceID string
	Slots      []availability.Interval
}

// Availability lists the free slots for one resource and date. It is a pure
// read and never takes locks.
func (e *Engine) Availability(ctx context.Context, q AvailabilityQuery) (Availability, error) {
	if q.TenantID == "" {
		return Availability{}, invalid("tenant_id", "is required")
	}
	if !q.Date.IsValid() {
		return Availability{}, invalid("date", "must be YYYY-MM-DD")
	}
	duration, err := e.resolveDuration(ctx, q.TenantID, q.ServiceID, q.DurationMinutes)
	if err != nil {
		return Availability{}, err
	}
	pol, err := policy.Load(ctx, e.policies, q.TenantID)
	if err != nil {
		return Availability{}, err
	}

	candidates := availability.GenerateCandidates(q.Date, q.ResourceID, duration, pol, e.now())
	out := Availability{Date: q.Date, ResourceID: q.ResourceID, Slots: []availability.Interval{}}
	if len(candidates) == 0 {
		return out, nil
	}
	active, err := e.store.ListActive(ctx, model.SlotKey{TenantID: q.TenantID, ResourceID: q.ResourceID, Date: q.Date})
	if err != nil {
		return Availability{}, fmt.Errorf("list active appointments: %w", err)
	}
	if limit := pol.Rule.MaxBookingsPerDay; limit > 0 && len(active) >= limit {
		return out, nil
	}
	out.Slots = availability.SubtractBusy(candidates, availability.BusyIntervals(active, ""))
	return out, nil
}

type CreateRequest struct {
	TenantID        string
	ResourceID      string
	ServiceID       string
	DurationMinutes int
	Date            civil.Date
	StartMinute     int
	Customer        model.Customer
	Notes           string
	IdempotencyKey  string
}

// Create books a slot. A repeated IdempotencyKey returns the original
// appointment with replayed set and publishes nothing.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (appt model.Appointment, replayed bool, err error) {
	if req.TenantID == "" {
		return appt, false, invalid("tenant_id", "is required")
	}
	if !req.Date.IsValid() {
		return appt, false, invalid("date", "must be YYYY-MM-DD")
	}
	if req.StartMinute < 0 || req.StartMinute >= model.MinutesPerDay {
		return appt, false, invalid("time", "must be HH:MM within the day")
	}
	if !req.Customer.Identified() {
		return appt, false, invalid("customer", "id or name and phone are required")
	}
	duration, err := e.resolveDuration(ctx, req.TenantID, req.ServiceID, req.DurationMinutes)
	if err != nil {
		return appt, false, err
	}

	res, err := e.manager.Commit(ctx, CommitRequest{
		TenantID:        req.TenantID,
		ResourceID:      req.ResourceID,
		ServiceID:       req.ServiceID,
		DurationMinutes: duration,
		Date:            req.Date,
		StartMinute:     req.StartMinute,
		Customer:        req.Customer,
		Notes:           req.Notes,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		return appt, false, err
	}
	if res.Replayed {
		e.logger.Info("booking replayed", "tenant_id", req.TenantID, "appointment_id", res.Appointment.ID)
		return res.Appointment, true, nil
	}
	e.logger.Info("booking created",
		"tenant_id", req.TenantID,
		"appointment_id", res.Appointment.ID,
		"slot", res.Appointment.Key().String(),
		"start", model.FormatMinute(res.Appointment.StartMinute),
	)
	e.notifier.Publish(ctx, model.AppointmentEvent{Kind: model.EventBooked, Appointment: res.Appointment})
	return res.Appointment, false, nil
}

type RescheduleRequest struct {
	TenantID    string
	ID          string
	Date        civil.Date
	StartMinute int
	Notes       *string
}

func (e *Engine) Reschedule(ctx context.Context, req RescheduleRequest) (model.Appointment, error) {
	if req.TenantID == "" {
		return model.Appointment{}, invalid("tenant_id", "is required")
	}
	if !req.Date.IsValid() {
		return model.Appointment{}, invalid("date", "must be YYYY-MM-DD")
	}
	if req.StartMinute < 0 || req.StartMinute >= model.MinutesPerDay {
		return model.Appointment{}, invalid("time", "must be HH:MM within the day")
	}
	before, after, err := e.manager.Move(ctx, MoveRequest(req))
	if err != nil {
		return model.Appointment{}, err
	}
	e.logger.Info("booking rescheduled",
		"tenant_id", req.TenantID,
		"appointment_id", after.ID,
		"from", before.Key().String()+" "+model.FormatMinute(before.StartMinute),
		"to", after.Key().String()+" "+model.FormatMinute(after.StartMinute),
	)
	e.notifier.Publish(ctx, model.AppointmentEvent{Kind: model.EventRescheduled, Appointment: after, Previous: &before})
	return after, nil
}

// Cancel soft-deletes the appointment and frees its slot. Cancelling an
// already cancelled appointment is a no-op that returns it unchanged.
func (e *Engine) Cancel(ctx context.Context, tenantID, id, reason string) (model.Appointment, error) {
	appt, changed, err := e.manager.Transition(ctx, tenantID, id, func(a *model.Appointment, now time.Time) (bool, error) {
		switch a.Status {
		case model.StatusCancelled:
			return false, nil
		case model.StatusCompleted:
			return false, &ValidationError{Field: "status", Code: CodeTerminalState, Reason: "cannot cancel a completed appointment"}
		}
		a.Status = model.StatusCancelled
		a.CancelReason = reason
		a.CancelledAt = &now
		return true, nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if changed {
		e.logger.Info("booking cancelled", "tenant_id", tenantID, "appointment_id", id)
		e.notifier.Publish(ctx, model.AppointmentEvent{Kind: model.EventCancelled, Appointment: appt})
	}
	return appt, nil
}

// Complete marks a scheduled appointment as attended. The slot stays occupied.
func (e *Engine) Complete(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	appt, _, err := e.manager.Transition(ctx, tenantID, id, func(a *model.Appointment, now time.Time) (bool, error) {
		if a.Status != model.StatusScheduled {
			return false, &ValidationError{Field: "status", Code: CodeTerminalState, Reason: fmt.Sprintf("cannot complete a %s appointment", a.Status)}
		}
		a.Status = model.StatusCompleted
		a.CompletedAt = &now
		return true, nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	e.logger.Info("booking completed", "tenant_id", tenantID, "appointment_id", id)
	return appt, nil
}

func (e *Engine) Get(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	appt, err := e.store.Get(ctx, tenantID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, ErrNotFound
	}
	return appt, err
}

func (e *Engine) List(ctx context.Context, f storage.ListFilter) ([]model.Appointment, error) {
	if f.TenantID == "" {
		return nil, invalid("tenant_id", "is required")
	}
	if f.From.IsValid() && f.To.IsValid() && f.To.Before(f.From) {
		return nil, invalid("to", "must not be before from")
	}
	return e.store.List(ctx, f)
}

func (e *Engine) resolveDuration(ctx context.Context, tenantID, serviceID string, duration int) (int, error) {
	if serviceID != "" {
		svc, err := e.policies.Service(ctx, tenantID, serviceID)
		if errors.Is(err, policy.ErrServiceNotFound) {
			return 0, invalid("service_id", "unknown service")
		}
		if err != nil {
			return 0, fmt.Errorf("load service: %w", err)
		}
		return svc.DurationMinutes, nil
	}
	if duration <= 0 || duration > availability.MaxDurationMinutes {
		return 0, invalid("duration_minutes", fmt.Sprintf("must be between 1 and %d", availability.MaxDurationMinutes))
	}
	return duration, nil
}
