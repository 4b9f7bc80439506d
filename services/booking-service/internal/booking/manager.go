package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/cenkalti/backoff/v5"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxAttempts = 3

// errStaleKey means the appointment moved between the unlocked read and the
// locked re-read; the whole transaction is retried with the fresh key.
var errStaleKey = errors.New("appointment key changed under lock")

// Manager commits slot-affecting changes. Every commit re-validates the slot
// inside a transaction that holds the per-key lock.
type Manager struct {
	store    storage.Store
	policies policy.Store
	logger   *slog.Logger
	now      func() time.Time
	backoff  func() backoff.BackOff
}

func NewManager(store storage.Store, policies policy.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		policies: policies,
		logger:   logger,
		now:      time.Now,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 200 * time.Millisecond
			return b
		},
	}
}

// CommitRequest is a fully resolved booking request.
type CommitRequest struct {
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

func (r CommitRequest) key() model.SlotKey {
	return model.SlotKey{TenantID: r.TenantID, ResourceID: r.ResourceID, Date: r.Date}
}

// CommitResult is the committed appointment. Replayed is set when the
// idempotency key matched an earlier booking and nothing new was written.
type CommitResult struct {
	Appointment model.Appointment
	Replayed    bool
}

func (m *Manager) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	ctx, span := tracer().Start(ctx, "booking.commit", trace.WithAttributes(
		attribute.String("booking.tenant_id", req.TenantID),
		attribute.String("booking.slot_key", req.key().String()),
	))
	defer span.End()

	pol, err := policy.Load(ctx, m.policies, req.TenantID)
	if err != nil {
		return CommitResult{}, endSpan(span, err)
	}

	res, err := retry(ctx, m, func() (CommitResult, error) {
		var out CommitResult
		err := m.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			locks := []string{req.key().String()}
			if req.IdempotencyKey != "" {
				locks = append(locks, idempotencyLock(req.TenantID, req.IdempotencyKey))
			}
			if err := tx.Lock(ctx, locks...); err != nil {
				return err
			}

			if req.IdempotencyKey != "" {
				id, ok, err := tx.LookupIdempotency(ctx, req.TenantID, req.IdempotencyKey)
				if err != nil {
					return fmt.Errorf("lookup idempotency key: %w", err)
				}
				if ok {
					appt, err := tx.GetForUpdate(ctx, req.TenantID, id)
					if err != nil {
						return fmt.Errorf("load replayed appointment: %w", err)
					}
					out = CommitResult{Appointment: appt, Replayed: true}
					return nil
				}
			}

			slot := availability.Interval{Start: req.StartMinute, End: req.StartMinute + req.DurationMinutes}
			if err := m.checkSlot(ctx, tx, pol, req.key(), slot, ""); err != nil {
				return err
			}

			appt := model.Appointment{
				TenantID:        req.TenantID,
				ResourceID:      req.ResourceID,
				ServiceID:       req.ServiceID,
				Customer:        req.Customer,
				Date:            req.Date,
				StartMinute:     req.StartMinute,
				DurationMinutes: req.DurationMinutes,
				Status:          model.StatusScheduled,
				Notes:           req.Notes,
			}
			if err := tx.Insert(ctx, &appt); err != nil {
				return err
			}
			if req.IdempotencyKey != "" {
				if err := tx.SaveIdempotency(ctx, req.TenantID, req.IdempotencyKey, appt.ID); err != nil {
					return fmt.Errorf("save idempotency key: %w", err)
				}
			}
			out = CommitResult{Appointment: appt}
			return nil
		})
		return out, err
	})
	if err != nil {
		return CommitResult{}, endSpan(span, err)
	}
	span.SetAttributes(attribute.String("booking.appointment_id", res.Appointment.ID), attribute.Bool("booking.replayed", res.Replayed))
	return res, nil
}

// MoveRequest relocates a scheduled appointment within its resource.
type MoveRequest struct {
	TenantID    string
	ID          string
	Date        civil.Date
	StartMinute int
	Notes       *string
}

// Move commits a reschedule and returns the appointment before and after.
func (m *Manager) Move(ctx context.Context, req MoveRequest) (before, after model.Appointment, err error) {
	ctx, span := tracer().Start(ctx, "booking.reschedule", trace.WithAttributes(
		attribute.String("booking.tenant_id", req.TenantID),
		attribute.String("booking.appointment_id", req.ID),
	))
	defer span.End()

	pol, err := policy.Load(ctx, m.policies, req.TenantID)
	if err != nil {
		return before, after, endSpan(span, err)
	}

	type moved struct{ before, after model.Appointment }
	res, err := retry(ctx, m, func() (moved, error) {
		seen, err := m.store.Get(ctx, req.TenantID, req.ID)
		if err != nil {
			return moved{}, err
		}
		duration := seen.DurationMinutes
		if seen.ServiceID != "" {
			svc, err := m.policies.Service(ctx, req.TenantID, seen.ServiceID)
			switch {
			case err == nil:
				duration = svc.DurationMinutes
			case !errors.Is(err, policy.ErrServiceNotFound):
				return moved{}, fmt.Errorf("load service: %w", err)
			}
		}
		target := model.SlotKey{TenantID: req.TenantID, ResourceID: seen.ResourceID, Date: req.Date}

		var out moved
		err = m.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			if err := tx.Lock(ctx, seen.Key().String(), target.String()); err != nil {
				return err
			}
			cur, err := tx.GetForUpdate(ctx, req.TenantID, req.ID)
			if err != nil {
				return err
			}
			if cur.Key() != seen.Key() {
				return errStaleKey
			}
			if cur.Status.Terminal() {
				return &ValidationError{Field: "status", Code: CodeTerminalState, Reason: fmt.Sprintf("cannot reschedule a %s appointment", cur.Status)}
			}

			slot := availability.Interval{Start: req.StartMinute, End: req.StartMinute + duration}
			if err := m.checkSlot(ctx, tx, pol, target, slot, cur.ID); err != nil {
				return err
			}

			out.before = cur
			next := cur
			next.Date = req.Date
			next.StartMinute = req.StartMinute
			next.DurationMinutes = duration
			next.Status = model.StatusScheduled
			if req.Notes != nil {
				next.Notes = *req.Notes
			}
			if err := tx.Update(ctx, &next); err != nil {
				return err
			}
			out.after = next
			return nil
		})
		return out, err
	})
	if err != nil {
		return before, after, endSpan(span, err)
	}
	return res.before, res.after, nil
}

// Transition applies a status-only change under the appointment's key lock.
// fn mutates the appointment in place; returning false skips the write.
func (m *Manager) Transition(ctx context.Context, tenantID, id string, fn func(appt *model.Appointment, now time.Time) (bool, error)) (model.Appointment, bool, error) {
	type result struct {
		appt    model.Appointment
		changed bool
	}
	res, err := retry(ctx, m, func() (result, error) {
		seen, err := m.store.Get(ctx, tenantID, id)
		if err != nil {
			return result{}, err
		}
		var out result
		err = m.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			if err := tx.Lock(ctx, seen.Key().String()); err != nil {
				return err
			}
			cur, err := tx.GetForUpdate(ctx, tenantID, id)
			if err != nil {
				return err
			}
			if cur.Key() != seen.Key() {
				return errStaleKey
			}
			changed, err := fn(&cur, m.now().UTC())
			if err != nil {
				return err
			}
			if changed {
				if err := tx.Update(ctx, &cur); err != nil {
					return err
				}
			}
			out = result{appt: cur, changed: changed}
			return nil
		})
		return out, err
	})
	return res.appt, res.changed, err
}

// checkSlot re-runs generation and occupancy for exactly one slot against
// the locked view of the key.
func (m *Manager) checkSlot(ctx context.Context, tx storage.Tx, pol availability.Policy, key model.SlotKey, slot availability.Interval, excludeID string) error {
	candidates := availability.GenerateCandidates(key.Date, key.ResourceID, slot.Duration(), pol, m.now())
	if !availability.Contains(candidates, slot) {
		return &SlotConflictError{Reason: ReasonNotOffered}
	}

	active, err := tx.ListActive(ctx, key)
	if err != nil {
		return fmt.Errorf("list active appointments: %w", err)
	}
	busy := availability.BusyIntervals(active, excludeID)
	if len(availability.SubtractBusy([]availability.Interval{slot}, busy)) == 0 {
		return &SlotConflictError{Reason: ReasonTaken}
	}
	if limit := pol.Rule.MaxBookingsPerDay; limit > 0 && len(busy) >= limit {
		return &SlotConflictError{Reason: ReasonDailyLimit}
	}
	return nil
}

// retry runs op up to maxAttempts times, retrying only transient storage
// failures and stale-key re-reads.
func retry[T any](ctx context.Context, m *Manager, op func() (T, error)) (T, error) {
	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		res, err := op()
		if err == nil {
			return res, nil
		}
		if errors.Is(err, errStaleKey) || storage.IsRetryable(err) {
			m.logger.Warn("booking transaction retry", "attempt", attempt, "err", err)
			return res, err
		}
		return res, backoff.Permanent(classify(err))
	}, backoff.WithBackOff(m.backoff()), backoff.WithMaxTries(maxAttempts))
	if errors.Is(err, errStaleKey) {
		return res, &SlotConflictError{Reason: ReasonConcurrentUpdate}
	}
	return res, err
}

func classify(err error) error {
	switch {
	case errors.Is(err, storage.ErrConflict):
		return &SlotConflictError{Reason: ReasonTaken}
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	}
	return err
}

func idempotencyLock(tenantID, key string) string {
	return "idem/" + tenantID + "/" + key
}

func tracer() trace.Tracer {
	return otel.Tracer("booking")
}

func endSpan(span trace.Span, err error) error {
	var conflict *SlotConflictError
	if errors.As(err, &conflict) {
		span.SetAttributes(attribute.String("booking.conflict_reason", conflict.Reason))
		return err
	}
	var verr *ValidationError
	if errors.As(err, &verr) || errors.Is(err, ErrNotFound) {
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
