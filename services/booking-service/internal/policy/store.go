package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
)

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrWindowNotFound  = errors.New("availability window not found")
	ErrInvalid         = errors.New("invalid policy")
)

// Store holds per-tenant availability configuration. Reads vastly outnumber
// writes; every method is scoped to a tenant.
type Store interface {
	Rule(ctx context.Context, tenantID string) (model.BookingRule, error)
	PutRule(ctx context.Context, rule model.BookingRule) error
	Windows(ctx context.Context, tenantID string) ([]model.AvailabilityWindow, error)
	AddWindow(ctx context.Context, w model.AvailabilityWindow) (model.AvailabilityWindow, error)
	DeleteWindow(ctx context.Context, tenantID, windowID string) error
	Service(ctx context.Context, tenantID, serviceID string) (model.Service, error)
	PutService(ctx context.Context, svc model.Service) error
}

// Load assembles the generator input for a tenant.
func Load(ctx context.Context, s Store, tenantID string) (availability.Policy, error) {
	rule, err := s.Rule(ctx, tenantID)
	if err != nil {
		return availability.Policy{}, fmt.Errorf("load booking rule: %w", err)
	}
	windows, err := s.Windows(ctx, tenantID)
	if err != nil {
		return availability.Policy{}, fmt.Errorf("load availability windows: %w", err)
	}
	return availability.Policy{Windows: windows, Rule: rule}, nil
}

func ValidateRule(r model.BookingRule) error {
	switch {
	case r.TenantID == "":
		return fmt.Errorf("%w: tenant_id is required", ErrInvalid)
	case r.LeadTimeMinutes < 0:
		return fmt.Errorf("%w: lead_time_minutes must be >= 0", ErrInvalid)
	case r.GranularityMinutes <= 0 || r.GranularityMinutes > model.MinutesPerDay:
		return fmt.Errorf("%w: granularity_minutes must be between 1 and %d", ErrInvalid, model.MinutesPerDay)
	case r.MaxBookingsPerDay < 0:
		return fmt.Errorf("%w: max_bookings_per_day must be >= 0", ErrInvalid)
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalid, r.Timezone)
		}
	}
	return nil
}

func ValidateWindow(w model.AvailabilityWindow) error {
	switch {
	case w.TenantID == "":
		return fmt.Errorf("%w: tenant_id is required", ErrInvalid)
	case w.Weekday < time.Sunday || w.Weekday > time.Saturday:
		return fmt.Errorf("%w: weekday must be 0-6", ErrInvalid)
	case w.StartMinute < 0 || w.EndMinute > model.MinutesPerDay:
		return fmt.Errorf("%w: window must lie within one day", ErrInvalid)
	case w.StartMinute >= w.EndMinute:
		return fmt.Errorf("%w: window start must be before end", ErrInvalid)
	}
	return nil
}

func ValidateService(s model.Service) error {
	switch {
	case s.TenantID == "" || s.ID == "":
		return fmt.Errorf("%w: tenant_id and service id are required", ErrInvalid)
	case s.DurationMinutes <= 0 || s.DurationMinutes > availability.MaxDurationMinutes:
		return fmt.Errorf("%w: duration_minutes must be between 1 and %d", ErrInvalid, availability.MaxDurationMinutes)
	}
	return nil
}
