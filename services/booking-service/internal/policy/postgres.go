package policy

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/bookwell/libs/db"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
)

type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Rule(ctx context.Context, tenantID string) (model.BookingRule, error) {
	rule := model.BookingRule{TenantID: tenantID}
	var blackouts []time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT lead_time_minutes, granularity_minutes, max_bookings_per_day,
			blackout_dates, timezone, capabilities
		FROM booking_rules
		WHERE tenant_id = $1
	`, tenantID).Scan(
		&rule.LeadTimeMinutes,
		&rule.GranularityMinutes,
		&rule.MaxBookingsPerDay,
		&blackouts,
		&rule.Timezone,
		&rule.Capabilities,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultRule(tenantID), nil
	}
	if err != nil {
		return model.BookingRule{}, err
	}
	for _, d := range blackouts {
		rule.BlackoutDates = append(rule.BlackoutDates, civil.DateOf(d))
	}
	return rule, nil
}

func (s *PostgresStore) PutRule(ctx context.Context, rule model.BookingRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	blackouts := make([]time.Time, 0, len(rule.BlackoutDates))
	for _, d := range rule.BlackoutDates {
		blackouts = append(blackouts, d.In(time.UTC))
	}
	caps := rule.Capabilities
	if caps == nil {
		caps = map[string]bool{}
	}
	tz := rule.Timezone
	if tz == "" {
		tz = model.DefaultTimezone
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO booking_rules
			(tenant_id, lead_time_minutes, granularity_minutes, max_bookings_per_day, blackout_dates, timezone, capabilities)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO UPDATE
		SET lead_time_minutes = EXCLUDED.lead_time_minutes,
			granularity_minutes = EXCLUDED.granularity_minutes,
			max_bookings_per_day = EXCLUDED.max_bookings_per_day,
			blackout_dates = EXCLUDED.blackout_dates,
			timezone = EXCLUDED.timezone,
			capabilities = EXCLUDED.capabilities,
			updated_at = now()
	`, rule.TenantID, rule.LeadTimeMinutes, rule.GranularityMinutes, rule.MaxBookingsPerDay, blackouts, tz, caps)
	return err
}

func (s *PostgresStore) Windows(ctx context.Context, tenantID string) ([]model.AvailabilityWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, tenant_id, weekday, start_minute, end_minute, COALESCE(resource_id, '')
		FROM availability_windows
		WHERE tenant_id = $1
		ORDER BY weekday, start_minute
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityWindow
	for rows.Next() {
		var w model.AvailabilityWindow
		var weekday int
		if err := rows.Scan(&w.ID, &w.TenantID, &weekday, &w.StartMinute, &w.EndMinute, &w.ResourceID); err != nil {
			return nil, err
		}
		w.Weekday = time.Weekday(weekday)
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *PostgresStore) AddWindow(ctx context.Context, w model.AvailabilityWindow) (model.AvailabilityWindow, error) {
	if err := ValidateWindow(w); err != nil {
		return model.AvailabilityWindow{}, err
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	var resource *string
	if w.ResourceID != model.AnyResource {
		resource = &w.ResourceID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO availability_windows (id, tenant_id, weekday, start_minute, end_minute, resource_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, w.ID, w.TenantID, int(w.Weekday), w.StartMinute, w.EndMinute, resource)
	if err != nil {
		return model.AvailabilityWindow{}, err
	}
	return w, nil
}

func (s *PostgresStore) DeleteWindow(ctx context.Context, tenantID, windowID string) error {
	if _, err := uuid.Parse(windowID); err != nil {
		return ErrWindowNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM availability_windows
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, windowID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWindowNotFound
	}
	return nil
}

func (s *PostgresStore) Service(ctx context.Context, tenantID, serviceID string) (model.Service, error) {
	svc := model.Service{TenantID: tenantID}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes
		FROM services
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, serviceID).Scan(&svc.ID, &svc.Name, &svc.DurationMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, ErrServiceNotFound
	}
	if err != nil {
		return model.Service{}, err
	}
	return svc, nil
}

func (s *PostgresStore) PutService(ctx context.Context, svc model.Service) error {
	if err := ValidateService(svc); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO services (tenant_id, id, name, duration_minutes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET name = EXCLUDED.name,
			duration_minutes = EXCLUDED.duration_minutes,
			updated_at = now()
	`, svc.TenantID, svc.ID, svc.Name, svc.DurationMinutes)
	return err
}
