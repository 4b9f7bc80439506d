package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/bookwell/libs/db"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
)

// PostgresStore serializes keys with transaction-scoped advisory locks and
// relies on the appointments_no_overlap exclusion constraint as a backstop.
type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const appointmentColumns = `
	id::text, tenant_id, resource_id, service_id,
	customer_id, customer_name, customer_phone, customer_email,
	scheduled_date, start_minute, duration_minutes, status,
	notes, cancel_reason, created_at, updated_at, cancelled_at, completed_at`

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.pool.InTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

func (s *PostgresStore) ListActive(ctx context.Context, key model.SlotKey) ([]model.Appointment, error) {
	return listActive(ctx, s.pool, key, false)
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	return getAppointment(ctx, s.pool, tenantID, id, false)
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]model.Appointment, error) {
	sql := `SELECT ` + appointmentColumns + ` FROM appointments WHERE tenant_id = $1`
	args := []any{f.TenantID}
	if f.ResourceID != nil {
		args = append(args, *f.ResourceID)
		sql += fmt.Sprintf(" AND resource_id = $%d", len(args))
	}
	if f.From.IsValid() {
		args = append(args, f.From.In(time.UTC))
		sql += fmt.Sprintf(" AND scheduled_date >= $%d", len(args))
	}
	if f.To.IsValid() {
		args = append(args, f.To.In(time.UTC))
		sql += fmt.Sprintf(" AND scheduled_date <= $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		sql += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, f.limit())
	sql += fmt.Sprintf(" ORDER BY scheduled_date, start_minute, id LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Lock(ctx context.Context, names ...string) error {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	for _, name := range slices.Compact(sorted) {
		if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, name); err != nil {
			return fmt.Errorf("advisory lock %s: %w", name, err)
		}
	}
	return nil
}

func (t *pgTx) ListActive(ctx context.Context, key model.SlotKey) ([]model.Appointment, error) {
	return listActive(ctx, t.tx, key, true)
}

func (t *pgTx) GetForUpdate(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	return getAppointment(ctx, t.tx, tenantID, id, true)
}

func (t *pgTx) Insert(ctx context.Context, appt *model.Appointment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(tenant_id, resource_id, service_id, customer_id, customer_name, customer_phone, customer_email,
			 scheduled_date, start_minute, duration_minutes, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id::text, created_at, updated_at
	`, appt.TenantID, appt.ResourceID, appt.ServiceID,
		appt.Customer.ID, appt.Customer.Name, appt.Customer.Phone, appt.Customer.Email,
		appt.Date.In(time.UTC), appt.StartMinute, appt.DurationMinutes, string(appt.Status), appt.Notes,
	).Scan(&appt.ID, &appt.CreatedAt, &appt.UpdatedAt)
	if IsConflict(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (t *pgTx) Update(ctx context.Context, appt *model.Appointment) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_date = $3,
			start_minute = $4,
			duration_minutes = $5,
			status = $6,
			notes = $7,
			cancel_reason = $8,
			cancelled_at = $9,
			completed_at = $10,
			updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at
	`, appt.TenantID, appt.ID, appt.Date.In(time.UTC), appt.StartMinute, appt.DurationMinutes,
		string(appt.Status), appt.Notes, appt.CancelReason, appt.CancelledAt, appt.CompletedAt,
	).Scan(&appt.UpdatedAt)
	switch {
	case IsNotFound(err):
		return ErrNotFound
	case IsConflict(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (t *pgTx) LookupIdempotency(ctx context.Context, tenantID, key string) (string, bool, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		SELECT appointment_id::text
		FROM booking_idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key).Scan(&id)
	if IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (t *pgTx) SaveIdempotency(ctx context.Context, tenantID, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (tenant_id, idempotency_key, appointment_id)
		VALUES ($1, $2, $3)
	`, tenantID, key, appointmentID)
	return err
}

func listActive(ctx context.Context, q queryer, key model.SlotKey, forUpdate bool) ([]model.Appointment, error) {
	sql := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE tenant_id = $1
			AND resource_id = $2
			AND scheduled_date = $3
			AND status <> 'cancelled'
		ORDER BY start_minute ASC`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, key.TenantID, key.ResourceID, key.Date.In(time.UTC))
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func getAppointment(ctx context.Context, q queryer, tenantID, id string, forUpdate bool) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, ErrNotFound
	}
	sql := `SELECT ` + appointmentColumns + ` FROM appointments WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	appt, err := scanAppointment(q.QueryRow(ctx, sql, tenantID, id))
	if IsNotFound(err) {
		return model.Appointment{}, ErrNotFound
	}
	return appt, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row scanner) (model.Appointment, error) {
	var a model.Appointment
	var date time.Time
	var status string
	err := row.Scan(
		&a.ID, &a.TenantID, &a.ResourceID, &a.ServiceID,
		&a.Customer.ID, &a.Customer.Name, &a.Customer.Phone, &a.Customer.Email,
		&date, &a.StartMinute, &a.DurationMinutes, &status,
		&a.Notes, &a.CancelReason, &a.CreatedAt, &a.UpdatedAt, &a.CancelledAt, &a.CompletedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Date = civil.DateOf(date)
	a.Status = model.Status(status)
	return a, nil
}

func collect(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// IsConflict matches exclusion (23P01) and unique (23505) violations.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

// IsRetryable matches serialization failures and deadlocks, which are safe to
// retry from the top of the transaction.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
