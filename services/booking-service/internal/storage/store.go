package storage

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
)

var (
	ErrNotFound = errors.New("appointment not found")
	// ErrConflict is raised by the storage-level overlap guard, independent of
	// any lock the caller holds.
	ErrConflict = errors.New("appointment overlaps an existing booking")
)

// Store persists appointments. Reads outside a transaction never lock.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ListActive(ctx context.Context, key model.SlotKey) ([]model.Appointment, error)
	Get(ctx context.Context, tenantID, id string) (model.Appointment, error)
	List(ctx context.Context, f ListFilter) ([]model.Appointment, error)
}

// Tx is a unit of work. Locks taken with Lock are held until the transaction
// commits or rolls back.
type Tx interface {
	// Lock acquires exclusive locks on the named keys, in sorted order.
	Lock(ctx context.Context, names ...string) error
	ListActive(ctx context.Context, key model.SlotKey) ([]model.Appointment, error)
	GetForUpdate(ctx context.Context, tenantID, id string) (model.Appointment, error)
	Insert(ctx context.Context, appt *model.Appointment) error
	Update(ctx context.Context, appt *model.Appointment) error
	LookupIdempotency(ctx context.Context, tenantID, key string) (string, bool, error)
	SaveIdempotency(ctx context.Context, tenantID, key, appointmentID string) error
}

type ListFilter struct {
	TenantID   string
	ResourceID *string
	From       civil.Date
	To         civil.Date
	Status     model.Status
	Limit      int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	if f.Limit > maxListLimit {
		return maxListLimit
	}
	return f.Limit
}

func (f ListFilter) matches(a model.Appointment) bool {
	if a.TenantID != f.TenantID {
		return false
	}
	if f.ResourceID != nil && a.ResourceID != *f.ResourceID {
		return false
	}
	if f.From.IsValid() && a.Date.Before(f.From) {
		return false
	}
	if f.To.IsValid() && a.Date.After(f.To) {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return true
}
