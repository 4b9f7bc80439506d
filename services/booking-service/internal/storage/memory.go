package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
)

// MemoryStore keeps appointments in process. It honours the same contract as
// PostgresStore: per-key locks, atomic commit, and an overlap guard at commit
// time that mirrors the database exclusion constraint.
type MemoryStore struct {
	mu    sync.RWMutex
	appts map[string]model.Appointment
	idem  map[string]string
	locks *KeyedMutex
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appts: map[string]model.Appointment{},
		idem:  map[string]string{},
		locks: NewKeyedMutex(),
		now:   time.Now,
	}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{store: s, writes: map[string]model.Appointment{}, idem: map[string]string{}}
	defer tx.releaseLocks()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.apply(tx)
}

func (s *MemoryStore) apply(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range tx.writes {
		if w.Status == model.StatusCancelled {
			continue
		}
		for id, existing := range s.appts {
			if id == w.ID || existing.Status == model.StatusCancelled || existing.Key() != w.Key() {
				continue
			}
			if _, rewritten := tx.writes[id]; rewritten {
				continue
			}
			if overlaps(existing, w) {
				return ErrConflict
			}
		}
	}
	for id, w := range tx.writes {
		s.appts[id] = w
	}
	for k, v := range tx.idem {
		s.idem[k] = v
	}
	return nil
}

func (s *MemoryStore) ListActive(_ context.Context, key model.SlotKey) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked(key, nil), nil
}

func (s *MemoryStore) activeLocked(key model.SlotKey, overlay map[string]model.Appointment) []model.Appointment {
	var out []model.Appointment
	for id, a := range s.appts {
		if w, ok := overlay[id]; ok {
			a = w
		}
		if a.Status != model.StatusCancelled && a.Key() == key {
			out = append(out, a)
		}
	}
	for id, w := range overlay {
		if _, seen := s.appts[id]; seen {
			continue
		}
		if w.Status != model.StatusCancelled && w.Key() == key {
			out = append(out, w)
		}
	}
	sortByStart(out)
	return out
}

func (s *MemoryStore) Get(_ context.Context, tenantID, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appts[id]
	if !ok || a.TenantID != tenantID {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if f.matches(a) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}

type memTx struct {
	store  *MemoryStore
	held   []string
	writes map[string]model.Appointment
	idem   map[string]string
}

func (t *memTx) Lock(ctx context.Context, names ...string) error {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	for _, name := range sorted {
		if slices.Contains(t.held, name) {
			continue
		}
		if err := t.store.locks.Lock(ctx, name); err != nil {
			return err
		}
		t.held = append(t.held, name)
	}
	return nil
}

func (t *memTx) releaseLocks() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.store.locks.Unlock(t.held[i])
	}
	t.held = nil
}

func (t *memTx) ListActive(_ context.Context, key model.SlotKey) ([]model.Appointment, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.activeLocked(key, t.writes), nil
}

func (t *memTx) GetForUpdate(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	if w, ok := t.writes[id]; ok && w.TenantID == tenantID {
		return w, nil
	}
	return t.store.Get(ctx, tenantID, id)
}

func (t *memTx) Insert(_ context.Context, appt *model.Appointment) error {
	now := t.store.now().UTC()
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	appt.CreatedAt = now
	appt.UpdatedAt = now
	t.writes[appt.ID] = *appt
	return nil
}

func (t *memTx) Update(ctx context.Context, appt *model.Appointment) error {
	if _, err := t.GetForUpdate(ctx, appt.TenantID, appt.ID); err != nil {
		return err
	}
	appt.UpdatedAt = t.store.now().UTC()
	t.writes[appt.ID] = *appt
	return nil
}

func (t *memTx) LookupIdempotency(_ context.Context, tenantID, key string) (string, bool, error) {
	k := tenantID + "/" + key
	if id, ok := t.idem[k]; ok {
		return id, true, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	id, ok := t.store.idem[k]
	return id, ok, nil
}

func (t *memTx) SaveIdempotency(_ context.Context, tenantID, key, appointmentID string) error {
	t.idem[tenantID+"/"+key] = appointmentID
	return nil
}

func overlaps(a, b model.Appointment) bool {
	return a.StartMinute < b.EndMinute() && b.StartMinute < a.EndMinute()
}

func sortByStart(in []model.Appointment) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].Date != in[j].Date {
			return in[i].Date.Before(in[j].Date)
		}
		if in[i].StartMinute != in[j].StartMinute {
			return in[i].StartMinute < in[j].StartMinute
		}
		return in[i].ID < in[j].ID
	})
}
